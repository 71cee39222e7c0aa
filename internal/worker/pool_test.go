package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolRunsAllTasks(t *testing.T) {
	p := New(3, 8, nil)
	var n int64
	for i := 0; i < 50; i++ {
		if err := p.Submit(context.Background(), "inc", func(ctx context.Context) {
			atomic.AddInt64(&n, 1)
		}); err != nil {
			t.Fatalf("submit err=%v", err)
		}
	}
	p.Stop()
	if got := atomic.LoadInt64(&n); got != 50 {
		t.Fatalf("ran=%d want=50", got)
	}
}

func TestPoolSubmitAfterStop(t *testing.T) {
	p := New(1, 1, nil)
	p.Stop()
	err := p.Submit(context.Background(), "late", func(ctx context.Context) {})
	if !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("err=%v want=%v", err, ErrQueueClosed)
	}
	p.Stop()
}

func TestPoolSubmitHonorsContextWhenFull(t *testing.T) {
	p := New(1, 0, nil)
	release := make(chan struct{})
	started := make(chan struct{})
	if err := p.Submit(context.Background(), "block", func(ctx context.Context) {
		close(started)
		<-release
	}); err != nil {
		t.Fatalf("submit err=%v", err)
	}
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Submit(ctx, "overflow", func(ctx context.Context) {})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v want deadline exceeded", err)
	}
	close(release)
	p.Stop()
}

func TestPoolSurvivesPanickingTask(t *testing.T) {
	p := New(1, 4, nil)
	var wg sync.WaitGroup
	wg.Add(1)
	_ = p.Submit(context.Background(), "panic", func(ctx context.Context) { panic("boom") })
	_ = p.Submit(context.Background(), "after", func(ctx context.Context) { wg.Done() })
	wg.Wait()
	p.Stop()
}

func TestTaskContextOutlivesSubmitter(t *testing.T) {
	p := New(1, 1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan error, 1)
	_ = p.Submit(ctx, "detached", func(taskCtx context.Context) {
		time.Sleep(5 * time.Millisecond)
		got <- taskCtx.Err()
	})
	cancel()
	if err := <-got; err != nil {
		t.Fatalf("task ctx err=%v want=nil", err)
	}
	p.Stop()
}
