// Package worker runs bus hand-offs on a fixed set of goroutines fed by a
// bounded queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"pricegov/internal/metrics"
)

var ErrQueueClosed = errors.New("worker: queue closed")

// Task is one unit of work. The context is the pool's own, so a task keeps
// running after the submitter's request has gone away.
type Task func(ctx context.Context)

type job struct {
	name string
	fn   Task
}

type Pool struct {
	size   int
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
	queue  chan job
	wg     sync.WaitGroup
}

// New starts size workers reading from a queue of queueSize pending tasks.
func New(size, queueSize int, logger *zap.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		size:   size,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		queue:  make(chan job, queueSize),
	}
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p
}

// Submit enqueues fn. It blocks while the queue is full and gives up when ctx
// is done.
func (p *Pool) Submit(ctx context.Context, name string, fn Task) error {
	if p == nil || fn == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrQueueClosed
	}
	select {
	case p.queue <- job{name: name, fn: fn}:
		metrics.WorkerQueueDepth.Set(float64(len(p.queue)))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("submit %s: %w", name, ctx.Err())
	}
}

// Pending returns the number of queued tasks not yet picked up.
func (p *Pool) Pending() int {
	if p == nil {
		return 0
	}
	return len(p.queue)
}

// Stop refuses new work, lets the workers drain what is already queued and
// waits for them.
func (p *Pool) Stop() {
	if p == nil {
		return
	}
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	p.wg.Wait()
	p.cancel()
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	p.logger.Debug("worker started", zap.Int("worker_id", id))
	defer p.logger.Debug("worker stopped", zap.Int("worker_id", id))

	for j := range p.queue {
		metrics.WorkerQueueDepth.Set(float64(len(p.queue)))
		p.run(id, j)
	}
}

func (p *Pool) run(id int, j job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker task panicked",
				zap.Int("worker_id", id),
				zap.String("task", j.name),
				zap.Any("panic", r),
			)
		}
	}()
	j.fn(p.ctx)
}
