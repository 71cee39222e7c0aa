package dedup

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"pricegov/internal/config"
)

func TestMemoryStoreFirstSightWins(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	var wins int64
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := s.Mark(ctx, "req-1"); ok {
				atomic.AddInt64(&wins, 1)
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("wins=%d want=1", wins)
	}
	if ok, _ := s.Mark(ctx, "req-2"); !ok {
		t.Fatalf("distinct id must be new")
	}
	if s.Len() != 2 {
		t.Fatalf("len=%d want=2", s.Len())
	}
}

func TestMemoryStoreForgetReleasesID(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if ok, _ := s.Mark(ctx, "req-1"); !ok {
		t.Fatalf("first mark must win")
	}
	if err := s.Forget(ctx, "req-1"); err != nil {
		t.Fatalf("forget err=%v", err)
	}
	if ok, _ := s.Mark(ctx, "req-1"); !ok {
		t.Fatalf("forgotten id must be claimable again")
	}
	if ok, _ := s.Mark(ctx, "req-1"); ok {
		t.Fatalf("second mark after reclaim must lose")
	}
}

func TestNewBackends(t *testing.T) {
	if _, err := New(config.DedupConfig{}); err != nil {
		t.Fatalf("default backend err=%v", err)
	}
	st, err := New(config.DedupConfig{Backend: "redis", RedisAddr: "127.0.0.1:0", KeyPrefix: "x:"})
	if err != nil {
		t.Fatalf("redis backend err=%v", err)
	}
	if _, ok := st.(*RedisStore); !ok {
		t.Fatalf("type=%T", st)
	}
	if _, err := New(config.DedupConfig{Backend: "etcd"}); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("PG_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("PG_TEST_REDIS_ADDR not set")
	}
	s := NewRedisStore(&redis.Options{Addr: addr}, "pricegov:test:"+uuid.NewString()+":")
	defer s.Close()
	ctx := context.Background()
	ok, err := s.Mark(ctx, "r1")
	if err != nil || !ok {
		t.Fatalf("first mark ok=%v err=%v", ok, err)
	}
	ok, err = s.Mark(ctx, "r1")
	if err != nil || ok {
		t.Fatalf("second mark ok=%v err=%v", ok, err)
	}
	if err := s.Forget(ctx, "r1"); err != nil {
		t.Fatalf("forget err=%v", err)
	}
	ok, err = s.Mark(ctx, "r1")
	if err != nil || !ok {
		t.Fatalf("mark after forget ok=%v err=%v", ok, err)
	}
}
