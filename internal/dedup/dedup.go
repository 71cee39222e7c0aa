// Package dedup remembers fetch request IDs so a request delivered twice only
// starts one ingestion job. IDs are kept for the life of the store.
package dedup

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"pricegov/internal/config"
)

// Store reports whether an ID is seen for the first time. Mark must be atomic:
// of any number of concurrent calls with the same ID exactly one gets true.
// Forget releases an ID whose work never got started so a redelivery can
// claim it again.
type Store interface {
	Mark(ctx context.Context, id string) (bool, error)
	Forget(ctx context.Context, id string) error
}

type MemoryStore struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seen: map[string]struct{}{}}
}

func (s *MemoryStore) Mark(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[id]; ok {
		return false, nil
	}
	s.seen[id] = struct{}{}
	return true, nil
}

func (s *MemoryStore) Forget(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seen, id)
	return nil
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// RedisStore shares seen IDs across restarts and processes pointed at the same
// Redis. Keys are written without expiry.
type RedisStore struct {
	Client *redis.Client
	Prefix string
}

func NewRedisStore(opt *redis.Options, prefix string) *RedisStore {
	return &RedisStore{Client: redis.NewClient(opt), Prefix: prefix}
}

func (s *RedisStore) Mark(ctx context.Context, id string) (bool, error) {
	ok, err := s.Client.SetNX(ctx, s.Prefix+id, 1, 0).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

func (s *RedisStore) Forget(ctx context.Context, id string) error {
	if err := s.Client.Del(ctx, s.Prefix+id).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	if s == nil || s.Client == nil {
		return nil
	}
	return s.Client.Close()
}

// New builds the store selected by cfg.Backend.
func New(cfg config.DedupConfig) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "memory":
		return NewMemoryStore(), nil
	case "redis":
		return NewRedisStore(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB}, cfg.KeyPrefix), nil
	default:
		return nil, fmt.Errorf("unknown dedup backend %q", cfg.Backend)
	}
}
