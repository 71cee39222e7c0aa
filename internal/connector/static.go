package connector

import (
	"context"
	"sync"
	"time"
)

// StaticSource replays a fixed set of ticks. It backs the "static" source name
// and doubles as a test fixture.
type StaticSource struct {
	SourceName string
	Err        error

	mu    sync.Mutex
	ticks map[string][]RawTick
	calls int
}

func NewStaticSource(name string) *StaticSource {
	if name == "" {
		name = "static"
	}
	return &StaticSource{SourceName: name, ticks: map[string][]RawTick{}}
}

func (s *StaticSource) Name() string { return s.SourceName }

// Add registers ticks returned for target key (the URL when set, else the SKU).
func (s *StaticSource) Add(key string, ticks ...RawTick) *StaticSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks[key] = append(s.ticks[key], ticks...)
	return s
}

func (s *StaticSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *StaticSource) Fetch(_ context.Context, target Target) ([]RawTick, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.Err != nil {
		return nil, s.Err
	}
	key := target.URL
	if key == "" {
		key = target.SKU
	}
	items := append([]RawTick(nil), s.ticks[key]...)
	return Shape(items, target, s.SourceName, time.Now().UTC()), nil
}
