// Package connector defines the tick source boundary. Sources are pluggable;
// the collector only sees RawTick values.
package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// RawTick is what any source yields. Only SKU and OurPrice are required.
type RawTick struct {
	SKU             string           `json:"sku"`
	OurPrice        *decimal.Decimal `json:"our_price"`
	CompetitorPrice *decimal.Decimal `json:"competitor_price,omitempty"`
	DemandIndex     *float64         `json:"demand_index,omitempty"`
	Market          string           `json:"market,omitempty"`
	Source          string           `json:"source,omitempty"`
	TS              *time.Time       `json:"ts,omitempty"`
}

// Target narrows one fetch. URL is empty when the source has its own endpoint.
type Target struct {
	SKU            string
	Market         string
	URL            string
	Depth          int
	HorizonMinutes int
}

type TickSource interface {
	Name() string
	Fetch(ctx context.Context, target Target) ([]RawTick, error)
}

type HealthStatus struct {
	Status     string     `json:"status"`
	LastPollAt *time.Time `json:"last_poll_at,omitempty"`
	LastError  *string    `json:"last_error,omitempty"`
}

// HealthReporter is implemented by sources that track their last fetch.
type HealthReporter interface {
	Health() HealthStatus
}

type Registry struct {
	mu      sync.RWMutex
	sources map[string]TickSource
}

func NewRegistry(sources ...TickSource) *Registry {
	r := &Registry{sources: map[string]TickSource{}}
	for _, s := range sources {
		r.Register(s)
	}
	return r
}

func (r *Registry) Register(s TickSource) {
	if r == nil || s == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[strings.ToLower(s.Name())] = s
}

func (r *Registry) Get(name string) (TickSource, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[strings.ToLower(strings.TrimSpace(name))]
	return s, ok
}

func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.sources))
	for name := range r.sources {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Health collects the status of every source that reports one.
func (r *Registry) Health() map[string]HealthStatus {
	out := map[string]HealthStatus{}
	if r == nil {
		return out
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, s := range r.sources {
		if hr, ok := s.(HealthReporter); ok {
			out[name] = hr.Health()
		}
	}
	return out
}

// DecodeTicks accepts a JSON array of ticks, an object with a "ticks" array,
// or a single tick object.
func DecodeTicks(raw []byte) ([]RawTick, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}
	switch raw[0] {
	case '[':
		var items []RawTick
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("decode ticks: %w", err)
		}
		return items, nil
	case '{':
		var env struct {
			Ticks []RawTick `json:"ticks"`
		}
		if err := json.Unmarshal(raw, &env); err == nil && env.Ticks != nil {
			return env.Ticks, nil
		}
		var item RawTick
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, fmt.Errorf("decode tick: %w", err)
		}
		return []RawTick{item}, nil
	default:
		return nil, fmt.Errorf("decode ticks: unexpected payload")
	}
}

// Shape fills SKU, market and source defaults from the target and applies the
// depth and horizon limits. Ticks for another SKU are kept as-is.
func Shape(items []RawTick, target Target, source string, now time.Time) []RawTick {
	out := make([]RawTick, 0, len(items))
	var cutoff time.Time
	if target.HorizonMinutes > 0 {
		cutoff = now.Add(-time.Duration(target.HorizonMinutes) * time.Minute)
	}
	for _, it := range items {
		if strings.TrimSpace(it.SKU) == "" {
			it.SKU = target.SKU
		}
		if strings.TrimSpace(it.Market) == "" {
			it.Market = target.Market
		}
		if strings.TrimSpace(it.Source) == "" {
			it.Source = source
		}
		if !cutoff.IsZero() && it.TS != nil && it.TS.Before(cutoff) {
			continue
		}
		out = append(out, it)
		if target.Depth > 0 && len(out) >= target.Depth {
			break
		}
	}
	return out
}

type healthTracker struct {
	mu        sync.Mutex
	lastPoll  *time.Time
	lastError *string
	status    string
}

func (h *healthTracker) set(ts time.Time, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastPoll = &ts
	if err != nil {
		msg := err.Error()
		h.status = "down"
		h.lastError = &msg
		return
	}
	h.status = "healthy"
	h.lastError = nil
}

func (h *healthTracker) Health() HealthStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	status := h.status
	if status == "" {
		status = "unknown"
	}
	return HealthStatus{Status: status, LastPollAt: h.lastPoll, LastError: h.lastError}
}
