package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"pricegov/internal/protocol"
)

// Entry is one journaled event.
type Entry struct {
	TS      time.Time      `json:"ts"`
	Topic   protocol.Topic `json:"topic"`
	Payload map[string]any `json:"payload"`
}

// Journal is the append-only audit trail of every delivered event.
type Journal interface {
	Append(ctx context.Context, e Entry) error
}

type NopJournal struct{}

func (NopJournal) Append(context.Context, Entry) error { return nil }

// FileJournal appends entries as JSON lines.
type FileJournal struct {
	mu  sync.Mutex
	f   *os.File
	enc *json.Encoder
}

func OpenFileJournal(path string) (*FileJournal, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &FileJournal{f: f, enc: json.NewEncoder(f)}, nil
}

func (j *FileJournal) Append(_ context.Context, e Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return os.ErrClosed
	}
	return j.enc.Encode(e)
}

func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return nil
	}
	err := j.f.Close()
	j.f = nil
	return err
}
