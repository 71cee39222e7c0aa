package connector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// WebSocketSource dials a stream and collects ticks until Depth is reached or
// ReadTimeout passes without reaching it, whichever is first.
type WebSocketSource struct {
	Logger      *zap.Logger
	URL         string
	ReadTimeout time.Duration

	healthTracker
}

func (s *WebSocketSource) Name() string { return "websocket" }

func (s *WebSocketSource) Fetch(ctx context.Context, target Target) ([]RawTick, error) {
	if s == nil {
		return nil, nil
	}
	endpoint := strings.TrimSpace(target.URL)
	if endpoint == "" {
		endpoint = strings.TrimSpace(s.URL)
	}
	if endpoint == "" {
		err := fmt.Errorf("websocket source: missing url")
		s.set(time.Now().UTC(), err)
		return nil, err
	}
	timeout := s.ReadTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	want := target.Depth
	if want <= 0 {
		want = 1
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, endpoint, nil)
	if err != nil {
		s.set(time.Now().UTC(), err)
		return nil, err
	}
	defer func() {
		_ = conn.Close(websocket.StatusNormalClosure, "done")
	}()

	var collected []RawTick
	for len(collected) < want {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if len(collected) > 0 && (errors.Is(err, context.DeadlineExceeded) || websocket.CloseStatus(err) == websocket.StatusNormalClosure) {
				break
			}
			s.set(time.Now().UTC(), err)
			return nil, err
		}
		items, err := DecodeTicks(msg)
		if err != nil {
			if s.Logger != nil {
				s.Logger.Debug("websocket source: skip frame", zap.Error(err))
			}
			continue
		}
		collected = append(collected, items...)
	}
	now := time.Now().UTC()
	s.set(now, nil)
	return Shape(collected, target, s.Name(), now), nil
}
