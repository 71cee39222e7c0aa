package connector

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// HTTPSource polls a JSON endpoint once per fetch. Endpoint may contain a
// {sku} placeholder; a URL on the target overrides it.
type HTTPSource struct {
	HTTP     *http.Client
	Logger   *zap.Logger
	Endpoint string

	healthTracker
}

func (s *HTTPSource) Name() string { return "http" }

func (s *HTTPSource) Fetch(ctx context.Context, target Target) ([]RawTick, error) {
	if s == nil {
		return nil, nil
	}
	if s.HTTP == nil {
		s.HTTP = &http.Client{Timeout: 10 * time.Second}
	}
	endpoint := strings.TrimSpace(target.URL)
	if endpoint == "" {
		endpoint = strings.ReplaceAll(strings.TrimSpace(s.Endpoint), "{sku}", url.PathEscape(target.SKU))
	}
	if endpoint == "" {
		err := fmt.Errorf("http source: missing endpoint")
		s.set(time.Now().UTC(), err)
		return nil, err
	}

	items, err := s.get(ctx, endpoint)
	now := time.Now().UTC()
	s.set(now, err)
	if err != nil {
		return nil, err
	}
	if s.Logger != nil {
		s.Logger.Debug("http source fetched", zap.String("endpoint", endpoint), zap.Int("ticks", len(items)))
	}
	return Shape(items, target, s.Name(), now), nil
}

func (s *HTTPSource) get(ctx context.Context, endpoint string) ([]RawTick, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("http source: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	return DecodeTicks(raw)
}
