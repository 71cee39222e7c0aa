package connector

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pricegov/internal/config"
)

// FromConfig registers every enabled source.
func FromConfig(cfg config.ConnectorsConfig, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := NewRegistry()
	if cfg.HTTP.Enabled {
		reg.Register(&HTTPSource{
			HTTP:     &http.Client{Timeout: cfg.HTTP.Timeout},
			Logger:   logger.With(zap.String("source", "http")),
			Endpoint: cfg.HTTP.Endpoint,
		})
	}
	if cfg.WebSocket.Enabled {
		reg.Register(&WebSocketSource{
			Logger:      logger.With(zap.String("source", "websocket")),
			URL:         cfg.WebSocket.URL,
			ReadTimeout: cfg.WebSocket.ReadTimeout,
		})
	}
	if cfg.Static.Enabled {
		src := NewStaticSource("static")
		for i, t := range cfg.Static.Ticks {
			raw, err := staticTick(t)
			if err != nil {
				return nil, fmt.Errorf("connectors.static.ticks[%d]: %w", i, err)
			}
			key := strings.TrimSpace(t.URL)
			if key == "" {
				key = raw.SKU
			}
			src.Add(key, raw)
		}
		reg.Register(src)
	}
	return reg, nil
}

func staticTick(t config.StaticTick) (RawTick, error) {
	sku := strings.TrimSpace(t.SKU)
	if sku == "" {
		return RawTick{}, fmt.Errorf("sku is required")
	}
	our, err := decimal.NewFromString(strings.TrimSpace(t.OurPrice))
	if err != nil {
		return RawTick{}, fmt.Errorf("our_price: %w", err)
	}
	raw := RawTick{SKU: sku, OurPrice: &our, DemandIndex: t.DemandIndex}
	if v := strings.TrimSpace(t.CompetitorPrice); v != "" {
		comp, err := decimal.NewFromString(v)
		if err != nil {
			return RawTick{}, fmt.Errorf("competitor_price: %w", err)
		}
		raw.CompetitorPrice = &comp
	}
	return raw, nil
}
