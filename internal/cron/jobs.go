package cronrunner

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pricegov/internal/config"
	"pricegov/internal/protocol"
)

type Publisher interface {
	Publish(ctx context.Context, msg protocol.Message) error
}

type Proposer interface {
	Propose(ctx context.Context, sku, algorithm string) (protocol.PriceProposal, error)
}

// FetchJob publishes one market.fetch.request per configured SKU with a fresh
// request_id.
func FetchJob(pub Publisher, cfg config.MarketDataConfig, logger *zap.Logger) func(context.Context) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context) {
		for _, sku := range cfg.SKUs {
			sku = strings.TrimSpace(sku)
			if sku == "" {
				continue
			}
			req := protocol.FetchRequest{
				RequestID:      uuid.NewString(),
				SKU:            sku,
				Market:         cfg.Market,
				Sources:        append([]string{}, cfg.Sources...),
				URLs:           cfg.URLs,
				Depth:          cfg.Depth,
				HorizonMinutes: cfg.HorizonMinutes,
			}
			if err := pub.Publish(ctx, req); err != nil {
				logger.Warn("cron fetch: publish failed", zap.String("sku", sku), zap.Error(err))
			}
		}
	}
}

// OptimizeJob runs the optimizer once per SKU with the default algorithm.
func OptimizeJob(o Proposer, skus []string, logger *zap.Logger) func(context.Context) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context) {
		for _, sku := range skus {
			sku = strings.TrimSpace(sku)
			if sku == "" {
				continue
			}
			if _, err := o.Propose(ctx, sku, ""); err != nil {
				logger.Warn("cron optimize: no proposal", zap.String("sku", sku), zap.Error(err))
			}
		}
	}
}
