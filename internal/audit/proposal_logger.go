// Package audit keeps a verbatim copy of every price proposal, independent of
// what governance decides about it.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"pricegov/internal/bus"
	"pricegov/internal/models"
	"pricegov/internal/protocol"
	"pricegov/internal/repository"
	"pricegov/internal/worker"
)

var ErrIncompleteProposal = errors.New("proposal missing product_id")

type Submitter interface {
	Submit(ctx context.Context, name string, fn worker.Task) error
}

type ProposalLogger struct {
	Repo   repository.ProposalRepository
	Pool   Submitter
	Logger *zap.Logger

	Now func() time.Time
}

// Attach registers the logger as its own price.proposal subscriber so a slow
// audit write never delays governance.
func (l *ProposalLogger) Attach(b *bus.Bus) {
	if l == nil || b == nil {
		return
	}
	b.Subscribe(protocol.TopicPriceProposal, func(ctx context.Context, msg protocol.Message) error {
		p, ok := msg.(protocol.PriceProposal)
		if !ok {
			return fmt.Errorf("unexpected message %T", msg)
		}
		if l.Pool == nil {
			l.record(ctx, p)
			return nil
		}
		return l.Pool.Submit(ctx, "audit:"+p.ProposalID, func(taskCtx context.Context) {
			l.record(taskCtx, p)
		})
	})
}

// Log persists one typed proposal.
func (l *ProposalLogger) Log(ctx context.Context, p protocol.PriceProposal) error {
	if l == nil || l.Repo == nil {
		return nil
	}
	// Non-positive prices are still recorded; governance is what rejects them.
	if strings.TrimSpace(p.ProductID) == "" {
		return ErrIncompleteProposal
	}
	payload, err := protocol.ToPayload(p)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	ts := p.TS
	if ts.IsZero() {
		ts = l.now()
	}
	item := &models.PriceProposalRecord{
		ProposalID:    p.ProposalID,
		SKU:           strings.TrimSpace(p.ProductID),
		ProposedPrice: p.ProposedPrice,
		CurrentPrice:  p.PreviousPrice,
		Margin:        p.Margin,
		Algorithm:     p.Algorithm,
		TS:            ts,
		Payload:       datatypes.JSON(raw),
	}
	if err := l.Repo.InsertProposalRecord(ctx, item); err != nil {
		return fmt.Errorf("insert proposal record: %w", err)
	}
	return nil
}

// LogRaw accepts an untyped proposal from outside the bus. Synonym keys such
// as sku or new_price are resolved before the typed copy is stored.
func (l *ProposalLogger) LogRaw(ctx context.Context, payload map[string]any) error {
	normalized := protocol.NormalizeProposal(payload)
	if _, ok := normalized["proposal_id"]; !ok {
		normalized["proposal_id"] = ""
	}
	if _, ok := normalized["previous_price"]; !ok {
		normalized["previous_price"] = nil
	}
	msg, err := protocol.Decode(protocol.TopicPriceProposal, normalized)
	if err != nil {
		l.logger().Warn("audit: proposal dropped", zap.Error(err))
		return nil
	}
	p := msg.(protocol.PriceProposal)
	if err := l.Log(ctx, p); err != nil {
		if errors.Is(err, ErrIncompleteProposal) {
			l.logger().Warn("audit: proposal dropped", zap.Error(err))
			return nil
		}
		return err
	}
	return nil
}

func (l *ProposalLogger) record(ctx context.Context, p protocol.PriceProposal) {
	err := l.Log(ctx, p)
	switch {
	case err == nil:
	case errors.Is(err, ErrIncompleteProposal):
		l.logger().Warn("audit: proposal dropped", zap.String("proposal_id", p.ProposalID), zap.Error(err))
	default:
		l.logger().Error("audit: proposal not recorded", zap.String("proposal_id", p.ProposalID), zap.Error(err))
	}
}

func (l *ProposalLogger) now() time.Time {
	if l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

func (l *ProposalLogger) logger() *zap.Logger {
	if l == nil || l.Logger == nil {
		return zap.NewNop()
	}
	return l.Logger
}
