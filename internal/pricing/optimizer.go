package pricing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pricegov/internal/metrics"
	"pricegov/internal/models"
	"pricegov/internal/protocol"
	"pricegov/internal/service"
)

type Repository interface {
	GetLedger(ctx context.Context, sku string) (*models.PricingLedger, error)
	GetProduct(ctx context.Context, sku string) (*models.Product, error)
	ListRecentTicks(ctx context.Context, sku string, limit int) ([]models.Tick, error)
}

type GuardrailSource interface {
	Guardrails(ctx context.Context) (service.Guardrails, error)
}

type Publisher interface {
	Publish(ctx context.Context, msg protocol.Message) error
}

// Optimizer turns recent ticks into exactly one price.proposal per successful
// call.
type Optimizer struct {
	Repo     Repository
	Settings GuardrailSource
	Bus      Publisher
	Logger   *zap.Logger

	DefaultAlgorithm string
	Lookback         int

	Now   func() time.Time
	NewID func() string
}

// Propose computes and publishes a proposal for sku. An empty algorithm uses
// the configured default.
func (o *Optimizer) Propose(ctx context.Context, sku, algorithm string) (protocol.PriceProposal, error) {
	if o == nil || o.Repo == nil {
		return protocol.PriceProposal{}, fmt.Errorf("optimizer not configured")
	}
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return protocol.PriceProposal{}, fmt.Errorf("empty sku")
	}
	name := strings.ToLower(strings.TrimSpace(algorithm))
	if name == "" {
		name = strings.ToLower(strings.TrimSpace(o.DefaultAlgorithm))
	}
	if name == "" {
		name = AlgorithmRuleBased
	}
	alg, err := Lookup(name)
	if err != nil {
		return protocol.PriceProposal{}, err
	}

	// The ledger price read here is the CAS token governance checks later.
	ledger, err := o.Repo.GetLedger(ctx, sku)
	if err != nil {
		return protocol.PriceProposal{}, fmt.Errorf("read ledger: %w", err)
	}
	product, err := o.Repo.GetProduct(ctx, sku)
	if err != nil {
		return protocol.PriceProposal{}, fmt.Errorf("read product: %w", err)
	}
	var previous *decimal.Decimal
	if ledger != nil {
		p := ledger.Price
		previous = &p
	}
	cost := decimal.Zero
	if product != nil {
		cost = product.Cost
	}

	records, err := o.records(ctx, sku)
	if err != nil {
		return protocol.PriceProposal{}, err
	}
	baseline := cost
	if !baseline.IsPositive() && previous != nil {
		baseline = *previous
	}

	price, err := alg(records, baseline)
	if err != nil {
		return protocol.PriceProposal{}, fmt.Errorf("%s for %s: %w", name, sku, err)
	}

	minMargin := service.DefaultGuardrails().MinMargin
	if o.Settings != nil {
		g, err := o.Settings.Guardrails(ctx)
		if err != nil {
			o.logger().Warn("optimizer: guardrails read failed, using defaults", zap.Error(err))
		}
		minMargin = g.MinMargin
	}
	if floor, ok := marginFloor(cost, minMargin); ok && price.LessThan(floor) {
		price = floor
	}
	price = price.Round(2)
	if !price.IsPositive() {
		return protocol.PriceProposal{}, fmt.Errorf("%s for %s: non-positive price %s", name, sku, price)
	}

	proposal := protocol.PriceProposal{
		ProposalID:    o.newID(),
		ProductID:     sku,
		PreviousPrice: previous,
		ProposedPrice: price,
		Algorithm:     name,
		TS:            o.now(),
	}
	if cost.IsPositive() {
		m, _ := price.Sub(cost).Div(price).Round(4).Float64()
		proposal.Margin = &m
	}

	if o.Bus != nil {
		if err := o.Bus.Publish(ctx, proposal); err != nil {
			return protocol.PriceProposal{}, fmt.Errorf("publish proposal: %w", err)
		}
	}
	metrics.Proposals.WithLabelValues(name).Inc()
	o.logger().Info("optimizer: proposal published",
		zap.String("proposal_id", proposal.ProposalID),
		zap.String("sku", sku),
		zap.String("algorithm", name),
		zap.String("proposed_price", price.String()),
		zap.Int("records", len(records)),
	)
	return proposal, nil
}

// records prefers the competitor price of each tick and falls back to ours.
func (o *Optimizer) records(ctx context.Context, sku string) ([]Record, error) {
	lookback := o.Lookback
	if lookback <= 0 {
		lookback = 50
	}
	ticks, err := o.Repo.ListRecentTicks(ctx, sku, lookback)
	if err != nil {
		return nil, fmt.Errorf("read ticks: %w", err)
	}
	out := make([]Record, 0, len(ticks))
	for _, t := range ticks {
		p := t.OurPrice
		if t.CompetitorPrice != nil && t.CompetitorPrice.IsPositive() {
			p = *t.CompetitorPrice
		}
		if !p.IsPositive() {
			continue
		}
		out = append(out, Record{Price: p, TS: t.TS})
	}
	return out, nil
}

// marginFloor is the lowest price that keeps minMargin over cost.
func marginFloor(cost decimal.Decimal, minMargin float64) (decimal.Decimal, bool) {
	if !cost.IsPositive() || minMargin <= 0 || minMargin >= 1 {
		return decimal.Zero, false
	}
	return cost.Div(decimal.NewFromInt(1).Sub(decimal.NewFromFloat(minMargin))), true
}

func (o *Optimizer) now() time.Time {
	if o.Now != nil {
		return o.Now().UTC()
	}
	return time.Now().UTC()
}

func (o *Optimizer) newID() string {
	if o.NewID != nil {
		return o.NewID()
	}
	return uuid.NewString()
}

func (o *Optimizer) logger() *zap.Logger {
	if o == nil || o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}
