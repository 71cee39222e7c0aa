// Package governance decides every price proposal and applies the accepted
// ones to the pricing ledger with a compare-and-swap.
package governance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"pricegov/internal/bus"
	"pricegov/internal/metrics"
	"pricegov/internal/models"
	"pricegov/internal/protocol"
	"pricegov/internal/repository"
	"pricegov/internal/service"
	"pricegov/internal/worker"
)

const DefaultActor = "governance-agent"

const (
	ReasonNoBaseline  = "no baseline price"
	ReasonNonPositive = "proposed price must be positive"
	ReasonStale       = "ledger price changed since proposal"
)

var errAlreadyDecided = errors.New("decision already left RECEIVED")

type GuardrailSource interface {
	Guardrails(ctx context.Context) (service.Guardrails, error)
}

type Publisher interface {
	Publish(ctx context.Context, msg protocol.Message) error
}

type Submitter interface {
	Submit(ctx context.Context, name string, fn worker.Task) error
}

// Agent owns the decision log state machine:
// RECEIVED -> REJECTED | STALE | APPLIED_AUTO | APPLY_FAILED.
type Agent struct {
	Repo     repository.GovernanceRepository
	Settings GuardrailSource
	Bus      Publisher
	Pool     Submitter
	Logger   *zap.Logger

	Actor string
	Retry RetryPolicy

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Outcome describes what one Process call did. Duplicate means another
// delivery of the same proposal had already decided it.
type Outcome struct {
	ProposalID string
	Status     string
	Duplicate  bool
	FinalPrice *decimal.Decimal
	Reason     string
	Attempts   int
}

// Attach hands every price.proposal to the worker pool.
func (a *Agent) Attach(b *bus.Bus) {
	if a == nil || b == nil {
		return
	}
	b.Subscribe(protocol.TopicPriceProposal, func(ctx context.Context, msg protocol.Message) error {
		p, ok := msg.(protocol.PriceProposal)
		if !ok {
			return fmt.Errorf("unexpected message %T", msg)
		}
		if a.Pool == nil {
			_, err := a.Process(ctx, p)
			return err
		}
		return a.Pool.Submit(ctx, "proposal:"+p.ProposalID, func(taskCtx context.Context) {
			_, _ = a.Process(taskCtx, p)
		})
	})
}

// Process runs one proposal through the decision contract. The returned error
// is non-nil only for persistence failures; rejections and stale proposals are
// outcomes.
func (a *Agent) Process(ctx context.Context, p protocol.PriceProposal) (Outcome, error) {
	if a == nil || a.Repo == nil {
		return Outcome{}, fmt.Errorf("governance agent not configured")
	}
	id := strings.TrimSpace(p.ProposalID)
	sku := strings.TrimSpace(p.ProductID)
	if id == "" || sku == "" {
		return Outcome{}, &protocol.ValidationError{Topic: protocol.TopicPriceProposal, Reason: "proposal_id and product_id are required"}
	}
	out := Outcome{ProposalID: id}
	log := a.logger().With(zap.String("proposal_id", id), zap.String("sku", sku))

	// 1. idempotency boundary
	inserted, err := a.Repo.InsertDecisionIfAbsent(ctx, &models.DecisionLog{
		ProposalID:    id,
		ProductID:     sku,
		PreviousPrice: p.PreviousPrice,
		ProposedPrice: p.ProposedPrice,
		Status:        models.DecisionReceived,
		Actor:         a.actor(),
		ReceivedAt:    a.now(),
	})
	if err != nil {
		return out, fmt.Errorf("record proposal %s: %w", id, err)
	}

	// 2. a prior delivery may already have decided it
	row, err := a.Repo.GetDecision(ctx, id)
	if err != nil {
		return out, fmt.Errorf("read decision %s: %w", id, err)
	}
	if row == nil {
		return out, fmt.Errorf("decision %s missing after insert", id)
	}
	if row.Status != models.DecisionReceived {
		log.Debug("governance: duplicate proposal", zap.String("status", row.Status))
		out.Status = row.Status
		out.Duplicate = true
		return out, nil
	}
	if !inserted {
		log.Debug("governance: redelivered proposal still RECEIVED, re-evaluating")
	}

	g, gerr := a.guardrails(ctx)
	if gerr != nil {
		log.Warn("governance: guardrails read failed, using defaults", zap.Error(gerr))
	}

	// 3. guardrail
	if !p.ProposedPrice.IsPositive() {
		return a.reject(ctx, log, out, ReasonNonPositive)
	}
	base, err := a.baseline(ctx, p)
	if err != nil {
		return out, err
	}
	if !base.IsPositive() {
		return a.reject(ctx, log, out, ReasonNoBaseline)
	}
	delta := p.ProposedPrice.Sub(base).Abs().Div(base)
	maxDelta := decimal.NewFromFloat(g.MaxDelta)
	if delta.GreaterThan(maxDelta) {
		reason := fmt.Sprintf("price delta %s exceeds max_delta %s", delta.Round(4).String(), maxDelta.String())
		return a.reject(ctx, log, out, reason)
	}

	// 4. manual approval
	if !g.AutoApply {
		log.Info("governance: auto_apply off, awaiting manual approval")
		out.Status = models.DecisionReceived
		return out, nil
	}

	// 5. atomic apply
	return a.apply(ctx, log, out, p, base)
}

func (a *Agent) baseline(ctx context.Context, p protocol.PriceProposal) (decimal.Decimal, error) {
	if p.PreviousPrice != nil {
		return *p.PreviousPrice, nil
	}
	ledger, err := a.Repo.GetLedger(ctx, p.ProductID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("read ledger %s: %w", p.ProductID, err)
	}
	if ledger == nil {
		return decimal.Zero, nil
	}
	return ledger.Price, nil
}

func (a *Agent) reject(ctx context.Context, log *zap.Logger, out Outcome, reason string) (Outcome, error) {
	ok, err := a.Repo.FinalizeDecision(ctx, out.ProposalID, repository.DecisionUpdate{
		Status:      models.DecisionRejected,
		Reason:      &reason,
		ProcessedAt: a.now(),
	})
	if err != nil {
		return out, fmt.Errorf("reject %s: %w", out.ProposalID, err)
	}
	if !ok {
		return a.decidedElsewhere(ctx, out)
	}
	metrics.Decisions.WithLabelValues(models.DecisionRejected).Inc()
	log.Info("governance: proposal rejected", zap.String("reason", reason))
	out.Status = models.DecisionRejected
	out.Reason = reason
	return out, nil
}

func (a *Agent) apply(ctx context.Context, log *zap.Logger, out Outcome, p protocol.PriceProposal, base decimal.Decimal) (Outcome, error) {
	attempts := a.Retry.Attempts()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		out.Attempts = attempt
		status, err := a.applyOnce(ctx, p, base)
		if err == nil {
			out.Status = status
			metrics.Decisions.WithLabelValues(status).Inc()
			if status == models.DecisionAppliedAuto {
				final := p.ProposedPrice
				out.FinalPrice = &final
				log.Info("governance: proposal applied", zap.String("final_price", final.String()))
				a.publishUpdate(ctx, log, p, base)
			} else {
				out.Reason = ReasonStale
				log.Info("governance: proposal stale")
			}
			return out, nil
		}
		if errors.Is(err, errAlreadyDecided) {
			return a.decidedElsewhere(ctx, out)
		}
		lastErr = err
		if attempt == attempts || !IsTransient(err) {
			break
		}
		wait := a.Retry.Backoff(attempt)
		log.Warn("governance: apply contended, retrying", zap.Int("attempt", attempt), zap.Duration("backoff", wait), zap.Error(err))
		if err := a.sleep(ctx, wait); err != nil {
			lastErr = err
			break
		}
	}
	return a.markFailed(ctx, log, out, lastErr)
}

// applyOnce runs check, compare-and-swap and decision update in one
// transaction. Any error rolls all of it back.
func (a *Agent) applyOnce(ctx context.Context, p protocol.PriceProposal, base decimal.Decimal) (string, error) {
	start := time.Now()
	defer func() { metrics.ApplySeconds.Observe(time.Since(start).Seconds()) }()

	var status string
	err := a.Repo.InTx(ctx, func(tx *gorm.DB) error {
		cur, err := a.Repo.GetDecisionTx(ctx, tx, p.ProposalID)
		if err != nil {
			return err
		}
		if cur == nil || cur.Status != models.DecisionReceived {
			return errAlreadyDecided
		}
		now := a.now()
		n, err := a.Repo.CompareAndSwapPriceTx(ctx, tx, p.ProductID, base, p.ProposedPrice, now, "proposal "+p.ProposalID)
		if err != nil {
			return err
		}
		u := repository.DecisionUpdate{ProcessedAt: now}
		if n == 1 {
			status = models.DecisionAppliedAuto
			final := p.ProposedPrice
			u.FinalPrice = &final
		} else {
			status = models.DecisionStale
			reason := ReasonStale
			u.Reason = &reason
		}
		u.Status = status
		ok, err := a.Repo.FinalizeDecisionTx(ctx, tx, p.ProposalID, u)
		if err != nil {
			return err
		}
		if !ok {
			return errAlreadyDecided
		}
		return nil
	})
	return status, err
}

func (a *Agent) markFailed(ctx context.Context, log *zap.Logger, out Outcome, cause error) (Outcome, error) {
	reason := cause.Error()
	ok, err := a.Repo.FinalizeDecision(ctx, out.ProposalID, repository.DecisionUpdate{
		Status:      models.DecisionApplyFailed,
		Reason:      &reason,
		ProcessedAt: a.now(),
	})
	if err != nil {
		log.Error("governance: could not record apply failure", zap.NamedError("cause", cause), zap.Error(err))
		return out, fmt.Errorf("apply %s: %w (recording failure: %v)", out.ProposalID, cause, err)
	}
	if !ok {
		return a.decidedElsewhere(ctx, out)
	}
	metrics.Decisions.WithLabelValues(models.DecisionApplyFailed).Inc()
	log.Error("governance: apply failed", zap.Int("attempts", out.Attempts), zap.Error(cause))
	out.Status = models.DecisionApplyFailed
	out.Reason = reason
	return out, fmt.Errorf("apply %s: %w", out.ProposalID, cause)
}

func (a *Agent) decidedElsewhere(ctx context.Context, out Outcome) (Outcome, error) {
	out.Duplicate = true
	row, err := a.Repo.GetDecision(ctx, out.ProposalID)
	if err != nil {
		return out, fmt.Errorf("read decision %s: %w", out.ProposalID, err)
	}
	if row != nil {
		out.Status = row.Status
	}
	return out, nil
}

func (a *Agent) publishUpdate(ctx context.Context, log *zap.Logger, p protocol.PriceProposal, base decimal.Decimal) {
	if a.Bus == nil {
		return
	}
	prev := base
	msg := protocol.PriceUpdate{
		ProposalID:    p.ProposalID,
		ProductID:     p.ProductID,
		PreviousPrice: &prev,
		FinalPrice:    p.ProposedPrice,
		TS:            a.now(),
	}
	if err := a.Bus.Publish(ctx, msg); err != nil {
		log.Warn("governance: publish price.update failed", zap.Error(err))
	}
}

func (a *Agent) guardrails(ctx context.Context) (service.Guardrails, error) {
	if a.Settings == nil {
		return service.DefaultGuardrails(), nil
	}
	return a.Settings.Guardrails(ctx)
}

func (a *Agent) actor() string {
	if s := strings.TrimSpace(a.Actor); s != "" {
		return s
	}
	return DefaultActor
}

func (a *Agent) now() time.Time {
	if a.Now != nil {
		return a.Now().UTC()
	}
	return time.Now().UTC()
}

func (a *Agent) sleep(ctx context.Context, d time.Duration) error {
	if a.Sleep != nil {
		return a.Sleep(ctx, d)
	}
	return sleepCtx(ctx, d)
}

func (a *Agent) logger() *zap.Logger {
	if a == nil || a.Logger == nil {
		return zap.NewNop()
	}
	return a.Logger
}
