package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"pricegov/internal/models"
)

// MarketDataRepository is what the collector needs: append-only ticks and the
// ingestion job lifecycle.
type MarketDataRepository interface {
	InsertTick(ctx context.Context, item *models.Tick) error
	ListRecentTicks(ctx context.Context, sku string, limit int) ([]models.Tick, error)
	CountTicks(ctx context.Context) (int64, error)

	CreateIngestionJob(ctx context.Context, item *models.IngestionJob) error
	// TransitionIngestionJob moves a job forward. It reports false when the job
	// is not in one of the allowed predecessor statuses.
	TransitionIngestionJob(ctx context.Context, id string, t JobTransition) (bool, error)
	GetIngestionJob(ctx context.Context, id string) (*models.IngestionJob, error)
	ListIngestionJobs(ctx context.Context, params ListIngestionJobsParams) ([]models.IngestionJob, error)
	CountIngestionJobsByStatus(ctx context.Context) (map[string]int64, error)
}

// GovernanceRepository covers the decision log and the pricing ledger. Methods
// ending in Tx run inside a transaction opened by InTx.
type GovernanceRepository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error

	// InsertDecisionIfAbsent reports whether a new row was written.
	InsertDecisionIfAbsent(ctx context.Context, item *models.DecisionLog) (bool, error)
	GetDecision(ctx context.Context, proposalID string) (*models.DecisionLog, error)
	GetDecisionTx(ctx context.Context, tx *gorm.DB, proposalID string) (*models.DecisionLog, error)
	// FinalizeDecision moves a RECEIVED row to a terminal status. It reports
	// false when the row already left RECEIVED.
	FinalizeDecision(ctx context.Context, proposalID string, u DecisionUpdate) (bool, error)
	FinalizeDecisionTx(ctx context.Context, tx *gorm.DB, proposalID string, u DecisionUpdate) (bool, error)
	ListDecisions(ctx context.Context, params ListDecisionsParams) ([]models.DecisionLog, error)
	CountDecisions(ctx context.Context, params ListDecisionsParams) (int64, error)
	CountDecisionsByStatus(ctx context.Context) (map[string]int64, error)

	GetLedger(ctx context.Context, sku string) (*models.PricingLedger, error)
	ListLedger(ctx context.Context) ([]models.PricingLedger, error)
	UpsertLedger(ctx context.Context, item *models.PricingLedger) error
	// CompareAndSwapPriceTx writes next only if the current price equals
	// expected and returns the number of rows changed.
	CompareAndSwapPriceTx(ctx context.Context, tx *gorm.DB, sku string, expected, next decimal.Decimal, at time.Time, reason string) (int64, error)
}

type SettingsRepository interface {
	GetSetting(ctx context.Context, key string) (*models.Setting, error)
	UpsertSetting(ctx context.Context, item *models.Setting) error
	ListSettings(ctx context.Context) ([]models.Setting, error)
}

type CatalogRepository interface {
	GetProduct(ctx context.Context, sku string) (*models.Product, error)
	UpsertProduct(ctx context.Context, item *models.Product) error
}

type ProposalRepository interface {
	InsertProposalRecord(ctx context.Context, item *models.PriceProposalRecord) error
	ListProposalRecords(ctx context.Context, params ListProposalRecordsParams) ([]models.PriceProposalRecord, error)
}

// Repository is the full store of record.
type Repository interface {
	MarketDataRepository
	GovernanceRepository
	SettingsRepository
	CatalogRepository
	ProposalRepository
}

type JobTransition struct {
	Status    string
	Error     *string
	TickCount *int
	At        time.Time
}

type DecisionUpdate struct {
	Status      string
	FinalPrice  *decimal.Decimal
	Reason      *string
	ProcessedAt time.Time
}

type ListIngestionJobsParams struct {
	Limit     int
	Offset    int
	Status    *string
	SKU       *string
	RequestID *string
	OrderBy   string
	Asc       *bool
}

type ListDecisionsParams struct {
	Limit     int
	Offset    int
	Status    *string
	ProductID *string
	Since     *time.Time
	OrderBy   string
	Asc       *bool
}

type ListProposalRecordsParams struct {
	Limit   int
	Offset  int
	SKU     *string
	OrderBy string
	Asc     *bool
}
