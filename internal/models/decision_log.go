package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	DecisionReceived    = "RECEIVED"
	DecisionRejected    = "REJECTED"
	DecisionStale       = "STALE"
	DecisionAppliedAuto = "APPLIED_AUTO"
	DecisionApplyFailed = "APPLY_FAILED"
)

// DecisionLog is the idempotency record for a proposal. ProposalID is the key;
// a row is inserted once and leaves RECEIVED at most once.
type DecisionLog struct {
	ProposalID string `gorm:"primaryKey;type:varchar(64)"`
	ProductID  string `gorm:"type:varchar(100);not null;index"`

	PreviousPrice *decimal.Decimal `gorm:"type:numeric(20,6)"`
	ProposedPrice decimal.Decimal  `gorm:"type:numeric(20,6);not null"`
	FinalPrice    *decimal.Decimal `gorm:"type:numeric(20,6)"`

	Status string  `gorm:"type:varchar(20);not null;index;default:'RECEIVED'"`
	Actor  string  `gorm:"type:varchar(100);not null"`
	Reason *string `gorm:"type:text"`

	ReceivedAt  time.Time `gorm:"not null;index"`
	ProcessedAt *time.Time
}

func (DecisionLog) TableName() string {
	return "decision_log"
}

func IsTerminalDecision(status string) bool {
	switch status {
	case DecisionRejected, DecisionStale, DecisionAppliedAuto, DecisionApplyFailed:
		return true
	default:
		return false
	}
}
