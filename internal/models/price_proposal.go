package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// PriceProposalRecord is the verbatim audit copy of every published proposal,
// written regardless of what governance later decides.
type PriceProposalRecord struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	ProposalID string `gorm:"type:varchar(64);index"`
	SKU        string `gorm:"column:sku;type:varchar(100);not null;index"`

	ProposedPrice decimal.Decimal  `gorm:"type:numeric(20,6);not null"`
	CurrentPrice  *decimal.Decimal `gorm:"type:numeric(20,6)"`
	Margin        *float64
	Algorithm     string `gorm:"type:varchar(50)"`

	TS        time.Time      `gorm:"column:ts;not null;index"`
	Payload   datatypes.JSON `gorm:"not null"`
	CreatedAt time.Time      `gorm:"autoCreateTime"`
}

func (PriceProposalRecord) TableName() string {
	return "price_proposals"
}
