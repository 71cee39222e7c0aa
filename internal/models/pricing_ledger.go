package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PricingLedger holds the single authoritative current price per SKU.
// Automated writers must go through a compare-and-swap on Price.
type PricingLedger struct {
	ProductName string          `gorm:"primaryKey;type:varchar(100)"`
	Price       decimal.Decimal `gorm:"type:numeric(20,6);not null"`
	LastUpdate  time.Time       `gorm:"not null"`
	Reason      string          `gorm:"type:text"`
}

func (PricingLedger) TableName() string {
	return "pricing_ledger"
}
