package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tick is one observed price point for a SKU. Rows are append-only.
type Tick struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement"`
	SKU    string `gorm:"column:sku;type:varchar(100);not null;index:idx_ticks_sku_ts,priority:1"`
	Market string `gorm:"type:varchar(50);not null;default:'DEFAULT'"`

	OurPrice        decimal.Decimal  `gorm:"type:numeric(20,6);not null"`
	CompetitorPrice *decimal.Decimal `gorm:"type:numeric(20,6)"`
	DemandIndex     *float64

	TS         time.Time `gorm:"column:ts;not null;index:idx_ticks_sku_ts,priority:2"`
	Source     string    `gorm:"type:varchar(100);not null;default:'unknown'"`
	IngestedAt time.Time `gorm:"not null"`
}

func (Tick) TableName() string {
	return "ticks"
}
