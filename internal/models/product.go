package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product carries the unit cost the optimizer needs for margin math.
type Product struct {
	SKU       string          `gorm:"column:sku;primaryKey;type:varchar(100)"`
	Name      string          `gorm:"type:varchar(200)"`
	Cost      decimal.Decimal `gorm:"type:numeric(20,6);not null;default:0"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime"`
}

func (Product) TableName() string {
	return "products"
}
