package db

import (
	"pricegov/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.Tick{},
		&models.IngestionJob{},
		&models.PriceProposalRecord{},
		&models.DecisionLog{},
		&models.PricingLedger{},
		&models.Setting{},
		&models.Product{},
	)
}
