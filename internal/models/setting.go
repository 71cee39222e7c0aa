package models

import (
	"time"

	"gorm.io/datatypes"
)

// Setting stores a runtime guardrail as a JSON value keyed by name.
type Setting struct {
	Key string `gorm:"primaryKey;type:varchar(120)"`

	// JSON value, e.g. false for auto_apply or 0.1 for max_delta.
	Value datatypes.JSON `gorm:"type:text;not null"`

	Description string    `gorm:"type:text"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

func (Setting) TableName() string {
	return "settings"
}
