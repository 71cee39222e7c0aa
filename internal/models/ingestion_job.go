package models

import (
	"time"
)

const (
	JobQueued  = "QUEUED"
	JobRunning = "RUNNING"
	JobDone    = "DONE"
	JobFailed  = "FAILED"
)

// IngestionJob tracks one market.fetch.request. Status only moves forward and
// DONE/FAILED rows are never rewritten or deleted.
type IngestionJob struct {
	ID        string `gorm:"primaryKey;type:varchar(64)"`
	RequestID string `gorm:"type:varchar(100);not null;index"`
	SKU       string `gorm:"column:sku;type:varchar(100);not null;index"`
	Market    string `gorm:"type:varchar(50);not null"`
	Connector string `gorm:"type:varchar(200);not null"`
	Depth     int    `gorm:"not null;default:1"`

	Status    string  `gorm:"type:varchar(20);not null;index;default:'QUEUED'"`
	Error     *string `gorm:"type:text"`
	TickCount int     `gorm:"not null;default:0"`

	CreatedAt  time.Time `gorm:"not null;index"`
	StartedAt  *time.Time
	FinishedAt *time.Time
}

func (IngestionJob) TableName() string {
	return "ingestion_jobs"
}

func IsTerminalJobStatus(status string) bool {
	return status == JobDone || status == JobFailed
}

// JobPredecessors lists the statuses a job may move to status from.
func JobPredecessors(status string) []string {
	switch status {
	case JobRunning:
		return []string{JobQueued}
	case JobDone:
		return []string{JobRunning}
	case JobFailed:
		return []string{JobQueued, JobRunning}
	default:
		return nil
	}
}
