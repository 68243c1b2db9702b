package models

import (
	"time"
)

// VectorIndexQueue holds pending vector-index writes. The structured write is
// the commit point; indexing is deferred here and retried independently so a
// vector store outage never blocks the structured write path.
type VectorIndexQueue struct {
	ID          int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	PropertyID  string     `gorm:"type:varchar(32);not null;uniqueIndex" json:"property_id"`
	Status      string     `gorm:"type:varchar(20);not null;default:'pending';index:idx_vq_status" json:"status"`
	Attempts    int        `gorm:"default:0" json:"attempts"`
	LastError   string     `gorm:"type:text" json:"last_error,omitempty"`
	NextRetryAt *time.Time `gorm:"index:idx_vq_retry" json:"next_retry_at,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// TableName specifies the table name for GORM
func (VectorIndexQueue) TableName() string {
	return "vector_index_queue"
}

// Status constants
const (
	QueueStatusPending       = "pending"
	QueueStatusProcessing    = "processing"
	QueueStatusDone          = "done"
	QueueStatusFailed        = "failed"
	QueueStatusPermanentFail = "permanent_fail"
)

// MaxQueueAttempts before deferring the write to a later run
const MaxQueueAttempts = 5

// GetNextRetryDelay calculates exponential backoff for queue retries
func GetNextRetryDelay(attempts int) time.Duration {
	// 30s, 2min, 10min, 30min, 2h
	delays := []time.Duration{
		30 * time.Second,
		2 * time.Minute,
		10 * time.Minute,
		30 * time.Minute,
		2 * time.Hour,
	}

	if attempts >= len(delays) {
		return delays[len(delays)-1]
	}
	return delays[attempts]
}
