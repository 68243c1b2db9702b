package models

import "time"

// ProcessingRun is one execution of the pipeline over a source or batch.
// A run row is created when the batch starts and finalized exactly once.
type ProcessingRun struct {
	ID     string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Source string    `gorm:"type:varchar(255);not null" json:"source"`
	Format string    `gorm:"type:varchar(10)" json:"format"`
	Status RunStatus `gorm:"type:varchar(20);not null;index" json:"status"`

	Ingested         int `gorm:"default:0" json:"ingested"`
	Accepted         int `gorm:"default:0" json:"accepted"`
	Quarantined      int `gorm:"default:0" json:"quarantined"`
	DuplicatesMerged int `gorm:"default:0" json:"duplicates_merged"`
	Enriched         int `gorm:"default:0" json:"enriched"`
	Persisted        int `gorm:"default:0" json:"persisted"`
	Failed           int `gorm:"default:0" json:"failed"`

	StartedAt  time.Time  `gorm:"type:datetime;not null" json:"started_at"`
	FinishedAt *time.Time `gorm:"type:datetime" json:"finished_at,omitempty"`
}

// TableName specifies the table name for GORM
func (ProcessingRun) TableName() string {
	return "processing_runs"
}

// RunStatus walks created -> ingesting -> ... -> completed, with cancelled
// and failed reachable from any non-terminal state.
type RunStatus string

const (
	RunStatusCreated       RunStatus = "created"
	RunStatusIngesting     RunStatus = "ingesting"
	RunStatusNormalizing   RunStatus = "normalizing"
	RunStatusValidating    RunStatus = "validating"
	RunStatusDeduplicating RunStatus = "deduplicating"
	RunStatusEnriching     RunStatus = "enriching"
	RunStatusPersisting    RunStatus = "persisting"
	RunStatusCompleted     RunStatus = "completed"
	RunStatusFailed        RunStatus = "failed"
	RunStatusCancelled     RunStatus = "cancelled"
)

// IsTerminal reports whether the run can no longer transition.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// Duration returns the run duration, zero if still in flight.
func (r *ProcessingRun) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
