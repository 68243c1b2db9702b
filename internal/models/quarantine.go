package models

import "time"

// QuarantinedRecord is a source row that failed a hard validation check.
// It is never promoted to the properties table but stays queryable for the
// run report.
type QuarantinedRecord struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	RunID     string    `gorm:"type:varchar(36);not null;index" json:"run_id"`
	SourceID  string    `gorm:"type:varchar(255);not null" json:"source_id"`
	Row       int       `gorm:"column:row_index;not null" json:"row"`
	Reasons   string    `gorm:"type:text;not null" json:"reasons"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName specifies the table name for GORM
func (QuarantinedRecord) TableName() string {
	return "quarantined_records"
}

// MergeLog records the superseded values of a duplicate merge so the field
// history stays auditable.
type MergeLog struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	PropertyID string    `gorm:"type:varchar(32);not null;index" json:"property_id"`
	RunID      string    `gorm:"type:varchar(36)" json:"run_id"`
	Field      string    `gorm:"type:varchar(50);not null" json:"field"`
	OldValue   string    `gorm:"type:text" json:"old_value"`
	NewValue   string    `gorm:"type:text" json:"new_value"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName specifies the table name for GORM
func (MergeLog) TableName() string {
	return "merge_logs"
}
