// Package database implements the authoritative structured store. Two
// backends are provided: MySQL through GORM and PostgreSQL through lib/pq.
// Duplicate merges run as atomic upsert-with-merge inside the store so
// concurrent batches writing the same identity key stay correct without
// in-process locking.
package database

import (
	"context"
	"time"

	"property-intel/internal/dedupe"
	"property-intel/internal/models"
)

// Store is the structured-store contract the pipeline depends on.
type Store interface {
	InitSchema() error
	Ping(ctx context.Context) error
	Close() error

	// UpsertMerge commits a record under its identity key. When the key
	// already exists the configured field-level merge policy is applied
	// atomically, merged reports true and changes lists the superseded
	// values; final is the committed row.
	UpsertMerge(ctx context.Context, record *models.PropertyRecord, policy *dedupe.Policy) (merged bool, final *models.PropertyRecord, changes []dedupe.FieldChange, err error)

	// GetProperty returns (nil, nil) when the identity key has no row.
	GetProperty(ctx context.Context, id string) (*models.PropertyRecord, error)
	QueryProperties(ctx context.Context, filters PropertyFilters) ([]models.PropertyRecord, error)
	AllProperties(ctx context.Context) ([]models.PropertyRecord, error)
	SetVectorPending(ctx context.Context, id string, pending bool) error

	CreateRun(ctx context.Context, run *models.ProcessingRun) error
	UpdateRun(ctx context.Context, run *models.ProcessingRun) error
	RecentRuns(ctx context.Context, limit int) ([]models.ProcessingRun, error)

	SaveQuarantined(ctx context.Context, rec *models.QuarantinedRecord) error
	QuarantinedForRun(ctx context.Context, runID string) ([]models.QuarantinedRecord, error)
	SaveMergeLogs(ctx context.Context, logs []models.MergeLog) error

	EnqueueVectorWrite(ctx context.Context, propertyID string) error
	NextVectorTask(ctx context.Context) (*models.VectorIndexQueue, error)
	UpdateVectorTask(ctx context.Context, task *models.VectorIndexQueue) error
	VectorQueueDepth(ctx context.Context) (int64, error)
	VectorQueueStats(ctx context.Context) (map[string]int64, error)

	Stats(ctx context.Context) (*Stats, error)
}

// PropertyFilters narrows read-API queries.
type PropertyFilters struct {
	Area         string
	PropertyType string
	MinPrice     *float64
	MaxPrice     *float64
	Bedrooms     *int
	Limit        int
}

// Stats is the aggregate surface of the statistics API.
type Stats struct {
	TotalProperties       int64                  `json:"total_properties"`
	AverageQualityScore   float64                `json:"average_quality_score"`
	AverageProcessingTime time.Duration          `json:"average_processing_time"`
	RecentRuns            []models.ProcessingRun `json:"recent_runs"`
}
