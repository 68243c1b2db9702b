package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"property-intel/internal/dedupe"
	"property-intel/internal/models"
)

type GormDB struct {
	db *gorm.DB
}

var _ Store = (*GormDB)(nil)

func NewGormDB(host, port, user, password, dbname string) (*GormDB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		user, password, host, port, dbname)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().Local()
		},
	})
	if err != nil {
		return nil, err
	}

	// Test connection
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	if err := sqlDB.Ping(); err != nil {
		return nil, err
	}

	return &GormDB{db: db}, nil
}

// NewGormDBFromDB creates a GormDB wrapper from an existing gorm.DB instance
func NewGormDBFromDB(db *gorm.DB) *GormDB {
	return &GormDB{db: db}
}

// DB returns the underlying gorm.DB instance
func (gdb *GormDB) DB() *gorm.DB {
	return gdb.db
}

func (gdb *GormDB) Close() error {
	sqlDB, err := gdb.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping verifies store connectivity; used to classify run-fatal errors.
func (gdb *GormDB) Ping(ctx context.Context) error {
	sqlDB, err := gdb.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// InitSchema creates tables using GORM AutoMigrate
func (gdb *GormDB) InitSchema() error {
	return gdb.db.AutoMigrate(
		&models.PropertyRecord{},
		&models.ProcessingRun{},
		&models.VectorIndexQueue{},
		&models.QuarantinedRecord{},
		&models.MergeLog{},
	)
}

// UpsertMerge commits a record under its identity key. The existing row is
// locked for the duration of the transaction, so two batches discovering the
// same key serialize on the store rather than racing in-process.
func (gdb *GormDB) UpsertMerge(ctx context.Context, record *models.PropertyRecord, policy *dedupe.Policy) (bool, *models.PropertyRecord, []dedupe.FieldChange, error) {
	if record.ObservedAt.IsZero() {
		record.ObservedAt = time.Now()
	}

	var (
		merged  bool
		final   *models.PropertyRecord
		changes []dedupe.FieldChange
	)

	err := gdb.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.PropertyRecord
		result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", record.ID).
			First(&existing)

		if result.Error == gorm.ErrRecordNotFound {
			if err := tx.Create(record).Error; err != nil {
				// Insert race with a concurrent batch: fall through to merge.
				if !errors.Is(err, gorm.ErrDuplicatedKey) {
					return err
				}
				if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
					Where("id = ?", record.ID).
					First(&existing).Error; err != nil {
					return err
				}
				return mergeAndSave(tx, &existing, record, policy, &merged, &final, &changes)
			}
			final = record
			return nil
		} else if result.Error != nil {
			return result.Error
		}

		return mergeAndSave(tx, &existing, record, policy, &merged, &final, &changes)
	})
	if err != nil {
		return false, nil, nil, err
	}
	return merged, final, changes, nil
}

func mergeAndSave(tx *gorm.DB, existing, incoming *models.PropertyRecord, policy *dedupe.Policy,
	merged *bool, final **models.PropertyRecord, changes *[]dedupe.FieldChange) error {

	result, fieldChanges := policy.Merge(existing, incoming)
	result.CreatedAt = existing.CreatedAt

	if err := tx.Save(result).Error; err != nil {
		return err
	}
	*merged = true
	*final = result
	*changes = fieldChanges
	return nil
}

// GetProperty retrieves a property by identity key
func (gdb *GormDB) GetProperty(ctx context.Context, id string) (*models.PropertyRecord, error) {
	var record models.PropertyRecord
	err := gdb.db.WithContext(ctx).Where("id = ?", id).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// QueryProperties retrieves properties matching the read-API filters
func (gdb *GormDB) QueryProperties(ctx context.Context, filters PropertyFilters) ([]models.PropertyRecord, error) {
	q := gdb.db.WithContext(ctx).Model(&models.PropertyRecord{})

	if filters.Area != "" {
		q = q.Where("area = ?", filters.Area)
	}
	if filters.PropertyType != "" {
		q = q.Where("property_type = ?", filters.PropertyType)
	}
	if filters.MinPrice != nil {
		q = q.Where("price >= ?", *filters.MinPrice)
	}
	if filters.MaxPrice != nil {
		q = q.Where("price <= ?", *filters.MaxPrice)
	}
	if filters.Bedrooms != nil {
		q = q.Where("bedrooms = ?", *filters.Bedrooms)
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = 50
	}

	var records []models.PropertyRecord
	err := q.Order("created_at DESC").Limit(limit).Find(&records).Error
	return records, err
}

// AllProperties retrieves every property, used to rebuild derived indexes
func (gdb *GormDB) AllProperties(ctx context.Context) ([]models.PropertyRecord, error) {
	var records []models.PropertyRecord
	err := gdb.db.WithContext(ctx).Order("created_at DESC").Find(&records).Error
	return records, err
}

// SetVectorPending flags whether the vector index lags the committed row
func (gdb *GormDB) SetVectorPending(ctx context.Context, id string, pending bool) error {
	return gdb.db.WithContext(ctx).Model(&models.PropertyRecord{}).
		Where("id = ?", id).
		Update("vector_index_pending", pending).Error
}

// CreateRun persists a new processing run row
func (gdb *GormDB) CreateRun(ctx context.Context, run *models.ProcessingRun) error {
	return gdb.db.WithContext(ctx).Create(run).Error
}

// UpdateRun saves run progress and final status
func (gdb *GormDB) UpdateRun(ctx context.Context, run *models.ProcessingRun) error {
	return gdb.db.WithContext(ctx).Save(run).Error
}

// RecentRuns returns the latest runs, newest first
func (gdb *GormDB) RecentRuns(ctx context.Context, limit int) ([]models.ProcessingRun, error) {
	if limit <= 0 {
		limit = 10
	}
	var runs []models.ProcessingRun
	err := gdb.db.WithContext(ctx).Order("started_at DESC").Limit(limit).Find(&runs).Error
	return runs, err
}

// SaveQuarantined retains a hard-rejected row for the run report
func (gdb *GormDB) SaveQuarantined(ctx context.Context, rec *models.QuarantinedRecord) error {
	return gdb.db.WithContext(ctx).Create(rec).Error
}

// QuarantinedForRun lists the quarantined rows of one run
func (gdb *GormDB) QuarantinedForRun(ctx context.Context, runID string) ([]models.QuarantinedRecord, error) {
	var recs []models.QuarantinedRecord
	err := gdb.db.WithContext(ctx).Where("run_id = ?", runID).Find(&recs).Error
	return recs, err
}

// SaveMergeLogs records superseded values of duplicate merges
func (gdb *GormDB) SaveMergeLogs(ctx context.Context, logs []models.MergeLog) error {
	if len(logs) == 0 {
		return nil
	}
	return gdb.db.WithContext(ctx).Create(&logs).Error
}

// EnqueueVectorWrite schedules an idempotent vector-index write. Re-enqueuing
// an already-queued property resets it to pending so the index converges on
// the latest committed version.
func (gdb *GormDB) EnqueueVectorWrite(ctx context.Context, propertyID string) error {
	task := models.VectorIndexQueue{
		PropertyID: propertyID,
		Status:     models.QueueStatusPending,
	}
	return gdb.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "property_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"status":        models.QueueStatusPending,
			"attempts":      0,
			"last_error":    "",
			"next_retry_at": nil,
			"completed_at":  nil,
		}),
	}).Create(&task).Error
}

// NextVectorTask returns the next queue item ready for processing: pending
// first, then failed items whose retry time has passed.
func (gdb *GormDB) NextVectorTask(ctx context.Context) (*models.VectorIndexQueue, error) {
	var task models.VectorIndexQueue
	now := time.Now()

	result := gdb.db.WithContext(ctx).
		Where("status = ?", models.QueueStatusPending).
		Order("created_at ASC").
		First(&task)

	if result.Error == gorm.ErrRecordNotFound {
		result = gdb.db.WithContext(ctx).
			Where("status = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?", models.QueueStatusFailed, now).
			Order("created_at ASC").
			First(&task)
	}

	if result.Error == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &task, nil
}

// UpdateVectorTask saves queue item state
func (gdb *GormDB) UpdateVectorTask(ctx context.Context, task *models.VectorIndexQueue) error {
	return gdb.db.WithContext(ctx).Save(task).Error
}

// VectorQueueDepth counts items still waiting for an index write
func (gdb *GormDB) VectorQueueDepth(ctx context.Context) (int64, error) {
	var depth int64
	err := gdb.db.WithContext(ctx).Model(&models.VectorIndexQueue{}).
		Where("status IN ?", []string{models.QueueStatusPending, models.QueueStatusProcessing, models.QueueStatusFailed}).
		Count(&depth).Error
	return depth, err
}

// VectorQueueStats returns per-status queue counts
func (gdb *GormDB) VectorQueueStats(ctx context.Context) (map[string]int64, error) {
	statuses := []string{
		models.QueueStatusPending,
		models.QueueStatusProcessing,
		models.QueueStatusDone,
		models.QueueStatusFailed,
		models.QueueStatusPermanentFail,
	}
	stats := make(map[string]int64, len(statuses))
	for _, status := range statuses {
		var count int64
		if err := gdb.db.WithContext(ctx).Model(&models.VectorIndexQueue{}).
			Where("status = ?", status).Count(&count).Error; err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, nil
}

// Stats aggregates the statistics API surface
func (gdb *GormDB) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	if err := gdb.db.WithContext(ctx).Model(&models.PropertyRecord{}).Count(&stats.TotalProperties).Error; err != nil {
		return nil, err
	}

	var avg *float64
	if err := gdb.db.WithContext(ctx).Model(&models.PropertyRecord{}).
		Select("AVG(quality_score)").Scan(&avg).Error; err != nil {
		return nil, err
	}
	if avg != nil {
		stats.AverageQualityScore = *avg
	}

	runs, err := gdb.RecentRuns(ctx, 10)
	if err != nil {
		return nil, err
	}
	stats.RecentRuns = runs
	stats.AverageProcessingTime = averageRunDuration(runs)

	return stats, nil
}

func averageRunDuration(runs []models.ProcessingRun) time.Duration {
	var total time.Duration
	var n int
	for _, run := range runs {
		if d := run.Duration(); d > 0 {
			total += d
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return total / time.Duration(n)
}
