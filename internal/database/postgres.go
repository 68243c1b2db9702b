package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"property-intel/internal/dedupe"
	"property-intel/internal/models"
)

type DB struct {
	conn *sql.DB
}

var _ Store = (*DB)(nil)

func NewDB(host, port, user, password, dbname, sslmode string) (*DB, error) {
	if sslmode == "" {
		sslmode = "disable"
	}
	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		host, port, user, password, dbname, sslmode)

	conn, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(); err != nil {
		return nil, err
	}

	return &DB{conn: conn}, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping verifies store connectivity; used to classify run-fatal errors.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// InitSchema creates the pipeline tables if they don't exist
func (db *DB) InitSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS properties (
		id VARCHAR(32) PRIMARY KEY,
		address TEXT NOT NULL,
		area VARCHAR(100) NOT NULL,
		property_type VARCHAR(30),
		price DECIMAL(14, 2),
		bedrooms INTEGER,
		bathrooms INTEGER,
		square_feet DECIMAL(10, 2),
		developer VARCHAR(100),
		completion_date TIMESTAMP,
		amenities TEXT,
		listed_at TIMESTAMP,
		quality_score DECIMAL(4, 3) NOT NULL,
		duplicate_resolved BOOLEAN NOT NULL DEFAULT FALSE,
		investment_grade VARCHAR(5),
		estimated_yield DECIMAL(5, 2),
		price_sqft_percentile DECIMAL(5, 2),
		enrichment_warning TEXT,
		vector_index_pending BOOLEAN NOT NULL DEFAULT FALSE,
		source_file VARCHAR(255),
		observed_at TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_properties_area ON properties(area);
	CREATE INDEX IF NOT EXISTS idx_properties_price ON properties(price);
	CREATE INDEX IF NOT EXISTS idx_properties_bedrooms ON properties(bedrooms);
	CREATE INDEX IF NOT EXISTS idx_properties_created_at ON properties(created_at DESC);

	CREATE TABLE IF NOT EXISTS processing_runs (
		id VARCHAR(36) PRIMARY KEY,
		source VARCHAR(255) NOT NULL,
		format VARCHAR(10),
		status VARCHAR(20) NOT NULL,
		ingested INTEGER DEFAULT 0,
		accepted INTEGER DEFAULT 0,
		quarantined INTEGER DEFAULT 0,
		duplicates_merged INTEGER DEFAULT 0,
		enriched INTEGER DEFAULT 0,
		persisted INTEGER DEFAULT 0,
		failed INTEGER DEFAULT 0,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON processing_runs(started_at DESC);

	CREATE TABLE IF NOT EXISTS vector_index_queue (
		id BIGSERIAL PRIMARY KEY,
		property_id VARCHAR(32) NOT NULL UNIQUE,
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		attempts INTEGER DEFAULT 0,
		last_error TEXT,
		next_retry_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
		completed_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_vq_status ON vector_index_queue(status);

	CREATE TABLE IF NOT EXISTS quarantined_records (
		id BIGSERIAL PRIMARY KEY,
		run_id VARCHAR(36) NOT NULL,
		source_id VARCHAR(255) NOT NULL,
		row_index INTEGER NOT NULL,
		reasons TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_quarantine_run ON quarantined_records(run_id);

	CREATE TABLE IF NOT EXISTS merge_logs (
		id BIGSERIAL PRIMARY KEY,
		property_id VARCHAR(32) NOT NULL,
		run_id VARCHAR(36),
		field VARCHAR(50) NOT NULL,
		old_value TEXT,
		new_value TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_merge_logs_property ON merge_logs(property_id);
	`
	_, err := db.conn.Exec(query)
	return err
}

const propertyColumns = `id, address, area, property_type, price, bedrooms, bathrooms,
	square_feet, developer, completion_date, amenities, listed_at,
	quality_score, duplicate_resolved, investment_grade, estimated_yield,
	price_sqft_percentile, enrichment_warning, vector_index_pending,
	source_file, observed_at, created_at, updated_at`

// UpsertMerge commits a record with a single INSERT ... ON CONFLICT statement
// whose SET clause encodes the field-level merge policy, so concurrent
// batches writing the same identity key merge atomically inside Postgres.
// The pre-read only feeds the merge log; correctness never depends on it.
func (db *DB) UpsertMerge(ctx context.Context, record *models.PropertyRecord, policy *dedupe.Policy) (bool, *models.PropertyRecord, []dedupe.FieldChange, error) {
	if record.ObservedAt.IsZero() {
		record.ObservedAt = time.Now()
	}

	existing, err := db.GetProperty(ctx, record.ID)
	if err != nil && err != sql.ErrNoRows {
		return false, nil, nil, err
	}

	amenities, err := record.Amenities.Value()
	if err != nil {
		return false, nil, nil, err
	}

	query := fmt.Sprintf(`
	INSERT INTO properties (
		id, address, area, property_type, price, bedrooms, bathrooms,
		square_feet, developer, completion_date, amenities, listed_at,
		quality_score, duplicate_resolved, investment_grade, estimated_yield,
		price_sqft_percentile, enrichment_warning, vector_index_pending,
		source_file, observed_at, created_at, updated_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
	        $13, FALSE, $14, $15, $16, $17, $18, $19, $20, NOW(), NOW())
	ON CONFLICT (id) DO UPDATE SET
		%s,
		quality_score = EXCLUDED.quality_score,
		duplicate_resolved = TRUE,
		investment_grade = EXCLUDED.investment_grade,
		estimated_yield = EXCLUDED.estimated_yield,
		price_sqft_percentile = EXCLUDED.price_sqft_percentile,
		enrichment_warning = EXCLUDED.enrichment_warning,
		vector_index_pending = EXCLUDED.vector_index_pending,
		source_file = EXCLUDED.source_file,
		observed_at = EXCLUDED.observed_at,
		updated_at = NOW()
	RETURNING (xmax <> 0), %s`, mergeSetClause(policy), propertyColumns)

	row := db.conn.QueryRowContext(ctx, query,
		record.ID, record.Address, record.Area, nullStr(record.PropertyType),
		record.Price, record.Bedrooms, record.Bathrooms, record.SquareFeet,
		nullStr(record.Developer), record.Completion, amenities, record.ListedAt,
		record.QualityScore, nullStr(record.InvestmentGrade), record.EstimatedYield,
		record.PriceSqftPercentile, nullStr(record.EnrichmentWarning),
		record.VectorIndexPending, nullStr(record.SourceFile), record.ObservedAt)

	var wasMerge bool
	final, err := scanProperty(row, &wasMerge)
	if err != nil {
		return false, nil, nil, err
	}

	var changes []dedupe.FieldChange
	if wasMerge && existing != nil {
		_, changes = policy.Merge(existing, record)
	}
	return wasMerge, final, changes, nil
}

// mergeSetClause builds the policy-driven part of the ON CONFLICT SET list.
// Recent non-null values win; non-overridable fields keep their first value.
func mergeSetClause(policy *dedupe.Policy) string {
	expr := func(field, recentWins, keepFirst string) string {
		if policy.Overridable(field) {
			return recentWins
		}
		return keepFirst
	}

	clauses := []string{
		expr("address",
			`address = CASE WHEN EXCLUDED.address <> '' THEN EXCLUDED.address ELSE properties.address END`,
			`address = properties.address`),
		expr("area",
			`area = CASE WHEN EXCLUDED.area <> '' AND EXCLUDED.area <> 'unknown' THEN EXCLUDED.area ELSE properties.area END`,
			`area = properties.area`),
		expr("property_type",
			`property_type = COALESCE(NULLIF(EXCLUDED.property_type, ''), properties.property_type)`,
			`property_type = properties.property_type`),
		expr("price",
			`price = COALESCE(EXCLUDED.price, properties.price)`,
			`price = properties.price`),
		expr("bedrooms",
			`bedrooms = COALESCE(EXCLUDED.bedrooms, properties.bedrooms)`,
			`bedrooms = properties.bedrooms`),
		expr("bathrooms",
			`bathrooms = COALESCE(EXCLUDED.bathrooms, properties.bathrooms)`,
			`bathrooms = properties.bathrooms`),
		expr("square_feet",
			`square_feet = COALESCE(EXCLUDED.square_feet, properties.square_feet)`,
			`square_feet = properties.square_feet`),
		expr("developer",
			`developer = COALESCE(NULLIF(EXCLUDED.developer, ''), properties.developer)`,
			`developer = properties.developer`),
		expr("completion_date",
			`completion_date = COALESCE(EXCLUDED.completion_date, properties.completion_date)`,
			`completion_date = properties.completion_date`),
		expr("amenities",
			`amenities = CASE WHEN EXCLUDED.amenities NOT IN ('', '[]') THEN EXCLUDED.amenities ELSE properties.amenities END`,
			`amenities = properties.amenities`),
		expr("listed_at",
			`listed_at = COALESCE(EXCLUDED.listed_at, properties.listed_at)`,
			`listed_at = COALESCE(properties.listed_at, EXCLUDED.listed_at)`),
	}
	return strings.Join(clauses, ",\n\t\t")
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProperty(row rowScanner, merged *bool) (*models.PropertyRecord, error) {
	var (
		p            models.PropertyRecord
		propertyType sql.NullString
		developer    sql.NullString
		amenities    sql.NullString
		grade        sql.NullString
		warning      sql.NullString
		sourceFile   sql.NullString
	)

	dest := []interface{}{}
	if merged != nil {
		dest = append(dest, merged)
	}
	dest = append(dest,
		&p.ID, &p.Address, &p.Area, &propertyType, &p.Price, &p.Bedrooms, &p.Bathrooms,
		&p.SquareFeet, &developer, &p.Completion, &amenities, &p.ListedAt,
		&p.QualityScore, &p.DuplicateResolved, &grade, &p.EstimatedYield,
		&p.PriceSqftPercentile, &warning, &p.VectorIndexPending,
		&sourceFile, &p.ObservedAt, &p.CreatedAt, &p.UpdatedAt)

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	p.PropertyType = propertyType.String
	p.Developer = developer.String
	p.InvestmentGrade = grade.String
	p.EnrichmentWarning = warning.String
	p.SourceFile = sourceFile.String
	if amenities.Valid && amenities.String != "" {
		if err := p.Amenities.Scan(amenities.String); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

func nullStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// GetProperty retrieves a property by identity key
func (db *DB) GetProperty(ctx context.Context, id string) (*models.PropertyRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM properties WHERE id = $1`, propertyColumns)
	record, err := scanProperty(db.conn.QueryRowContext(ctx, query, id), nil)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return record, err
}

// QueryProperties retrieves properties matching the read-API filters
func (db *DB) QueryProperties(ctx context.Context, filters PropertyFilters) ([]models.PropertyRecord, error) {
	var (
		conditions []string
		args       []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filters.Area != "" {
		conditions = append(conditions, "area = "+arg(filters.Area))
	}
	if filters.PropertyType != "" {
		conditions = append(conditions, "property_type = "+arg(filters.PropertyType))
	}
	if filters.MinPrice != nil {
		conditions = append(conditions, "price >= "+arg(*filters.MinPrice))
	}
	if filters.MaxPrice != nil {
		conditions = append(conditions, "price <= "+arg(*filters.MaxPrice))
	}
	if filters.Bedrooms != nil {
		conditions = append(conditions, "bedrooms = "+arg(*filters.Bedrooms))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	limit := filters.Limit
	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf(`SELECT %s FROM properties %s ORDER BY created_at DESC LIMIT %d`,
		propertyColumns, where, limit)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectProperties(rows)
}

// AllProperties retrieves every property, used to rebuild derived indexes
func (db *DB) AllProperties(ctx context.Context) ([]models.PropertyRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM properties ORDER BY created_at DESC`, propertyColumns)
	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectProperties(rows)
}

func collectProperties(rows *sql.Rows) ([]models.PropertyRecord, error) {
	var records []models.PropertyRecord
	for rows.Next() {
		p, err := scanProperty(rows, nil)
		if err != nil {
			return nil, err
		}
		records = append(records, *p)
	}
	return records, rows.Err()
}

// SetVectorPending flags whether the vector index lags the committed row
func (db *DB) SetVectorPending(ctx context.Context, id string, pending bool) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE properties SET vector_index_pending = $1, updated_at = NOW() WHERE id = $2`,
		pending, id)
	return err
}

// CreateRun persists a new processing run row
func (db *DB) CreateRun(ctx context.Context, run *models.ProcessingRun) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO processing_runs (id, source, format, status, ingested, accepted,
			quarantined, duplicates_merged, enriched, persisted, failed, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		run.ID, run.Source, run.Format, run.Status, run.Ingested, run.Accepted,
		run.Quarantined, run.DuplicatesMerged, run.Enriched, run.Persisted,
		run.Failed, run.StartedAt, run.FinishedAt)
	return err
}

// UpdateRun saves run progress and final status
func (db *DB) UpdateRun(ctx context.Context, run *models.ProcessingRun) error {
	_, err := db.conn.ExecContext(ctx, `
		UPDATE processing_runs SET status = $2, ingested = $3, accepted = $4,
			quarantined = $5, duplicates_merged = $6, enriched = $7, persisted = $8,
			failed = $9, finished_at = $10
		WHERE id = $1`,
		run.ID, run.Status, run.Ingested, run.Accepted, run.Quarantined,
		run.DuplicatesMerged, run.Enriched, run.Persisted, run.Failed, run.FinishedAt)
	return err
}

// RecentRuns returns the latest runs, newest first
func (db *DB) RecentRuns(ctx context.Context, limit int) ([]models.ProcessingRun, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, source, format, status, ingested, accepted, quarantined,
			duplicates_merged, enriched, persisted, failed, started_at, finished_at
		FROM processing_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.ProcessingRun
	for rows.Next() {
		var (
			run    models.ProcessingRun
			format sql.NullString
		)
		if err := rows.Scan(&run.ID, &run.Source, &format, &run.Status,
			&run.Ingested, &run.Accepted, &run.Quarantined, &run.DuplicatesMerged,
			&run.Enriched, &run.Persisted, &run.Failed, &run.StartedAt, &run.FinishedAt); err != nil {
			return nil, err
		}
		run.Format = format.String
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// SaveQuarantined retains a hard-rejected row for the run report
func (db *DB) SaveQuarantined(ctx context.Context, rec *models.QuarantinedRecord) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO quarantined_records (run_id, source_id, row_index, reasons)
		VALUES ($1, $2, $3, $4)`,
		rec.RunID, rec.SourceID, rec.Row, rec.Reasons)
	return err
}

// QuarantinedForRun lists the quarantined rows of one run
func (db *DB) QuarantinedForRun(ctx context.Context, runID string) ([]models.QuarantinedRecord, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, run_id, source_id, row_index, reasons, created_at
		FROM quarantined_records WHERE run_id = $1`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []models.QuarantinedRecord
	for rows.Next() {
		var rec models.QuarantinedRecord
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.SourceID, &rec.Row,
			&rec.Reasons, &rec.CreatedAt); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// SaveMergeLogs records superseded values of duplicate merges
func (db *DB) SaveMergeLogs(ctx context.Context, logs []models.MergeLog) error {
	if len(logs) == 0 {
		return nil
	}
	for _, entry := range logs {
		if _, err := db.conn.ExecContext(ctx, `
			INSERT INTO merge_logs (property_id, run_id, field, old_value, new_value)
			VALUES ($1, $2, $3, $4, $5)`,
			entry.PropertyID, entry.RunID, entry.Field, entry.OldValue, entry.NewValue); err != nil {
			return err
		}
	}
	return nil
}

// EnqueueVectorWrite schedules an idempotent vector-index write
func (db *DB) EnqueueVectorWrite(ctx context.Context, propertyID string) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO vector_index_queue (property_id, status)
		VALUES ($1, 'pending')
		ON CONFLICT (property_id) DO UPDATE SET
			status = 'pending',
			attempts = 0,
			last_error = '',
			next_retry_at = NULL,
			completed_at = NULL,
			updated_at = NOW()`,
		propertyID)
	return err
}

// NextVectorTask returns the next queue item ready for processing
func (db *DB) NextVectorTask(ctx context.Context) (*models.VectorIndexQueue, error) {
	task, err := db.scanVectorTask(ctx, `
		SELECT id, property_id, status, attempts, last_error, next_retry_at,
			created_at, updated_at, completed_at
		FROM vector_index_queue WHERE status = 'pending'
		ORDER BY created_at ASC LIMIT 1`)
	if err != nil || task != nil {
		return task, err
	}

	return db.scanVectorTask(ctx, `
		SELECT id, property_id, status, attempts, last_error, next_retry_at,
			created_at, updated_at, completed_at
		FROM vector_index_queue
		WHERE status = 'failed' AND next_retry_at IS NOT NULL AND next_retry_at <= NOW()
		ORDER BY created_at ASC LIMIT 1`)
}

func (db *DB) scanVectorTask(ctx context.Context, query string) (*models.VectorIndexQueue, error) {
	var (
		task      models.VectorIndexQueue
		lastError sql.NullString
	)
	err := db.conn.QueryRowContext(ctx, query).Scan(
		&task.ID, &task.PropertyID, &task.Status, &task.Attempts, &lastError,
		&task.NextRetryAt, &task.CreatedAt, &task.UpdatedAt, &task.CompletedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	task.LastError = lastError.String
	return &task, nil
}

// UpdateVectorTask saves queue item state
func (db *DB) UpdateVectorTask(ctx context.Context, task *models.VectorIndexQueue) error {
	_, err := db.conn.ExecContext(ctx, `
		UPDATE vector_index_queue SET status = $2, attempts = $3, last_error = $4,
			next_retry_at = $5, completed_at = $6, updated_at = NOW()
		WHERE id = $1`,
		task.ID, task.Status, task.Attempts, task.LastError, task.NextRetryAt, task.CompletedAt)
	return err
}

// VectorQueueDepth counts items still waiting for an index write
func (db *DB) VectorQueueDepth(ctx context.Context) (int64, error) {
	var depth int64
	err := db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM vector_index_queue
		WHERE status IN ('pending', 'processing', 'failed')`).Scan(&depth)
	return depth, err
}

// VectorQueueStats returns per-status queue counts
func (db *DB) VectorQueueStats(ctx context.Context) (map[string]int64, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM vector_index_queue GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[string]int64{
		models.QueueStatusPending:       0,
		models.QueueStatusProcessing:    0,
		models.QueueStatusDone:          0,
		models.QueueStatusFailed:        0,
		models.QueueStatusPermanentFail: 0,
	}
	for rows.Next() {
		var (
			status string
			count  int64
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Stats aggregates the statistics API surface
func (db *DB) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(AVG(quality_score), 0) FROM properties`).
		Scan(&stats.TotalProperties, &stats.AverageQualityScore)
	if err != nil {
		return nil, err
	}

	runs, err := db.RecentRuns(ctx, 10)
	if err != nil {
		return nil, err
	}
	stats.RecentRuns = runs
	stats.AverageProcessingTime = averageRunDuration(runs)

	return stats, nil
}
