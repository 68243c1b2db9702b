package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"property-intel/internal/config"
	"property-intel/internal/database"
	"property-intel/internal/dedupe"
	"property-intel/internal/ingest"
	"property-intel/internal/models"
)

// fakeStore is an in-memory Store with the same upsert-with-merge semantics
// as the real backends.
type fakeStore struct {
	mu          sync.Mutex
	properties  map[string]*models.PropertyRecord
	runs        map[string]*models.ProcessingRun
	quarantined []models.QuarantinedRecord
	mergeLogs   []models.MergeLog
	queue       map[string]*models.VectorIndexQueue
	queueSeq    int64

	upsertErr error
	pingErr   error

	// failAfterUpserts makes UpsertMerge fail once this many calls have
	// committed, simulating connectivity loss partway through a run.
	failAfterUpserts int
	upsertCalls      int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		properties: make(map[string]*models.PropertyRecord),
		runs:       make(map[string]*models.ProcessingRun),
		queue:      make(map[string]*models.VectorIndexQueue),
	}
}

func (s *fakeStore) InitSchema() error              { return nil }
func (s *fakeStore) Ping(ctx context.Context) error { return s.pingErr }
func (s *fakeStore) Close() error                   { return nil }

func (s *fakeStore) UpsertMerge(ctx context.Context, record *models.PropertyRecord, policy *dedupe.Policy) (bool, *models.PropertyRecord, []dedupe.FieldChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.upsertErr != nil {
		return false, nil, nil, s.upsertErr
	}
	if s.failAfterUpserts > 0 && s.upsertCalls >= s.failAfterUpserts {
		return false, nil, nil, errors.New("connection reset by peer")
	}
	s.upsertCalls++

	existing, ok := s.properties[record.ID]
	if !ok {
		stored := *record
		s.properties[record.ID] = &stored
		final := stored
		return false, &final, nil, nil
	}

	merged, changes := policy.Merge(existing, record)
	s.properties[record.ID] = merged
	final := *merged
	return true, &final, changes, nil
}

func (s *fakeStore) GetProperty(ctx context.Context, id string) (*models.PropertyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.properties[id]
	if !ok {
		return nil, nil
	}
	out := *record
	return &out, nil
}

func (s *fakeStore) QueryProperties(ctx context.Context, filters database.PropertyFilters) ([]models.PropertyRecord, error) {
	return s.AllProperties(ctx)
}

func (s *fakeStore) AllProperties(ctx context.Context) ([]models.PropertyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.PropertyRecord, 0, len(s.properties))
	for _, record := range s.properties {
		out = append(out, *record)
	}
	return out, nil
}

func (s *fakeStore) SetVectorPending(ctx context.Context, id string, pending bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record, ok := s.properties[id]; ok {
		record.VectorIndexPending = pending
	}
	return nil
}

func (s *fakeStore) CreateRun(ctx context.Context, run *models.ProcessingRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *run
	s.runs[run.ID] = &stored
	return nil
}

func (s *fakeStore) UpdateRun(ctx context.Context, run *models.ProcessingRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *run
	s.runs[run.ID] = &stored
	return nil
}

func (s *fakeStore) RecentRuns(ctx context.Context, limit int) ([]models.ProcessingRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ProcessingRun, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, *run)
	}
	return out, nil
}

func (s *fakeStore) SaveQuarantined(ctx context.Context, rec *models.QuarantinedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quarantined = append(s.quarantined, *rec)
	return nil
}

func (s *fakeStore) QuarantinedForRun(ctx context.Context, runID string) ([]models.QuarantinedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.QuarantinedRecord
	for _, q := range s.quarantined {
		if q.RunID == runID {
			out = append(out, q)
		}
	}
	return out, nil
}

func (s *fakeStore) SaveMergeLogs(ctx context.Context, logs []models.MergeLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mergeLogs = append(s.mergeLogs, logs...)
	return nil
}

func (s *fakeStore) EnqueueVectorWrite(ctx context.Context, propertyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item, ok := s.queue[propertyID]; ok {
		item.Status = models.QueueStatusPending
		item.Attempts = 0
		return nil
	}
	s.queueSeq++
	s.queue[propertyID] = &models.VectorIndexQueue{
		ID:         s.queueSeq,
		PropertyID: propertyID,
		Status:     models.QueueStatusPending,
		CreatedAt:  time.Now(),
	}
	return nil
}

func (s *fakeStore) NextVectorTask(ctx context.Context) (*models.VectorIndexQueue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.queue {
		if item.Status == models.QueueStatusPending {
			out := *item
			return &out, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) UpdateVectorTask(ctx context.Context, task *models.VectorIndexQueue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *task
	s.queue[task.PropertyID] = &stored
	return nil
}

func (s *fakeStore) VectorQueueDepth(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var depth int64
	for _, item := range s.queue {
		if item.Status == models.QueueStatusPending || item.Status == models.QueueStatusProcessing {
			depth++
		}
	}
	return depth, nil
}

func (s *fakeStore) VectorQueueStats(ctx context.Context) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := make(map[string]int64)
	for _, item := range s.queue {
		stats[item.Status]++
	}
	return stats, nil
}

func (s *fakeStore) Stats(ctx context.Context) (*database.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &database.Stats{TotalProperties: int64(len(s.properties))}, nil
}

func (s *fakeStore) singleRun(t *testing.T) *models.ProcessingRun {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.Len(t, s.runs, 1)
	for _, run := range s.runs {
		return run
	}
	return nil
}

func writeTempCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "listings.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Pipeline.StoreMaxRetries = 1
	cfg.Pipeline.StoreRetrySeconds = 0
	return cfg
}

const mixedBatch = "address,area,price,beds,baths,size_sqft,developer\n" +
	"Marina Gate Tower 1,Dubai Marina,2500000,2,2,1350,Emaar\n" +
	"Villa 12,Palm Jumeirah,,5,6,7000,Nakheel\n" +
	"Bay Tower 3,Business Bay,1800000,,2,1100,DAMAC\n"

func TestProcessMixedBatch(t *testing.T) {
	store := newFakeStore()
	p := New(testConfig(), store, nil)

	source := writeTempCSV(t, mixedBatch)
	result := p.Process(context.Background(), source, ingest.FormatCSV)

	assert.True(t, result.Success)
	assert.Equal(t, 2, result.RecordsStored)
	assert.Equal(t, 1, result.RecordsQuarantined, "missing price is a hard violation")
	assert.Equal(t, 0, result.DuplicatesMerged)
	assert.Len(t, store.properties, 2)

	run := store.singleRun(t)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, 3, run.Ingested)
	assert.Equal(t, 2, run.Persisted)
	assert.Equal(t, 1, run.Quarantined)
	require.NotNil(t, run.FinishedAt)

	// Quarantined row is recorded against the run.
	quarantined, err := store.QuarantinedForRun(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, quarantined, 1)
	assert.Equal(t, 2, quarantined[0].Row)
	assert.Contains(t, quarantined[0].Reasons, "price")

	// Each stored record has a pending vector-index task.
	depth, err := store.VectorQueueDepth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), depth)

	// Accepted record missing bedrooms and completion date has a reduced
	// score but is persisted.
	for _, record := range store.properties {
		if record.Address == "Bay Tower 3" {
			assert.InDelta(t, 0.85, record.QualityScore, 0.0001)
		}
	}
}

// Running the same batch twice yields the same record count as running it
// once.
func TestProcessIdempotentRerun(t *testing.T) {
	store := newFakeStore()
	p := New(testConfig(), store, nil)

	source := writeTempCSV(t, mixedBatch)

	first := p.Process(context.Background(), source, ingest.FormatCSV)
	countAfterFirst := len(store.properties)

	second := p.Process(context.Background(), source, ingest.FormatCSV)

	assert.True(t, first.Success)
	assert.True(t, second.Success)
	assert.Equal(t, countAfterFirst, len(store.properties))
	assert.Equal(t, 2, second.DuplicatesMerged, "re-run converges through merges, not new rows")
}

// Two observations of the same listing in one batch collapse into a single
// record carrying the later price.
func TestProcessMergesDuplicateListings(t *testing.T) {
	store := newFakeStore()
	p := New(testConfig(), store, nil)

	source := writeTempCSV(t,
		"address,area,price,developer\n"+
			"Marina Gate Tower 1,Dubai Marina,2400000,Emaar\n"+
			"Marina Gate Tower 1,Dubai Marina,2500000,Emaar\n")

	result := p.Process(context.Background(), source, ingest.FormatCSV)

	assert.True(t, result.Success)
	assert.Equal(t, 1, result.DuplicatesMerged)
	require.Len(t, store.properties, 1)

	for _, record := range store.properties {
		require.NotNil(t, record.Price)
		assert.InDelta(t, 2500000.0, *record.Price, 0.001)
		assert.True(t, record.DuplicateResolved)
	}

	require.NotEmpty(t, store.mergeLogs)
	assert.Equal(t, "price", store.mergeLogs[0].Field)
}

func TestProcessEnrichesRecords(t *testing.T) {
	store := newFakeStore()
	p := New(testConfig(), store, nil)

	source := writeTempCSV(t,
		"address,area,price,size_sqft\n"+
			"Marina Gate Tower 1,Dubai Marina,2500000,1350\n"+
			"Plot 7,Unknown District,900000,2000\n")

	result := p.Process(context.Background(), source, ingest.FormatCSV)
	require.True(t, result.Success)

	var marina, unknown *models.PropertyRecord
	for _, record := range store.properties {
		switch record.Area {
		case "Dubai Marina":
			marina = record
		case models.AreaUnknown:
			unknown = record
		}
	}

	require.NotNil(t, marina)
	assert.Equal(t, "A", marina.InvestmentGrade)
	assert.NotNil(t, marina.EstimatedYield)

	require.NotNil(t, unknown)
	assert.Equal(t, "C", unknown.InvestmentGrade)
	assert.NotEmpty(t, unknown.EnrichmentWarning)
}

func TestProcessCancellation(t *testing.T) {
	store := newFakeStore()
	p := New(testConfig(), store, nil)

	source := writeTempCSV(t, mixedBatch)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := p.Process(ctx, source, ingest.FormatCSV)

	assert.False(t, result.Success)
	run := store.singleRun(t)
	assert.Equal(t, models.RunStatusCancelled, run.Status)
	require.NotNil(t, run.FinishedAt)
	assert.Empty(t, store.properties)
}

func TestProcessStoreOutageFailsRun(t *testing.T) {
	store := newFakeStore()
	store.upsertErr = errors.New("connection refused")
	store.pingErr = errors.New("connection refused")
	p := New(testConfig(), store, nil)

	source := writeTempCSV(t, mixedBatch)
	result := p.Process(context.Background(), source, ingest.FormatCSV)

	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Errors)
	run := store.singleRun(t)
	assert.Equal(t, models.RunStatusFailed, run.Status)
}

// A store that fails one record but stays reachable keeps the run going.
func TestProcessRecordFailureContinuesRun(t *testing.T) {
	store := newFakeStore()
	store.upsertErr = errors.New("deadlock victim")
	p := New(testConfig(), store, nil)

	source := writeTempCSV(t, mixedBatch)
	result := p.Process(context.Background(), source, ingest.FormatCSV)

	assert.False(t, result.Success, "persistence failures surface in the result")
	run := store.singleRun(t)
	assert.Equal(t, models.RunStatusCompleted, run.Status, "run completes despite record failures")
	assert.Equal(t, 2, run.Failed)
}

// Connectivity loss after the first record commits fails the run but keeps
// the committed row; re-running the batch converges through merges without
// duplicating it.
func TestProcessOutageRerunNoDuplicates(t *testing.T) {
	store := newFakeStore()
	store.failAfterUpserts = 1
	store.pingErr = errors.New("connection reset by peer")
	p := New(testConfig(), store, nil)

	source := writeTempCSV(t, mixedBatch)

	first := p.Process(context.Background(), source, ingest.FormatCSV)
	assert.False(t, first.Success)
	assert.Equal(t, 1, first.RecordsStored)
	require.Len(t, store.properties, 1)
	run := store.singleRun(t)
	assert.Equal(t, models.RunStatusFailed, run.Status)

	// Connectivity restored.
	store.failAfterUpserts = 0
	store.pingErr = nil

	second := p.Process(context.Background(), source, ingest.FormatCSV)
	assert.True(t, second.Success)
	assert.Equal(t, 2, second.RecordsStored)
	assert.Equal(t, 1, second.DuplicatesMerged, "the committed row is merged, not duplicated")
	assert.Len(t, store.properties, 2)
}

func TestProcessUnreadableSource(t *testing.T) {
	store := newFakeStore()
	p := New(testConfig(), store, nil)

	result := p.Process(context.Background(), filepath.Join(t.TempDir(), "missing.csv"), ingest.FormatCSV)

	assert.False(t, result.Success)
	require.Len(t, result.Errors, 1)
}

func TestRunBatchAggregates(t *testing.T) {
	store := newFakeStore()
	p := New(testConfig(), store, nil)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.csv"),
		[]byte("address,area,price\nMarina Gate Tower 1,Dubai Marina,2500000\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.csv"),
		[]byte("address,area,price\nVilla 12,Palm Jumeirah,12000000\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore me"), 0o644))

	result, err := p.RunBatch(context.Background(), dir, []ingest.Format{ingest.FormatCSV})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 2, result.Files)
	assert.Equal(t, 2, result.RecordsStored)
	assert.Len(t, store.properties, 2)
}

func TestRunBatchMissingDirectory(t *testing.T) {
	store := newFakeStore()
	p := New(testConfig(), store, nil)

	_, err := p.RunBatch(context.Background(), filepath.Join(t.TempDir(), "nope"), []ingest.Format{ingest.FormatCSV})
	assert.Error(t, err)
}
