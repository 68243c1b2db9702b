// Package pipeline sequences ingestion, normalization, validation,
// deduplication, enrichment and persistence over a batch of sources, tracking
// a ProcessingRun per source. The structured-store upsert is the commit
// point; vector indexing is deferred to the queue worker.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"property-intel/internal/config"
	"property-intel/internal/database"
	"property-intel/internal/dedupe"
	"property-intel/internal/enrich"
	"property-intel/internal/ingest"
	"property-intel/internal/models"
	"property-intel/internal/normalize"
	"property-intel/internal/search"
	"property-intel/internal/validate"
)

// Pipeline drives the ingestion stages. Safe for concurrent Process calls;
// duplicate identity keys across concurrent runs resolve in the store.
type Pipeline struct {
	cfg        *config.Config
	store      database.Store
	search     *search.SearchClient
	normalizer *normalize.Normalizer
	validator  *validate.Validator
	policy     *dedupe.Policy
	profiles   *enrich.ProfileSet
}

// New builds a Pipeline. The market profile set is loaded once here and
// stays immutable for the Pipeline's lifetime; construct a new Pipeline to
// pick up changed reference data. searchClient may be nil.
func New(cfg *config.Config, store database.Store, searchClient *search.SearchClient) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		store:      store,
		search:     searchClient,
		normalizer: normalize.New(cfg.Aliases),
		validator:  validate.New(cfg.Validation),
		policy:     dedupe.NewPolicy(cfg.Dedupe.NonOverridableFields),
		profiles:   enrich.NewProfileSet(cfg.Enrichment),
	}
}

// RecordError is one per-record or per-source failure in a run.
type RecordError struct {
	Source string `json:"source"`
	Reason string `json:"reason"`
}

// RunResult is the outcome of processing one source.
type RunResult struct {
	RunID              string        `json:"run_id"`
	Source             string        `json:"source"`
	Success            bool          `json:"success"`
	RecordsStored      int           `json:"records_stored"`
	RecordsQuarantined int           `json:"records_quarantined"`
	DuplicatesMerged   int           `json:"duplicates_merged"`
	Errors             []RecordError `json:"errors,omitempty"`
}

// BatchResult aggregates per-file RunResults for a directory run.
type BatchResult struct {
	Directory          string       `json:"directory"`
	Files              int          `json:"files"`
	Success            bool         `json:"success"`
	RecordsStored      int          `json:"records_stored"`
	RecordsQuarantined int          `json:"records_quarantined"`
	DuplicatesMerged   int          `json:"duplicates_merged"`
	Results            []*RunResult `json:"results"`
}

// stagedRecord carries a candidate through the stages with enough of the raw
// row left to report quarantines against the source layout.
type stagedRecord struct {
	sourceID string
	row      int
	record   *models.PropertyRecord
}

// Process runs the full pipeline over one source file. Record-level failures
// accumulate in the result; the returned RunResult is never nil and Process
// never returns them as its own error.
func (p *Pipeline) Process(ctx context.Context, source string, format ingest.Format) *RunResult {
	run := &models.ProcessingRun{
		ID:        uuid.NewString(),
		Source:    source,
		Format:    string(format),
		Status:    models.RunStatusCreated,
		StartedAt: time.Now(),
	}
	result := &RunResult{RunID: run.ID, Source: source}

	if err := p.store.CreateRun(ctx, run); err != nil {
		result.Errors = append(result.Errors, RecordError{Source: source, Reason: fmt.Sprintf("create run: %v", err)})
		return result
	}

	log.Printf("Pipeline: run %s started for %s (%s)", run.ID, source, format)

	// Ingest
	p.advance(run, models.RunStatusIngesting)
	raws, ingestAborted := p.ingestSource(ctx, run, source, format, result)
	if cancelled := p.checkCancelled(ctx, run, result); cancelled {
		return result
	}

	// Normalize
	p.advance(run, models.RunStatusNormalizing)
	staged := make([]stagedRecord, 0, len(raws))
	for _, raw := range raws {
		staged = append(staged, stagedRecord{
			sourceID: raw.SourceID,
			row:      raw.Row,
			record:   p.normalizer.Normalize(raw),
		})
	}
	raws = nil

	// Validate
	p.advance(run, models.RunStatusValidating)
	accepted := staged[:0]
	for _, sr := range staged {
		if cancelled := p.checkCancelled(ctx, run, result); cancelled {
			return result
		}
		vres := p.validator.Validate(sr.record)
		if vres.Quarantined() {
			run.Quarantined++
			result.RecordsQuarantined++
			q := &models.QuarantinedRecord{
				RunID:    run.ID,
				SourceID: sr.sourceID,
				Row:      sr.row,
				Reasons:  vres.Reasons(),
			}
			if err := p.store.SaveQuarantined(ctx, q); err != nil {
				log.Printf("Pipeline: failed to save quarantine record: %v", err)
			}
			continue
		}
		sr.record.QualityScore = vres.QualityScore
		accepted = append(accepted, sr)
	}
	run.Accepted = len(accepted)

	// Deduplicate: assign identity keys. Collisions collapse in the store's
	// atomic upsert-with-merge, both within this batch and across runs.
	p.advance(run, models.RunStatusDeduplicating)
	for i := range accepted {
		r := accepted[i].record
		r.ID = dedupe.IdentityKey(r.Address, r.Area, r.Developer)
		r.SourceFile = accepted[i].sourceID
	}

	// Enrich
	p.advance(run, models.RunStatusEnriching)
	for i := range accepted {
		if cancelled := p.checkCancelled(ctx, run, result); cancelled {
			return result
		}
		enrich.Enrich(accepted[i].record, p.profiles)
		run.Enriched++
	}

	// Persist
	p.advance(run, models.RunStatusPersisting)
	for i := range accepted {
		if cancelled := p.checkCancelled(ctx, run, result); cancelled {
			return result
		}
		p.applyBackpressure(ctx)

		var fatal *RunFatalError
		if err := p.persistRecord(ctx, run, accepted[i], result); errors.As(err, &fatal) {
			log.Printf("Pipeline: run %s fatal: %v", run.ID, fatal)
			result.Errors = append(result.Errors, RecordError{Source: source, Reason: fatal.Error()})
			p.finalize(run, models.RunStatusFailed)
			return result
		}
	}

	p.finalize(run, models.RunStatusCompleted)
	result.Success = !ingestAborted && run.Failed == 0
	log.Printf("Pipeline: run %s completed: %d stored, %d quarantined, %d merged, %d failed",
		run.ID, result.RecordsStored, result.RecordsQuarantined, result.DuplicatesMerged, run.Failed)
	return result
}

// RunBatch processes every matching file in a directory over a bounded worker
// pool and aggregates the per-file results.
func (p *Pipeline) RunBatch(ctx context.Context, dir string, formats []ingest.Format) (*BatchResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("pipeline: read batch directory: %w", err)
	}

	wanted := make(map[ingest.Format]bool, len(formats))
	for _, f := range formats {
		wanted[f] = true
	}

	type job struct {
		path   string
		format ingest.Format
	}
	var jobs []job
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		format, ok := ingest.DetectFormat(entry.Name())
		if !ok || !wanted[format] {
			continue
		}
		jobs = append(jobs, job{path: filepath.Join(dir, entry.Name()), format: format})
	}

	batch := &BatchResult{Directory: dir, Files: len(jobs), Success: true}
	if len(jobs) == 0 {
		return batch, nil
	}

	workers := p.cfg.Pipeline.Workers
	if workers <= 0 {
		workers = 1
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("pipeline: create worker pool: %w", err)
	}
	defer pool.Release()

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, j := range jobs {
		j := j
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			res := p.Process(ctx, j.path, j.format)
			mu.Lock()
			batch.Results = append(batch.Results, res)
			mu.Unlock()
		})
		if submitErr != nil {
			wg.Done()
			mu.Lock()
			batch.Results = append(batch.Results, &RunResult{
				Source: j.path,
				Errors: []RecordError{{Source: j.path, Reason: fmt.Sprintf("submit: %v", submitErr)}},
			})
			mu.Unlock()
		}
	}
	wg.Wait()

	for _, res := range batch.Results {
		batch.RecordsStored += res.RecordsStored
		batch.RecordsQuarantined += res.RecordsQuarantined
		batch.DuplicatesMerged += res.DuplicatesMerged
		if !res.Success {
			batch.Success = false
		}
	}
	return batch, nil
}

// ingestSource reads every raw row from the source. An ingestion error aborts
// only this source; rows read before the failure still flow through the
// pipeline. The bool reports whether the source was aborted mid-read.
func (p *Pipeline) ingestSource(ctx context.Context, run *models.ProcessingRun, source string, format ingest.Format, result *RunResult) ([]*models.RawRecord, bool) {
	reader, err := ingest.Open(source, format)
	if err != nil {
		result.Errors = append(result.Errors, RecordError{Source: source, Reason: err.Error()})
		return nil, true
	}
	defer reader.Close()

	var raws []*models.RawRecord
	for {
		if ctx.Err() != nil {
			return raws, false
		}
		raw, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Printf("Pipeline: ingestion aborted for %s at row %d: %v", source, len(raws)+1, err)
			result.Errors = append(result.Errors, RecordError{Source: source, Reason: err.Error()})
			return raws, true
		}
		raws = append(raws, raw)
		run.Ingested++
	}
	return raws, false
}

// persistRecord commits one record to the structured store with bounded
// retries, then enqueues the vector-index write and refreshes the search
// index best-effort. Returns a RunFatalError when the store is unreachable.
func (p *Pipeline) persistRecord(ctx context.Context, run *models.ProcessingRun, sr stagedRecord, result *RunResult) error {
	record := sr.record
	record.VectorIndexPending = true
	if record.ObservedAt.IsZero() {
		record.ObservedAt = time.Now()
	}

	maxRetries := p.cfg.Pipeline.StoreMaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}

	var merged bool
	var final *models.PropertyRecord
	var changes []dedupe.FieldChange
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(p.cfg.Pipeline.GetStoreRetryDelay()):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		callCtx, cancel := context.WithTimeout(ctx, p.cfg.Pipeline.GetStoreTimeout())
		merged, final, changes, lastErr = p.store.UpsertMerge(callCtx, record, p.policy)
		cancel()
		if lastErr == nil {
			break
		}
	}

	if lastErr != nil {
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		pingErr := p.store.Ping(pingCtx)
		cancel()
		if pingErr != nil {
			return &RunFatalError{Stage: string(models.RunStatusPersisting), Err: lastErr}
		}
		run.Failed++
		perr := &PersistenceError{PropertyID: record.ID, Err: lastErr}
		result.Errors = append(result.Errors, RecordError{Source: sr.sourceID, Reason: perr.Error()})
		log.Printf("Pipeline: %v", perr)
		return nil
	}

	run.Persisted++
	result.RecordsStored++
	if merged {
		run.DuplicatesMerged++
		result.DuplicatesMerged++
		if len(changes) > 0 {
			logs := make([]models.MergeLog, len(changes))
			for i, c := range changes {
				logs[i] = models.MergeLog{
					PropertyID: record.ID,
					RunID:      run.ID,
					Field:      c.Field,
					OldValue:   c.OldValue,
					NewValue:   c.NewValue,
				}
			}
			if err := p.store.SaveMergeLogs(ctx, logs); err != nil {
				log.Printf("Pipeline: failed to save merge log for %s: %v", record.ID, err)
			}
		}
	}

	// The structured write above is the commit point. Vector indexing is
	// queued and drained asynchronously; the search index refresh is
	// best-effort since it is rebuildable from the store.
	if err := p.store.EnqueueVectorWrite(ctx, record.ID); err != nil {
		log.Printf("Pipeline: failed to enqueue vector write for %s: %v", record.ID, err)
	}
	if p.search != nil && final != nil {
		if err := p.search.IndexProperty(final); err != nil {
			log.Printf("Pipeline: search index update failed for %s: %v", record.ID, err)
		}
	}
	return nil
}

// applyBackpressure slows ingestion while the vector queue is over its
// configured depth, so a long vector-store outage cannot grow the queue
// without bound.
func (p *Pipeline) applyBackpressure(ctx context.Context) {
	limit := int64(p.cfg.Vector.QueueLimit)
	if limit <= 0 {
		return
	}
	for {
		depth, err := p.store.VectorQueueDepth(ctx)
		if err != nil || depth < limit {
			return
		}
		log.Printf("Pipeline: vector queue depth %d over limit %d, pausing", depth, limit)
		select {
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
			return
		}
	}
}

// checkCancelled finalizes the run as cancelled when the context is done.
func (p *Pipeline) checkCancelled(ctx context.Context, run *models.ProcessingRun, result *RunResult) bool {
	if ctx.Err() == nil {
		return false
	}
	result.Errors = append(result.Errors, RecordError{Source: run.Source, Reason: "run cancelled"})
	p.finalize(run, models.RunStatusCancelled)
	log.Printf("Pipeline: run %s cancelled", run.ID)
	return true
}

// advance moves the run to the next stage. Progress updates are best-effort;
// the authoritative finalization happens exactly once in finalize.
func (p *Pipeline) advance(run *models.ProcessingRun, status models.RunStatus) {
	if run.Status.IsTerminal() {
		return
	}
	run.Status = status
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.store.UpdateRun(ctx, run); err != nil {
		log.Printf("Pipeline: failed to update run %s: %v", run.ID, err)
	}
}

// finalize writes the terminal state. Uses a fresh context so cancellation of
// the run context cannot lose the terminal row.
func (p *Pipeline) finalize(run *models.ProcessingRun, status models.RunStatus) {
	if run.Status.IsTerminal() {
		return
	}
	run.Status = status
	now := time.Now()
	run.FinishedAt = &now
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.store.UpdateRun(ctx, run); err != nil {
		log.Printf("Pipeline: failed to finalize run %s: %v", run.ID, err)
	}
}
