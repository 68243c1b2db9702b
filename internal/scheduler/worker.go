package scheduler

import (
	"context"
	"errors"
	"log"
	"time"

	"property-intel/internal/database"
	"property-intel/internal/models"
	"property-intel/internal/vector"
)

var errPropertyGone = errors.New("property row no longer exists")

// QueueWorker drains the vector_index_queue: it embeds each committed
// record's descriptive text and upserts the point into the vector store,
// retrying with backoff on failure. The structured store stays authoritative
// the whole time; the worker only ever catches the vector index up.
type QueueWorker struct {
	store        database.Store
	vectors      *vector.VectorStore
	stopChan     chan struct{}
	isRunning    bool
	pollInterval time.Duration
	callTimeout  time.Duration
	maxAttempts  int
}

// NewQueueWorker creates a queue worker.
func NewQueueWorker(store database.Store, vectors *vector.VectorStore, callTimeout time.Duration, maxAttempts int) *QueueWorker {
	if maxAttempts <= 0 {
		maxAttempts = models.MaxQueueAttempts
	}
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}
	return &QueueWorker{
		store:        store,
		vectors:      vectors,
		stopChan:     make(chan struct{}),
		pollInterval: 5 * time.Second,
		callTimeout:  callTimeout,
		maxAttempts:  maxAttempts,
	}
}

// Start starts the worker loop.
func (w *QueueWorker) Start() {
	if w.isRunning {
		log.Println("QueueWorker: Already running")
		return
	}
	w.isRunning = true
	log.Printf("QueueWorker: Started (poll_interval=%v, max_attempts=%d)", w.pollInterval, w.maxAttempts)
	go w.run()
}

// Stop stops the worker loop.
func (w *QueueWorker) Stop() {
	if !w.isRunning {
		return
	}
	log.Println("QueueWorker: Stopping...")
	w.isRunning = false
	close(w.stopChan)
}

func (w *QueueWorker) run() {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopChan:
			log.Println("QueueWorker: Stopped")
			return
		case <-ticker.C:
			w.drainAvailable()
		}
	}
}

// drainAvailable processes queue items until the queue runs dry or the
// worker is asked to stop.
func (w *QueueWorker) drainAvailable() {
	for {
		select {
		case <-w.stopChan:
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), w.callTimeout)
		item, err := w.store.NextVectorTask(ctx)
		cancel()
		if err != nil {
			log.Printf("QueueWorker: Error fetching next queue item: %v", err)
			return
		}
		if item == nil {
			return
		}
		w.processItem(item)
	}
}

// Drain processes every currently available queue item once. Used by the CLI
// and manual triggers; the poll loop calls drainAvailable on its own.
func (w *QueueWorker) Drain(ctx context.Context) (int, error) {
	processed := 0
	for {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}
		item, err := w.store.NextVectorTask(ctx)
		if err != nil {
			return processed, err
		}
		if item == nil {
			return processed, nil
		}
		w.processItem(item)
		processed++
	}
}

// processItem indexes one property.
func (w *QueueWorker) processItem(item *models.VectorIndexQueue) {
	log.Printf("QueueWorker: Processing id=%d property_id=%s attempt=%d", item.ID, item.PropertyID, item.Attempts+1)

	ctx, cancel := context.WithTimeout(context.Background(), w.callTimeout)
	defer cancel()

	item.Status = models.QueueStatusProcessing
	item.Attempts++
	if err := w.store.UpdateVectorTask(ctx, item); err != nil {
		log.Printf("QueueWorker: Failed to update status to processing: %v", err)
		return
	}

	record, err := w.store.GetProperty(ctx, item.PropertyID)
	if err != nil {
		w.handleError(ctx, item, err, false)
		return
	}
	if record == nil {
		// Row vanished between commit and indexing. Nothing to index.
		w.handleError(ctx, item, errPropertyGone, true)
		return
	}

	if err := w.vectors.IndexProperty(ctx, record); err != nil {
		w.handleError(ctx, item, err, false)
		return
	}

	item.Status = models.QueueStatusDone
	item.LastError = ""
	now := time.Now()
	item.CompletedAt = &now
	item.NextRetryAt = nil
	if err := w.store.UpdateVectorTask(ctx, item); err != nil {
		log.Printf("QueueWorker: Failed to mark item as done: %v", err)
		return
	}
	if err := w.store.SetVectorPending(ctx, item.PropertyID, false); err != nil {
		log.Printf("QueueWorker: Failed to clear vector_index_pending for %s: %v", item.PropertyID, err)
	}
	log.Printf("QueueWorker: Completed id=%d property_id=%s", item.ID, item.PropertyID)
}

// handleError schedules a retry with backoff, or gives up after the attempt
// budget. The property row keeps vector_index_pending=true either way, so a
// full reindex can always repair the index.
func (w *QueueWorker) handleError(ctx context.Context, item *models.VectorIndexQueue, cause error, permanent bool) {
	log.Printf("QueueWorker: Index failed for id=%d property_id=%s: %v", item.ID, item.PropertyID, cause)

	now := time.Now()
	if permanent {
		item.Status = models.QueueStatusPermanentFail
		item.LastError = cause.Error()
		item.CompletedAt = &now
		item.NextRetryAt = nil
	} else if item.Attempts >= w.maxAttempts {
		log.Printf("QueueWorker: Max attempts exceeded for id=%d (%d attempts)", item.ID, item.Attempts)
		item.Status = models.QueueStatusPermanentFail
		item.LastError = cause.Error()
		item.CompletedAt = &now
		item.NextRetryAt = nil
	} else {
		delay := models.GetNextRetryDelay(item.Attempts - 1)
		nextRetry := now.Add(delay)
		item.Status = models.QueueStatusFailed
		item.LastError = cause.Error()
		item.NextRetryAt = &nextRetry
		log.Printf("QueueWorker: Scheduling retry for id=%d in %v (attempt %d/%d)",
			item.ID, delay, item.Attempts, w.maxAttempts)
	}

	if err := w.store.UpdateVectorTask(ctx, item); err != nil {
		log.Printf("QueueWorker: Failed to save retry status: %v", err)
	}
}

// GetQueueStats returns current queue statistics for the admin surface.
func (w *QueueWorker) GetQueueStats(ctx context.Context) map[string]interface{} {
	stats, err := w.store.VectorQueueStats(ctx)
	if err != nil {
		log.Printf("QueueWorker: Failed to read queue stats: %v", err)
		stats = map[string]int64{}
	}
	return map[string]interface{}{
		"pending":        stats[models.QueueStatusPending],
		"processing":     stats[models.QueueStatusProcessing],
		"done":           stats[models.QueueStatusDone],
		"failed":         stats[models.QueueStatusFailed],
		"permanent_fail": stats[models.QueueStatusPermanentFail],
		"is_running":     w.isRunning,
	}
}
