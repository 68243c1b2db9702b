// Package scheduler holds the background surfaces: the cron-driven re-ingestion
// of the watch directory and the vector queue worker.
package scheduler

import (
	"context"
	"fmt"
	"log"

	"github.com/robfig/cron/v3"

	"property-intel/internal/config"
	"property-intel/internal/ingest"
	"property-intel/internal/pipeline"
)

// Scheduler re-runs the ingestion batch on a daily schedule. Re-runs are safe
// because persistence is upsert-based; unchanged files converge to the same
// rows.
type Scheduler struct {
	cron      *cron.Cron
	pipeline  *pipeline.Pipeline
	config    *config.Config
	isRunning bool
}

// NewScheduler creates a new scheduler.
func NewScheduler(p *pipeline.Pipeline, cfg *config.Config) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		pipeline: p,
		config:   cfg,
	}
}

// Start registers the daily job and starts the cron loop.
func (s *Scheduler) Start() error {
	if !s.config.Scheduler.DailyRunEnabled {
		log.Println("Scheduler: Daily run is disabled in configuration")
		return nil
	}
	if s.config.Scheduler.WatchDirectory == "" {
		log.Println("Scheduler: No watch directory configured, daily run skipped")
		return nil
	}

	cronSpec := s.parseDailyRunTime(s.config.Scheduler.DailyRunTime)

	_, err := s.cron.AddFunc(cronSpec, func() {
		log.Println("Scheduler: Starting daily ingestion job...")
		if err := s.runDailyIngestion(); err != nil {
			log.Printf("Scheduler: Daily ingestion failed: %v", err)
		} else {
			log.Println("Scheduler: Daily ingestion completed successfully")
		}
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	s.isRunning = true
	log.Printf("Scheduler: Started with daily run at %s (cron: %s)", s.config.Scheduler.DailyRunTime, cronSpec)
	return nil
}

// Stop stops the cron loop.
func (s *Scheduler) Stop() {
	if s.isRunning {
		s.cron.Stop()
		s.isRunning = false
		log.Println("Scheduler: Stopped")
	}
}

// runDailyIngestion re-processes every matching file in the watch directory.
func (s *Scheduler) runDailyIngestion() error {
	formats := make([]ingest.Format, 0, len(s.config.Scheduler.WatchFormats))
	for _, f := range s.config.Scheduler.WatchFormats {
		formats = append(formats, ingest.Format(f))
	}

	batch, err := s.pipeline.RunBatch(context.Background(), s.config.Scheduler.WatchDirectory, formats)
	if err != nil {
		return err
	}

	log.Printf("Scheduler: Daily ingestion processed %d files: %d stored, %d quarantined, %d merged",
		batch.Files, batch.RecordsStored, batch.RecordsQuarantined, batch.DuplicatesMerged)
	if !batch.Success {
		return fmt.Errorf("daily ingestion finished with failures")
	}
	return nil
}

// RunNow immediately executes the daily ingestion job (for manual trigger)
func (s *Scheduler) RunNow() error {
	log.Println("Scheduler: Manual trigger - starting ingestion job...")
	return s.runDailyIngestion()
}

// parseDailyRunTime converts HH:MM format to cron specification
// Example: "02:00" -> "0 2 * * *" (run at 2:00 AM every day)
func (s *Scheduler) parseDailyRunTime(timeStr string) string {
	var hour, minute int
	n, _ := fmt.Sscanf(timeStr, "%d:%d", &hour, &minute)
	if n == 2 {
		return fmt.Sprintf("%d %d * * *", minute, hour)
	}

	log.Printf("Scheduler: Failed to parse time '%s', using default 02:00", timeStr)
	return "0 2 * * *"
}
