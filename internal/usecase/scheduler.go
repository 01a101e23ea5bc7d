package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"FeedNotifier/internal/logging"
	"FeedNotifier/internal/ports"
)

// Job names registered with the scheduler driver.
const (
	JobIngest   = "ingest"
	JobDispatch = "dispatch"
)

// Scheduler wires the cron driver with the ingestion and dispatch use cases.
type Scheduler struct {
	driver     ports.Scheduler
	ingestor   *Ingestor
	dispatcher *Dispatcher
	logger     *slog.Logger
}

// NewScheduler returns a helper to start/stop recurring jobs.
func NewScheduler(driver ports.Scheduler, ingestor *Ingestor, dispatcher *Dispatcher, log *slog.Logger) *Scheduler {
	return &Scheduler{driver: driver, ingestor: ingestor, dispatcher: dispatcher, logger: logging.OrDiscard(log)}
}

// Start registers both jobs with their cron specs and starts the driver.
// An empty spec leaves that job unscheduled.
func (s *Scheduler) Start(ctx context.Context, ingestSpec, dispatchSpec string) error {
	if s.driver == nil {
		return nil
	}

	if ingestSpec != "" && s.ingestor != nil {
		err := s.driver.Schedule(JobIngest, ingestSpec, func(ctx context.Context) {
			if _, err := s.ingestor.Run(ctx); err != nil {
				s.logger.Error("scheduled ingest failed", "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("schedule ingest: %w", err)
		}
	}

	if dispatchSpec != "" && s.dispatcher != nil {
		err := s.driver.Schedule(JobDispatch, dispatchSpec, func(ctx context.Context) {
			if _, err := s.dispatcher.Run(ctx); err != nil {
				s.logger.Error("scheduled dispatch failed", "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("schedule dispatch: %w", err)
		}
	}

	return s.driver.Start(ctx)
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}
