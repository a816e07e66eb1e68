// Package scheduler runs the periodic jobs: sweeping due retries back
// onto the delivery queues and pruning old terminal events.
package scheduler

import (
	"context"
	"time"

	"github.com/relaypoint-io/relaypoint/common/logging"
	"github.com/relaypoint-io/relaypoint/internal/metrics"
	"github.com/relaypoint-io/relaypoint/internal/queue"
	"github.com/relaypoint-io/relaypoint/internal/repository"
)

// RetrySweeper re-enqueues events whose next-retry time has elapsed.
// The sweep is batch-bounded so a large backlog is drained over several
// ticks instead of one giant query.
type RetrySweeper struct {
	repo      repository.Repository
	queue     queue.Queue
	interval  time.Duration
	batchSize int
	logger    *logging.Logger
	now       func() time.Time
	stop      chan struct{}
	stopped   chan struct{}
}

func NewRetrySweeper(repo repository.Repository, q queue.Queue, interval time.Duration, batchSize int, logger *logging.Logger) *RetrySweeper {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &RetrySweeper{
		repo:      repo,
		queue:     q,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger,
		now:       time.Now,
		stop:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

// Start runs the sweep loop. Call in a goroutine.
func (s *RetrySweeper) Start(ctx context.Context) {
	defer close(s.stopped)

	s.logger.InfoContext(ctx, "retry sweeper started", "interval", s.interval.String())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Sweep(ctx)

	for {
		select {
		case <-ticker.C:
			s.Sweep(ctx)
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop signals the loop to exit and waits for it.
func (s *RetrySweeper) Stop() {
	close(s.stop)
	<-s.stopped
}

// Sweep publishes one batch of due events onto the retry queue and
// returns how many were enqueued.
func (s *RetrySweeper) Sweep(ctx context.Context) int {
	events, err := s.repo.DueRetries(ctx, s.now().UTC(), s.batchSize)
	if err != nil {
		s.logger.ErrorContext(ctx, "retry sweep failed", "error", err)
		return 0
	}
	if len(events) == 0 {
		return 0
	}

	swept := 0
	for _, event := range events {
		task := &queue.Task{EventID: event.ID, Attempt: event.AttemptCount}
		if err := s.queue.Publish(ctx, queue.Retry, task); err != nil {
			s.logger.ErrorContext(ctx, "failed to enqueue retry",
				"event_id", event.ID, "error", err)
			continue
		}
		// Clear next_retry_at so the next sweep does not enqueue the
		// same event again before a worker picks it up.
		if err := s.repo.UpdateEventStatus(ctx, event.ID, repository.EventStatusUpdate{
			Status:       event.Status,
			AttemptCount: event.AttemptCount,
		}); err != nil {
			s.logger.ErrorContext(ctx, "failed to clear retry marker",
				"event_id", event.ID, "error", err)
		}
		swept++
	}

	metrics.RetriesSwept.Add(float64(swept))
	s.logger.InfoContext(ctx, "retry sweep complete", "swept", swept)
	return swept
}

// Janitor deletes delivered and dead events older than the retention
// period. Dead letter entries are kept; they are managed explicitly.
type Janitor struct {
	repo      repository.Repository
	interval  time.Duration
	retention time.Duration
	logger    *logging.Logger
	now       func() time.Time
	stop      chan struct{}
	stopped   chan struct{}
}

func NewJanitor(repo repository.Repository, interval, retention time.Duration, logger *logging.Logger) *Janitor {
	return &Janitor{
		repo:      repo,
		interval:  interval,
		retention: retention,
		logger:    logger,
		now:       time.Now,
		stop:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

func (j *Janitor) Start(ctx context.Context) {
	defer close(j.stopped)

	j.logger.InfoContext(ctx, "janitor started",
		"interval", j.interval.String(), "retention", j.retention.String())

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.Run(ctx)
		case <-j.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (j *Janitor) Stop() {
	close(j.stop)
	<-j.stopped
}

// Run prunes one round and returns the number of deleted events.
func (j *Janitor) Run(ctx context.Context) int64 {
	cutoff := j.now().UTC().Add(-j.retention)
	deleted, err := j.repo.DeleteTerminalEventsBefore(ctx, cutoff)
	if err != nil {
		j.logger.ErrorContext(ctx, "cleanup failed", "error", err)
		return 0
	}
	if deleted > 0 {
		j.logger.InfoContext(ctx, "cleanup complete", "deleted", deleted)
	}
	return deleted
}
