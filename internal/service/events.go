package service

import (
	"context"
	"fmt"

	"github.com/relaypoint-io/relaypoint/common/logging"
	"github.com/relaypoint-io/relaypoint/internal/models"
	"github.com/relaypoint-io/relaypoint/internal/queue"
	"github.com/relaypoint-io/relaypoint/internal/repository"
)

// EventService exposes event inspection and manual replay.
type EventService struct {
	repo   repository.Repository
	queue  queue.Queue
	logger *logging.Logger
}

func NewEventService(repo repository.Repository, q queue.Queue, logger *logging.Logger) *EventService {
	return &EventService{repo: repo, queue: q, logger: logger}
}

func (s *EventService) Get(ctx context.Context, id string) (*models.Event, []*models.DeliveryAttempt, error) {
	event, err := s.repo.GetEvent(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	attempts, err := s.repo.ListAttempts(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("list attempts: %w", err)
	}
	return event, attempts, nil
}

func (s *EventService) List(ctx context.Context, req *models.ListEventsRequest) ([]*models.Event, int64, error) {
	return s.repo.ListEvents(ctx, req)
}

func (s *EventService) Stats(ctx context.Context) (*models.EventStats, error) {
	return s.repo.EventStats(ctx)
}

// Retry resets an event's attempt counter and re-enqueues it on the
// retry lane. Works on any non-delivered event; delivered events stay
// delivered.
func (s *EventService) Retry(ctx context.Context, id string) (*models.Event, error) {
	event, err := s.repo.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	if event.Status == models.StatusDelivered {
		return nil, fmt.Errorf("event %s already delivered", id)
	}

	if err := s.repo.UpdateEventStatus(ctx, id, repository.EventStatusUpdate{
		Status: models.StatusPending,
	}); err != nil {
		return nil, fmt.Errorf("reset event: %w", err)
	}

	if err := s.queue.Publish(ctx, queue.Retry, &queue.Task{EventID: id}); err != nil {
		return nil, fmt.Errorf("enqueue retry: %w", err)
	}

	s.logger.InfoContext(ctx, "event requeued", "event_id", id)

	event.Status = models.StatusPending
	event.AttemptCount = 0
	event.NextRetryAt = nil
	return event, nil
}
