package service

import (
	"context"
	"fmt"

	"github.com/relaypoint-io/relaypoint/common/logging"
	"github.com/relaypoint-io/relaypoint/internal/models"
	"github.com/relaypoint-io/relaypoint/internal/queue"
	"github.com/relaypoint-io/relaypoint/internal/repository"
)

// DLQService manages dead-lettered events: inspection, replay,
// archival and deletion.
type DLQService struct {
	repo   repository.Repository
	queue  queue.Queue
	logger *logging.Logger
}

func NewDLQService(repo repository.Repository, q queue.Queue, logger *logging.Logger) *DLQService {
	return &DLQService{repo: repo, queue: q, logger: logger}
}

func (s *DLQService) List(ctx context.Context, req *models.ListDeadLettersRequest) ([]*models.DeadLetterEntry, int64, error) {
	return s.repo.ListDeadLetters(ctx, req)
}

func (s *DLQService) Get(ctx context.Context, id string) (*models.DeadLetterEntry, error) {
	return s.repo.GetDeadLetter(ctx, id)
}

// Retry resets the original event to pending with a clean attempt
// counter and re-enqueues it. The projection runs again at dispatch
// time, so a fixed mapping is picked up automatically. The entry is
// archived, not deleted, to keep the failure history.
func (s *DLQService) Retry(ctx context.Context, id string) error {
	entry, err := s.repo.GetDeadLetter(ctx, id)
	if err != nil {
		return err
	}

	if err := s.repo.UpdateEventStatus(ctx, entry.EventID, repository.EventStatusUpdate{
		Status: models.StatusPending,
	}); err != nil {
		return fmt.Errorf("reset event %s: %w", entry.EventID, err)
	}

	if err := s.queue.Publish(ctx, queue.Retry, &queue.Task{EventID: entry.EventID}); err != nil {
		return fmt.Errorf("enqueue retry: %w", err)
	}

	if err := s.repo.ArchiveDeadLetter(ctx, id); err != nil {
		return fmt.Errorf("archive entry: %w", err)
	}

	s.logger.InfoContext(ctx, "dead letter requeued",
		"dead_letter_id", id, "event_id", entry.EventID)
	return nil
}

// RetryAll replays every unarchived entry matching the filters and
// reports how many were requeued.
func (s *DLQService) RetryAll(ctx context.Context, req *models.ListDeadLettersRequest) (int, error) {
	req.IncludeArchived = false
	req.Page = 1
	if req.Limit <= 0 {
		req.Limit = 500
	}

	requeued := 0
	for {
		entries, _, err := s.repo.ListDeadLetters(ctx, req)
		if err != nil {
			return requeued, err
		}
		if len(entries) == 0 {
			return requeued, nil
		}
		progressed := 0
		for _, entry := range entries {
			if err := s.Retry(ctx, entry.ID); err != nil {
				s.logger.ErrorContext(ctx, "failed to requeue dead letter",
					"dead_letter_id", entry.ID, "error", err)
				continue
			}
			progressed++
		}
		requeued += progressed
		if progressed == 0 {
			// Nothing moved, stop instead of refetching the same page.
			return requeued, fmt.Errorf("no dead letters could be requeued")
		}
		// Retried entries drop out of the unarchived listing, so the
		// first page always holds the next batch.
	}
}

func (s *DLQService) Archive(ctx context.Context, id string) error {
	return s.repo.ArchiveDeadLetter(ctx, id)
}

func (s *DLQService) Delete(ctx context.Context, id string) error {
	return s.repo.DeleteDeadLetter(ctx, id)
}
