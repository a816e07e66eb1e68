// Package dispatcher delivers projected events to downstream webhook
// endpoints with retries, backoff and a shared circuit breaker.
package dispatcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/relaypoint-io/relaypoint/common/logging"
	"github.com/relaypoint-io/relaypoint/internal/breaker"
	"github.com/relaypoint-io/relaypoint/internal/lease"
	"github.com/relaypoint-io/relaypoint/internal/mapping"
	"github.com/relaypoint-io/relaypoint/internal/metrics"
	"github.com/relaypoint-io/relaypoint/internal/models"
	"github.com/relaypoint-io/relaypoint/internal/queue"
	"github.com/relaypoint-io/relaypoint/internal/repository"
	"github.com/relaypoint-io/relaypoint/pkg/signature"
)

// Config sizes the dispatcher's retry policy and worker pools.
type Config struct {
	MaxAttempts    int
	Backoff        BackoffPolicy
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	Workers        map[string]int
}

// Dispatcher pulls delivery tasks off the queues and performs the
// signed HTTP calls. Safe for concurrent use; the per-event lease
// keeps two workers off the same event.
type Dispatcher struct {
	repo     repository.Repository
	engine   *mapping.Engine
	queue    queue.Queue
	breaker  *breaker.Breaker
	lease    *lease.Lease
	client   *http.Client
	cfg      Config
	logger   *logging.Logger
	workerID string
	now      func() time.Time

	stops []func()
}

func New(
	repo repository.Repository,
	engine *mapping.Engine,
	q queue.Queue,
	brk *breaker.Breaker,
	ls *lease.Lease,
	cfg Config,
	logger *logging.Logger,
) *Dispatcher {
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	client := &http.Client{
		Timeout: cfg.RequestTimeout,
		Transport: &http.Transport{
			DialContext:         dialer.DialContext,
			MaxIdleConnsPerHost: 16,
		},
	}

	return &Dispatcher{
		repo:     repo,
		engine:   engine,
		queue:    q,
		breaker:  brk,
		lease:    ls,
		client:   client,
		cfg:      cfg,
		logger:   logger,
		workerID: uuid.NewString(),
		now:      time.Now,
	}
}

// Start attaches the configured number of workers to each queue.
func (d *Dispatcher) Start(ctx context.Context) error {
	for _, name := range queue.Names {
		workers := d.cfg.Workers[name]
		if workers <= 0 {
			workers = 1
		}
		for i := 0; i < workers; i++ {
			stop, err := d.queue.Consume(ctx, name, d.Deliver)
			if err != nil {
				d.Stop()
				return fmt.Errorf("start %s worker: %w", name, err)
			}
			d.stops = append(d.stops, stop)
		}
	}
	return nil
}

// Stop halts all workers. In-flight deliveries finish.
func (d *Dispatcher) Stop() {
	for _, stop := range d.stops {
		stop()
	}
	d.stops = nil
}

// Deliver processes one task end to end. Returning nil acks the task;
// rescheduling of failed deliveries goes through the event's
// next_retry_at, not queue redelivery.
func (d *Dispatcher) Deliver(ctx context.Context, task *queue.Task) error {
	acquired, err := d.lease.Acquire(ctx, task.EventID, d.workerID)
	if err != nil {
		return err
	}
	if !acquired {
		// Someone else is on it. Ack and move on.
		return nil
	}
	defer func() {
		_ = d.lease.Release(context.WithoutCancel(ctx), task.EventID, d.workerID)
	}()

	event, err := d.repo.GetEvent(ctx, task.EventID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}
	if event.Terminal() {
		return nil
	}

	if err := d.repo.UpdateEventStatus(ctx, event.ID, repository.EventStatusUpdate{
		Status:       models.StatusProcessing,
		AttemptCount: event.AttemptCount,
	}); err != nil {
		return err
	}

	pending, err := d.deliverToTargets(ctx, event)
	if err != nil {
		return err
	}

	if pending == 0 {
		now := d.now().UTC()
		d.logger.InfoContext(ctx, "event delivered",
			"event_id", event.ID, "event_type", event.EventType)
		return d.repo.UpdateEventStatus(ctx, event.ID, repository.EventStatusUpdate{
			Status:       models.StatusDelivered,
			AttemptCount: event.AttemptCount,
			ProcessedAt:  &now,
		})
	}

	return d.scheduleRetry(ctx, event)
}

// deliverToTargets attempts every active endpoint that has a mapping
// for the event and has not already succeeded. Returns how many
// targets still need delivery.
func (d *Dispatcher) deliverToTargets(ctx context.Context, event *models.Event) (int, error) {
	endpoints, err := d.repo.ListEndpoints(ctx, true)
	if err != nil {
		return 0, fmt.Errorf("list endpoints: %w", err)
	}

	succeeded, err := d.repo.SucceededTargets(ctx, event.ID)
	if err != nil {
		return 0, fmt.Errorf("load delivered targets: %w", err)
	}

	canonical := models.CanonicalEvent{
		EventType:    event.EventType,
		SourceSystem: event.SourceSystem,
		Fields:       event.Payload,
	}
	attempt := event.AttemptCount + 1

	pending := 0
	for _, endpoint := range endpoints {
		if succeeded[endpoint.SystemName] {
			continue
		}

		body, _, err := d.engine.Project(ctx, canonical, endpoint.SystemName)
		if errors.Is(err, mapping.ErrNoMapping) {
			// Intentional no-op for this target.
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("project for %s: %w", endpoint.SystemName, err)
		}

		if !d.deliverOne(ctx, event, endpoint, body, attempt) {
			pending++
		}
	}

	return pending, nil
}

// deliverOne performs a single delivery attempt and records it.
func (d *Dispatcher) deliverOne(ctx context.Context, event *models.Event, endpoint *models.WebhookEndpoint, body []byte, attempt int) bool {
	target := endpoint.SystemName

	allowed, state, err := d.breaker.Allow(ctx, target)
	if err != nil {
		d.logger.ErrorContext(ctx, "breaker check failed", "target", target, "error", err)
	} else if !allowed {
		d.recordAttempt(ctx, event.ID, target, attempt, false, 0, "circuit open", 0)
		metrics.DeliveriesTotal.WithLabelValues(target, "short_circuit").Inc()
		d.logger.WarnContext(ctx, "delivery short-circuited",
			"event_id", event.ID, "target", target, "breaker_state", string(state))
		return false
	}

	status, elapsed, callErr := d.post(ctx, endpoint, event, body)
	success := callErr == nil && status >= 200 && status < 300

	errMsg := ""
	if callErr != nil {
		errMsg = callErr.Error()
	} else if !success {
		errMsg = fmt.Sprintf("unexpected status %d", status)
	}

	d.recordAttempt(ctx, event.ID, target, attempt, success, status, errMsg, elapsed)
	metrics.DeliveryDuration.WithLabelValues(target).Observe(elapsed.Seconds())

	if success {
		metrics.DeliveriesTotal.WithLabelValues(target, "success").Inc()
		if err := d.breaker.RecordSuccess(ctx, target); err != nil {
			d.logger.ErrorContext(ctx, "breaker record failed", "target", target, "error", err)
		}
		return true
	}

	metrics.DeliveriesTotal.WithLabelValues(target, "failure").Inc()
	if _, err := d.breaker.RecordFailure(ctx, target); err != nil {
		d.logger.ErrorContext(ctx, "breaker record failed", "target", target, "error", err)
	}
	d.logger.WarnContext(ctx, "delivery failed",
		"event_id", event.ID, "target", target, "status", status, "error", errMsg)
	return false
}

// post sends the signed payload. Targets verify the signature the same
// way the gateway verifies inbound ones.
func (d *Dispatcher) post(ctx context.Context, endpoint *models.WebhookEndpoint, event *models.Event, body []byte) (int, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, bytes.NewReader(body))
	if err != nil {
		return 0, 0, err
	}

	now := d.now()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", signature.Sign(endpoint.Secret, body))
	req.Header.Set("X-Timestamp", signature.Timestamp(now))
	req.Header.Set("X-Event-Type", event.EventType)
	req.Header.Set("X-Delivery-Id", event.ID)

	start := time.Now()
	resp, err := d.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return 0, elapsed, err
	}
	defer resp.Body.Close()

	return resp.StatusCode, elapsed, nil
}

func (d *Dispatcher) recordAttempt(ctx context.Context, eventID, target string, attempt int, success bool, status int, errMsg string, elapsed time.Duration) {
	err := d.repo.RecordAttempt(ctx, &models.DeliveryAttempt{
		ID:           uuid.NewString(),
		EventID:      eventID,
		TargetSystem: target,
		Attempt:      attempt,
		Success:      success,
		HTTPStatus:   status,
		Error:        errMsg,
		DurationMS:   elapsed.Milliseconds(),
		CreatedAt:    d.now().UTC(),
	})
	if err != nil {
		d.logger.ErrorContext(ctx, "failed to record attempt",
			"event_id", eventID, "target", target, "error", err)
	}
}

// scheduleRetry bumps the attempt counter and either parks the event
// for the retry sweeper or dead-letters it.
func (d *Dispatcher) scheduleRetry(ctx context.Context, event *models.Event) error {
	attempts := event.AttemptCount + 1

	if attempts >= d.cfg.MaxAttempts {
		return d.deadLetter(ctx, event, attempts)
	}

	delay := d.cfg.Backoff.Delay(attempts)
	next := d.now().UTC().Add(delay)

	d.logger.WarnContext(ctx, "delivery rescheduled",
		"event_id", event.ID, "attempt", attempts, "next_retry_in", delay.String())

	return d.repo.UpdateEventStatus(ctx, event.ID, repository.EventStatusUpdate{
		Status:       models.StatusRetrying,
		AttemptCount: attempts,
		NextRetryAt:  &next,
	})
}

// deadLetter freezes the event with its full failure history so it can
// be reconstructed and replayed later.
func (d *Dispatcher) deadLetter(ctx context.Context, event *models.Event, attempts int) error {
	history, err := d.failureHistory(ctx, event.ID)
	if err != nil {
		return err
	}

	entry := &models.DeadLetterEntry{
		ID:             uuid.NewString(),
		EventID:        event.ID,
		EventType:      event.EventType,
		SourceSystem:   event.SourceSystem,
		Payload:        event.Payload,
		FailureHistory: history,
		CreatedAt:      d.now().UTC(),
	}
	if err := d.repo.CreateDeadLetter(ctx, entry); err != nil {
		return fmt.Errorf("create dead letter: %w", err)
	}
	metrics.DeadLettersTotal.Inc()

	d.logger.ErrorContext(ctx, "event dead-lettered",
		"event_id", event.ID, "event_type", event.EventType, "attempts", attempts)

	return d.repo.UpdateEventStatus(ctx, event.ID, repository.EventStatusUpdate{
		Status:       models.StatusDead,
		AttemptCount: attempts,
	})
}

func (d *Dispatcher) failureHistory(ctx context.Context, eventID string) ([]models.DeliveryFailure, error) {
	attempts, err := d.repo.ListAttempts(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}

	var history []models.DeliveryFailure
	for _, a := range attempts {
		if a.Success {
			continue
		}
		history = append(history, models.DeliveryFailure{
			TargetSystem: a.TargetSystem,
			Attempt:      a.Attempt,
			HTTPStatus:   a.HTTPStatus,
			Error:        a.Error,
			At:           a.CreatedAt,
		})
	}
	return history, nil
}
