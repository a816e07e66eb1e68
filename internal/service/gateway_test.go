package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaypoint-io/relaypoint/common/logging"
	"github.com/relaypoint-io/relaypoint/internal/audit"
	"github.com/relaypoint-io/relaypoint/internal/models"
	"github.com/relaypoint-io/relaypoint/internal/normalizer"
	"github.com/relaypoint-io/relaypoint/internal/queue"
	"github.com/relaypoint-io/relaypoint/internal/ratelimit"
	"github.com/relaypoint-io/relaypoint/internal/repository"
	"github.com/relaypoint-io/relaypoint/internal/scheduler"
	"github.com/relaypoint-io/relaypoint/pkg/signature"
)

// blockingLimiter denies everything with a fixed retry hint.
type blockingLimiter struct{}

func (blockingLimiter) Allow(ctx context.Context, key string) (ratelimit.Decision, error) {
	return ratelimit.Decision{Allowed: false, RetryAfter: 7 * time.Second}, nil
}

// captureRecorder keeps receipts in memory for assertions.
type captureRecorder struct {
	mu       sync.Mutex
	receipts []audit.Receipt
}

func (c *captureRecorder) Record(ctx context.Context, receipt audit.Receipt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receipts = append(c.receipts, receipt)
}

func (c *captureRecorder) all() []audit.Receipt {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]audit.Receipt(nil), c.receipts...)
}

type gatewayFixture struct {
	service  *GatewayService
	repo     *repository.InMemoryRepository
	queue    *queue.MemoryQueue
	recorder *captureRecorder
	apiKey   string
}

func newGatewayFixture(t *testing.T, limiter ratelimit.Limiter) *gatewayFixture {
	t.Helper()

	repo := repository.NewInMemoryRepository()
	q := queue.NewMemoryQueue()
	t.Cleanup(func() { q.Close() })

	creds := NewCredentialService(repo)
	_, plaintext, err := creds.CreateAPIKey(context.Background(), models.CreateAPIKeyRequest{
		Name:   "site-producer",
		Scopes: []string{models.ScopeEventsWrite},
	})
	require.NoError(t, err)

	recorder := &captureRecorder{}
	svc := NewGatewayService(
		repo,
		normalizer.Default(),
		limiter,
		q,
		NewAuthenticator(repo, "test-jwt-secret"),
		recorder,
		signature.DefaultTolerance,
		logging.Default(),
	)

	return &gatewayFixture{service: svc, repo: repo, queue: q, recorder: recorder, apiKey: plaintext}
}

func TestGateway_IngestPersistsAndEnqueues(t *testing.T) {
	fx := newGatewayFixture(t, ratelimit.NoOpLimiter{})
	ctx := context.Background()

	tasks := make(chan *queue.Task, 1)
	stop, err := fx.queue.Consume(ctx, queue.High, func(ctx context.Context, task *queue.Task) error {
		tasks <- task
		return nil
	})
	require.NoError(t, err)
	defer stop()

	body, _ := json.Marshal(map[string]any{
		"type": "lead.created",
		"name": "Ana", "phone": "+5511999990000",
	})

	result, err := fx.service.Ingest(ctx, IngestRequest{
		Source:   "site",
		Body:     body,
		APIKey:   fx.apiKey,
		RemoteIP: "203.0.113.9",
	})
	require.NoError(t, err)
	assert.False(t, result.Duplicate)
	assert.Equal(t, "lead.created", result.EventType)

	event, err := fx.repo.GetEvent(ctx, result.EventID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, event.Status)
	assert.Equal(t, "site", event.SourceSystem)

	select {
	case task := <-tasks:
		assert.Equal(t, result.EventID, task.EventID)
	case <-time.After(time.Second):
		t.Fatal("no delivery task was enqueued")
	}

	receipts := fx.recorder.all()
	require.Len(t, receipts, 1)
	assert.Equal(t, "accepted", receipts[0].Outcome)
	assert.Equal(t, result.EventID, receipts[0].EventID)
}

// brokenHighQueue rejects high-priority publishes but lets everything
// else through, mimicking a queue outage at ingest time.
type brokenHighQueue struct {
	inner *queue.MemoryQueue
}

func (b *brokenHighQueue) Publish(ctx context.Context, q string, task *queue.Task) error {
	if q == queue.High {
		return errors.New("stream unavailable")
	}
	return b.inner.Publish(ctx, q, task)
}

func (b *brokenHighQueue) Consume(ctx context.Context, q string, handler queue.Handler) (func(), error) {
	return b.inner.Consume(ctx, q, handler)
}

func (b *brokenHighQueue) Close() error { return b.inner.Close() }

func TestGateway_EnqueueFailureHandsEventToSweeper(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewInMemoryRepository()
	broken := &brokenHighQueue{inner: queue.NewMemoryQueue()}
	t.Cleanup(func() { broken.Close() })

	_, apiKey, err := NewCredentialService(repo).CreateAPIKey(ctx, models.CreateAPIKeyRequest{
		Name:   "site-producer",
		Scopes: []string{models.ScopeEventsWrite},
	})
	require.NoError(t, err)

	svc := NewGatewayService(
		repo,
		normalizer.Default(),
		ratelimit.NoOpLimiter{},
		broken,
		NewAuthenticator(repo, "test-jwt-secret"),
		&captureRecorder{},
		signature.DefaultTolerance,
		logging.Default(),
	)

	result, err := svc.Ingest(ctx, IngestRequest{
		Source: "site", Body: []byte(`{"type":"lead.created","name":"Ana"}`),
		APIKey: apiKey,
	})
	require.NoError(t, err, "a persisted event is accepted even when the enqueue fails")

	// The event must be visible to the retry sweep, not parked in pending.
	event, err := repo.GetEvent(ctx, result.EventID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRetrying, event.Status)
	require.NotNil(t, event.NextRetryAt)
	assert.False(t, event.NextRetryAt.After(time.Now().UTC()))

	tasks := make(chan *queue.Task, 1)
	stop, err := broken.Consume(ctx, queue.Retry, func(ctx context.Context, task *queue.Task) error {
		tasks <- task
		return nil
	})
	require.NoError(t, err)
	defer stop()

	sweeper := scheduler.NewRetrySweeper(repo, broken, time.Minute, 10, logging.Default())
	assert.Equal(t, 1, sweeper.Sweep(ctx))

	select {
	case task := <-tasks:
		assert.Equal(t, result.EventID, task.EventID)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not re-enqueue the stranded event")
	}
}

func TestGateway_RejectsMissingAndBadCredentials(t *testing.T) {
	fx := newGatewayFixture(t, ratelimit.NoOpLimiter{})
	ctx := context.Background()

	_, err := fx.service.Ingest(ctx, IngestRequest{Source: "site", Body: []byte(`{}`)})
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = fx.service.Ingest(ctx, IngestRequest{
		Source: "site", Body: []byte(`{}`), APIKey: "rp_deadbeef.wrongsecret",
	})
	assert.ErrorIs(t, err, ErrUnauthenticated)

	receipts := fx.recorder.all()
	require.Len(t, receipts, 2)
	assert.Equal(t, "unauthenticated", receipts[0].Outcome)
}

func TestGateway_RejectsInsufficientScope(t *testing.T) {
	fx := newGatewayFixture(t, ratelimit.NoOpLimiter{})
	ctx := context.Background()

	_, readOnly, err := NewCredentialService(fx.repo).CreateAPIKey(ctx, models.CreateAPIKeyRequest{
		Name:   "reader",
		Scopes: []string{models.ScopeEventsRead},
	})
	require.NoError(t, err)

	_, err = fx.service.Ingest(ctx, IngestRequest{
		Source: "site", Body: []byte(`{}`), APIKey: readOnly,
	})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestGateway_RateLimited(t *testing.T) {
	fx := newGatewayFixture(t, blockingLimiter{})
	ctx := context.Background()

	_, err := fx.service.Ingest(ctx, IngestRequest{
		Source: "site", Body: []byte(`{}`), APIKey: fx.apiKey,
	})

	var rl *RateLimitedError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 7*time.Second, rl.RetryAfter)

	// No event may be created for a throttled call.
	events, total, listErr := fx.repo.ListEvents(ctx, &models.ListEventsRequest{})
	require.NoError(t, listErr)
	assert.Empty(t, events)
	assert.Zero(t, total)
}

func TestGateway_SignatureEnforcedForRegisteredSources(t *testing.T) {
	fx := newGatewayFixture(t, ratelimit.NoOpLimiter{})
	ctx := context.Background()

	_, secret, err := NewCredentialService(fx.repo).CreateEndpoint(ctx, models.CreateEndpointRequest{
		SystemName: "whatsapp",
		URL:        "https://wa.example.com/webhook",
	})
	require.NoError(t, err)

	body := []byte(`{"event":"message.received","phone":"+5511988887777"}`)

	_, err = fx.service.Ingest(ctx, IngestRequest{
		Source: "whatsapp", Body: body, APIKey: fx.apiKey,
		Signature: "deadbeef",
	})
	assert.ErrorIs(t, err, ErrInvalidSignature)

	stale := signature.Timestamp(time.Now().Add(-time.Hour))
	_, err = fx.service.Ingest(ctx, IngestRequest{
		Source: "whatsapp", Body: body, APIKey: fx.apiKey,
		Signature: signature.Sign(secret, body),
		Timestamp: stale,
	})
	assert.ErrorIs(t, err, ErrExpiredSignature)

	result, err := fx.service.Ingest(ctx, IngestRequest{
		Source: "whatsapp", Body: body, APIKey: fx.apiKey,
		Signature: signature.Sign(secret, body),
		Timestamp: signature.Timestamp(time.Now()),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.EventID)
}

func TestGateway_UnregisteredSourceSkipsSignature(t *testing.T) {
	fx := newGatewayFixture(t, ratelimit.NoOpLimiter{})
	ctx := context.Background()

	result, err := fx.service.Ingest(ctx, IngestRequest{
		Source: "site", Body: []byte(`{"type":"lead.created","name":"Ana"}`), APIKey: fx.apiKey,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.EventID)
}

func TestGateway_IdempotencyKeyDeduplicates(t *testing.T) {
	fx := newGatewayFixture(t, ratelimit.NoOpLimiter{})
	ctx := context.Background()

	body := []byte(`{"type":"lead.created","name":"Ana"}`)

	first, err := fx.service.Ingest(ctx, IngestRequest{
		Source: "site", Body: body, APIKey: fx.apiKey,
		IdempotencyKey: "req-42",
	})
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := fx.service.Ingest(ctx, IngestRequest{
		Source: "site", Body: body, APIKey: fx.apiKey,
		IdempotencyKey: "req-42",
	})
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.EventID, second.EventID)

	_, total, err := fx.repo.ListEvents(ctx, &models.ListEventsRequest{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
}

func TestGateway_MalformedPayloadStillRecorded(t *testing.T) {
	fx := newGatewayFixture(t, ratelimit.NoOpLimiter{})
	ctx := context.Background()

	result, err := fx.service.Ingest(ctx, IngestRequest{
		Source: "site", Body: []byte(`not json at all`), APIKey: fx.apiKey,
	})
	require.NoError(t, err, "normalization must never fail the request")

	event, err := fx.repo.GetEvent(ctx, result.EventID)
	require.NoError(t, err)
	assert.Equal(t, normalizer.EventTypeUnknown, event.EventType)
}

func TestGateway_JWTBearer(t *testing.T) {
	fx := newGatewayFixture(t, ratelimit.NoOpLimiter{})
	ctx := context.Background()

	auth := NewAuthenticator(fx.repo, "test-jwt-secret")
	token, err := auth.IssueToken("ops", []string{models.ScopeEventsWrite}, time.Hour)
	require.NoError(t, err)

	result, err := fx.service.Ingest(ctx, IngestRequest{
		Source: "site", Body: []byte(`{"type":"lead.created"}`), Bearer: token,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.EventID)

	expired, err := auth.IssueToken("ops", []string{models.ScopeEventsWrite}, -time.Hour)
	require.NoError(t, err)

	_, err = fx.service.Ingest(ctx, IngestRequest{
		Source: "site", Body: []byte(`{}`), Bearer: expired,
	})
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestOutcomeFor(t *testing.T) {
	assert.Equal(t, "accepted", outcomeFor(nil))
	assert.Equal(t, "forbidden", outcomeFor(ErrForbidden))
	assert.Equal(t, "rate_limited", outcomeFor(&RateLimitedError{}))
	assert.Equal(t, "error", outcomeFor(errors.New("boom")))
}
