package repository

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/relaypoint-io/relaypoint/internal/models"
)

func setupTestDatabase(t *testing.T) (*PostgresRepository, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("relaypoint_test"),
		postgres.WithUsername("relaypoint"),
		postgres.WithPassword("relaypoint"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("could not start postgres container: %v", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	runMigrations(t, connStr)

	repo, err := NewPostgresRepository(ctx, connStr)
	require.NoError(t, err)

	cleanup := func() {
		repo.Close()
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}
	return repo, cleanup
}

func runMigrations(t *testing.T, connStr string) {
	t.Helper()

	db, err := sql.Open("pgx", connStr)
	require.NoError(t, err)
	defer db.Close()

	schema, err := os.ReadFile(filepath.Join("..", "..", "migrations", "001_init.up.sql"))
	require.NoError(t, err)

	_, err = db.Exec(string(schema))
	require.NoError(t, err)
}

func TestPostgresRepository_EventLifecycle(t *testing.T) {
	repo, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()

	event := &models.Event{
		ID:           uuid.NewString(),
		EventType:    "lead.created",
		SourceSystem: "site",
		Payload:      map[string]any{"email": "ana@example.com"},
		Status:       models.StatusPending,
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, repo.CreateEvent(ctx, event))

	got, err := repo.GetEvent(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, "lead.created", got.EventType)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, "ana@example.com", got.Payload["email"])

	next := time.Now().Add(time.Minute).UTC()
	require.NoError(t, repo.UpdateEventStatus(ctx, event.ID, EventStatusUpdate{
		Status:       models.StatusRetrying,
		AttemptCount: 1,
		NextRetryAt:  &next,
	}))

	got, err = repo.GetEvent(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRetrying, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
	require.NotNil(t, got.NextRetryAt)

	_, err = repo.GetEvent(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresRepository_IdempotencyKey(t *testing.T) {
	repo, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()
	key := "msg-123"

	first := &models.Event{
		ID:             uuid.NewString(),
		EventType:      "message.received",
		SourceSystem:   "whatsapp",
		Payload:        map[string]any{},
		IdempotencyKey: &key,
		Status:         models.StatusPending,
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, repo.CreateEvent(ctx, first))

	dup := &models.Event{
		ID:             uuid.NewString(),
		EventType:      "message.received",
		SourceSystem:   "whatsapp",
		Payload:        map[string]any{},
		IdempotencyKey: &key,
		Status:         models.StatusPending,
		CreatedAt:      time.Now().UTC(),
	}
	assert.ErrorIs(t, repo.CreateEvent(ctx, dup), ErrDuplicate)

	got, err := repo.GetEventByIdempotencyKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
}

func TestPostgresRepository_DueRetries(t *testing.T) {
	repo, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now().UTC()

	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	due := &models.Event{
		ID: uuid.NewString(), EventType: "lead.created", SourceSystem: "site",
		Payload: map[string]any{}, Status: models.StatusRetrying,
		NextRetryAt: &past, CreatedAt: now,
	}
	notDue := &models.Event{
		ID: uuid.NewString(), EventType: "lead.created", SourceSystem: "site",
		Payload: map[string]any{}, Status: models.StatusRetrying,
		NextRetryAt: &future, CreatedAt: now,
	}
	require.NoError(t, repo.CreateEvent(ctx, due))
	require.NoError(t, repo.CreateEvent(ctx, notDue))

	events, err := repo.DueRetries(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, due.ID, events[0].ID)
}

func TestPostgresRepository_MappingVersioning(t *testing.T) {
	repo, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()
	rules := []models.MappingRule{
		{Type: models.RuleDirect, Source: "email", Target: "email_address"},
	}

	v1 := &models.EventMapping{
		ID: uuid.NewString(), EventType: "lead.created", TargetSystem: "crm",
		Rules: rules, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.CreateMapping(ctx, v1))
	assert.Equal(t, 1, v1.Version)
	assert.True(t, v1.Active)

	v2 := &models.EventMapping{
		ID: uuid.NewString(), EventType: "lead.created", TargetSystem: "crm",
		Rules: rules, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.CreateMapping(ctx, v2))
	assert.Equal(t, 2, v2.Version)

	active, err := repo.GetActiveMapping(ctx, "lead.created", "crm")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, v2.ID, active.ID)

	prior, err := repo.GetMapping(ctx, v1.ID)
	require.NoError(t, err)
	assert.False(t, prior.Active)

	all, err := repo.ListMappings(ctx, "lead.created", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	none, err := repo.GetActiveMapping(ctx, "lead.created", "billing")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestPostgresRepository_EndpointsAndKeys(t *testing.T) {
	repo, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now().UTC()

	ep := &models.WebhookEndpoint{
		ID: uuid.NewString(), SystemName: "crm",
		URL: "https://crm.example.com/hooks", Secret: "whsec_abc",
		Active: true, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, repo.CreateEndpoint(ctx, ep))

	clash := &models.WebhookEndpoint{
		ID: uuid.NewString(), SystemName: "CRM",
		URL: "https://other.example.com", Secret: "whsec_def",
		Active: true, CreatedAt: now, UpdatedAt: now,
	}
	assert.ErrorIs(t, repo.CreateEndpoint(ctx, clash), ErrDuplicate)

	got, err := repo.GetEndpointBySystem(ctx, "crm")
	require.NoError(t, err)
	assert.Equal(t, ep.ID, got.ID)

	ep.Active = false
	ep.UpdatedAt = time.Now().UTC()
	require.NoError(t, repo.UpdateEndpoint(ctx, ep))

	activeOnly, err := repo.ListEndpoints(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, activeOnly)

	key := &models.APIKey{
		ID: "k1", Name: "ingest", KeyHash: "hash",
		Scopes: []string{models.ScopeEventsWrite}, Active: true, CreatedAt: now,
	}
	require.NoError(t, repo.CreateAPIKey(ctx, key))
	require.NoError(t, repo.TouchAPIKey(ctx, "k1", time.Now().UTC()))

	gotKey, err := repo.GetAPIKey(ctx, "k1")
	require.NoError(t, err)
	assert.NotNil(t, gotKey.LastUsedAt)
}

func TestPostgresRepository_AttemptsAndDeadLetters(t *testing.T) {
	repo, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now().UTC()

	event := &models.Event{
		ID: uuid.NewString(), EventType: "lead.created", SourceSystem: "site",
		Payload: map[string]any{}, Status: models.StatusProcessing, CreatedAt: now,
	}
	require.NoError(t, repo.CreateEvent(ctx, event))

	require.NoError(t, repo.RecordAttempt(ctx, &models.DeliveryAttempt{
		ID: uuid.NewString(), EventID: event.ID, TargetSystem: "crm",
		Attempt: 1, Success: true, HTTPStatus: 200, DurationMS: 42, CreatedAt: now,
	}))
	require.NoError(t, repo.RecordAttempt(ctx, &models.DeliveryAttempt{
		ID: uuid.NewString(), EventID: event.ID, TargetSystem: "billing",
		Attempt: 1, Success: false, HTTPStatus: 503, Error: "service unavailable", CreatedAt: now,
	}))

	succeeded, err := repo.SucceededTargets(ctx, event.ID)
	require.NoError(t, err)
	assert.True(t, succeeded["crm"])
	assert.False(t, succeeded["billing"])

	attempts, err := repo.ListAttempts(ctx, event.ID)
	require.NoError(t, err)
	assert.Len(t, attempts, 2)

	dl := &models.DeadLetterEntry{
		ID: uuid.NewString(), EventID: event.ID,
		EventType: "lead.created", SourceSystem: "site",
		Payload: map[string]any{"email": "ana@example.com"},
		FailureHistory: []models.DeliveryFailure{
			{TargetSystem: "billing", Attempt: 1, HTTPStatus: 503, Error: "service unavailable", At: now},
		},
		CreatedAt: now,
	}
	require.NoError(t, repo.CreateDeadLetter(ctx, dl))

	entries, total, err := repo.ListDeadLetters(ctx, &models.ListDeadLettersRequest{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, entries, 1)
	assert.Len(t, entries[0].FailureHistory, 1)

	require.NoError(t, repo.ArchiveDeadLetter(ctx, dl.ID))
	got, err := repo.GetDeadLetter(ctx, dl.ID)
	require.NoError(t, err)
	assert.True(t, got.Archived())

	require.NoError(t, repo.DeleteDeadLetter(ctx, dl.ID))
	_, err = repo.GetDeadLetter(ctx, dl.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
