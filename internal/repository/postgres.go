package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaypoint-io/relaypoint/internal/models"
)

const queryTimeout = 5 * time.Second

// PostgresRepository implements Repository on PostgreSQL via pgx.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository creates a connection pool and verifies it.
func NewPostgresRepository(ctx context.Context, connString string) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 5
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

// Ping checks database connectivity.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close closes the connection pool.
func (r *PostgresRepository) Close() {
	r.pool.Close()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Events

func (r *PostgresRepository) CreateEvent(ctx context.Context, event *models.Event) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	query := `
		INSERT INTO events (id, event_type, source_system, payload, idempotency_key, status, attempt_count, next_retry_at, created_at, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = r.pool.Exec(ctx, query,
		event.ID, event.EventType, event.SourceSystem, payload, event.IdempotencyKey,
		event.Status, event.AttemptCount, event.NextRetryAt, event.CreatedAt, event.ProcessedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create event: %w", err)
	}
	return nil
}

func (r *PostgresRepository) scanEvent(row pgx.Row) (*models.Event, error) {
	var event models.Event
	var payload []byte
	err := row.Scan(
		&event.ID, &event.EventType, &event.SourceSystem, &payload, &event.IdempotencyKey,
		&event.Status, &event.AttemptCount, &event.NextRetryAt, &event.CreatedAt, &event.ProcessedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan event: %w", err)
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &event.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
	}
	return &event, nil
}

const eventColumns = `id, event_type, source_system, payload, idempotency_key, status, attempt_count, next_retry_at, created_at, processed_at`

func (r *PostgresRepository) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `SELECT ` + eventColumns + ` FROM events WHERE id = $1`
	return r.scanEvent(r.pool.QueryRow(ctx, query, id))
}

func (r *PostgresRepository) GetEventByIdempotencyKey(ctx context.Context, key string) (*models.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `SELECT ` + eventColumns + ` FROM events WHERE idempotency_key = $1`
	return r.scanEvent(r.pool.QueryRow(ctx, query, key))
}

func (r *PostgresRepository) UpdateEventStatus(ctx context.Context, id string, update EventStatusUpdate) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
		UPDATE events
		SET status = $2, attempt_count = $3, next_retry_at = $4, processed_at = $5
		WHERE id = $1
	`
	tag, err := r.pool.Exec(ctx, query, id, update.Status, update.AttemptCount, update.NextRetryAt, update.ProcessedAt)
	if err != nil {
		return fmt.Errorf("failed to update event status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) ListEvents(ctx context.Context, req *models.ListEventsRequest) ([]*models.Event, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	where := ` WHERE ($1 = '' OR status = $1) AND ($2 = '' OR source_system = $2) AND ($3 = '' OR event_type = $3)`

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM events`+where, req.Status, req.SourceSystem, req.EventType).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count events: %w", err)
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	page := req.Page
	if page <= 0 {
		page = 1
	}

	query := `SELECT ` + eventColumns + ` FROM events` + where + `
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5`
	rows, err := r.pool.Query(ctx, query, req.Status, req.SourceSystem, req.EventType, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		event, err := r.scanEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		events = append(events, event)
	}
	return events, total, rows.Err()
}

func (r *PostgresRepository) DueRetries(ctx context.Context, now time.Time, limit int) ([]*models.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + eventColumns + ` FROM events
		WHERE status = $1 AND next_retry_at <= $2
		ORDER BY next_retry_at ASC
		LIMIT $3`
	rows, err := r.pool.Query(ctx, query, models.StatusRetrying, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select due retries: %w", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		event, err := r.scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (r *PostgresRepository) EventStats(ctx context.Context) (*models.EventStats, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	stats := &models.EventStats{
		ByStatus: make(map[string]int64),
		BySource: make(map[string]int64),
	}

	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM events GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate statuses: %w", err)
	}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		stats.ByStatus[status] = count
		stats.Total += count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = r.pool.Query(ctx, `SELECT source_system, COUNT(*) FROM events GROUP BY source_system`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate sources: %w", err)
	}
	for rows.Next() {
		var source string
		var count int64
		if err := rows.Scan(&source, &count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan source count: %w", err)
		}
		stats.BySource[source] = count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var oldest *time.Time
	err = r.pool.QueryRow(ctx,
		`SELECT MIN(next_retry_at) FROM events WHERE status = $1`, models.StatusRetrying,
	).Scan(&oldest)
	if err != nil {
		return nil, fmt.Errorf("failed to find oldest retry: %w", err)
	}
	stats.OldestRetry = oldest

	err = r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM dead_letters WHERE archived_at IS NULL`,
	).Scan(&stats.DeadLetters)
	if err != nil {
		return nil, fmt.Errorf("failed to count dead letters: %w", err)
	}

	return stats, nil
}

func (r *PostgresRepository) DeleteTerminalEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	tag, err := r.pool.Exec(ctx,
		`DELETE FROM events WHERE status IN ($1, $2) AND created_at < $3`,
		models.StatusDelivered, models.StatusDead, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale events: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Delivery attempts

func (r *PostgresRepository) RecordAttempt(ctx context.Context, attempt *models.DeliveryAttempt) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
		INSERT INTO delivery_attempts (id, event_id, target_system, attempt, success, http_status, error, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.pool.Exec(ctx, query,
		attempt.ID, attempt.EventID, attempt.TargetSystem, attempt.Attempt,
		attempt.Success, attempt.HTTPStatus, attempt.Error, attempt.DurationMS, attempt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListAttempts(ctx context.Context, eventID string) ([]*models.DeliveryAttempt, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
		SELECT id, event_id, target_system, attempt, success, http_status, error, duration_ms, created_at
		FROM delivery_attempts
		WHERE event_id = $1
		ORDER BY created_at ASC
	`
	rows, err := r.pool.Query(ctx, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*models.DeliveryAttempt
	for rows.Next() {
		var a models.DeliveryAttempt
		if err := rows.Scan(
			&a.ID, &a.EventID, &a.TargetSystem, &a.Attempt,
			&a.Success, &a.HTTPStatus, &a.Error, &a.DurationMS, &a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		attempts = append(attempts, &a)
	}
	return attempts, rows.Err()
}

func (r *PostgresRepository) SucceededTargets(ctx context.Context, eventID string) (map[string]bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT target_system FROM delivery_attempts WHERE event_id = $1 AND success`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query succeeded targets: %w", err)
	}
	defer rows.Close()

	targets := make(map[string]bool)
	for rows.Next() {
		var target string
		if err := rows.Scan(&target); err != nil {
			return nil, fmt.Errorf("failed to scan target: %w", err)
		}
		targets[target] = true
	}
	return targets, rows.Err()
}

// Mappings

func (r *PostgresRepository) CreateMapping(ctx context.Context, mapping *models.EventMapping) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rules, err := json.Marshal(mapping.Rules)
	if err != nil {
		return fmt.Errorf("failed to marshal rules: %w", err)
	}

	// Version assignment and the active-flag swap happen in one
	// transaction so there is never more than one active version per pair.
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var version int
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM event_mappings WHERE event_type = $1 AND target_system = $2`,
		mapping.EventType, mapping.TargetSystem,
	).Scan(&version)
	if err != nil {
		return fmt.Errorf("failed to resolve mapping version: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE event_mappings SET active = FALSE WHERE event_type = $1 AND target_system = $2 AND active`,
		mapping.EventType, mapping.TargetSystem,
	)
	if err != nil {
		return fmt.Errorf("failed to deactivate prior mapping: %w", err)
	}

	mapping.Version = version + 1
	mapping.Active = true

	_, err = tx.Exec(ctx,
		`INSERT INTO event_mappings (id, event_type, target_system, version, active, rules, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		mapping.ID, mapping.EventType, mapping.TargetSystem, mapping.Version, mapping.Active, rules, mapping.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert mapping: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *PostgresRepository) scanMapping(row pgx.Row) (*models.EventMapping, error) {
	var m models.EventMapping
	var rules []byte
	err := row.Scan(&m.ID, &m.EventType, &m.TargetSystem, &m.Version, &m.Active, &rules, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan mapping: %w", err)
	}
	if err := json.Unmarshal(rules, &m.Rules); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rules: %w", err)
	}
	return &m, nil
}

const mappingColumns = `id, event_type, target_system, version, active, rules, created_at`

func (r *PostgresRepository) GetMapping(ctx context.Context, id string) (*models.EventMapping, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `SELECT ` + mappingColumns + ` FROM event_mappings WHERE id = $1`
	return r.scanMapping(r.pool.QueryRow(ctx, query, id))
}

func (r *PostgresRepository) GetActiveMapping(ctx context.Context, eventType, targetSystem string) (*models.EventMapping, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `SELECT ` + mappingColumns + ` FROM event_mappings
		WHERE event_type = $1 AND target_system = $2 AND active
		ORDER BY version DESC LIMIT 1`
	m, err := r.scanMapping(r.pool.QueryRow(ctx, query, eventType, targetSystem))
	if errors.Is(err, ErrNotFound) {
		// Absence of a mapping is not an error contractually.
		return nil, nil
	}
	return m, err
}

func (r *PostgresRepository) ListMappings(ctx context.Context, eventType, targetSystem string) ([]*models.EventMapping, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `SELECT ` + mappingColumns + ` FROM event_mappings
		WHERE ($1 = '' OR event_type = $1) AND ($2 = '' OR target_system = $2)
		ORDER BY event_type, target_system, version DESC`
	rows, err := r.pool.Query(ctx, query, eventType, targetSystem)
	if err != nil {
		return nil, fmt.Errorf("failed to list mappings: %w", err)
	}
	defer rows.Close()

	var mappings []*models.EventMapping
	for rows.Next() {
		m, err := r.scanMapping(rows)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}

// Webhook endpoints

func (r *PostgresRepository) CreateEndpoint(ctx context.Context, endpoint *models.WebhookEndpoint) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
		INSERT INTO webhook_endpoints (id, system_name, url, secret, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.pool.Exec(ctx, query,
		endpoint.ID, endpoint.SystemName, endpoint.URL, endpoint.Secret,
		endpoint.Active, endpoint.CreatedAt, endpoint.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create endpoint: %w", err)
	}
	return nil
}

func (r *PostgresRepository) scanEndpoint(row pgx.Row) (*models.WebhookEndpoint, error) {
	var e models.WebhookEndpoint
	err := row.Scan(&e.ID, &e.SystemName, &e.URL, &e.Secret, &e.Active, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan endpoint: %w", err)
	}
	return &e, nil
}

const endpointColumns = `id, system_name, url, secret, active, created_at, updated_at`

func (r *PostgresRepository) GetEndpoint(ctx context.Context, id string) (*models.WebhookEndpoint, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `SELECT ` + endpointColumns + ` FROM webhook_endpoints WHERE id = $1`
	return r.scanEndpoint(r.pool.QueryRow(ctx, query, id))
}

func (r *PostgresRepository) GetEndpointBySystem(ctx context.Context, systemName string) (*models.WebhookEndpoint, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `SELECT ` + endpointColumns + ` FROM webhook_endpoints WHERE LOWER(system_name) = LOWER($1)`
	return r.scanEndpoint(r.pool.QueryRow(ctx, query, systemName))
}

func (r *PostgresRepository) ListEndpoints(ctx context.Context, activeOnly bool) ([]*models.WebhookEndpoint, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `SELECT ` + endpointColumns + ` FROM webhook_endpoints
		WHERE NOT $1 OR active
		ORDER BY system_name`
	rows, err := r.pool.Query(ctx, query, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to list endpoints: %w", err)
	}
	defer rows.Close()

	var endpoints []*models.WebhookEndpoint
	for rows.Next() {
		e, err := r.scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, e)
	}
	return endpoints, rows.Err()
}

func (r *PostgresRepository) UpdateEndpoint(ctx context.Context, endpoint *models.WebhookEndpoint) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
		UPDATE webhook_endpoints
		SET url = $2, secret = $3, active = $4, updated_at = $5
		WHERE id = $1
	`
	tag, err := r.pool.Exec(ctx, query,
		endpoint.ID, endpoint.URL, endpoint.Secret, endpoint.Active, endpoint.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update endpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// API keys

func (r *PostgresRepository) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	scopes, err := json.Marshal(key.Scopes)
	if err != nil {
		return fmt.Errorf("failed to marshal scopes: %w", err)
	}

	query := `
		INSERT INTO api_keys (id, name, key_hash, scopes, active, created_at, last_used_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = r.pool.Exec(ctx, query,
		key.ID, key.Name, key.KeyHash, scopes, key.Active, key.CreatedAt, key.LastUsedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create api key: %w", err)
	}
	return nil
}

func (r *PostgresRepository) scanAPIKey(row pgx.Row) (*models.APIKey, error) {
	var k models.APIKey
	var scopes []byte
	err := row.Scan(&k.ID, &k.Name, &k.KeyHash, &scopes, &k.Active, &k.CreatedAt, &k.LastUsedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan api key: %w", err)
	}
	if err := json.Unmarshal(scopes, &k.Scopes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scopes: %w", err)
	}
	return &k, nil
}

const apiKeyColumns = `id, name, key_hash, scopes, active, created_at, last_used_at`

func (r *PostgresRepository) GetAPIKey(ctx context.Context, id string) (*models.APIKey, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE id = $1`
	return r.scanAPIKey(r.pool.QueryRow(ctx, query, id))
}

func (r *PostgresRepository) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx, `SELECT `+apiKeyColumns+` FROM api_keys ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		k, err := r.scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (r *PostgresRepository) UpdateAPIKey(ctx context.Context, key *models.APIKey) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	scopes, err := json.Marshal(key.Scopes)
	if err != nil {
		return fmt.Errorf("failed to marshal scopes: %w", err)
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE api_keys SET name = $2, scopes = $3, active = $4 WHERE id = $1`,
		key.ID, key.Name, scopes, key.Active,
	)
	if err != nil {
		return fmt.Errorf("failed to update api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) TouchAPIKey(ctx context.Context, id string, usedAt time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := r.pool.Exec(ctx, `UPDATE api_keys SET last_used_at = $2 WHERE id = $1`, id, usedAt)
	if err != nil {
		return fmt.Errorf("failed to touch api key: %w", err)
	}
	return nil
}

// Dead letters

func (r *PostgresRepository) CreateDeadLetter(ctx context.Context, entry *models.DeadLetterEntry) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	history, err := json.Marshal(entry.FailureHistory)
	if err != nil {
		return fmt.Errorf("failed to marshal failure history: %w", err)
	}

	query := `
		INSERT INTO dead_letters (id, event_id, event_type, source_system, payload, failure_history, archived_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = r.pool.Exec(ctx, query,
		entry.ID, entry.EventID, entry.EventType, entry.SourceSystem,
		payload, history, entry.ArchivedAt, entry.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create dead letter: %w", err)
	}
	return nil
}

func (r *PostgresRepository) scanDeadLetter(row pgx.Row) (*models.DeadLetterEntry, error) {
	var d models.DeadLetterEntry
	var payload, history []byte
	err := row.Scan(&d.ID, &d.EventID, &d.EventType, &d.SourceSystem, &payload, &history, &d.ArchivedAt, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan dead letter: %w", err)
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &d.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &d.FailureHistory); err != nil {
			return nil, fmt.Errorf("failed to unmarshal failure history: %w", err)
		}
	}
	return &d, nil
}

const deadLetterColumns = `id, event_id, event_type, source_system, payload, failure_history, archived_at, created_at`

func (r *PostgresRepository) GetDeadLetter(ctx context.Context, id string) (*models.DeadLetterEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `SELECT ` + deadLetterColumns + ` FROM dead_letters WHERE id = $1`
	return r.scanDeadLetter(r.pool.QueryRow(ctx, query, id))
}

func (r *PostgresRepository) ListDeadLetters(ctx context.Context, req *models.ListDeadLettersRequest) ([]*models.DeadLetterEntry, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	where := ` WHERE ($1 OR archived_at IS NULL)
		AND ($2 = '' OR source_system = $2)
		AND ($3 = '' OR event_type = $3)`

	var total int64
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM dead_letters`+where,
		req.IncludeArchived, req.SourceSystem, req.EventType,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count dead letters: %w", err)
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	page := req.Page
	if page <= 0 {
		page = 1
	}

	query := `SELECT ` + deadLetterColumns + ` FROM dead_letters` + where + `
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5`
	rows, err := r.pool.Query(ctx, query,
		req.IncludeArchived, req.SourceSystem, req.EventType, limit, (page-1)*limit,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list dead letters: %w", err)
	}
	defer rows.Close()

	var entries []*models.DeadLetterEntry
	for rows.Next() {
		d, err := r.scanDeadLetter(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, d)
	}
	return entries, total, rows.Err()
}

func (r *PostgresRepository) ArchiveDeadLetter(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tag, err := r.pool.Exec(ctx,
		`UPDATE dead_letters SET archived_at = NOW() WHERE id = $1 AND archived_at IS NULL`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to archive dead letter: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) DeleteDeadLetter(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `DELETE FROM dead_letters WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete dead letter: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
