package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/CedrosPay/server/internal/metrics"
)

// PostgresStore implements Store using PostgreSQL, with a unique index on
// (provider, external_id) enforcing idempotency at the database level.
type PostgresStore struct {
	db        *sql.DB
	tableName string
	metrics   *metrics.Metrics
}

// SetMetrics attaches a metrics collector so query latency is observed under
// the "postgres" backend label. Safe to call with nil; query instrumentation
// becomes a no-op.
func (s *PostgresStore) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// NewPostgresStore opens a connection and ensures the events table exists.
func NewPostgresStore(connectionString string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresStore{db: db, tableName: "events"}
	if err := store.createTable(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStoreWithDB builds a store over an already-open pool, so the
// event table can share a connection pool with the DLQ table.
func NewPostgresStoreWithDB(db *sql.DB) (*PostgresStore, error) {
	store := &PostgresStore{db: db, tableName: "events"}
	if err := store.createTable(); err != nil {
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database/sql pool. Callers that share a pool
// across the event store and the DLQ store via NewPostgresStoreWithDB should
// close the *sql.DB directly instead.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) createTable() error {
	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			provider TEXT NOT NULL,
			event_type TEXT NOT NULL,
			external_id TEXT,
			user_identifier TEXT,
			organization_id TEXT,
			raw_payload JSONB NOT NULL,
			normalized_payload JSONB NOT NULL,
			status TEXT NOT NULL,
			received_at TIMESTAMP NOT NULL,
			processed_at TIMESTAMP,
			error_message TEXT
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_%s_provider_external_id
			ON %s(provider, external_id) WHERE external_id IS NOT NULL AND external_id != '';
		CREATE INDEX IF NOT EXISTS idx_%s_status ON %s(status);
		CREATE INDEX IF NOT EXISTS idx_%s_received ON %s(received_at DESC);
	`, s.tableName, s.tableName, s.tableName, s.tableName, s.tableName, s.tableName, s.tableName)

	_, err := s.db.Exec(schema)
	return err
}

func (s *PostgresStore) CreateEvent(ctx context.Context, provider, eventType string, raw, normalized json.RawMessage, externalID, userIdentifier, orgID string) (*Event, error) {
	defer metrics.MeasureDBQuery(s.metrics, "create_event", "postgres")()

	event := Event{
		ID:                generateEventID(),
		Provider:          provider,
		EventType:         eventType,
		ExternalID:        externalID,
		UserIdentifier:    userIdentifier,
		OrganizationID:    orgID,
		RawPayload:        raw,
		NormalizedPayload: normalized,
		Status:            StatusReceived,
		ReceivedAt:        time.Now().UTC(),
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, provider, event_type, external_id, user_identifier, organization_id, raw_payload, normalized_payload, status, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, s.tableName)

	_, err := s.db.ExecContext(ctx, query,
		event.ID, event.Provider, event.EventType, nullString(event.ExternalID),
		nullString(event.UserIdentifier), nullString(event.OrganizationID),
		event.RawPayload, event.NormalizedPayload, event.Status, event.ReceivedAt,
	)
	if err != nil {
		if isUniqueViolation(err) && externalID != "" {
			return s.GetByExternalID(ctx, provider, externalID)
		}
		return nil, fmt.Errorf("insert event: %w", err)
	}

	return &event, nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (*Event, error) {
	query := fmt.Sprintf(`
		SELECT id, provider, event_type, external_id, user_identifier, organization_id, raw_payload, normalized_payload, status, received_at, processed_at, error_message
		FROM %s WHERE id = $1
	`, s.tableName)
	return scanEvent(s.db.QueryRowContext(ctx, query, id))
}

func (s *PostgresStore) GetByExternalID(ctx context.Context, provider, externalID string) (*Event, error) {
	query := fmt.Sprintf(`
		SELECT id, provider, event_type, external_id, user_identifier, organization_id, raw_payload, normalized_payload, status, received_at, processed_at, error_message
		FROM %s WHERE provider = $1 AND external_id = $2
	`, s.tableName)
	return scanEvent(s.db.QueryRowContext(ctx, query, provider, externalID))
}

func (s *PostgresStore) MarkProcessing(ctx context.Context, id string) error {
	return s.transition(ctx, id, StatusReceived, StatusProcessing, fmt.Sprintf(
		`UPDATE %s SET status = $1 WHERE id = $2 AND status = $3`, s.tableName))
}

// MarkProcessed allows processing -> processed on the normal fast path, and
// failed -> processed on DLQ recovery once a retried dispatch succeeds.
func (s *PostgresStore) MarkProcessed(ctx context.Context, id string) error {
	query := fmt.Sprintf(`UPDATE %s SET status = $1, processed_at = $2 WHERE id = $3 AND status IN ($4, $5)`, s.tableName)
	result, err := s.db.ExecContext(ctx, query, StatusProcessed, time.Now().UTC(), id, StatusProcessing, StatusFailed)
	return checkTransitionResult(result, err)
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id, errMsg string) error {
	query := fmt.Sprintf(`UPDATE %s SET status = $1, error_message = $2 WHERE id = $3 AND status IN ($4, $5)`, s.tableName)
	result, err := s.db.ExecContext(ctx, query, StatusFailed, errMsg, id, StatusReceived, StatusProcessing)
	return checkTransitionResult(result, err)
}

func (s *PostgresStore) transition(ctx context.Context, id string, from, to Status, query string) error {
	result, err := s.db.ExecContext(ctx, query, to, id, from)
	return checkTransitionResult(result, err)
}

func checkTransitionResult(result sql.Result, err error) error {
	if err != nil {
		return fmt.Errorf("update event status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return ErrInvalidTransition
	}
	return nil
}

func (s *PostgresStore) ListFailed(ctx context.Context, provider string, limit int) ([]*Event, error) {
	var rows *sql.Rows
	var err error

	base := fmt.Sprintf(`
		SELECT id, provider, event_type, external_id, user_identifier, organization_id, raw_payload, normalized_payload, status, received_at, processed_at, error_message
		FROM %s WHERE status = $1`, s.tableName)

	if provider == "" {
		rows, err = s.db.QueryContext(ctx, base+` ORDER BY received_at DESC LIMIT $2`, StatusFailed, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, base+` AND provider = $2 ORDER BY received_at DESC LIMIT $3`, StatusFailed, provider, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query failed events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row scanner) (*Event, error) {
	var e Event
	var externalID, userIdentifier, orgID, errMessage sql.NullString
	var processedAt sql.NullTime

	err := row.Scan(
		&e.ID, &e.Provider, &e.EventType, &externalID, &userIdentifier, &orgID,
		&e.RawPayload, &e.NormalizedPayload, &e.Status, &e.ReceivedAt, &processedAt, &errMessage,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}

	e.ExternalID = externalID.String
	e.UserIdentifier = userIdentifier.String
	e.OrganizationID = orgID.String
	e.ErrorMessage = errMessage.String
	if processedAt.Valid {
		e.ProcessedAt = &processedAt.Time
	}
	return &e, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "duplicate key value violates unique constraint")
}
