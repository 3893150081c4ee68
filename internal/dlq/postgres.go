package dlq

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/CedrosPay/server/internal/metrics"
)

// PostgresStore implements Store using PostgreSQL. Scheduling timestamps are
// always computed in Go and passed as parameters; no query relies on
// Postgres's own now() + interval arithmetic (see backoffDelay).
type PostgresStore struct {
	db        *sql.DB
	tableName string
	metrics   *metrics.Metrics
}

// SetMetrics attaches a metrics collector so query latency is observed under
// the "postgres" backend label. Safe to call with nil.
func (s *PostgresStore) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// NewPostgresStore opens a connection and ensures the dead_letter_queue
// table exists.
func NewPostgresStore(connectionString string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresStore{db: db, tableName: "dead_letter_queue"}
	if err := store.createTable(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStoreWithDB builds a store over an already-open pool.
func NewPostgresStoreWithDB(db *sql.DB) (*PostgresStore, error) {
	store := &PostgresStore{db: db, tableName: "dead_letter_queue"}
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
			event_id TEXT NOT NULL UNIQUE,
			error_message TEXT NOT NULL,
			retry_count INTEGER NOT NULL DEFAULT 0,
			max_retries INTEGER NOT NULL DEFAULT %d,
			next_retry_at TIMESTAMP,
			last_retry_at TIMESTAMP,
			status TEXT NOT NULL,
			resolved_at TIMESTAMP,
			resolution_note TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_%s_pending ON %s(status, next_retry_at)
			WHERE status IN ('pending', 'retrying');
	`, s.tableName, DefaultMaxRetries, s.tableName, s.tableName)

	_, err := s.db.Exec(schema)
	return err
}

func (s *PostgresStore) Enqueue(ctx context.Context, eventID, errMsg string) (*Entry, error) {
	defer metrics.MeasureDBQuery(s.metrics, "enqueue", "postgres")()

	existing, err := s.GetByEventID(ctx, eventID)
	if err != nil && err != ErrNotFound {
		return nil, err
	}

	now := time.Now().UTC()

	if existing != nil {
		if existing.Status == StatusAbandoned {
			return existing, nil
		}

		existing.RetryCount++
		existing.ErrorMessage = errMsg
		existing.LastRetryAt = &now
		existing.UpdatedAt = now

		var query string
		if existing.RetryCount >= existing.MaxRetries {
			existing.Status = StatusAbandoned
			existing.NextRetryAt = nil
			query = fmt.Sprintf(`
				UPDATE %s SET retry_count = $1, error_message = $2, status = $3, next_retry_at = NULL, last_retry_at = $4, updated_at = $5
				WHERE id = $6
			`, s.tableName)
			_, err = s.db.ExecContext(ctx, query, existing.RetryCount, errMsg, existing.Status, now, now, existing.ID)
		} else {
			next := now.Add(backoffDelay(existing.RetryCount))
			existing.Status = StatusPending
			existing.NextRetryAt = &next
			query = fmt.Sprintf(`
				UPDATE %s SET retry_count = $1, error_message = $2, status = $3, next_retry_at = $4, last_retry_at = $5, updated_at = $6
				WHERE id = $7
			`, s.tableName)
			_, err = s.db.ExecContext(ctx, query, existing.RetryCount, errMsg, existing.Status, next, now, now, existing.ID)
		}
		if err != nil {
			return nil, fmt.Errorf("update dlq entry: %w", err)
		}
		return existing, nil
	}

	next := now.Add(1 * time.Second)
	entry := Entry{
		ID:           "dlq_" + uuid.NewString(),
		EventID:      eventID,
		ErrorMessage: errMsg,
		RetryCount:   0,
		MaxRetries:   DefaultMaxRetries,
		NextRetryAt:  &next,
		Status:       StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, event_id, error_message, retry_count, max_retries, next_retry_at, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, s.tableName)
	_, err = s.db.ExecContext(ctx, query, entry.ID, entry.EventID, entry.ErrorMessage, entry.RetryCount, entry.MaxRetries, entry.NextRetryAt, entry.Status, entry.CreatedAt, entry.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert dlq entry: %w", err)
	}
	return &entry, nil
}

func (s *PostgresStore) GetByEventID(ctx context.Context, eventID string) (*Entry, error) {
	query := fmt.Sprintf(`
		SELECT id, event_id, error_message, retry_count, max_retries, next_retry_at, last_retry_at, status, resolved_at, resolution_note, created_at, updated_at
		FROM %s WHERE event_id = $1
	`, s.tableName)
	return scanEntry(s.db.QueryRowContext(ctx, query, eventID))
}

func (s *PostgresStore) GetPendingRetries(ctx context.Context, limit int) ([]*Entry, error) {
	query := fmt.Sprintf(`
		SELECT id, event_id, error_message, retry_count, max_retries, next_retry_at, last_retry_at, status, resolved_at, resolution_note, created_at, updated_at
		FROM %s
		WHERE status IN ($1, $2) AND next_retry_at <= $3
		ORDER BY next_retry_at ASC
		LIMIT $4
	`, s.tableName)

	rows, err := s.db.QueryContext(ctx, query, StatusPending, StatusRetrying, time.Now().UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("query dlq entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dlq entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) MarkRetrying(ctx context.Context, id string) error {
	query := fmt.Sprintf(`UPDATE %s SET status = $1, last_retry_at = $2, updated_at = $2 WHERE id = $3`, s.tableName)
	result, err := s.db.ExecContext(ctx, query, StatusRetrying, time.Now().UTC(), id)
	return checkResult(result, err)
}

func (s *PostgresStore) MarkResolved(ctx context.Context, id, note string) error {
	now := time.Now().UTC()
	query := fmt.Sprintf(`
		UPDATE %s SET status = $1, resolved_at = $2, resolution_note = $3, next_retry_at = NULL, updated_at = $2
		WHERE id = $4
	`, s.tableName)
	result, err := s.db.ExecContext(ctx, query, StatusResolved, now, note, id)
	return checkResult(result, err)
}

func checkResult(result sql.Result, err error) error {
	if err != nil {
		return fmt.Errorf("update dlq entry: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	query := fmt.Sprintf(`SELECT status, count(*) FROM %s GROUP BY status`, s.tableName)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return Stats{}, fmt.Errorf("query dlq stats: %w", err)
	}
	defer rows.Close()

	var stats Stats
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return Stats{}, fmt.Errorf("scan dlq stats: %w", err)
		}
		switch status {
		case StatusPending:
			stats.Pending = count
		case StatusRetrying:
			stats.Retrying = count
		case StatusResolved:
			stats.Resolved = count
		case StatusAbandoned:
			stats.Abandoned = count
		}
	}
	return stats, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row scanner) (*Entry, error) {
	var e Entry
	var nextRetryAt, lastRetryAt, resolvedAt sql.NullTime
	var resolutionNote sql.NullString

	err := row.Scan(
		&e.ID, &e.EventID, &e.ErrorMessage, &e.RetryCount, &e.MaxRetries,
		&nextRetryAt, &lastRetryAt, &e.Status, &resolvedAt, &resolutionNote,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if nextRetryAt.Valid {
		e.NextRetryAt = &nextRetryAt.Time
	}
	if lastRetryAt.Valid {
		e.LastRetryAt = &lastRetryAt.Time
	}
	if resolvedAt.Valid {
		e.ResolvedAt = &resolvedAt.Time
	}
	e.ResolutionNote = resolutionNote.String

	return &e, nil
}
