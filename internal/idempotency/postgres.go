package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresRepository implements Repository on Postgres. The unique constraint
// on (key, person_id, endpoint) makes Reserve the serialization point:
// exactly one concurrent duplicate inserts the row, every other one conflicts.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Get retrieves a reservation.
func (r *PostgresRepository) Get(key, personID, endpoint string) (*Record, error) {
	record := &Record{}
	var searchID sql.NullString
	err := r.db.QueryRowContext(context.Background(), `
		SELECT key, person_id, endpoint, status, search_id,
		       COALESCE(response_hash, ''), COALESCE(response_body, ''),
		       COALESCE(response_status_code, 0), created_at
		FROM idempotency_keys
		WHERE key = $1 AND person_id = $2 AND endpoint = $3`,
		key, personID, endpoint).Scan(
		&record.Key, &record.PersonID, &record.Endpoint, &record.Status,
		&searchID, &record.ResponseHash, &record.ResponseBody,
		&record.ResponseStatusCode, &record.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query idempotency key: %w", err)
	}
	if searchID.Valid {
		record.SearchID = &searchID.String
	}
	return record, nil
}

// Reserve claims (key, person, endpoint) in processing status.
func (r *PostgresRepository) Reserve(key, personID, endpoint string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	res, err := r.db.ExecContext(context.Background(), `
		INSERT INTO idempotency_keys (key, person_id, endpoint, status, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (key, person_id, endpoint) DO NOTHING`,
		key, personID, endpoint, StatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to reserve idempotency key: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read reservation result: %w", err)
	}
	if affected == 0 {
		return ErrKeyExists
	}
	return nil
}

// Complete transitions a reservation to completed with its stored response.
func (r *PostgresRepository) Complete(record *Record) error {
	hash := record.ResponseHash
	if hash == "" {
		hash = ComputeResponseHash(record.ResponseBody)
	}

	res, err := r.db.ExecContext(context.Background(), `
		UPDATE idempotency_keys
		SET status = $1, search_id = $2, response_hash = $3,
		    response_body = $4, response_status_code = $5
		WHERE key = $6 AND person_id = $7 AND endpoint = $8`,
		StatusCompleted, record.SearchID, hash,
		record.ResponseBody, record.ResponseStatusCode,
		record.Key, record.PersonID, record.Endpoint)
	if err != nil {
		return fmt.Errorf("failed to complete idempotency key: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read completion result: %w", err)
	}
	if affected == 0 {
		return ErrKeyNotFound
	}
	return nil
}

// Release drops a processing reservation. Completed responses stay for
// replay.
func (r *PostgresRepository) Release(key, personID, endpoint string) error {
	res, err := r.db.ExecContext(context.Background(), `
		DELETE FROM idempotency_keys
		WHERE key = $1 AND person_id = $2 AND endpoint = $3 AND status = $4`,
		key, personID, endpoint, StatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	if _, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to read release result: %w", err)
	}
	return nil
}

// DeleteOlderThan removes reservations older than the specified duration.
func (r *PostgresRepository) DeleteOlderThan(duration time.Duration) (int64, error) {
	res, err := r.db.ExecContext(context.Background(), `
		DELETE FROM idempotency_keys WHERE created_at < $1`,
		time.Now().Add(-duration))
	if err != nil {
		return 0, fmt.Errorf("failed to delete old idempotency keys: %w", err)
	}
	return res.RowsAffected()
}
