package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/scoutly/scoutly/internal/credit"
	"github.com/scoutly/scoutly/internal/retrieval"
)

// Repository persists searches and their ranked snapshots.
type Repository interface {
	// CreateSearch writes the search row, every result row and the credit
	// debit inside a single transaction. A crash can never leave a
	// charged-but-resultless search or a free search with results. A zero
	// debit (empty result set) skips the wallet entirely.
	CreateSearch(ctx context.Context, s *StoredSearch, rows []ResultRow, debit int64) error

	// GetSearch returns a stored search, or ErrInvalidOrExpiredSearch when
	// unknown.
	GetSearch(ctx context.Context, id string) (*StoredSearch, error)

	// ResultsPage returns snapshot rows ordered by stored rank. It never
	// touches the wallet or the revealed flags; history replay uses it.
	ResultsPage(ctx context.Context, searchID string, offset, limit int) ([]ResultRow, error)

	// RevealPage returns snapshot rows for a live page and, in the same
	// transaction, debits costPerCard for every row served for the first
	// time and marks those rows revealed. Already-revealed rows are free,
	// so re-reading a page never charges twice.
	RevealPage(ctx context.Context, searchID, searcherID string, offset, limit int, costPerCard int64) ([]ResultRow, error)

	// CountResults returns the snapshot size.
	CountResults(ctx context.Context, searchID string) (int, error)

	// GetResultRow returns one snapshot row, or ErrInvalidOrExpiredSearch
	// when absent. Used by the explanation worker's read-back retry.
	GetResultRow(ctx context.Context, searchID, personID string) (*ResultRow, error)

	// UpdateReasons patches the explanation lines inside a row's evidence
	// blob. Rank and score are never touched.
	UpdateReasons(ctx context.Context, searchID, personID string, reasons []string) error

	// History lists a searcher's past searches, newest first.
	History(ctx context.Context, searcherID string, limit int) ([]StoredSearch, error)
}

// PostgresRepository implements Repository on Postgres, sharing a transaction
// with the credit ledger for the persist-and-debit boundary.
type PostgresRepository struct {
	db     *sql.DB
	ledger credit.TxLedger
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *sql.DB, ledger credit.TxLedger) *PostgresRepository {
	return &PostgresRepository{db: db, ledger: ledger}
}

// CreateSearch implements Repository.
func (r *PostgresRepository) CreateSearch(ctx context.Context, s *StoredSearch, rows []ResultRow, debit int64) error {
	constraints, err := json.Marshal(s.Constraints)
	if err != nil {
		return fmt.Errorf("failed to encode constraints: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO search_requests (id, searcher_id, query_text, constraints, fallback_tier, num_cards, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.ID, s.SearcherID, s.QueryText, constraints,
		int(s.FallbackTier), s.NumCards, s.CreatedAt, s.ExpiresAt); err != nil {
		return fmt.Errorf("failed to insert search request: %w", err)
	}

	for i := range rows {
		blob, err := EncodeEvidence(rows[i].Evidence)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO search_result_rows (search_id, rank, person_id, score, evidence, revealed, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			rows[i].SearchID, rows[i].Rank, rows[i].PersonID,
			rows[i].Score, blob, rows[i].Revealed, rows[i].CreatedAt); err != nil {
			return fmt.Errorf("failed to insert result row: %w", err)
		}
	}

	if debit > 0 {
		if _, err := r.ledger.DebitTx(ctx, tx, s.SearcherID, debit, credit.ReasonSearch, s.ID); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit search: %w", err)
	}
	return nil
}

// GetSearch implements Repository.
func (r *PostgresRepository) GetSearch(ctx context.Context, id string) (*StoredSearch, error) {
	var s StoredSearch
	var constraints []byte
	var tier int
	err := r.db.QueryRowContext(ctx, `
		SELECT id, searcher_id, query_text, constraints, fallback_tier, num_cards, created_at, expires_at
		FROM search_requests
		WHERE id = $1`, id).Scan(
		&s.ID, &s.SearcherID, &s.QueryText, &constraints,
		&tier, &s.NumCards, &s.CreatedAt, &s.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidOrExpiredSearch
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query search: %w", err)
	}
	s.FallbackTier = tierFromInt(tier)
	if len(constraints) > 0 {
		if err := json.Unmarshal(constraints, &s.Constraints); err != nil {
			return nil, fmt.Errorf("failed to decode constraints: %w", err)
		}
	}
	return &s, nil
}

// ResultsPage implements Repository.
func (r *PostgresRepository) ResultsPage(ctx context.Context, searchID string, offset, limit int) ([]ResultRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT search_id, rank, person_id, score, evidence, revealed, created_at
		FROM search_result_rows
		WHERE search_id = $1
		ORDER BY rank
		OFFSET $2 LIMIT $3`, searchID, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query result rows: %w", err)
	}
	defer rows.Close()

	var out []ResultRow
	for rows.Next() {
		row, err := scanResultRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *row)
	}
	return out, rows.Err()
}

// RevealPage implements Repository. The page rows are locked for the duration
// of the transaction, so two concurrent reveals of the same rows serialize and
// the second one sees them already revealed and pays nothing.
func (r *PostgresRepository) RevealPage(ctx context.Context, searchID, searcherID string, offset, limit int, costPerCard int64) ([]ResultRow, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT search_id, rank, person_id, score, evidence, revealed, created_at
		FROM search_result_rows
		WHERE search_id = $1
		ORDER BY rank
		OFFSET $2 LIMIT $3
		FOR UPDATE`, searchID, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query result rows: %w", err)
	}
	var out []ResultRow
	var newRanks []int64
	for rows.Next() {
		row, err := scanResultRow(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		if !row.Revealed {
			newRanks = append(newRanks, int64(row.Rank))
			row.Revealed = true
		}
		out = append(out, *row)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(newRanks) > 0 {
		if costPerCard > 0 {
			amount := int64(len(newRanks)) * costPerCard
			if _, err := r.ledger.DebitTx(ctx, tx, searcherID, amount, credit.ReasonLoadMore, searchID); err != nil {
				return nil, err
			}
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE search_result_rows SET revealed = TRUE
			WHERE search_id = $1 AND rank = ANY($2)`,
			searchID, pq.Array(newRanks)); err != nil {
			return nil, fmt.Errorf("failed to mark rows revealed: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit reveal: %w", err)
	}
	return out, nil
}

// CountResults implements Repository.
func (r *PostgresRepository) CountResults(ctx context.Context, searchID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM search_result_rows WHERE search_id = $1`, searchID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count result rows: %w", err)
	}
	return n, nil
}

// GetResultRow implements Repository.
func (r *PostgresRepository) GetResultRow(ctx context.Context, searchID, personID string) (*ResultRow, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT search_id, rank, person_id, score, evidence, revealed, created_at
		FROM search_result_rows
		WHERE search_id = $1 AND person_id = $2`, searchID, personID)
	out, err := scanResultRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidOrExpiredSearch
	}
	return out, err
}

// UpdateReasons implements Repository.
func (r *PostgresRepository) UpdateReasons(ctx context.Context, searchID, personID string, reasons []string) error {
	row, err := r.GetResultRow(ctx, searchID, personID)
	if err != nil {
		return err
	}
	row.Evidence.Reasons = reasons

	blob, err := EncodeEvidence(row.Evidence)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE search_result_rows SET evidence = $1
		WHERE search_id = $2 AND person_id = $3`, blob, searchID, personID)
	if err != nil {
		return fmt.Errorf("failed to patch evidence: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read patch result: %w", err)
	}
	if affected == 0 {
		return ErrInvalidOrExpiredSearch
	}
	return nil
}

// History implements Repository.
func (r *PostgresRepository) History(ctx context.Context, searcherID string, limit int) ([]StoredSearch, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, searcher_id, query_text, constraints, fallback_tier, num_cards, created_at, expires_at
		FROM search_requests
		WHERE searcher_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, searcherID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query search history: %w", err)
	}
	defer rows.Close()

	var out []StoredSearch
	for rows.Next() {
		var s StoredSearch
		var constraints []byte
		var tier int
		if err := rows.Scan(&s.ID, &s.SearcherID, &s.QueryText, &constraints,
			&tier, &s.NumCards, &s.CreatedAt, &s.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan search: %w", err)
		}
		s.FallbackTier = tierFromInt(tier)
		if len(constraints) > 0 {
			if err := json.Unmarshal(constraints, &s.Constraints); err != nil {
				return nil, fmt.Errorf("failed to decode constraints: %w", err)
			}
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResultRow(s rowScanner) (*ResultRow, error) {
	var row ResultRow
	var blob []byte
	if err := s.Scan(&row.SearchID, &row.Rank, &row.PersonID, &row.Score, &blob, &row.Revealed, &row.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to scan result row: %w", err)
	}
	evidence, err := DecodeEvidence(blob)
	if err != nil {
		return nil, err
	}
	row.Evidence = evidence
	return &row, nil
}

func tierFromInt(v int) retrieval.Tier {
	return retrieval.Tier(v)
}
