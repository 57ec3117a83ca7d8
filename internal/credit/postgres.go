package credit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PostgresLedger implements TxLedger on Postgres. The person's profile row is
// locked for the duration of a movement, so concurrent debits serialize and
// the balance can never go negative.
type PostgresLedger struct {
	db *sql.DB
}

// NewPostgresLedger creates a new PostgresLedger.
func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// Debit implements Ledger.
func (l *PostgresLedger) Debit(ctx context.Context, personID string, amount int64, reason, reference string) (*LedgerEntry, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	entry, err := l.DebitTx(ctx, tx, personID, amount, reason, reference)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit debit: %w", err)
	}
	return entry, nil
}

// DebitTx implements TxLedger.
func (l *PostgresLedger) DebitTx(ctx context.Context, tx *sql.Tx, personID string, amount int64, reason, reference string) (*LedgerEntry, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("debit amount must be positive, got %d", amount)
	}
	return applyMovement(ctx, tx, personID, -amount, reason, reference)
}

// Credit implements Ledger.
func (l *PostgresLedger) Credit(ctx context.Context, personID string, amount int64, reason, reference string) (*LedgerEntry, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("credit amount must be positive, got %d", amount)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	entry, err := applyMovement(ctx, tx, personID, amount, reason, reference)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit credit: %w", err)
	}
	return entry, nil
}

// applyMovement locks the profile row, adjusts the balance and appends the
// ledger entry, all on the caller's transaction.
func applyMovement(ctx context.Context, tx *sql.Tx, personID string, delta int64, reason, reference string) (*LedgerEntry, error) {
	var balance int64
	err := tx.QueryRowContext(ctx,
		`SELECT credit_balance FROM person_profiles WHERE id = $1 FOR UPDATE`,
		personID).Scan(&balance)
	if err != nil {
		return nil, fmt.Errorf("failed to lock wallet: %w", err)
	}

	newBalance := balance + delta
	if newBalance < 0 {
		return nil, ErrInsufficientCredits
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE person_profiles SET credit_balance = $1, updated_at = NOW() WHERE id = $2`,
		newBalance, personID); err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}

	entry := &LedgerEntry{
		ID:           uuid.New().String(),
		PersonID:     personID,
		Amount:       delta,
		Reason:       reason,
		Reference:    reference,
		BalanceAfter: newBalance,
		CreatedAt:    time.Now(),
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO credit_ledger (id, person_id, amount, reason, reference, balance_after, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.PersonID, entry.Amount, entry.Reason,
		nullable(entry.Reference), entry.BalanceAfter, entry.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return entry, nil
}

// Balance implements Ledger.
func (l *PostgresLedger) Balance(ctx context.Context, personID string) (int64, error) {
	var balance int64
	err := l.db.QueryRowContext(ctx,
		`SELECT credit_balance FROM person_profiles WHERE id = $1`,
		personID).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("failed to read balance: %w", err)
	}
	return balance, nil
}

// Entries implements Ledger.
func (l *PostgresLedger) Entries(ctx context.Context, personID string, limit int) ([]LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, person_id, amount, reason, COALESCE(reference, ''), balance_after, created_at
		 FROM credit_ledger
		 WHERE person_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		personID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	var out []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(&e.ID, &e.PersonID, &e.Amount, &e.Reason,
			&e.Reference, &e.BalanceAfter, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
