// Package credit provides the ledgered credit wallet. Balances move only
// through append-only ledger entries; the sum of a person's entries always
// equals their current balance.
package credit

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Ledger entry reasons.
const (
	ReasonSearch     = "search"
	ReasonLoadMore   = "load_more"
	ReasonTopUp      = "top_up"
	ReasonAdjustment = "adjustment"
)

// ErrInsufficientCredits is returned when a debit would drive the balance
// negative. No partial charge occurs.
var ErrInsufficientCredits = errors.New("insufficient credits")

// LedgerEntry is one append-only wallet movement. Amount is signed: debits
// are negative, credits positive. BalanceAfter is the resulting balance,
// captured inside the same transaction as the balance update.
type LedgerEntry struct {
	ID           string    `json:"id"`
	PersonID     string    `json:"person_id"`
	Amount       int64     `json:"amount"`
	Reason       string    `json:"reason"`
	Reference    string    `json:"reference,omitempty"`
	BalanceAfter int64     `json:"balance_after"`
	CreatedAt    time.Time `json:"created_at"`
}

// Ledger is the generic wallet primitive consumed by search billing and
// top-ups.
type Ledger interface {
	// Debit removes amount credits in its own transaction. Returns
	// ErrInsufficientCredits without side effects when the balance is too
	// low.
	Debit(ctx context.Context, personID string, amount int64, reason, reference string) (*LedgerEntry, error)
	// Credit adds amount credits.
	Credit(ctx context.Context, personID string, amount int64, reason, reference string) (*LedgerEntry, error)
	// Balance returns the current balance.
	Balance(ctx context.Context, personID string) (int64, error)
	// Entries returns the person's ledger, newest first.
	Entries(ctx context.Context, personID string, limit int) ([]LedgerEntry, error)
}

// TxLedger additionally exposes a debit that joins a caller-owned
// transaction, so search persistence and billing share one commit boundary.
type TxLedger interface {
	Ledger
	// DebitTx behaves like Debit but runs on tx and leaves commit/rollback
	// to the caller.
	DebitTx(ctx context.Context, tx *sql.Tx, personID string, amount int64, reason, reference string) (*LedgerEntry, error)
}
