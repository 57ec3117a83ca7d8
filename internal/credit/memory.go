package credit

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryLedger implements TxLedger with in-memory storage for tests and
// local development.
type InMemoryLedger struct {
	mu       sync.Mutex
	balances map[string]int64
	entries  map[string][]LedgerEntry
}

// NewInMemoryLedger creates a new in-memory ledger.
func NewInMemoryLedger() *InMemoryLedger {
	return &InMemoryLedger{
		balances: make(map[string]int64),
		entries:  make(map[string][]LedgerEntry),
	}
}

// SetBalance seeds a person's balance without a ledger entry. Test helper.
func (l *InMemoryLedger) SetBalance(personID string, balance int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[personID] = balance
}

// Debit implements Ledger.
func (l *InMemoryLedger) Debit(ctx context.Context, personID string, amount int64, reason, reference string) (*LedgerEntry, error) {
	return l.apply(personID, -amount, reason, reference)
}

// DebitTx implements TxLedger. The tx argument is ignored; the in-memory
// ledger is already atomic under its mutex.
func (l *InMemoryLedger) DebitTx(ctx context.Context, tx *sql.Tx, personID string, amount int64, reason, reference string) (*LedgerEntry, error) {
	return l.apply(personID, -amount, reason, reference)
}

// Credit implements Ledger.
func (l *InMemoryLedger) Credit(ctx context.Context, personID string, amount int64, reason, reference string) (*LedgerEntry, error) {
	return l.apply(personID, amount, reason, reference)
}

func (l *InMemoryLedger) apply(personID string, delta int64, reason, reference string) (*LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	newBalance := l.balances[personID] + delta
	if newBalance < 0 {
		return nil, ErrInsufficientCredits
	}
	l.balances[personID] = newBalance

	entry := LedgerEntry{
		ID:           uuid.New().String(),
		PersonID:     personID,
		Amount:       delta,
		Reason:       reason,
		Reference:    reference,
		BalanceAfter: newBalance,
		CreatedAt:    time.Now(),
	}
	l.entries[personID] = append(l.entries[personID], entry)

	copied := entry
	return &copied, nil
}

// Balance implements Ledger.
func (l *InMemoryLedger) Balance(ctx context.Context, personID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[personID], nil
}

// Entries implements Ledger.
func (l *InMemoryLedger) Entries(ctx context.Context, personID string, limit int) ([]LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	all := l.entries[personID]
	out := make([]LedgerEntry, 0, len(all))
	// Newest first, matching the Postgres ordering.
	for i := len(all) - 1; i >= 0; i-- {
		out = append(out, all[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
