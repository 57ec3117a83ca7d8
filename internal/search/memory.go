package search

import (
	"context"
	"sort"
	"sync"

	"github.com/scoutly/scoutly/internal/credit"
)

// InMemoryRepository implements Repository with in-memory storage. The debit
// and the snapshot write happen under one lock, mirroring the single commit
// boundary of the Postgres implementation.
type InMemoryRepository struct {
	mu       sync.RWMutex
	searches map[string]*StoredSearch
	rows     map[string][]ResultRow
	ledger   *credit.InMemoryLedger
}

// NewInMemoryRepository creates a new in-memory search repository backed by
// the given ledger.
func NewInMemoryRepository(ledger *credit.InMemoryLedger) *InMemoryRepository {
	return &InMemoryRepository{
		searches: make(map[string]*StoredSearch),
		rows:     make(map[string][]ResultRow),
		ledger:   ledger,
	}
}

// CreateSearch implements Repository.
func (r *InMemoryRepository) CreateSearch(ctx context.Context, s *StoredSearch, rows []ResultRow, debit int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if debit > 0 {
		if _, err := r.ledger.Debit(ctx, s.SearcherID, debit, credit.ReasonSearch, s.ID); err != nil {
			return err
		}
	}

	copied := *s
	r.searches[s.ID] = &copied
	stored := make([]ResultRow, len(rows))
	copy(stored, rows)
	sort.SliceStable(stored, func(i, j int) bool { return stored[i].Rank < stored[j].Rank })
	r.rows[s.ID] = stored
	return nil
}

// GetSearch implements Repository.
func (r *InMemoryRepository) GetSearch(ctx context.Context, id string) (*StoredSearch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.searches[id]
	if !ok {
		return nil, ErrInvalidOrExpiredSearch
	}
	copied := *s
	return &copied, nil
}

// ResultsPage implements Repository.
func (r *InMemoryRepository) ResultsPage(ctx context.Context, searchID string, offset, limit int) ([]ResultRow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rows := r.rows[searchID]
	if offset < 0 {
		offset = 0
	}
	if offset >= len(rows) {
		return nil, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(rows) {
		end = len(rows)
	}
	out := make([]ResultRow, end-offset)
	copy(out, rows[offset:end])
	return out, nil
}

// RevealPage implements Repository. The debit and the reveal marking happen
// under the same lock, mirroring the Postgres transaction.
func (r *InMemoryRepository) RevealPage(ctx context.Context, searchID, searcherID string, offset, limit int, costPerCard int64) ([]ResultRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows := r.rows[searchID]
	if offset < 0 {
		offset = 0
	}
	if offset >= len(rows) {
		return nil, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(rows) {
		end = len(rows)
	}

	page := rows[offset:end]
	var unrevealed int64
	for i := range page {
		if !page[i].Revealed {
			unrevealed++
		}
	}
	if unrevealed > 0 && costPerCard > 0 {
		if _, err := r.ledger.Debit(ctx, searcherID, unrevealed*costPerCard, credit.ReasonLoadMore, searchID); err != nil {
			return nil, err
		}
	}
	for i := range page {
		page[i].Revealed = true
	}

	out := make([]ResultRow, len(page))
	copy(out, page)
	return out, nil
}

// CountResults implements Repository.
func (r *InMemoryRepository) CountResults(ctx context.Context, searchID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rows[searchID]), nil
}

// GetResultRow implements Repository.
func (r *InMemoryRepository) GetResultRow(ctx context.Context, searchID, personID string) (*ResultRow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, row := range r.rows[searchID] {
		if row.PersonID == personID {
			copied := row
			return &copied, nil
		}
	}
	return nil, ErrInvalidOrExpiredSearch
}

// UpdateReasons implements Repository.
func (r *InMemoryRepository) UpdateReasons(ctx context.Context, searchID, personID string, reasons []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows := r.rows[searchID]
	for i := range rows {
		if rows[i].PersonID == personID {
			rows[i].Evidence.Reasons = append([]string{}, reasons...)
			return nil
		}
	}
	return ErrInvalidOrExpiredSearch
}

// History implements Repository.
func (r *InMemoryRepository) History(ctx context.Context, searcherID string, limit int) ([]StoredSearch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []StoredSearch
	for _, s := range r.searches {
		if s.SearcherID == searcherID {
			out = append(out, *s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
