package talent

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryRepository implements Repository with in-memory storage for tests.
type InMemoryRepository struct {
	mu         sync.RWMutex
	profiles   map[string]*PersonProfile
	records    map[string]*ExperienceRecord
	subRecords map[string]*ExperienceSubRecord
}

// NewInMemoryRepository creates an empty in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		profiles:   make(map[string]*PersonProfile),
		records:    make(map[string]*ExperienceRecord),
		subRecords: make(map[string]*ExperienceSubRecord),
	}
}

// AddProfile stores a profile.
func (r *InMemoryRepository) AddProfile(p *PersonProfile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *p
	r.profiles[p.ID] = &copied
}

// AddRecord stores an experience record.
func (r *InMemoryRepository) AddRecord(rec *ExperienceRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *rec
	r.records[rec.ID] = &copied
}

// AddSubRecord stores a sub-record.
func (r *InMemoryRepository) AddSubRecord(s *ExperienceSubRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *s
	r.subRecords[s.ID] = &copied
}

// ProfilesByID implements Repository.
func (r *InMemoryRepository) ProfilesByID(ctx context.Context, ids []string) (map[string]*PersonProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*PersonProfile, len(ids))
	for _, id := range ids {
		if p, ok := r.profiles[id]; ok {
			copied := *p
			out[id] = &copied
		}
	}
	return out, nil
}

// RecordsByID implements Repository.
func (r *InMemoryRepository) RecordsByID(ctx context.Context, ids []string) (map[string]*ExperienceRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*ExperienceRecord, len(ids))
	for _, id := range ids {
		if rec, ok := r.records[id]; ok {
			copied := *rec
			out[id] = &copied
		}
	}
	return out, nil
}

// SubRecordsByID implements Repository.
func (r *InMemoryRepository) SubRecordsByID(ctx context.Context, ids []string) (map[string]*ExperienceSubRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*ExperienceSubRecord, len(ids))
	for _, id := range ids {
		if s, ok := r.subRecords[id]; ok {
			copied := *s
			out[id] = &copied
		}
	}
	return out, nil
}

// RecentVisibleRecords implements Repository. Ordering matches the Postgres
// implementation: current first, then by end date, then by start date.
func (r *InMemoryRepository) RecentVisibleRecords(ctx context.Context, personID string, limit int) ([]*ExperienceRecord, error) {
	if limit <= 0 {
		limit = 3
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*ExperienceRecord
	for _, rec := range r.records {
		if rec.PersonID == personID && rec.Visible {
			copied := *rec
			matched = append(matched, &copied)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if a.Current != b.Current {
			return a.Current
		}
		if !timeEqual(a.EndDate, b.EndDate) {
			return timeAfter(a.EndDate, b.EndDate)
		}
		return timeAfter(a.StartDate, b.StartDate)
	})

	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// MarkEmbeddingStale implements Repository.
func (r *InMemoryRepository) MarkEmbeddingStale(ctx context.Context, recordID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[recordID]
	if !ok {
		return ErrProfileNotFound
	}
	rec.EmbeddingStale = true
	return nil
}

// timeAfter treats nil as the oldest possible time (NULLS LAST).
func timeAfter(a, b *time.Time) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	return a.After(*b)
}

func timeEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
