// Package idempotency provides repository implementations for idempotency key storage.
package idempotency

import (
	"sync"
	"time"
)

// InMemoryRepository implements Repository with in-memory storage.
type InMemoryRepository struct {
	mu   sync.RWMutex
	keys map[compositeKey]*Record
}

type compositeKey struct {
	key      string
	personID string
	endpoint string
}

// NewInMemoryRepository creates a new in-memory idempotency repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		keys: make(map[compositeKey]*Record),
	}
}

// Get retrieves a reservation.
// Returns ErrKeyNotFound if it doesn't exist.
func (r *InMemoryRepository) Get(key, personID, endpoint string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.keys[compositeKey{key, personID, endpoint}]
	if !ok {
		return nil, ErrKeyNotFound
	}

	// Return a copy to prevent external mutation
	return r.copyRecord(record), nil
}

// Reserve claims (key, person, endpoint) in processing status.
// Returns ErrKeyExists if the reservation is already held.
func (r *InMemoryRepository) Reserve(key, personID, endpoint string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ck := compositeKey{key, personID, endpoint}
	if _, exists := r.keys[ck]; exists {
		return ErrKeyExists
	}

	r.keys[ck] = &Record{
		Key:       key,
		PersonID:  personID,
		Endpoint:  endpoint,
		Status:    StatusProcessing,
		CreatedAt: time.Now(),
	}
	return nil
}

// Complete transitions a reservation to completed with its stored response.
func (r *InMemoryRepository) Complete(record *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ck := compositeKey{record.Key, record.PersonID, record.Endpoint}
	existing, ok := r.keys[ck]
	if !ok {
		return ErrKeyNotFound
	}

	copied := r.copyRecord(record)
	copied.Status = StatusCompleted
	copied.CreatedAt = existing.CreatedAt
	if copied.ResponseHash == "" {
		copied.ResponseHash = ComputeResponseHash(copied.ResponseBody)
	}
	r.keys[ck] = copied
	return nil
}

// Release drops a processing reservation.
func (r *InMemoryRepository) Release(key, personID, endpoint string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ck := compositeKey{key, personID, endpoint}
	record, ok := r.keys[ck]
	if !ok {
		return ErrKeyNotFound
	}
	// Completed responses are never released; they exist to be replayed.
	if record.Status == StatusCompleted {
		return nil
	}
	delete(r.keys, ck)
	return nil
}

// DeleteOlderThan removes reservations older than the specified duration.
// Returns the number of reservations deleted.
func (r *InMemoryRepository) DeleteOlderThan(duration time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoffTime := time.Now().Add(-duration)
	deleted := int64(0)

	for ck, record := range r.keys {
		if record.CreatedAt.Before(cutoffTime) {
			delete(r.keys, ck)
			deleted++
		}
	}

	return deleted, nil
}

// copyRecord creates a deep copy of a Record.
func (r *InMemoryRepository) copyRecord(record *Record) *Record {
	if record == nil {
		return nil
	}

	copied := &Record{
		Key:                record.Key,
		PersonID:           record.PersonID,
		Endpoint:           record.Endpoint,
		Status:             record.Status,
		ResponseHash:       record.ResponseHash,
		ResponseBody:       record.ResponseBody,
		ResponseStatusCode: record.ResponseStatusCode,
		CreatedAt:          record.CreatedAt,
	}

	if record.SearchID != nil {
		searchID := *record.SearchID
		copied.SearchID = &searchID
	}

	return copied
}
