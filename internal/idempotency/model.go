// Package idempotency provides models and services for idempotency key management.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// Status constants for idempotency keys.
//
// StatusProcessing marks a key whose first request is still in flight. A
// concurrent duplicate observing this status receives an explicit
// "in progress" signal instead of executing a second time.
//
// StatusCompleted indicates that the request has finished and a stable
// response has been persisted. Both values appear in the database schema
// CHECK constraint; keep them in sync with the migrations.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
)

var (
	// ErrKeyNotFound is returned when an idempotency key is not found.
	ErrKeyNotFound = errors.New("idempotency key not found")

	// ErrKeyExists is returned when attempting to reserve a key that is
	// already held for the same (key, person, endpoint).
	ErrKeyExists = errors.New("idempotency key already exists")

	// ErrInvalidKey is returned when the key is invalid.
	ErrInvalidKey = errors.New("invalid idempotency key")

	// ErrKeyTooLong is returned when the key exceeds maximum length.
	ErrKeyTooLong = errors.New("idempotency key exceeds maximum length of 64 characters")
)

// MaxKeyLength is the maximum allowed length for an idempotency key.
const MaxKeyLength = 64

// Record represents a stored idempotency reservation with its cached
// response. Uniqueness is per (Key, PersonID, Endpoint): the same client key
// on a different endpoint or from a different person is a distinct
// reservation.
type Record struct {
	Key                string    `json:"key"`
	PersonID           string    `json:"person_id"`
	Endpoint           string    `json:"endpoint"`
	Status             string    `json:"status"`
	SearchID           *string   `json:"search_id,omitempty"`
	ResponseHash       string    `json:"response_hash"`
	ResponseBody       string    `json:"response_body"`
	ResponseStatusCode int       `json:"response_status_code"`
	CreatedAt          time.Time `json:"created_at"`
}

// ValidateKey checks if an idempotency key is valid.
// Returns ErrInvalidKey if the key is empty.
// Returns ErrKeyTooLong if the key exceeds MaxKeyLength.
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	return nil
}

// ComputeResponseHash computes a SHA256 hash of the response body.
// This is used to verify response integrity when returning cached responses.
func ComputeResponseHash(responseBody string) string {
	hash := sha256.Sum256([]byte(responseBody))
	return hex.EncodeToString(hash[:])
}

// Repository defines methods for idempotency reservation persistence.
type Repository interface {
	// Get retrieves a reservation. Returns ErrKeyNotFound if absent.
	Get(key, personID, endpoint string) (*Record, error)

	// Reserve atomically claims (key, person, endpoint) in processing
	// status. Exactly one concurrent caller wins; the rest receive
	// ErrKeyExists and must consult Get to decide between replaying a
	// completed response and signalling "in progress".
	Reserve(key, personID, endpoint string) error

	// Complete transitions a reservation to completed and stores the
	// response for replay.
	Complete(record *Record) error

	// Release drops a processing reservation after a failed execution so
	// the client can retry with the same key.
	Release(key, personID, endpoint string) error

	// DeleteOlderThan removes reservations older than the specified
	// duration. Used by the cleanup job to prevent unbounded growth.
	DeleteOlderThan(duration time.Duration) (int64, error)
}
