package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/scoutly/scoutly/internal/idempotency"
)

// IdempotencyKeyHeader is the HTTP header name for idempotency keys.
const IdempotencyKeyHeader = "Idempotency-Key"

// IdempotentReplayHeader marks a response served from a stored reservation.
const IdempotentReplayHeader = "X-Idempotent-Replay"

// idempotencyKeyContextKey is the context key for storing the idempotency key.
type idempotencyKeyContextKey struct{}

// idempotencyResponseWriter captures the response so a completed reservation
// can replay it byte for byte.
type idempotencyResponseWriter struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
	written    bool
}

func newIdempotencyResponseWriter(w http.ResponseWriter) *idempotencyResponseWriter {
	return &idempotencyResponseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
		body:           &bytes.Buffer{},
	}
}

// WriteHeader captures the status code.
func (w *idempotencyResponseWriter) WriteHeader(statusCode int) {
	if !w.written {
		w.statusCode = statusCode
		w.written = true
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

// Write captures the response body while writing it through.
func (w *idempotencyResponseWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.body.Write(b)
	return n, err
}

// SetContext implements ContextCarrier by delegating to the wrapped writer.
func (w *idempotencyResponseWriter) SetContext(ctx context.Context) {
	UpdateResponseContext(w.ResponseWriter, ctx)
}

// SetIdempotencyKey stores the idempotency key in the context.
func SetIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKeyContextKey{}, key)
}

// GetIdempotencyKey retrieves the idempotency key from context. Returns empty string if not present.
func GetIdempotencyKey(ctx context.Context) string {
	if key, ok := ctx.Value(idempotencyKeyContextKey{}).(string); ok {
		return key
	}
	return ""
}

func writeIdempotencyError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	UpdateResponseContext(w, SetErrorCode(r.Context(), code))
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, `{"error":{"code":"`+code+`","message":"`+message+`"}}`)
}

// Idempotency enforces exactly-once execution for POST requests on the
// configured routes. Reservations are scoped per (key, person, endpoint):
// exactly one concurrent request with a given key executes, duplicates of a
// completed request replay the stored response, and duplicates racing the
// first request receive 409 with code "in_progress". A failed execution
// releases the reservation so the client may retry with the same key.
func Idempotency(repo idempotency.Repository, routes map[string]bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || !routes[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get(IdempotencyKeyHeader)
			if key == "" {
				writeIdempotencyError(w, r, http.StatusBadRequest,
					"missing_idempotency_key", "Idempotency-Key header is required for this request")
				return
			}
			if err := idempotency.ValidateKey(key); err != nil {
				code := "invalid_idempotency_key"
				message := "Invalid Idempotency-Key format"
				if errors.Is(err, idempotency.ErrKeyTooLong) {
					code = "idempotency_key_too_long"
					message = "Idempotency-Key exceeds maximum length of 64 characters"
				}
				writeIdempotencyError(w, r, http.StatusBadRequest, code, message)
				return
			}

			personID := GetPersonID(r.Context())
			if personID == "" {
				// Authentication runs further out; an anonymous request is
				// rejected there, not here.
				next.ServeHTTP(w, r)
				return
			}
			endpoint := r.URL.Path

			ctx := SetIdempotencyKey(r.Context(), key)
			r = r.WithContext(ctx)

			if err := repo.Reserve(key, personID, endpoint); err != nil {
				if !errors.Is(err, idempotency.ErrKeyExists) {
					// Reservation storage failed; running without idempotency
					// beats rejecting the request.
					slog.ErrorContext(ctx, "idempotency reservation failed", "key", key, "error", err)
					next.ServeHTTP(w, r)
					return
				}

				existing, getErr := repo.Get(key, personID, endpoint)
				if getErr != nil {
					slog.ErrorContext(ctx, "failed to load idempotency record", "key", key, "error", getErr)
					writeIdempotencyError(w, r, http.StatusConflict,
						"in_progress", "A request with this Idempotency-Key is already in progress")
					return
				}

				if existing.Status == idempotency.StatusProcessing {
					writeIdempotencyError(w, r, http.StatusConflict,
						"in_progress", "A request with this Idempotency-Key is already in progress")
					return
				}

				slog.InfoContext(ctx, "replaying idempotent response",
					"key", key, "status", existing.ResponseStatusCode)
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.Header().Set(IdempotentReplayHeader, "true")
				w.WriteHeader(existing.ResponseStatusCode)
				_, _ = io.WriteString(w, existing.ResponseBody)
				return
			}

			captureWriter := newIdempotencyResponseWriter(w)
			next.ServeHTTP(captureWriter, r)

			if captureWriter.statusCode >= 200 && captureWriter.statusCode < 300 {
				body := captureWriter.body.String()
				record := &idempotency.Record{
					Key:                key,
					PersonID:           personID,
					Endpoint:           endpoint,
					Status:             idempotency.StatusCompleted,
					ResponseHash:       idempotency.ComputeResponseHash(body),
					ResponseBody:       body,
					ResponseStatusCode: captureWriter.statusCode,
				}
				if err := repo.Complete(record); err != nil {
					// Response already sent; the stale reservation is dropped
					// so a retry can execute.
					slog.ErrorContext(ctx, "failed to complete idempotency record", "key", key, "error", err)
					if relErr := repo.Release(key, personID, endpoint); relErr != nil {
						slog.ErrorContext(ctx, "failed to release idempotency record", "key", key, "error", relErr)
					}
				}
				return
			}

			// Failed executions must not poison the key.
			if err := repo.Release(key, personID, endpoint); err != nil {
				slog.ErrorContext(ctx, "failed to release idempotency record after error",
					"key", key, "status", captureWriter.statusCode, "error", err)
			}
		})
	}
}
