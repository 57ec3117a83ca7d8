package credit

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/checkout/session"
)

// ErrEventAlreadyProcessed is returned when attempting to process a duplicate
// webhook event.
var ErrEventAlreadyProcessed = errors.New("webhook event already processed")

// TopUpParams represents parameters for creating a credit top-up Checkout
// Session.
type TopUpParams struct {
	PersonID   string
	PriceID    string
	Credits    int64 // Credits granted when the payment settles
	SuccessURL string
	CancelURL  string
}

// StripeClient is an interface for Stripe operations to enable testing with
// mocks.
type StripeClient interface {
	CreateTopUpSession(params *TopUpParams) (*stripe.CheckoutSession, error)
}

// Metadata keys attached to top-up sessions, read back by the webhook
// handler.
const (
	MetadataPersonID = "person_id"
	MetadataCredits  = "credits"
)

// LiveStripeClient implements StripeClient using the real Stripe SDK.
type LiveStripeClient struct{}

// NewStripeClient creates a new Stripe client with the given API key.
func NewStripeClient(apiKey string) *LiveStripeClient {
	stripe.Key = apiKey
	return &LiveStripeClient{}
}

// CreateTopUpSession creates a Checkout Session for a credit pack purchase.
// The person id and credit amount travel in session metadata so the webhook
// handler can credit the right wallet.
func (c *LiveStripeClient) CreateTopUpSession(params *TopUpParams) (*stripe.CheckoutSession, error) {
	sessionParams := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(params.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(params.SuccessURL),
		CancelURL:  stripe.String(params.CancelURL),
	}
	sessionParams.AddMetadata(MetadataPersonID, params.PersonID)
	sessionParams.AddMetadata(MetadataCredits, strconv.FormatInt(params.Credits, 10))

	return session.New(sessionParams)
}

// WebhookEvent represents a processed webhook event for idempotency tracking.
type WebhookEvent struct {
	ID          string
	EventID     string // Stripe event ID
	EventType   string // Stripe event type
	ProcessedAt time.Time
}

// WebhookRepository defines methods for webhook event tracking.
type WebhookRepository interface {
	// RecordEvent records a webhook event as processed. Returns
	// ErrEventAlreadyProcessed if the event was already recorded.
	RecordEvent(eventID, eventType string) error
	// HasProcessed checks if an event has already been processed.
	HasProcessed(eventID string) (bool, error)
}

// InMemoryWebhookRepository implements WebhookRepository with in-memory
// storage.
type InMemoryWebhookRepository struct {
	mu     sync.RWMutex
	events map[string]*WebhookEvent
}

// NewInMemoryWebhookRepository creates a new in-memory webhook repository.
func NewInMemoryWebhookRepository() *InMemoryWebhookRepository {
	return &InMemoryWebhookRepository{
		events: make(map[string]*WebhookEvent),
	}
}

// RecordEvent records a webhook event as processed.
func (r *InMemoryWebhookRepository) RecordEvent(eventID, eventType string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.events[eventID]; exists {
		return ErrEventAlreadyProcessed
	}

	r.events[eventID] = &WebhookEvent{
		ID:          uuid.New().String(),
		EventID:     eventID,
		EventType:   eventType,
		ProcessedAt: time.Now(),
	}
	return nil
}

// HasProcessed checks if an event has already been processed.
func (r *InMemoryWebhookRepository) HasProcessed(eventID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.events[eventID]
	return exists, nil
}

// PostgresWebhookRepository implements WebhookRepository on top of the
// stripe_webhook_events table.
type PostgresWebhookRepository struct {
	db *sql.DB
}

// NewPostgresWebhookRepository creates a Postgres-backed webhook repository.
func NewPostgresWebhookRepository(db *sql.DB) *PostgresWebhookRepository {
	return &PostgresWebhookRepository{db: db}
}

// RecordEvent records a webhook event as processed. The unique constraint on
// event_id makes duplicate deliveries surface as ErrEventAlreadyProcessed.
func (r *PostgresWebhookRepository) RecordEvent(eventID, eventType string) error {
	res, err := r.db.Exec(`
		INSERT INTO stripe_webhook_events (id, event_id, event_type, processed_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (event_id) DO NOTHING`,
		uuid.New().String(), eventID, eventType,
	)
	if err != nil {
		return fmt.Errorf("failed to record webhook event: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read webhook insert result: %w", err)
	}
	if rows == 0 {
		return ErrEventAlreadyProcessed
	}
	return nil
}

// HasProcessed checks if an event has already been processed.
func (r *PostgresWebhookRepository) HasProcessed(eventID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(
		`SELECT EXISTS (SELECT 1 FROM stripe_webhook_events WHERE event_id = $1)`,
		eventID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check webhook event: %w", err)
	}
	return exists, nil
}
