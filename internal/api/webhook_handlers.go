package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/scoutly/scoutly/internal/credit"
	"github.com/scoutly/scoutly/internal/middleware"
)

// WebhookHandlers holds dependencies for Stripe webhook processing.
type WebhookHandlers struct {
	webhookSecret string
	webhookRepo   credit.WebhookRepository
	ledger        credit.Ledger
}

// NewWebhookHandlers creates a new WebhookHandlers instance.
func NewWebhookHandlers(
	webhookSecret string,
	webhookRepo credit.WebhookRepository,
	ledger credit.Ledger,
) *WebhookHandlers {
	return &WebhookHandlers{
		webhookSecret: webhookSecret,
		webhookRepo:   webhookRepo,
		ledger:        ledger,
	}
}

// HandleStripeWebhook processes Stripe webhook events with signature
// verification. A completed checkout session credits the buyer's wallet;
// duplicate deliveries of the same event are acknowledged without a second
// credit.
// POST /webhooks/stripe
func (h *WebhookHandlers) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "failed to read request body")
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	if signature == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "missing Stripe-Signature header")
		return
	}

	event, err := webhook.ConstructEvent(body, signature, h.webhookSecret)
	if err != nil {
		slog.WarnContext(ctx, "webhook signature verification failed", "error", err)
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "invalid signature")
		return
	}

	// Log minimal event info (type and ID only, not full payload)
	slog.InfoContext(ctx, "webhook event received", "event_type", event.Type, "event_id", event.ID)

	// Recording the event doubles as the idempotency check: Stripe retries
	// deliveries, and a retried event must not credit the wallet twice.
	if err := h.webhookRepo.RecordEvent(event.ID, string(event.Type)); err != nil {
		if errors.Is(err, credit.ErrEventAlreadyProcessed) {
			slog.InfoContext(ctx, "webhook event already processed, ignoring", "event_id", event.ID)
			w.WriteHeader(http.StatusOK)
			return
		}
		slog.ErrorContext(ctx, "failed to record webhook event", "event_id", event.ID, "error", err)
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "failed to process webhook")
		return
	}

	switch event.Type {
	case "checkout.session.completed":
		h.handleCheckoutSessionCompleted(ctx, event)
	default:
		slog.InfoContext(ctx, "ignoring unhandled webhook event type", "event_type", event.Type, "event_id", event.ID)
	}

	// Always return 200 to acknowledge receipt
	w.WriteHeader(http.StatusOK)
}

// handleCheckoutSessionCompleted credits the wallet named in the session
// metadata. The person id and credit amount were attached when the top-up
// session was created.
func (h *WebhookHandlers) handleCheckoutSessionCompleted(ctx context.Context, event stripe.Event) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		slog.ErrorContext(ctx, "failed to parse checkout session", "event_id", event.ID, "error", err)
		return
	}

	personID := session.Metadata[credit.MetadataPersonID]
	if personID == "" {
		slog.WarnContext(ctx, "checkout session has no person id, skipping",
			"session_id", session.ID, "event_id", event.ID)
		return
	}

	credits, err := strconv.ParseInt(session.Metadata[credit.MetadataCredits], 10, 64)
	if err != nil || credits <= 0 {
		slog.WarnContext(ctx, "checkout session has invalid credit amount, skipping",
			"session_id", session.ID,
			"credits", session.Metadata[credit.MetadataCredits])
		return
	}

	entry, err := h.ledger.Credit(ctx, personID, credits, credit.ReasonTopUp, session.ID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to credit wallet",
			"session_id", session.ID, "credits", credits, "error", err)
		return
	}

	slog.InfoContext(ctx, "wallet credited",
		"session_id", session.ID,
		"credits", credits,
		"balance_after", entry.BalanceAfter)
}
