package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/scoutly/scoutly/internal/credit"
)

// generateStripeSignature generates a valid Stripe webhook signature for testing.
func generateStripeSignature(payload []byte, secret string, timestamp int64) string {
	// Stripe signature format: t=timestamp,v1=signature
	signedPayload := fmt.Sprintf("%d.%s", timestamp, payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signedPayload))
	signature := hex.EncodeToString(mac.Sum(nil))
	return fmt.Sprintf("t=%d,v1=%s", timestamp, signature)
}

const testWebhookSecret = "whsec_test_secret"

// testAPIVersion matches the API version expected by the pinned stripe-go
// release; ConstructEvent rejects events with any other version.
const testAPIVersion = "2025-02-24.acacia"

func checkoutCompletedEvent(eventID, sessionID, personID string, credits int64) []byte {
	event := map[string]any{
		"id":          eventID,
		"api_version": testAPIVersion,
		"type":        "checkout.session.completed",
		"data": map[string]any{
			"object": map[string]any{
				"id": sessionID,
				"metadata": map[string]any{
					credit.MetadataPersonID: personID,
					credit.MetadataCredits:  fmt.Sprintf("%d", credits),
				},
			},
		},
	}
	body, _ := json.Marshal(event)
	return body
}

func signedWebhookRequest(body []byte) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(body))
	signature := generateStripeSignature(body, testWebhookSecret, time.Now().Unix())
	req.Header.Set("Stripe-Signature", signature)
	return req
}

func TestHandleStripeWebhook_InvalidSignature(t *testing.T) {
	ledger := credit.NewInMemoryLedger()
	handlers := NewWebhookHandlers(testWebhookSecret, credit.NewInMemoryWebhookRepository(), ledger)

	body := checkoutCompletedEvent("evt_bad_sig", "cs_1", "person-1", 100)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(body))
	req.Header.Set("Stripe-Signature", "t=1234567890,v1=invalidsignature")

	w := httptest.NewRecorder()
	handlers.HandleStripeWebhook(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d: %s", w.Code, w.Body.String())
	}

	var errResp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&errResp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	if errResp.Error.Code != ErrCodeBadRequest {
		t.Errorf("expected error code %s, got %s", ErrCodeBadRequest, errResp.Error.Code)
	}

	if balance, _ := ledger.Balance(context.Background(), "person-1"); balance != 0 {
		t.Errorf("balance = %d, want 0 after rejected webhook", balance)
	}
}

func TestHandleStripeWebhook_MissingSignature(t *testing.T) {
	handlers := NewWebhookHandlers(testWebhookSecret, credit.NewInMemoryWebhookRepository(), credit.NewInMemoryLedger())

	body := checkoutCompletedEvent("evt_no_sig", "cs_1", "person-1", 100)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(body))
	// No Stripe-Signature header

	w := httptest.NewRecorder()
	handlers.HandleStripeWebhook(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandleStripeWebhook_CheckoutCompletedCreditsWallet(t *testing.T) {
	ledger := credit.NewInMemoryLedger()
	handlers := NewWebhookHandlers(testWebhookSecret, credit.NewInMemoryWebhookRepository(), ledger)

	body := checkoutCompletedEvent("evt_topup", "cs_topup", "person-1", 250)
	w := httptest.NewRecorder()
	handlers.HandleStripeWebhook(w, signedWebhookRequest(body))

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	balance, err := ledger.Balance(context.Background(), "person-1")
	if err != nil {
		t.Fatal(err)
	}
	if balance != 250 {
		t.Errorf("balance = %d, want 250", balance)
	}

	entries, err := ledger.Entries(context.Background(), "person-1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("ledger entries = %d, want 1", len(entries))
	}
	if entries[0].Reason != credit.ReasonTopUp {
		t.Errorf("entry reason = %s, want %s", entries[0].Reason, credit.ReasonTopUp)
	}
	if entries[0].Reference != "cs_topup" {
		t.Errorf("entry reference = %s, want the checkout session id", entries[0].Reference)
	}
}

func TestHandleStripeWebhook_DuplicateEventCreditsOnce(t *testing.T) {
	ledger := credit.NewInMemoryLedger()
	handlers := NewWebhookHandlers(testWebhookSecret, credit.NewInMemoryWebhookRepository(), ledger)

	body := checkoutCompletedEvent("evt_dup", "cs_dup", "person-1", 100)

	first := httptest.NewRecorder()
	handlers.HandleStripeWebhook(first, signedWebhookRequest(body))
	if first.Code != http.StatusOK {
		t.Fatalf("first delivery status = %d, want 200", first.Code)
	}

	// Stripe retries the same event id; it must be acknowledged but ignored.
	second := httptest.NewRecorder()
	handlers.HandleStripeWebhook(second, signedWebhookRequest(body))
	if second.Code != http.StatusOK {
		t.Fatalf("retried delivery status = %d, want 200", second.Code)
	}

	balance, _ := ledger.Balance(context.Background(), "person-1")
	if balance != 100 {
		t.Errorf("balance = %d, want 100 (single credit)", balance)
	}
}

func TestHandleStripeWebhook_MissingMetadataSkipsCredit(t *testing.T) {
	ledger := credit.NewInMemoryLedger()
	handlers := NewWebhookHandlers(testWebhookSecret, credit.NewInMemoryWebhookRepository(), ledger)

	event := map[string]any{
		"id":          "evt_no_meta",
		"api_version": testAPIVersion,
		"type":        "checkout.session.completed",
		"data": map[string]any{
			"object": map[string]any{"id": "cs_no_meta"},
		},
	}
	body, _ := json.Marshal(event)

	w := httptest.NewRecorder()
	handlers.HandleStripeWebhook(w, signedWebhookRequest(body))

	// Acknowledged so Stripe stops retrying, but nothing credited.
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if balance, _ := ledger.Balance(context.Background(), "person-1"); balance != 0 {
		t.Errorf("balance = %d, want 0", balance)
	}
}

func TestHandleStripeWebhook_UnknownEventType(t *testing.T) {
	ledger := credit.NewInMemoryLedger()
	handlers := NewWebhookHandlers(testWebhookSecret, credit.NewInMemoryWebhookRepository(), ledger)

	event := map[string]any{
		"id":          "evt_unknown",
		"api_version": testAPIVersion,
		"type":        "customer.created",
		"data": map[string]any{
			"object": map[string]any{"id": "cus_1"},
		},
	}
	body, _ := json.Marshal(event)

	w := httptest.NewRecorder()
	handlers.HandleStripeWebhook(w, signedWebhookRequest(body))

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200 for unhandled event type, got %d", w.Code)
	}
}
