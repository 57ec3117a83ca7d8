package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stripe/stripe-go/v81"

	"github.com/scoutly/scoutly/internal/credit"
	"github.com/scoutly/scoutly/internal/middleware"
)

// stubStripeClient records top-up session requests.
type stubStripeClient struct {
	lastParams *credit.TopUpParams
	err        error
}

func (s *stubStripeClient) CreateTopUpSession(params *credit.TopUpParams) (*stripe.CheckoutSession, error) {
	s.lastParams = params
	if s.err != nil {
		return nil, s.err
	}
	return &stripe.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.test/cs_test_1"}, nil
}

func testPacks() []CreditPack {
	return []CreditPack{
		{PriceID: "price_small", Credits: 50},
		{PriceID: "price_large", Credits: 500},
	}
}

func creditRequest(method, path string, body []byte, personID string) *http.Request {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if personID != "" {
		req = req.WithContext(middleware.SetPersonID(req.Context(), personID))
	}
	return req
}

func TestGetBalance(t *testing.T) {
	ledger := credit.NewInMemoryLedger()
	ledger.SetBalance("person-1", 42)
	handlers := NewCreditHandlers(ledger, nil, nil, "", "")

	w := httptest.NewRecorder()
	handlers.GetBalance(w, creditRequest(http.MethodGet, "/credits/balance", nil, "person-1"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var resp BalanceResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Balance != 42 {
		t.Errorf("balance = %d, want 42", resp.Balance)
	}
}

func TestGetBalance_Unauthenticated(t *testing.T) {
	handlers := NewCreditHandlers(credit.NewInMemoryLedger(), nil, nil, "", "")

	w := httptest.NewRecorder()
	handlers.GetBalance(w, creditRequest(http.MethodGet, "/credits/balance", nil, ""))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestGetLedger(t *testing.T) {
	ledger := credit.NewInMemoryLedger()
	ctx := context.Background()
	if _, err := ledger.Credit(ctx, "person-1", 100, credit.ReasonTopUp, "cs_1"); err != nil {
		t.Fatal(err)
	}
	if _, err := ledger.Debit(ctx, "person-1", 6, credit.ReasonSearch, "search-1"); err != nil {
		t.Fatal(err)
	}
	handlers := NewCreditHandlers(ledger, nil, nil, "", "")

	w := httptest.NewRecorder()
	handlers.GetLedger(w, creditRequest(http.MethodGet, "/credits/ledger", nil, "person-1"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var resp LedgerResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(resp.Entries))
	}
	// Newest first: the debit.
	if resp.Entries[0].Reason != credit.ReasonSearch || resp.Entries[0].Amount != -6 {
		t.Errorf("first entry = %s %d, want search -6", resp.Entries[0].Reason, resp.Entries[0].Amount)
	}
	if resp.Entries[0].BalanceAfter != 94 {
		t.Errorf("balance after = %d, want 94", resp.Entries[0].BalanceAfter)
	}
}

func TestGetLedger_InvalidLimit(t *testing.T) {
	handlers := NewCreditHandlers(credit.NewInMemoryLedger(), nil, nil, "", "")

	w := httptest.NewRecorder()
	handlers.GetLedger(w, creditRequest(http.MethodGet, "/credits/ledger?limit=abc", nil, "person-1"))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestCreateTopUp(t *testing.T) {
	client := &stubStripeClient{}
	handlers := NewCreditHandlers(credit.NewInMemoryLedger(), client, testPacks(),
		"https://app.test/credits/success", "https://app.test/credits/cancel")

	body, _ := json.Marshal(TopUpRequest{PriceID: "price_large"})
	w := httptest.NewRecorder()
	handlers.CreateTopUp(w, creditRequest(http.MethodPost, "/credits/topup", body, "person-1"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var resp TopUpResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.SessionID != "cs_test_1" || resp.SessionURL == "" {
		t.Errorf("response = %+v, want the created session", resp)
	}

	if client.lastParams == nil {
		t.Fatal("stripe client was not called")
	}
	if client.lastParams.PersonID != "person-1" {
		t.Errorf("session person = %s, want person-1", client.lastParams.PersonID)
	}
	if client.lastParams.Credits != 500 {
		t.Errorf("session credits = %d, want 500", client.lastParams.Credits)
	}
}

func TestCreateTopUp_UnknownPrice(t *testing.T) {
	client := &stubStripeClient{}
	handlers := NewCreditHandlers(credit.NewInMemoryLedger(), client, testPacks(), "", "")

	body, _ := json.Marshal(TopUpRequest{PriceID: "price_bogus"})
	w := httptest.NewRecorder()
	handlers.CreateTopUp(w, creditRequest(http.MethodPost, "/credits/topup", body, "person-1"))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if client.lastParams != nil {
		t.Error("stripe client should not be called for an unknown price")
	}
}

func TestCreateTopUp_StripeFailure(t *testing.T) {
	client := &stubStripeClient{err: errors.New("stripe down")}
	handlers := NewCreditHandlers(credit.NewInMemoryLedger(), client, testPacks(), "", "")

	body, _ := json.Marshal(TopUpRequest{PriceID: "price_small"})
	w := httptest.NewRecorder()
	handlers.CreateTopUp(w, creditRequest(http.MethodPost, "/credits/topup", body, "person-1"))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestCreateTopUp_Disabled(t *testing.T) {
	handlers := NewCreditHandlers(credit.NewInMemoryLedger(), nil, nil, "", "")

	body, _ := json.Marshal(TopUpRequest{PriceID: "price_small"})
	w := httptest.NewRecorder()
	handlers.CreateTopUp(w, creditRequest(http.MethodPost, "/credits/topup", body, "person-1"))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 when top-ups are disabled", w.Code)
	}
}

func TestParseCreditPacks(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		want    int
		wantErr bool
	}{
		{"empty", "", 0, false},
		{"single", "price_small=100", 1, false},
		{"multiple", "price_small=100, price_large=550", 2, false},
		{"missing equals", "price_small", 0, true},
		{"non-numeric credits", "price_small=lots", 0, true},
		{"zero credits", "price_small=0", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			packs, err := ParseCreditPacks(tt.spec)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseCreditPacks(%q) error = %v, wantErr %v", tt.spec, err, tt.wantErr)
			}
			if len(packs) != tt.want {
				t.Errorf("ParseCreditPacks(%q) = %d packs, want %d", tt.spec, len(packs), tt.want)
			}
		})
	}
}

func TestParseCreditPacks_Values(t *testing.T) {
	packs, err := ParseCreditPacks("price_small=100,price_large=550")
	if err != nil {
		t.Fatalf("ParseCreditPacks() error = %v", err)
	}
	if packs[0].PriceID != "price_small" || packs[0].Credits != 100 {
		t.Errorf("packs[0] = %+v, want price_small/100", packs[0])
	}
	if packs[1].PriceID != "price_large" || packs[1].Credits != 550 {
		t.Errorf("packs[1] = %+v, want price_large/550", packs[1])
	}
}
