package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/scoutly/scoutly/internal/credit"
	"github.com/scoutly/scoutly/internal/middleware"
)

// DefaultLedgerLimit bounds GET /credits/ledger when no limit is given.
const DefaultLedgerLimit = 50

// MaxLedgerLimit caps GET /credits/ledger regardless of the requested limit.
const MaxLedgerLimit = 200

// CreditPack is one purchasable credit bundle, keyed by its Stripe price id.
type CreditPack struct {
	PriceID string `json:"price_id"`
	Credits int64  `json:"credits"`
}

// ParseCreditPacks parses a "price_id=credits" comma-separated pack spec,
// e.g. "price_small=100,price_large=550". Malformed pairs are rejected rather
// than skipped so a typo in deployment config fails loudly at startup.
func ParseCreditPacks(spec string) ([]CreditPack, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}
	var packs []CreditPack
	for _, pair := range strings.Split(spec, ",") {
		priceID, creditsStr, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			return nil, fmt.Errorf("credit pack %q: want price_id=credits", pair)
		}
		credits, err := strconv.ParseInt(strings.TrimSpace(creditsStr), 10, 64)
		if err != nil || credits <= 0 {
			return nil, fmt.Errorf("credit pack %q: credits must be a positive integer", pair)
		}
		packs = append(packs, CreditPack{PriceID: strings.TrimSpace(priceID), Credits: credits})
	}
	return packs, nil
}

// CreditHandlers holds dependencies for wallet-related HTTP handlers.
type CreditHandlers struct {
	ledger       credit.Ledger
	stripeClient credit.StripeClient
	packs        map[string]CreditPack // keyed by price id
	successURL   string
	cancelURL    string
}

// NewCreditHandlers creates a new CreditHandlers instance. stripeClient may
// be nil, in which case top-ups are disabled.
func NewCreditHandlers(
	ledger credit.Ledger,
	stripeClient credit.StripeClient,
	packs []CreditPack,
	successURL, cancelURL string,
) *CreditHandlers {
	byPrice := make(map[string]CreditPack, len(packs))
	for _, p := range packs {
		byPrice[p.PriceID] = p
	}
	return &CreditHandlers{
		ledger:       ledger,
		stripeClient: stripeClient,
		packs:        byPrice,
		successURL:   successURL,
		cancelURL:    cancelURL,
	}
}

// BalanceResponse represents the wallet balance for the authenticated person.
type BalanceResponse struct {
	Balance int64 `json:"balance"`
}

// GetBalance returns the searcher's current credit balance.
// GET /credits/balance
func (h *CreditHandlers) GetBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	personID := middleware.GetPersonID(ctx)
	if personID == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "authentication required")
		return
	}

	balance, err := h.ledger.Balance(ctx, personID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load balance", "error", err)
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "failed to load balance")
		return
	}

	writeJSON(ctx, w, http.StatusOK, BalanceResponse{Balance: balance})
}

// LedgerResponse wraps the searcher's ledger entries, newest first.
type LedgerResponse struct {
	Entries []credit.LedgerEntry `json:"entries"`
}

// GetLedger returns the searcher's ledger entries, newest first.
// GET /credits/ledger?limit=
func (h *CreditHandlers) GetLedger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	personID := middleware.GetPersonID(ctx)
	if personID == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "authentication required")
		return
	}

	limit, ok := parseIntParam(r, "limit", DefaultLedgerLimit)
	if !ok || limit <= 0 {
		ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "limit must be a positive integer")
		return
	}
	if limit > MaxLedgerLimit {
		limit = MaxLedgerLimit
	}

	entries, err := h.ledger.Entries(ctx, personID, limit)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load ledger", "error", err)
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "failed to load ledger")
		return
	}
	if entries == nil {
		entries = []credit.LedgerEntry{}
	}

	writeJSON(ctx, w, http.StatusOK, LedgerResponse{Entries: entries})
}

// TopUpRequest represents the request body for starting a credit purchase.
type TopUpRequest struct {
	PriceID string `json:"price_id"`
}

// TopUpResponse represents a created Stripe Checkout Session.
type TopUpResponse struct {
	SessionID  string `json:"session_id"`
	SessionURL string `json:"session_url"`
}

// CreateTopUp creates a Stripe Checkout Session for a credit pack. Credits
// land in the wallet when the webhook confirms the payment, not here.
// POST /credits/topup
func (h *CreditHandlers) CreateTopUp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	personID := middleware.GetPersonID(ctx)
	if personID == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "authentication required")
		return
	}

	if h.stripeClient == nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "credit purchases are not enabled")
		return
	}

	var req TopUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}

	pack, ok := h.packs[req.PriceID]
	if !ok {
		ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "unknown price_id")
		return
	}

	session, err := h.stripeClient.CreateTopUpSession(&credit.TopUpParams{
		PersonID:   personID,
		PriceID:    pack.PriceID,
		Credits:    pack.Credits,
		SuccessURL: h.successURL,
		CancelURL:  h.cancelURL,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create top-up session", "price_id", pack.PriceID, "error", err)
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "failed to create checkout session")
		return
	}

	writeJSON(ctx, w, http.StatusOK, TopUpResponse{
		SessionID:  session.ID,
		SessionURL: session.URL,
	})
}
