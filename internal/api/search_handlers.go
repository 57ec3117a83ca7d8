package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/scoutly/scoutly/internal/credit"
	"github.com/scoutly/scoutly/internal/embedding"
	"github.com/scoutly/scoutly/internal/middleware"
	"github.com/scoutly/scoutly/internal/search"
)

// DefaultHistoryLimit bounds GET /search/history when no limit is given.
const DefaultHistoryLimit = 20

// MaxHistoryLimit caps GET /search/history regardless of the requested limit.
const MaxHistoryLimit = 100

// SearchHandlers holds dependencies for search-related HTTP handlers.
type SearchHandlers struct {
	svc *search.Service
}

// NewSearchHandlers creates a new SearchHandlers instance.
func NewSearchHandlers(svc *search.Service) *SearchHandlers {
	return &SearchHandlers{svc: svc}
}

// CreateSearch executes a search and persists its ranked snapshot.
// POST /search
func (h *SearchHandlers) CreateSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	personID := middleware.GetPersonID(ctx)
	if personID == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "authentication required")
		return
	}

	var req search.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}

	resp, err := h.svc.Execute(ctx, personID, req)
	if err != nil {
		switch {
		case errors.Is(err, search.ErrEmptyQuery):
			ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "query is required")
		case errors.Is(err, credit.ErrInsufficientCredits):
			ctx = middleware.SetErrorCode(ctx, ErrCodeInsufficientCredits)
			WriteError(w, ctx, http.StatusPaymentRequired, ErrCodeInsufficientCredits, "not enough credits to reveal the requested cards")
		case errors.Is(err, embedding.ErrUnavailable):
			ctx = middleware.SetErrorCode(ctx, ErrCodeEmbeddingUnavailable)
			WriteError(w, ctx, http.StatusServiceUnavailable, ErrCodeEmbeddingUnavailable, "embedding provider unavailable, retry shortly")
		default:
			slog.ErrorContext(ctx, "search execution failed", "error", err)
			ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
			WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "search failed")
		}
		return
	}

	writeJSON(ctx, w, http.StatusCreated, resp)
}

// LoadMore serves additional cards from the stored snapshot of a search.
// Live pages on an unexpired search are billed per revealed card; pages
// requested with history=true replay for free.
// GET /search/{id}/more?offset=&limit=&history=
func (h *SearchHandlers) LoadMore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	personID := middleware.GetPersonID(ctx)
	if personID == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "authentication required")
		return
	}

	searchID := r.PathValue("id")
	if searchID == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "search id is required")
		return
	}

	offset, ok := parseIntParam(r, "offset", 0)
	if !ok || offset < 0 {
		ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "offset must be a non-negative integer")
		return
	}
	limit, ok := parseIntParam(r, "limit", 0)
	if !ok || limit < 0 {
		ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "limit must be a non-negative integer")
		return
	}
	history := r.URL.Query().Get("history") == "true"

	page, err := h.svc.LoadMore(ctx, personID, searchID, offset, limit, history)
	if err != nil {
		switch {
		case errors.Is(err, search.ErrInvalidOrExpiredSearch):
			ctx = middleware.SetErrorCode(ctx, ErrCodeInvalidOrExpiredSearch)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeInvalidOrExpiredSearch, "search not found or expired")
		case errors.Is(err, credit.ErrInsufficientCredits):
			ctx = middleware.SetErrorCode(ctx, ErrCodeInsufficientCredits)
			WriteError(w, ctx, http.StatusPaymentRequired, ErrCodeInsufficientCredits, "not enough credits to reveal the requested cards")
		default:
			slog.ErrorContext(ctx, "load more failed", "search_id", searchID, "error", err)
			ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
			WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "failed to load more results")
		}
		return
	}

	writeJSON(ctx, w, http.StatusOK, page)
}

// HistoryResponse wraps the searcher's persisted searches.
type HistoryResponse struct {
	Searches []search.StoredSearch `json:"searches"`
}

// History lists the searcher's persisted searches, newest first.
// GET /search/history?limit=
func (h *SearchHandlers) History(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	personID := middleware.GetPersonID(ctx)
	if personID == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "authentication required")
		return
	}

	limit, ok := parseIntParam(r, "limit", DefaultHistoryLimit)
	if !ok || limit <= 0 {
		ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "limit must be a positive integer")
		return
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	searches, err := h.svc.History(ctx, personID, limit)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load search history", "error", err)
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "failed to load search history")
		return
	}
	if searches == nil {
		searches = []search.StoredSearch{}
	}

	writeJSON(ctx, w, http.StatusOK, HistoryResponse{Searches: searches})
}

// parseIntParam reads an optional integer query parameter. Returns the
// fallback when the parameter is absent, and ok=false when it is malformed.
func parseIntParam(r *http.Request, name string, fallback int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}
