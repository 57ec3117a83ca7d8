package api

import (
	"log/slog"
	"net/http"

	"github.com/scoutly/scoutly/internal/middleware"
	"github.com/scoutly/scoutly/internal/talent"
)

// DefaultRecordsLimit bounds GET /people/{id}/records when no limit is given.
const DefaultRecordsLimit = 20

// PeopleHandlers holds dependencies for person profile read endpoints.
// Profiles and experience records are produced by the extraction pipeline;
// the API only reads them.
type PeopleHandlers struct {
	people talent.Repository
}

// NewPeopleHandlers creates a new PeopleHandlers instance.
func NewPeopleHandlers(people talent.Repository) *PeopleHandlers {
	return &PeopleHandlers{people: people}
}

// GetPerson returns one person's profile.
// GET /people/{id}
func (h *PeopleHandlers) GetPerson(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if middleware.GetPersonID(ctx) == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "authentication required")
		return
	}

	id := r.PathValue("id")
	if id == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "person id is required")
		return
	}

	profiles, err := h.people.ProfilesByID(ctx, []string{id})
	if err != nil {
		slog.ErrorContext(ctx, "failed to load profile", "person_id", id, "error", err)
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "failed to load profile")
		return
	}

	profile, ok := profiles[id]
	if !ok {
		ctx = middleware.SetErrorCode(ctx, ErrCodeNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "person not found")
		return
	}

	writeJSON(ctx, w, http.StatusOK, profile)
}

// RecordsResponse wraps a person's visible experience records.
type RecordsResponse struct {
	PersonID string                     `json:"person_id"`
	Records  []*talent.ExperienceRecord `json:"records"`
}

// GetRecords returns a person's visible experience records, most recent
// first.
// GET /people/{id}/records?limit=
func (h *PeopleHandlers) GetRecords(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if middleware.GetPersonID(ctx) == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "authentication required")
		return
	}

	id := r.PathValue("id")
	if id == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "person id is required")
		return
	}

	limit, ok := parseIntParam(r, "limit", DefaultRecordsLimit)
	if !ok || limit <= 0 {
		ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "limit must be a positive integer")
		return
	}

	records, err := h.people.RecentVisibleRecords(ctx, id, limit)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load records", "person_id", id, "error", err)
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "failed to load records")
		return
	}
	if records == nil {
		records = []*talent.ExperienceRecord{}
	}

	writeJSON(ctx, w, http.StatusOK, RecordsResponse{PersonID: id, Records: records})
}
