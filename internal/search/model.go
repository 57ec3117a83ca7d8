// Package search orchestrates the hybrid retrieval-and-ranking engine: it
// normalizes constraints, runs the embedding and lexical gateways, retrieves
// candidates through the fallback controller, collapses evidence per person,
// and persists the ranked snapshot together with the credit debit.
package search

import (
	"errors"
	"time"

	"github.com/scoutly/scoutly/internal/query"
	"github.com/scoutly/scoutly/internal/retrieval"
	"github.com/scoutly/scoutly/internal/talent"
)

var (
	// ErrInvalidOrExpiredSearch is returned for an unknown search id, a
	// search owned by someone else, or one past its expiry.
	ErrInvalidOrExpiredSearch = errors.New("invalid or expired search")
)

// Request is one incoming search invocation.
type Request struct {
	Query              string   `json:"query"`
	OpenToWorkOnly     bool     `json:"open_to_work_only,omitempty"`
	PreferredLocations []string `json:"preferred_locations,omitempty"`
	SalaryMin          *int64   `json:"salary_min,omitempty"`
	SalaryMax          *int64   `json:"salary_max,omitempty"`
	NumCards           int      `json:"num_cards,omitempty"`
}

// StoredSearch is the persisted row for one executed search. Expiry may be
// nil: history is kept for audit and replay.
type StoredSearch struct {
	ID           string           `json:"id"`
	SearcherID   string           `json:"searcher_id"`
	QueryText    string           `json:"query_text"`
	Constraints  query.Normalized `json:"constraints"`
	FallbackTier retrieval.Tier   `json:"fallback_tier"`
	NumCards     int              `json:"num_cards"`
	CreatedAt    time.Time        `json:"created_at"`
	ExpiresAt    *time.Time       `json:"expires_at,omitempty"`
}

// Expired reports whether the search is past its expiry at the given time.
func (s *StoredSearch) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && now.After(*s.ExpiresAt)
}

// ResultRow is one row of the immutable ranked snapshot: created once per
// search, never re-scored. Only the explanation text inside the evidence
// blob and the revealed flag may change afterwards. Revealed tracks whether
// the row has already been billed to the searcher; a row is debited at most
// once, when it is first served on a live page.
type ResultRow struct {
	SearchID  string    `json:"search_id"`
	Rank      int       `json:"rank"`
	PersonID  string    `json:"person_id"`
	Score     float64   `json:"score"`
	Evidence  Evidence  `json:"evidence"`
	Revealed  bool      `json:"revealed"`
	CreatedAt time.Time `json:"created_at"`
}

// PersonCard is the display projection of one ranked person.
type PersonCard struct {
	ID                 string                    `json:"id"`
	DisplayName        string                    `json:"display_name"`
	Headline           string                    `json:"headline,omitempty"`
	Bio                string                    `json:"bio,omitempty"`
	SimilarityPercent  int                       `json:"similarity_percent"`
	WhyMatched         []string                  `json:"why_matched"`
	OpenToWork         bool                      `json:"open_to_work"`
	OpenToContact      bool                      `json:"open_to_contact"`
	PreferredLocations []string                  `json:"preferred_locations,omitempty"`
	SalaryMin          *int64                    `json:"salary_min,omitempty"`
	MatchedRecords     []talent.ExperienceRecord `json:"matched_records,omitempty"`
}

// Response is the initial page of an executed search.
type Response struct {
	SearchID     string       `json:"search_id"`
	NumCards     int          `json:"num_cards"`
	FallbackTier int          `json:"fallback_tier"`
	People       []PersonCard `json:"people"`
}

// Page is a slice of the persisted snapshot served by load-more.
type Page struct {
	SearchID string       `json:"search_id"`
	Offset   int          `json:"offset"`
	People   []PersonCard `json:"people"`
	Total    int          `json:"total"`
}
