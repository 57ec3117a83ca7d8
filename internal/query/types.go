// Package query normalizes provider-parsed search payloads into a safe
// MUST/SHOULD/EXCLUDE constraint set for the retrieval engine.
package query

import "time"

// Intent constants. Intents mirror employment types; anything else coming
// back from the parsing provider is dropped.
var allowedIntents = map[string]bool{
	"full_time":  true,
	"part_time":  true,
	"contract":   true,
	"freelance":  true,
	"internship": true,
}

// ConstraintSet is one class of structured constraints (must, should or
// exclude) extracted from the query.
type ConstraintSet struct {
	Intents    []string `json:"intents,omitempty"`
	Companies  []string `json:"companies,omitempty"`
	Teams      []string `json:"teams,omitempty"`
	Domains    []string `json:"domains,omitempty"`
	SubDomains []string `json:"sub_domains,omitempty"`
	Locations  []string `json:"locations,omitempty"`
}

// IsEmpty reports whether the set carries no constraints.
func (c ConstraintSet) IsEmpty() bool {
	return len(c.Intents) == 0 && len(c.Companies) == 0 && len(c.Teams) == 0 &&
		len(c.Domains) == 0 && len(c.SubDomains) == 0 && len(c.Locations) == 0
}

// ParsedPayload is the raw shape produced by the constraint-parsing provider.
// Dates and salaries arrive as loosely formatted strings/numbers and are not
// trusted.
type ParsedPayload struct {
	Must       ConstraintSet `json:"must"`
	Should     ConstraintSet `json:"should"`
	Exclude    ConstraintSet `json:"exclude"`
	Phrases    []string      `json:"phrases,omitempty"`
	Keywords   []string      `json:"keywords,omitempty"`
	DateFrom   string        `json:"date_from,omitempty"`
	DateTo     string        `json:"date_to,omitempty"`
	SalaryMin  *int64        `json:"salary_min,omitempty"`
	SalaryMax  *int64        `json:"salary_max,omitempty"`
	Confidence float64       `json:"confidence"`
}

// Normalized is the rebalanced constraint set consumed by retrieval and
// scoring. Invalid inputs never surface as errors; they degrade toward an
// unconstrained semantic search.
type Normalized struct {
	Must     ConstraintSet `json:"must"`
	Should   ConstraintSet `json:"should"`
	Exclude  ConstraintSet `json:"exclude"`
	Phrases  []string      `json:"phrases,omitempty"`
	Keywords []string      `json:"keywords,omitempty"`

	DateFrom *time.Time `json:"date_from,omitempty"`
	DateTo   *time.Time `json:"date_to,omitempty"`

	// Annual figures in minor units.
	SalaryMin *int64 `json:"salary_min,omitempty"`
	SalaryMax *int64 `json:"salary_max,omitempty"`

	Confidence float64 `json:"confidence"`
}

// HasTimeWindow reports whether the query constrains time at all.
func (n *Normalized) HasTimeWindow() bool {
	return n.DateFrom != nil || n.DateTo != nil
}

// HasLocation reports whether a strict location filter was requested.
func (n *Normalized) HasLocation() bool {
	return len(n.Must.Locations) > 0
}

// HasSalary reports whether the query carries an offer threshold.
func (n *Normalized) HasSalary() bool {
	return n.SalaryMin != nil || n.SalaryMax != nil
}

// Config holds the tunable caps and thresholds of the normalizer.
type Config struct {
	MaxMustIntents   int
	MaxMustCompanies int
	MaxMustTeams     int
	MaxMustDomains   int
	MaxMustLocations int

	// Below this parser confidence, domain/sub-domain MUSTs demote to keywords.
	ConfidenceFloor float64

	// Salaries below this annual figure are treated as monthly and multiplied
	// by twelve.
	MinPlausibleAnnualSalary int64

	MinYear int
}

// DefaultConfig returns the default normalizer configuration.
func DefaultConfig() Config {
	return Config{
		MaxMustIntents:           2,
		MaxMustCompanies:         3,
		MaxMustTeams:             3,
		MaxMustDomains:           2,
		MaxMustLocations:         3,
		ConfidenceFloor:          0.4,
		MinPlausibleAnnualSalary: 3000,
		MinYear:                  1950,
	}
}
