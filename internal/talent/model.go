// Package talent provides models and repositories for people and their
// experience records, the entities the search engine ranks.
package talent

import "time"

// Employment type constants for experience records.
const (
	EmploymentFullTime  = "full_time"
	EmploymentPartTime  = "part_time"
	EmploymentContract  = "contract"
	EmploymentFreelance = "freelance"
	EmploymentInternship = "internship"
)

// Sub-record type constants. Exactly one sub-record exists per (parent, type).
const (
	SubRecordMetrics      = "metrics"
	SubRecordTools        = "tools"
	SubRecordAchievements = "achievements"
	SubRecordResponsibilities = "responsibilities"
)

// PersonProfile is one row per person. The credit balance is adjusted only
// through ledgered transactions; it is read-only from this package.
type PersonProfile struct {
	ID                 string     `json:"id"`
	DisplayName        string     `json:"display_name"`
	Headline           string     `json:"headline"`
	Bio                string     `json:"bio"`
	OpenToWork         bool       `json:"open_to_work"`
	OpenToContact      bool       `json:"open_to_contact"`
	ShowCompensation   bool       `json:"show_compensation"`
	PreferredLocations []string   `json:"preferred_locations,omitempty"`
	SalaryMin          *int64     `json:"salary_min,omitempty"` // Annual, minor units
	CreditBalance      int64      `json:"credit_balance"`
	CreatedAt          *time.Time `json:"created_at,omitempty"`
	UpdatedAt          *time.Time `json:"updated_at,omitempty"`
}

// ExperienceRecord is one bounded activity (job, project, etc.) owned by a
// person. Rows are produced by the extraction pipeline and consumed read-only
// here, except for the embedding-stale flag flipped after edits.
type ExperienceRecord struct {
	ID             string     `json:"id"`
	PersonID       string     `json:"person_id"`
	Title          string     `json:"title"`
	Company        string     `json:"company"`
	Role           string     `json:"role"`
	Domain         string     `json:"domain"`
	SubDomain      string     `json:"sub_domain,omitempty"`
	Summary        string     `json:"summary"`
	StartDate      *time.Time `json:"start_date,omitempty"`
	EndDate        *time.Time `json:"end_date,omitempty"`
	Current        bool       `json:"current"`
	Location       string     `json:"location,omitempty"`
	EmploymentType string     `json:"employment_type,omitempty"`
	Seniority      string     `json:"seniority,omitempty"`
	SearchPhrases  []string   `json:"search_phrases,omitempty"`
	Visible        bool       `json:"visible"`
	EmbeddingStale bool       `json:"embedding_stale"`
	CreatedAt      *time.Time `json:"created_at,omitempty"`
	UpdatedAt      *time.Time `json:"updated_at,omitempty"`
}

// HasAnyDate reports whether the record carries at least one known date bound.
func (r *ExperienceRecord) HasAnyDate() bool {
	return r.StartDate != nil || r.EndDate != nil
}

// HasFullDateRange reports whether both bounds are known (a current record
// counts its end as now).
func (r *ExperienceRecord) HasFullDateRange() bool {
	if r.StartDate == nil {
		return false
	}
	return r.EndDate != nil || r.Current
}

// ExperienceSubRecord is a typed facet of a parent record (metrics, tools,
// achievements). It owns its own embedding and lexical document; it cascades
// on parent deletion.
type ExperienceSubRecord struct {
	ID       string         `json:"id"`
	RecordID string         `json:"record_id"`
	Type     string         `json:"type"`
	Value    SubRecordValue `json:"value"`
	CreatedAt *time.Time    `json:"created_at,omitempty"`
	UpdatedAt *time.Time    `json:"updated_at,omitempty"`
}
