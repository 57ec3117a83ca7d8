// Package retrieval runs tiered vector candidate retrieval over experience
// records. When strict filters starve recall, the fallback controller relaxes
// them one tier at a time until enough distinct persons are found or the
// terminal tier is reached.
package retrieval

import (
	"context"
	"log/slog"
	"time"

	"github.com/scoutly/scoutly/internal/query"
)

// Tier is the degree to which MUST filters have been relaxed. Each tier is
// strictly more permissive than the previous one.
type Tier int

const (
	// TierStrict applies every MUST filter, including the time-window
	// overlap test.
	TierStrict Tier = iota
	// TierTimeSoft drops the time-window filter.
	TierTimeSoft
	// TierLocationSoft additionally drops the location filter.
	TierLocationSoft
	// TierCompanyTeamSoft additionally drops company and team filters.
	// Terminal: never relaxed further.
	TierCompanyTeamSoft
)

// String returns the tier label used in logs and metrics.
func (t Tier) String() string {
	switch t {
	case TierStrict:
		return "strict"
	case TierTimeSoft:
		return "time_soft"
	case TierLocationSoft:
		return "location_soft"
	case TierCompanyTeamSoft:
		return "company_team_soft"
	default:
		return "unknown"
	}
}

// Filters is the concrete filter set applied at one tier. Excludes, intents
// and profile-level toggles survive every relaxation.
type Filters struct {
	Companies []string
	Teams     []string
	Domains   []string
	Intents   []string
	Locations []string

	ExcludeCompanies []string
	ExcludeLocations []string

	// TimeWindow gates the overlap test below. At the strict tier a record
	// must carry at least one known date bound and must not provably fall
	// outside [DateFrom, DateTo].
	TimeWindow bool
	DateFrom   *time.Time
	DateTo     *time.Time

	OpenToWorkOnly bool
}

// Options carries request-level retrieval toggles that are not part of the
// parsed constraint set.
type Options struct {
	OpenToWorkOnly bool
}

// FiltersForTier projects the normalized constraints onto one tier.
func FiltersForTier(n *query.Normalized, opts Options, tier Tier) Filters {
	f := Filters{
		Intents:          n.Must.Intents,
		Domains:          append(append([]string{}, n.Must.Domains...), n.Must.SubDomains...),
		ExcludeCompanies: n.Exclude.Companies,
		ExcludeLocations: n.Exclude.Locations,
		OpenToWorkOnly:   opts.OpenToWorkOnly,
	}
	if tier < TierCompanyTeamSoft {
		f.Companies = n.Must.Companies
		f.Teams = n.Must.Teams
	}
	if tier < TierLocationSoft {
		f.Locations = n.Must.Locations
	}
	if tier < TierTimeSoft && n.HasTimeWindow() {
		f.TimeWindow = true
		f.DateFrom = n.DateFrom
		f.DateTo = n.DateTo
	}
	return f
}

// ParentMatch is one parent record returned by vector search.
type ParentMatch struct {
	RecordID   string
	PersonID   string
	Similarity float64
}

// ChildMatch is one sub-record returned by vector search, joined back to its
// owning parent.
type ChildMatch struct {
	SubRecordID string
	RecordID    string
	PersonID    string
	Type        string
	Similarity  float64
}

// Result is the outcome of one retrieval run. The tier is persisted with the
// search: the scorer only applies missing-date and location-mismatch
// penalties once the corresponding filter tier has been relaxed.
type Result struct {
	Tier    Tier
	Parents []ParentMatch
	// BestChildren holds at most one child match per person, the closest.
	BestChildren []ChildMatch
	// Evidence holds up to a bounded number of distinct child matches per
	// person, for display.
	Evidence map[string][]ChildMatch
	// Persons is the distinct union of persons across parents and children.
	Persons []string
}

// Store answers the three vector queries retrieval needs at each tier.
type Store interface {
	// TopParents returns the closest visible parent records under f.
	TopParents(ctx context.Context, vec []float32, f Filters, limit int) ([]ParentMatch, error)
	// BestChildPerPerson returns the single closest child per person whose
	// owning parent is visible and passes f.
	BestChildPerPerson(ctx context.Context, vec []float32, f Filters, limit int) ([]ChildMatch, error)
	// ChildEvidence returns up to perPerson closest children for each of the
	// given persons, ignoring tier filters beyond visibility.
	ChildEvidence(ctx context.Context, vec []float32, personIDs []string, perPerson int) (map[string][]ChildMatch, error)
}

// Config holds the tunable limits of the fallback controller.
type Config struct {
	ParentLimit       int
	ChildLimit        int
	EvidencePerPerson int
	// MinPersons is the distinct-person count below which the controller
	// advances to the next tier.
	MinPersons int
}

// DefaultConfig returns the default controller configuration.
func DefaultConfig() Config {
	return Config{
		ParentLimit:       40,
		ChildLimit:        40,
		EvidencePerPerson: 3,
		MinPersons:        8,
	}
}

// Controller runs retrieval through the tier ladder.
type Controller struct {
	store   Store
	cfg     Config
	metrics *Metrics
	logger  *slog.Logger
}

// NewController creates a fallback controller. Metrics may be nil.
func NewController(store Store, cfg Config, metrics *Metrics, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		store:   store,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger.With("component", "retrieval"),
	}
}

// Retrieve runs candidate retrieval, advancing one tier at a time until the
// distinct-person count reaches MinPersons or the terminal tier is hit. It
// always terminates at the terminal tier regardless of result count.
func (c *Controller) Retrieve(ctx context.Context, vec []float32, n *query.Normalized, opts Options) (*Result, error) {
	for tier := TierStrict; ; tier++ {
		f := FiltersForTier(n, opts, tier)

		parents, err := c.store.TopParents(ctx, vec, f, c.cfg.ParentLimit)
		if err != nil {
			return nil, err
		}
		children, err := c.store.BestChildPerPerson(ctx, vec, f, c.cfg.ChildLimit)
		if err != nil {
			return nil, err
		}

		persons := distinctPersons(parents, children)
		if len(persons) >= c.cfg.MinPersons || tier == TierCompanyTeamSoft {
			evidence := map[string][]ChildMatch{}
			if len(persons) > 0 {
				evidence, err = c.store.ChildEvidence(ctx, vec, persons, c.cfg.EvidencePerPerson)
				if err != nil {
					return nil, err
				}
			}
			if c.metrics != nil {
				c.metrics.IncRetrievals(tier.String())
			}
			c.logger.Debug("retrieval complete",
				"tier", tier.String(), "persons", len(persons),
				"parents", len(parents), "children", len(children))
			return &Result{
				Tier:         tier,
				Parents:      parents,
				BestChildren: children,
				Evidence:     evidence,
				Persons:      persons,
			}, nil
		}

		c.logger.Debug("tier starved, relaxing",
			"tier", tier.String(), "persons", len(persons), "min", c.cfg.MinPersons)
		if c.metrics != nil {
			c.metrics.IncTierAdvances(tier.String())
		}
	}
}

func distinctPersons(parents []ParentMatch, children []ChildMatch) []string {
	seen := make(map[string]bool, len(parents)+len(children))
	var out []string
	for _, p := range parents {
		if !seen[p.PersonID] {
			seen[p.PersonID] = true
			out = append(out, p.PersonID)
		}
	}
	for _, ch := range children {
		if !seen[ch.PersonID] {
			seen[ch.PersonID] = true
			out = append(out, ch.PersonID)
		}
	}
	return out
}
