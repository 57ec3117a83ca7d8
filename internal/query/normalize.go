package query

import (
	"strings"
	"time"
)

// Date layouts accepted from the parsing provider, most specific first.
var dateLayouts = []string{"2006-01-02", "2006-01", "2006"}

// Normalize rebalances a provider-parsed payload into a safe constraint set.
// It never fails: unparseable fields are dropped or demoted, and the worst
// case is an unconstrained semantic search.
func Normalize(p ParsedPayload, cfg Config) *Normalized {
	n := &Normalized{
		Confidence: clamp01(p.Confidence),
		Phrases:    dedupe(p.Phrases),
		Keywords:   dedupe(p.Keywords),
	}

	// Enum filtering happens before capping so junk values don't consume
	// a MUST slot.
	mustIntents := filterIntents(dedupe(p.Must.Intents))
	shouldIntents := filterIntents(dedupe(p.Should.Intents))

	// Cap MUST lists; overflow demotes to SHOULD rather than being dropped,
	// so an over-eager parse costs precision, not recall.
	n.Must.Intents, shouldIntents = capWithOverflow(mustIntents, shouldIntents, cfg.MaxMustIntents)
	n.Must.Companies, n.Should.Companies = capWithOverflow(dedupe(p.Must.Companies), dedupe(p.Should.Companies), cfg.MaxMustCompanies)
	n.Must.Teams, n.Should.Teams = capWithOverflow(dedupe(p.Must.Teams), dedupe(p.Should.Teams), cfg.MaxMustTeams)
	n.Must.Locations, n.Should.Locations = capWithOverflow(dedupe(p.Must.Locations), dedupe(p.Should.Locations), cfg.MaxMustLocations)
	n.Should.Intents = dedupe(shouldIntents)

	mustDomains := dedupe(p.Must.Domains)
	mustSubDomains := dedupe(p.Must.SubDomains)
	if n.Confidence < cfg.ConfidenceFloor {
		// Low-confidence parses can't be trusted to hard-filter by domain;
		// keep the terms as keywords instead.
		n.Keywords = dedupe(append(n.Keywords, append(mustDomains, mustSubDomains...)...))
	} else {
		var overflow []string
		n.Must.Domains, overflow = capWithOverflow(mustDomains, dedupe(p.Should.Domains), cfg.MaxMustDomains)
		n.Should.Domains = overflow
		n.Must.SubDomains = mustSubDomains
	}
	if len(n.Should.Domains) == 0 {
		n.Should.Domains = dedupe(p.Should.Domains)
	}
	n.Should.SubDomains = dedupe(p.Should.SubDomains)

	// Excludes are strict negatives; dedupe but never demote.
	n.Exclude = ConstraintSet{
		Intents:    filterIntents(dedupe(p.Exclude.Intents)),
		Companies:  dedupe(p.Exclude.Companies),
		Teams:      dedupe(p.Exclude.Teams),
		Domains:    dedupe(p.Exclude.Domains),
		SubDomains: dedupe(p.Exclude.SubDomains),
		Locations:  dedupe(p.Exclude.Locations),
	}

	n.DateFrom = parseDate(p.DateFrom, cfg)
	n.DateTo = parseDate(p.DateTo, cfg)
	if n.DateFrom != nil && n.DateTo != nil && n.DateFrom.After(*n.DateTo) {
		n.DateFrom, n.DateTo = n.DateTo, n.DateFrom
	}

	n.SalaryMin = normalizeSalary(p.SalaryMin, cfg)
	n.SalaryMax = normalizeSalary(p.SalaryMax, cfg)
	if n.SalaryMin != nil && n.SalaryMax != nil && *n.SalaryMin > *n.SalaryMax {
		n.SalaryMin, n.SalaryMax = n.SalaryMax, n.SalaryMin
	}

	return n
}

// parseDate accepts YYYY-MM-DD, YYYY-MM or YYYY and clamps the year to a
// sane range. Anything else is dropped.
func parseDate(s string, cfg Config) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		maxYear := time.Now().Year() + 1
		if t.Year() < cfg.MinYear || t.Year() > maxYear {
			return nil
		}
		return &t
	}
	return nil
}

// normalizeSalary rejects negatives and interprets implausibly small annual
// figures as monthly.
func normalizeSalary(v *int64, cfg Config) *int64 {
	if v == nil {
		return nil
	}
	if *v < 0 {
		return nil
	}
	out := *v
	if out > 0 && out < cfg.MinPlausibleAnnualSalary {
		out *= 12
	}
	return &out
}

// capWithOverflow truncates must to max items and appends the overflow to
// should, deduplicating the combined result.
func capWithOverflow(must, should []string, max int) (cappedMust, grownShould []string) {
	if max < 0 {
		max = 0
	}
	if len(must) <= max {
		return must, dedupe(should)
	}
	overflow := must[max:]
	return must[:max], dedupe(append(append([]string{}, should...), overflow...))
}

// filterIntents keeps only values from the allowed intent set.
func filterIntents(in []string) []string {
	var out []string
	for _, v := range in {
		if allowedIntents[strings.ToLower(strings.TrimSpace(v))] {
			out = append(out, strings.ToLower(strings.TrimSpace(v)))
		}
	}
	return out
}

// dedupe removes duplicates case-insensitively while preserving first-seen
// order; entries are trimmed and empties dropped.
func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	var out []string
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		key := strings.ToLower(v)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
