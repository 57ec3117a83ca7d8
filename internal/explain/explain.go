// Package explain produces the short "why matched" lines shown on each
// result card. A deterministic builder runs synchronously and always yields
// something; a generative refiner may replace its output asynchronously, but
// the response never waits for it.
package explain

import (
	"fmt"
	"strings"

	"github.com/scoutly/scoutly/internal/query"
	"github.com/scoutly/scoutly/internal/talent"
)

// MaxReasons is the number of lines a card may carry.
const MaxReasons = 3

// MaxSnippetLength bounds evidence snippets sent to the refiner.
const MaxSnippetLength = 160

// PersonEvidence is one person's matched material, assembled by the search
// service.
type PersonEvidence struct {
	Profile    *talent.PersonProfile
	Records    []*talent.ExperienceRecord
	SubRecords []*talent.ExperienceSubRecord
}

// BuildReasons derives up to MaxReasons short lines deterministically, by
// priority: explicit filter matches, then skill/tool overlap, then
// outcome/metric snippets, then a domain or summary fallback. The result is
// never empty for a person with at least a profile.
func BuildReasons(q *query.Normalized, ev PersonEvidence) []string {
	var reasons []string
	add := func(candidate string) {
		if len(reasons) >= MaxReasons {
			return
		}
		candidate = Truncate(strings.TrimSpace(candidate), MaxReasonLength)
		if err := ValidateReason(candidate); err != nil {
			return
		}
		for _, existing := range reasons {
			if strings.EqualFold(existing, candidate) {
				return
			}
		}
		reasons = append(reasons, candidate)
	}

	// Priority 1: explicit filter matches.
	if q != nil {
		for _, r := range ev.Records {
			for _, company := range q.Must.Companies {
				if containsFold(r.Company, company) {
					add(fmt.Sprintf("Worked at %s as %s", r.Company, orElse(r.Title, "a team member")))
				}
			}
			for _, loc := range q.Must.Locations {
				if containsFold(r.Location, loc) {
					add(fmt.Sprintf("Based in %s", r.Location))
				}
			}
		}
		if q.HasTimeWindow() {
			for _, r := range ev.Records {
				if overlapsWindow(r, q) {
					add(fmt.Sprintf("Active %s at %s", formatSpan(r), orElse(r.Company, "their last role")))
					break
				}
			}
		}
	}

	// Priority 2: skill and tool overlap.
	terms := queryTerms(q)
	for _, sr := range ev.SubRecords {
		if sr.Type != talent.SubRecordTools && sr.Type != talent.SubRecordResponsibilities {
			continue
		}
		if matched := matchedTerms(sr.Value.Text(), terms); len(matched) > 0 {
			add("Hands-on with " + strings.Join(matched, ", "))
		}
	}

	// Priority 3: outcome and metric snippets.
	for _, sr := range ev.SubRecords {
		if sr.Type != talent.SubRecordMetrics && sr.Type != talent.SubRecordAchievements {
			continue
		}
		if text := sr.Value.Text(); text != "" {
			add("Delivered: " + Truncate(text, MaxSnippetLength))
		}
	}

	// Priority 4: domain or summary fallback.
	for _, r := range ev.Records {
		if r.Domain != "" {
			add("Background in " + r.Domain)
		}
		if r.Summary != "" {
			add(Truncate(r.Summary, MaxSnippetLength))
		}
	}
	if ev.Profile != nil && ev.Profile.Headline != "" {
		add(ev.Profile.Headline)
	}

	return reasons
}

// Payload is the compact, deduplicated evidence sent to the generative
// refiner and stored on the outbox task.
type Payload struct {
	QueryText      string   `json:"query_text"`
	DisplayName    string   `json:"display_name"`
	Headline       string   `json:"headline,omitempty"`
	RecordSnippets []string `json:"record_snippets,omitempty"`
	FacetSnippets  []string `json:"facet_snippets,omitempty"`
	Fallback       []string `json:"fallback"`
}

// MaxPayloadSnippets bounds each snippet list in the payload.
const MaxPayloadSnippets = 6

// BuildPayload assembles the refiner payload for one person, carrying the
// deterministic reasons as the fallback the refiner must beat.
func BuildPayload(queryText string, q *query.Normalized, ev PersonEvidence, fallback []string) Payload {
	p := Payload{
		QueryText: queryText,
		Fallback:  fallback,
	}
	if ev.Profile != nil {
		p.DisplayName = ev.Profile.DisplayName
		p.Headline = ev.Profile.Headline
	}

	seen := make(map[string]bool)
	for _, r := range ev.Records {
		snippet := Truncate(strings.TrimSpace(strings.Join(nonEmpty(
			r.Title, r.Company, r.Domain, r.Location, formatSpan(r), r.Summary), " · ")), MaxSnippetLength)
		if snippet == "" || seen[snippet] || len(p.RecordSnippets) >= MaxPayloadSnippets {
			continue
		}
		seen[snippet] = true
		p.RecordSnippets = append(p.RecordSnippets, snippet)
	}
	for _, sr := range ev.SubRecords {
		text := sr.Value.Text()
		if text == "" {
			continue
		}
		snippet := Truncate(sr.Type+": "+text, MaxSnippetLength)
		if seen[snippet] || len(p.FacetSnippets) >= MaxPayloadSnippets {
			continue
		}
		seen[snippet] = true
		p.FacetSnippets = append(p.FacetSnippets, snippet)
	}
	return p
}

// Truncate shortens s to at most n runes, appending an ellipsis when cut.
func Truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	if n <= 1 {
		return string(runes[:n])
	}
	return strings.TrimSpace(string(runes[:n-1])) + "…"
}

func containsFold(haystack, needle string) bool {
	needle = strings.TrimSpace(needle)
	if haystack == "" || needle == "" {
		return false
	}
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func orElse(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

func nonEmpty(values ...string) []string {
	var out []string
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}

func overlapsWindow(r *talent.ExperienceRecord, q *query.Normalized) bool {
	if !r.HasAnyDate() {
		return false
	}
	if q.DateFrom != nil && !r.Current && r.EndDate != nil && r.EndDate.Before(*q.DateFrom) {
		return false
	}
	if q.DateTo != nil && r.StartDate != nil && r.StartDate.After(*q.DateTo) {
		return false
	}
	return true
}

func formatSpan(r *talent.ExperienceRecord) string {
	start := "?"
	if r.StartDate != nil {
		start = r.StartDate.Format("2006")
	}
	end := "?"
	switch {
	case r.Current:
		end = "present"
	case r.EndDate != nil:
		end = r.EndDate.Format("2006")
	}
	if start == "?" && end == "?" {
		return ""
	}
	return start + "-" + end
}

func queryTerms(q *query.Normalized) []string {
	if q == nil {
		return nil
	}
	var out []string
	out = append(out, q.Keywords...)
	out = append(out, q.Phrases...)
	out = append(out, q.Should.Domains...)
	out = append(out, q.Should.SubDomains...)
	return out
}

func matchedTerms(text string, terms []string) []string {
	lower := strings.ToLower(text)
	var out []string
	for _, term := range terms {
		t := strings.ToLower(strings.TrimSpace(term))
		if t == "" || !strings.Contains(lower, t) {
			continue
		}
		out = append(out, strings.TrimSpace(term))
		if len(out) >= 3 {
			break
		}
	}
	return out
}
