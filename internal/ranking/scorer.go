package ranking

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/scoutly/scoutly/internal/query"
	"github.com/scoutly/scoutly/internal/retrieval"
	"github.com/scoutly/scoutly/internal/talent"
)

// Candidate is one person's gathered evidence before scoring.
type Candidate struct {
	PersonID string
	Parents  []retrieval.ParentMatch
	// Children holds the best child matches, deduplicated by sub-record id.
	// Only these feed the similarity terms of the score.
	Children []retrieval.ChildMatch
	// ChildEvidence holds every matched sub-record for card display, a
	// superset of Children. It never influences the score.
	ChildEvidence []retrieval.ChildMatch
	// LexicalBonus is the normalized [0, 1] full-text relevance for this
	// person, zero when the lexical path degraded.
	LexicalBonus float64
	ShouldHits   int
}

// Ranked is one scored person.
type Ranked struct {
	Candidate
	Score float64

	// Tie-break keys, precomputed so the re-sort stays cheap and
	// deterministic.
	SalaryStated bool
	FullOverlap  bool
}

// Input carries everything the scorer needs for one search.
type Input struct {
	Query      *query.Normalized
	Tier       retrieval.Tier
	Candidates []Candidate
	// Records maps matched record ids to their full rows, for penalty and
	// tie-break checks.
	Records map[string]*talent.ExperienceRecord
	// Profiles maps person ids to their profiles, for the salary tie-break.
	Profiles map[string]*talent.PersonProfile
}

// Scorer blends retrieval evidence into one score per person.
type Scorer struct {
	weights *Weights
}

// NewScorer creates a scorer. A nil weights argument falls back to defaults.
func NewScorer(weights *Weights) *Scorer {
	if weights == nil {
		weights = DefaultWeights()
	}
	return &Scorer{weights: weights}
}

// BuildCandidates groups a retrieval result per person and attaches lexical
// bonuses and SHOULD-match hit counts.
func BuildCandidates(res *retrieval.Result, lexical map[string]float64, q *query.Normalized, records map[string]*talent.ExperienceRecord) []Candidate {
	byPerson := make(map[string]*Candidate)
	order := make([]string, 0, len(res.Persons))

	get := func(personID string) *Candidate {
		if c, ok := byPerson[personID]; ok {
			return c
		}
		c := &Candidate{PersonID: personID}
		byPerson[personID] = c
		order = append(order, personID)
		return c
	}

	for _, p := range res.Parents {
		c := get(p.PersonID)
		c.Parents = append(c.Parents, p)
	}

	seenChild := make(map[string]bool)
	for _, ch := range res.BestChildren {
		if seenChild[ch.SubRecordID] {
			continue
		}
		seenChild[ch.SubRecordID] = true
		c := get(ch.PersonID)
		c.Children = append(c.Children, ch)
		c.ChildEvidence = append(c.ChildEvidence, ch)
	}
	for _, matches := range res.Evidence {
		for _, ch := range matches {
			if seenChild[ch.SubRecordID] {
				continue
			}
			seenChild[ch.SubRecordID] = true
			c := get(ch.PersonID)
			c.ChildEvidence = append(c.ChildEvidence, ch)
		}
	}

	out := make([]Candidate, 0, len(order))
	for _, id := range order {
		c := byPerson[id]
		c.LexicalBonus = lexical[id]
		c.ShouldHits = countShouldHits(matchedRecords(c, records), q)
		out = append(out, *c)
	}
	return out
}

// Rank scores every candidate, sorts descending by score and applies the
// deterministic tie-break re-sort. The returned order is the final rank.
func (s *Scorer) Rank(in Input) []Ranked {
	out := make([]Ranked, 0, len(in.Candidates))
	for _, c := range in.Candidates {
		r := Ranked{Candidate: c, Score: s.score(c, in)}
		if p := in.Profiles[c.PersonID]; p != nil {
			r.SalaryStated = p.SalaryMin != nil
		}
		r.FullOverlap = hasFullOverlap(matchedRecords(&c, in.Records), in.Query)
		out = append(out, r)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	ApplyTieBreaks(out, in.Query)
	return out
}

func (s *Scorer) score(c Candidate, in Input) float64 {
	var parentSims, childSims []float64
	for _, p := range c.Parents {
		parentSims = append(parentSims, p.Similarity)
	}
	for _, ch := range c.Children {
		childSims = append(childSims, ch.Similarity)
	}

	score := s.weights.BestParent*maxOf(parentSims) +
		s.weights.BestChild*maxOf(childSims) +
		s.weights.SimAverage*topAverage(append(parentSims, childSims...), 3)

	score += math.Min(c.LexicalBonus*s.weights.LexicalScale, s.weights.LexicalCap)
	score += math.Min(float64(c.ShouldHits)*s.weights.ShouldBoost, s.weights.ShouldCap)

	recs := matchedRecords(&c, in.Records)
	if in.Query.HasTimeWindow() && in.Tier >= retrieval.TierTimeSoft && !anyHasDate(recs) {
		score -= s.weights.MissingDatePenalty
	}
	if in.Query.HasLocation() && in.Tier >= retrieval.TierLocationSoft &&
		!anyLocationMatches(recs, in.Query.Must.Locations) {
		score -= s.weights.LocationMismatchPenalty
	}

	if score < 0 {
		return 0
	}
	return score
}

// SimilarityPercent converts a blended score to the rounded 0-100 figure
// shown to searchers.
func SimilarityPercent(score float64) int {
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return int(math.Round(score * 100))
}

// matchedRecords resolves a candidate's matched parent rows, including the
// owning parents of child-only matches.
func matchedRecords(c *Candidate, records map[string]*talent.ExperienceRecord) []*talent.ExperienceRecord {
	seen := make(map[string]bool)
	var out []*talent.ExperienceRecord
	add := func(id string) {
		if seen[id] {
			return
		}
		seen[id] = true
		if r := records[id]; r != nil {
			out = append(out, r)
		}
	}
	for _, p := range c.Parents {
		add(p.RecordID)
	}
	for _, ch := range c.Children {
		add(ch.RecordID)
	}
	for _, ch := range c.ChildEvidence {
		add(ch.RecordID)
	}
	return out
}

func anyHasDate(recs []*talent.ExperienceRecord) bool {
	for _, r := range recs {
		if r.HasAnyDate() {
			return true
		}
	}
	return false
}

func anyLocationMatches(recs []*talent.ExperienceRecord, locations []string) bool {
	for _, r := range recs {
		loc := strings.ToLower(r.Location)
		if loc == "" {
			continue
		}
		for _, want := range locations {
			if want = strings.ToLower(strings.TrimSpace(want)); want != "" && strings.Contains(loc, want) {
				return true
			}
		}
	}
	return false
}

// hasFullOverlap reports whether any matched record carries both date bounds
// and overlaps the query window.
func hasFullOverlap(recs []*talent.ExperienceRecord, q *query.Normalized) bool {
	if !q.HasTimeWindow() {
		return false
	}
	for _, r := range recs {
		if !r.HasFullDateRange() {
			continue
		}
		end := r.EndDate
		if r.Current {
			now := time.Now()
			end = &now
		}
		if q.DateTo != nil && r.StartDate.After(*q.DateTo) {
			continue
		}
		if q.DateFrom != nil && end.Before(*q.DateFrom) {
			continue
		}
		return true
	}
	return false
}

// countShouldHits counts SHOULD-term and keyword overlaps against each
// record's search phrases and text document. Each (term, record) overlap
// counts once; the boost cap bounds the total effect.
func countShouldHits(recs []*talent.ExperienceRecord, q *query.Normalized) int {
	terms := shouldTerms(q)
	if len(terms) == 0 {
		return 0
	}

	hits := 0
	for _, r := range recs {
		doc := recordDocument(r)
		for _, term := range terms {
			if strings.Contains(doc, term) {
				hits++
			}
		}
	}
	return hits
}

func shouldTerms(q *query.Normalized) []string {
	var raw []string
	raw = append(raw, q.Should.Intents...)
	raw = append(raw, q.Should.Companies...)
	raw = append(raw, q.Should.Teams...)
	raw = append(raw, q.Should.Domains...)
	raw = append(raw, q.Should.SubDomains...)
	raw = append(raw, q.Should.Locations...)
	raw = append(raw, q.Keywords...)
	raw = append(raw, q.Phrases...)

	seen := make(map[string]bool, len(raw))
	var out []string
	for _, t := range raw {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func recordDocument(r *talent.ExperienceRecord) string {
	parts := []string{r.Title, r.Company, r.Role, r.Domain, r.SubDomain, r.Summary, r.Location}
	parts = append(parts, r.SearchPhrases...)
	return strings.ToLower(strings.Join(parts, " "))
}

func maxOf(vals []float64) float64 {
	best := 0.0
	for _, v := range vals {
		if v > best {
			best = v
		}
	}
	return best
}

// topAverage returns the mean of the n largest values, or of all values when
// fewer exist. Zero when empty.
func topAverage(vals []float64, n int) float64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := append([]float64{}, vals...)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	return sum / float64(len(sorted))
}
