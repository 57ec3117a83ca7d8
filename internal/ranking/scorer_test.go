package ranking

import (
	"math"
	"testing"
	"time"

	"github.com/scoutly/scoutly/internal/query"
	"github.com/scoutly/scoutly/internal/retrieval"
	"github.com/scoutly/scoutly/internal/talent"
)

func datePtr(y, m, d int) *time.Time {
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	return &t
}

func int64Ptr(v int64) *int64 { return &v }

func TestScore_BlendFormula(t *testing.T) {
	s := NewScorer(nil)
	c := Candidate{
		PersonID: "p1",
		Parents: []retrieval.ParentMatch{
			{RecordID: "r1", PersonID: "p1", Similarity: 0.8},
			{RecordID: "r2", PersonID: "p1", Similarity: 0.6},
		},
		Children: []retrieval.ChildMatch{
			{SubRecordID: "c1", RecordID: "r1", PersonID: "p1", Similarity: 0.7},
		},
	}
	in := Input{Query: &query.Normalized{}, Tier: retrieval.TierStrict}

	// 0.55*0.8 + 0.30*0.7 + 0.15*avg(0.8,0.7,0.6)
	want := 0.55*0.8 + 0.30*0.7 + 0.15*0.7
	if got := s.score(c, in); math.Abs(got-want) > 1e-9 {
		t.Errorf("score() = %v, want %v", got, want)
	}
}

func TestScore_BonusesAreCapped(t *testing.T) {
	s := NewScorer(nil)
	base := Candidate{
		PersonID: "p1",
		Parents:  []retrieval.ParentMatch{{RecordID: "r1", PersonID: "p1", Similarity: 0.5}},
	}
	in := Input{Query: &query.Normalized{}, Tier: retrieval.TierStrict}
	plain := s.score(base, in)

	lex := base
	lex.LexicalBonus = 1.0
	if got := s.score(lex, in) - plain; math.Abs(got-0.05) > 1e-9 {
		t.Errorf("lexical bonus = %v, want capped at 0.05", got)
	}

	should := base
	should.ShouldHits = 50
	if got := s.score(should, in) - plain; math.Abs(got-0.06) > 1e-9 {
		t.Errorf("should bonus = %v, want capped at 0.06", got)
	}
}

func TestScore_PenaltiesOnlyAfterRelaxation(t *testing.T) {
	s := NewScorer(nil)
	q := &query.Normalized{
		Must:     query.ConstraintSet{Locations: []string{"Mumbai"}},
		DateFrom: datePtr(2022, 1, 1),
	}
	// Matched record has no dates and a non-matching location.
	records := map[string]*talent.ExperienceRecord{
		"r1": {ID: "r1", PersonID: "p1", Location: "Berlin", Visible: true},
	}
	c := Candidate{
		PersonID: "p1",
		Parents:  []retrieval.ParentMatch{{RecordID: "r1", PersonID: "p1", Similarity: 0.5}},
	}

	strict := s.score(c, Input{Query: q, Tier: retrieval.TierStrict, Records: records})
	timeSoft := s.score(c, Input{Query: q, Tier: retrieval.TierTimeSoft, Records: records})
	locSoft := s.score(c, Input{Query: q, Tier: retrieval.TierLocationSoft, Records: records})

	// 0.55*0.5 + 0.15*avg(0.5), no penalties applied on the strict tier.
	wantStrict := 0.55*0.5 + 0.15*0.5
	if math.Abs(strict-wantStrict) > 1e-9 {
		t.Errorf("strict tier score = %v, want %v without penalties", strict, wantStrict)
	}
	if math.Abs((strict-timeSoft)-0.07) > 1e-9 {
		t.Errorf("time_soft penalty = %v, want 0.07", strict-timeSoft)
	}
	if math.Abs((strict-locSoft)-0.14) > 1e-9 {
		t.Errorf("location_soft penalties = %v, want 0.14", strict-locSoft)
	}
}

func TestScore_FloorIsZero(t *testing.T) {
	s := NewScorer(nil)
	q := &query.Normalized{
		Must:     query.ConstraintSet{Locations: []string{"Mumbai"}},
		DateFrom: datePtr(2022, 1, 1),
	}
	c := Candidate{
		PersonID: "p1",
		Parents:  []retrieval.ParentMatch{{RecordID: "r1", PersonID: "p1", Similarity: 0.01}},
	}

	got := s.score(c, Input{Query: q, Tier: retrieval.TierLocationSoft,
		Records: map[string]*talent.ExperienceRecord{}})
	if got != 0 {
		t.Errorf("score() = %v, want floored at 0", got)
	}
}

func TestRank_SortsDescending(t *testing.T) {
	s := NewScorer(nil)
	in := Input{
		Query: &query.Normalized{},
		Tier:  retrieval.TierStrict,
		Candidates: []Candidate{
			{PersonID: "low", Parents: []retrieval.ParentMatch{{RecordID: "a", PersonID: "low", Similarity: 0.3}}},
			{PersonID: "high", Parents: []retrieval.ParentMatch{{RecordID: "b", PersonID: "high", Similarity: 0.9}}},
		},
	}

	ranked := s.Rank(in)
	if ranked[0].PersonID != "high" || ranked[1].PersonID != "low" {
		t.Errorf("Rank() order = [%s %s], want [high low]", ranked[0].PersonID, ranked[1].PersonID)
	}
}

func TestApplyTieBreaks_SalaryStatedFirst(t *testing.T) {
	q := &query.Normalized{SalaryMin: int64Ptr(50000)}
	ranked := []Ranked{
		{Candidate: Candidate{PersonID: "unknown"}, Score: 0.5, SalaryStated: false},
		{Candidate: Candidate{PersonID: "stated"}, Score: 0.5, SalaryStated: true},
	}

	ApplyTieBreaks(ranked, q)
	if ranked[0].PersonID != "stated" {
		t.Errorf("tie-break order = %s first, want stated", ranked[0].PersonID)
	}
}

func TestApplyTieBreaks_FullOverlapFirst(t *testing.T) {
	q := &query.Normalized{DateFrom: datePtr(2021, 1, 1)}
	ranked := []Ranked{
		{Candidate: Candidate{PersonID: "partial"}, Score: 0.5, FullOverlap: false},
		{Candidate: Candidate{PersonID: "full"}, Score: 0.5, FullOverlap: true},
	}

	ApplyTieBreaks(ranked, q)
	if ranked[0].PersonID != "full" {
		t.Errorf("tie-break order = %s first, want full", ranked[0].PersonID)
	}
}

func TestApplyTieBreaks_ScoreStaysPrimary(t *testing.T) {
	q := &query.Normalized{SalaryMin: int64Ptr(50000)}
	ranked := []Ranked{
		{Candidate: Candidate{PersonID: "top"}, Score: 0.9, SalaryStated: false},
		{Candidate: Candidate{PersonID: "tied"}, Score: 0.5, SalaryStated: true},
	}

	ApplyTieBreaks(ranked, q)
	if ranked[0].PersonID != "top" {
		t.Error("tie-break must never override the score ordering")
	}
}

func TestBuildCandidates_MergesAndDedupes(t *testing.T) {
	res := &retrieval.Result{
		Parents: []retrieval.ParentMatch{
			{RecordID: "r1", PersonID: "p1", Similarity: 0.8},
		},
		BestChildren: []retrieval.ChildMatch{
			{SubRecordID: "c1", RecordID: "r2", PersonID: "p2", Similarity: 0.7},
		},
		Evidence: map[string][]retrieval.ChildMatch{
			"p2": {
				{SubRecordID: "c1", RecordID: "r2", PersonID: "p2", Similarity: 0.7},
				{SubRecordID: "c2", RecordID: "r2", PersonID: "p2", Similarity: 0.4},
			},
		},
		Persons: []string{"p1", "p2"},
	}
	lex := map[string]float64{"p1": 0.9}

	cands := BuildCandidates(res, lex, &query.Normalized{}, map[string]*talent.ExperienceRecord{})
	if len(cands) != 2 {
		t.Fatalf("BuildCandidates() = %d candidates, want 2", len(cands))
	}

	byID := map[string]Candidate{}
	for _, c := range cands {
		byID[c.PersonID] = c
	}
	if byID["p1"].LexicalBonus != 0.9 {
		t.Errorf("p1 lexical bonus = %v, want 0.9", byID["p1"].LexicalBonus)
	}
	if len(byID["p2"].Children) != 1 {
		t.Errorf("p2 scoring children = %d, want only the best child", len(byID["p2"].Children))
	}
	if len(byID["p2"].ChildEvidence) != 2 {
		t.Errorf("p2 child evidence = %d, want 2 (c1 deduplicated)", len(byID["p2"].ChildEvidence))
	}
}

func TestBuildCandidates_EvidenceDoesNotInflateScore(t *testing.T) {
	s := NewScorer(nil)
	base := &retrieval.Result{
		Parents: []retrieval.ParentMatch{
			{RecordID: "r1", PersonID: "p1", Similarity: 0.5},
		},
		Persons: []string{"p1"},
	}
	withEvidence := &retrieval.Result{
		Parents: []retrieval.ParentMatch{
			{RecordID: "r1", PersonID: "p1", Similarity: 0.5},
		},
		// Display-only matches, not best children.
		Evidence: map[string][]retrieval.ChildMatch{
			"p1": {
				{SubRecordID: "c1", RecordID: "r1", PersonID: "p1", Similarity: 0.9},
				{SubRecordID: "c2", RecordID: "r1", PersonID: "p1", Similarity: 0.8},
			},
		},
		Persons: []string{"p1"},
	}
	in := Input{Query: &query.Normalized{}, Tier: retrieval.TierStrict}

	plain := s.score(BuildCandidates(base, nil, in.Query, nil)[0], in)
	got := s.score(BuildCandidates(withEvidence, nil, in.Query, nil)[0], in)
	if math.Abs(got-plain) > 1e-9 {
		t.Errorf("score with display evidence = %v, want %v: evidence must not move the score", got, plain)
	}
}

func TestCountShouldHits(t *testing.T) {
	q := &query.Normalized{
		Should:   query.ConstraintSet{Companies: []string{"Acme"}},
		Keywords: []string{"kubernetes"},
	}
	recs := []*talent.ExperienceRecord{
		{Title: "Platform Engineer", Company: "Acme", SearchPhrases: []string{"kubernetes operators"}},
		{Title: "SRE", Company: "Globex"},
	}

	if got := countShouldHits(recs, q); got != 2 {
		t.Errorf("countShouldHits() = %d, want 2", got)
	}
}

func TestSimilarityPercent(t *testing.T) {
	tests := []struct {
		in   float64
		want int
	}{
		{0.755, 76},
		{0, 0},
		{1.3, 100},
		{-0.2, 0},
	}
	for _, tt := range tests {
		if got := SimilarityPercent(tt.in); got != tt.want {
			t.Errorf("SimilarityPercent(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
