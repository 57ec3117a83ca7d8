package retrieval

import (
	"context"
	"testing"
	"time"

	"github.com/scoutly/scoutly/internal/query"
	"github.com/scoutly/scoutly/internal/talent"
)

func datePtr(y, m, d int) *time.Time {
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	return &t
}

func seedStore() *InMemoryStore {
	s := NewInMemoryStore()
	s.AddProfile("p1", true)
	s.AddProfile("p2", true)
	s.AddProfile("p3", false)

	s.AddParent(talent.ExperienceRecord{
		ID: "r1", PersonID: "p1", Title: "Backend Engineer", Company: "Acme",
		Location: "Mumbai", StartDate: datePtr(2019, 1, 1), EndDate: datePtr(2020, 6, 1),
		Visible: true,
	}, []float32{1, 0})
	s.AddParent(talent.ExperienceRecord{
		ID: "r2", PersonID: "p2", Title: "Data Engineer", Company: "Globex",
		Location: "Berlin", StartDate: datePtr(2021, 1, 1), Current: true,
		Visible: true,
	}, []float32{0.9, 0.1})
	s.AddParent(talent.ExperienceRecord{
		ID: "r3", PersonID: "p3", Title: "Designer", Company: "Initech",
		Location: "Mumbai", Visible: true,
	}, []float32{0, 1})
	s.AddParent(talent.ExperienceRecord{
		ID: "r4", PersonID: "p1", Title: "Hidden", Company: "Acme", Visible: false,
	}, []float32{1, 0})

	s.AddChild(talent.ExperienceSubRecord{ID: "c1", RecordID: "r1", Type: talent.SubRecordTools}, []float32{0.8, 0.2})
	s.AddChild(talent.ExperienceSubRecord{ID: "c2", RecordID: "r1", Type: talent.SubRecordMetrics}, []float32{0.5, 0.5})
	s.AddChild(talent.ExperienceSubRecord{ID: "c3", RecordID: "r2", Type: talent.SubRecordTools}, []float32{0.7, 0.3})
	return s
}

func newTestController(s Store, minPersons int) *Controller {
	cfg := DefaultConfig()
	cfg.MinPersons = minPersons
	return NewController(s, cfg, nil, nil)
}

func TestFiltersForTier_Relaxation(t *testing.T) {
	n := &query.Normalized{
		Must: query.ConstraintSet{
			Companies: []string{"Acme"},
			Teams:     []string{"platform"},
			Locations: []string{"Mumbai"},
			Intents:   []string{"full_time"},
		},
		Exclude:  query.ConstraintSet{Companies: []string{"Evil Corp"}},
		DateFrom: datePtr(2021, 1, 1),
	}

	strict := FiltersForTier(n, Options{}, TierStrict)
	if !strict.TimeWindow || len(strict.Locations) == 0 || len(strict.Companies) == 0 {
		t.Errorf("strict tier dropped filters: %+v", strict)
	}

	timeSoft := FiltersForTier(n, Options{}, TierTimeSoft)
	if timeSoft.TimeWindow {
		t.Error("time_soft tier should drop the time window")
	}
	if len(timeSoft.Locations) == 0 || len(timeSoft.Companies) == 0 {
		t.Error("time_soft tier should keep location and company filters")
	}

	locSoft := FiltersForTier(n, Options{}, TierLocationSoft)
	if len(locSoft.Locations) != 0 {
		t.Error("location_soft tier should drop the location filter")
	}
	if len(locSoft.Companies) == 0 {
		t.Error("location_soft tier should keep company filters")
	}

	terminal := FiltersForTier(n, Options{}, TierCompanyTeamSoft)
	if len(terminal.Companies) != 0 || len(terminal.Teams) != 0 {
		t.Error("terminal tier should drop company and team filters")
	}
	if len(terminal.Intents) == 0 || len(terminal.ExcludeCompanies) == 0 {
		t.Error("intents and excludes must survive every tier")
	}
}

func TestRetrieve_StrictTierSatisfied(t *testing.T) {
	c := newTestController(seedStore(), 1)

	res, err := c.Retrieve(context.Background(), []float32{1, 0}, &query.Normalized{}, Options{})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if res.Tier != TierStrict {
		t.Errorf("Tier = %v, want strict", res.Tier)
	}
	if len(res.Persons) == 0 {
		t.Fatal("no persons found")
	}
	if res.Parents[0].RecordID != "r1" {
		t.Errorf("best parent = %s, want r1", res.Parents[0].RecordID)
	}
	for _, p := range res.Parents {
		if p.RecordID == "r4" {
			t.Error("hidden record surfaced in results")
		}
	}
}

func TestRetrieve_AdvancesPastStarvedTime(t *testing.T) {
	// No record overlaps 2022 in Mumbai with a known date bound, so strict
	// retrieval starves and the controller relaxes the time window.
	n := &query.Normalized{
		Must:     query.ConstraintSet{Locations: []string{"Mumbai"}},
		DateFrom: datePtr(2022, 1, 1),
		DateTo:   datePtr(2022, 12, 31),
	}
	c := newTestController(seedStore(), 1)

	res, err := c.Retrieve(context.Background(), []float32{1, 0}, n, Options{})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if res.Tier < TierTimeSoft {
		t.Errorf("Tier = %v, want >= time_soft", res.Tier)
	}
	if len(res.Persons) == 0 {
		t.Error("relaxed retrieval should find the Mumbai records")
	}
}

func TestRetrieve_TerminatesAtTerminalTier(t *testing.T) {
	n := &query.Normalized{
		Must: query.ConstraintSet{Companies: []string{"No Such Company"}},
	}
	c := newTestController(seedStore(), 50)

	res, err := c.Retrieve(context.Background(), []float32{1, 0}, n, Options{})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if res.Tier != TierCompanyTeamSoft {
		t.Errorf("Tier = %v, want terminal company_team_soft", res.Tier)
	}
}

func TestRetrieve_FallbackMonotonicity(t *testing.T) {
	n := &query.Normalized{
		Must:     query.ConstraintSet{Locations: []string{"Mumbai"}, Companies: []string{"Acme"}},
		DateFrom: datePtr(2022, 1, 1),
	}
	s := seedStore()

	var prev map[string]bool
	for tier := TierStrict; tier <= TierCompanyTeamSoft; tier++ {
		f := FiltersForTier(n, Options{}, tier)
		parents, err := s.TopParents(context.Background(), []float32{1, 0}, f, 100)
		if err != nil {
			t.Fatalf("TopParents() error = %v", err)
		}
		children, err := s.BestChildPerPerson(context.Background(), []float32{1, 0}, f, 100)
		if err != nil {
			t.Fatalf("BestChildPerPerson() error = %v", err)
		}
		cur := make(map[string]bool)
		for _, id := range distinctPersons(parents, children) {
			cur[id] = true
		}
		for id := range prev {
			if !cur[id] {
				t.Errorf("tier %v lost person %s found at the stricter tier", tier, id)
			}
		}
		prev = cur
	}
}

func TestRetrieve_OpenToWorkOnly(t *testing.T) {
	c := newTestController(seedStore(), 1)

	res, err := c.Retrieve(context.Background(), []float32{0, 1}, &query.Normalized{}, Options{OpenToWorkOnly: true})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	for _, id := range res.Persons {
		if id == "p3" {
			t.Error("closed-to-work person surfaced with OpenToWorkOnly set")
		}
	}
}

func TestBestChildPerPerson_SinglePerPerson(t *testing.T) {
	s := seedStore()

	children, err := s.BestChildPerPerson(context.Background(), []float32{1, 0}, Filters{}, 100)
	if err != nil {
		t.Fatalf("BestChildPerPerson() error = %v", err)
	}
	seen := make(map[string]bool)
	for _, ch := range children {
		if seen[ch.PersonID] {
			t.Errorf("person %s appears more than once", ch.PersonID)
		}
		seen[ch.PersonID] = true
	}
	// p1's best child against [1 0] is c1 (closer than c2).
	for _, ch := range children {
		if ch.PersonID == "p1" && ch.SubRecordID != "c1" {
			t.Errorf("best child for p1 = %s, want c1", ch.SubRecordID)
		}
	}
}

func TestChildEvidence_Bounded(t *testing.T) {
	s := seedStore()

	ev, err := s.ChildEvidence(context.Background(), []float32{1, 0}, []string{"p1"}, 1)
	if err != nil {
		t.Fatalf("ChildEvidence() error = %v", err)
	}
	if len(ev["p1"]) != 1 {
		t.Fatalf("evidence for p1 = %d entries, want 1", len(ev["p1"]))
	}
	if ev["p1"][0].SubRecordID != "c1" {
		t.Errorf("top evidence = %s, want c1", ev["p1"][0].SubRecordID)
	}
}
