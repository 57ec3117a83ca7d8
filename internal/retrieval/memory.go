package retrieval

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/scoutly/scoutly/internal/talent"
)

// InMemoryStore is an in-memory Store for tests and local development. It
// mirrors the Postgres filter semantics over plain slices.
type InMemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]bool // person id -> open to work
	parents  []memoryParent
	children []memoryChild
}

type memoryParent struct {
	rec talent.ExperienceRecord
	vec []float32
}

type memoryChild struct {
	sub talent.ExperienceSubRecord
	vec []float32
}

// NewInMemoryStore creates an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{profiles: make(map[string]bool)}
}

// AddProfile registers a person and their open-to-work flag.
func (s *InMemoryStore) AddProfile(personID string, openToWork bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[personID] = openToWork
}

// AddParent registers a parent record with its embedding.
func (s *InMemoryStore) AddParent(rec talent.ExperienceRecord, vec []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parents = append(s.parents, memoryParent{rec: rec, vec: vec})
}

// AddChild registers a sub-record with its embedding.
func (s *InMemoryStore) AddChild(sub talent.ExperienceSubRecord, vec []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.children = append(s.children, memoryChild{sub: sub, vec: vec})
}

// TopParents implements Store.
func (s *InMemoryStore) TopParents(ctx context.Context, vec []float32, f Filters, limit int) ([]ParentMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ParentMatch
	for _, p := range s.parents {
		if p.vec == nil || !s.matchParent(&p.rec, f) {
			continue
		}
		out = append(out, ParentMatch{
			RecordID:   p.rec.ID,
			PersonID:   p.rec.PersonID,
			Similarity: cosine(vec, p.vec),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// BestChildPerPerson implements Store.
func (s *InMemoryStore) BestChildPerPerson(ctx context.Context, vec []float32, f Filters, limit int) ([]ChildMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	best := make(map[string]ChildMatch)
	for _, c := range s.children {
		parent := s.parentByID(c.sub.RecordID)
		if c.vec == nil || parent == nil || !s.matchParent(parent, f) {
			continue
		}
		m := ChildMatch{
			SubRecordID: c.sub.ID,
			RecordID:    c.sub.RecordID,
			PersonID:    parent.PersonID,
			Type:        c.sub.Type,
			Similarity:  cosine(vec, c.vec),
		}
		if cur, ok := best[m.PersonID]; !ok || m.Similarity > cur.Similarity {
			best[m.PersonID] = m
		}
	}

	out := make([]ChildMatch, 0, len(best))
	for _, m := range best {
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].PersonID < out[j].PersonID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ChildEvidence implements Store.
func (s *InMemoryStore) ChildEvidence(ctx context.Context, vec []float32, personIDs []string, perPerson int) (map[string][]ChildMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if perPerson <= 0 {
		perPerson = 3
	}
	wanted := make(map[string]bool, len(personIDs))
	for _, id := range personIDs {
		wanted[id] = true
	}

	byPerson := make(map[string][]ChildMatch)
	for _, c := range s.children {
		parent := s.parentByID(c.sub.RecordID)
		if c.vec == nil || parent == nil || !parent.Visible || !wanted[parent.PersonID] {
			continue
		}
		byPerson[parent.PersonID] = append(byPerson[parent.PersonID], ChildMatch{
			SubRecordID: c.sub.ID,
			RecordID:    c.sub.RecordID,
			PersonID:    parent.PersonID,
			Type:        c.sub.Type,
			Similarity:  cosine(vec, c.vec),
		})
	}
	for id, matches := range byPerson {
		sort.SliceStable(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })
		if len(matches) > perPerson {
			matches = matches[:perPerson]
		}
		byPerson[id] = matches
	}
	return byPerson, nil
}

func (s *InMemoryStore) parentByID(id string) *talent.ExperienceRecord {
	for i := range s.parents {
		if s.parents[i].rec.ID == id {
			return &s.parents[i].rec
		}
	}
	return nil
}

func (s *InMemoryStore) matchParent(r *talent.ExperienceRecord, f Filters) bool {
	if !r.Visible {
		return false
	}
	if f.OpenToWorkOnly && !s.profiles[r.PersonID] {
		return false
	}
	if len(f.Companies) > 0 && !anyContains([]string{r.Company}, f.Companies) {
		return false
	}
	if len(f.Teams) > 0 && !anyContains([]string{r.Role, r.Title}, f.Teams) {
		return false
	}
	if len(f.Domains) > 0 && !anyContains([]string{r.Domain, r.SubDomain}, f.Domains) {
		return false
	}
	if len(f.Intents) > 0 && !containsString(f.Intents, r.EmploymentType) {
		return false
	}
	if len(f.Locations) > 0 && !anyContains([]string{r.Location}, f.Locations) {
		return false
	}
	if len(f.ExcludeCompanies) > 0 && anyContains([]string{r.Company}, f.ExcludeCompanies) {
		return false
	}
	if len(f.ExcludeLocations) > 0 && anyContains([]string{r.Location}, f.ExcludeLocations) {
		return false
	}
	if f.TimeWindow {
		if !r.HasAnyDate() {
			return false
		}
		if f.DateFrom != nil && !r.Current && r.EndDate != nil && r.EndDate.Before(*f.DateFrom) {
			return false
		}
		if f.DateTo != nil && r.StartDate != nil && r.StartDate.After(*f.DateTo) {
			return false
		}
	}
	return true
}

// anyContains reports whether any field contains any term,
// case-insensitively. Mirrors ILIKE '%term%'.
func anyContains(fields, terms []string) bool {
	for _, field := range fields {
		lf := strings.ToLower(field)
		for _, term := range terms {
			term = strings.ToLower(strings.TrimSpace(term))
			if term != "" && strings.Contains(lf, term) {
				return true
			}
		}
	}
	return false
}

func containsString(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
