package retrieval

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"
)

// PostgresStore answers retrieval queries with pgvector cosine distance and
// plain SQL filters.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// vectorLiteral renders a vector in pgvector's input format. lib/pq has no
// native vector type, so the value travels as text and is cast server-side.
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(x), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// argList collects positional query arguments.
type argList struct {
	vals []any
}

func (a *argList) add(v any) string {
	a.vals = append(a.vals, v)
	return fmt.Sprintf("$%d", len(a.vals))
}

func likePatterns(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		out = append(out, "%"+t+"%")
	}
	return out
}

// parentClauses renders the WHERE conditions for filters f against an
// experience_records alias r joined to person_profiles p.
func parentClauses(f Filters, args *argList) []string {
	clauses := []string{"r.visible"}

	if f.OpenToWorkOnly {
		clauses = append(clauses, "p.open_to_work")
	}
	if p := likePatterns(f.Companies); len(p) > 0 {
		clauses = append(clauses, fmt.Sprintf("r.company ILIKE ANY(%s)", args.add(pq.Array(p))))
	}
	if p := likePatterns(f.Teams); len(p) > 0 {
		ph := args.add(pq.Array(p))
		clauses = append(clauses, fmt.Sprintf("(r.role ILIKE ANY(%s) OR r.title ILIKE ANY(%s))", ph, ph))
	}
	if p := likePatterns(f.Domains); len(p) > 0 {
		ph := args.add(pq.Array(p))
		clauses = append(clauses, fmt.Sprintf("(r.domain ILIKE ANY(%s) OR r.sub_domain ILIKE ANY(%s))", ph, ph))
	}
	if len(f.Intents) > 0 {
		clauses = append(clauses, fmt.Sprintf("r.employment_type = ANY(%s)", args.add(pq.Array(f.Intents))))
	}
	if p := likePatterns(f.Locations); len(p) > 0 {
		clauses = append(clauses, fmt.Sprintf("r.location ILIKE ANY(%s)", args.add(pq.Array(p))))
	}
	if p := likePatterns(f.ExcludeCompanies); len(p) > 0 {
		clauses = append(clauses, fmt.Sprintf("NOT (r.company ILIKE ANY(%s))", args.add(pq.Array(p))))
	}
	if p := likePatterns(f.ExcludeLocations); len(p) > 0 {
		clauses = append(clauses, fmt.Sprintf("NOT (r.location ILIKE ANY(%s))", args.add(pq.Array(p))))
	}
	if f.TimeWindow {
		// Overlap test: at least one known bound, and no provable
		// non-overlap with the query window. Unknown bounds pass; a
		// current record's end is treated as open.
		clauses = append(clauses, "(r.start_date IS NOT NULL OR r.end_date IS NOT NULL)")
		if f.DateFrom != nil {
			clauses = append(clauses, fmt.Sprintf(
				"(r.current OR r.end_date IS NULL OR r.end_date >= %s)", args.add(*f.DateFrom)))
		}
		if f.DateTo != nil {
			clauses = append(clauses, fmt.Sprintf(
				"(r.start_date IS NULL OR r.start_date <= %s)", args.add(*f.DateTo)))
		}
	}
	return clauses
}

// TopParents implements Store.
func (s *PostgresStore) TopParents(ctx context.Context, vec []float32, f Filters, limit int) ([]ParentMatch, error) {
	args := &argList{}
	vp := args.add(vectorLiteral(vec))
	clauses := append(parentClauses(f, args), "r.embedding IS NOT NULL")

	query := fmt.Sprintf(`
		SELECT r.id, r.person_id, 1 - (r.embedding <=> %s::vector) AS similarity
		FROM experience_records r
		JOIN person_profiles p ON p.id = r.person_id
		WHERE %s
		ORDER BY r.embedding <=> %s::vector
		LIMIT %s`,
		vp, strings.Join(clauses, " AND "), vp, args.add(limit))

	rows, err := s.db.QueryContext(ctx, query, args.vals...)
	if err != nil {
		return nil, fmt.Errorf("failed to query parent candidates: %w", err)
	}
	defer rows.Close()

	var out []ParentMatch
	for rows.Next() {
		var m ParentMatch
		if err := rows.Scan(&m.RecordID, &m.PersonID, &m.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan parent candidate: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// BestChildPerPerson implements Store.
func (s *PostgresStore) BestChildPerPerson(ctx context.Context, vec []float32, f Filters, limit int) ([]ChildMatch, error) {
	args := &argList{}
	vp := args.add(vectorLiteral(vec))
	clauses := append(parentClauses(f, args), "sr.embedding IS NOT NULL")

	query := fmt.Sprintf(`
		SELECT id, record_id, person_id, type, similarity
		FROM (
			SELECT sr.id, sr.record_id, r.person_id, sr.type,
			       1 - (sr.embedding <=> %s::vector) AS similarity,
			       ROW_NUMBER() OVER (
			           PARTITION BY r.person_id
			           ORDER BY sr.embedding <=> %s::vector
			       ) AS rn
			FROM experience_sub_records sr
			JOIN experience_records r ON r.id = sr.record_id
			JOIN person_profiles p ON p.id = r.person_id
			WHERE %s
		) ranked
		WHERE rn = 1
		ORDER BY similarity DESC
		LIMIT %s`,
		vp, vp, strings.Join(clauses, " AND "), args.add(limit))

	rows, err := s.db.QueryContext(ctx, query, args.vals...)
	if err != nil {
		return nil, fmt.Errorf("failed to query child candidates: %w", err)
	}
	defer rows.Close()

	var out []ChildMatch
	for rows.Next() {
		var m ChildMatch
		if err := rows.Scan(&m.SubRecordID, &m.RecordID, &m.PersonID, &m.Type, &m.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan child candidate: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ChildEvidence implements Store.
func (s *PostgresStore) ChildEvidence(ctx context.Context, vec []float32, personIDs []string, perPerson int) (map[string][]ChildMatch, error) {
	if len(personIDs) == 0 {
		return map[string][]ChildMatch{}, nil
	}
	if perPerson <= 0 {
		perPerson = 3
	}

	args := &argList{}
	vp := args.add(vectorLiteral(vec))
	idsPh := args.add(pq.Array(personIDs))

	query := fmt.Sprintf(`
		SELECT id, record_id, person_id, type, similarity
		FROM (
			SELECT sr.id, sr.record_id, r.person_id, sr.type,
			       1 - (sr.embedding <=> %s::vector) AS similarity,
			       ROW_NUMBER() OVER (
			           PARTITION BY r.person_id
			           ORDER BY sr.embedding <=> %s::vector
			       ) AS rn
			FROM experience_sub_records sr
			JOIN experience_records r ON r.id = sr.record_id
			WHERE r.visible AND sr.embedding IS NOT NULL
			  AND r.person_id = ANY(%s)
		) ranked
		WHERE rn <= %s
		ORDER BY person_id, rn`,
		vp, vp, idsPh, args.add(perPerson))

	rows, err := s.db.QueryContext(ctx, query, args.vals...)
	if err != nil {
		return nil, fmt.Errorf("failed to query child evidence: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]ChildMatch, len(personIDs))
	for rows.Next() {
		var m ChildMatch
		if err := rows.Scan(&m.SubRecordID, &m.RecordID, &m.PersonID, &m.Type, &m.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan child evidence: %w", err)
		}
		out[m.PersonID] = append(out[m.PersonID], m)
	}
	return out, rows.Err()
}
