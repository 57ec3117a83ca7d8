// Package lexical provides the full-text relevance gateway. Lexical rank is
// a bounded bonus on top of vector similarity, never a primary signal, so
// every failure here degrades silently to "no bonus".
package lexical

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ErrUnavailable is returned when the full-text query cannot be executed.
// Callers log it and proceed without a lexical bonus.
var ErrUnavailable = errors.New("lexical search unavailable")

// BonusProvider returns per-person lexical relevance normalized to [0, 1].
type BonusProvider interface {
	PersonBonuses(ctx context.Context, phrases, keywords []string, limit int) (map[string]float64, error)
}

// PostgresProvider implements BonusProvider over Postgres full-text search.
type PostgresProvider struct {
	db      *sql.DB
	timeout time.Duration
	logger  *slog.Logger
}

// NewPostgresProvider creates a new PostgresProvider.
func NewPostgresProvider(db *sql.DB, timeout time.Duration, logger *slog.Logger) *PostgresProvider {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresProvider{db: db, timeout: timeout, logger: logger}
}

// BuildQueryText assembles a websearch_to_tsquery input from extracted
// phrases (quoted, to keep adjacency) and keywords (OR'd).
func BuildQueryText(phrases, keywords []string) string {
	var parts []string
	for _, p := range phrases {
		p = strings.TrimSpace(strings.ReplaceAll(p, `"`, " "))
		if p == "" {
			continue
		}
		parts = append(parts, `"`+p+`"`)
	}
	for _, k := range keywords {
		k = strings.TrimSpace(strings.ReplaceAll(k, `"`, " "))
		if k == "" {
			continue
		}
		parts = append(parts, k)
	}
	return strings.Join(parts, " OR ")
}

// PersonBonuses runs the lexical query over parent and child documents and
// returns the best rank per person, normalized so the strongest match is 1.
func (p *PostgresProvider) PersonBonuses(ctx context.Context, phrases, keywords []string, limit int) (map[string]float64, error) {
	queryText := BuildQueryText(phrases, keywords)
	if queryText == "" {
		return map[string]float64{}, nil
	}
	if limit <= 0 {
		limit = 200
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	query := `
		SELECT person_id, MAX(rank) AS rank
		FROM (
			SELECT r.person_id, ts_rank(r.search_document, q) AS rank
			FROM experience_records r,
			     websearch_to_tsquery('english', $1) q
			WHERE r.visible AND r.search_document @@ q
			UNION ALL
			SELECT r.person_id, ts_rank(s.search_document, q) AS rank
			FROM experience_sub_records s
			JOIN experience_records r ON r.id = s.record_id,
			     websearch_to_tsquery('english', $1) q
			WHERE r.visible AND s.search_document @@ q
		) matches
		GROUP BY person_id
		ORDER BY rank DESC
		LIMIT $2
	`
	rows, err := p.db.QueryContext(ctx, query, queryText, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	raw := make(map[string]float64)
	maxRank := 0.0
	for rows.Next() {
		var personID string
		var rank float64
		if err := rows.Scan(&personID, &rank); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		raw[personID] = rank
		if rank > maxRank {
			maxRank = rank
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return normalizeRanks(raw, maxRank), nil
}

// normalizeRanks scales ranks so the best match is 1.0.
func normalizeRanks(raw map[string]float64, maxRank float64) map[string]float64 {
	out := make(map[string]float64, len(raw))
	if maxRank <= 0 {
		return out
	}
	for id, rank := range raw {
		out[id] = rank / maxRank
	}
	return out
}

// StaticProvider is a fixed-answer BonusProvider for tests.
type StaticProvider struct {
	Bonuses map[string]float64
	Err     error
}

// PersonBonuses implements BonusProvider.
func (s *StaticProvider) PersonBonuses(ctx context.Context, phrases, keywords []string, limit int) (map[string]float64, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	out := make(map[string]float64, len(s.Bonuses))
	for k, v := range s.Bonuses {
		out[k] = v
	}
	return out, nil
}
