package talent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"
)

// ErrProfileNotFound is returned when a person profile does not exist.
var ErrProfileNotFound = errors.New("person profile not found")

// Repository defines batched read access to people and experience records.
// The search engine hydrates display objects through these methods; all
// loads are explicit and batched to avoid per-row query storms.
type Repository interface {
	// ProfilesByID loads profiles for the given person ids, keyed by id.
	// Missing ids are absent from the map, not an error.
	ProfilesByID(ctx context.Context, ids []string) (map[string]*PersonProfile, error)

	// RecordsByID loads experience records for the given record ids.
	RecordsByID(ctx context.Context, ids []string) (map[string]*ExperienceRecord, error)

	// SubRecordsByID loads sub-records for the given sub-record ids.
	SubRecordsByID(ctx context.Context, ids []string) (map[string]*ExperienceSubRecord, error)

	// RecentVisibleRecords returns a person's visible parent records ordered
	// most-recent first (by end date, current records first), bounded by limit.
	RecentVisibleRecords(ctx context.Context, personID string, limit int) ([]*ExperienceRecord, error)

	// MarkEmbeddingStale flags a record for re-embedding after an edit.
	// The extraction pipeline owns the actual re-embed.
	MarkEmbeddingStale(ctx context.Context, recordID string) error
}

// PostgresRepository implements Repository over PostgreSQL.
type PostgresRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *sql.DB, logger *slog.Logger) *PostgresRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRepository{db: db, logger: logger}
}

// ProfilesByID loads profiles in one batched query.
func (r *PostgresRepository) ProfilesByID(ctx context.Context, ids []string) (map[string]*PersonProfile, error) {
	out := make(map[string]*PersonProfile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query := `
		SELECT id, display_name, headline, bio, open_to_work, open_to_contact,
		       show_compensation, preferred_locations, salary_min, credit_balance,
		       created_at, updated_at
		FROM person_profiles
		WHERE id = ANY($1)
	`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to load profiles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p PersonProfile
		var salaryMin sql.NullInt64
		if err := rows.Scan(&p.ID, &p.DisplayName, &p.Headline, &p.Bio,
			&p.OpenToWork, &p.OpenToContact, &p.ShowCompensation,
			pq.Array(&p.PreferredLocations), &salaryMin, &p.CreditBalance,
			&p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		if salaryMin.Valid {
			v := salaryMin.Int64
			p.SalaryMin = &v
		}
		out[p.ID] = &p
	}
	return out, rows.Err()
}

// RecordsByID loads experience records in one batched query.
func (r *PostgresRepository) RecordsByID(ctx context.Context, ids []string) (map[string]*ExperienceRecord, error) {
	out := make(map[string]*ExperienceRecord, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query := `
		SELECT id, person_id, title, company, role, domain, sub_domain, summary,
		       start_date, end_date, current, location, employment_type, seniority,
		       search_phrases, visible, embedding_stale, created_at, updated_at
		FROM experience_records
		WHERE id = ANY($1)
	`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to load records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out[rec.ID] = rec
	}
	return out, rows.Err()
}

// SubRecordsByID loads sub-records in one batched query. Stored value blobs
// are normalized on read.
func (r *PostgresRepository) SubRecordsByID(ctx context.Context, ids []string) (map[string]*ExperienceSubRecord, error) {
	out := make(map[string]*ExperienceSubRecord, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query := `
		SELECT id, record_id, type, value, created_at, updated_at
		FROM experience_sub_records
		WHERE id = ANY($1)
	`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to load sub-records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s ExperienceSubRecord
		var raw []byte
		if err := rows.Scan(&s.ID, &s.RecordID, &s.Type, &raw, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sub-record: %w", err)
		}
		s.Value = ParseSubRecordValue(raw)
		out[s.ID] = &s
	}
	return out, rows.Err()
}

// RecentVisibleRecords returns a person's visible parents, most recent first.
func (r *PostgresRepository) RecentVisibleRecords(ctx context.Context, personID string, limit int) ([]*ExperienceRecord, error) {
	if limit <= 0 {
		limit = 3
	}

	query := `
		SELECT id, person_id, title, company, role, domain, sub_domain, summary,
		       start_date, end_date, current, location, employment_type, seniority,
		       search_phrases, visible, embedding_stale, created_at, updated_at
		FROM experience_records
		WHERE person_id = $1 AND visible
		ORDER BY current DESC, end_date DESC NULLS LAST, start_date DESC NULLS LAST
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, personID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent records: %w", err)
	}
	defer rows.Close()

	var out []*ExperienceRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// MarkEmbeddingStale flags a record so the extraction pipeline re-embeds it.
func (r *PostgresRepository) MarkEmbeddingStale(ctx context.Context, recordID string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE experience_records SET embedding_stale = TRUE, updated_at = NOW() WHERE id = $1`,
		recordID)
	if err != nil {
		return fmt.Errorf("failed to mark record stale: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrProfileNotFound
	}
	r.logger.Debug("marked record for re-embedding", slog.String("record_id", recordID))
	return nil
}

// scanRecord scans one experience record row.
func scanRecord(rows *sql.Rows) (*ExperienceRecord, error) {
	var rec ExperienceRecord
	var subDomain, location, employmentType, seniority sql.NullString
	if err := rows.Scan(&rec.ID, &rec.PersonID, &rec.Title, &rec.Company,
		&rec.Role, &rec.Domain, &subDomain, &rec.Summary,
		&rec.StartDate, &rec.EndDate, &rec.Current,
		&location, &employmentType, &seniority,
		pq.Array(&rec.SearchPhrases), &rec.Visible, &rec.EmbeddingStale,
		&rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to scan record: %w", err)
	}
	rec.SubDomain = subDomain.String
	rec.Location = location.String
	rec.EmploymentType = employmentType.String
	rec.Seniority = seniority.String
	return &rec, nil
}
