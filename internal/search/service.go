package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scoutly/scoutly/internal/credit"
	"github.com/scoutly/scoutly/internal/embedding"
	"github.com/scoutly/scoutly/internal/explain"
	"github.com/scoutly/scoutly/internal/lexical"
	"github.com/scoutly/scoutly/internal/query"
	"github.com/scoutly/scoutly/internal/ranking"
	"github.com/scoutly/scoutly/internal/retrieval"
	"github.com/scoutly/scoutly/internal/talent"
)

// ErrEmptyQuery is returned when a search arrives without query text.
var ErrEmptyQuery = errors.New("query text is required")

// MaxDisplayRecords bounds the matched records shown on one card.
const MaxDisplayRecords = 3

// ConstraintParser extracts structured constraints from free-form query text.
// A failing parser degrades the search to keyword-free semantic retrieval;
// it never fails the request.
type ConstraintParser interface {
	Parse(ctx context.Context, text string) (*query.ParsedPayload, error)
}

// Config holds the billing and sizing knobs of the search service.
type Config struct {
	// DefaultCards applies when neither the request nor the query text names
	// a count.
	DefaultCards int
	// CostPerCard is the credit price of one materialized card on the
	// initial page.
	CostPerCard int64
	// LoadMoreCostPerCard is the credit price of one revealed card on a
	// live load-more page. History replay is free.
	LoadMoreCostPerCard int64
	// Expiry bounds how long load-more stays live. Zero means no expiry.
	Expiry time.Duration
	// LexicalLimit bounds the lexical gateway's person list.
	LexicalLimit int
}

// DefaultServiceConfig returns the default service configuration.
func DefaultServiceConfig() Config {
	return Config{
		DefaultCards:        6,
		CostPerCard:         1,
		LoadMoreCostPerCard: 1,
		Expiry:              24 * time.Hour,
		LexicalLimit:        200,
	}
}

// Service orchestrates one search end to end: constraint normalization, the
// embedding and lexical gateways, tiered retrieval, per-person scoring, card
// hydration and the transactional persist-and-debit.
type Service struct {
	parser    ConstraintParser
	embedder  embedding.Embedder
	lexical   lexical.BonusProvider
	retriever *retrieval.Controller
	scorer    *ranking.Scorer
	people    talent.Repository
	repo      Repository
	ledger    credit.Ledger
	outbox    explain.Outbox

	cfg     Config
	normCfg query.Config
	metrics *Metrics
	logger  *slog.Logger
}

// NewService creates a search service. The parser, lexical provider, outbox
// and metrics may each be nil; the corresponding step is skipped.
func NewService(
	parser ConstraintParser,
	embedder embedding.Embedder,
	lex lexical.BonusProvider,
	retriever *retrieval.Controller,
	scorer *ranking.Scorer,
	people talent.Repository,
	repo Repository,
	ledger credit.Ledger,
	outbox explain.Outbox,
	cfg Config,
	normCfg query.Config,
	metrics *Metrics,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultCards <= 0 {
		cfg = DefaultServiceConfig()
	}
	if scorer == nil {
		scorer = ranking.NewScorer(nil)
	}
	return &Service{
		parser:    parser,
		embedder:  embedder,
		lexical:   lex,
		retriever: retriever,
		scorer:    scorer,
		people:    people,
		repo:      repo,
		ledger:    ledger,
		outbox:    outbox,
		cfg:       cfg,
		normCfg:   normCfg,
		metrics:   metrics,
		logger:    logger.With("component", "search"),
	}
}

// Execute runs one search for searcherID. The returned response is the first
// page of a snapshot that is already persisted and billed: a non-nil response
// means the debit committed, and an error means no charge happened.
func (s *Service) Execute(ctx context.Context, searcherID string, req Request) (*Response, error) {
	start := time.Now()
	resp, outcome, err := s.execute(ctx, searcherID, req)
	if s.metrics != nil {
		s.metrics.IncSearches(outcome)
		s.metrics.ObserveSearchDuration(time.Since(start).Seconds())
		if resp != nil {
			s.metrics.ObserveCards(len(resp.People))
		}
	}
	return resp, err
}

func (s *Service) execute(ctx context.Context, searcherID string, req Request) (*Response, string, error) {
	queryText := strings.TrimSpace(req.Query)
	if queryText == "" {
		return nil, OutcomeError, ErrEmptyQuery
	}

	n := s.normalize(ctx, queryText, req)
	numCards := query.InferCardCount(req.NumCards, queryText, s.cfg.DefaultCards)

	// The lexical gateway runs concurrently with embedding and retrieval.
	// Its failure degrades bonuses to zero; the embedding failure below is
	// fatal and charges nothing.
	var (
		wg       sync.WaitGroup
		lexBonus map[string]float64
	)
	if s.lexical != nil && (len(n.Phrases) > 0 || len(n.Keywords) > 0) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bonuses, err := s.lexical.PersonBonuses(ctx, n.Phrases, n.Keywords, s.cfg.LexicalLimit)
			if err != nil {
				s.logger.Warn("lexical gateway degraded", "error", err)
				return
			}
			lexBonus = bonuses
		}()
	}

	vec, err := s.embedder.EmbedQuery(ctx, queryText)
	if err != nil {
		wg.Wait()
		if errors.Is(err, embedding.ErrUnavailable) {
			return nil, OutcomeEmbeddingUnavailable, err
		}
		return nil, OutcomeError, err
	}

	res, err := s.retriever.Retrieve(ctx, vec, n, retrieval.Options{OpenToWorkOnly: req.OpenToWorkOnly})
	if err != nil {
		wg.Wait()
		return nil, OutcomeError, fmt.Errorf("retrieval failed: %w", err)
	}
	wg.Wait()

	records, profiles, err := s.loadMatches(ctx, res)
	if err != nil {
		return nil, OutcomeError, err
	}

	ranked := s.scorer.Rank(ranking.Input{
		Query:      n,
		Tier:       res.Tier,
		Candidates: ranking.BuildCandidates(res, lexBonus, n, records),
		Records:    records,
		Profiles:   profiles,
	})

	now := time.Now().UTC()
	stored := &StoredSearch{
		ID:           uuid.NewString(),
		SearcherID:   searcherID,
		QueryText:    queryText,
		Constraints:  *n,
		FallbackTier: res.Tier,
		NumCards:     numCards,
		CreatedAt:    now,
	}
	if s.cfg.Expiry > 0 {
		expires := now.Add(s.cfg.Expiry)
		stored.ExpiresAt = &expires
	}

	rows, cards, tasks, err := s.materialize(ctx, stored, ranked, numCards, n, records, profiles)
	if err != nil {
		return nil, OutcomeError, err
	}

	// Only the revealed first page is billed; deeper rows are charged when
	// load-more reveals them.
	debit := int64(len(cards)) * s.cfg.CostPerCard
	if err := s.repo.CreateSearch(ctx, stored, rows, debit); err != nil {
		if errors.Is(err, credit.ErrInsufficientCredits) {
			return nil, OutcomeInsufficientCredits, err
		}
		return nil, OutcomeError, fmt.Errorf("failed to persist search: %w", err)
	}

	// Refinement is strictly best-effort: the deterministic reasons are
	// already committed with the snapshot.
	if s.outbox != nil && len(tasks) > 0 {
		if err := s.outbox.Enqueue(ctx, tasks); err != nil {
			s.logger.Warn("failed to enqueue explanation refinement",
				"search_id", stored.ID, "error", err)
		}
	}

	s.logger.Info("search executed",
		"search_id", stored.ID, "searcher_id", searcherID,
		"tier", res.Tier.String(), "cards", len(cards), "debit", debit)

	outcome := OutcomeSuccess
	if len(cards) == 0 {
		outcome = OutcomeEmpty
	}
	return &Response{
		SearchID:     stored.ID,
		NumCards:     len(cards),
		FallbackTier: int(res.Tier),
		People:       cards,
	}, outcome, nil
}

// normalize parses and rebalances the query text, then applies the explicit
// request overrides on top of whatever the parser produced.
func (s *Service) normalize(ctx context.Context, queryText string, req Request) *query.Normalized {
	payload := query.ParsedPayload{}
	if s.parser != nil {
		parsed, err := s.parser.Parse(ctx, queryText)
		if err != nil {
			s.logger.Warn("constraint parsing degraded to semantic-only", "error", err)
		} else if parsed != nil {
			payload = *parsed
		}
	}

	n := query.Normalize(payload, s.normCfg)

	// Explicit request fields beat parsed ones.
	if req.SalaryMin != nil {
		n.SalaryMin = req.SalaryMin
	}
	if req.SalaryMax != nil {
		n.SalaryMax = req.SalaryMax
	}
	for _, loc := range req.PreferredLocations {
		if loc = strings.TrimSpace(loc); loc != "" {
			n.Should.Locations = append(n.Should.Locations, loc)
		}
	}
	return n
}

// loadMatches batch-loads every matched record plus every matched person's
// profile.
func (s *Service) loadMatches(ctx context.Context, res *retrieval.Result) (map[string]*talent.ExperienceRecord, map[string]*talent.PersonProfile, error) {
	recordIDs := make(map[string]bool)
	for _, p := range res.Parents {
		recordIDs[p.RecordID] = true
	}
	for _, ch := range res.BestChildren {
		recordIDs[ch.RecordID] = true
	}
	for _, matches := range res.Evidence {
		for _, ch := range matches {
			recordIDs[ch.RecordID] = true
		}
	}

	ids := make([]string, 0, len(recordIDs))
	for id := range recordIDs {
		ids = append(ids, id)
	}
	records, err := s.people.RecordsByID(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load matched records: %w", err)
	}
	profiles, err := s.people.ProfilesByID(ctx, res.Persons)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load matched profiles: %w", err)
	}
	return records, profiles, nil
}

// materialize turns the ranked list into the persisted snapshot: one row per
// ranked person, so later load-more pages can reveal people beyond the first
// page without re-running retrieval. Display cards and refinement tasks are
// built for the first numCards rows only, and those rows are marked revealed
// since the initial page bills them up front.
func (s *Service) materialize(
	ctx context.Context,
	stored *StoredSearch,
	ranked []ranking.Ranked,
	numCards int,
	n *query.Normalized,
	records map[string]*talent.ExperienceRecord,
	profiles map[string]*talent.PersonProfile,
) ([]ResultRow, []PersonCard, []explain.Task, error) {
	var (
		rows  []ResultRow
		cards []PersonCard
		tasks []explain.Task
	)

	for _, r := range ranked {
		profile := profiles[r.PersonID]
		if profile == nil {
			// The person vanished between retrieval and hydration.
			s.logger.Warn("dropping ranked person without profile", "person_id", r.PersonID)
			continue
		}

		displayRecs, parentIDs := s.displayRecords(ctx, &r.Candidate, records)
		subRecords, err := s.loadSubRecords(ctx, &r.Candidate)
		if err != nil {
			return nil, nil, nil, err
		}

		ev := explain.PersonEvidence{
			Profile:    profile,
			Records:    displayRecs,
			SubRecords: subRecords,
		}
		reasons := explain.BuildReasons(n, ev)
		simPct := ranking.SimilarityPercent(r.Score)

		evidence := Evidence{
			ParentRecordIDs:   parentIDs,
			Reasons:           reasons,
			SimilarityPercent: simPct,
		}
		for _, ch := range r.ChildEvidence {
			evidence.Children = append(evidence.Children, EvidenceChild{
				SubRecordID: ch.SubRecordID,
				RecordID:    ch.RecordID,
				Type:        ch.Type,
			})
		}

		onFirstPage := len(cards) < numCards
		rows = append(rows, ResultRow{
			SearchID:  stored.ID,
			Rank:      len(rows) + 1,
			PersonID:  r.PersonID,
			Score:     r.Score,
			Evidence:  evidence,
			Revealed:  onFirstPage,
			CreatedAt: stored.CreatedAt,
		})
		if onFirstPage {
			cards = append(cards, buildCard(profile, displayRecs, reasons, simPct))
			tasks = append(tasks, explain.NewTask(stored.ID, r.PersonID,
				explain.BuildPayload(stored.QueryText, n, ev, reasons)))
		}
	}

	return rows, cards, tasks, nil
}

// displayRecords resolves the records shown on a card: matched parents first
// (already similarity-ordered), then owning parents of child-only matches,
// falling back to the person's recent visible records when nothing matched at
// the parent level.
func (s *Service) displayRecords(ctx context.Context, c *ranking.Candidate, records map[string]*talent.ExperienceRecord) ([]*talent.ExperienceRecord, []string) {
	seen := make(map[string]bool)
	var out []*talent.ExperienceRecord
	var ids []string
	add := func(id string) {
		if seen[id] || len(out) >= MaxDisplayRecords {
			return
		}
		seen[id] = true
		if rec := records[id]; rec != nil {
			out = append(out, rec)
			ids = append(ids, id)
		}
	}
	for _, p := range c.Parents {
		add(p.RecordID)
	}
	for _, ch := range c.ChildEvidence {
		add(ch.RecordID)
	}

	if len(out) == 0 {
		recent, err := s.people.RecentVisibleRecords(ctx, c.PersonID, MaxDisplayRecords)
		if err != nil {
			s.logger.Warn("failed to load recent records for card",
				"person_id", c.PersonID, "error", err)
			return nil, nil
		}
		for _, rec := range recent {
			out = append(out, rec)
			ids = append(ids, rec.ID)
		}
	}
	return out, ids
}

func (s *Service) loadSubRecords(ctx context.Context, c *ranking.Candidate) ([]*talent.ExperienceSubRecord, error) {
	if len(c.ChildEvidence) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(c.ChildEvidence))
	for _, ch := range c.ChildEvidence {
		ids = append(ids, ch.SubRecordID)
	}
	byID, err := s.people.SubRecordsByID(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load matched sub-records: %w", err)
	}
	// Preserve match order.
	out := make([]*talent.ExperienceSubRecord, 0, len(ids))
	for _, id := range ids {
		if sr := byID[id]; sr != nil {
			out = append(out, sr)
		}
	}
	return out, nil
}

// buildCard projects one person onto the display card. Compensation only
// surfaces when the person opted in.
func buildCard(profile *talent.PersonProfile, recs []*talent.ExperienceRecord, reasons []string, simPct int) PersonCard {
	card := PersonCard{
		ID:                 profile.ID,
		DisplayName:        profile.DisplayName,
		Headline:           profile.Headline,
		Bio:                profile.Bio,
		SimilarityPercent:  simPct,
		WhyMatched:         reasons,
		OpenToWork:         profile.OpenToWork,
		OpenToContact:      profile.OpenToContact,
		PreferredLocations: profile.PreferredLocations,
	}
	if profile.ShowCompensation {
		card.SalaryMin = profile.SalaryMin
	}
	for _, r := range recs {
		card.MatchedRecords = append(card.MatchedRecords, *r)
	}
	return card
}

// LoadMore serves one page of a persisted snapshot. On a live page, rows
// served for the first time are debited inside the same transaction that marks
// them revealed, so re-reading a page never charges twice and a failed debit
// leaves the rows hidden. History replay is free and ignores expiry. Rows are
// hydrated from the stored evidence only and are never re-scored.
func (s *Service) LoadMore(ctx context.Context, searcherID, searchID string, offset, limit int, history bool) (*Page, error) {
	stored, err := s.repo.GetSearch(ctx, searchID)
	if err != nil {
		return nil, err
	}
	if stored.SearcherID != searcherID {
		return nil, ErrInvalidOrExpiredSearch
	}
	if !history && stored.Expired(time.Now().UTC()) {
		return nil, ErrInvalidOrExpiredSearch
	}

	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = stored.NumCards
	}
	limit = query.ClampCards(limit)

	var rows []ResultRow
	if history {
		rows, err = s.repo.ResultsPage(ctx, searchID, offset, limit)
	} else {
		rows, err = s.repo.RevealPage(ctx, searchID, searcherID, offset, limit, s.cfg.LoadMoreCostPerCard)
	}
	if err != nil {
		return nil, err
	}

	people, err := s.hydrateRows(ctx, rows)
	if err != nil {
		return nil, err
	}
	total, err := s.repo.CountResults(ctx, searchID)
	if err != nil {
		return nil, err
	}

	return &Page{
		SearchID: searchID,
		Offset:   offset,
		People:   people,
		Total:    total,
	}, nil
}

// hydrateRows rebuilds cards from snapshot rows using only stored evidence:
// stored reasons, stored similarity, stored record ids.
func (s *Service) hydrateRows(ctx context.Context, rows []ResultRow) ([]PersonCard, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	var personIDs, recordIDs []string
	seenRecord := make(map[string]bool)
	for i := range rows {
		personIDs = append(personIDs, rows[i].PersonID)
		for _, id := range rows[i].Evidence.ParentRecordIDs {
			if !seenRecord[id] {
				seenRecord[id] = true
				recordIDs = append(recordIDs, id)
			}
		}
	}

	profiles, err := s.people.ProfilesByID(ctx, personIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load profiles for page: %w", err)
	}
	records, err := s.people.RecordsByID(ctx, recordIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load records for page: %w", err)
	}

	var out []PersonCard
	for i := range rows {
		profile := profiles[rows[i].PersonID]
		if profile == nil {
			continue
		}
		var recs []*talent.ExperienceRecord
		for _, id := range rows[i].Evidence.ParentRecordIDs {
			if rec := records[id]; rec != nil && len(recs) < MaxDisplayRecords {
				recs = append(recs, rec)
			}
		}
		out = append(out, buildCard(profile, recs,
			rows[i].Evidence.Reasons, rows[i].Evidence.SimilarityPercent))
	}
	return out, nil
}

// History lists a searcher's past searches, newest first.
func (s *Service) History(ctx context.Context, searcherID string, limit int) ([]StoredSearch, error) {
	return s.repo.History(ctx, searcherID, limit)
}
