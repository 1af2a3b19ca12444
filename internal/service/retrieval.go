package service

import (
	"context"
	"log"
	"sort"

	"github.com/cloo-solutions/recallai/internal/config"
	"github.com/cloo-solutions/recallai/internal/domain"
)

// ReasonScopeViolation marks an empty result caused by an unknown or
// unmatched access scope, as opposed to "no relevant content".
const ReasonScopeViolation = "scope_violation"

// RetrieveInput represents one retrieval query.
type RetrieveInput struct {
	// Embedding is the content-style query embedding.
	Embedding []float32
	// Query optionally carries the literal query text; when present the
	// engine runs in hybrid mode and blends full-text rank into the score.
	Query string
	// Hints are optional tag filters; their absence is the slow path.
	Hints QueryHints
	// Scope is the caller's department scope.
	Scope string
	// Threshold overrides the configured similarity cutoff when non-nil.
	Threshold *float32
	// DisplayLimit is a soft cap for presentation. It never drops
	// threshold-qualifying results; callers truncate for display.
	DisplayLimit int
	// ExpandRelationships pulls prerequisite and see-also neighbors of
	// every selected unit into the result.
	ExpandRelationships bool
}

// RetrievedUnit is one ordered retrieval result.
type RetrievedUnit struct {
	Unit *domain.ContentUnit
	// Similarity is the combined dual-signal score before boosts.
	Similarity float32
	// BoostedScore is the final score the threshold was applied to.
	BoostedScore float32
	Relation     domain.RelationTag
}

// RetrieveOutput is the ordered, complete relevant set for a query.
type RetrieveOutput struct {
	Results []*RetrievedUnit
	// Reason distinguishes kinds of empty results; empty means a normal
	// query with no content above the threshold.
	Reason string
	// SlowPath is set when no hints were supplied and the pre-filter
	// degenerated to scope+active only.
	SlowPath bool
}

// RetrievalService answers queries over the content store. It is read-only:
// no query path mutates any unit.
type RetrievalService struct {
	repo SearchRepositoryInterface
	cfg  config.RetrievalConfig
}

// NewRetrievalService creates a new RetrievalService instance.
func NewRetrievalService(repo SearchRepositoryInterface, cfg config.RetrievalConfig) *RetrievalService {
	return &RetrievalService{repo: repo, cfg: cfg}
}

// Retrieve runs the full pipeline: pre-filter, dual-signal score, boost,
// threshold select, optional relationship expansion, deterministic order.
// An empty result is a valid outcome, never an error.
func (s *RetrievalService) Retrieve(ctx context.Context, input RetrieveInput) (*RetrieveOutput, error) {
	out := &RetrieveOutput{Results: []*RetrievedUnit{}}

	if input.Scope == "" {
		out.Reason = ReasonScopeViolation
		return out, nil
	}

	ok, err := s.repo.ScopeExists(ctx, input.Scope)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Fail secure: an unknown scope yields nothing, and the reason is
		// the only thing that distinguishes it from an empty corpus match.
		out.Reason = ReasonScopeViolation
		return out, nil
	}

	if input.Hints.Empty() {
		out.SlowPath = true
		log.Printf("retrieval slow path: no hints supplied for scope %s", input.Scope)
	}

	limit := s.cfg.CandidateLimit
	if limit <= 0 {
		limit = 200
	}

	candidates, err := s.repo.SearchCandidates(ctx, input.Embedding, input.Scope, input.Hints, limit)
	if err != nil {
		return nil, err
	}

	if input.Query != "" {
		candidates, err = s.blendLexical(ctx, input, candidates, limit)
		if err != nil {
			return nil, err
		}
	}

	threshold := s.cfg.DefaultThreshold
	if input.Threshold != nil {
		threshold = *input.Threshold
	}

	selected := make([]*RetrievedUnit, 0, len(candidates))
	scored := make(map[string]*RetrievedUnit, len(candidates))
	for _, c := range candidates {
		r := s.score(c, input)
		scored[c.Unit.ID] = r
		if r.BoostedScore >= threshold {
			r.Relation = domain.RelationPrimary
			selected = append(selected, r)
		}
	}

	if input.ExpandRelationships && len(selected) > 0 {
		expanded, err := s.expand(ctx, input.Scope, selected, scored)
		if err != nil {
			return nil, err
		}
		selected = append(selected, expanded...)
	}

	orderResults(selected)
	out.Results = selected
	return out, nil
}

// score combines the two similarity signals and the hint-overlap bonus,
// then applies the configured intent boosts. A missing embedding has
// already zeroed its term, so the score is always defined.
func (s *RetrievalService) score(c *Candidate, input RetrieveInput) *RetrievedUnit {
	similarity := s.cfg.ContentWeight*c.ContentSimilarity +
		s.cfg.QuestionsWeight*c.QuestionsSimilarity +
		s.cfg.TagBonusWeight*tagMatchBonus(c.Unit, input.Hints)

	boosted := similarity
	if c.Unit.IsProcedure && containsString(input.Hints.QueryTypes, string(domain.QueryTypeHowTo)) {
		boosted += s.cfg.ProcedureBoost
	}
	if c.Unit.IsPolicy && containsString(input.Hints.QueryTypes, string(domain.QueryTypePolicy)) {
		boosted += s.cfg.PolicyBoost
	}

	return &RetrievedUnit{
		Unit:         c.Unit,
		Similarity:   similarity,
		BoostedScore: boosted,
	}
}

// tagMatchBonus is the fraction of supplied hint sets that overlap the
// unit's corresponding tag sets; 0 when no hints were supplied.
func tagMatchBonus(u *domain.ContentUnit, hints QueryHints) float32 {
	pairs := hints.supplied()
	if len(pairs) == 0 {
		return 0
	}
	matched := 0
	for _, p := range pairs {
		if setsOverlap(p.hints, p.tags(u)) {
			matched++
		}
	}
	return float32(matched) / float32(len(pairs))
}

// expand pulls prerequisite and see-also neighbors of the selected units,
// even when they fall below the threshold. A unit already selected as
// primary keeps its primary tag; prerequisite wins over see-also when a
// neighbor qualifies as both. Dangling links are skipped silently — they
// are pruned lazily by the relationship builder.
func (s *RetrievalService) expand(ctx context.Context, scope string, selected []*RetrievedUnit, scored map[string]*RetrievedUnit) ([]*RetrievedUnit, error) {
	relations := make(map[string]domain.RelationTag)
	for _, r := range selected {
		for _, id := range r.Unit.PrerequisiteIDs {
			relations[id] = domain.RelationPrerequisite
		}
		for _, id := range r.Unit.SeeAlsoIDs {
			if _, taken := relations[id]; !taken {
				relations[id] = domain.RelationSeeAlso
			}
		}
	}
	for _, r := range selected {
		delete(relations, r.Unit.ID) // primary wins
	}
	if len(relations) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(relations))
	for id := range relations {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	units, err := s.repo.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	var expanded []*RetrievedUnit
	for _, u := range units {
		if !u.IsPublished() || !u.InScope(scope) {
			continue
		}
		r := &RetrievedUnit{Unit: u, Relation: relations[u.ID]}
		if prior, ok := scored[u.ID]; ok {
			r.Similarity = prior.Similarity
			r.BoostedScore = prior.BoostedScore
		}
		expanded = append(expanded, r)
	}
	return expanded, nil
}

// BrowseCluster returns all active in-scope members of a cluster ordered by
// importance then centroid similarity. No threshold applies.
func (s *RetrievalService) BrowseCluster(ctx context.Context, clusterID, scope string) ([]*RetrievedUnit, error) {
	if clusterID == "" || scope == "" {
		return []*RetrievedUnit{}, nil
	}

	members, err := s.repo.ListByCluster(ctx, clusterID, scope)
	if err != nil {
		return nil, err
	}

	results := make([]*RetrievedUnit, 0, len(members))
	for _, m := range members {
		results = append(results, &RetrievedUnit{
			Unit:         m.Unit,
			Similarity:   m.ContentSimilarity,
			BoostedScore: m.ContentSimilarity,
			Relation:     domain.RelationPrimary,
		})
	}
	orderResults(results)
	return results, nil
}

// FilterOnly is the pure set-filter query path: no vector math at all.
func (s *RetrievalService) FilterOnly(ctx context.Context, scope string, hints QueryHints, limit int) ([]*domain.ContentUnit, error) {
	if scope == "" {
		return []*domain.ContentUnit{}, nil
	}
	return s.repo.FilterUnits(ctx, scope, hints, limit)
}

// orderResults sorts primaries before expansion results, then by importance
// descending, boosted score descending, process step ascending with nulls
// last, and finally unit id so output is deterministic.
func orderResults(results []*RetrievedUnit) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]

		aPrimary := a.Relation == domain.RelationPrimary
		bPrimary := b.Relation == domain.RelationPrimary
		if aPrimary != bPrimary {
			return aPrimary
		}

		ai := a.Unit.Scores.ImportanceOrZero()
		bi := b.Unit.Scores.ImportanceOrZero()
		if ai != bi {
			return ai > bi
		}

		if a.BoostedScore != b.BoostedScore {
			return a.BoostedScore > b.BoostedScore
		}

		as, bs := a.Unit.ProcessStep, b.Unit.ProcessStep
		switch {
		case as != nil && bs == nil:
			return true
		case as == nil && bs != nil:
			return false
		case as != nil && bs != nil && *as != *bs:
			return *as < *bs
		}

		return a.Unit.ID < b.Unit.ID
	})
}

func setsOverlap(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
