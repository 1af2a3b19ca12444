package service

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/cloo-solutions/recallai/internal/config"
	"github.com/cloo-solutions/recallai/internal/domain"
)

const (
	relationshipBatchSize = 200
	seeAlsoNeighborLimit  = 20
	// contradictionScoreGap is the completeness divergence, as a fraction
	// of the score range, beyond which two policy units are suspect.
	contradictionScoreGap = 0.5
)

// RelationshipBuilder computes the four link types between content units.
// Incremental runs rebuild every group a changed unit belongs to, so running
// them repeatedly converges to the same link sets as a full rebuild.
type RelationshipBuilder struct {
	repo RelationshipRepositoryInterface
	cfg  config.RetrievalConfig
	now  func() time.Time
}

// NewRelationshipBuilder creates a new RelationshipBuilder instance.
func NewRelationshipBuilder(repo RelationshipRepositoryInterface, cfg config.RetrievalConfig) *RelationshipBuilder {
	return &RelationshipBuilder{
		repo: repo,
		cfg:  cfg,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// BuildIncremental links every unit whose content changed since its links
// were last built. Groups (same source, same process) are rebuilt whole.
func (b *RelationshipBuilder) BuildIncremental(ctx context.Context) (int, error) {
	total := 0
	for {
		changed, err := b.repo.ListChanged(ctx, relationshipBatchSize)
		if err != nil {
			return total, err
		}
		if len(changed) == 0 {
			return total, nil
		}
		if err := b.buildForUnits(ctx, changed); err != nil {
			return total, err
		}
		total += len(changed)
		if len(changed) < relationshipBatchSize {
			return total, nil
		}
	}
}

// BuildFull rebuilds links for the entire active corpus.
func (b *RelationshipBuilder) BuildFull(ctx context.Context) (int, error) {
	total := 0
	afterID := ""
	for {
		units, err := b.repo.ListActive(ctx, afterID, relationshipBatchSize)
		if err != nil {
			return total, err
		}
		if len(units) == 0 {
			return total, nil
		}
		if err := b.buildForUnits(ctx, units); err != nil {
			return total, err
		}
		total += len(units)
		afterID = units[len(units)-1].ID
	}
}

func (b *RelationshipBuilder) buildForUnits(ctx context.Context, changed []*domain.ContentUnit) error {
	changedIDs := make(map[string]bool, len(changed))
	for _, u := range changed {
		changedIDs[u.ID] = true
	}

	// Load every group a changed unit belongs to; follows and prerequisite
	// links only make sense recomputed per group.
	members := make(map[string]*domain.ContentUnit)
	sources := make(map[string]bool)
	processes := make(map[string]bool)
	for _, u := range changed {
		members[u.ID] = u
		if u.Source != "" {
			sources[u.Source] = true
		}
		if u.ProcessName != "" {
			processes[u.ProcessName] = true
		}
	}
	for source := range sources {
		group, err := b.repo.ListBySource(ctx, source)
		if err != nil {
			return err
		}
		for _, u := range group {
			members[u.ID] = u
		}
	}
	for process := range processes {
		group, err := b.repo.ListByProcess(ctx, process)
		if err != nil {
			return err
		}
		for _, u := range group {
			members[u.ID] = u
			if u.Source != "" && !sources[u.Source] {
				// the process pulled in a unit from an unseen source; its
				// follows links are recomputed too
				sources[u.Source] = true
				srcGroup, err := b.repo.ListBySource(ctx, u.Source)
				if err != nil {
					return err
				}
				for _, su := range srcGroup {
					members[su.ID] = su
				}
			}
		}
	}

	links := make(map[string]*domain.LinkSets, len(members))
	for id, u := range members {
		existing := u.Links()
		links[id] = &existing
	}

	b.computeFollows(members, links)
	b.computePrerequisites(members, links)

	for id, u := range members {
		if !changedIDs[id] {
			continue
		}
		if err := b.computeSeeAlso(ctx, u, links[id]); err != nil {
			return err
		}
		if err := b.computeContradictions(ctx, u, links[id]); err != nil {
			return err
		}
	}

	b.breakCycles(ctx, members, links)

	if err := b.pruneDangling(ctx, links); err != nil {
		return err
	}

	builtAt := b.now()
	ids := make([]string, 0, len(links))
	for id := range links {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := b.repo.UpdateLinks(ctx, id, *links[id], builtAt); err != nil {
			return err
		}
	}
	return nil
}

// computeFollows links each unit to its immediate predecessor within the
// same source, by section order.
func (b *RelationshipBuilder) computeFollows(members map[string]*domain.ContentUnit, links map[string]*domain.LinkSets) {
	bySource := make(map[string][]*domain.ContentUnit)
	for _, u := range members {
		if u.Source != "" {
			bySource[u.Source] = append(bySource[u.Source], u)
		}
	}
	for _, group := range bySource {
		sort.Slice(group, func(i, j int) bool {
			if group[i].SectionOrder != group[j].SectionOrder {
				return group[i].SectionOrder < group[j].SectionOrder
			}
			return group[i].ID < group[j].ID
		})
		for i, u := range group {
			if i == 0 {
				links[u.ID].FollowsIDs = nil
				continue
			}
			links[u.ID].FollowsIDs = []string{group[i-1].ID}
		}
	}
}

// computePrerequisites links units sharing a process name: step N requires
// the union of all earlier steps in the same process.
func (b *RelationshipBuilder) computePrerequisites(members map[string]*domain.ContentUnit, links map[string]*domain.LinkSets) {
	byProcess := make(map[string][]*domain.ContentUnit)
	for _, u := range members {
		if u.ProcessName != "" && u.ProcessStep != nil {
			byProcess[u.ProcessName] = append(byProcess[u.ProcessName], u)
		}
	}
	for _, group := range byProcess {
		sort.Slice(group, func(i, j int) bool {
			if *group[i].ProcessStep != *group[j].ProcessStep {
				return *group[i].ProcessStep < *group[j].ProcessStep
			}
			return group[i].ID < group[j].ID
		})
		for i, u := range group {
			var prereqs []string
			for j := 0; j < i; j++ {
				if *group[j].ProcessStep < *u.ProcessStep {
					prereqs = append(prereqs, group[j].ID)
				}
			}
			links[u.ID].PrerequisiteIDs = prereqs
		}
	}
}

// computeSeeAlso links the unit to content-embedding neighbors above the
// related threshold, skipping pairs already linked by follows/prerequisite.
func (b *RelationshipBuilder) computeSeeAlso(ctx context.Context, u *domain.ContentUnit, ls *domain.LinkSets) error {
	if len(u.ContentEmbedding) == 0 {
		ls.SeeAlsoIDs = nil
		return nil
	}

	maxDistance := 1 - b.cfg.RelatedThreshold
	neighbors, err := b.repo.NearestByContent(ctx, u.ID, u.ContentEmbedding, maxDistance, seeAlsoNeighborLimit)
	if err != nil {
		return err
	}

	structural := make(map[string]bool)
	for _, id := range ls.FollowsIDs {
		structural[id] = true
	}
	for _, id := range ls.PrerequisiteIDs {
		structural[id] = true
	}

	var seeAlso []string
	for _, n := range neighbors {
		if n.Unit.ID == u.ID || structural[n.Unit.ID] {
			continue
		}
		seeAlso = append(seeAlso, n.Unit.ID)
	}
	sort.Strings(seeAlso)
	ls.SeeAlsoIDs = seeAlso
	return nil
}

// computeContradictions flags unit pairs that talk about the same entities
// under the same conditions but diverge materially. Contradictions are for
// human review only; nothing is auto-resolved.
func (b *RelationshipBuilder) computeContradictions(ctx context.Context, u *domain.ContentUnit, ls *domain.LinkSets) error {
	if len(u.Entities) == 0 || len(u.Conditions) == 0 {
		ls.ContradictionIDs = nil
		return nil
	}

	candidates, err := b.repo.ContradictionCandidates(ctx, u)
	if err != nil {
		return err
	}

	var contradictions []string
	for _, other := range candidates {
		if other.ID == u.ID {
			continue
		}
		if contradicts(u, other) {
			contradictions = append(contradictions, other.ID)
		}
	}
	sort.Strings(contradictions)
	ls.ContradictionIDs = contradictions

	if len(contradictions) > 0 {
		reason := fmt.Sprintf("possible policy contradiction with %d unit(s)", len(contradictions))
		if err := b.repo.FlagReview(ctx, u.ID, reason); err != nil {
			return err
		}
	}
	return nil
}

// contradicts applies the policy-contradiction heuristic to a candidate
// pair that already shares entities and conditions.
func contradicts(a, c *domain.ContentUnit) bool {
	if len(a.QueryTypes) > 0 && len(c.QueryTypes) > 0 && !setsOverlap(a.QueryTypes, c.QueryTypes) {
		return true
	}
	if a.IsPolicy && c.IsPolicy &&
		a.Scores.Completeness != nil && c.Scores.Completeness != nil {
		diff := *a.Scores.Completeness - *c.Scores.Completeness
		if diff < 0 {
			diff = -diff
		}
		if diff >= contradictionScoreGap {
			return true
		}
	}
	return false
}

// breakCycles runs a depth-first probe over the prerequisite graph and
// drops any back-edge it finds. The broken unit is flagged for review; a
// cycle never survives to query time.
func (b *RelationshipBuilder) breakCycles(ctx context.Context, members map[string]*domain.ContentUnit, links map[string]*domain.LinkSets) {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int, len(links))

	ids := make([]string, 0, len(links))
	for id := range links {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var visit func(id string)
	visit = func(id string) {
		state[id] = inStack
		ls := links[id]
		kept := ls.PrerequisiteIDs[:0:0]
		for _, dep := range ls.PrerequisiteIDs {
			if _, local := links[dep]; !local {
				kept = append(kept, dep)
				continue
			}
			switch state[dep] {
			case inStack:
				log.Printf("prerequisite cycle: dropping edge %s -> %s", id, dep)
				if err := b.repo.FlagReview(ctx, id, "prerequisite cycle broken: dropped edge to "+dep); err != nil {
					log.Printf("failed to flag %s for review: %v", id, err)
				}
			case unvisited:
				visit(dep)
				kept = append(kept, dep)
			default:
				kept = append(kept, dep)
			}
		}
		ls.PrerequisiteIDs = kept
		state[id] = done
	}

	for _, id := range ids {
		if state[id] == unvisited {
			visit(id)
		}
	}
}

// pruneDangling drops link targets that no longer exist and flags the
// referring unit instead of persisting a dangling reference.
func (b *RelationshipBuilder) pruneDangling(ctx context.Context, links map[string]*domain.LinkSets) error {
	idSet := make(map[string]bool)
	for _, ls := range links {
		for _, group := range [][]string{ls.PrerequisiteIDs, ls.SeeAlsoIDs, ls.FollowsIDs, ls.ContradictionIDs} {
			for _, id := range group {
				idSet[id] = true
			}
		}
	}
	if len(idSet) == 0 {
		return nil
	}

	ids := make([]string, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	existing, err := b.repo.ExistingIDs(ctx, ids)
	if err != nil {
		return err
	}

	for unitID, ls := range links {
		dropped := 0
		ls.PrerequisiteIDs, dropped = keepExisting(ls.PrerequisiteIDs, existing, dropped)
		ls.SeeAlsoIDs, dropped = keepExisting(ls.SeeAlsoIDs, existing, dropped)
		ls.FollowsIDs, dropped = keepExisting(ls.FollowsIDs, existing, dropped)
		ls.ContradictionIDs, dropped = keepExisting(ls.ContradictionIDs, existing, dropped)
		if dropped > 0 {
			reason := fmt.Sprintf("dropped %d dangling relationship reference(s)", dropped)
			if err := b.repo.FlagReview(ctx, unitID, reason); err != nil {
				return err
			}
		}
	}
	return nil
}

func keepExisting(ids []string, existing map[string]bool, dropped int) ([]string, int) {
	kept := ids[:0:0]
	for _, id := range ids {
		if existing[id] {
			kept = append(kept, id)
		} else {
			dropped++
		}
	}
	return kept, dropped
}
