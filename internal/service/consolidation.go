package service

import (
	"context"
	"errors"
	"log"
	"math"
	"time"

	"github.com/cloo-solutions/recallai/internal/config"
	"github.com/cloo-solutions/recallai/internal/domain"
)

const consolidationPageSize = 50

// ConsolidationService runs the periodic cluster evolution job: recompute
// centroids, merge close clusters, split overgrown ones. The run is
// checkpointed after every cluster so a crash resumes instead of starting
// over, and cluster assignments are published one unit at a time so readers
// never see a half-applied move.
type ConsolidationService struct {
	repo ClusterRepositoryInterface
	uuid UUIDGenerator
	cfg  config.ClusteringConfig
	now  func() time.Time
}

// NewConsolidationService creates a new ConsolidationService instance.
func NewConsolidationService(repo ClusterRepositoryInterface, uuid UUIDGenerator, cfg config.ClusteringConfig) *ConsolidationService {
	return &ConsolidationService{
		repo: repo,
		uuid: uuid,
		cfg:  cfg,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Run executes one consolidation pass, resuming from a previous checkpoint
// if one exists. Only one run may be active at a time; a second caller gets
// domain.ErrConsolidationRunning.
func (s *ConsolidationService) Run(ctx context.Context) (*domain.ConsolidationResult, error) {
	locked, err := s.repo.TryLock(ctx)
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, domain.ErrConsolidationRunning
	}
	defer func() {
		if err := s.repo.Unlock(ctx); err != nil {
			log.Printf("failed to release consolidation lock: %v", err)
		}
	}()

	cp, err := s.repo.GetCheckpoint(ctx)
	if err != nil && !errors.Is(err, domain.ErrJobNotFound) {
		return nil, err
	}
	if cp == nil {
		cp = &domain.ConsolidationCheckpoint{
			RunID:     s.uuid.NewString(),
			Phase:     domain.PhaseCentroids,
			StartedAt: s.now(),
		}
		if err := s.repo.SaveCheckpoint(ctx, cp); err != nil {
			return nil, err
		}
	} else {
		log.Printf("resuming consolidation run %s at phase %s (cursor %q)", cp.RunID, cp.Phase, cp.Cursor)
	}

	result := &domain.ConsolidationResult{}

	if cp.Phase == domain.PhaseCentroids {
		if err := s.runCentroids(ctx, cp, result); err != nil {
			return nil, err
		}
	}
	if cp.Phase == domain.PhaseMerge {
		if err := s.runMerge(ctx, cp, result); err != nil {
			return nil, err
		}
	}
	if cp.Phase == domain.PhaseSplit {
		if err := s.runSplit(ctx, cp, result); err != nil {
			return nil, err
		}
	}

	if err := s.repo.ClearCheckpoint(ctx); err != nil {
		return nil, err
	}
	log.Printf("consolidation run %s complete: %+v", cp.RunID, *result)
	return result, nil
}

func (s *ConsolidationService) advance(ctx context.Context, cp *domain.ConsolidationCheckpoint, phase domain.ConsolidationPhase) error {
	cp.Phase = phase
	cp.Cursor = ""
	cp.UpdatedAt = s.now()
	return s.repo.SaveCheckpoint(ctx, cp)
}

func (s *ConsolidationService) checkpoint(ctx context.Context, cp *domain.ConsolidationCheckpoint, cursor string) error {
	cp.Cursor = cursor
	cp.UpdatedAt = s.now()
	return s.repo.SaveCheckpoint(ctx, cp)
}

// runCentroids recomputes every centroid from current members and prunes
// clusters that lost all their members. Recomputation is idempotent, so
// reprocessing the cursor cluster after a crash is harmless.
func (s *ConsolidationService) runCentroids(ctx context.Context, cp *domain.ConsolidationCheckpoint, result *domain.ConsolidationResult) error {
	for {
		clusters, err := s.repo.List(ctx, cp.Cursor, consolidationPageSize)
		if err != nil {
			return err
		}
		if len(clusters) == 0 {
			return s.advance(ctx, cp, domain.PhaseMerge)
		}
		for _, c := range clusters {
			count, err := s.repo.RecomputeCentroid(ctx, c.ID)
			if err != nil {
				return err
			}
			if count == 0 {
				if err := s.repo.Delete(ctx, c.ID); err != nil {
					return err
				}
				result.EmptyClustersPruned++
			} else {
				result.CentroidsRecomputed++
			}
			if err := s.checkpoint(ctx, cp, c.ID); err != nil {
				return err
			}
		}
	}
}

// runMerge folds each cluster into its nearest neighbor when the centroids
// sit within the merge distance. The survivor is always the cluster with
// the smaller id, so replaying a merge after a crash finds the source
// already empty and is a no-op.
func (s *ConsolidationService) runMerge(ctx context.Context, cp *domain.ConsolidationCheckpoint, result *domain.ConsolidationResult) error {
	for {
		clusters, err := s.repo.List(ctx, cp.Cursor, consolidationPageSize)
		if err != nil {
			return err
		}
		if len(clusters) == 0 {
			return s.advance(ctx, cp, domain.PhaseSplit)
		}
		for _, c := range clusters {
			nearest, distance, err := s.repo.Nearest(ctx, c.Centroid, c.ID)
			if err != nil {
				if errors.Is(err, domain.ErrClusterNotFound) {
					if err := s.checkpoint(ctx, cp, c.ID); err != nil {
						return err
					}
					continue
				}
				return err
			}
			if distance <= s.cfg.MergeDistance && nearest.ID < c.ID {
				moved, err := s.repo.ReassignUnits(ctx, c.ID, nearest.ID)
				if err != nil {
					return err
				}
				if err := s.repo.Delete(ctx, c.ID); err != nil {
					return err
				}
				if _, err := s.repo.RecomputeCentroid(ctx, nearest.ID); err != nil {
					return err
				}
				result.ClustersMerged++
				result.UnitsReassigned += int(moved)
			}
			if err := s.checkpoint(ctx, cp, c.ID); err != nil {
				return err
			}
		}
	}
}

// runSplit divides overgrown clusters in two around their most separated
// members.
func (s *ConsolidationService) runSplit(ctx context.Context, cp *domain.ConsolidationCheckpoint, result *domain.ConsolidationResult) error {
	for {
		clusters, err := s.repo.List(ctx, cp.Cursor, consolidationPageSize)
		if err != nil {
			return err
		}
		if len(clusters) == 0 {
			return s.advance(ctx, cp, domain.PhaseDone)
		}
		for _, c := range clusters {
			if int(c.MemberCount) > s.cfg.SplitSize {
				split, moved, err := s.splitCluster(ctx, c)
				if err != nil {
					return err
				}
				if split {
					result.ClustersSplit++
					result.UnitsReassigned += moved
				}
			}
			if err := s.checkpoint(ctx, cp, c.ID); err != nil {
				return err
			}
		}
	}
}

// splitCluster runs a small two-means pass over member embeddings, seeds at
// the two most separated members, and moves the second partition into a
// fresh cluster one unit at a time.
func (s *ConsolidationService) splitCluster(ctx context.Context, c *domain.Cluster) (bool, int, error) {
	limit := s.cfg.BatchSize
	if limit <= 0 {
		limit = 500
	}
	members, err := s.repo.MemberEmbeddings(ctx, c.ID, limit)
	if err != nil {
		return false, 0, err
	}
	if len(members) < 4 {
		return false, 0, nil
	}

	seedA, seedB := farthestPair(members)
	partA, partB := twoMeans(members, members[seedA].Embedding, members[seedB].Embedding)
	if len(partA) == 0 || len(partB) == 0 {
		return false, 0, nil
	}
	// Keep the larger partition in place and move the smaller one.
	moving := partB
	if len(partA) < len(partB) {
		moving = partA
	}

	now := s.now()
	fresh := &domain.Cluster{
		ID:          s.uuid.NewString(),
		Centroid:    centroidOf(members, moving),
		MemberCount: int32(len(moving)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, fresh); err != nil {
		return false, 0, err
	}
	for _, idx := range moving {
		if err := s.repo.SetUnitCluster(ctx, members[idx].UnitID, fresh.ID); err != nil {
			return false, 0, err
		}
	}
	if _, err := s.repo.RecomputeCentroid(ctx, c.ID); err != nil {
		return false, 0, err
	}
	if _, err := s.repo.RecomputeCentroid(ctx, fresh.ID); err != nil {
		return false, 0, err
	}
	return true, len(moving), nil
}

// farthestPair returns the indices of the two most separated members.
func farthestPair(members []MemberEmbedding) (int, int) {
	bestA, bestB := 0, 1
	bestDist := float32(-1)
	for i := 0; i < len(members); i++ {
		for j := i + 1; j < len(members); j++ {
			d := cosineDistance(members[i].Embedding, members[j].Embedding)
			if d > bestDist {
				bestDist = d
				bestA, bestB = i, j
			}
		}
	}
	return bestA, bestB
}

// twoMeans assigns each member to the nearer of two seed centroids, with a
// few refinement rounds.
func twoMeans(members []MemberEmbedding, seedA, seedB []float32) ([]int, []int) {
	centroidA, centroidB := seedA, seedB
	var partA, partB []int
	for round := 0; round < 3; round++ {
		partA, partB = partA[:0], partB[:0]
		for i, m := range members {
			if cosineDistance(m.Embedding, centroidA) <= cosineDistance(m.Embedding, centroidB) {
				partA = append(partA, i)
			} else {
				partB = append(partB, i)
			}
		}
		if len(partA) == 0 || len(partB) == 0 {
			break
		}
		centroidA = centroidOf(members, partA)
		centroidB = centroidOf(members, partB)
	}
	return partA, partB
}

func centroidOf(members []MemberEmbedding, indices []int) []float32 {
	if len(indices) == 0 {
		return nil
	}
	dim := len(members[indices[0]].Embedding)
	sum := make([]float64, dim)
	for _, idx := range indices {
		for d, v := range members[idx].Embedding {
			sum[d] += float64(v)
		}
	}
	out := make([]float32, dim)
	for d := range sum {
		out[d] = float32(sum[d] / float64(len(indices)))
	}
	return out
}

// cosineDistance is 1 minus the cosine similarity of a and b.
func cosineDistance(a, b []float32) float32 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 2
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 2
	}
	return float32(1 - dot/(math.Sqrt(normA)*math.Sqrt(normB)))
}
