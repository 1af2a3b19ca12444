package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cloo-solutions/recallai/internal/config"
	"github.com/cloo-solutions/recallai/internal/domain"
)

// SourceConversation marks units ingested from live chat exchanges.
const SourceConversation = "conversation"

// LifecycleService handles write-side growth of the corpus: deduplicated
// ingestion of conversation exchanges and nearest-centroid cluster
// assignment. Consolidation lives in ConsolidationService.
type LifecycleService struct {
	units    UnitRepositoryInterface
	clusters ClusterRepositoryInterface
	enricher *EnrichmentService
	uuid     UUIDGenerator
	cfg      config.ClusteringConfig
	now      func() time.Time
}

// NewLifecycleService creates a new LifecycleService instance.
func NewLifecycleService(
	units UnitRepositoryInterface,
	clusters ClusterRepositoryInterface,
	enricher *EnrichmentService,
	uuid UUIDGenerator,
	cfg config.ClusteringConfig,
) *LifecycleService {
	return &LifecycleService{
		units:    units,
		clusters: clusters,
		enricher: enricher,
		uuid:     uuid,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// IngestExchange stores a conversation exchange as a content unit. The call
// is idempotent under dedup: inserting the same normalized content twice
// returns the existing unit's id and bumps its access counter instead of
// creating a duplicate.
func (s *LifecycleService) IngestExchange(ctx context.Context, content string, scope []string) (string, error) {
	if content == "" {
		return "", domain.NewDomainError(domain.ErrCodeValidation, "exchange content is required")
	}

	hash := ContentHash(content)
	existing, err := s.units.FindActiveByHash(ctx, hash)
	if err == nil {
		// Expected path, not a conflict: the exchange is already memorized.
		if err := s.units.TouchAccess(ctx, existing.ID); err != nil {
			return "", err
		}
		return existing.ID, nil
	}
	if !errors.Is(err, domain.ErrUnitNotFound) {
		return "", err
	}

	now := s.now()
	unit := &domain.ContentUnit{
		ID:          s.uuid.NewString(),
		Source:      SourceConversation,
		Content:     content,
		AccessScope: scope,
		IsActive:    true,
		ContentHash: hash,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	outcome := s.enricher.Enrich(ctx, unit)
	if outcome.NeedsReview() {
		unit.NeedsReview = true
		unit.ReviewReason = outcome.ReviewReason()
	}

	if err := s.assignCluster(ctx, unit); err != nil {
		return "", err
	}

	if err := domain.ValidateContentUnit(unit); err != nil {
		return "", domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid exchange unit", err)
	}

	if err := s.units.Create(ctx, unit); err != nil {
		return "", err
	}
	return unit.ID, nil
}

// assignCluster attaches the unit to the nearest existing cluster centroid
// when it is within the configured distance, or creates a new cluster. A
// unit without an embedding stays unassigned, eligible for later backfill;
// that is recorded state, not an error.
func (s *LifecycleService) assignCluster(ctx context.Context, unit *domain.ContentUnit) error {
	if len(unit.ContentEmbedding) == 0 {
		log.Printf("unit %s has no embedding, leaving cluster unassigned", unit.ID)
		unit.ClusterID = nil
		return nil
	}

	nearest, distance, err := s.clusters.Nearest(ctx, unit.ContentEmbedding, "")
	if err != nil && !errors.Is(err, domain.ErrClusterNotFound) {
		return err
	}
	if err == nil && distance <= s.cfg.AssignDistance {
		unit.ClusterID = &nearest.ID
		return nil
	}

	now := s.now()
	cluster := &domain.Cluster{
		ID:          s.uuid.NewString(),
		Centroid:    unit.ContentEmbedding,
		MemberCount: 1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.clusters.Create(ctx, cluster); err != nil {
		return fmt.Errorf("failed to create cluster: %w", err)
	}
	unit.ClusterID = &cluster.ID
	return nil
}

// EnrichAndCluster runs enrichment on a stored unit and assigns it a
// cluster once an embedding exists. Called by the background worker for
// units queued at bulk ingest.
func (s *LifecycleService) EnrichAndCluster(ctx context.Context, unitID string) error {
	if err := s.enricher.EnrichStoredUnit(ctx, unitID); err != nil {
		return err
	}

	unit, err := s.units.GetByID(ctx, unitID)
	if err != nil {
		return err
	}
	if unit.ClusterID != nil || len(unit.ContentEmbedding) == 0 {
		return nil
	}
	if err := s.assignCluster(ctx, unit); err != nil {
		return err
	}
	return s.units.SetCluster(ctx, unit.ID, unit.ClusterID)
}

// BackfillClusters assigns a cluster to active units that have an embedding
// but no cluster yet (for example after an embedding backfill).
func (s *LifecycleService) BackfillClusters(ctx context.Context, unitIDs []string) (int, error) {
	assigned := 0
	for _, id := range unitIDs {
		unit, err := s.units.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrUnitNotFound) {
				continue
			}
			return assigned, err
		}
		if unit.ClusterID != nil || len(unit.ContentEmbedding) == 0 || !unit.IsActive {
			continue
		}
		if err := s.assignCluster(ctx, unit); err != nil {
			return assigned, err
		}
		if err := s.units.SetCluster(ctx, unit.ID, unit.ClusterID); err != nil {
			return assigned, err
		}
		assigned++
	}
	return assigned, nil
}

// Deactivate soft-deletes a unit. Surviving referrers keep their links;
// dangling references are pruned lazily by the relationship builder.
func (s *LifecycleService) Deactivate(ctx context.Context, unitID string) error {
	return s.units.Deactivate(ctx, unitID)
}
