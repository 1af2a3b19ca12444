package service

import (
	"context"
	"time"

	"github.com/cloo-solutions/recallai/internal/domain"
	"github.com/google/uuid"
)

// QueryHints carries the optional tag filters a caller may supply with a
// query. Matching is set-overlap against the unit's corresponding tag sets.
type QueryHints struct {
	QueryTypes []string
	Entities   []string
	Verbs      []string
	Actors     []string
	Conditions []string
}

// Empty reports whether no hint set was supplied.
func (h QueryHints) Empty() bool {
	return len(h.QueryTypes) == 0 && len(h.Entities) == 0 && len(h.Verbs) == 0 &&
		len(h.Actors) == 0 && len(h.Conditions) == 0
}

// supplied returns the hint sets the caller actually provided, paired with
// accessors for the matching unit tag sets.
func (h QueryHints) supplied() []hintPair {
	var pairs []hintPair
	if len(h.QueryTypes) > 0 {
		pairs = append(pairs, hintPair{h.QueryTypes, func(u *domain.ContentUnit) []string { return u.QueryTypes }})
	}
	if len(h.Entities) > 0 {
		pairs = append(pairs, hintPair{h.Entities, func(u *domain.ContentUnit) []string { return u.Entities }})
	}
	if len(h.Verbs) > 0 {
		pairs = append(pairs, hintPair{h.Verbs, func(u *domain.ContentUnit) []string { return u.Verbs }})
	}
	if len(h.Actors) > 0 {
		pairs = append(pairs, hintPair{h.Actors, func(u *domain.ContentUnit) []string { return u.Actors }})
	}
	if len(h.Conditions) > 0 {
		pairs = append(pairs, hintPair{h.Conditions, func(u *domain.ContentUnit) []string { return u.Conditions }})
	}
	return pairs
}

type hintPair struct {
	hints []string
	tags  func(u *domain.ContentUnit) []string
}

// Candidate is a pre-filtered unit with its SQL-side similarity signals.
// A missing embedding leaves the corresponding similarity at zero.
type Candidate struct {
	Unit                  *domain.ContentUnit
	ContentSimilarity     float32
	QuestionsSimilarity   float32
	HasQuestionsEmbedding bool
	TextRank              float32
}

// UnitRepositoryInterface defines persistence operations for content units.
type UnitRepositoryInterface interface {
	Create(ctx context.Context, u *domain.ContentUnit) error
	Update(ctx context.Context, u *domain.ContentUnit) error
	GetByID(ctx context.Context, id string) (*domain.ContentUnit, error)
	GetByIDs(ctx context.Context, ids []string) ([]*domain.ContentUnit, error)
	// FindActiveByHash returns the active unit with the given normalized
	// content hash, or domain.ErrUnitNotFound.
	FindActiveByHash(ctx context.Context, hash string) (*domain.ContentUnit, error)
	// TouchAccess increments access_count and stamps last_accessed.
	TouchAccess(ctx context.Context, id string) error
	// Deactivate soft-deletes a unit. Units are never hard-deleted.
	Deactivate(ctx context.Context, id string) error
	// SetCluster updates a single unit's cluster assignment.
	SetCluster(ctx context.Context, id string, clusterID *string) error
	// FlagReview marks a unit for human review with a reason.
	FlagReview(ctx context.Context, id, reason string) error
}

// SearchRepositoryInterface defines the read-side query operations.
type SearchRepositoryInterface interface {
	// SearchCandidates pre-filters by scope, activity and hints, then
	// scores the survivors against the query embedding on both signals.
	// Units without a content embedding are excluded.
	SearchCandidates(ctx context.Context, embedding []float32, scope string, hints QueryHints, limit int) ([]*Candidate, error)
	// SearchCandidatesLexical ranks pre-filtered units by full-text
	// relevance against a literal query string.
	SearchCandidatesLexical(ctx context.Context, query, scope string, hints QueryHints, limit int) ([]*Candidate, error)
	// FilterUnits is the vector-free filter-only query path.
	FilterUnits(ctx context.Context, scope string, hints QueryHints, limit int) ([]*domain.ContentUnit, error)
	// ListByCluster returns active in-scope members of a cluster with
	// their similarity to the cluster centroid.
	ListByCluster(ctx context.Context, clusterID, scope string) ([]*Candidate, error)
	// ScopeExists reports whether any active published unit carries the scope.
	ScopeExists(ctx context.Context, scope string) (bool, error)
	GetByIDs(ctx context.Context, ids []string) ([]*domain.ContentUnit, error)
}

// RelationshipRepositoryInterface defines persistence for the link builder.
type RelationshipRepositoryInterface interface {
	ListBySource(ctx context.Context, source string) ([]*domain.ContentUnit, error)
	ListByProcess(ctx context.Context, processName string) ([]*domain.ContentUnit, error)
	// ListChanged returns active units whose links are stale
	// (never built, or updated since the last build).
	ListChanged(ctx context.Context, limit int) ([]*domain.ContentUnit, error)
	ListActive(ctx context.Context, afterID string, limit int) ([]*domain.ContentUnit, error)
	// NearestByContent returns active units whose content embedding is
	// within maxDistance of the given embedding, nearest first, self excluded.
	NearestByContent(ctx context.Context, unitID string, embedding []float32, maxDistance float32, limit int) ([]*Candidate, error)
	// ContradictionCandidates returns active units sharing at least one
	// entity and one condition with the given unit.
	ContradictionCandidates(ctx context.Context, u *domain.ContentUnit) ([]*domain.ContentUnit, error)
	// ExistingIDs filters the given ids down to those that exist.
	ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error)
	// UpdateLinks replaces a unit's relationship sets and stamps links_built_at.
	UpdateLinks(ctx context.Context, id string, links domain.LinkSets, builtAt time.Time) error
	FlagReview(ctx context.Context, id, reason string) error
}

// ClusterRepositoryInterface defines persistence for clusters and the
// consolidation job.
type ClusterRepositoryInterface interface {
	Create(ctx context.Context, c *domain.Cluster) error
	GetByID(ctx context.Context, id string) (*domain.Cluster, error)
	Delete(ctx context.Context, id string) error
	// List returns clusters ordered by ID, starting after afterID.
	List(ctx context.Context, afterID string, limit int) ([]*domain.Cluster, error)
	// Nearest returns the cluster whose centroid is closest to the
	// embedding, with its cosine distance, or domain.ErrClusterNotFound.
	Nearest(ctx context.Context, embedding []float32, excludeID string) (*domain.Cluster, float32, error)
	// RecomputeCentroid recalculates a centroid from member embeddings
	// and refreshes the member count. Returns the new member count.
	RecomputeCentroid(ctx context.Context, id string) (int32, error)
	// ReassignUnits moves every unit from one cluster to another, one
	// unit at a time so readers never observe a half-applied move.
	ReassignUnits(ctx context.Context, fromID, toID string) (int64, error)
	// MemberEmbeddings returns member unit ids and content embeddings.
	MemberEmbeddings(ctx context.Context, id string, limit int) ([]MemberEmbedding, error)
	SetUnitCluster(ctx context.Context, unitID, clusterID string) error

	GetCheckpoint(ctx context.Context) (*domain.ConsolidationCheckpoint, error)
	SaveCheckpoint(ctx context.Context, cp *domain.ConsolidationCheckpoint) error
	ClearCheckpoint(ctx context.Context) error
	// TryLock acquires the cross-process consolidation lock.
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// MemberEmbedding pairs a unit id with its content embedding.
type MemberEmbedding struct {
	UnitID    string
	Embedding []float32
}

// EnrichmentJobRepositoryInterface defines persistence for queued enrichment.
type EnrichmentJobRepositoryInterface interface {
	Create(ctx context.Context, job *domain.EnrichmentJob) error
	GetPending(ctx context.Context, limit int) ([]*domain.EnrichmentJob, error)
	UpdateStatus(ctx context.Context, jobID string, status domain.EnrichmentJobStatus, errMsg string) error
	IncrementRetries(ctx context.Context, jobID string) error
}

// EmbeddingClient defines the interface for generating embeddings.
type EmbeddingClient interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// UUIDGenerator defines the interface for generating unit ids.
type UUIDGenerator interface {
	NewString() string
}

// DefaultUUIDGenerator generates random UUIDs.
type DefaultUUIDGenerator struct{}

// NewString generates a new UUID string
func (g *DefaultUUIDGenerator) NewString() string {
	return uuid.NewString()
}

var _ UUIDGenerator = (*DefaultUUIDGenerator)(nil)
