package service

import (
	"context"
	"time"

	"github.com/cloo-solutions/recallai/internal/domain"
	"github.com/stretchr/testify/mock"
)

// MockUnitRepository is a mock implementation of UnitRepositoryInterface
type MockUnitRepository struct {
	mock.Mock
}

func (m *MockUnitRepository) Create(ctx context.Context, u *domain.ContentUnit) error {
	args := m.Called(ctx, u)
	return args.Error(0)
}

func (m *MockUnitRepository) Update(ctx context.Context, u *domain.ContentUnit) error {
	args := m.Called(ctx, u)
	return args.Error(0)
}

func (m *MockUnitRepository) GetByID(ctx context.Context, id string) (*domain.ContentUnit, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ContentUnit), args.Error(1)
}

func (m *MockUnitRepository) GetByIDs(ctx context.Context, ids []string) ([]*domain.ContentUnit, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.ContentUnit), args.Error(1)
}

func (m *MockUnitRepository) FindActiveByHash(ctx context.Context, hash string) (*domain.ContentUnit, error) {
	args := m.Called(ctx, hash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ContentUnit), args.Error(1)
}

func (m *MockUnitRepository) TouchAccess(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockUnitRepository) Deactivate(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockUnitRepository) SetCluster(ctx context.Context, id string, clusterID *string) error {
	args := m.Called(ctx, id, clusterID)
	return args.Error(0)
}

func (m *MockUnitRepository) FlagReview(ctx context.Context, id, reason string) error {
	args := m.Called(ctx, id, reason)
	return args.Error(0)
}

// MockSearchRepository is a mock implementation of SearchRepositoryInterface
type MockSearchRepository struct {
	mock.Mock
}

func (m *MockSearchRepository) SearchCandidates(ctx context.Context, embedding []float32, scope string, hints QueryHints, limit int) ([]*Candidate, error) {
	args := m.Called(ctx, embedding, scope, hints, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Candidate), args.Error(1)
}

func (m *MockSearchRepository) SearchCandidatesLexical(ctx context.Context, query, scope string, hints QueryHints, limit int) ([]*Candidate, error) {
	args := m.Called(ctx, query, scope, hints, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Candidate), args.Error(1)
}

func (m *MockSearchRepository) FilterUnits(ctx context.Context, scope string, hints QueryHints, limit int) ([]*domain.ContentUnit, error) {
	args := m.Called(ctx, scope, hints, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.ContentUnit), args.Error(1)
}

func (m *MockSearchRepository) ListByCluster(ctx context.Context, clusterID, scope string) ([]*Candidate, error) {
	args := m.Called(ctx, clusterID, scope)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Candidate), args.Error(1)
}

func (m *MockSearchRepository) ScopeExists(ctx context.Context, scope string) (bool, error) {
	args := m.Called(ctx, scope)
	return args.Bool(0), args.Error(1)
}

func (m *MockSearchRepository) GetByIDs(ctx context.Context, ids []string) ([]*domain.ContentUnit, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.ContentUnit), args.Error(1)
}

// MockRelationshipRepository is a mock implementation of RelationshipRepositoryInterface
type MockRelationshipRepository struct {
	mock.Mock
}

func (m *MockRelationshipRepository) ListBySource(ctx context.Context, source string) ([]*domain.ContentUnit, error) {
	args := m.Called(ctx, source)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.ContentUnit), args.Error(1)
}

func (m *MockRelationshipRepository) ListByProcess(ctx context.Context, processName string) ([]*domain.ContentUnit, error) {
	args := m.Called(ctx, processName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.ContentUnit), args.Error(1)
}

func (m *MockRelationshipRepository) ListChanged(ctx context.Context, limit int) ([]*domain.ContentUnit, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.ContentUnit), args.Error(1)
}

func (m *MockRelationshipRepository) ListActive(ctx context.Context, afterID string, limit int) ([]*domain.ContentUnit, error) {
	args := m.Called(ctx, afterID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.ContentUnit), args.Error(1)
}

func (m *MockRelationshipRepository) NearestByContent(ctx context.Context, unitID string, embedding []float32, maxDistance float32, limit int) ([]*Candidate, error) {
	args := m.Called(ctx, unitID, embedding, maxDistance, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Candidate), args.Error(1)
}

func (m *MockRelationshipRepository) ContradictionCandidates(ctx context.Context, u *domain.ContentUnit) ([]*domain.ContentUnit, error) {
	args := m.Called(ctx, u)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.ContentUnit), args.Error(1)
}

func (m *MockRelationshipRepository) ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]bool), args.Error(1)
}

func (m *MockRelationshipRepository) UpdateLinks(ctx context.Context, id string, links domain.LinkSets, builtAt time.Time) error {
	args := m.Called(ctx, id, links, builtAt)
	return args.Error(0)
}

func (m *MockRelationshipRepository) FlagReview(ctx context.Context, id, reason string) error {
	args := m.Called(ctx, id, reason)
	return args.Error(0)
}

// MockClusterRepository is a mock implementation of ClusterRepositoryInterface
type MockClusterRepository struct {
	mock.Mock
}

func (m *MockClusterRepository) Create(ctx context.Context, c *domain.Cluster) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *MockClusterRepository) GetByID(ctx context.Context, id string) (*domain.Cluster, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Cluster), args.Error(1)
}

func (m *MockClusterRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockClusterRepository) List(ctx context.Context, afterID string, limit int) ([]*domain.Cluster, error) {
	args := m.Called(ctx, afterID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Cluster), args.Error(1)
}

func (m *MockClusterRepository) Nearest(ctx context.Context, embedding []float32, excludeID string) (*domain.Cluster, float32, error) {
	args := m.Called(ctx, embedding, excludeID)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).(*domain.Cluster), args.Get(1).(float32), args.Error(2)
}

func (m *MockClusterRepository) RecomputeCentroid(ctx context.Context, id string) (int32, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(int32), args.Error(1)
}

func (m *MockClusterRepository) ReassignUnits(ctx context.Context, fromID, toID string) (int64, error) {
	args := m.Called(ctx, fromID, toID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockClusterRepository) MemberEmbeddings(ctx context.Context, id string, limit int) ([]MemberEmbedding, error) {
	args := m.Called(ctx, id, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]MemberEmbedding), args.Error(1)
}

func (m *MockClusterRepository) SetUnitCluster(ctx context.Context, unitID, clusterID string) error {
	args := m.Called(ctx, unitID, clusterID)
	return args.Error(0)
}

func (m *MockClusterRepository) GetCheckpoint(ctx context.Context) (*domain.ConsolidationCheckpoint, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ConsolidationCheckpoint), args.Error(1)
}

func (m *MockClusterRepository) SaveCheckpoint(ctx context.Context, cp *domain.ConsolidationCheckpoint) error {
	args := m.Called(ctx, cp)
	return args.Error(0)
}

func (m *MockClusterRepository) ClearCheckpoint(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockClusterRepository) TryLock(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockClusterRepository) Unlock(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockEnrichmentJobRepository is a mock implementation of EnrichmentJobRepositoryInterface
type MockEnrichmentJobRepository struct {
	mock.Mock
}

func (m *MockEnrichmentJobRepository) Create(ctx context.Context, job *domain.EnrichmentJob) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

func (m *MockEnrichmentJobRepository) GetPending(ctx context.Context, limit int) ([]*domain.EnrichmentJob, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.EnrichmentJob), args.Error(1)
}

func (m *MockEnrichmentJobRepository) UpdateStatus(ctx context.Context, jobID string, status domain.EnrichmentJobStatus, errMsg string) error {
	args := m.Called(ctx, jobID, status, errMsg)
	return args.Error(0)
}

func (m *MockEnrichmentJobRepository) IncrementRetries(ctx context.Context, jobID string) error {
	args := m.Called(ctx, jobID)
	return args.Error(0)
}

// MockEmbeddingClient is a mock implementation of EmbeddingClient
type MockEmbeddingClient struct {
	mock.Mock
}

func (m *MockEmbeddingClient) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

// MockGenerativeClient is a mock implementation of GenerativeClient
type MockGenerativeClient struct {
	mock.Mock
}

func (m *MockGenerativeClient) GenerateQuestions(ctx context.Context, content string, tagContext []string) ([]string, error) {
	args := m.Called(ctx, content, tagContext)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockGenerativeClient) ClassifyContent(ctx context.Context, content string) (ContentClassification, error) {
	args := m.Called(ctx, content)
	return args.Get(0).(ContentClassification), args.Error(1)
}

func (m *MockGenerativeClient) ScoreContent(ctx context.Context, content string) (ContentScores, error) {
	args := m.Called(ctx, content)
	return args.Get(0).(ContentScores), args.Error(1)
}

// MockUUIDGenerator is a mock implementation of UUIDGenerator
type MockUUIDGenerator struct {
	callCount int
	uuids     []string
}

func NewMockUUIDGenerator(uuids ...string) *MockUUIDGenerator {
	return &MockUUIDGenerator{uuids: uuids}
}

func (m *MockUUIDGenerator) NewString() string {
	if m.callCount < len(m.uuids) {
		id := m.uuids[m.callCount]
		m.callCount++
		return id
	}
	return "default-uuid"
}

// fakeTxRepositories hands the same mocks back inside a transaction
type fakeTxRepositories struct {
	units *MockUnitRepository
	jobs  *MockEnrichmentJobRepository
}

func (r fakeTxRepositories) Units() UnitRepositoryInterface {
	return r.units
}

func (r fakeTxRepositories) EnrichmentJobs() EnrichmentJobRepositoryInterface {
	return r.jobs
}

// fakeTxRunner executes the function directly, without a real transaction
type fakeTxRunner struct {
	repos fakeTxRepositories
	err   error
}

func (r *fakeTxRunner) WithTx(ctx context.Context, fn func(repos TxRepositories) error) error {
	if r.err != nil {
		return r.err
	}
	return fn(r.repos)
}
