package service

import (
	"context"
	"testing"

	"github.com/cloo-solutions/recallai/internal/config"
	"github.com/cloo-solutions/recallai/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// TestConsolidationService_Run tests the checkpointed consolidation pass
func TestConsolidationService_Run(t *testing.T) {
	ctx := context.Background()

	t.Run("a second caller is rejected while a run is active", func(t *testing.T) {
		mockRepo := new(MockClusterRepository)
		service := NewConsolidationService(mockRepo, NewMockUUIDGenerator(), testClusteringConfig())

		mockRepo.On("TryLock", mock.Anything).Return(false, nil)

		result, err := service.Run(ctx)

		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrConsolidationRunning)
		assert.Nil(t, result)
		mockRepo.AssertNotCalled(t, "GetCheckpoint", mock.Anything)
		mockRepo.AssertNotCalled(t, "Unlock", mock.Anything)
	})

	t.Run("a fresh run walks all three phases and clears the checkpoint", func(t *testing.T) {
		mockRepo := new(MockClusterRepository)
		service := NewConsolidationService(mockRepo, NewMockUUIDGenerator("run-1"), testClusteringConfig())

		c1 := &domain.Cluster{ID: "cluster-1", Centroid: []float32{0.1, 0.2}, MemberCount: 3}

		mockRepo.On("TryLock", mock.Anything).Return(true, nil)
		mockRepo.On("GetCheckpoint", mock.Anything).Return(nil, nil)
		mockRepo.On("SaveCheckpoint", mock.Anything, mock.MatchedBy(func(cp *domain.ConsolidationCheckpoint) bool {
			return cp.RunID == "run-1"
		})).Return(nil)
		mockRepo.On("List", mock.Anything, "", 50).Return([]*domain.Cluster{c1}, nil)
		mockRepo.On("List", mock.Anything, "cluster-1", 50).Return([]*domain.Cluster{}, nil)
		mockRepo.On("RecomputeCentroid", mock.Anything, "cluster-1").Return(int32(3), nil)
		mockRepo.On("Nearest", mock.Anything, c1.Centroid, "cluster-1").Return(nil, float32(0), domain.ErrClusterNotFound)
		mockRepo.On("ClearCheckpoint", mock.Anything).Return(nil)
		mockRepo.On("Unlock", mock.Anything).Return(nil)

		result, err := service.Run(ctx)

		require.NoError(t, err)
		assert.Equal(t, 1, result.CentroidsRecomputed)
		assert.Zero(t, result.ClustersMerged)
		assert.Zero(t, result.ClustersSplit)
		assert.Zero(t, result.EmptyClustersPruned)
		mockRepo.AssertExpectations(t)
	})

	t.Run("a cluster that lost every member is pruned", func(t *testing.T) {
		mockRepo := new(MockClusterRepository)
		service := NewConsolidationService(mockRepo, NewMockUUIDGenerator("run-1"), testClusteringConfig())

		empty := &domain.Cluster{ID: "cluster-empty", Centroid: []float32{0.1}, MemberCount: 0}

		mockRepo.On("TryLock", mock.Anything).Return(true, nil)
		mockRepo.On("GetCheckpoint", mock.Anything).Return(nil, nil)
		mockRepo.On("SaveCheckpoint", mock.Anything, mock.Anything).Return(nil)
		mockRepo.On("List", mock.Anything, "", 50).Return([]*domain.Cluster{empty}, nil)
		mockRepo.On("List", mock.Anything, "cluster-empty", 50).Return([]*domain.Cluster{}, nil)
		mockRepo.On("RecomputeCentroid", mock.Anything, "cluster-empty").Return(int32(0), nil)
		mockRepo.On("Delete", mock.Anything, "cluster-empty").Return(nil)
		mockRepo.On("Nearest", mock.Anything, mock.Anything, mock.Anything).Return(nil, float32(0), domain.ErrClusterNotFound)
		mockRepo.On("ClearCheckpoint", mock.Anything).Return(nil)
		mockRepo.On("Unlock", mock.Anything).Return(nil)

		result, err := service.Run(ctx)

		require.NoError(t, err)
		assert.Equal(t, 1, result.EmptyClustersPruned)
		assert.Zero(t, result.CentroidsRecomputed)
		mockRepo.AssertExpectations(t)
	})

	t.Run("close clusters merge into the smaller id", func(t *testing.T) {
		mockRepo := new(MockClusterRepository)
		service := NewConsolidationService(mockRepo, NewMockUUIDGenerator("run-1"), testClusteringConfig())

		c1 := &domain.Cluster{ID: "cluster-1", Centroid: []float32{0.1, 0.2}, MemberCount: 5}
		c2 := &domain.Cluster{ID: "cluster-2", Centroid: []float32{0.11, 0.21}, MemberCount: 4}

		mockRepo.On("TryLock", mock.Anything).Return(true, nil)
		mockRepo.On("GetCheckpoint", mock.Anything).Return(nil, nil)
		mockRepo.On("SaveCheckpoint", mock.Anything, mock.Anything).Return(nil)
		mockRepo.On("List", mock.Anything, "", 50).Return([]*domain.Cluster{c1, c2}, nil)
		mockRepo.On("List", mock.Anything, "cluster-2", 50).Return([]*domain.Cluster{}, nil)
		mockRepo.On("RecomputeCentroid", mock.Anything, "cluster-1").Return(int32(5), nil)
		mockRepo.On("RecomputeCentroid", mock.Anything, "cluster-2").Return(int32(4), nil)
		// the survivor is always the smaller id, so only c2 folds into c1
		mockRepo.On("Nearest", mock.Anything, c1.Centroid, "cluster-1").Return(c2, float32(0.1), nil)
		mockRepo.On("Nearest", mock.Anything, c2.Centroid, "cluster-2").Return(c1, float32(0.1), nil)
		mockRepo.On("ReassignUnits", mock.Anything, "cluster-2", "cluster-1").Return(int64(4), nil)
		mockRepo.On("Delete", mock.Anything, "cluster-2").Return(nil)
		mockRepo.On("ClearCheckpoint", mock.Anything).Return(nil)
		mockRepo.On("Unlock", mock.Anything).Return(nil)

		result, err := service.Run(ctx)

		require.NoError(t, err)
		assert.Equal(t, 1, result.ClustersMerged)
		assert.Equal(t, 4, result.UnitsReassigned)
		assert.Equal(t, 2, result.CentroidsRecomputed)
		mockRepo.AssertExpectations(t)
	})

	t.Run("a crashed run resumes at its checkpointed phase", func(t *testing.T) {
		mockRepo := new(MockClusterRepository)
		service := NewConsolidationService(mockRepo, NewMockUUIDGenerator(), testClusteringConfig())

		cp := &domain.ConsolidationCheckpoint{RunID: "run-9", Phase: domain.PhaseMerge, Cursor: "cluster-5"}

		mockRepo.On("TryLock", mock.Anything).Return(true, nil)
		mockRepo.On("GetCheckpoint", mock.Anything).Return(cp, nil)
		mockRepo.On("SaveCheckpoint", mock.Anything, mock.Anything).Return(nil)
		mockRepo.On("List", mock.Anything, "cluster-5", 50).Return([]*domain.Cluster{}, nil)
		mockRepo.On("List", mock.Anything, "", 50).Return([]*domain.Cluster{}, nil)
		mockRepo.On("ClearCheckpoint", mock.Anything).Return(nil)
		mockRepo.On("Unlock", mock.Anything).Return(nil)

		result, err := service.Run(ctx)

		require.NoError(t, err)
		assert.Zero(t, result.CentroidsRecomputed)
		mockRepo.AssertNotCalled(t, "RecomputeCentroid", mock.Anything, mock.Anything)
		mockRepo.AssertExpectations(t)
	})

	t.Run("an overgrown cluster is split around its farthest members", func(t *testing.T) {
		cfg := config.ClusteringConfig{AssignDistance: 0.35, MergeDistance: 0.25, SplitSize: 4, BatchSize: 500}
		mockRepo := new(MockClusterRepository)
		service := NewConsolidationService(mockRepo, NewMockUUIDGenerator("cluster-fresh"), cfg)

		big := &domain.Cluster{ID: "cluster-big", Centroid: []float32{0.5, 0.5}, MemberCount: 6}
		cp := &domain.ConsolidationCheckpoint{RunID: "run-9", Phase: domain.PhaseSplit}
		members := []MemberEmbedding{
			{UnitID: "unit-1", Embedding: []float32{1, 0}},
			{UnitID: "unit-2", Embedding: []float32{0.9, 0.1}},
			{UnitID: "unit-3", Embedding: []float32{0.95, 0.05}},
			{UnitID: "unit-4", Embedding: []float32{0.92, 0.08}},
			{UnitID: "unit-5", Embedding: []float32{0, 1}},
			{UnitID: "unit-6", Embedding: []float32{0.1, 0.9}},
		}

		mockRepo.On("TryLock", mock.Anything).Return(true, nil)
		mockRepo.On("GetCheckpoint", mock.Anything).Return(cp, nil)
		mockRepo.On("SaveCheckpoint", mock.Anything, mock.Anything).Return(nil)
		mockRepo.On("List", mock.Anything, "", 50).Return([]*domain.Cluster{big}, nil)
		mockRepo.On("List", mock.Anything, "cluster-big", 50).Return([]*domain.Cluster{}, nil)
		mockRepo.On("MemberEmbeddings", mock.Anything, "cluster-big", 500).Return(members, nil)
		mockRepo.On("Create", mock.Anything, mock.MatchedBy(func(c *domain.Cluster) bool {
			return c.ID == "cluster-fresh" && c.MemberCount == 2
		})).Return(nil)
		mockRepo.On("SetUnitCluster", mock.Anything, "unit-5", "cluster-fresh").Return(nil)
		mockRepo.On("SetUnitCluster", mock.Anything, "unit-6", "cluster-fresh").Return(nil)
		mockRepo.On("RecomputeCentroid", mock.Anything, "cluster-big").Return(int32(4), nil)
		mockRepo.On("RecomputeCentroid", mock.Anything, "cluster-fresh").Return(int32(2), nil)
		mockRepo.On("ClearCheckpoint", mock.Anything).Return(nil)
		mockRepo.On("Unlock", mock.Anything).Return(nil)

		result, err := service.Run(ctx)

		require.NoError(t, err)
		assert.Equal(t, 1, result.ClustersSplit)
		assert.Equal(t, 2, result.UnitsReassigned)
		mockRepo.AssertExpectations(t)
	})

	t.Run("small clusters are never split", func(t *testing.T) {
		cfg := config.ClusteringConfig{AssignDistance: 0.35, MergeDistance: 0.25, SplitSize: 100, BatchSize: 500}
		mockRepo := new(MockClusterRepository)
		service := NewConsolidationService(mockRepo, NewMockUUIDGenerator(), cfg)

		small := &domain.Cluster{ID: "cluster-small", Centroid: []float32{0.1}, MemberCount: 3}
		cp := &domain.ConsolidationCheckpoint{RunID: "run-9", Phase: domain.PhaseSplit}

		mockRepo.On("TryLock", mock.Anything).Return(true, nil)
		mockRepo.On("GetCheckpoint", mock.Anything).Return(cp, nil)
		mockRepo.On("SaveCheckpoint", mock.Anything, mock.Anything).Return(nil)
		mockRepo.On("List", mock.Anything, "", 50).Return([]*domain.Cluster{small}, nil)
		mockRepo.On("List", mock.Anything, "cluster-small", 50).Return([]*domain.Cluster{}, nil)
		mockRepo.On("ClearCheckpoint", mock.Anything).Return(nil)
		mockRepo.On("Unlock", mock.Anything).Return(nil)

		result, err := service.Run(ctx)

		require.NoError(t, err)
		assert.Zero(t, result.ClustersSplit)
		mockRepo.AssertNotCalled(t, "MemberEmbeddings", mock.Anything, mock.Anything, mock.Anything)
		mockRepo.AssertExpectations(t)
	})
}

// TestCosineDistance tests the distance helper
func TestCosineDistance(t *testing.T) {
	assert.InDelta(t, 0, cosineDistance([]float32{1, 0}, []float32{1, 0}), 1e-6)
	assert.InDelta(t, 1, cosineDistance([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.InDelta(t, 2, cosineDistance([]float32{1, 0}, []float32{-1, 0}), 1e-6)
	// degenerate inputs sort as maximally distant
	assert.Equal(t, float32(2), cosineDistance(nil, []float32{1}))
	assert.Equal(t, float32(2), cosineDistance([]float32{0, 0}, []float32{1, 0}))
}

// TestTwoMeans tests the split partitioning helpers
func TestTwoMeans(t *testing.T) {
	members := []MemberEmbedding{
		{UnitID: "unit-1", Embedding: []float32{1, 0}},
		{UnitID: "unit-2", Embedding: []float32{0.9, 0.1}},
		{UnitID: "unit-3", Embedding: []float32{0, 1}},
		{UnitID: "unit-4", Embedding: []float32{0.1, 0.9}},
	}

	seedA, seedB := farthestPair(members)
	assert.NotEqual(t, seedA, seedB)

	partA, partB := twoMeans(members, members[seedA].Embedding, members[seedB].Embedding)
	assert.Len(t, partA, 2)
	assert.Len(t, partB, 2)

	centroid := centroidOf(members, []int{0, 1})
	require.Len(t, centroid, 2)
	assert.InDelta(t, 0.95, centroid[0], 1e-6)
	assert.InDelta(t, 0.05, centroid[1], 1e-6)
}
