package service

import (
	"context"
	"errors"
	"testing"

	"github.com/cloo-solutions/recallai/internal/config"
	"github.com/cloo-solutions/recallai/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testRetrievalConfig() config.RetrievalConfig {
	return config.RetrievalConfig{
		ContentWeight:    0.30,
		QuestionsWeight:  0.50,
		TagBonusWeight:   0.20,
		ProcedureBoost:   0.10,
		PolicyBoost:      0.10,
		DefaultThreshold: 0.60,
		RelatedThreshold: 0.55,
		CandidateLimit:   200,
		TextRankWeight:   0.40,
		VectorWeight:     0.60,
	}
}

func float32Ptr(v float32) *float32 {
	return &v
}

func int32Ptr(v int32) *int32 {
	return &v
}

// TestRetrievalService_Retrieve tests the full query pipeline
func TestRetrievalService_Retrieve(t *testing.T) {
	ctx := context.Background()
	embedding := []float32{0.1, 0.2, 0.3}

	t.Run("empty scope yields scope violation without querying", func(t *testing.T) {
		mockRepo := new(MockSearchRepository)
		service := NewRetrievalService(mockRepo, testRetrievalConfig())

		out, err := service.Retrieve(ctx, RetrieveInput{Embedding: embedding})

		require.NoError(t, err)
		assert.Empty(t, out.Results)
		assert.Equal(t, ReasonScopeViolation, out.Reason)
		mockRepo.AssertNotCalled(t, "ScopeExists", mock.Anything, mock.Anything)
		mockRepo.AssertNotCalled(t, "SearchCandidates", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("unknown scope yields scope violation, not an empty match", func(t *testing.T) {
		mockRepo := new(MockSearchRepository)
		service := NewRetrievalService(mockRepo, testRetrievalConfig())

		mockRepo.On("ScopeExists", mock.Anything, "warehouse").Return(false, nil)

		out, err := service.Retrieve(ctx, RetrieveInput{Embedding: embedding, Scope: "warehouse"})

		require.NoError(t, err)
		assert.Empty(t, out.Results)
		assert.Equal(t, ReasonScopeViolation, out.Reason)
		mockRepo.AssertNotCalled(t, "SearchCandidates", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		mockRepo.AssertExpectations(t)
	})

	t.Run("no hints takes the slow path", func(t *testing.T) {
		mockRepo := new(MockSearchRepository)
		service := NewRetrievalService(mockRepo, testRetrievalConfig())

		mockRepo.On("ScopeExists", mock.Anything, "finance").Return(true, nil)
		mockRepo.On("SearchCandidates", mock.Anything, embedding, "finance", QueryHints{}, 200).
			Return([]*Candidate{}, nil)

		out, err := service.Retrieve(ctx, RetrieveInput{Embedding: embedding, Scope: "finance"})

		require.NoError(t, err)
		assert.True(t, out.SlowPath)
		assert.Empty(t, out.Results)
		assert.Empty(t, out.Reason)
		mockRepo.AssertExpectations(t)
	})

	t.Run("combines both signals with the tag bonus and applies the threshold", func(t *testing.T) {
		mockRepo := new(MockSearchRepository)
		service := NewRetrievalService(mockRepo, testRetrievalConfig())

		hints := QueryHints{
			QueryTypes: []string{"how_to"},
			Entities:   []string{"refund"},
		}
		strong := &Candidate{
			Unit: &domain.ContentUnit{
				ID:         "unit-strong",
				QueryTypes: []string{"how_to"},
				Entities:   []string{"invoice"},
			},
			ContentSimilarity:   0.8,
			QuestionsSimilarity: 0.6,
		}
		weak := &Candidate{
			Unit:                &domain.ContentUnit{ID: "unit-weak"},
			ContentSimilarity:   0.5,
			QuestionsSimilarity: 0.3,
		}

		mockRepo.On("ScopeExists", mock.Anything, "finance").Return(true, nil)
		mockRepo.On("SearchCandidates", mock.Anything, embedding, "finance", hints, 200).
			Return([]*Candidate{strong, weak}, nil)

		out, err := service.Retrieve(ctx, RetrieveInput{Embedding: embedding, Scope: "finance", Hints: hints})

		require.NoError(t, err)
		require.Len(t, out.Results, 1)
		assert.False(t, out.SlowPath)
		// 0.30*0.8 + 0.50*0.6 + 0.20*(1 of 2 hint sets matched)
		assert.InDelta(t, 0.64, out.Results[0].Similarity, 1e-3)
		assert.InDelta(t, 0.64, out.Results[0].BoostedScore, 1e-3)
		assert.Equal(t, "unit-strong", out.Results[0].Unit.ID)
		assert.Equal(t, domain.RelationPrimary, out.Results[0].Relation)
		mockRepo.AssertExpectations(t)
	})

	t.Run("procedure boost lifts a how_to match over the threshold", func(t *testing.T) {
		mockRepo := new(MockSearchRepository)
		service := NewRetrievalService(mockRepo, testRetrievalConfig())

		hints := QueryHints{QueryTypes: []string{"how_to"}}
		procedure := &Candidate{
			Unit: &domain.ContentUnit{
				ID:          "unit-proc",
				QueryTypes:  []string{"how_to"},
				IsProcedure: true,
			},
			ContentSimilarity: 1.0,
		}

		mockRepo.On("ScopeExists", mock.Anything, "finance").Return(true, nil)
		mockRepo.On("SearchCandidates", mock.Anything, embedding, "finance", hints, 200).
			Return([]*Candidate{procedure}, nil)

		out, err := service.Retrieve(ctx, RetrieveInput{Embedding: embedding, Scope: "finance", Hints: hints})

		require.NoError(t, err)
		require.Len(t, out.Results, 1)
		// 0.30*1.0 + 0.20 tag bonus = 0.50, below the cutoff until the boost
		assert.InDelta(t, 0.50, out.Results[0].Similarity, 1e-3)
		assert.InDelta(t, 0.60, out.Results[0].BoostedScore, 1e-3)
		mockRepo.AssertExpectations(t)
	})

	t.Run("policy boost only applies to policy intent", func(t *testing.T) {
		mockRepo := new(MockSearchRepository)
		service := NewRetrievalService(mockRepo, testRetrievalConfig())

		hints := QueryHints{QueryTypes: []string{"how_to"}}
		policy := &Candidate{
			Unit: &domain.ContentUnit{
				ID:         "unit-policy",
				QueryTypes: []string{"how_to"},
				IsPolicy:   true,
			},
			ContentSimilarity: 1.0,
		}

		mockRepo.On("ScopeExists", mock.Anything, "finance").Return(true, nil)
		mockRepo.On("SearchCandidates", mock.Anything, embedding, "finance", hints, 200).
			Return([]*Candidate{policy}, nil)

		out, err := service.Retrieve(ctx, RetrieveInput{Embedding: embedding, Scope: "finance", Hints: hints})

		require.NoError(t, err)
		assert.Empty(t, out.Results)
		mockRepo.AssertExpectations(t)
	})

	t.Run("caller threshold overrides the configured default", func(t *testing.T) {
		mockRepo := new(MockSearchRepository)
		service := NewRetrievalService(mockRepo, testRetrievalConfig())

		candidate := &Candidate{
			Unit:              &domain.ContentUnit{ID: "unit-1"},
			ContentSimilarity: 0.9,
		}

		mockRepo.On("ScopeExists", mock.Anything, "finance").Return(true, nil)
		mockRepo.On("SearchCandidates", mock.Anything, embedding, "finance", QueryHints{}, 200).
			Return([]*Candidate{candidate}, nil)

		out, err := service.Retrieve(ctx, RetrieveInput{
			Embedding: embedding,
			Scope:     "finance",
			Threshold: float32Ptr(0.25),
		})

		require.NoError(t, err)
		require.Len(t, out.Results, 1)
		assert.InDelta(t, 0.27, out.Results[0].BoostedScore, 1e-3)
		mockRepo.AssertExpectations(t)
	})

	t.Run("expansion pulls prerequisite and see-also neighbors in scope", func(t *testing.T) {
		mockRepo := new(MockSearchRepository)
		service := NewRetrievalService(mockRepo, testRetrievalConfig())

		primary := &Candidate{
			Unit: &domain.ContentUnit{
				ID:              "unit-a",
				PrerequisiteIDs: []string{"unit-pre"},
				SeeAlsoIDs:      []string{"unit-see", "unit-pre", "unit-out"},
				AccessScope:     []string{"finance"},
				IsActive:        true,
			},
			ContentSimilarity:   1.0,
			QuestionsSimilarity: 1.0,
		}

		mockRepo.On("ScopeExists", mock.Anything, "finance").Return(true, nil)
		mockRepo.On("SearchCandidates", mock.Anything, embedding, "finance", QueryHints{}, 200).
			Return([]*Candidate{primary}, nil)
		mockRepo.On("GetByIDs", mock.Anything, []string{"unit-out", "unit-pre", "unit-see"}).
			Return([]*domain.ContentUnit{
				{ID: "unit-out", IsActive: true, AccessScope: []string{"sales"}},
				{ID: "unit-pre", IsActive: true, AccessScope: []string{"finance"}},
				{ID: "unit-see", IsActive: true, AccessScope: []string{"finance"}},
			}, nil)

		out, err := service.Retrieve(ctx, RetrieveInput{
			Embedding:           embedding,
			Scope:               "finance",
			ExpandRelationships: true,
		})

		require.NoError(t, err)
		require.Len(t, out.Results, 3)
		assert.Equal(t, "unit-a", out.Results[0].Unit.ID)
		assert.Equal(t, domain.RelationPrimary, out.Results[0].Relation)

		relations := map[string]domain.RelationTag{}
		for _, r := range out.Results[1:] {
			relations[r.Unit.ID] = r.Relation
		}
		// prerequisite wins when a neighbor is both, out-of-scope is skipped
		assert.Equal(t, domain.RelationPrerequisite, relations["unit-pre"])
		assert.Equal(t, domain.RelationSeeAlso, relations["unit-see"])
		assert.NotContains(t, relations, "unit-out")
		mockRepo.AssertExpectations(t)
	})

	t.Run("a selected unit keeps its primary tag over a relation tag", func(t *testing.T) {
		mockRepo := new(MockSearchRepository)
		service := NewRetrievalService(mockRepo, testRetrievalConfig())

		a := &Candidate{
			Unit: &domain.ContentUnit{
				ID:         "unit-a",
				SeeAlsoIDs: []string{"unit-b"},
			},
			ContentSimilarity:   1.0,
			QuestionsSimilarity: 1.0,
		}
		b := &Candidate{
			Unit:                &domain.ContentUnit{ID: "unit-b"},
			ContentSimilarity:   1.0,
			QuestionsSimilarity: 1.0,
		}

		mockRepo.On("ScopeExists", mock.Anything, "finance").Return(true, nil)
		mockRepo.On("SearchCandidates", mock.Anything, embedding, "finance", QueryHints{}, 200).
			Return([]*Candidate{a, b}, nil)

		out, err := service.Retrieve(ctx, RetrieveInput{
			Embedding:           embedding,
			Scope:               "finance",
			ExpandRelationships: true,
		})

		require.NoError(t, err)
		require.Len(t, out.Results, 2)
		for _, r := range out.Results {
			assert.Equal(t, domain.RelationPrimary, r.Relation)
		}
		mockRepo.AssertNotCalled(t, "GetByIDs", mock.Anything, mock.Anything)
		mockRepo.AssertExpectations(t)
	})

	t.Run("hybrid mode blends full-text rank into the scores", func(t *testing.T) {
		mockRepo := new(MockSearchRepository)
		service := NewRetrievalService(mockRepo, testRetrievalConfig())

		vector := &Candidate{
			Unit:                &domain.ContentUnit{ID: "unit-v"},
			ContentSimilarity:   0.5,
			QuestionsSimilarity: 0.5,
		}
		lexOnly := &Candidate{
			Unit:     &domain.ContentUnit{ID: "unit-l"},
			TextRank: 1.0,
		}
		lexForVector := &Candidate{
			Unit:     &domain.ContentUnit{ID: "unit-v"},
			TextRank: 0.9,
		}

		mockRepo.On("ScopeExists", mock.Anything, "finance").Return(true, nil)
		mockRepo.On("SearchCandidates", mock.Anything, embedding, "finance", QueryHints{}, 200).
			Return([]*Candidate{vector}, nil)
		mockRepo.On("SearchCandidatesLexical", mock.Anything, "refund deadline", "finance", QueryHints{}, 200).
			Return([]*Candidate{lexForVector, lexOnly}, nil)

		out, err := service.Retrieve(ctx, RetrieveInput{
			Embedding: embedding,
			Query:     "refund deadline",
			Scope:     "finance",
			Threshold: float32Ptr(0.30),
		})

		require.NoError(t, err)
		require.Len(t, out.Results, 1)
		assert.Equal(t, "unit-v", out.Results[0].Unit.ID)
		// content term 0.40*0.9 + 0.60*0.5, questions term 0.60*0.5
		assert.InDelta(t, 0.30*0.66+0.50*0.30, out.Results[0].Similarity, 1e-3)
		mockRepo.AssertExpectations(t)
	})

	t.Run("propagates repository errors", func(t *testing.T) {
		mockRepo := new(MockSearchRepository)
		service := NewRetrievalService(mockRepo, testRetrievalConfig())

		expectedErr := errors.New("connection refused")
		mockRepo.On("ScopeExists", mock.Anything, "finance").Return(true, nil)
		mockRepo.On("SearchCandidates", mock.Anything, embedding, "finance", QueryHints{}, 200).
			Return(nil, expectedErr)

		out, err := service.Retrieve(ctx, RetrieveInput{Embedding: embedding, Scope: "finance"})

		require.Error(t, err)
		assert.Nil(t, out)
		assert.Equal(t, expectedErr, err)
		mockRepo.AssertExpectations(t)
	})
}

// TestRetrievalService_BrowseCluster tests the cluster browsing path
func TestRetrievalService_BrowseCluster(t *testing.T) {
	ctx := context.Background()

	t.Run("returns members ordered with no threshold applied", func(t *testing.T) {
		mockRepo := new(MockSearchRepository)
		service := NewRetrievalService(mockRepo, testRetrievalConfig())

		members := []*Candidate{
			{Unit: &domain.ContentUnit{ID: "unit-low"}, ContentSimilarity: 0.1},
			{
				Unit: &domain.ContentUnit{
					ID:     "unit-important",
					Scores: domain.QualityScores{Importance: float32Ptr(0.9)},
				},
				ContentSimilarity: 0.2,
			},
		}
		mockRepo.On("ListByCluster", mock.Anything, "cluster-1", "finance").Return(members, nil)

		results, err := service.BrowseCluster(ctx, "cluster-1", "finance")

		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "unit-important", results[0].Unit.ID)
		assert.Equal(t, domain.RelationPrimary, results[0].Relation)
		mockRepo.AssertExpectations(t)
	})

	t.Run("empty cluster id or scope returns nothing", func(t *testing.T) {
		mockRepo := new(MockSearchRepository)
		service := NewRetrievalService(mockRepo, testRetrievalConfig())

		results, err := service.BrowseCluster(ctx, "", "finance")
		require.NoError(t, err)
		assert.Empty(t, results)

		results, err = service.BrowseCluster(ctx, "cluster-1", "")
		require.NoError(t, err)
		assert.Empty(t, results)

		mockRepo.AssertNotCalled(t, "ListByCluster", mock.Anything, mock.Anything, mock.Anything)
	})
}

// TestRetrievalService_FilterOnly tests the vector-free filter path
func TestRetrievalService_FilterOnly(t *testing.T) {
	ctx := context.Background()

	t.Run("delegates to the repository filter", func(t *testing.T) {
		mockRepo := new(MockSearchRepository)
		service := NewRetrievalService(mockRepo, testRetrievalConfig())

		hints := QueryHints{Entities: []string{"invoice"}}
		units := []*domain.ContentUnit{{ID: "unit-1"}}
		mockRepo.On("FilterUnits", mock.Anything, "finance", hints, 50).Return(units, nil)

		got, err := service.FilterOnly(ctx, "finance", hints, 50)

		require.NoError(t, err)
		assert.Equal(t, units, got)
		mockRepo.AssertExpectations(t)
	})

	t.Run("empty scope returns nothing", func(t *testing.T) {
		mockRepo := new(MockSearchRepository)
		service := NewRetrievalService(mockRepo, testRetrievalConfig())

		got, err := service.FilterOnly(ctx, "", QueryHints{}, 50)

		require.NoError(t, err)
		assert.Empty(t, got)
		mockRepo.AssertNotCalled(t, "FilterUnits", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

// TestOrderResults tests the deterministic result ordering
func TestOrderResults(t *testing.T) {
	results := []*RetrievedUnit{
		{
			Unit:     &domain.ContentUnit{ID: "expansion-important", Scores: domain.QualityScores{Importance: float32Ptr(1.0)}},
			Relation: domain.RelationSeeAlso,
		},
		{
			Unit:         &domain.ContentUnit{ID: "primary-step-2", ProcessName: "refund", ProcessStep: int32Ptr(2)},
			BoostedScore: 0.7,
			Relation:     domain.RelationPrimary,
		},
		{
			Unit:         &domain.ContentUnit{ID: "primary-no-step"},
			BoostedScore: 0.7,
			Relation:     domain.RelationPrimary,
		},
		{
			Unit:         &domain.ContentUnit{ID: "primary-step-1", ProcessName: "refund", ProcessStep: int32Ptr(1)},
			BoostedScore: 0.7,
			Relation:     domain.RelationPrimary,
		},
		{
			Unit:         &domain.ContentUnit{ID: "primary-high-score"},
			BoostedScore: 0.9,
			Relation:     domain.RelationPrimary,
		},
		{
			Unit:         &domain.ContentUnit{ID: "primary-important", Scores: domain.QualityScores{Importance: float32Ptr(0.8)}},
			BoostedScore: 0.1,
			Relation:     domain.RelationPrimary,
		},
	}

	orderResults(results)

	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.Unit.ID)
	}
	assert.Equal(t, []string{
		"primary-important",
		"primary-high-score",
		"primary-step-1",
		"primary-step-2",
		"primary-no-step",
		"expansion-important",
	}, ids)
}
