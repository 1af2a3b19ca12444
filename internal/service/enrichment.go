package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cloo-solutions/recallai/internal/config"
	"github.com/cloo-solutions/recallai/internal/domain"
)

// ContentClassification is the typed result of the classification pass.
type ContentClassification struct {
	QueryTypes  []string
	IsProcedure bool
	IsPolicy    bool
	IsForm      bool
}

// ContentScores is the typed result of the scoring pass.
type ContentScores struct {
	Importance    float32
	Specificity   float32
	Complexity    float32
	Completeness  float32
	Actionability float32
	Confidence    float32
}

// GenerativeClient defines the multi-pass enrichment collaborator. Each
// method is one independently retryable pass.
type GenerativeClient interface {
	GenerateQuestions(ctx context.Context, content string, tagContext []string) ([]string, error)
	ClassifyContent(ctx context.Context, content string) (ContentClassification, error)
	ScoreContent(ctx context.Context, content string) (ContentScores, error)
}

// EnrichmentService derives tags, synthetic questions, quality scores and
// embeddings for content units. The deterministic stage always runs first;
// generative stages may partially fail without losing the unit.
type EnrichmentService struct {
	repo     UnitRepositoryInterface
	embedder EmbeddingClient
	gen      GenerativeClient
	cfg      config.EnrichmentConfig
}

// NewEnrichmentService creates a new EnrichmentService instance.
func NewEnrichmentService(
	repo UnitRepositoryInterface,
	embedder EmbeddingClient,
	gen GenerativeClient,
	cfg config.EnrichmentConfig,
) *EnrichmentService {
	return &EnrichmentService{
		repo:     repo,
		embedder: embedder,
		gen:      gen,
		cfg:      cfg,
	}
}

// NormalizeContent canonicalizes text for hashing: lowercased, whitespace
// collapsed. Deterministic so dedup and the re-enrichment skip agree.
func NormalizeContent(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// ContentHash returns the hex sha-256 of the normalized content.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(NormalizeContent(text)))
	return hex.EncodeToString(sum[:])
}

// EnrichStoredUnit loads a unit by id and re-runs enrichment on it. If the
// stored content hash already matches the unit's content, enrichment is
// skipped as a no-op. Called by the background worker.
func (s *EnrichmentService) EnrichStoredUnit(ctx context.Context, unitID string) error {
	unit, err := s.repo.GetByID(ctx, unitID)
	if err != nil {
		return err
	}

	hash := ContentHash(unit.Content)
	if unit.ContentHash == hash && unit.ContentEmbedding != nil && len(unit.SyntheticQuestions) > 0 {
		log.Printf("unit %s unchanged (hash match), skipping enrichment", unitID)
		return nil
	}

	outcome := s.Enrich(ctx, unit)
	unit.ContentHash = hash
	if outcome.NeedsReview() {
		unit.NeedsReview = true
		unit.ReviewReason = outcome.ReviewReason()
	}
	unit.UpdatedAt = time.Now().UTC()

	return s.repo.Update(ctx, unit)
}

// Enrich runs the full pipeline on the unit in place and returns the typed
// stage outcomes. Partial success is a normal result, not an error: a failed
// stage leaves its fields unset and is reported in the outcome.
func (s *EnrichmentService) Enrich(ctx context.Context, unit *domain.ContentUnit) domain.EnrichmentOutcome {
	// Deterministic stage first so its output survives generative failures.
	tags := ExtractTags(unit.Content)
	unit.Verbs = tags.Verbs
	unit.Entities = tags.Entities
	unit.Actors = tags.Actors
	unit.Conditions = tags.Conditions

	var outcome domain.EnrichmentOutcome

	outcome.Stages = append(outcome.Stages, s.runQuestionsStage(ctx, unit, tags))
	outcome.Stages = append(outcome.Stages, s.runClassificationStage(ctx, unit))
	outcome.Stages = append(outcome.Stages, s.runScoresStage(ctx, unit))

	s.embedUnit(ctx, unit)

	return outcome
}

func (s *EnrichmentService) runQuestionsStage(ctx context.Context, unit *domain.ContentUnit, tags DeterministicTags) domain.StageResult {
	var questions []string
	err := s.withRetries(ctx, func(callCtx context.Context) error {
		var callErr error
		questions, callErr = s.gen.GenerateQuestions(callCtx, unit.Content, tags.TagContext())
		return callErr
	})
	if err != nil {
		return domain.StageResult{
			Stage:  domain.StageQuestions,
			Status: domain.StageStatusFailed,
			Reason: err.Error(),
		}
	}

	unit.SyntheticQuestions = questions
	if len(questions) == 0 {
		return domain.StageResult{Stage: domain.StageQuestions, Status: domain.StageStatusPartial, Reason: "no questions generated"}
	}
	return domain.StageResult{Stage: domain.StageQuestions, Status: domain.StageStatusSuccess}
}

func (s *EnrichmentService) runClassificationStage(ctx context.Context, unit *domain.ContentUnit) domain.StageResult {
	var classification ContentClassification
	err := s.withRetries(ctx, func(callCtx context.Context) error {
		var callErr error
		classification, callErr = s.gen.ClassifyContent(callCtx, unit.Content)
		return callErr
	})
	if err != nil {
		return domain.StageResult{
			Stage:  domain.StageClassification,
			Status: domain.StageStatusFailed,
			Reason: err.Error(),
		}
	}

	valid := classification.QueryTypes[:0:0]
	for _, qt := range classification.QueryTypes {
		switch domain.QueryType(qt) {
		case domain.QueryTypeHowTo, domain.QueryTypePolicy, domain.QueryTypeLookup, domain.QueryTypeTroubleshoot:
			valid = append(valid, qt)
		}
	}
	unit.QueryTypes = valid
	unit.IsProcedure = classification.IsProcedure
	unit.IsPolicy = classification.IsPolicy
	unit.IsForm = classification.IsForm

	if len(valid) < len(classification.QueryTypes) {
		return domain.StageResult{
			Stage:  domain.StageClassification,
			Status: domain.StageStatusPartial,
			Reason: fmt.Sprintf("dropped %d unknown query types", len(classification.QueryTypes)-len(valid)),
		}
	}
	return domain.StageResult{Stage: domain.StageClassification, Status: domain.StageStatusSuccess}
}

func (s *EnrichmentService) runScoresStage(ctx context.Context, unit *domain.ContentUnit) domain.StageResult {
	var scores ContentScores
	err := s.withRetries(ctx, func(callCtx context.Context) error {
		var callErr error
		scores, callErr = s.gen.ScoreContent(callCtx, unit.Content)
		return callErr
	})
	if err != nil {
		return domain.StageResult{
			Stage:  domain.StageScores,
			Status: domain.StageStatusFailed,
			Reason: err.Error(),
		}
	}

	unit.Scores = domain.QualityScores{
		Importance:    clampScore(scores.Importance),
		Specificity:   clampScore(scores.Specificity),
		Complexity:    clampScore(scores.Complexity),
		Completeness:  clampScore(scores.Completeness),
		Actionability: clampScore(scores.Actionability),
		Confidence:    clampScore(scores.Confidence),
	}
	return domain.StageResult{Stage: domain.StageScores, Status: domain.StageStatusSuccess}
}

// embedUnit computes the content embedding, and a questions embedding when
// synthetic questions exist. An embedding failure leaves the vector absent:
// the unit stays filterable and is simply excluded from that signal.
func (s *EnrichmentService) embedUnit(ctx context.Context, unit *domain.ContentUnit) {
	embedding, err := s.embedWithRetries(ctx, unit.Content)
	if err != nil {
		log.Printf("content embedding unavailable for unit %s: %v", unit.ID, err)
	} else {
		unit.ContentEmbedding = embedding
	}

	if len(unit.SyntheticQuestions) == 0 {
		return
	}
	questionsText := strings.Join(unit.SyntheticQuestions, "\n")
	embedding, err = s.embedWithRetries(ctx, questionsText)
	if err != nil {
		log.Printf("questions embedding unavailable for unit %s: %v", unit.ID, err)
		return
	}
	unit.QuestionsEmbedding = embedding
}

func (s *EnrichmentService) embedWithRetries(ctx context.Context, text string) ([]float32, error) {
	var embedding []float32
	err := s.withRetries(ctx, func(callCtx context.Context) error {
		var callErr error
		embedding, callErr = s.embedder.GenerateEmbedding(callCtx, text)
		return callErr
	})
	return embedding, err
}

// withRetries runs one collaborator call with per-call timeout and bounded
// backoff retries. Exhausted retries surface as a permanent failure for the
// caller's stage only.
func (s *EnrichmentService) withRetries(ctx context.Context, call func(ctx context.Context) error) error {
	maxRetries := s.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			backoff := s.cfg.Backoff * time.Duration(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		callCtx := ctx
		var cancel context.CancelFunc
		if s.cfg.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, s.cfg.CallTimeout)
		}
		lastErr = call(callCtx)
		if cancel != nil {
			cancel()
		}
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	return fmt.Errorf("exhausted %d attempts: %w", maxRetries, lastErr)
}

func clampScore(v float32) *float32 {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return &v
}
