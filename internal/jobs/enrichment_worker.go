package jobs

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/cloo-solutions/recallai/internal/domain"
)

const (
	// DefaultMaxRetries is the maximum number of retries for a failed job
	DefaultMaxRetries = 3

	// defaultBatchSize bounds how many jobs one poll cycle claims
	defaultBatchSize = 100
)

// EnrichmentJobRepository defines the interface for enrichment job persistence
type EnrichmentJobRepository interface {
	// GetPending retrieves and claims pending enrichment jobs
	GetPending(ctx context.Context, limit int) ([]*domain.EnrichmentJob, error)

	// UpdateStatus updates the status of an enrichment job
	UpdateStatus(ctx context.Context, jobID string, status domain.EnrichmentJobStatus, errMsg string) error

	// IncrementRetries increments the retry count for a job
	IncrementRetries(ctx context.Context, jobID string) error
}

// UnitEnricher runs the enrichment pipeline for one stored content unit
type UnitEnricher interface {
	EnrichAndCluster(ctx context.Context, unitID string) error
}

// EnrichmentWorker processes queued enrichment jobs
type EnrichmentWorker struct {
	repo        EnrichmentJobRepository
	enricher    UnitEnricher
	maxRetries  int32
	concurrency int
}

// NewEnrichmentWorker creates a new EnrichmentWorker instance
func NewEnrichmentWorker(repo EnrichmentJobRepository, enricher UnitEnricher, maxRetries, concurrency int) *EnrichmentWorker {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &EnrichmentWorker{
		repo:        repo,
		enricher:    enricher,
		maxRetries:  int32(maxRetries),
		concurrency: concurrency,
	}
}

// ProcessJobs implements the JobProcessor interface
func (w *EnrichmentWorker) ProcessJobs(ctx context.Context) error {
	jobs, err := w.repo.GetPending(ctx, defaultBatchSize)
	if err != nil {
		return fmt.Errorf("failed to fetch pending jobs: %w", err)
	}

	if len(jobs) == 0 {
		return nil
	}

	log.Printf("Processing %d pending enrichment jobs", len(jobs))

	// One failed unit never blocks the rest of the batch.
	sem := make(chan struct{}, w.concurrency)
	var wg sync.WaitGroup
	for _, job := range jobs {
		wg.Add(1)
		sem <- struct{}{}
		go func(job *domain.EnrichmentJob) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := w.processJob(ctx, job); err != nil {
				log.Printf("Error processing job %s: %v", job.ID, err)
			}
		}(job)
	}
	wg.Wait()

	return nil
}

func (w *EnrichmentWorker) processJob(ctx context.Context, job *domain.EnrichmentJob) error {
	log.Printf("Processing job %s for unit %s", job.ID, job.UnitID)
	if err := w.enricher.EnrichAndCluster(ctx, job.UnitID); err != nil {
		return w.handleJobFailure(ctx, job, err)
	}

	if err := w.repo.UpdateStatus(ctx, job.ID, domain.EnrichmentJobStatusCompleted, ""); err != nil {
		return fmt.Errorf("failed to update job status to completed: %w", err)
	}

	log.Printf("Job %s completed successfully", job.ID)
	return nil
}

// handleJobFailure handles a failed job with retry logic
func (w *EnrichmentWorker) handleJobFailure(ctx context.Context, job *domain.EnrichmentJob, jobErr error) error {
	log.Printf("Job %s failed: %v", job.ID, jobErr)

	if err := w.repo.IncrementRetries(ctx, job.ID); err != nil {
		return fmt.Errorf("failed to increment retries: %w", err)
	}

	if job.Retries+1 >= w.maxRetries {
		log.Printf("Job %s exceeded max retries (%d), marking as failed", job.ID, w.maxRetries)
		errMsg := fmt.Sprintf("max retries exceeded: %v", jobErr)
		if err := w.repo.UpdateStatus(ctx, job.ID, domain.EnrichmentJobStatusFailed, errMsg); err != nil {
			return fmt.Errorf("failed to update job status to failed: %w", err)
		}
		return nil
	}

	log.Printf("Job %s will be retried (attempt %d/%d)", job.ID, job.Retries+1, w.maxRetries)
	errMsg := fmt.Sprintf("retry %d: %v", job.Retries+1, jobErr)
	if err := w.repo.UpdateStatus(ctx, job.ID, domain.EnrichmentJobStatusPending, errMsg); err != nil {
		return fmt.Errorf("failed to reset job status to pending: %w", err)
	}

	return nil
}
