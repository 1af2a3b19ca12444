package domain

import (
	"fmt"
	"strings"
	"time"
)

// EnrichmentStage identifies one generative enrichment pass.
type EnrichmentStage string

const (
	// StageQuestions generates the synthetic questions a unit answers.
	StageQuestions EnrichmentStage = "questions"
	// StageClassification assigns query types and the procedure/policy/form flags.
	StageClassification EnrichmentStage = "classification"
	// StageScores produces the six quality scores.
	StageScores EnrichmentStage = "scores"
)

// StageStatus is the outcome of a single enrichment stage.
type StageStatus string

const (
	StageStatusSuccess StageStatus = "success"
	StageStatusPartial StageStatus = "partial"
	StageStatusFailed  StageStatus = "failed"
)

// StageResult records the outcome of one enrichment stage for one unit.
// A failed stage carries the reason; its fields stay unset on the unit.
type StageResult struct {
	Stage  EnrichmentStage
	Status StageStatus
	Reason string
}

// EnrichmentOutcome aggregates the stage results of a full enrichment run.
type EnrichmentOutcome struct {
	Stages []StageResult
}

// NeedsReview reports whether any stage failed or was partial.
func (o EnrichmentOutcome) NeedsReview() bool {
	for _, s := range o.Stages {
		if s.Status != StageStatusSuccess {
			return true
		}
	}
	return false
}

// ReviewReason names the failed stages, suitable for the unit's review flag.
func (o EnrichmentOutcome) ReviewReason() string {
	var parts []string
	for _, s := range o.Stages {
		if s.Status == StageStatusSuccess {
			continue
		}
		if s.Reason != "" {
			parts = append(parts, fmt.Sprintf("%s %s: %s", s.Stage, s.Status, s.Reason))
		} else {
			parts = append(parts, fmt.Sprintf("%s %s", s.Stage, s.Status))
		}
	}
	return strings.Join(parts, "; ")
}

// EnrichmentJobStatus represents the status of a queued enrichment job.
type EnrichmentJobStatus string

const (
	EnrichmentJobStatusPending    EnrichmentJobStatus = "pending"
	EnrichmentJobStatusProcessing EnrichmentJobStatus = "processing"
	EnrichmentJobStatusCompleted  EnrichmentJobStatus = "completed"
	EnrichmentJobStatusFailed     EnrichmentJobStatus = "failed"
)

// EnrichmentJob represents an async enrichment job for one content unit.
type EnrichmentJob struct {
	ID          string
	UnitID      string
	Status      EnrichmentJobStatus
	Retries     int32
	Error       string
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// NewEnrichmentJob creates a new EnrichmentJob instance.
func NewEnrichmentJob(id, unitID string, createdAt time.Time) *EnrichmentJob {
	return &EnrichmentJob{
		ID:        id,
		UnitID:    unitID,
		Status:    EnrichmentJobStatusPending,
		CreatedAt: createdAt,
	}
}

// ValidateEnrichmentJob validates an EnrichmentJob instance.
func ValidateEnrichmentJob(j *EnrichmentJob) error {
	if j == nil {
		return fmt.Errorf("enrichment job cannot be nil")
	}

	if j.ID == "" {
		return fmt.Errorf("enrichment job ID is required")
	}

	if j.UnitID == "" {
		return fmt.Errorf("enrichment job must reference a content unit")
	}

	if !isValidEnrichmentJobStatus(j.Status) {
		return fmt.Errorf("enrichment job Status is invalid: %s", j.Status)
	}

	if j.Retries < 0 {
		return fmt.Errorf("enrichment job Retries cannot be negative")
	}

	return nil
}

func isValidEnrichmentJobStatus(s EnrichmentJobStatus) bool {
	switch s {
	case EnrichmentJobStatusPending, EnrichmentJobStatusProcessing,
		EnrichmentJobStatusCompleted, EnrichmentJobStatusFailed:
		return true
	}
	return false
}
