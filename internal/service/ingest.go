package service

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/cloo-solutions/recallai/internal/domain"
)

// DocumentIngestService bulk-ingests source documents: each document is
// split into sections, and each section becomes a content unit. Sections
// are stored immediately with their deterministic tags and queued for
// generative enrichment, which the background worker performs.
type DocumentIngestService struct {
	units    UnitRepositoryInterface
	tx       TxRunner
	uuid     UUIDGenerator
	chunkCfg ChunkConfig
	now      func() time.Time
}

// NewDocumentIngestService creates a new DocumentIngestService instance.
func NewDocumentIngestService(units UnitRepositoryInterface, tx TxRunner, uuid UUIDGenerator) *DocumentIngestService {
	return &DocumentIngestService{
		units:    units,
		tx:       tx,
		uuid:     uuid,
		chunkCfg: DefaultChunkConfig(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// IngestResult summarizes one document ingest.
type IngestResult struct {
	UnitIDs []string
	Skipped int
}

// IngestDocument splits the document into sections and stores each as a
// content unit with its deterministic tags, plus a queued enrichment job.
// Sections whose normalized content already exists on an active unit are
// skipped. Unit and job are created in one transaction so no stored unit
// can miss its enrichment.
func (s *DocumentIngestService) IngestDocument(ctx context.Context, source, text string, scope []string) (*IngestResult, error) {
	result := &IngestResult{}

	for _, section := range SplitDocument(text, s.chunkCfg) {
		hash := ContentHash(section.Content)
		if existing, err := s.units.FindActiveByHash(ctx, hash); err == nil {
			log.Printf("section %d of %s already stored as unit %s, skipping", section.Order, source, existing.ID)
			result.Skipped++
			continue
		} else if !errors.Is(err, domain.ErrUnitNotFound) {
			return result, err
		}

		tags := ExtractTags(section.Content)
		now := s.now()
		unit := &domain.ContentUnit{
			ID:           s.uuid.NewString(),
			Source:       source,
			SectionTitle: section.Title,
			SectionOrder: section.Order,
			Content:      section.Content,
			Verbs:        tags.Verbs,
			Entities:     tags.Entities,
			Actors:       tags.Actors,
			Conditions:   tags.Conditions,
			AccessScope:  scope,
			IsActive:     true,
			ContentHash:  hash,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := domain.ValidateContentUnit(unit); err != nil {
			return result, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid document unit", err)
		}

		job := domain.NewEnrichmentJob(s.uuid.NewString(), unit.ID, now)

		err := s.tx.WithTx(ctx, func(repos TxRepositories) error {
			if err := repos.Units().Create(ctx, unit); err != nil {
				return err
			}
			return repos.EnrichmentJobs().Create(ctx, job)
		})
		if err != nil {
			return result, err
		}
		result.UnitIDs = append(result.UnitIDs, unit.ID)
	}

	return result, nil
}
