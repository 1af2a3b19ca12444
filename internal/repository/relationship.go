package repository

import (
	"context"
	"time"

	"github.com/cloo-solutions/recallai/internal/domain"
	"github.com/cloo-solutions/recallai/internal/service"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// RelationshipRepository serves the link builder. Its writers never touch
// updated_at: a link rebuild must not make the unit look changed again.
type RelationshipRepository struct {
	db dbtx
}

func NewRelationshipRepository(pool *pgxpool.Pool) *RelationshipRepository {
	return &RelationshipRepository{db: pool}
}

func (r *RelationshipRepository) ListBySource(ctx context.Context, source string) ([]*domain.ContentUnit, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+unitColumns+` FROM content_units
		 WHERE source = $1 AND is_active
		 ORDER BY section_order, id`,
		source,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUnitRows(rows)
}

func (r *RelationshipRepository) ListByProcess(ctx context.Context, processName string) ([]*domain.ContentUnit, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+unitColumns+` FROM content_units
		 WHERE process_name = $1 AND is_active
		 ORDER BY process_step NULLS LAST, id`,
		processName,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUnitRows(rows)
}

func (r *RelationshipRepository) ListChanged(ctx context.Context, limit int) ([]*domain.ContentUnit, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+unitColumns+` FROM content_units
		 WHERE is_active AND (links_built_at IS NULL OR links_built_at < updated_at)
		 ORDER BY updated_at, id
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUnitRows(rows)
}

func (r *RelationshipRepository) ListActive(ctx context.Context, afterID string, limit int) ([]*domain.ContentUnit, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+unitColumns+` FROM content_units
		 WHERE is_active AND id > $1
		 ORDER BY id
		 LIMIT $2`,
		afterID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUnitRows(rows)
}

func (r *RelationshipRepository) NearestByContent(ctx context.Context, unitID string, embedding []float32, maxDistance float32, limit int) ([]*service.Candidate, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+unitColumns+`,
		 1 - (content_embedding <=> $2) AS content_similarity
		 FROM content_units
		 WHERE is_active AND id <> $1
		   AND content_embedding IS NOT NULL
		   AND content_embedding <=> $2 <= $3
		 ORDER BY content_embedding <=> $2
		 LIMIT $4`,
		unitID, pgvector.NewVector(embedding), maxDistance, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []*service.Candidate
	for rows.Next() {
		c := &service.Candidate{}
		u, err := scanUnitWith(rows, &c.ContentSimilarity)
		if err != nil {
			return nil, err
		}
		c.Unit = u
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

func (r *RelationshipRepository) ContradictionCandidates(ctx context.Context, u *domain.ContentUnit) ([]*domain.ContentUnit, error) {
	if len(u.Entities) == 0 || len(u.Conditions) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+unitColumns+` FROM content_units
		 WHERE is_active AND id <> $1
		   AND entities && $2 AND conditions && $3
		 ORDER BY id`,
		u.ID, u.Entities, u.Conditions,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUnitRows(rows)
}

func (r *RelationshipRepository) ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	existing := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return existing, nil
	}
	rows, err := r.db.Query(ctx,
		`SELECT id FROM content_units WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		existing[id] = true
	}
	return existing, rows.Err()
}

func (r *RelationshipRepository) UpdateLinks(ctx context.Context, id string, links domain.LinkSets, builtAt time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE content_units SET
		 prerequisite_ids = $2, see_also_ids = $3, follows_ids = $4, contradiction_ids = $5,
		 links_built_at = $6
		 WHERE id = $1`,
		id, emptyAsNil(links.PrerequisiteIDs), emptyAsNil(links.SeeAlsoIDs),
		emptyAsNil(links.FollowsIDs), emptyAsNil(links.ContradictionIDs), builtAt,
	)
	return err
}

func (r *RelationshipRepository) FlagReview(ctx context.Context, id, reason string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE content_units SET needs_review = true, review_reason = $2 WHERE id = $1`,
		id, reason,
	)
	return err
}
