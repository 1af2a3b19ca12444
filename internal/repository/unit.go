package repository

import (
	"context"
	"errors"
	"time"

	"github.com/cloo-solutions/recallai/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

const unitColumns = `id, source, section_title, section_order, content, synthetic_questions,
	content_embedding, questions_embedding,
	entities, verbs, actors, conditions, query_types,
	is_procedure, is_policy, is_form,
	importance, specificity, complexity, completeness, actionability, confidence,
	process_name, process_step,
	prerequisite_ids, see_also_ids, follows_ids, contradiction_ids,
	access_scope, is_active, needs_review, review_reason, cluster_id,
	content_hash, access_count, last_accessed, links_built_at,
	created_at, updated_at`

// UnitRepository handles persistence of content units.
type UnitRepository struct {
	db dbtx
}

func NewUnitRepository(pool *pgxpool.Pool) *UnitRepository {
	return &UnitRepository{db: pool}
}

func NewUnitRepositoryWithTx(tx dbtx) *UnitRepository {
	return &UnitRepository{db: tx}
}

func (r *UnitRepository) Create(ctx context.Context, u *domain.ContentUnit) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO content_units (`+unitColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			 $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30,
			 $31, $32, $33, $34, $35, $36, $37, $38, $39)`,
		u.ID, u.Source, nullableString(u.SectionTitle), u.SectionOrder, u.Content, emptyAsNil(u.SyntheticQuestions),
		nullableVector(u.ContentEmbedding), nullableVector(u.QuestionsEmbedding),
		emptyAsNil(u.Entities), emptyAsNil(u.Verbs), emptyAsNil(u.Actors), emptyAsNil(u.Conditions), emptyAsNil(u.QueryTypes),
		u.IsProcedure, u.IsPolicy, u.IsForm,
		u.Scores.Importance, u.Scores.Specificity, u.Scores.Complexity,
		u.Scores.Completeness, u.Scores.Actionability, u.Scores.Confidence,
		nullableString(u.ProcessName), u.ProcessStep,
		emptyAsNil(u.PrerequisiteIDs), emptyAsNil(u.SeeAlsoIDs), emptyAsNil(u.FollowsIDs), emptyAsNil(u.ContradictionIDs),
		emptyAsNil(u.AccessScope), u.IsActive, u.NeedsReview, nullableString(u.ReviewReason), u.ClusterID,
		u.ContentHash, u.AccessCount, u.LastAccessed, u.LinksBuiltAt,
		u.CreatedAt, u.UpdatedAt,
	)
	return err
}

func (r *UnitRepository) Update(ctx context.Context, u *domain.ContentUnit) error {
	_, err := r.db.Exec(ctx,
		`UPDATE content_units SET
		 section_title = $2, content = $3, synthetic_questions = $4,
		 content_embedding = $5, questions_embedding = $6,
		 entities = $7, verbs = $8, actors = $9, conditions = $10, query_types = $11,
		 is_procedure = $12, is_policy = $13, is_form = $14,
		 importance = $15, specificity = $16, complexity = $17,
		 completeness = $18, actionability = $19, confidence = $20,
		 process_name = $21, process_step = $22,
		 access_scope = $23, is_active = $24, needs_review = $25, review_reason = $26,
		 content_hash = $27, updated_at = $28
		 WHERE id = $1`,
		u.ID, nullableString(u.SectionTitle), u.Content, emptyAsNil(u.SyntheticQuestions),
		nullableVector(u.ContentEmbedding), nullableVector(u.QuestionsEmbedding),
		emptyAsNil(u.Entities), emptyAsNil(u.Verbs), emptyAsNil(u.Actors), emptyAsNil(u.Conditions), emptyAsNil(u.QueryTypes),
		u.IsProcedure, u.IsPolicy, u.IsForm,
		u.Scores.Importance, u.Scores.Specificity, u.Scores.Complexity,
		u.Scores.Completeness, u.Scores.Actionability, u.Scores.Confidence,
		nullableString(u.ProcessName), u.ProcessStep,
		emptyAsNil(u.AccessScope), u.IsActive, u.NeedsReview, nullableString(u.ReviewReason),
		u.ContentHash, u.UpdatedAt,
	)
	return err
}

func (r *UnitRepository) GetByID(ctx context.Context, id string) (*domain.ContentUnit, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+unitColumns+` FROM content_units WHERE id = $1`, id)
	u, err := scanUnit(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUnitNotFound
		}
		return nil, err
	}
	return u, nil
}

func (r *UnitRepository) GetByIDs(ctx context.Context, ids []string) ([]*domain.ContentUnit, error) {
	if len(ids) == 0 {
		return []*domain.ContentUnit{}, nil
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+unitColumns+` FROM content_units WHERE id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUnitRows(rows)
}

func (r *UnitRepository) FindActiveByHash(ctx context.Context, hash string) (*domain.ContentUnit, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+unitColumns+` FROM content_units
		 WHERE content_hash = $1 AND is_active
		 ORDER BY created_at ASC LIMIT 1`, hash)
	u, err := scanUnit(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUnitNotFound
		}
		return nil, err
	}
	return u, nil
}

func (r *UnitRepository) TouchAccess(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE content_units
		 SET access_count = access_count + 1, last_accessed = $2
		 WHERE id = $1`,
		id, time.Now().UTC(),
	)
	return err
}

// Deactivate soft-deletes a unit. Rows are never removed so surviving
// referrers keep valid relationship targets.
func (r *UnitRepository) Deactivate(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE content_units SET is_active = false, updated_at = $2 WHERE id = $1`,
		id, time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUnitNotFound
	}
	return nil
}

func (r *UnitRepository) SetCluster(ctx context.Context, id string, clusterID *string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE content_units SET cluster_id = $2 WHERE id = $1`,
		id, clusterID,
	)
	return err
}

func (r *UnitRepository) FlagReview(ctx context.Context, id, reason string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE content_units SET needs_review = true, review_reason = $2 WHERE id = $1`,
		id, reason,
	)
	return err
}

func nullableVector(v []float32) *pgvector.Vector {
	if len(v) == 0 {
		return nil
	}
	vec := pgvector.NewVector(v)
	return &vec
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUnit(row rowScanner) (*domain.ContentUnit, error) {
	return scanUnitWith(row)
}

// scanUnitWith scans the shared unit column list plus any trailing
// per-query columns (similarity scores, ranks).
func scanUnitWith(row rowScanner, extras ...any) (*domain.ContentUnit, error) {
	var u domain.ContentUnit
	var sectionTitle, processName, reviewReason, clusterID *string
	var contentVec, questionsVec *pgvector.Vector

	dest := []any{
		&u.ID, &u.Source, &sectionTitle, &u.SectionOrder, &u.Content, &u.SyntheticQuestions,
		&contentVec, &questionsVec,
		&u.Entities, &u.Verbs, &u.Actors, &u.Conditions, &u.QueryTypes,
		&u.IsProcedure, &u.IsPolicy, &u.IsForm,
		&u.Scores.Importance, &u.Scores.Specificity, &u.Scores.Complexity,
		&u.Scores.Completeness, &u.Scores.Actionability, &u.Scores.Confidence,
		&processName, &u.ProcessStep,
		&u.PrerequisiteIDs, &u.SeeAlsoIDs, &u.FollowsIDs, &u.ContradictionIDs,
		&u.AccessScope, &u.IsActive, &u.NeedsReview, &reviewReason, &clusterID,
		&u.ContentHash, &u.AccessCount, &u.LastAccessed, &u.LinksBuiltAt,
		&u.CreatedAt, &u.UpdatedAt,
	}
	dest = append(dest, extras...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	if sectionTitle != nil {
		u.SectionTitle = *sectionTitle
	}
	if processName != nil {
		u.ProcessName = *processName
	}
	if reviewReason != nil {
		u.ReviewReason = *reviewReason
	}
	u.ClusterID = clusterID
	if contentVec != nil {
		u.ContentEmbedding = contentVec.Slice()
	}
	if questionsVec != nil {
		u.QuestionsEmbedding = questionsVec.Slice()
	}
	return &u, nil
}

func scanUnitRows(rows pgx.Rows) ([]*domain.ContentUnit, error) {
	var units []*domain.ContentUnit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, rows.Err()
}
