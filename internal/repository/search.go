package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloo-solutions/recallai/internal/domain"
	"github.com/cloo-solutions/recallai/internal/service"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// SearchRepository implements the read-side query paths. All of its
// queries are strictly read-only.
type SearchRepository struct {
	db dbtx
}

func NewSearchRepository(pool *pgxpool.Pool) *SearchRepository {
	return &SearchRepository{db: pool}
}

// hintFilters appends one array-overlap predicate per supplied hint set.
// Predicates are ANDed: a unit must overlap every supplied set to survive.
func hintFilters(where []string, args []any, hints service.QueryHints) ([]string, []any) {
	add := func(col string, vals []string) {
		if len(vals) == 0 {
			return
		}
		args = append(args, vals)
		where = append(where, fmt.Sprintf("%s && $%d", col, len(args)))
	}
	add("query_types", hints.QueryTypes)
	add("entities", hints.Entities)
	add("verbs", hints.Verbs)
	add("actors", hints.Actors)
	add("conditions", hints.Conditions)
	return where, args
}

func (r *SearchRepository) SearchCandidates(ctx context.Context, embedding []float32, scope string, hints service.QueryHints, limit int) ([]*service.Candidate, error) {
	args := []any{pgvector.NewVector(embedding), scope}
	where := []string{
		"is_active",
		"content_embedding IS NOT NULL",
		"access_scope @> ARRAY[$2]::text[]",
	}
	where, args = hintFilters(where, args, hints)
	args = append(args, limit)

	query := `SELECT ` + unitColumns + `,
		 1 - (content_embedding <=> $1) AS content_similarity,
		 CASE WHEN questions_embedding IS NULL THEN 0
		      ELSE 1 - (questions_embedding <=> $1) END AS questions_similarity,
		 questions_embedding IS NOT NULL AS has_questions
		 FROM content_units
		 WHERE ` + strings.Join(where, " AND ") + `
		 ORDER BY content_embedding <=> $1
		 LIMIT $` + fmt.Sprint(len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []*service.Candidate
	for rows.Next() {
		c := &service.Candidate{}
		u, err := scanUnitWith(rows, &c.ContentSimilarity, &c.QuestionsSimilarity, &c.HasQuestionsEmbedding)
		if err != nil {
			return nil, err
		}
		c.Unit = u
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

func (r *SearchRepository) SearchCandidatesLexical(ctx context.Context, query, scope string, hints service.QueryHints, limit int) ([]*service.Candidate, error) {
	args := []any{query, scope}
	where := []string{
		"is_active",
		"content_tsv @@ websearch_to_tsquery('english', $1)",
		"access_scope @> ARRAY[$2]::text[]",
	}
	where, args = hintFilters(where, args, hints)
	args = append(args, limit)

	sql := `SELECT ` + unitColumns + `,
		 ts_rank(content_tsv, websearch_to_tsquery('english', $1)) AS rank
		 FROM content_units
		 WHERE ` + strings.Join(where, " AND ") + `
		 ORDER BY rank DESC, id
		 LIMIT $` + fmt.Sprint(len(args))

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []*service.Candidate
	for rows.Next() {
		var rank float32
		u, err := scanUnitWith(rows, &rank)
		if err != nil {
			return nil, err
		}
		// ts_rank is unbounded above; squash into [0, 1).
		candidates = append(candidates, &service.Candidate{
			Unit:     u,
			TextRank: rank / (rank + 1),
		})
	}
	return candidates, rows.Err()
}

func (r *SearchRepository) FilterUnits(ctx context.Context, scope string, hints service.QueryHints, limit int) ([]*domain.ContentUnit, error) {
	args := []any{scope}
	where := []string{
		"is_active",
		"access_scope @> ARRAY[$1]::text[]",
	}
	where, args = hintFilters(where, args, hints)
	args = append(args, limit)

	sql := `SELECT ` + unitColumns + `
		 FROM content_units
		 WHERE ` + strings.Join(where, " AND ") + `
		 ORDER BY importance DESC NULLS LAST, id
		 LIMIT $` + fmt.Sprint(len(args))

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUnitRows(rows)
}

func (r *SearchRepository) ListByCluster(ctx context.Context, clusterID, scope string) ([]*service.Candidate, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+prefixedUnitColumns("u")+`,
		 CASE WHEN u.content_embedding IS NULL THEN 0
		      ELSE 1 - (u.content_embedding <=> c.centroid) END AS content_similarity
		 FROM content_units u
		 JOIN clusters c ON c.id = u.cluster_id
		 WHERE u.cluster_id = $1 AND u.is_active AND u.access_scope @> ARRAY[$2]::text[]
		 ORDER BY content_similarity DESC, u.id`,
		clusterID, scope,
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

func (r *SearchRepository) ScopeExists(ctx context.Context, scope string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM content_units
		   WHERE is_active AND access_scope @> ARRAY[$1]::text[]
		 )`, scope,
	).Scan(&exists)
	return exists, err
}

func (r *SearchRepository) GetByIDs(ctx context.Context, ids []string) ([]*domain.ContentUnit, error) {
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

// prefixedUnitColumns qualifies the shared column list with a table alias.
func prefixedUnitColumns(alias string) string {
	cols := strings.Split(unitColumns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}
