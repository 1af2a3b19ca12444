package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cloo-solutions/recallai/internal/domain"
	"github.com/cloo-solutions/recallai/internal/service"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// consolidationLockKey identifies the cross-process consolidation lock.
const consolidationLockKey = 792411001

// ClusterRepository handles persistence of clusters, the consolidation
// checkpoint and the advisory lock guarding consolidation runs.
type ClusterRepository struct {
	pool *pgxpool.Pool

	// Advisory locks are session-scoped, so the lock must be taken and
	// released on the same dedicated connection.
	mu       sync.Mutex
	lockConn *pgxpool.Conn
}

func NewClusterRepository(pool *pgxpool.Pool) *ClusterRepository {
	return &ClusterRepository{pool: pool}
}

const clusterColumns = `id, centroid, member_count, created_at, updated_at`

func scanCluster(row rowScanner) (*domain.Cluster, error) {
	var c domain.Cluster
	var centroid pgvector.Vector
	if err := row.Scan(&c.ID, &centroid, &c.MemberCount, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Centroid = centroid.Slice()
	return &c, nil
}

func (r *ClusterRepository) Create(ctx context.Context, c *domain.Cluster) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO clusters (`+clusterColumns+`) VALUES ($1, $2, $3, $4, $5)`,
		c.ID, pgvector.NewVector(c.Centroid), c.MemberCount, c.CreatedAt, c.UpdatedAt,
	)
	return err
}

func (r *ClusterRepository) GetByID(ctx context.Context, id string) (*domain.Cluster, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+clusterColumns+` FROM clusters WHERE id = $1`, id)
	c, err := scanCluster(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrClusterNotFound
		}
		return nil, err
	}
	return c, nil
}

func (r *ClusterRepository) Delete(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM clusters WHERE id = $1`, id)
	return err
}

func (r *ClusterRepository) List(ctx context.Context, afterID string, limit int) ([]*domain.Cluster, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+clusterColumns+` FROM clusters WHERE id > $1 ORDER BY id LIMIT $2`,
		afterID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clusters []*domain.Cluster
	for rows.Next() {
		c, err := scanCluster(rows)
		if err != nil {
			return nil, err
		}
		clusters = append(clusters, c)
	}
	return clusters, rows.Err()
}

func (r *ClusterRepository) Nearest(ctx context.Context, embedding []float32, excludeID string) (*domain.Cluster, float32, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+clusterColumns+`, centroid <=> $1 AS distance
		 FROM clusters
		 WHERE id <> $2
		 ORDER BY centroid <=> $1
		 LIMIT 1`,
		pgvector.NewVector(embedding), excludeID,
	)

	var c domain.Cluster
	var centroid pgvector.Vector
	var distance float32
	err := row.Scan(&c.ID, &centroid, &c.MemberCount, &c.CreatedAt, &c.UpdatedAt, &distance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, 0, domain.ErrClusterNotFound
		}
		return nil, 0, err
	}
	c.Centroid = centroid.Slice()
	return &c, distance, nil
}

// RecomputeCentroid recalculates the centroid as the mean of member content
// embeddings and refreshes member_count. A cluster whose members all lack a
// content embedding keeps its previous centroid.
func (r *ClusterRepository) RecomputeCentroid(ctx context.Context, id string) (int32, error) {
	var count int32
	err := r.pool.QueryRow(ctx,
		`WITH members AS (
		   SELECT AVG(content_embedding) AS mean, COUNT(*) AS n
		   FROM content_units
		   WHERE cluster_id = $1 AND is_active
		 )
		 UPDATE clusters c
		 SET centroid = COALESCE(m.mean, c.centroid),
		     member_count = m.n,
		     updated_at = $2
		 FROM members m
		 WHERE c.id = $1
		 RETURNING c.member_count`,
		id, time.Now().UTC(),
	).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrClusterNotFound
		}
		return 0, err
	}
	return count, nil
}

// ReassignUnits moves members of one cluster to another one row at a time,
// so a crash mid-move leaves every unit with a valid assignment.
func (r *ClusterRepository) ReassignUnits(ctx context.Context, fromID, toID string) (int64, error) {
	var moved int64
	for {
		tag, err := r.pool.Exec(ctx,
			`UPDATE content_units SET cluster_id = $2
			 WHERE id = (
			   SELECT id FROM content_units WHERE cluster_id = $1 ORDER BY id LIMIT 1
			 )`,
			fromID, toID,
		)
		if err != nil {
			return moved, err
		}
		if tag.RowsAffected() == 0 {
			return moved, nil
		}
		moved += tag.RowsAffected()
	}
}

func (r *ClusterRepository) MemberEmbeddings(ctx context.Context, id string, limit int) ([]service.MemberEmbedding, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, content_embedding FROM content_units
		 WHERE cluster_id = $1 AND is_active AND content_embedding IS NOT NULL
		 ORDER BY id
		 LIMIT $2`,
		id, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []service.MemberEmbedding
	for rows.Next() {
		var m service.MemberEmbedding
		var vec pgvector.Vector
		if err := rows.Scan(&m.UnitID, &vec); err != nil {
			return nil, err
		}
		m.Embedding = vec.Slice()
		members = append(members, m)
	}
	return members, rows.Err()
}

func (r *ClusterRepository) SetUnitCluster(ctx context.Context, unitID, clusterID string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE content_units SET cluster_id = $2 WHERE id = $1`,
		unitID, clusterID,
	)
	return err
}

// GetCheckpoint returns the current checkpoint, or (nil, nil) when no run
// is in progress.
func (r *ClusterRepository) GetCheckpoint(ctx context.Context) (*domain.ConsolidationCheckpoint, error) {
	var cp domain.ConsolidationCheckpoint
	err := r.pool.QueryRow(ctx,
		`SELECT run_id, phase, cursor, started_at, updated_at
		 FROM consolidation_checkpoints WHERE singleton`,
	).Scan(&cp.RunID, &cp.Phase, &cp.Cursor, &cp.StartedAt, &cp.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &cp, nil
}

func (r *ClusterRepository) SaveCheckpoint(ctx context.Context, cp *domain.ConsolidationCheckpoint) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO consolidation_checkpoints (singleton, run_id, phase, cursor, started_at, updated_at)
		 VALUES (true, $1, $2, $3, $4, $5)
		 ON CONFLICT (singleton) DO UPDATE
		 SET run_id = EXCLUDED.run_id, phase = EXCLUDED.phase, cursor = EXCLUDED.cursor,
		     started_at = EXCLUDED.started_at, updated_at = EXCLUDED.updated_at`,
		cp.RunID, cp.Phase, cp.Cursor, cp.StartedAt, cp.UpdatedAt,
	)
	return err
}

func (r *ClusterRepository) ClearCheckpoint(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM consolidation_checkpoints`)
	return err
}

func (r *ClusterRepository) TryLock(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lockConn != nil {
		return false, nil
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return false, err
	}

	var acquired bool
	err = conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, consolidationLockKey).Scan(&acquired)
	if err != nil {
		conn.Release()
		return false, err
	}
	if !acquired {
		conn.Release()
		return false, nil
	}

	r.lockConn = conn
	return true, nil
}

func (r *ClusterRepository) Unlock(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lockConn == nil {
		return nil
	}

	_, err := r.lockConn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, consolidationLockKey)
	r.lockConn.Release()
	r.lockConn = nil
	return err
}
