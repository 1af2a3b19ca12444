package admin

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/cloo-solutions/recallai/internal/config"
	"github.com/cloo-solutions/recallai/internal/domain"
	"github.com/cloo-solutions/recallai/internal/repository"
	"github.com/cloo-solutions/recallai/internal/service"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

// ConsolidateCmd returns the consolidate command
func ConsolidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "consolidate",
		Short: "Run cluster consolidation",
		Long:  "Recompute centroids, merge near-duplicate clusters and split oversized ones. Resumes from the last checkpoint after a crash.",
		RunE:  runConsolidate,
	}
}

func runConsolidate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	svc := service.NewConsolidationService(
		repository.NewClusterRepository(pool),
		&service.DefaultUUIDGenerator{},
		cfg.Clustering,
	)

	result, err := svc.Run(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrConsolidationRunning) {
			log.Println("consolidation already running elsewhere, nothing to do")
			return nil
		}
		return fmt.Errorf("consolidation failed: %w", err)
	}

	log.Printf("consolidation done: %d centroids recomputed, %d merged, %d split, %d units reassigned, %d empty clusters pruned",
		result.CentroidsRecomputed, result.ClustersMerged, result.ClustersSplit,
		result.UnitsReassigned, result.EmptyClustersPruned)
	return nil
}
