package admin

import (
	"context"
	"fmt"
	"log"

	"github.com/cloo-solutions/recallai/internal/config"
	"github.com/cloo-solutions/recallai/internal/repository"
	"github.com/cloo-solutions/recallai/internal/service"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

// RebuildLinksCmd returns the rebuild-links command
func RebuildLinksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rebuild-links",
		Short: "Rebuild unit relationships",
		Long:  "Rebuild follows, prerequisite, see-also and contradiction links. Incremental by default; --full rebuilds every active unit.",
		RunE:  runRebuildLinks,
	}

	cmd.Flags().Bool("full", false, "Rebuild links for every active unit, not just changed ones")

	return cmd
}

func runRebuildLinks(cmd *cobra.Command, args []string) error {
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

	builder := service.NewRelationshipBuilder(repository.NewRelationshipRepository(pool), cfg.Retrieval)

	full, _ := cmd.Flags().GetBool("full")

	var rebuilt int
	if full {
		rebuilt, err = builder.BuildFull(ctx)
	} else {
		rebuilt, err = builder.BuildIncremental(ctx)
	}
	if err != nil {
		return fmt.Errorf("link rebuild failed: %w", err)
	}

	log.Printf("rebuilt links for %d units", rebuilt)
	return nil
}
