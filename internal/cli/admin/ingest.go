package admin

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/cloo-solutions/recallai/internal/config"
	"github.com/cloo-solutions/recallai/internal/repository"
	"github.com/cloo-solutions/recallai/internal/service"
	"github.com/cloo-solutions/recallai/internal/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

// IngestCmd returns the ingest command
func IngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest [file...]",
		Short: "Ingest source documents",
		Long:  "Split documents into content units and queue them for enrichment. Reads local files, or the configured S3 bucket with --s3-prefix.",
		RunE:  runIngest,
	}

	cmd.Flags().StringSlice("scope", nil, "Access scopes for the ingested units (required)")
	cmd.Flags().String("s3-prefix", "", "Ingest every document under this S3 prefix instead of local files")

	_ = cmd.MarkFlagRequired("scope")

	return cmd
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	scope, _ := cmd.Flags().GetStringSlice("scope")
	s3Prefix, _ := cmd.Flags().GetString("s3-prefix")

	if s3Prefix == "" && len(args) == 0 {
		return fmt.Errorf("nothing to ingest: pass files or --s3-prefix")
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	unitRepo := repository.NewUnitRepository(pool)
	txRunner := repository.NewTxRunner(pool)
	svc := service.NewDocumentIngestService(unitRepo, txRunner, &service.DefaultUUIDGenerator{})

	documents, err := collectDocuments(ctx, cfg, s3Prefix, args)
	if err != nil {
		return err
	}

	var created, skipped int
	for source, text := range documents {
		result, err := svc.IngestDocument(ctx, source, text, scope)
		if err != nil {
			return fmt.Errorf("failed to ingest %s: %w", source, err)
		}
		created += len(result.UnitIDs)
		skipped += result.Skipped
		log.Printf("ingested %s: %d units, %d duplicates skipped", source, len(result.UnitIDs), result.Skipped)
	}

	log.Printf("done: %d units created, %d duplicates skipped", created, skipped)
	return nil
}

func collectDocuments(ctx context.Context, cfg *config.Config, s3Prefix string, files []string) (map[string]string, error) {
	documents := make(map[string]string)

	if s3Prefix != "" {
		if !cfg.HasS3() {
			return nil, fmt.Errorf("--s3-prefix requires S3_ENDPOINT, S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY")
		}
		client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			Bucket:          cfg.S3Bucket,
			UsePathStyle:    true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 client: %w", err)
		}

		keys, err := client.ListDocuments(ctx, s3Prefix)
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			text, err := client.GetDocument(ctx, key)
			if err != nil {
				return nil, err
			}
			documents[key] = text
		}
		return documents, nil
	}

	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		documents[filepath.Base(path)] = string(data)
	}
	return documents, nil
}
