package admin

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloo-solutions/recallai/internal/api/handlers"
	"github.com/cloo-solutions/recallai/internal/config"
	"github.com/cloo-solutions/recallai/internal/jobs"
	"github.com/cloo-solutions/recallai/internal/openai"
	"github.com/cloo-solutions/recallai/internal/repository"
	"github.com/cloo-solutions/recallai/internal/server"
	"github.com/cloo-solutions/recallai/internal/service"
	"github.com/cloo-solutions/recallai/internal/telemetry"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the retrieval engine",
		Long:  "Start the recall API server and the background enrichment worker",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "8080", "Port to listen on")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize Sentry with tracing if SENTRY_DSN is set
	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		environment := os.Getenv("ENVIRONMENT")
		if environment == "" {
			environment = "development"
		}

		// Default to 10% sampling in production, 100% in development
		sampleRate := 0.1
		if environment == "development" {
			sampleRate = 1.0
		}

		shutdownTelemetry, err := telemetry.Init(telemetry.Config{
			DSN:              dsn,
			Environment:      environment,
			TracesSampleRate: sampleRate,
		})
		if err != nil {
			log.Printf("telemetry init failed (continuing without tracing): %v", err)
		} else {
			defer shutdownTelemetry()
		}
	}

	portFlag, _ := cmd.Flags().GetString("port")
	if portFlag != "" && portFlag != "8080" {
		cfg.Port = portFlag
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	log.Println("connected to database")

	// Run migrations unless --no-migrate flag is set
	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	if !noMigrate {
		if err := runMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	unitRepo := repository.NewUnitRepository(pool)
	searchRepo := repository.NewSearchRepository(pool)
	clusterRepo := repository.NewClusterRepository(pool)
	jobRepo := repository.NewEnrichmentJobRepository(pool)

	uuidGen := &service.DefaultUUIDGenerator{}

	var embedder service.EmbeddingClient
	var generative service.GenerativeClient
	if cfg.HasOpenAI() {
		client := openai.NewClient(cfg.OpenAIAPIKey)
		embedder = client
		generative = &GenerativeAdapter{client: client}
	} else {
		embedder = &NoOpEmbedder{}
		generative = &NoOpGenerative{}
		log.Println("OPENAI_API_KEY not set: enrichment and retrieval degrade to errors")
	}

	enrichmentSvc := service.NewEnrichmentService(unitRepo, embedder, generative, cfg.Enrichment)
	lifecycleSvc := service.NewLifecycleService(unitRepo, clusterRepo, enrichmentSvc, uuidGen, cfg.Clustering)
	retrievalSvc := service.NewRetrievalService(searchRepo, cfg.Retrieval)

	var enrichmentWorker *jobs.Worker
	if cfg.HasOpenAI() {
		processor := jobs.NewEnrichmentWorker(jobRepo, lifecycleSvc, cfg.Enrichment.MaxRetries, cfg.Enrichment.Concurrency)
		enrichmentWorker = jobs.NewWorker(processor, cfg.Enrichment.PollInterval)
		go enrichmentWorker.Start(ctx)
		log.Println("enrichment worker started")
	}

	routerCfg := server.RouterConfig{
		RetrievalHandler: handlers.NewRetrievalHandler(retrievalSvc, embedder),
		ExchangeHandler:  handlers.NewExchangeHandler(lifecycleSvc),
	}

	router := server.NewRouter(routerCfg)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	if enrichmentWorker != nil {
		enrichmentWorker.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("server exited")
	return nil
}

// GenerativeAdapter maps the OpenAI client's result types onto the
// enrichment service contract.
type GenerativeAdapter struct {
	client *openai.Client
}

func (a *GenerativeAdapter) GenerateQuestions(ctx context.Context, content string, tagContext []string) ([]string, error) {
	return a.client.GenerateQuestions(ctx, content, tagContext)
}

func (a *GenerativeAdapter) ClassifyContent(ctx context.Context, content string) (service.ContentClassification, error) {
	c, err := a.client.ClassifyContent(ctx, content)
	if err != nil {
		return service.ContentClassification{}, err
	}
	return service.ContentClassification{
		QueryTypes:  c.QueryTypes,
		IsProcedure: c.IsProcedure,
		IsPolicy:    c.IsPolicy,
		IsForm:      c.IsForm,
	}, nil
}

func (a *GenerativeAdapter) ScoreContent(ctx context.Context, content string) (service.ContentScores, error) {
	s, err := a.client.ScoreContent(ctx, content)
	if err != nil {
		return service.ContentScores{}, err
	}
	return service.ContentScores{
		Importance:    s.Importance,
		Specificity:   s.Specificity,
		Complexity:    s.Complexity,
		Completeness:  s.Completeness,
		Actionability: s.Actionability,
		Confidence:    s.Confidence,
	}, nil
}

type NoOpEmbedder struct{}

func (e *NoOpEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("embedding provider not configured: OPENAI_API_KEY required")
}

type NoOpGenerative struct{}

func (g *NoOpGenerative) GenerateQuestions(ctx context.Context, content string, tagContext []string) ([]string, error) {
	return nil, fmt.Errorf("generative provider not configured: OPENAI_API_KEY required")
}

func (g *NoOpGenerative) ClassifyContent(ctx context.Context, content string) (service.ContentClassification, error) {
	return service.ContentClassification{}, fmt.Errorf("generative provider not configured: OPENAI_API_KEY required")
}

func (g *NoOpGenerative) ScoreContent(ctx context.Context, content string) (service.ContentScores, error) {
	return service.ContentScores{}, fmt.Errorf("generative provider not configured: OPENAI_API_KEY required")
}

func runMigrations(databaseURL string) error {
	// Create a sql.DB connection for golang-migrate
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	// Create postgres driver instance
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	// Create migrate instance with file source
	m, err := migrate.NewWithDatabaseInstance(
		"file://migrations",
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	// Run migrations
	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	// Get migration version and status
	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if err == migrate.ErrNilVersion {
		log.Println("migrations: database is up to date (no migrations applied)")
	} else if dirty {
		return fmt.Errorf("migration version %d is dirty - manual intervention required", version)
	} else if err == migrate.ErrNoChange {
		log.Printf("migrations: database is up to date (version %d)", version)
	} else {
		log.Printf("migrations: applied successfully (version %d)", version)
	}

	return nil
}
