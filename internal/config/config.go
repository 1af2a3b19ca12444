package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// RetrievalConfig holds the tunable scoring parameters. The weight split,
// boost magnitudes and thresholds are product-tunable, injected at startup
// and never treated as invariants by the engine.
type RetrievalConfig struct {
	// ContentWeight scales the content-embedding cosine similarity.
	ContentWeight float32 `envconfig:"RETRIEVAL_CONTENT_WEIGHT" default:"0.30"`
	// QuestionsWeight scales the synthetic-questions cosine similarity.
	QuestionsWeight float32 `envconfig:"RETRIEVAL_QUESTIONS_WEIGHT" default:"0.50"`
	// TagBonusWeight scales the hint-overlap fraction.
	TagBonusWeight float32 `envconfig:"RETRIEVAL_TAG_BONUS_WEIGHT" default:"0.20"`
	// ProcedureBoost is added when a procedure unit meets a how_to intent.
	ProcedureBoost float32 `envconfig:"RETRIEVAL_PROCEDURE_BOOST" default:"0.10"`
	// PolicyBoost is added when a policy unit meets a policy intent.
	PolicyBoost float32 `envconfig:"RETRIEVAL_POLICY_BOOST" default:"0.10"`
	// DefaultThreshold is the similarity cutoff when the caller supplies none.
	DefaultThreshold float32 `envconfig:"RETRIEVAL_DEFAULT_THRESHOLD" default:"0.60"`
	// RelatedThreshold is the lower cutoff used for see-also linking.
	RelatedThreshold float32 `envconfig:"RETRIEVAL_RELATED_THRESHOLD" default:"0.55"`
	// CandidateLimit caps the pre-filtered candidate set fetched per signal.
	CandidateLimit int `envconfig:"RETRIEVAL_CANDIDATE_LIMIT" default:"200"`
	// TextRankWeight and VectorWeight combine the signals in hybrid mode.
	TextRankWeight float32 `envconfig:"RETRIEVAL_TEXT_RANK_WEIGHT" default:"0.40"`
	VectorWeight   float32 `envconfig:"RETRIEVAL_VECTOR_WEIGHT" default:"0.60"`
}

// ClusteringConfig holds distances and batch sizes for cluster assignment
// and the consolidation job. Distances are cosine distances in [0, 2].
type ClusteringConfig struct {
	// AssignDistance is the maximum centroid distance for joining an
	// existing cluster on ingest; beyond it a new cluster is created.
	AssignDistance float32 `envconfig:"CLUSTER_ASSIGN_DISTANCE" default:"0.35"`
	// MergeDistance is the maximum distance between centroids for merging.
	MergeDistance float32 `envconfig:"CLUSTER_MERGE_DISTANCE" default:"0.25"`
	// SplitSize is the member count beyond which a cluster is split.
	SplitSize int `envconfig:"CLUSTER_SPLIT_SIZE" default:"100"`
	// BatchSize bounds units loaded per consolidation step.
	BatchSize int `envconfig:"CLUSTER_BATCH_SIZE" default:"500"`
}

// EnrichmentConfig bounds calls to the external enrichment collaborator.
type EnrichmentConfig struct {
	MaxRetries  int           `envconfig:"ENRICHMENT_MAX_RETRIES" default:"3"`
	CallTimeout time.Duration `envconfig:"ENRICHMENT_CALL_TIMEOUT" default:"30s"`
	Backoff     time.Duration `envconfig:"ENRICHMENT_BACKOFF" default:"2s"`
	// Concurrency bounds simultaneous collaborator calls per batch.
	Concurrency int `envconfig:"ENRICHMENT_CONCURRENCY" default:"4"`
	// PollInterval is how often the background worker looks for jobs.
	PollInterval time.Duration `envconfig:"ENRICHMENT_POLL_INTERVAL" default:"10s"`
}

type Config struct {
	Port  string `envconfig:"PORT" default:"8080"`
	Debug bool   `envconfig:"DEBUG" default:"false"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"recall-sources"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`

	OpenAIAPIKey string `envconfig:"OPENAI_API_KEY"`

	Retrieval  RetrievalConfig
	Clustering ClusteringConfig
	Enrichment EnrichmentConfig
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("RECALL", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}
