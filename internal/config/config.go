package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var ErrMissingRequired = errors.New("missing required configuration")

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"vulnscope"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"vulnscope"`

	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`

	NSQLookupd    string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost      string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP      string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`
	NSQMaxMsgSize int64  `envconfig:"NSQ_MAX_MSG_SIZE" default:"10485760"` // 10MB

	GeminiAPIKey   string `envconfig:"GEMINI_API_KEY"`
	EmbeddingModel string `envconfig:"EMBEDDING_MODEL" default:"gemini-embedding-001"`
	AnalyzerModel  string `envconfig:"ANALYZER_MODEL" default:"gemini-2.0-flash"`
	GeminiRPM      int    `envconfig:"GEMINI_RPM" default:"60"`

	// Chunking and indexing
	ChunkMaxTokens     int `envconfig:"CHUNK_MAX_TOKENS" default:"512"`
	ChunkOverlapTokens int `envconfig:"CHUNK_OVERLAP_TOKENS" default:"50"`
	IndexBatchSize     int `envconfig:"INDEX_BATCH_SIZE" default:"64"`
	EmbedRetryAttempts int `envconfig:"EMBED_RETRY_ATTEMPTS" default:"4"`

	// Retrieval and analysis
	RetrievalTopK          int     `envconfig:"RETRIEVAL_TOP_K" default:"5"`
	RetrievalMaxDistance   float32 `envconfig:"RETRIEVAL_MAX_DISTANCE" default:"0.3"`
	QueryLogPath           string  `envconfig:"QUERY_LOG_PATH"`
	AnalysisConcurrency    int     `envconfig:"ANALYSIS_CONCURRENCY" default:"5"`
	AnalysisTimeoutSeconds int     `envconfig:"ANALYSIS_TIMEOUT_SECONDS" default:"30"`
	RunTimeoutSeconds      int     `envconfig:"RUN_TIMEOUT_SECONDS" default:"300"`

	EnableAPI         bool   `envconfig:"ENABLE_API" default:"true"`
	EnableIndexWorker bool   `envconfig:"ENABLE_INDEX_WORKER" default:"false"`
	MigrationPath     string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// Server
	ServerPort int `envconfig:"SERVER_PORT" default:"8081"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Try loading .env from current dir and repo root.
	// Ignore errors, as env vars might be set in the shell.
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	rootEnv := filepath.Join(cwd, "../../.env")
	_ = godotenv.Load(rootEnv)

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}
	if c.ChunkMaxTokens <= c.ChunkOverlapTokens || c.ChunkOverlapTokens <= 0 {
		return fmt.Errorf("%w: CHUNK_MAX_TOKENS must exceed CHUNK_OVERLAP_TOKENS (both positive)", ErrMissingRequired)
	}
	return nil
}
