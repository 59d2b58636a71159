package cli

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"vulnscope/internal/adapter/gemini"
	wstore "vulnscope/internal/adapter/weaviate"
	"vulnscope/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "corpusctl",
	Short: "Manage the vulnerability knowledge corpus",
	Long: `corpusctl ingests reference documents into the corpus registry,
builds the vector index and runs ad-hoc retrieval checks.

Example usage:
  corpusctl ingest mitre.jsonl          # Load documents into Postgres
  corpusctl index --source-tag owasp    # Chunk, embed and upsert
  corpusctl query -q "CVE-2021-44228"   # Retrieval smoke test`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return nil
	},
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func openDB() (*sql.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPass, cfg.DBName)
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}
	return db, nil
}

func openVectorStore(ctx context.Context) (*wstore.Store, error) {
	client, err := weaviate.NewClient(weaviate.Config{Host: cfg.WeaviateHost, Scheme: cfg.WeaviateScheme})
	if err != nil {
		return nil, err
	}
	store := wstore.NewStore(client)
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}
	return store, nil
}

func openEmbedder(ctx context.Context) (*gemini.Embedder, error) {
	client, err := gemini.NewClient(ctx, cfg.GeminiAPIKey)
	if err != nil {
		return nil, err
	}
	return gemini.NewEmbedder(client, cfg.EmbeddingModel, cfg.GeminiRPM), nil
}
