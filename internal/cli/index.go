package cli

import (
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"vulnscope/features/corpus"
	"vulnscope/internal/chunk"
	"vulnscope/internal/index"
)

var (
	indexSourceTag string
	indexRebuild   bool
	indexBatchSize int
	indexLimit     int
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Chunk, embed and upsert registered documents",
	Long: `Build the vector index for one source tag. Already-indexed chunks
are detected by content hash and skipped, so re-running is cheap.

Examples:
  corpusctl index --source-tag mitre_attack
  corpusctl index --source-tag owasp --rebuild`,
	RunE: runIndexCmd,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.Flags().StringVarP(&indexSourceTag, "source-tag", "t", "", "source tag to index (required)")
	indexCmd.Flags().BoolVar(&indexRebuild, "rebuild", false, "truncate the source tag before indexing")
	indexCmd.Flags().IntVar(&indexBatchSize, "batch-size", 0, "embedding batch size (default from config)")
	indexCmd.Flags().IntVar(&indexLimit, "limit", 0, "index at most N documents (0 = all)")
	indexCmd.MarkFlagRequired("source-tag")
}

func runIndexCmd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	store, err := openVectorStore(ctx)
	if err != nil {
		return err
	}
	embedder, err := openEmbedder(ctx)
	if err != nil {
		return err
	}

	repo := corpus.NewPostgresRepo(db)
	documents, err := repo.ListBySourceTag(ctx, indexSourceTag)
	if err != nil {
		return fmt.Errorf("failed to list documents: %w", err)
	}
	if len(documents) == 0 {
		return fmt.Errorf("no documents registered for source tag %q", indexSourceTag)
	}
	if indexLimit > 0 && indexLimit < len(documents) {
		documents = documents[:indexLimit]
	}

	batchSize := cfg.IndexBatchSize
	if indexBatchSize > 0 {
		batchSize = indexBatchSize
	}
	indexer := index.New(embedder, store, index.Options{
		BatchSize:     batchSize,
		MaxAttempts:   cfg.EmbedRetryAttempts,
		MaxTokens:     cfg.ChunkMaxTokens,
		OverlapTokens: cfg.ChunkOverlapTokens,
	})

	if indexRebuild {
		fmt.Printf("Rebuilding index for %s...\n", indexSourceTag)
		if err := store.Truncate(ctx, indexSourceTag); err != nil {
			return fmt.Errorf("failed to truncate: %w", err)
		}
	}

	bar := progressbar.NewOptions(len(documents),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("Indexing"),
		progressbar.OptionOnCompletion(func() {
			fmt.Println()
		}),
	)

	inserted := 0
	var failures []string
	for _, doc := range documents {
		n, err := indexer.IndexDocuments(ctx, []chunk.Document{{
			ID:        doc.ID,
			Title:     doc.Title,
			Body:      doc.Body,
			SourceTag: doc.SourceTag,
			URL:       doc.URL,
		}})
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", doc.ID, err))
		}
		inserted += n
		bar.Add(1)
	}

	fmt.Printf("\nIndexing complete:\n")
	fmt.Printf("  Documents:       %d\n", len(documents))
	fmt.Printf("  Chunks inserted: %d (model %s)\n", inserted, embedder.Model())
	if len(failures) > 0 {
		fmt.Printf("\nWarnings:\n")
		for _, f := range failures {
			fmt.Printf("  - %s\n", f)
		}
	}
	return nil
}
