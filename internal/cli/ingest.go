package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"vulnscope/features/corpus"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file.jsonl]",
	Short: "Load reference documents into the corpus registry",
	Long: `Read one JSON document per line and upsert each into Postgres.
Every document needs id, body and source_tag; title and url are optional.

Examples:
  corpusctl ingest mitre_attack.jsonl
  cat owasp.jsonl | corpusctl ingest -`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	in := os.Stdin
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open input: %w", err)
		}
		defer f.Close()
		in = f
	}

	docs, err := corpus.ReadJSONL(in)
	if err != nil {
		return fmt.Errorf("failed to parse input: %w", err)
	}
	if len(docs) == 0 {
		return fmt.Errorf("no documents in input")
	}

	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	repo := corpus.NewPostgresRepo(db)
	service := corpus.NewService(repo, nil)

	stored, err := service.Ingest(cmd.Context(), docs)
	if err != nil {
		return fmt.Errorf("ingest failed after %d documents: %w", stored, err)
	}

	fmt.Printf("Ingested %d documents\n", stored)
	return nil
}
