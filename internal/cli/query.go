package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"vulnscope/internal/report"
	"vulnscope/internal/retrieval"
)

var (
	queryText string
	queryTopK int
	queryJSON bool
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Run an ad-hoc retrieval check",
	Long: `Extract the first vulnerability identifier from the query text and
retrieve its nearest chunks, exactly as the analysis pipeline would.

Examples:
  corpusctl query -q "T1059.001"
  corpusctl query -q "CVE-2021-44228" --top-k 10 --json`,
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().StringVarP(&queryText, "query", "q", "", "query text containing a vulnerability id (required)")
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "number of results (default from config)")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output as JSON")
	queryCmd.MarkFlagRequired("query")
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	findings := report.ExtractFindings(queryText)
	if len(findings) == 0 {
		return fmt.Errorf("no recognizable vulnerability id in query")
	}
	finding := findings[0]

	store, err := openVectorStore(ctx)
	if err != nil {
		return err
	}
	embedder, err := openEmbedder(ctx)
	if err != nil {
		return err
	}

	topK := cfg.RetrievalTopK
	if queryTopK > 0 {
		topK = queryTopK
	}
	service := retrieval.NewService(embedder, store, topK).
		WithMaxDistance(cfg.RetrievalMaxDistance)

	rc, err := service.Retrieve(ctx, finding)
	if err != nil {
		return fmt.Errorf("retrieval failed: %w", err)
	}

	if queryJSON {
		output, _ := json.MarshalIndent(rc, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	if len(rc.Chunks) == 0 {
		fmt.Printf("No context found for %s\n", finding.ID)
		return nil
	}
	fmt.Printf("Found %d chunks for %s (query: %q)\n\n", len(rc.Chunks), finding.ID, rc.Query)
	for i, content := range rc.Chunks {
		fmt.Printf("--- [%d] distance %.4f ---\n", i+1, rc.Distances[i])
		if len(content) > 500 {
			content = content[:500] + "..."
		}
		fmt.Println(content)
		fmt.Println()
	}
	if len(rc.CitationURLs) > 0 {
		fmt.Println("Citations:")
		for _, url := range rc.CitationURLs {
			fmt.Printf("  - %s\n", url)
		}
	}
	return nil
}
