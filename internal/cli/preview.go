package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"ta-content-pipeline/internal/bootstrap"
	"ta-content-pipeline/internal/service"
	"ta-content-pipeline/internal/source"
)

var (
	previewJSON bool
	previewText bool
)

var previewCmd = &cobra.Command{
	Use:   "preview [input.json]",
	Short: "Show how content units would be chunked",
	Long: `Validates and chunks content units without calling the embedding service
or touching the vector store. Useful for tuning chunking.* settings.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPreview,
}

func init() {
	previewCmd.Flags().BoolVar(&previewJSON, "json", false, "print chunks as JSON")
	previewCmd.Flags().BoolVar(&previewText, "text", false, "include chunk text in the listing")
	rootCmd.AddCommand(previewCmd)
}

func runPreview(cmd *cobra.Command, args []string) error {
	units, err := source.FileLoader{Path: inputPath(args)}.Load(cmd.Context())
	if err != nil {
		return err
	}
	chunk, err := bootstrap.NewChunker(cfg)
	if err != nil {
		return err
	}

	svc := service.NewIngestService(chunk, nil, nil, nil, nil, nil, cfg.Pipeline)
	result := svc.Preview(units)

	if previewJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	c := result.Config
	cmd.Printf("chunking: max=%d overlap=%d min=%d\n", c.MaxChunkTokens, c.OverlapTokens, c.MinChunkTokens)
	for _, pc := range result.Chunks {
		cmd.Printf("%s#%d\t%d words\t%s\n", pc.ContentUnitID, pc.ChunkIndex, pc.Words, pc.Metadata.TopicPath)
		if previewText {
			cmd.Printf("%s\n\n", pc.Text)
		}
	}
	for _, u := range result.Skipped {
		cmd.Printf("skipped #%d: %s\n", u.Index, u.Error)
	}
	cmd.Printf("%d units, %d chunks, %d skipped\n", len(units), len(result.Chunks), len(result.Skipped))
	return nil
}
