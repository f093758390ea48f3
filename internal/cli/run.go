package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ta-content-pipeline/internal/bootstrap"
	"ta-content-pipeline/internal/model"
	"ta-content-pipeline/internal/repository"
	"ta-content-pipeline/internal/service"
	"ta-content-pipeline/internal/source"
	"ta-content-pipeline/pkg/database"
	"ta-content-pipeline/pkg/storage"
)

var (
	runBatchSize  int
	runPrune      bool
	runRecord     bool
	runJSON       bool
	runFromObject string
)

var runCmd = &cobra.Command{
	Use:   "run [input.json]",
	Short: "Chunk, embed and store content units",
	Long: `Runs the ingestion pipeline once, synchronously.
Input is a JSON array of content units read from a local file (default input.path)
or, with --object, from the configured MinIO bucket. Re-running is safe: chunks are
upserted by (content_unit_id, chunk_index).`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().IntVar(&runBatchSize, "batch-size", 0, "chunks per embedding request (overrides pipeline.batch_size)")
	runCmd.Flags().BoolVar(&runPrune, "prune", false, "delete stored chunks beyond the new chunk count of each unit")
	runCmd.Flags().BoolVar(&runRecord, "record", false, "record run progress in Redis")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the run summary as JSON")
	runCmd.Flags().StringVar(&runFromObject, "object", "", "read units from this MinIO object instead of a file")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pipelineCfg := cfg.Pipeline
	if runBatchSize > 0 {
		pipelineCfg.BatchSize = runBatchSize
	}
	if runPrune {
		pipelineCfg.PruneStale = true
	}

	loader, err := newLoader(args)
	if err != nil {
		return err
	}

	chunk, err := bootstrap.NewChunker(cfg)
	if err != nil {
		return err
	}
	store, err := bootstrap.NewVectorStore(ctx, cfg)
	if err != nil {
		return err
	}

	var runs repository.RunRepository
	if runRecord {
		database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
		runs = repository.NewRunRepository(database.RDB)
	}

	svc := service.NewIngestService(chunk, bootstrap.NewEmbedder(cfg), store, runs, nil, nil, pipelineCfg)
	summary, runErr := svc.Run(ctx, "", loader)
	if summary != nil {
		if err := printSummary(cmd, summary); err != nil {
			return err
		}
	}
	if runErr != nil {
		return runErr
	}
	if !summary.Succeeded() {
		return fmt.Errorf("run %s finished with status %s", summary.RunID, summary.Status)
	}
	return nil
}

func newLoader(args []string) (source.Loader, error) {
	object := runFromObject
	if object == "" && len(args) == 0 && cfg.Input.Source == "minio" {
		object = cfg.Input.Object
	}
	if object == "" {
		return source.FileLoader{Path: inputPath(args)}, nil
	}
	client, err := storage.NewClient(cfg.MinIO)
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return source.ObjectLoader{Client: client, Bucket: cfg.MinIO.BucketName, Object: object}, nil
}

func printSummary(cmd *cobra.Command, s *model.RunSummary) error {
	if runJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}

	cmd.Printf("Run %s: %s\n", s.RunID, s.Status)
	cmd.Printf("  units: %d, chunks: %d (processed %d), batches: %d, written: %d\n", s.Units, s.Chunks, s.Processed, s.Batches, s.Written)
	if s.Pruned > 0 {
		cmd.Printf("  pruned: %d\n", s.Pruned)
	}
	for _, u := range s.SkippedUnits {
		cmd.Printf("  skipped unit %s (#%d): %s\n", u.ContentUnitID, u.Index, u.Error)
	}
	for _, b := range s.FailedBatches {
		cmd.Printf("  failed batch %d [%s, transient=%t]: %s\n", b.Index, b.Stage, b.Transient, b.Error)
	}
	for _, r := range s.RowFailures {
		cmd.Printf("  failed row %s#%d (batch %d): %s\n", r.ContentUnitID, r.ChunkIndex, r.Batch, r.Error)
	}
	if ids := s.ResumeUnitIDs(); len(ids) > 0 {
		cmd.Printf("  resume with units: %v\n", ids)
	}
	if s.Error != "" {
		cmd.Printf("  error: %s\n", s.Error)
	}
	return nil
}
