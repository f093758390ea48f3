package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"ta-content-pipeline/internal/service"
	"ta-content-pipeline/internal/source"
	"ta-content-pipeline/pkg/kafka"
	"ta-content-pipeline/pkg/storage"
)

var publishUpload bool

var publishCmd = &cobra.Command{
	Use:   "publish [input.json]",
	Short: "Queue content units for the ingestion service",
	Long: `Publishes an ingestion task to Kafka for the server's consumer.
By default the units are sent inline in the message. With --upload the file is
first stored in the MinIO bucket and the task only references the object, which
keeps large inputs out of Kafka.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPublish,
}

func init() {
	publishCmd.Flags().BoolVar(&publishUpload, "upload", false, "upload the input to MinIO and publish an object reference")
	rootCmd.AddCommand(publishCmd)
}

func runPublish(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	path := inputPath(args)

	producer := kafka.NewProducer(cfg.Kafka)
	defer producer.Close()
	svc := service.NewIngestService(nil, nil, nil, nil, producer, nil, cfg.Pipeline)

	if !publishUpload {
		units, err := source.FileLoader{Path: path}.Load(ctx)
		if err != nil {
			return err
		}
		summary, err := svc.Submit(ctx, units, "")
		if err != nil {
			return err
		}
		cmd.Printf("Queued run %s with %d units\n", summary.RunID, len(units))
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	// 先解码一次，避免把坏文件上传后才在消费端失败
	if _, err := source.DecodeBytes(data); err != nil {
		return err
	}

	client, err := storage.NewClient(cfg.MinIO)
	if err != nil {
		return fmt.Errorf("failed to create minio client: %w", err)
	}
	if err := storage.EnsureBucket(ctx, client, cfg.MinIO.BucketName); err != nil {
		return err
	}
	object := fmt.Sprintf("ingest/%s-%s", time.Now().UTC().Format("20060102T150405"), filepath.Base(path))
	if err := storage.PutObject(ctx, client, cfg.MinIO.BucketName, object, bytes.NewReader(data), int64(len(data)), "application/json"); err != nil {
		return err
	}

	summary, err := svc.Submit(ctx, nil, object)
	if err != nil {
		return err
	}
	cmd.Printf("Uploaded %s and queued run %s\n", object, summary.RunID)
	return nil
}
