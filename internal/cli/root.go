// Package cli 实现运维命令行 embedder：一次性运行、分块预览、投递任务和签发服务令牌。
package cli

import (
	"github.com/spf13/cobra"

	"ta-content-pipeline/internal/config"
	"ta-content-pipeline/pkg/log"
)

var (
	configPath string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "embedder",
	Short: "Chunk and embed curriculum content units",
	Long: `embedder turns extracted curriculum content units into chunk embeddings.
Units are split into section-aware overlapping chunks, embedded in batches
through the embedding service and upserted into the vector store.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		log.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (defaults and TA_* environment variables otherwise)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// inputPath 返回位置参数给出的输入文件，缺省使用 input.path。
func inputPath(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return cfg.Input.Path
}
