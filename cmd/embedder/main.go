// Package main 是命令行工具 embedder 的入口点。
package main

import (
	"os"

	"ta-content-pipeline/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
