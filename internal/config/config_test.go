package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ta-content-pipeline/internal/chunker"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, chunker.DefaultConfig(), cfg.Chunking)
	assert.Equal(t, 32, cfg.Pipeline.BatchSize)
	assert.Equal(t, 60*time.Second, cfg.Embedding.Timeout)
	assert.Equal(t, "http://localhost:8003", cfg.Embedding.BaseURL)
	assert.Equal(t, BackendSQL, cfg.VectorStore.Backend)
	assert.Equal(t, "postgres", cfg.Database.Driver)
}

func TestLoad_FromFile(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: sqlite
  dsn: /tmp/x.db
embedding:
  base_url: http://tei:8080
  timeout: 5s
  max_retries: 4
chunking:
  max_chunk_tokens: 256
  overlap_tokens: 32
  min_chunk_tokens: 50
pipeline:
  batch_size: 8
  prune_stale: true
vector_store:
  backend: elasticsearch
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "http://tei:8080", cfg.Embedding.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Embedding.Timeout)
	assert.Equal(t, 4, cfg.Embedding.MaxRetries)
	assert.Equal(t, chunker.Config{MaxChunkTokens: 256, OverlapTokens: 32, MinChunkTokens: 50}, cfg.Chunking)
	assert.Equal(t, 8, cfg.Pipeline.BatchSize)
	assert.True(t, cfg.Pipeline.PruneStale)
	assert.Equal(t, BackendElasticsearch, cfg.VectorStore.Backend)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("TA_PIPELINE_BATCH_SIZE", "16")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Pipeline.BatchSize)
}

func TestLoad_InvalidChunkingIsConfigurationError(t *testing.T) {
	path := writeConfig(t, `
chunking:
  max_chunk_tokens: 64
  overlap_tokens: 64
`)
	_, err := Load(path)
	var cfgErr *chunker.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "overlap_tokens", cfgErr.Field)
}

func TestLoad_InvalidBatchSize(t *testing.T) {
	path := writeConfig(t, "pipeline:\n  batch_size: 0\n")
	_, err := Load(path)
	var cfgErr *chunker.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "pipeline.batch_size", cfgErr.Field)
}

func TestLoad_UnknownBackend(t *testing.T) {
	path := writeConfig(t, "vector_store:\n  backend: faiss\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
