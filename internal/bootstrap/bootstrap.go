// Package bootstrap 按配置组装流水线依赖，供 server 和命令行共用。
package bootstrap

import (
	"context"
	"fmt"

	"ta-content-pipeline/internal/chunker"
	"ta-content-pipeline/internal/config"
	"ta-content-pipeline/internal/repository"
	"ta-content-pipeline/pkg/database"
	"ta-content-pipeline/pkg/embedding"
	"ta-content-pipeline/pkg/es"
	"ta-content-pipeline/pkg/log"
)

// NewChunker 根据配置创建分块器，配置非法时返回 *chunker.ConfigurationError。
func NewChunker(cfg *config.Config) (*chunker.Chunker, error) {
	return chunker.New(cfg.Chunking)
}

// NewEmbedder 创建向量化客户端，max_retries > 0 时在外层加上重试。
func NewEmbedder(cfg *config.Config) embedding.Client {
	client := embedding.NewClient(cfg.Embedding)
	if cfg.Embedding.MaxRetries > 0 {
		client = embedding.WithRetry(client, cfg.Embedding.MaxRetries+1, cfg.Embedding.RetryBaseDelay)
	}
	return client
}

// NewVectorStore 按 vector_store.backend 创建存储。
// sql 后端会打开数据库并执行 AutoMigrate；elasticsearch 后端会确保索引存在。
func NewVectorStore(ctx context.Context, cfg *config.Config) (repository.VectorStore, error) {
	switch cfg.VectorStore.Backend {
	case config.BackendElasticsearch:
		client, err := es.NewClient(cfg.Elasticsearch)
		if err != nil {
			return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
		}
		if err := es.EnsureIndex(ctx, client, cfg.Elasticsearch.IndexName); err != nil {
			return nil, err
		}
		log.Infof("[Bootstrap] 使用 Elasticsearch 向量存储, index: %s", cfg.Elasticsearch.IndexName)
		return repository.NewEsEmbeddingStore(client, cfg.Elasticsearch.IndexName), nil
	default:
		db, err := database.Open(cfg.Database.Driver, cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		store := repository.NewContentEmbeddingStore(db)
		if err := store.AutoMigrate(ctx); err != nil {
			return nil, fmt.Errorf("failed to migrate content_embeddings: %w", err)
		}
		log.Infof("[Bootstrap] 使用 %s 向量存储", cfg.Database.Driver)
		return store, nil
	}
}
