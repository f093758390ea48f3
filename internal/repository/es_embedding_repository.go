package repository

import (
	"context"
	"time"

	"github.com/elastic/go-elasticsearch/v8"

	"ta-content-pipeline/internal/model"
	"ta-content-pipeline/pkg/es"
	"ta-content-pipeline/pkg/log"
)

// EsEmbeddingStore 把分块向量写入 Elasticsearch 索引。
// 文档 ID 为 <content_unit_id>_<chunk_index>，index API 覆盖同 ID 文档，因此写入是幂等的。
type EsEmbeddingStore struct {
	client *elasticsearch.Client
	index  string
	now    func() time.Time
}

// NewEsEmbeddingStore 创建一个新的 EsEmbeddingStore 实例。
func NewEsEmbeddingStore(client *elasticsearch.Client, index string) *EsEmbeddingStore {
	return &EsEmbeddingStore{client: client, index: index, now: time.Now}
}

// Open 返回一个写入会话。HTTP 客户端本身是无状态的，Close 时刷新索引。
func (s *EsEmbeddingStore) Open(ctx context.Context) (VectorWriter, error) {
	return &esEmbeddingWriter{store: s, ctx: ctx}, nil
}

// PruneFrom 通过 delete-by-query 删除 chunk_index >= fromIndex 的文档。
func (s *EsEmbeddingStore) PruneFrom(ctx context.Context, contentUnitID string, fromIndex int) (int64, error) {
	query := map[string]interface{}{
		"bool": map[string]interface{}{
			"filter": []interface{}{
				map[string]interface{}{"term": map[string]interface{}{"content_unit_id": contentUnitID}},
				map[string]interface{}{"range": map[string]interface{}{"chunk_index": map[string]interface{}{"gte": fromIndex}}},
			},
		},
	}
	return es.DeleteByQuery(ctx, s.client, s.index, query)
}

type esEmbeddingWriter struct {
	store   *EsEmbeddingStore
	ctx     context.Context
	written int
	closed  bool
}

func (w *esEmbeddingWriter) Upsert(ctx context.Context, pairs []model.ChunkEmbedding) (int, error) {
	if w.closed {
		return 0, ErrWriterClosed
	}

	written := 0
	var failures []model.RowFailure
	updatedAt := w.store.now().UTC().Format(time.RFC3339)
	for _, pair := range pairs {
		if len(pair.Vector) == 0 {
			failures = append(failures, rowFailure(pair, errEmptyVector))
			continue
		}
		doc := model.NewEsChunkDocument(pair, updatedAt)
		if err := es.IndexDocument(ctx, w.store.client, w.store.index, doc.VectorID, doc); err != nil {
			log.Errorf("[EsEmbeddingStore] 索引分块失败, id: %s, error: %v", doc.VectorID, err)
			failures = append(failures, rowFailure(pair, err))
			continue
		}
		written++
	}
	w.written += written
	return written, persistenceErrorOrNil(failures)
}

func (w *esEmbeddingWriter) PruneFrom(ctx context.Context, contentUnitID string, fromIndex int) (int64, error) {
	if w.closed {
		return 0, ErrWriterClosed
	}
	return w.store.PruneFrom(ctx, contentUnitID, fromIndex)
}

// Close 在有写入时刷新一次索引，可重复调用。
func (w *esEmbeddingWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if w.written == 0 {
		return nil
	}
	ctx := context.WithoutCancel(w.ctx)
	return es.Refresh(ctx, w.store.client, w.store.index)
}
