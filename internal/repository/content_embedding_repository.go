package repository

import (
	"context"
	"database/sql"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ta-content-pipeline/internal/model"
	"ta-content-pipeline/pkg/log"
)

// 冲突时刷新的列，created_at 保持首次写入的值。
var upsertColumns = []string{"chunk_text", "embedding", "metadata", "updated_at"}

// ContentEmbeddingStore 是基于 gorm 的 content_embeddings 表存储。
type ContentEmbeddingStore struct {
	db *gorm.DB
}

// NewContentEmbeddingStore 创建一个新的 ContentEmbeddingStore 实例。
func NewContentEmbeddingStore(db *gorm.DB) *ContentEmbeddingStore {
	return &ContentEmbeddingStore{db: db}
}

// AutoMigrate 创建或更新 content_embeddings 表及其唯一索引。
func (s *ContentEmbeddingStore) AutoMigrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&model.ContentEmbedding{})
}

// Open 从连接池中固定一个连接，整个运行期间的写入都走这个连接，Close 时归还。
func (s *ContentEmbeddingStore) Open(ctx context.Context) (VectorWriter, error) {
	sqlDB, err := s.db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire database connection: %w", err)
	}

	tx := s.db.Session(&gorm.Session{NewDB: true, Context: ctx})
	tx.Statement.ConnPool = conn
	return &contentEmbeddingWriter{conn: conn, tx: tx}, nil
}

// CountByContentUnit 返回某个单元已持久化的分块数。
func (s *ContentEmbeddingStore) CountByContentUnit(ctx context.Context, contentUnitID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.ContentEmbedding{}).
		Where("content_unit_id = ?", contentUnitID).Count(&count).Error
	return count, err
}

// FindByContentUnit 按 chunk_index 顺序返回某个单元的所有行。
func (s *ContentEmbeddingStore) FindByContentUnit(ctx context.Context, contentUnitID string) ([]model.ContentEmbedding, error) {
	var rows []model.ContentEmbedding
	err := s.db.WithContext(ctx).Where("content_unit_id = ?", contentUnitID).
		Order("chunk_index").Find(&rows).Error
	return rows, err
}

// PruneFrom 删除 chunk_index >= fromIndex 的过期分块。
func (s *ContentEmbeddingStore) PruneFrom(ctx context.Context, contentUnitID string, fromIndex int) (int64, error) {
	return pruneFrom(s.db.WithContext(ctx), contentUnitID, fromIndex)
}

func pruneFrom(db *gorm.DB, contentUnitID string, fromIndex int) (int64, error) {
	res := db.Where("content_unit_id = ? AND chunk_index >= ?", contentUnitID, fromIndex).
		Delete(&model.ContentEmbedding{})
	return res.RowsAffected, res.Error
}

type contentEmbeddingWriter struct {
	conn   *sql.Conn
	tx     *gorm.DB
	closed bool
}

// Upsert 逐行执行 INSERT ... ON CONFLICT (content_unit_id, chunk_index) DO UPDATE。
func (w *contentEmbeddingWriter) Upsert(ctx context.Context, pairs []model.ChunkEmbedding) (int, error) {
	if w.closed {
		return 0, ErrWriterClosed
	}

	written := 0
	var failures []model.RowFailure
	for _, pair := range pairs {
		if len(pair.Vector) == 0 {
			failures = append(failures, rowFailure(pair, errEmptyVector))
			continue
		}
		row, err := model.NewContentEmbedding(pair)
		if err != nil {
			failures = append(failures, rowFailure(pair, err))
			continue
		}

		err = w.tx.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "content_unit_id"}, {Name: "chunk_index"}},
			DoUpdates: clause.AssignmentColumns(upsertColumns),
		}).Create(row).Error
		if err != nil {
			log.Errorf("[ContentEmbeddingStore] 写入分块失败, unit: %s, chunk: %d, error: %v", pair.Chunk.ContentUnitID, pair.Chunk.ChunkIndex, err)
			failures = append(failures, rowFailure(pair, err))
			continue
		}
		written++
	}
	return written, persistenceErrorOrNil(failures)
}

func (w *contentEmbeddingWriter) PruneFrom(ctx context.Context, contentUnitID string, fromIndex int) (int64, error) {
	if w.closed {
		return 0, ErrWriterClosed
	}
	return pruneFrom(w.tx.WithContext(ctx), contentUnitID, fromIndex)
}

// Close 归还固定的连接，可重复调用。
func (w *contentEmbeddingWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.conn.Close()
}
