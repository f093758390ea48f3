// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ta-content-pipeline/internal/model"
)

// ErrWriterClosed 在 Close 之后继续写入时返回。
var ErrWriterClosed = errors.New("vector writer is closed")

// VectorStore 是向量存储的入口，每次运行通过 Open 获取一个写入会话。
type VectorStore interface {
	Open(ctx context.Context) (VectorWriter, error)
}

// VectorWriter 是一次运行内的写入会话。
// Upsert 按顺序逐行写入，返回成功写入的行数；部分行失败时返回 *PersistenceError，之前写入的行不会回滚。
type VectorWriter interface {
	Upsert(ctx context.Context, pairs []model.ChunkEmbedding) (int, error)
	Close() error
}

// Pruner 由能够删除过期分块的存储实现。
// PruneFrom 删除 contentUnitID 下 chunk_index >= fromIndex 的行，返回删除的行数。
type Pruner interface {
	PruneFrom(ctx context.Context, contentUnitID string, fromIndex int) (int64, error)
}

// PersistenceError 汇总一次 Upsert 中失败的行。
type PersistenceError struct {
	Failures []model.RowFailure
}

func (e *PersistenceError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for i, f := range e.Failures {
		if i == 3 {
			parts = append(parts, fmt.Sprintf("and %d more", len(e.Failures)-3))
			break
		}
		parts = append(parts, fmt.Sprintf("%s#%d: %s", f.ContentUnitID, f.ChunkIndex, f.Error))
	}
	return fmt.Sprintf("failed to persist %d row(s): %s", len(e.Failures), strings.Join(parts, "; "))
}

// persistenceErrorOrNil 只有在存在失败行时才返回 error，避免 typed nil。
func persistenceErrorOrNil(failures []model.RowFailure) error {
	if len(failures) == 0 {
		return nil
	}
	return &PersistenceError{Failures: failures}
}

func rowFailure(pair model.ChunkEmbedding, err error) model.RowFailure {
	return model.RowFailure{
		ContentUnitID: pair.Chunk.ContentUnitID,
		ChunkIndex:    pair.Chunk.ChunkIndex,
		Error:         err.Error(),
	}
}

var errEmptyVector = errors.New("embedding vector is empty")
