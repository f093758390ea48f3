package model

import "fmt"

// EsChunkDocument 定义了存储在 Elasticsearch 中的分块文档结构。
type EsChunkDocument struct {
	VectorID      string    `json:"vector_id"` // content_unit_id + "_" + chunk_index，同时作为文档 _id
	ContentUnitID string    `json:"content_unit_id"`
	ChunkIndex    int       `json:"chunk_index"`
	ChunkText     string    `json:"chunk_text"`
	Embedding     []float32 `json:"embedding"`
	Subject       string    `json:"subject"`
	GradeBand     string    `json:"grade_band"`
	TopicPath     string    `json:"topic_path"`
	Title         string    `json:"title"`
	UpdatedAt     string    `json:"updated_at"`
}

// VectorID 返回分块在索引中的文档 ID。
func VectorID(contentUnitID string, chunkIndex int) string {
	return fmt.Sprintf("%s_%d", contentUnitID, chunkIndex)
}

// NewEsChunkDocument 把分块和向量转换成 ES 文档。
func NewEsChunkDocument(pair ChunkEmbedding, updatedAt string) EsChunkDocument {
	c := pair.Chunk
	return EsChunkDocument{
		VectorID:      VectorID(c.ContentUnitID, c.ChunkIndex),
		ContentUnitID: c.ContentUnitID,
		ChunkIndex:    c.ChunkIndex,
		ChunkText:     c.Text,
		Embedding:     pair.Vector,
		Subject:       c.Metadata.Subject,
		GradeBand:     c.Metadata.GradeBand,
		TopicPath:     c.Metadata.TopicPath,
		Title:         c.Metadata.Title,
		UpdatedAt:     updatedAt,
	}
}
