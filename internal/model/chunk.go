package model

import "strings"

// ChunkMetadata 是分块创建时对 ContentUnit 元数据的一份值拷贝。
// 源 ContentUnit 被释放后分块依然有效。
type ChunkMetadata struct {
	Subject   string `json:"subject"`
	GradeBand string `json:"grade_band"`
	TopicPath string `json:"topic_path"` // 以 "/" 连接的主题路径
	Title     string `json:"title"`
}

// MetadataOf 为给定单元生成元数据快照。
func MetadataOf(u ContentUnit) ChunkMetadata {
	return ChunkMetadata{
		Subject:   u.Subject,
		GradeBand: u.GradeBand,
		TopicPath: strings.Join(u.TopicPath, "/"),
		Title:     u.Title,
	}
}

// Chunk 是 ContentUnit 的一个有界文本片段，也是向量化和存储的基本单位。
// (ContentUnitID, ChunkIndex) 是它在存储中的持久身份。
type Chunk struct {
	ContentUnitID string        `json:"content_unit_id"`
	ChunkIndex    int           `json:"chunk_index"`
	Text          string        `json:"text"`
	Metadata      ChunkMetadata `json:"metadata"`
}

// ChunkEmbedding 是一次 upsert 的输入：分块及其向量。
type ChunkEmbedding struct {
	Chunk  Chunk
	Vector []float32
}
