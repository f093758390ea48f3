package model

import (
	"database/sql/driver"
	"encoding/json"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// Vector 是持久化到 embedding 列的浮点向量，维度不固定，原样保存服务返回的长度。
// 文本编码为 "[v1,v2,...]"：在 postgres 中即 pgvector 的 vector 字面量，
// 在 mysql 中是合法的 JSON 数组，在 sqlite 中按 TEXT 保存。
type Vector []float32

// GormDBDataType 按方言选择列类型。
func (Vector) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	switch db.Dialector.Name() {
	case "postgres":
		return "vector"
	case "mysql":
		return "JSON"
	default:
		return "TEXT"
	}
}

// Value 实现 driver.Valuer。
func (v Vector) Value() (driver.Value, error) {
	return pgvector.NewVector(v).Value()
}

// Scan 实现 sql.Scanner。mysql 的 JSON 列读出时带空格，先去掉再交给 pgvector 解析。
func (v *Vector) Scan(src interface{}) error {
	switch s := src.(type) {
	case []byte:
		src = strings.ReplaceAll(string(s), " ", "")
	case string:
		src = strings.ReplaceAll(s, " ", "")
	}
	var pv pgvector.Vector
	if err := pv.Scan(src); err != nil {
		return err
	}
	*v = pv.Slice()
	return nil
}

// ContentEmbedding 对应数据库中的 content_embeddings 表。
// (content_unit_id, chunk_index) 上有唯一约束，是 upsert 的冲突目标。
// content_unit_id 的长度上限见 MaxContentUnitIDLength，超长的单元在校验阶段被跳过。
type ContentEmbedding struct {
	ID            uint           `gorm:"primaryKey;autoIncrement;column:id"`
	ContentUnitID string         `gorm:"type:varchar(191);not null;uniqueIndex:uk_content_unit_chunk,priority:1;column:content_unit_id"`
	ChunkIndex    int            `gorm:"not null;uniqueIndex:uk_content_unit_chunk,priority:2;column:chunk_index"`
	ChunkText     string         `gorm:"type:text;not null;column:chunk_text"`
	Embedding     Vector         `gorm:"not null;column:embedding"`
	Metadata      datatypes.JSON `gorm:"column:metadata"`
	CreatedAt     time.Time      `gorm:"autoCreateTime;column:created_at"`
	UpdatedAt     time.Time      `gorm:"autoUpdateTime;column:updated_at"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (ContentEmbedding) TableName() string {
	return "content_embeddings"
}

// NewContentEmbedding 把分块和向量转换成一行记录。
func NewContentEmbedding(pair ChunkEmbedding) (*ContentEmbedding, error) {
	meta, err := json.Marshal(pair.Chunk.Metadata)
	if err != nil {
		return nil, err
	}
	return &ContentEmbedding{
		ContentUnitID: pair.Chunk.ContentUnitID,
		ChunkIndex:    pair.Chunk.ChunkIndex,
		ChunkText:     pair.Chunk.Text,
		Embedding:     Vector(pair.Vector),
		Metadata:      datatypes.JSON(meta),
	}, nil
}

// ChunkMetadata 解析 metadata 列。
func (e *ContentEmbedding) ChunkMetadata() (ChunkMetadata, error) {
	var meta ChunkMetadata
	if len(e.Metadata) == 0 {
		return meta, nil
	}
	err := json.Unmarshal(e.Metadata, &meta)
	return meta, err
}
