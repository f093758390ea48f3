// Package source 读取抽取阶段产出的 ContentUnit 列表。
// 这里只负责解码，字段校验由流水线逐个单元完成，非法单元被跳过并记录而不是让整批输入失败。
package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/minio/minio-go/v7"

	"ta-content-pipeline/internal/model"
	"ta-content-pipeline/pkg/log"
	"ta-content-pipeline/pkg/storage"
)

// Loader 从某个位置加载 ContentUnit 列表。
type Loader interface {
	Load(ctx context.Context) ([]model.ContentUnit, error)
}

// Decode 解析一个 ContentUnit 的 JSON 数组，未知字段被忽略。
func Decode(r io.Reader) ([]model.ContentUnit, error) {
	var units []model.ContentUnit
	if err := json.NewDecoder(r).Decode(&units); err != nil {
		return nil, fmt.Errorf("failed to decode content units: %w", err)
	}
	return units, nil
}

// DecodeBytes 是 Decode 的字节切片版本。
func DecodeBytes(data []byte) ([]model.ContentUnit, error) {
	return Decode(bytes.NewReader(data))
}

// FileLoader 从本地 JSON 文件加载。
type FileLoader struct {
	Path string
}

func (l FileLoader) Load(_ context.Context) ([]model.ContentUnit, error) {
	f, err := os.Open(l.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}
	defer f.Close()

	units, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", l.Path, err)
	}
	log.Infof("[Source] 从文件 %s 读取到 %d 个单元", l.Path, len(units))
	return units, nil
}

// ObjectLoader 从 MinIO 对象加载。
type ObjectLoader struct {
	Client *minio.Client
	Bucket string
	Object string
}

func (l ObjectLoader) Load(ctx context.Context) ([]model.ContentUnit, error) {
	data, err := storage.ReadObject(ctx, l.Client, l.Bucket, l.Object)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("object %s/%s is empty", l.Bucket, l.Object)
	}

	units, err := DecodeBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%s/%s: %w", l.Bucket, l.Object, err)
	}
	log.Infof("[Source] 从对象 %s/%s 读取到 %d 个单元", l.Bucket, l.Object, len(units))
	return units, nil
}

// StaticLoader 返回预先给定的单元，用于 HTTP 请求体和内联的 Kafka 任务。
type StaticLoader []model.ContentUnit

func (l StaticLoader) Load(_ context.Context) ([]model.ContentUnit, error) {
	return l, nil
}
