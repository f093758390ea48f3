// Package storage 提供了与对象存储服务（如 MinIO）交互的功能。
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"ta-content-pipeline/internal/config"
	"ta-content-pipeline/pkg/log"
)

// MinioClient 是一个全局的 MinIO 客户端实例。
var MinioClient *minio.Client

// NewClient 根据配置创建 MinIO 客户端。
func NewClient(cfg config.MinIOConfig) (*minio.Client, error) {
	return minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
}

// InitMinIO 初始化 MinIO 客户端并确保指定的存储桶存在。
func InitMinIO(cfg config.MinIOConfig) {
	var err error

	// 1. 初始化 MinIO 客户端
	MinioClient, err = NewClient(cfg)
	if err != nil {
		log.Fatal("初始化 MinIO 客户端失败", err)
	}
	log.Info("MinIO 客户端初始化成功")

	// 2. 检查存储桶 (Bucket) 是否存在，如果不存在则创建
	if err := EnsureBucket(context.Background(), MinioClient, cfg.BucketName); err != nil {
		log.Fatal("初始化 MinIO 存储桶失败", err)
	}
}

// EnsureBucket 检查存储桶是否存在，不存在则创建。
func EnsureBucket(ctx context.Context, client *minio.Client, bucketName string) error {
	exists, err := client.BucketExists(ctx, bucketName)
	if err != nil {
		return fmt.Errorf("检查 MinIO 存储桶失败: %w", err)
	}
	if exists {
		log.Infof("存储桶 '%s' 已存在", bucketName)
		return nil
	}

	log.Infof("存储桶 '%s' 不存在，正在创建...", bucketName)
	if err := client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("创建 MinIO 存储桶失败: %w", err)
	}
	log.Infof("存储桶 '%s' 创建成功", bucketName)
	return nil
}

// ReadObject 读取整个对象的内容。
func ReadObject(ctx context.Context, client *minio.Client, bucketName, objectName string) ([]byte, error) {
	object, err := client.GetObject(ctx, bucketName, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("从 MinIO 下载对象失败: %w", err)
	}
	defer object.Close()

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(object); err != nil {
		return nil, fmt.Errorf("读取 MinIO 对象流失败: %w", err)
	}
	return buf.Bytes(), nil
}

// PutObject 上传一个对象。
func PutObject(ctx context.Context, client *minio.Client, bucketName, objectName string, r io.Reader, size int64, contentType string) error {
	_, err := client.PutObject(ctx, bucketName, objectName, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("上传对象到 MinIO 失败: %w", err)
	}
	return nil
}
