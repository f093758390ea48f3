package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"ta-content-pipeline/internal/model"
)

// RunTTL 是运行记录在 Redis 中的保留时间。
const RunTTL = 7 * 24 * time.Hour

// ErrRunNotFound 表示运行记录不存在或已过期。
var ErrRunNotFound = errors.New("run not found")

// RunRepository 定义了流水线运行记录的操作接口。
type RunRepository interface {
	Save(ctx context.Context, summary *model.RunSummary) error
	Get(ctx context.Context, runID string) (*model.RunSummary, error)
}

type redisRunRepository struct {
	redisClient *redis.Client
}

// NewRunRepository 创建一个新的 RunRepository 实例。
func NewRunRepository(redisClient *redis.Client) RunRepository {
	return &redisRunRepository{redisClient: redisClient}
}

// RunKey 返回运行记录的 Redis key。
func RunKey(runID string) string {
	return fmt.Sprintf("ingest:run:%s", runID)
}

// Save 把运行汇总写入 Redis，每次写入都会重置过期时间。
func (r *redisRunRepository) Save(ctx context.Context, summary *model.RunSummary) error {
	jsonData, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal run summary: %w", err)
	}
	if err := r.redisClient.Set(ctx, RunKey(summary.RunID), jsonData, RunTTL).Err(); err != nil {
		return fmt.Errorf("failed to save run summary: %w", err)
	}
	return nil
}

// Get 从 Redis 读取运行汇总。
func (r *redisRunRepository) Get(ctx context.Context, runID string) (*model.RunSummary, error) {
	jsonData, err := r.redisClient.Get(ctx, RunKey(runID)).Result()
	if err == redis.Nil {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run summary: %w", err)
	}
	var summary model.RunSummary
	if err := json.Unmarshal([]byte(jsonData), &summary); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run summary: %w", err)
	}
	return &summary, nil
}
