// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"

	"ta-content-pipeline/internal/config"
	"ta-content-pipeline/pkg/log"
	"ta-content-pipeline/pkg/tasks"
)

// DefaultMaxAttempts 是一个任务在提交 offset 放弃之前的最大处理次数。
const DefaultMaxAttempts = 3

// TaskProcessor defines the interface for any service that can process a task.
// This decouples the Kafka consumer from the concrete pipeline implementation.
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.IngestTask) error
}

// AttemptCounter 记录任务的失败次数。
type AttemptCounter interface {
	Incr(ctx context.Context, taskID string) (int64, error)
	Reset(ctx context.Context, taskID string) error
}

type redisAttemptCounter struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisAttemptCounter 使用 kafka:attempts:<id> 计数，24 小时过期。
func NewRedisAttemptCounter(rdb *redis.Client) AttemptCounter {
	return &redisAttemptCounter{rdb: rdb, ttl: 24 * time.Hour}
}

func attemptsKey(taskID string) string {
	return fmt.Sprintf("kafka:attempts:%s", taskID)
}

func (c *redisAttemptCounter) Incr(ctx context.Context, taskID string) (int64, error) {
	key := attemptsKey(taskID)
	attempts, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	_ = c.rdb.Expire(ctx, key, c.ttl).Err()
	return attempts, nil
}

func (c *redisAttemptCounter) Reset(ctx context.Context, taskID string) error {
	return c.rdb.Del(ctx, attemptsKey(taskID)).Err()
}

// Producer 发送摄取任务到 Kafka。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:     kafka.TCP(brokers(cfg)...),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	log.Info("Kafka 生产者初始化成功")
	return &Producer{writer: w}
}

// Publish 发送一个摄取任务，以 RunID 作为消息 key。
func (p *Producer) Publish(ctx context.Context, task tasks.IngestTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.RunID),
		Value: taskBytes,
	})
}

// Close 关闭生产者。
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Consumer 逐条消费摄取任务。
type Consumer struct {
	reader      *kafka.Reader
	processor   TaskProcessor
	attempts    AttemptCounter
	maxAttempts int64
	retryDelay  time.Duration
}

// NewConsumer 创建消费者，cfg.MaxAttempts <= 0 时使用 DefaultMaxAttempts。
func NewConsumer(cfg config.KafkaConfig, processor TaskProcessor, attempts AttemptCounter) *Consumer {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers(cfg),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{
		reader:      r,
		processor:   processor,
		attempts:    attempts,
		maxAttempts: maxAttempts,
		retryDelay:  5 * time.Second,
	}
}

// Run 阻塞消费直到 ctx 结束或读取出错。
func (c *Consumer) Run(ctx context.Context) error {
	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", c.reader.Config().Topic)
	defer func() {
		if err := c.reader.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error("从 Kafka 读取消息失败", err)
			return err
		}

		log.Infof("收到 Kafka 消息: offset %d", m.Offset)
		if c.handle(ctx, m.Value) {
			if err := c.reader.CommitMessages(ctx, m); err != nil {
				log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
			}
		}
	}
}

// handle 处理一条消息，返回是否应该提交 offset。
// 处理失败时用 Redis 计数，未达到上限则等待后重试，达到上限后提交 offset 终止重试。
func (c *Consumer) handle(ctx context.Context, value []byte) bool {
	var task tasks.IngestTask
	if err := json.Unmarshal(value, &task); err != nil {
		// 消息格式错误，直接提交，避免阻塞队列
		log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(value))
		return true
	}

	for {
		log.Infof("开始处理摄取任务: run_id=%s, units=%d, object=%s", task.RunID, len(task.Units), task.Object)
		err := c.processor.Process(ctx, task)
		if err == nil {
			log.Infof("摄取任务处理成功: run_id=%s", task.RunID)
			// 清理失败计数
			_ = c.attempts.Reset(ctx, task.RunID)
			return true
		}

		log.Errorf("处理摄取任务失败: run_id=%s, Error: %v", task.RunID, err)
		attempts, incErr := c.attempts.Incr(ctx, task.RunID)
		if incErr != nil {
			// Redis 异常时保守处理：不提交 offset，让 Kafka 重试
			log.Errorf("记录任务失败次数出错: %v", incErr)
			return false
		}
		if attempts >= c.maxAttempts {
			log.Errorf("摄取任务多次失败(>=%d)，提交 offset 终止重试: run_id=%s", c.maxAttempts, task.RunID)
			return true
		}

		timer := time.NewTimer(c.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
}

func brokers(cfg config.KafkaConfig) []string {
	var out []string
	for _, b := range strings.Split(cfg.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
