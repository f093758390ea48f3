// Package config 负责加载和管理应用程序的配置。
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"ta-content-pipeline/internal/chunker"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	Chunking      chunker.Config      `mapstructure:"chunking"`
	Pipeline      PipelineConfig      `mapstructure:"pipeline"`
	VectorStore   VectorStoreConfig   `mapstructure:"vector_store"`
	Input         InputConfig         `mapstructure:"input"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	Driver string      `mapstructure:"driver"` // postgres | mysql | sqlite
	DSN    string      `mapstructure:"dsn"`
	Redis  RedisConfig `mapstructure:"redis"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储服务令牌相关的配置。
type JWTConfig struct {
	Secret           string `mapstructure:"secret"`
	TokenExpireHours int    `mapstructure:"token_expire_hours"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers     string `mapstructure:"brokers"`
	Topic       string `mapstructure:"topic"`
	GroupID     string `mapstructure:"group_id"`
	MaxAttempts int64  `mapstructure:"max_attempts"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// EmbeddingConfig 存储向量化服务相关的配置。
type EmbeddingConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	Model             string        `mapstructure:"model"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"` // 0 表示不限速
	Breaker           BreakerConfig `mapstructure:"breaker"`
	MaxRetries        int           `mapstructure:"max_retries"` // 调用方层面的重试次数，0 表示不重试
	RetryBaseDelay    time.Duration `mapstructure:"retry_base_delay"`
}

// BreakerConfig 配置向量化服务的熔断器。
type BreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MinRequests  uint32        `mapstructure:"min_requests"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	OpenTimeout  time.Duration `mapstructure:"open_timeout"`
}

// PipelineConfig 存储编排器相关的配置。
type PipelineConfig struct {
	BatchSize  int  `mapstructure:"batch_size"`
	PruneStale bool `mapstructure:"prune_stale"`
}

// VectorStoreConfig 选择向量存储后端。
type VectorStoreConfig struct {
	Backend string `mapstructure:"backend"` // sql | elasticsearch
}

// InputConfig 描述命令行一次性运行时 ContentUnit 的来源。
type InputConfig struct {
	Source string `mapstructure:"source"` // file | minio
	Path   string `mapstructure:"path"`
	Object string `mapstructure:"object"`
}

// 向量存储后端。
const (
	BackendSQL           = "sql"
	BackendElasticsearch = "elasticsearch"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8081")
	v.SetDefault("server.mode", "release")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "postgresql://localhost/teachingassistant")
	v.SetDefault("jwt.token_expire_hours", 24)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("kafka.topic", "content-ingest")
	v.SetDefault("kafka.group_id", "ta-content-pipeline-consumer")
	v.SetDefault("kafka.max_attempts", 3)
	v.SetDefault("elasticsearch.index_name", "content_embeddings")
	v.SetDefault("embedding.base_url", "http://localhost:8003")
	v.SetDefault("embedding.timeout", 60*time.Second)
	v.SetDefault("embedding.breaker.min_requests", 3)
	v.SetDefault("embedding.breaker.failure_ratio", 0.6)
	v.SetDefault("embedding.breaker.open_timeout", 60*time.Second)
	v.SetDefault("embedding.retry_base_delay", time.Second)
	v.SetDefault("chunking.max_chunk_tokens", chunker.DefaultMaxChunkTokens)
	v.SetDefault("chunking.overlap_tokens", chunker.DefaultOverlapTokens)
	v.SetDefault("chunking.min_chunk_tokens", chunker.DefaultMinChunkTokens)
	v.SetDefault("pipeline.batch_size", 32)
	v.SetDefault("vector_store.backend", BackendSQL)
	v.SetDefault("input.source", "file")
	v.SetDefault("input.path", "./enriched_content.json")
}

// Load 从指定路径读取 YAML 配置，环境变量 TA_<SECTION>_<KEY> 可覆盖文件中的值。
// configPath 为空时只使用默认值和环境变量。
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("TA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Init 加载配置到全局 Conf 变量，失败时直接 panic。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = *cfg
}

// Validate 在启动时检查会导致运行失败的配置，非法的分块参数返回 chunker.ConfigurationError。
func (c *Config) Validate() error {
	if err := c.Chunking.Validate(); err != nil {
		return err
	}
	if c.Pipeline.BatchSize <= 0 {
		return &chunker.ConfigurationError{Field: "pipeline.batch_size", Reason: fmt.Sprintf("must be positive, got %d", c.Pipeline.BatchSize)}
	}
	switch c.VectorStore.Backend {
	case BackendSQL, BackendElasticsearch:
	default:
		return fmt.Errorf("unknown vector_store.backend %q", c.VectorStore.Backend)
	}
	if c.Embedding.BaseURL == "" {
		return errors.New("embedding.base_url is required")
	}
	return nil
}
