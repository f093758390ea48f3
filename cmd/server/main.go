// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"ta-content-pipeline/internal/bootstrap"
	"ta-content-pipeline/internal/config"
	"ta-content-pipeline/internal/handler"
	"ta-content-pipeline/internal/repository"
	"ta-content-pipeline/internal/service"
	"ta-content-pipeline/internal/source"
	"ta-content-pipeline/pkg/database"
	"ta-content-pipeline/pkg/kafka"
	"ta-content-pipeline/pkg/log"
	"ta-content-pipeline/pkg/storage"
	"ta-content-pipeline/pkg/token"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()

	// 3. 初始化 Redis、MinIO 和向量存储
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	storage.InitMinIO(cfg.MinIO)
	store, err := bootstrap.NewVectorStore(rootCtx, &cfg)
	if err != nil {
		log.Fatal("向量存储初始化失败", err)
	}

	// 4. 初始化 Repository 和 Service (依赖注入)
	runRepo := repository.NewRunRepository(database.RDB)
	chunk, err := bootstrap.NewChunker(&cfg)
	if err != nil {
		log.Fatal("分块配置非法", err)
	}
	producer := kafka.NewProducer(cfg.Kafka)
	defer producer.Close()

	objects := func(object string) source.Loader {
		return source.ObjectLoader{Client: storage.MinioClient, Bucket: cfg.MinIO.BucketName, Object: object}
	}
	ingestService := service.NewIngestService(chunk, bootstrap.NewEmbedder(&cfg), store, runRepo, producer, objects, cfg.Pipeline)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.TokenExpireHours)

	// 5. 启动后台 Kafka 消费者
	consumer := kafka.NewConsumer(cfg.Kafka, ingestService, kafka.NewRedisAttemptCounter(database.RDB))
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		if err := consumer.Run(rootCtx); err != nil {
			log.Error("Kafka 消费者退出", err)
		}
	}()

	// 5.1 导入 initfile 目录下的 ContentUnit JSON 文件，写入是幂等的，重复导入只会覆盖
	go initSeedFiles(rootCtx, "initfile", ingestService)

	// 6. 设置 Gin 模式并注册路由
	gin.SetMode(cfg.Server.Mode)
	r := handler.NewRouter(handler.NewIngestHandler(ingestService), jwtManager)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 停止消费者：正在执行的批次会完整写入，运行在下一个批次开始前退出
	stop()
	select {
	case <-consumerDone:
	case <-time.After(cfg.Embedding.Timeout + 30*time.Second):
		log.Warnf("等待当前批次结束超时")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}

// initSeedFiles 扫描目录下的 *.json 文件并作为摄取任务提交。
func initSeedFiles(ctx context.Context, dir string, svc service.IngestService) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		log.Infof("initSeedFiles: 目录 '%s' 不存在或不可用，跳过初始化导入", dir)
		return
	}

	walkErr := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || !strings.HasSuffix(strings.ToLower(info.Name()), ".json") {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		units, err := source.FileLoader{Path: path}.Load(ctx)
		if err != nil {
			log.Warnf("initSeedFiles: 读取文件失败: %s, err=%v", path, err)
			return nil
		}
		if len(units) == 0 {
			log.Infof("initSeedFiles: 空文件跳过: %s", path)
			return nil
		}

		summary, err := svc.Submit(ctx, units, "")
		if err != nil {
			log.Warnf("initSeedFiles: 提交失败: %s, err=%v", path, err)
			return nil
		}
		log.Infof("initSeedFiles: 已提交 %s, run_id: %s, units: %d", info.Name(), summary.RunID, len(units))
		return nil
	})
	if walkErr != nil {
		log.Warnf("initSeedFiles: 遍历目录发生错误: %v", walkErr)
	}
}
