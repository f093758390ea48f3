// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ta-content-pipeline/internal/chunker"
	"ta-content-pipeline/internal/config"
	"ta-content-pipeline/internal/model"
	"ta-content-pipeline/internal/pipeline"
	"ta-content-pipeline/internal/repository"
	"ta-content-pipeline/internal/source"
	"ta-content-pipeline/pkg/embedding"
	"ta-content-pipeline/pkg/log"
	"ta-content-pipeline/pkg/tasks"
)

var (
	// ErrNoInput 表示请求既没有内联单元也没有对象名。
	ErrNoInput = errors.New("either units or object must be provided")
	// ErrObjectSourceUnavailable 表示未配置对象存储却提交了对象任务。
	ErrObjectSourceUnavailable = errors.New("object storage is not configured")
	// ErrTransientFailures 表示运行中有可重试的批次失败，重新投递整个任务是安全的。
	ErrTransientFailures = errors.New("run finished with transient batch failures")
)

// TaskPublisher 把摄取任务投递到队列。
type TaskPublisher interface {
	Publish(ctx context.Context, task tasks.IngestTask) error
}

// ObjectLoaderFunc 为对象名构造一个 Loader。
type ObjectLoaderFunc func(object string) source.Loader

// PreviewChunk 是预览接口返回的分块，附带词数。
type PreviewChunk struct {
	model.Chunk
	Words int `json:"words"`
}

// PreviewResult 是一次分块预览的结果。
type PreviewResult struct {
	Chunks  []PreviewChunk      `json:"chunks"`
	Skipped []model.UnitFailure `json:"skipped,omitempty"`
	Config  chunker.Config      `json:"config"`
}

// IngestService 接口定义了摄取相关的业务操作。
type IngestService interface {
	Submit(ctx context.Context, units []model.ContentUnit, object string) (*model.RunSummary, error)
	Process(ctx context.Context, task tasks.IngestTask) error
	Run(ctx context.Context, runID string, loader source.Loader) (*model.RunSummary, error)
	Preview(units []model.ContentUnit) *PreviewResult
	GetRun(ctx context.Context, runID string) (*model.RunSummary, error)
}

type ingestService struct {
	chunker   *chunker.Chunker
	embedder  embedding.Client
	store     repository.VectorStore
	runs      repository.RunRepository
	publisher TaskPublisher
	objects   ObjectLoaderFunc
	cfg       config.PipelineConfig
}

// NewIngestService 创建一个新的 IngestService 实例。
// publisher 和 objects 可以为 nil：命令行一次性运行不需要队列。
func NewIngestService(
	c *chunker.Chunker,
	embedder embedding.Client,
	store repository.VectorStore,
	runs repository.RunRepository,
	publisher TaskPublisher,
	objects ObjectLoaderFunc,
	cfg config.PipelineConfig,
) IngestService {
	return &ingestService{
		chunker:   c,
		embedder:  embedder,
		store:     store,
		runs:      runs,
		publisher: publisher,
		objects:   objects,
		cfg:       cfg,
	}
}

// Submit 记录一个 queued 状态的运行并把任务投递到 Kafka。
func (s *ingestService) Submit(ctx context.Context, units []model.ContentUnit, object string) (*model.RunSummary, error) {
	if len(units) == 0 && object == "" {
		return nil, ErrNoInput
	}
	if s.publisher == nil {
		return nil, errors.New("task publisher is not configured")
	}

	now := time.Now()
	summary := &model.RunSummary{
		RunID:     uuid.NewString(),
		Status:    model.RunStatusQueued,
		Units:     len(units),
		StartedAt: now,
	}
	s.saveRun(ctx, summary)

	task := tasks.IngestTask{RunID: summary.RunID, Units: units, Object: object, SubmittedAt: now}
	if err := s.publisher.Publish(ctx, task); err != nil {
		log.Errorf("[IngestService] 投递摄取任务失败, run_id: %s, error: %v", summary.RunID, err)
		summary.Status = model.RunStatusFailed
		summary.Error = err.Error()
		summary.FinishedAt = time.Now()
		s.saveRun(ctx, summary)
		return nil, fmt.Errorf("failed to publish ingest task: %w", err)
	}
	log.Infof("[IngestService] 摄取任务已入队, run_id: %s, units: %d, object: %s", summary.RunID, len(units), object)
	return summary, nil
}

// Process 是 Kafka 消费者的任务处理入口。
// 运行级故障或可重试的批次失败会返回 error，让消费者按失败计数重试整个任务。
func (s *ingestService) Process(ctx context.Context, task tasks.IngestTask) error {
	var loader source.Loader
	switch {
	case task.Object != "":
		if s.objects == nil {
			return ErrObjectSourceUnavailable
		}
		loader = s.objects(task.Object)
	default:
		loader = source.StaticLoader(task.Units)
	}

	summary, err := s.Run(ctx, task.RunID, loader)
	if err != nil {
		return err
	}
	for _, fb := range summary.FailedBatches {
		if fb.Transient {
			return ErrTransientFailures
		}
	}
	return nil
}

// Run 同步执行一次运行，并在 Redis 中记录进度和最终汇总。
func (s *ingestService) Run(ctx context.Context, runID string, loader source.Loader) (*model.RunSummary, error) {
	if runID == "" {
		runID = uuid.NewString()
	}

	units, err := loader.Load(ctx)
	if err != nil {
		summary := &model.RunSummary{
			RunID:      runID,
			Status:     model.RunStatusFailed,
			StartedAt:  time.Now(),
			FinishedAt: time.Now(),
			Error:      err.Error(),
		}
		s.saveRun(ctx, summary)
		return summary, fmt.Errorf("failed to load content units: %w", err)
	}

	opts := []pipeline.Option{
		pipeline.WithBatchSize(s.cfg.BatchSize),
		pipeline.WithPruneStale(s.cfg.PruneStale),
	}
	if s.runs != nil {
		recorder := pipeline.NewRunRecorderSink(s.runs, model.RunSummary{RunID: runID, Units: len(units), StartedAt: time.Now()})
		opts = append(opts, pipeline.WithProgressSink(pipeline.MultiSink{pipeline.LogSink{}, recorder}))
	}

	orchestrator, err := pipeline.NewOrchestrator(s.chunker, s.embedder, s.store, opts...)
	if err != nil {
		return nil, err
	}

	summary, runErr := orchestrator.RunWithID(ctx, runID, units)
	s.saveRun(context.WithoutCancel(ctx), summary)
	return summary, runErr
}

// Preview 只做校验和分块，不调用向量化服务也不写库。
func (s *ingestService) Preview(units []model.ContentUnit) *PreviewResult {
	result := &PreviewResult{Chunks: []PreviewChunk{}, Config: s.chunker.Config()}
	for i, unit := range units {
		if err := unit.Validate(); err != nil {
			var ve *model.InputValidationError
			if errors.As(err, &ve) {
				ve.Index = i
			}
			result.Skipped = append(result.Skipped, model.UnitFailure{ContentUnitID: unit.ID, Index: i, Error: err.Error()})
			continue
		}
		for _, c := range s.chunker.Chunk(unit) {
			result.Chunks = append(result.Chunks, PreviewChunk{Chunk: c, Words: chunker.CountWords(c.Text)})
		}
	}
	return result
}

// GetRun 查询运行状态。
func (s *ingestService) GetRun(ctx context.Context, runID string) (*model.RunSummary, error) {
	if s.runs == nil {
		return nil, repository.ErrRunNotFound
	}
	return s.runs.Get(ctx, runID)
}

func (s *ingestService) saveRun(ctx context.Context, summary *model.RunSummary) {
	if s.runs == nil || summary == nil {
		return
	}
	if err := s.runs.Save(ctx, summary); err != nil {
		log.Warnf("[IngestService] 保存运行状态失败, run_id: %s, error: %v", summary.RunID, err)
	}
}
