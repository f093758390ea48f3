// Package pipeline 定义了分块、向量化、入库的核心流程。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ta-content-pipeline/internal/chunker"
	"ta-content-pipeline/internal/model"
	"ta-content-pipeline/internal/repository"
	"ta-content-pipeline/pkg/embedding"
	"ta-content-pipeline/pkg/log"
)

// DefaultBatchSize 是每次调用向量化服务的分块数。
const DefaultBatchSize = 32

// Orchestrator 串联 Chunker、Embedding Client 和 VectorStore。
// 一次运行在单个 goroutine 中顺序处理批次，第 N+1 批只会在第 N 批的向量化和写入都返回之后开始。
type Orchestrator struct {
	chunker    *chunker.Chunker
	embedder   embedding.Client
	store      repository.VectorStore
	batchSize  int
	sink       ProgressSink
	pruneStale bool
	now        func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithBatchSize 设置每批的分块数，默认 32。
func WithBatchSize(n int) Option {
	return func(o *Orchestrator) {
		o.batchSize = n
	}
}

// WithProgressSink 设置批次完成事件的接收方，默认只写日志。
func WithProgressSink(sink ProgressSink) Option {
	return func(o *Orchestrator) {
		if sink != nil {
			o.sink = sink
		}
	}
}

// WithPruneStale 开启后，完全成功的单元会删除 chunk_index 超出本次分块数的旧行。
func WithPruneStale(enabled bool) Option {
	return func(o *Orchestrator) {
		o.pruneStale = enabled
	}
}

// NewOrchestrator 创建一个新的 Orchestrator 实例。
func NewOrchestrator(c *chunker.Chunker, embedder embedding.Client, store repository.VectorStore, opts ...Option) (*Orchestrator, error) {
	if c == nil {
		return nil, ErrChunkerRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if store == nil {
		return nil, ErrStoreRequired
	}

	o := &Orchestrator{
		chunker:   c,
		embedder:  embedder,
		store:     store,
		batchSize: DefaultBatchSize,
		sink:      LogSink{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.batchSize <= 0 {
		return nil, ErrInvalidBatchSize
	}
	return o, nil
}

// Run 使用新生成的运行 ID 执行一次完整的流水线。
func (o *Orchestrator) Run(ctx context.Context, units []model.ContentUnit) (*model.RunSummary, error) {
	return o.RunWithID(ctx, uuid.NewString(), units)
}

// RunWithID 执行一次完整的流水线：校验、分块、分批向量化并写入。
//
// 单个批次的向量化或写入失败只影响该批次，记录在汇总中，运行继续。
// 只有运行级别的故障（存储无法打开、批次之间检测到取消）会返回 error，此时汇总同样会返回。
func (o *Orchestrator) RunWithID(ctx context.Context, runID string, units []model.ContentUnit) (*model.RunSummary, error) {
	summary := &model.RunSummary{
		RunID:     runID,
		Status:    model.RunStatusRunning,
		Units:     len(units),
		StartedAt: o.now(),
	}
	log.Infof("[Orchestrator] 开始运行, run_id: %s, 单元数: %d, batch_size: %d", runID, len(units), o.batchSize)

	// 1. 校验并分块
	chunks, chunkCounts, validUnits := o.chunkUnits(units, summary)
	summary.Chunks = len(chunks)
	batches := splitBatches(chunks, o.batchSize)
	summary.Batches = len(batches)
	log.Infof("[Orchestrator] 分块完成, 有效单元: %d, 跳过: %d, 分块数: %d, 批次数: %d",
		len(validUnits), len(summary.SkippedUnits), len(chunks), len(batches))

	if len(batches) == 0 {
		return o.finish(summary, nil), nil
	}

	// 2. 打开存储会话，所有退出路径都会关闭
	writer, err := o.store.Open(ctx)
	if err != nil {
		log.Errorf("[Orchestrator] 打开向量存储失败, run_id: %s, error: %v", runID, err)
		runErr := fmt.Errorf("failed to open vector store: %w", err)
		return o.finish(summary, runErr), runErr
	}
	defer func() {
		if cerr := writer.Close(); cerr != nil {
			log.Warnf("[Orchestrator] 关闭向量存储会话失败, run_id: %s, error: %v", runID, cerr)
		}
	}()

	// 3. 顺序处理批次
	failedUnits := make(map[string]struct{})
	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			log.Warnf("[Orchestrator] 运行被取消, run_id: %s, 剩余批次: %d", runID, len(batches)-i)
			for j := i; j < len(batches); j++ {
				summary.FailedBatches = append(summary.FailedBatches, model.BatchFailure{
					Index:          j + 1,
					ContentUnitIDs: unitIDs(batches[j]),
					Stage:          model.StageCancelled,
					Transient:      true,
					Error:          err.Error(),
				})
			}
			runErr := fmt.Errorf("run cancelled before batch %d/%d: %w", i+1, len(batches), err)
			return o.finish(summary, runErr), runErr
		}

		progress := o.processBatch(ctx, writer, i+1, batch, summary, failedUnits)
		summary.Processed += len(batch)
		progress.RunID = runID
		progress.TotalBatches = len(batches)
		progress.TotalChunks = len(chunks)
		o.sink.BatchDone(ctx, progress)
	}

	// 4. 清理过期分块
	if o.pruneStale {
		o.prune(ctx, writer, validUnits, chunkCounts, failedUnits, summary)
	}

	return o.finish(summary, nil), nil
}

// chunkUnits 校验输入并生成扁平的分块列表，非法或重复的单元被跳过并记录。
func (o *Orchestrator) chunkUnits(units []model.ContentUnit, summary *model.RunSummary) ([]model.Chunk, map[string]int, []string) {
	var chunks []model.Chunk
	counts := make(map[string]int)
	var valid []string

	for i, unit := range units {
		if err := unit.Validate(); err != nil {
			var ve *model.InputValidationError
			if errors.As(err, &ve) {
				ve.Index = i
			}
			log.Warnf("[Orchestrator] 跳过非法单元: %v", err)
			summary.SkippedUnits = append(summary.SkippedUnits, model.UnitFailure{
				ContentUnitID: unit.ID,
				Index:         i,
				Error:         err.Error(),
			})
			continue
		}
		if _, dup := counts[unit.ID]; dup {
			log.Warnf("[Orchestrator] 跳过重复单元, id: %s, 位置: %d", unit.ID, i)
			summary.SkippedUnits = append(summary.SkippedUnits, model.UnitFailure{
				ContentUnitID: unit.ID,
				Index:         i,
				Error:         fmt.Sprintf("duplicate content unit id %q", unit.ID),
			})
			continue
		}

		unitChunks := o.chunker.Chunk(unit)
		counts[unit.ID] = len(unitChunks)
		valid = append(valid, unit.ID)
		chunks = append(chunks, unitChunks...)
	}
	return chunks, counts, valid
}

// processBatch 对一个批次执行 向量化 -> 数量校验 -> 写入。
func (o *Orchestrator) processBatch(ctx context.Context, writer repository.VectorWriter, index int, batch []model.Chunk, summary *model.RunSummary, failedUnits map[string]struct{}) model.BatchProgress {
	start := time.Now()
	progress := model.BatchProgress{Batch: index, Chunks: len(batch)}

	failBatch := func(stage string, transient bool, err error) model.BatchProgress {
		ids := unitIDs(batch)
		for _, id := range ids {
			failedUnits[id] = struct{}{}
		}
		summary.FailedBatches = append(summary.FailedBatches, model.BatchFailure{
			Index:          index,
			ContentUnitIDs: ids,
			Stage:          stage,
			Transient:      transient,
			Error:          err.Error(),
		})
		progress.Failed = true
		progress.Elapsed = time.Since(start)
		return progress
	}

	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Text
	}

	// 批次一旦开始就完整执行，取消只在批次之间生效；向量化调用仍受客户端自身超时约束
	batchCtx := context.WithoutCancel(ctx)

	vectors, err := o.embedder.Embed(batchCtx, texts)
	if err != nil {
		log.Errorf("[Orchestrator] 批次 %d 向量化失败, error: %v", index, err)
		return failBatch(model.StageEmbed, embedding.IsTransient(err), err)
	}
	if len(vectors) != len(batch) {
		err := fmt.Errorf("embedding count mismatch: expected %d, got %d", len(batch), len(vectors))
		log.Errorf("[Orchestrator] 批次 %d 向量数量不匹配: %v", index, err)
		return failBatch(model.StageEmbed, false, err)
	}

	pairs := make([]model.ChunkEmbedding, len(batch))
	for i := range batch {
		pairs[i] = model.ChunkEmbedding{Chunk: batch[i], Vector: vectors[i]}
	}

	written, err := writer.Upsert(batchCtx, pairs)
	summary.Written += written
	progress.Written = written
	if err != nil {
		var pe *repository.PersistenceError
		if !errors.As(err, &pe) {
			log.Errorf("[Orchestrator] 批次 %d 写入失败, error: %v", index, err)
			return failBatch(model.StagePersist, false, err)
		}
		log.Warnf("[Orchestrator] 批次 %d 有 %d 行写入失败", index, len(pe.Failures))
		for _, f := range pe.Failures {
			f.Batch = index
			failedUnits[f.ContentUnitID] = struct{}{}
			summary.RowFailures = append(summary.RowFailures, f)
		}
		progress.Failed = true
	}

	progress.Elapsed = time.Since(start)
	return progress
}

// prune 只处理全部批次都成功的单元，未启用 Pruner 的存储直接跳过。
func (o *Orchestrator) prune(ctx context.Context, writer repository.VectorWriter, units []string, counts map[string]int, failedUnits map[string]struct{}, summary *model.RunSummary) {
	pruner, ok := writer.(repository.Pruner)
	if !ok {
		log.Warnf("[Orchestrator] 当前向量存储不支持清理过期分块, 跳过")
		return
	}
	for _, id := range units {
		if _, failed := failedUnits[id]; failed {
			continue
		}
		n, err := pruner.PruneFrom(ctx, id, counts[id])
		if err != nil {
			log.Warnf("[Orchestrator] 清理单元 %s 的过期分块失败: %v", id, err)
			continue
		}
		summary.Pruned += n
	}
	if summary.Pruned > 0 {
		log.Infof("[Orchestrator] 共清理 %d 个过期分块", summary.Pruned)
	}
}

func (o *Orchestrator) finish(summary *model.RunSummary, runErr error) *model.RunSummary {
	summary.FinishedAt = o.now()
	if runErr != nil {
		summary.Error = runErr.Error()
	}

	switch {
	case summary.Succeeded():
		summary.Status = model.RunStatusSucceeded
	case summary.Written == 0 && (summary.Chunks > 0 || runErr != nil):
		summary.Status = model.RunStatusFailed
	default:
		summary.Status = model.RunStatusPartial
	}

	log.Infow("[Orchestrator] 运行结束",
		"run_id", summary.RunID,
		"status", summary.Status,
		"units", summary.Units,
		"chunks", summary.Chunks,
		"processed", summary.Processed,
		"batches", summary.Batches,
		"written", summary.Written,
		"failed_batches", len(summary.FailedBatches),
		"skipped_units", len(summary.SkippedUnits),
		"row_failures", len(summary.RowFailures),
		"pruned", summary.Pruned,
	)
	return summary
}

func splitBatches(chunks []model.Chunk, size int) [][]model.Chunk {
	var batches [][]model.Chunk
	for start := 0; start < len(chunks); start += size {
		end := start + size
		if end > len(chunks) {
			end = len(chunks)
		}
		batches = append(batches, chunks[start:end])
	}
	return batches
}

// unitIDs 返回批次中涉及的单元 ID，按首次出现顺序去重。
func unitIDs(batch []model.Chunk) []string {
	var ids []string
	for i, c := range batch {
		if i > 0 && batch[i-1].ContentUnitID == c.ContentUnitID {
			continue
		}
		ids = append(ids, c.ContentUnitID)
	}
	return ids
}
