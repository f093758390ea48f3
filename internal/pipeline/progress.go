package pipeline

import (
	"context"
	"sync"

	"ta-content-pipeline/internal/model"
	"ta-content-pipeline/internal/repository"
	"ta-content-pipeline/pkg/log"
)

// ProgressSink 接收每个批次结束时的进度事件。
// 实现自行处理内部错误，不能影响流水线的执行。
type ProgressSink interface {
	BatchDone(ctx context.Context, p model.BatchProgress)
}

// LogSink 把进度写入日志。
type LogSink struct{}

func (LogSink) BatchDone(_ context.Context, p model.BatchProgress) {
	if p.Failed {
		log.Warnf("[Orchestrator] 批次 %d/%d 完成(有失败), run_id: %s, 分块: %d, 写入: %d, 耗时: %s",
			p.Batch, p.TotalBatches, p.RunID, p.Chunks, p.Written, p.Elapsed)
		return
	}
	log.Infof("[Orchestrator] 批次 %d/%d 完成, run_id: %s, 分块: %d, 写入: %d, 耗时: %s",
		p.Batch, p.TotalBatches, p.RunID, p.Chunks, p.Written, p.Elapsed)
}

// MultiSink 按顺序把事件分发给多个 sink。
type MultiSink []ProgressSink

func (m MultiSink) BatchDone(ctx context.Context, p model.BatchProgress) {
	for _, s := range m {
		s.BatchDone(ctx, p)
	}
}

// RunRecorderSink 在每个批次后把运行中的状态写入 RunRepository，供 GET /runs/:id 查询。
// 一个实例只服务于一次运行。
type RunRecorderSink struct {
	runs repository.RunRepository

	mu      sync.Mutex
	summary model.RunSummary
}

// NewRunRecorderSink 以 base 为初始状态创建 sink，base 至少需要包含 RunID。
func NewRunRecorderSink(runs repository.RunRepository, base model.RunSummary) *RunRecorderSink {
	base.Status = model.RunStatusRunning
	return &RunRecorderSink{runs: runs, summary: base}
}

func (s *RunRecorderSink) BatchDone(ctx context.Context, p model.BatchProgress) {
	s.mu.Lock()
	s.summary.Batches = p.TotalBatches
	s.summary.Chunks = p.TotalChunks
	s.summary.Processed += p.Chunks
	s.summary.Written += p.Written
	snapshot := s.summary
	s.mu.Unlock()

	if err := s.runs.Save(ctx, &snapshot); err != nil {
		log.Warnf("[RunRecorder] 记录运行进度失败, run_id: %s, batch: %d, error: %v", snapshot.RunID, p.Batch, err)
	}
}
