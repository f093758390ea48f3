package model

import "time"

// 失败发生的阶段。
const (
	StageEmbed     = "embed"
	StagePersist   = "persist"
	StageOpen      = "open"
	StageCancelled = "cancelled" // 运行被取消时尚未开始的批次
)

// BatchFailure 记录一个被中止的批次，足够用来做一次可恢复的重跑。
type BatchFailure struct {
	Index          int      `json:"index"` // 从 1 开始，与 BatchProgress.Batch 一致
	ContentUnitIDs []string `json:"content_unit_ids"`
	Stage          string   `json:"stage"`
	Transient      bool     `json:"transient"`
	Error          string   `json:"error"`
}

// UnitFailure 记录一个因输入校验失败而被跳过的单元。
type UnitFailure struct {
	ContentUnitID string `json:"content_unit_id"`
	Index         int    `json:"index"`
	Error         string `json:"error"`
}

// RowFailure 记录一个批次内写入失败的单行。
type RowFailure struct {
	Batch         int    `json:"batch"`
	ContentUnitID string `json:"content_unit_id"`
	ChunkIndex    int    `json:"chunk_index"`
	Error         string `json:"error"`
}

// BatchProgress 是每个批次结束后交给 ProgressSink 的事件。
type BatchProgress struct {
	RunID        string        `json:"run_id"`
	Batch        int           `json:"batch"` // 从 1 开始
	TotalBatches int           `json:"total_batches"`
	TotalChunks  int           `json:"total_chunks"`
	Chunks       int           `json:"chunks"` // 本批次的分块数
	Written      int           `json:"written"`
	Failed       bool          `json:"failed"`
	Elapsed      time.Duration `json:"elapsed"`
}

// RunSummary 是一次流水线运行的汇总结果。
type RunSummary struct {
	RunID         string         `json:"run_id"`
	Status        string         `json:"status"`
	Units         int            `json:"units"`
	Chunks        int            `json:"chunks"`    // 本次运行的分块总数
	Processed     int            `json:"processed"` // 已执行过向量化和写入的分块数，不含被取消的批次
	Batches       int            `json:"batches"`
	Written       int            `json:"written"`
	Pruned        int64          `json:"pruned"`
	FailedBatches []BatchFailure `json:"failed_batches,omitempty"`
	SkippedUnits  []UnitFailure  `json:"skipped_units,omitempty"`
	RowFailures   []RowFailure   `json:"row_failures,omitempty"`
	StartedAt     time.Time      `json:"started_at"`
	FinishedAt    time.Time      `json:"finished_at"`
	Error         string         `json:"error,omitempty"`
}

// 运行状态。
const (
	RunStatusQueued    = "queued"
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusPartial   = "partial"
	RunStatusFailed    = "failed"
)

// Succeeded 表示没有任何跳过的单元、失败的批次或失败的行。
func (s *RunSummary) Succeeded() bool {
	return s.Error == "" && len(s.FailedBatches) == 0 && len(s.SkippedUnits) == 0 && len(s.RowFailures) == 0
}

// ResumeUnitIDs 返回需要重跑的单元 ID（按首次出现顺序去重）。
// 分块是确定性的、写入是幂等的，所以重跑这些单元是安全的。
func (s *RunSummary) ResumeUnitIDs() []string {
	seen := make(map[string]struct{})
	var ids []string
	add := func(id string) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for _, f := range s.FailedBatches {
		for _, id := range f.ContentUnitIDs {
			add(id)
		}
	}
	for _, f := range s.RowFailures {
		add(f.ContentUnitID)
	}
	return ids
}
