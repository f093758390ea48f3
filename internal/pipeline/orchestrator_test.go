package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ta-content-pipeline/internal/chunker"
	"ta-content-pipeline/internal/model"
	"ta-content-pipeline/internal/repository"
	"ta-content-pipeline/pkg/embedding"
)

// ---- fakes ----

type fakeEmbedder struct {
	calls [][]string
	fail  map[int]error // 按调用序号(从 1 开始)注入错误
	short map[int]bool  // 按调用序号少返回一个向量
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls = append(f.calls, texts)
	n := len(f.calls)
	if err := f.fail[n]; err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = []float32{float32(len(text)), float32(n)}
	}
	if f.short[n] {
		out = out[:len(out)-1]
	}
	return out, nil
}

type memStore struct {
	openErr   error
	upsertErr error
	failKeys  map[string]bool
	noPrune   bool

	opened, closed int
	rows           map[string]model.ChunkEmbedding
	order          []string
	pruned         map[string]int
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]model.ChunkEmbedding), failKeys: make(map[string]bool), pruned: make(map[string]int)}
}

func key(unitID string, idx int) string {
	return fmt.Sprintf("%s#%d", unitID, idx)
}

func (s *memStore) Open(context.Context) (repository.VectorWriter, error) {
	if s.openErr != nil {
		return nil, s.openErr
	}
	s.opened++
	if s.noPrune {
		return &memWriter{s: s}, nil
	}
	return &pruningMemWriter{memWriter{s: s}}, nil
}

type memWriter struct{ s *memStore }

func (w *memWriter) Upsert(_ context.Context, pairs []model.ChunkEmbedding) (int, error) {
	if w.s.upsertErr != nil {
		return 0, w.s.upsertErr
	}
	n := 0
	var failures []model.RowFailure
	for _, p := range pairs {
		k := key(p.Chunk.ContentUnitID, p.Chunk.ChunkIndex)
		if w.s.failKeys[k] {
			failures = append(failures, model.RowFailure{ContentUnitID: p.Chunk.ContentUnitID, ChunkIndex: p.Chunk.ChunkIndex, Error: "constraint violated"})
			continue
		}
		w.s.rows[k] = p
		w.s.order = append(w.s.order, k)
		n++
	}
	if len(failures) > 0 {
		return n, &repository.PersistenceError{Failures: failures}
	}
	return n, nil
}

func (w *memWriter) Close() error {
	w.s.closed++
	return nil
}

type pruningMemWriter struct{ memWriter }

func (w *pruningMemWriter) PruneFrom(_ context.Context, unitID string, from int) (int64, error) {
	w.s.pruned[unitID] = from
	var n int64
	for k, p := range w.s.rows {
		if p.Chunk.ContentUnitID == unitID && p.Chunk.ChunkIndex >= from {
			delete(w.s.rows, k)
			n++
		}
	}
	return n, nil
}

type recordingSink struct {
	events  []model.BatchProgress
	onBatch func(model.BatchProgress)
}

func (r *recordingSink) BatchDone(_ context.Context, p model.BatchProgress) {
	r.events = append(r.events, p)
	if r.onBatch != nil {
		r.onBatch(p)
	}
}

// ---- helpers ----

func testChunker(t *testing.T) *chunker.Chunker {
	t.Helper()
	c, err := chunker.New(chunker.Config{MaxChunkTokens: 4, OverlapTokens: 1, MinChunkTokens: 1})
	require.NoError(t, err)
	return c
}

func unit(id, text string) model.ContentUnit {
	return model.ContentUnit{ID: id, Subject: "science", GradeBand: "3-5", Title: "T " + id, FullText: text, TopicPath: []string{"life", "plants"}}
}

func words(prefix string, n int) string {
	ws := make([]string, n)
	for i := range ws {
		ws[i] = fmt.Sprintf("%s%d", prefix, i+1)
	}
	return strings.Join(ws, " ")
}

func newTestOrchestrator(t *testing.T, e embedding.Client, s repository.VectorStore, opts ...Option) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(testChunker(t), e, s, opts...)
	require.NoError(t, err)
	return o
}

func fiveSingleChunkUnits() []model.ContentUnit {
	var units []model.ContentUnit
	for i := 1; i <= 5; i++ {
		units = append(units, unit(fmt.Sprintf("u%d", i), fmt.Sprintf("text of unit %d", i)))
	}
	return units
}

// ---- tests ----

func TestNewOrchestrator_RequiresDependencies(t *testing.T) {
	c := testChunker(t)
	e := &fakeEmbedder{}
	s := newMemStore()

	_, err := NewOrchestrator(nil, e, s)
	assert.ErrorIs(t, err, ErrChunkerRequired)
	_, err = NewOrchestrator(c, nil, s)
	assert.ErrorIs(t, err, ErrEmbedderRequired)
	_, err = NewOrchestrator(c, e, nil)
	assert.ErrorIs(t, err, ErrStoreRequired)
	_, err = NewOrchestrator(c, e, s, WithBatchSize(0))
	assert.ErrorIs(t, err, ErrInvalidBatchSize)

	o, err := NewOrchestrator(c, e, s)
	require.NoError(t, err)
	assert.Equal(t, DefaultBatchSize, o.batchSize)
}

func TestRun_BatchesSequentially(t *testing.T) {
	e := &fakeEmbedder{}
	s := newMemStore()
	sink := &recordingSink{}
	o := newTestOrchestrator(t, e, s, WithBatchSize(2), WithProgressSink(sink))

	summary, err := o.Run(context.Background(), fiveSingleChunkUnits())
	require.NoError(t, err)

	require.Len(t, e.calls, 3)
	assert.Len(t, e.calls[0], 2)
	assert.Len(t, e.calls[1], 2)
	assert.Len(t, e.calls[2], 1)

	assert.Equal(t, 5, summary.Units)
	assert.Equal(t, 5, summary.Chunks)
	assert.Equal(t, 3, summary.Batches)
	assert.Equal(t, 5, summary.Processed)
	assert.Equal(t, 5, summary.Written)
	assert.Equal(t, model.RunStatusSucceeded, summary.Status)
	assert.True(t, summary.Succeeded())
	assert.NotEmpty(t, summary.RunID)
	assert.False(t, summary.FinishedAt.Before(summary.StartedAt))

	assert.Equal(t, 1, s.opened)
	assert.Equal(t, 1, s.closed)
	assert.Equal(t, []string{"u1#0", "u2#0", "u3#0", "u4#0", "u5#0"}, s.order)

	require.Len(t, sink.events, 3)
	for i, ev := range sink.events {
		assert.Equal(t, i+1, ev.Batch)
		assert.Equal(t, 3, ev.TotalBatches)
		assert.Equal(t, 5, ev.TotalChunks)
		assert.Equal(t, summary.RunID, ev.RunID)
		assert.False(t, ev.Failed)
	}
}

func TestRun_PairsVectorsPositionally(t *testing.T) {
	e := &fakeEmbedder{}
	s := newMemStore()
	o := newTestOrchestrator(t, e, s, WithBatchSize(3))

	_, err := o.Run(context.Background(), []model.ContentUnit{unit("long", words("w", 9)), unit("short", "tiny")})
	require.NoError(t, err)

	require.Len(t, s.rows, 4)
	for _, p := range s.rows {
		assert.Equal(t, float32(len(p.Chunk.Text)), p.Vector[0], "vector must belong to %s", p.Chunk.Text)
	}
	assert.Equal(t, "w1 w2 w3 w4", s.rows["long#0"].Chunk.Text)
	assert.Equal(t, "w7 w8 w9", s.rows["long#2"].Chunk.Text)
	assert.Equal(t, "life/plants", s.rows["short#0"].Chunk.Metadata.TopicPath)
}

func TestRun_EmbeddingFailureIsContainedToBatch(t *testing.T) {
	e := &fakeEmbedder{fail: map[int]error{
		2: &embedding.ServiceError{Kind: embedding.Transient, StatusCode: 503, Err: errors.New("overloaded")},
	}}
	s := newMemStore()
	sink := &recordingSink{}
	o := newTestOrchestrator(t, e, s, WithBatchSize(2), WithProgressSink(sink))

	summary, err := o.Run(context.Background(), fiveSingleChunkUnits())
	require.NoError(t, err)

	assert.Len(t, e.calls, 3)
	assert.Equal(t, 3, summary.Written)
	require.Len(t, summary.FailedBatches, 1)
	fb := summary.FailedBatches[0]
	assert.Equal(t, 2, fb.Index)
	assert.Equal(t, model.StageEmbed, fb.Stage)
	assert.True(t, fb.Transient)
	assert.Equal(t, []string{"u3", "u4"}, fb.ContentUnitIDs)
	assert.Equal(t, []string{"u3", "u4"}, summary.ResumeUnitIDs())
	assert.Equal(t, model.RunStatusPartial, summary.Status)

	assert.Contains(t, s.rows, "u5#0")
	assert.NotContains(t, s.rows, "u3#0")
	assert.Equal(t, 1, s.closed)
	assert.True(t, sink.events[1].Failed)
	assert.False(t, sink.events[2].Failed)
}

func TestRun_PermanentEmbeddingFailures(t *testing.T) {
	e := &fakeEmbedder{
		fail:  map[int]error{1: &embedding.ServiceError{Kind: embedding.Permanent, StatusCode: 400, Err: errors.New("input too long")}},
		short: map[int]bool{2: true},
	}
	s := newMemStore()
	o := newTestOrchestrator(t, e, s, WithBatchSize(2))

	summary, err := o.Run(context.Background(), fiveSingleChunkUnits()[:4])
	require.NoError(t, err)

	require.Len(t, summary.FailedBatches, 2)
	assert.False(t, summary.FailedBatches[0].Transient)
	assert.False(t, summary.FailedBatches[1].Transient)
	assert.Contains(t, summary.FailedBatches[1].Error, "count mismatch")
	assert.Equal(t, 0, summary.Written)
	assert.Empty(t, s.rows)
	assert.Equal(t, model.RunStatusFailed, summary.Status)
}

func TestRun_RowFailuresAreRecordedWithBatch(t *testing.T) {
	e := &fakeEmbedder{}
	s := newMemStore()
	s.failKeys["u4#0"] = true
	o := newTestOrchestrator(t, e, s, WithBatchSize(2))

	summary, err := o.Run(context.Background(), fiveSingleChunkUnits())
	require.NoError(t, err)

	assert.Equal(t, 4, summary.Written)
	require.Len(t, summary.RowFailures, 1)
	assert.Equal(t, model.RowFailure{Batch: 2, ContentUnitID: "u4", ChunkIndex: 0, Error: "constraint violated"}, summary.RowFailures[0])
	assert.Empty(t, summary.FailedBatches)
	assert.Equal(t, []string{"u4"}, summary.ResumeUnitIDs())
}

func TestRun_WriterErrorFailsBatch(t *testing.T) {
	e := &fakeEmbedder{}
	s := newMemStore()
	s.upsertErr = errors.New("connection reset")
	o := newTestOrchestrator(t, e, s, WithBatchSize(5))

	summary, err := o.Run(context.Background(), fiveSingleChunkUnits())
	require.NoError(t, err)
	require.Len(t, summary.FailedBatches, 1)
	assert.Equal(t, model.StagePersist, summary.FailedBatches[0].Stage)
	assert.Equal(t, 1, s.closed)
}

func TestRun_OpenFailureIsRunLevel(t *testing.T) {
	e := &fakeEmbedder{}
	s := newMemStore()
	s.openErr = errors.New("too many connections")
	o := newTestOrchestrator(t, e, s)

	summary, err := o.Run(context.Background(), fiveSingleChunkUnits())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too many connections")
	require.NotNil(t, summary)
	assert.Equal(t, model.RunStatusFailed, summary.Status)
	assert.Empty(t, e.calls)
	assert.Equal(t, 0, s.closed)
}

func TestRun_CancellationBetweenBatches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e := &fakeEmbedder{}
	s := newMemStore()
	sink := &recordingSink{onBatch: func(p model.BatchProgress) {
		if p.Batch == 1 {
			cancel()
		}
	}}
	o := newTestOrchestrator(t, e, s, WithBatchSize(2), WithProgressSink(sink))

	summary, err := o.Run(ctx, fiveSingleChunkUnits())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Len(t, e.calls, 1)
	assert.Equal(t, 2, summary.Written)
	assert.Equal(t, 5, summary.Chunks)
	assert.Equal(t, 2, summary.Processed)
	require.Len(t, summary.FailedBatches, 2)
	assert.Equal(t, model.StageCancelled, summary.FailedBatches[0].Stage)
	assert.Equal(t, 2, summary.FailedBatches[0].Index)
	assert.Equal(t, []string{"u3", "u4", "u5"}, summary.ResumeUnitIDs())
	assert.Equal(t, model.RunStatusPartial, summary.Status)
	assert.Equal(t, 1, s.closed)
}

func TestRun_SkipsInvalidAndDuplicateUnits(t *testing.T) {
	e := &fakeEmbedder{}
	s := newMemStore()
	o := newTestOrchestrator(t, e, s)

	noTitle := unit("u2", "some text")
	noTitle.Title = ""
	noID := unit("", "some text")

	summary, err := o.Run(context.Background(), []model.ContentUnit{unit("u1", "a b"), noTitle, noID, unit("u1", "again")})
	require.NoError(t, err)

	require.Len(t, summary.SkippedUnits, 3)
	assert.Equal(t, "u2", summary.SkippedUnits[0].ContentUnitID)
	assert.Contains(t, summary.SkippedUnits[0].Error, "title")
	assert.Equal(t, 2, summary.SkippedUnits[1].Index)
	assert.Contains(t, summary.SkippedUnits[1].Error, "#2")
	assert.Contains(t, summary.SkippedUnits[2].Error, "duplicate")

	assert.Equal(t, 1, summary.Written)
	assert.Equal(t, "a b", s.rows["u1#0"].Chunk.Text)
	assert.Equal(t, model.RunStatusPartial, summary.Status)
}

func TestRun_EmptyInput(t *testing.T) {
	e := &fakeEmbedder{}
	s := newMemStore()
	o := newTestOrchestrator(t, e, s)

	summary, err := o.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusSucceeded, summary.Status)
	assert.Empty(t, e.calls)
	assert.Equal(t, 0, s.opened)
}

func TestRun_PruneStaleSkipsFailedUnits(t *testing.T) {
	e := &fakeEmbedder{}
	s := newMemStore()
	s.rows["u1#5"] = model.ChunkEmbedding{Chunk: model.Chunk{ContentUnitID: "u1", ChunkIndex: 5}}
	s.rows["u2#5"] = model.ChunkEmbedding{Chunk: model.Chunk{ContentUnitID: "u2", ChunkIndex: 5}}
	s.failKeys["u2#0"] = true
	o := newTestOrchestrator(t, e, s, WithPruneStale(true))

	summary, err := o.Run(context.Background(), []model.ContentUnit{unit("u1", words("a", 9)), unit("u2", "x y")})
	require.NoError(t, err)

	assert.Equal(t, map[string]int{"u1": 3}, s.pruned)
	assert.Equal(t, int64(1), summary.Pruned)
	assert.NotContains(t, s.rows, "u1#5")
	assert.Contains(t, s.rows, "u2#5")
}

func TestRun_PruneStaleWithoutPruner(t *testing.T) {
	s := newMemStore()
	s.noPrune = true
	o := newTestOrchestrator(t, &fakeEmbedder{}, s, WithPruneStale(true))

	summary, err := o.Run(context.Background(), []model.ContentUnit{unit("u1", "x")})
	require.NoError(t, err)
	assert.Equal(t, int64(0), summary.Pruned)
	assert.Empty(t, s.pruned)
}

func TestUnitIDs(t *testing.T) {
	batch := []model.Chunk{{ContentUnitID: "a"}, {ContentUnitID: "a"}, {ContentUnitID: "b"}, {ContentUnitID: "c"}, {ContentUnitID: "c"}}
	assert.Equal(t, []string{"a", "b", "c"}, unitIDs(batch))
	assert.Empty(t, unitIDs(nil))
}
