package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ta-content-pipeline/internal/model"
)

type memRunRepo struct {
	saved []model.RunSummary
	err   error
}

func (m *memRunRepo) Save(_ context.Context, s *model.RunSummary) error {
	if m.err != nil {
		return m.err
	}
	m.saved = append(m.saved, *s)
	return nil
}

func (m *memRunRepo) Get(_ context.Context, id string) (*model.RunSummary, error) {
	for i := len(m.saved) - 1; i >= 0; i-- {
		if m.saved[i].RunID == id {
			s := m.saved[i]
			return &s, nil
		}
	}
	return nil, errors.New("not found")
}

func TestRunRecorderSink_AccumulatesProgress(t *testing.T) {
	repo := &memRunRepo{}
	sink := NewRunRecorderSink(repo, model.RunSummary{RunID: "r1", Units: 3})

	sink.BatchDone(context.Background(), model.BatchProgress{RunID: "r1", Batch: 1, TotalBatches: 2, TotalChunks: 37, Chunks: 32, Written: 32})
	sink.BatchDone(context.Background(), model.BatchProgress{RunID: "r1", Batch: 2, TotalBatches: 2, TotalChunks: 37, Chunks: 5, Written: 3, Failed: true})

	require.Len(t, repo.saved, 2)
	first := repo.saved[0]
	assert.Equal(t, 37, first.Chunks, "chunks is the run total from the first batch on")
	assert.Equal(t, 32, first.Processed)

	last := repo.saved[1]
	assert.Equal(t, "r1", last.RunID)
	assert.Equal(t, model.RunStatusRunning, last.Status)
	assert.Equal(t, 3, last.Units)
	assert.Equal(t, 2, last.Batches)
	assert.Equal(t, 37, last.Chunks)
	assert.Equal(t, 37, last.Processed)
	assert.Equal(t, 35, last.Written)
}

func TestRunRecorderSink_SaveErrorDoesNotPanic(t *testing.T) {
	sink := NewRunRecorderSink(&memRunRepo{err: errors.New("redis down")}, model.RunSummary{RunID: "r1"})
	assert.NotPanics(t, func() {
		sink.BatchDone(context.Background(), model.BatchProgress{Batch: 1, TotalBatches: 1})
	})
}

func TestMultiSink_FansOutInOrder(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	var order []string
	a.onBatch = func(model.BatchProgress) { order = append(order, "a") }
	b.onBatch = func(model.BatchProgress) { order = append(order, "b") }

	MultiSink{a, LogSink{}, b}.BatchDone(context.Background(), model.BatchProgress{Batch: 1, TotalBatches: 1})

	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)
	assert.Equal(t, []string{"a", "b"}, order)
}
