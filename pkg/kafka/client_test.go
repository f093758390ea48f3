package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ta-content-pipeline/internal/config"
	"ta-content-pipeline/pkg/tasks"
)

type scriptedProcessor struct {
	errs  []error
	calls int
}

func (p *scriptedProcessor) Process(context.Context, tasks.IngestTask) error {
	p.calls++
	if len(p.errs) == 0 {
		return nil
	}
	err := p.errs[0]
	p.errs = p.errs[1:]
	return err
}

type memCounter struct {
	counts map[string]int64
	resets int
	err    error
}

func (m *memCounter) Incr(_ context.Context, id string) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.counts[id]++
	return m.counts[id], nil
}

func (m *memCounter) Reset(_ context.Context, id string) error {
	m.resets++
	delete(m.counts, id)
	return nil
}

func newTestConsumer(p TaskProcessor, c AttemptCounter) *Consumer {
	return &Consumer{processor: p, attempts: c, maxAttempts: DefaultMaxAttempts, retryDelay: time.Millisecond}
}

func taskBytes(t *testing.T, runID string) []byte {
	t.Helper()
	b, err := json.Marshal(tasks.IngestTask{RunID: runID})
	require.NoError(t, err)
	return b
}

func TestHandle_SuccessCommitsAndResets(t *testing.T) {
	p := &scriptedProcessor{}
	counter := &memCounter{counts: map[string]int64{}}

	assert.True(t, newTestConsumer(p, counter).handle(context.Background(), taskBytes(t, "r1")))
	assert.Equal(t, 1, p.calls)
	assert.Equal(t, 1, counter.resets)
}

func TestHandle_RetriesUntilSuccess(t *testing.T) {
	boom := errors.New("embedding service down")
	p := &scriptedProcessor{errs: []error{boom, boom}}
	counter := &memCounter{counts: map[string]int64{}}

	assert.True(t, newTestConsumer(p, counter).handle(context.Background(), taskBytes(t, "r1")))
	assert.Equal(t, 3, p.calls)
	assert.Empty(t, counter.counts)
}

func TestHandle_GivesUpAfterMaxAttempts(t *testing.T) {
	boom := errors.New("store down")
	p := &scriptedProcessor{errs: []error{boom, boom, boom, boom}}
	counter := &memCounter{counts: map[string]int64{}}

	assert.True(t, newTestConsumer(p, counter).handle(context.Background(), taskBytes(t, "r1")))
	assert.Equal(t, 3, p.calls)
	assert.Equal(t, int64(3), counter.counts["r1"])
}

func TestHandle_CounterFailureLeavesOffset(t *testing.T) {
	p := &scriptedProcessor{errs: []error{errors.New("x")}}
	counter := &memCounter{counts: map[string]int64{}, err: errors.New("redis down")}

	assert.False(t, newTestConsumer(p, counter).handle(context.Background(), taskBytes(t, "r1")))
	assert.Equal(t, 1, p.calls)
}

func TestHandle_MalformedMessageIsCommitted(t *testing.T) {
	p := &scriptedProcessor{}
	assert.True(t, newTestConsumer(p, &memCounter{counts: map[string]int64{}}).handle(context.Background(), []byte("{not json")))
	assert.Equal(t, 0, p.calls)
}

func TestBrokers(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, brokers(config.KafkaConfig{Brokers: "a:9092, b:9092,"}))
}
