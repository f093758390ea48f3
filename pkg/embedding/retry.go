package embedding

import (
	"context"
	"errors"
	"time"

	"ta-content-pipeline/pkg/log"
)

// ErrInvalidMaxAttempts is returned when maxAttempts is <= 0.
var ErrInvalidMaxAttempts = errors.New("maxAttempts must be greater than 0")

// RetryWithBackoff retries operation while retryable(err) holds, doubling the delay after each attempt.
// Returns the error from the last attempt if all attempts fail.
func RetryWithBackoff(ctx context.Context, operation func() error, retryable func(error) bool, maxAttempts int, baseDelay time.Duration) error {
	if maxAttempts <= 0 {
		return ErrInvalidMaxAttempts
	}

	var lastErr error
	delay := baseDelay
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		lastErr = operation()
		if lastErr == nil {
			if attempt > 1 {
				log.Infof("[EmbeddingRetry] 第 %d 次尝试成功", attempt)
			}
			return nil
		}
		if !retryable(lastErr) || attempt == maxAttempts {
			break
		}

		log.Warnf("[EmbeddingRetry] 第 %d/%d 次尝试失败, %s 后重试: %v", attempt, maxAttempts, delay, lastErr)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
		delay *= 2
	}
	return lastErr
}

type retryingClient struct {
	next        Client
	maxAttempts int
	baseDelay   time.Duration
}

// WithRetry wraps c so that transient ServiceErrors are retried with exponential backoff.
// Permanent errors are returned immediately. maxAttempts <= 1 returns c unchanged.
func WithRetry(c Client, maxAttempts int, baseDelay time.Duration) Client {
	if maxAttempts <= 1 {
		return c
	}
	return &retryingClient{next: c, maxAttempts: maxAttempts, baseDelay: baseDelay}
}

func (r *retryingClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var vectors [][]float32
	err := RetryWithBackoff(ctx, func() error {
		var err error
		vectors, err = r.next.Embed(ctx, texts)
		return err
	}, IsTransient, r.maxAttempts, r.baseDelay)
	if err != nil {
		return nil, err
	}
	return vectors, nil
}
