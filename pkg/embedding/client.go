// Package embedding provides a client for the text-embeddings-inference style /embed endpoint.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"ta-content-pipeline/internal/config"
	"ta-content-pipeline/pkg/log"
)

// DefaultTimeout is applied when the config does not set one.
const DefaultTimeout = 60 * time.Second

// Client defines the interface for an embedding client.
// Embed returns one vector per input text, in input order.
type Client interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

type teiClient struct {
	cfg     config.EmbeddingConfig
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// NewClient creates a new embedding client from the config.
// Rate limiting and the circuit breaker are only enabled when configured.
func NewClient(cfg config.EmbeddingConfig) Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	c := &teiClient{
		cfg:    cfg,
		client: &http.Client{},
	}
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	if cfg.Breaker.Enabled {
		c.breaker = newBreaker(cfg.Breaker)
	}
	return c
}

func newBreaker(cfg config.BreakerConfig) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "EmbeddingService",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureRatio
		},
		// 4xx 和格式错误是请求本身的问题，不计入服务健康度
		IsSuccessful: func(err error) bool {
			return err == nil || !IsTransient(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warnf("[EmbeddingClient] 熔断器 %s 状态变化: %s -> %s", name, from, to)
		},
	})
}

type embedRequest struct {
	Inputs []string `json:"inputs"`
}

// Embed posts the batch to {base_url}/embed.
// Any failure is returned as a *ServiceError carrying the whole batch; a batch is never partially consumed.
func (c *teiClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, newTransient(texts, 0, fmt.Errorf("rate limiter: %w", err))
		}
	}

	if c.breaker == nil {
		return c.do(ctx, texts)
	}
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.do(ctx, texts)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, newTransient(texts, 0, err)
		}
		return nil, err
	}
	return result.([][]float32), nil
}

func (c *teiClient) do(ctx context.Context, texts []string) ([][]float32, error) {
	log.Debugf("[EmbeddingClient] 开始调用 Embedding API, batch_size: %d", len(texts))

	reqBytes, err := json.Marshal(embedRequest{Inputs: texts})
	if err != nil {
		return nil, newPermanent(texts, 0, fmt.Errorf("failed to marshal embedding request: %w", err))
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/embed"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBytes))
	if err != nil {
		return nil, newPermanent(texts, 0, fmt.Errorf("failed to create embedding request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		// 超时与网络错误都视为暂时性失败
		log.Errorf("[EmbeddingClient] 调用 Embedding API 失败, error: %v", err)
		return nil, newTransient(texts, 0, fmt.Errorf("failed to call embedding api: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newTransient(texts, resp.StatusCode, fmt.Errorf("failed to read embedding response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Errorf("[EmbeddingClient] Embedding API 返回非 2xx 状态码: %s", resp.Status)
		statusErr := fmt.Errorf("embedding api returned status %s: %s", resp.Status, truncate(string(body), 256))
		if retryableStatus(resp.StatusCode) {
			return nil, newTransient(texts, resp.StatusCode, statusErr)
		}
		return nil, newPermanent(texts, resp.StatusCode, statusErr)
	}

	vectors, err := decodeVectors(body, len(texts))
	if err != nil {
		log.Errorf("[EmbeddingClient] 解析 Embedding API 响应失败, error: %v", err)
		return nil, newPermanent(texts, resp.StatusCode, err)
	}

	log.Debugf("[EmbeddingClient] 成功获取 %d 个向量, 维度: %d", len(vectors), len(vectors[0]))
	return vectors, nil
}

// decodeVectors 解析 [[float,...],...] 响应。
// null 元素、空向量、数量或维度不一致都视为格式错误。
func decodeVectors(body []byte, want int) ([][]float32, error) {
	var raw [][]*float32
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("malformed embedding response: %w", err)
	}
	if len(raw) != want {
		return nil, fmt.Errorf("embedding count mismatch: expected %d, got %d", want, len(raw))
	}

	vectors := make([][]float32, len(raw))
	for i, rv := range raw {
		if len(rv) == 0 {
			return nil, fmt.Errorf("empty embedding at position %d", i)
		}
		if len(rv) != len(raw[0]) {
			return nil, fmt.Errorf("embedding dimension mismatch: position %d has %d values, position 0 has %d", i, len(rv), len(raw[0]))
		}
		v := make([]float32, len(rv))
		for j, x := range rv {
			if x == nil {
				return nil, fmt.Errorf("malformed embedding response: null value at [%d][%d]", i, j)
			}
			v[j] = *x
		}
		vectors[i] = v
	}
	return vectors, nil
}

func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
