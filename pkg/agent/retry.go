package agent

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"autodev/pkg/agent/llm"
	"autodev/pkg/agent/llmerrors"
	"autodev/pkg/logx"
)

// RetryingClient wraps an llm.LLMClient with per-error-type exponential
// backoff. Non-retryable errors (auth, bad prompt) surface immediately.
type RetryingClient struct {
	inner  llm.LLMClient
	logger *logx.Logger
}

// NewRetryingClient wraps client with classified-error retry.
func NewRetryingClient(client llm.LLMClient, logger *logx.Logger) *RetryingClient {
	if logger == nil {
		logger = logx.NewLogger("llm")
	}
	return &RetryingClient{inner: client, logger: logger}
}

// Complete implements llm.LLMClient with bounded retries.
func (r *RetryingClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	var lastErr error

	for attempt := 0; ; attempt++ {
		resp, err := r.inner.Complete(ctx, in)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var llmErr *llmerrors.Error
		if !errors.As(err, &llmErr) || !llmErr.IsRetryable() {
			return llm.CompletionResponse{}, err
		}

		cfg := llmErr.GetRetryConfig()
		if attempt >= cfg.MaxRetries {
			break
		}

		delay := backoffDelay(&cfg, attempt)
		r.logger.Warn("LLM call failed (%s), retry %d/%d in %s", llmErr.Type, attempt+1, cfg.MaxRetries, delay)

		select {
		case <-ctx.Done():
			return llm.CompletionResponse{}, ctx.Err()
		case <-time.After(delay):
		}
	}

	return llm.CompletionResponse{}, lastErr
}

// GetModelName implements llm.LLMClient.
func (r *RetryingClient) GetModelName() string {
	return r.inner.GetModelName()
}

func backoffDelay(cfg *llmerrors.RetryConfig, attempt int) time.Duration {
	delay := cfg.InitialDelay
	for i := 0; i < attempt; i++ {
		delay = time.Duration(float64(delay) * cfg.BackoffFactor)
		if delay >= cfg.MaxDelay {
			delay = cfg.MaxDelay
			break
		}
	}
	if cfg.Jitter && delay > 0 {
		//nolint:gosec // Jitter does not need crypto randomness
		delay += time.Duration(rand.Int63n(int64(delay) / 4))
	}
	return delay
}
