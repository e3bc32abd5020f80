package agent

import (
	"context"
	"strings"

	"autodev/pkg/agent/llm"
	"autodev/pkg/config"
	"autodev/pkg/logx"
	"autodev/pkg/metrics"
	"autodev/pkg/utils"
)

// MeteredClient wraps an llm.LLMClient and records token and cost
// metrics for every successful completion, attributed to the execution
// id carried in the context. Untagged contexts are not metered.
type MeteredClient struct {
	inner   llm.LLMClient
	counter *utils.TokenCounter
	logger  *logx.Logger
}

// NewMeteredClient wraps client with usage metering. Providers do not
// all report usage, so tokens are counted locally.
func NewMeteredClient(client llm.LLMClient, logger *logx.Logger) *MeteredClient {
	if logger == nil {
		logger = logx.NewLogger("llm")
	}
	counter, err := utils.NewTokenCounter()
	if err != nil {
		// CountTokens degrades to a character estimate on a nil counter.
		logger.Warn("tokenizer unavailable, using character estimates: %v", err)
	}
	return &MeteredClient{inner: client, counter: counter, logger: logger}
}

// Complete implements llm.LLMClient.
func (m *MeteredClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	resp, err := m.inner.Complete(ctx, in)
	if err != nil {
		return resp, err
	}

	executionID := llm.ExecutionIDFromContext(ctx)
	if executionID == "" {
		return resp, nil
	}

	var prompt strings.Builder
	for i := range in.Messages {
		prompt.WriteString(in.Messages[i].Content)
		prompt.WriteString("\n")
	}
	promptTokens := m.counter.CountTokens(prompt.String())
	completionTokens := m.counter.CountTokens(resp.Content)

	model := m.inner.GetModelName()
	metrics.RecordTokens(executionID, promptTokens, completionTokens)
	if cost := config.CalculateCost(model, promptTokens, completionTokens); cost > 0 {
		metrics.RecordCost(executionID, cost)
	}
	m.logger.Debug("LLM usage: execution=%s model=%s tokens=%d+%d",
		executionID, model, promptTokens, completionTokens)

	return resp, nil
}

// GetModelName implements llm.LLMClient.
func (m *MeteredClient) GetModelName() string {
	return m.inner.GetModelName()
}
