package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// ExecutionMetrics is aggregated usage for one workflow execution.
type ExecutionMetrics struct {
	ExecutionID      string  `json:"execution_id"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	TotalCost        float64 `json:"total_cost_usd"`
}

// QueryService queries aggregated metrics from Prometheus.
type QueryService struct {
	client   api.Client
	queryAPI v1.API
}

// NewQueryService creates a metrics query service.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}

	return &QueryService{
		client:   client,
		queryAPI: v1.NewAPI(client),
	}, nil
}

// GetExecutionMetrics aggregates token and cost metrics for an execution
// across every LLM call it made.
func (q *QueryService) GetExecutionMetrics(ctx context.Context, executionID string) (*ExecutionMetrics, error) {
	m := &ExecutionMetrics{
		ExecutionID: executionID,
	}

	promptQuery := fmt.Sprintf(`sum(llm_tokens_total{execution_id=%q, type="prompt"})`, executionID)
	promptResult, _, err := q.queryAPI.Query(ctx, promptQuery, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query prompt tokens: %w", err)
	}
	if vector, ok := promptResult.(model.Vector); ok && len(vector) > 0 {
		m.PromptTokens = int64(vector[0].Value)
	}

	completionQuery := fmt.Sprintf(`sum(llm_tokens_total{execution_id=%q, type="completion"})`, executionID)
	completionResult, _, err := q.queryAPI.Query(ctx, completionQuery, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query completion tokens: %w", err)
	}
	if vector, ok := completionResult.(model.Vector); ok && len(vector) > 0 {
		m.CompletionTokens = int64(vector[0].Value)
	}

	m.TotalTokens = m.PromptTokens + m.CompletionTokens

	costQuery := fmt.Sprintf(`sum(llm_costs_total{execution_id=%q})`, executionID)
	costResult, _, err := q.queryAPI.Query(ctx, costQuery, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query total cost: %w", err)
	}
	if vector, ok := costResult.(model.Vector); ok && len(vector) > 0 {
		m.TotalCost = float64(vector[0].Value)
	}

	return m, nil
}
