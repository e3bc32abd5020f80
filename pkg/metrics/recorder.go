// Package metrics exposes Prometheus instrumentation for workflow runs
// and a query service for aggregating per-execution usage.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	workflowRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autodev_workflow_runs_total",
		Help: "Workflow executions by type and terminal status.",
	}, []string{"workflow", "status"})

	stepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "autodev_step_duration_seconds",
		Help:    "Duration of workflow steps.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
	}, []string{"step"})

	testAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autodev_test_attempts_total",
		Help: "Test command attempts by outcome.",
	}, []string{"outcome"})

	activeWorkspaces = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "autodev_active_workspaces",
		Help: "Workspaces currently checked out.",
	})

	llmTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_tokens_total",
		Help: "LLM tokens used, labelled by execution and type.",
	}, []string{"execution_id", "type"})

	llmCost = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_costs_total",
		Help: "Estimated LLM spend in USD by execution.",
	}, []string{"execution_id"})
)

// RecordWorkflowRun counts a finished workflow execution.
func RecordWorkflowRun(workflow, status string) {
	workflowRuns.WithLabelValues(workflow, status).Inc()
}

// ObserveStep records the duration of one workflow step.
func ObserveStep(step string, d time.Duration) {
	stepDuration.WithLabelValues(step).Observe(d.Seconds())
}

// TimeStep returns a function that records the elapsed time when called.
func TimeStep(step string) func() {
	start := time.Now()
	return func() { ObserveStep(step, time.Since(start)) }
}

// RecordTestAttempt counts one test command run.
func RecordTestAttempt(outcome string) {
	testAttempts.WithLabelValues(outcome).Inc()
}

// SetActiveWorkspaces publishes the workspace pool occupancy.
func SetActiveWorkspaces(n int) {
	activeWorkspaces.Set(float64(n))
}

// RecordTokens accumulates token usage for an execution.
func RecordTokens(executionID string, promptTokens, completionTokens int) {
	llmTokens.WithLabelValues(executionID, "prompt").Add(float64(promptTokens))
	llmTokens.WithLabelValues(executionID, "completion").Add(float64(completionTokens))
}

// RecordCost accumulates estimated spend for an execution.
func RecordCost(executionID string, usd float64) {
	llmCost.WithLabelValues(executionID).Add(usd)
}
