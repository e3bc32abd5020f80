// Package verify runs a workspace's test suite, distinguishes a missing
// test runner from genuine failures, and performs a single bounded
// repair pass before the change is published. Test outcomes are recorded
// but never block publication.
package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"autodev/pkg/agent/llm"
	"autodev/pkg/logx"
	"autodev/pkg/plan"
	"autodev/pkg/workspace"
)

// Outcome classifies a verification run.
type Outcome string

const (
	// OutcomePassed means some test command exited zero.
	OutcomePassed Outcome = "passed"
	// OutcomeFailed means tests ran and failed, after repair if any.
	OutcomeFailed Outcome = "failed"
	// OutcomeRunnerNotFound means no test runner exists in the checkout,
	// which is not a test failure.
	OutcomeRunnerNotFound Outcome = "runner_not_found"
)

// Report is the full record of a verification pass.
type Report struct {
	Outcome       Outcome
	PassedCommand string
	InitialRuns   []workspace.TestResult
	RepairedFiles []string
	RepairRuns    []workspace.TestResult
	RepairAttempt bool
}

// Failed reports whether tests ran and did not pass.
func (r *Report) Failed() bool { return r.Outcome == OutcomeFailed }

const repairSystemPrompt = `You are a testing expert. Analyze test failures and suggest specific fixes.

IMPORTANT:
1. Only suggest fixes for files that actually exist or were mentioned as changed
2. Provide complete file content, not just snippets
3. Use the correct file paths relative to repository root
4. Return valid JSON format
5. If no fixes are needed, return empty fixes array

Return JSON in this format:
{
    "fixes": [
        {
            "file": "relative/path/to/file",
            "content": "complete file content",
            "reasoning": "explanation of the fix"
        }
    ]
}`

type repairFix struct {
	File      string `json:"file"`
	Content   string `json:"content"`
	Reasoning string `json:"reasoning"`
}

type repairResponse struct {
	Fixes []repairFix `json:"fixes"`
}

// Verifier runs tests and attempts one LLM-guided repair.
type Verifier struct {
	client llm.LLMClient
	logger *logx.Logger
}

// NewVerifier creates a verifier. A nil client disables repair.
func NewVerifier(client llm.LLMClient) *Verifier {
	return &Verifier{
		client: client,
		logger: logx.NewLogger("verify"),
	}
}

// Run executes the test commands and, on failure, applies at most one
// repair pass followed by exactly one re-run. touchedPaths are the files
// the current change already wrote; repair patches are restricted to
// those plus files that exist in the checkout. The returned error covers
// only infrastructure problems, never test failures.
func (v *Verifier) Run(ctx context.Context, ws *workspace.Workspace, commands []string, touchedPaths []string) (*Report, error) {
	report := &Report{}

	runs, passedCmd, err := ws.RunTests(ctx, commands)
	if err != nil {
		return report, fmt.Errorf("run tests: %w", err)
	}
	report.InitialRuns = runs

	if passedCmd != "" {
		report.Outcome = OutcomePassed
		report.PassedCommand = passedCmd
		return report, nil
	}
	if allRunnersMissing(runs) {
		v.logger.Warn("no test runner found in checkout, skipping verification")
		report.Outcome = OutcomeRunnerNotFound
		return report, nil
	}

	report.Outcome = OutcomeFailed
	if v.client == nil {
		return report, nil
	}

	report.RepairAttempt = true
	fixed, err := v.repair(ctx, ws, runs, touchedPaths)
	if err != nil {
		v.logger.Warn("repair pass failed: %v", err)
		return report, nil
	}
	report.RepairedFiles = fixed
	if len(fixed) == 0 {
		return report, nil
	}

	rerun, passedCmd, err := ws.RunTests(ctx, commands)
	if err != nil {
		return report, fmt.Errorf("re-run tests: %w", err)
	}
	report.RepairRuns = rerun
	if passedCmd != "" {
		report.Outcome = OutcomePassed
		report.PassedCommand = passedCmd
	}
	return report, nil
}

// repair asks the model for fixes and writes the admissible ones.
func (v *Verifier) repair(ctx context.Context, ws *workspace.Workspace, runs []workspace.TestResult, touchedPaths []string) ([]string, error) {
	resp, err := v.client.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.CompletionMessage{
			llm.NewSystemMessage(repairSystemPrompt),
			llm.NewUserMessage(buildRepairPrompt(runs, touchedPaths)),
		},
		MaxTokens:   llm.DefaultMaxTokens,
		Temperature: llm.TemperatureDeterministic,
	})
	if err != nil {
		return nil, err
	}

	var parsed repairResponse
	if err := json.Unmarshal([]byte(plan.StripCodeFence(resp.Content)), &parsed); err != nil {
		return nil, fmt.Errorf("parse repair response: %w", err)
	}

	touched := make(map[string]bool, len(touchedPaths))
	for _, p := range touchedPaths {
		touched[p] = true
	}

	var written []string
	for _, fix := range parsed.Fixes {
		if fix.File == "" || fix.Content == "" {
			continue
		}
		if !touched[fix.File] && !ws.FileExists(fix.File) {
			v.logger.Warn("rejecting repair to unknown path: %s", fix.File)
			continue
		}
		if err := ws.WriteFile(fix.File, fix.Content); err != nil {
			return written, fmt.Errorf("write repair %s: %w", fix.File, err)
		}
		v.logger.Info("applied repair to %s", fix.File)
		written = append(written, fix.File)
	}
	return written, nil
}

func buildRepairPrompt(runs []workspace.TestResult, touchedPaths []string) string {
	var b strings.Builder
	b.WriteString("The following test commands failed:\n\n")
	for _, run := range runs {
		if run.RunnerMissing {
			continue
		}
		fmt.Fprintf(&b, "$ %s (exit %d)\n%s\n\n", run.Command, run.ExitCode, truncate(run.Output, 6000))
	}
	fmt.Fprintf(&b, "Files changed in this branch:\n%s\n", strings.Join(touchedPaths, "\n"))
	b.WriteString("\nSuggest fixes for the failures.\n")
	return b.String()
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "\n... (truncated)"
}

func allRunnersMissing(runs []workspace.TestResult) bool {
	if len(runs) == 0 {
		return true
	}
	for _, run := range runs {
		if !run.RunnerMissing {
			return false
		}
	}
	return true
}
