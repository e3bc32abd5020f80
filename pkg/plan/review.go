package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"autodev/pkg/agent/llm"
)

const reviewSystemPrompt = `You are a thorough code reviewer. Analyze the pull request diff for
correctness, maintainability, security, and test coverage.

IMPORTANT:
1. Be specific: reference files and lines from the diff
2. Distinguish real problems from style preferences
3. If the change looks good, say so briefly
4. Return valid JSON format

Return JSON in this format:
{
    "analysis": "markdown assessment of the change",
    "recommendations": ["specific actionable recommendation", ...]
}`

// Review is the model's assessment of a pull request.
type Review struct {
	Analysis        string   `json:"analysis"`
	Recommendations []string `json:"recommendations"`
}

// FileSnapshot is a changed file's full content at the PR head,
// giving the reviewer context beyond the diff hunks.
type FileSnapshot struct {
	Path    string
	Content string
}

// ReviewRequest carries the pull request material for analysis.
type ReviewRequest struct {
	Title        string
	Body         string
	Diff         string
	ChangedFiles []string
	Snapshots    []FileSnapshot
	IssueContext string
	CIStatus     string
}

// AnalyzePR asks the model to review a pull request diff.
func (g *Generator) AnalyzePR(ctx context.Context, req ReviewRequest) (*Review, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "PULL REQUEST: %s\n\n", req.Title)
	if req.Body != "" {
		fmt.Fprintf(&b, "DESCRIPTION:\n%s\n\n", req.Body)
	}
	if len(req.ChangedFiles) > 0 {
		b.WriteString("CHANGED FILES:\n")
		for _, f := range req.ChangedFiles {
			fmt.Fprintf(&b, "- %s\n", f)
		}
		b.WriteString("\n")
	}
	if req.IssueContext != "" {
		fmt.Fprintf(&b, "LINKED ISSUE:\n%s\n\n", req.IssueContext)
	}
	if req.CIStatus != "" {
		fmt.Fprintf(&b, "CI STATUS: %s\n\n", req.CIStatus)
	}
	fmt.Fprintf(&b, "DIFF:\n```diff\n%s\n```\n", req.Diff)
	for _, snap := range req.Snapshots {
		fmt.Fprintf(&b, "\nFULL CONTENT OF %s AT THE PR HEAD:\n```\n%s\n```\n", snap.Path, snap.Content)
	}

	resp, err := g.client.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.CompletionMessage{
			llm.NewSystemMessage(reviewSystemPrompt),
			llm.NewUserMessage(b.String()),
		},
		MaxTokens:   llm.DefaultMaxTokens,
		Temperature: llm.TemperatureDeterministic,
	})
	if err != nil {
		return nil, &GenerationError{Stage: "completion", Err: err}
	}

	var review Review
	if err := json.Unmarshal([]byte(StripCodeFence(resp.Content)), &review); err != nil {
		// Unstructured output is still a usable review body.
		return &Review{Analysis: resp.Content}, nil
	}
	return &review, nil
}
