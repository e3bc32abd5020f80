package workflow

import (
	"context"
	"fmt"
	"path"
	"strings"

	"autodev/pkg/agent/llm"
	"autodev/pkg/github"
	"autodev/pkg/metrics"
	"autodev/pkg/persistence"
	"autodev/pkg/plan"
)

// ReviewRequest asks for an automated review of an existing PR.
type ReviewRequest struct {
	RepoURL  string
	PRNumber int
	ThreadID string
	IssueID  string
}

// ReviewResult summarizes a posted review.
type ReviewResult struct {
	ExecutionID     string
	Recommendations []string
}

// ReviewPR fetches a pull request's diff and metadata, asks the model
// for an assessment, and posts it as a PR comment.
func (o *Orchestrator) ReviewPR(ctx context.Context, req ReviewRequest) (*ReviewResult, error) {
	executionID := ReviewExecutionID(req.ThreadID, req.PRNumber)
	record := &persistence.Execution{
		ID:           executionID,
		WorkflowType: TypeReviewPR,
		RepoURL:      req.RepoURL,
		PRNumber:     req.PRNumber,
		ThreadID:     req.ThreadID,
		Status:       StatusPending,
	}
	if err := o.store.CreateExecution(record); err != nil {
		return nil, fmt.Errorf("failed to register execution %s: %w", executionID, err)
	}
	o.setStatus(executionID, StatusInProgress, "")
	o.notifier.Acknowledge(ctx, req.ThreadID, executionID)

	result, err := o.runReview(llm.WithExecutionID(ctx, executionID), executionID, req)
	if err != nil {
		return nil, o.fail(ctx, executionID, req.ThreadID, TypeReviewPR, err)
	}
	o.setStatus(executionID, StatusCompleted, "")
	metrics.RecordWorkflowRun(TypeReviewPR, StatusCompleted)
	return result, nil
}

func (o *Orchestrator) runReview(ctx context.Context, executionID string, req ReviewRequest) (*ReviewResult, error) {
	host, err := o.hostFor(req.RepoURL)
	if err != nil {
		return nil, err
	}

	pr, err := host.GetPR(ctx, prRef(req.PRNumber))
	if err != nil {
		return nil, err
	}
	diff, err := host.GetPRDiff(ctx, req.PRNumber)
	if err != nil {
		return nil, err
	}
	files, err := host.GetPRFiles(ctx, req.PRNumber)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(files))
	for _, f := range files {
		paths = append(paths, fmt.Sprintf("%s (+%d/-%d)", f.Path, f.Additions, f.Deletions))
	}

	ciStatus := ""
	if checks, err := host.GetPRChecks(ctx, req.PRNumber); err == nil {
		ciStatus = github.SummarizeChecks(checks)
	} else {
		o.logger.Warn("could not fetch CI checks for PR #%d: %v", req.PRNumber, err)
	}

	issueContext := o.issueContext(ctx, req.IssueID)
	if issueContext == "" {
		// Fall back to issues the PR itself links.
		if linked, err := host.LinkedIssues(ctx, req.PRNumber); err == nil && len(linked) > 0 {
			issueContext = fmt.Sprintf("Closes issue #%d", linked[0])
		}
	}

	review, err := o.planner.AnalyzePR(ctx, plan.ReviewRequest{
		Title:        pr.Title,
		Body:         pr.Body,
		Diff:         diff,
		ChangedFiles: paths,
		Snapshots:    o.headSnapshots(ctx, host, pr, files),
		IssueContext: issueContext,
		CIStatus:     ciStatus,
	})
	if err != nil {
		return nil, err
	}
	if rec := testCoverageRecommendation(files); rec != "" {
		review.Recommendations = append(review.Recommendations, rec)
	}

	comment := formatReviewComment(review)
	if err := host.CommentOnPR(ctx, prRef(req.PRNumber), comment); err != nil {
		return nil, err
	}

	o.notifier.Post(ctx, req.ThreadID, fmt.Sprintf("Posted automated review on PR #%d (%s).", req.PRNumber, pr.URL))
	return &ReviewResult{
		ExecutionID:     executionID,
		Recommendations: review.Recommendations,
	}, nil
}

const (
	// maxSnapshotFiles bounds how many changed files are fetched in
	// full for review context.
	maxSnapshotFiles = 3
	// maxSnapshotChars truncates oversized files before prompting.
	maxSnapshotChars = 8000
)

// headSnapshots fetches the full content of the first few changed
// source files at the PR head. Unreadable files (deletions, binary
// blobs) are skipped with a warning.
func (o *Orchestrator) headSnapshots(ctx context.Context, host Host, pr *github.PullRequest, files []github.ChangedFile) []plan.FileSnapshot {
	ref := pr.HeadRefOid
	if ref == "" {
		ref = pr.HeadRefName
	}

	snapshots := make([]plan.FileSnapshot, 0, maxSnapshotFiles)
	for _, f := range files {
		if len(snapshots) == maxSnapshotFiles {
			break
		}
		if isTestPath(f.Path) {
			continue
		}
		content, err := host.ReadFileAtRef(ctx, f.Path, ref)
		if err != nil {
			o.logger.Warn("could not read %s at %s: %v", f.Path, ref, err)
			continue
		}
		if len(content) > maxSnapshotChars {
			content = content[:maxSnapshotChars] + "\n... (truncated)"
		}
		snapshots = append(snapshots, plan.FileSnapshot{Path: f.Path, Content: content})
	}
	return snapshots
}

// testCoverageRecommendation flags changes that touch source files
// without touching any test files.
func testCoverageRecommendation(files []github.ChangedFile) string {
	source, tests := 0, 0
	for _, f := range files {
		if isTestPath(f.Path) {
			tests++
		} else {
			source++
		}
	}
	if source > 0 && tests == 0 {
		return "No test files are changed in this PR; consider adding tests for the modified code"
	}
	return ""
}

func isTestPath(p string) bool {
	lower := strings.ToLower(p)
	base := path.Base(lower)
	return strings.Contains(lower, "test/") || strings.Contains(lower, "tests/") ||
		strings.HasPrefix(base, "test_") || strings.HasSuffix(base, "_test.go") ||
		strings.Contains(base, ".test.") || strings.Contains(base, ".spec.")
}

func formatReviewComment(review *plan.Review) string {
	var b strings.Builder
	b.WriteString("## 🔍 Automated PR Review\n\n")
	b.WriteString(strings.TrimSpace(review.Analysis))
	b.WriteString("\n")
	if len(review.Recommendations) > 0 {
		b.WriteString("\n### Recommendations\n\n")
		for _, rec := range review.Recommendations {
			fmt.Fprintf(&b, "- %s\n", rec)
		}
	}
	return b.String()
}
