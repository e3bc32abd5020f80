package workflow

import (
	"context"
	"fmt"
	"strings"

	"autodev/pkg/agent/llm"
	"autodev/pkg/github"
	"autodev/pkg/metrics"
	"autodev/pkg/persistence"
	"autodev/pkg/plan"
	"autodev/pkg/profiler"
	"autodev/pkg/verify"
	"autodev/pkg/workspace"

	"github.com/google/uuid"
)

// RemediationRequest carries scanner findings to turn into a fix PR.
// TrivyJSON takes precedence; RawLogs is the fallback for plain-text
// scanner output.
type RemediationRequest struct {
	RepoURL     string
	Description string
	ThreadID    string
	TrivyJSON   []byte
	RawLogs     string
}

// RemediationResult summarizes a remediation run.
type RemediationResult struct {
	ExecutionID string
	PRURL       string
	PRNumber    int
	Findings    int
	Unresolved  []plan.Finding
}

// RemediateFindings turns vulnerability scanner findings into a pull
// request on a dedicated security branch. Findings the plan does not
// touch are listed as unresolved in the PR body rather than dropped.
func (o *Orchestrator) RemediateFindings(ctx context.Context, req RemediationRequest) (*RemediationResult, error) {
	branch := fmt.Sprintf("chore/security-%s", uuid.NewString()[:8])
	executionID := RemediationExecutionID(req.ThreadID, branch)
	record := &persistence.Execution{
		ID:           executionID,
		WorkflowType: TypeRemediate,
		RepoURL:      req.RepoURL,
		Branch:       branch,
		ThreadID:     req.ThreadID,
		Status:       StatusPending,
	}
	if err := o.store.CreateExecution(record); err != nil {
		return nil, fmt.Errorf("failed to register execution %s: %w", executionID, err)
	}
	o.setStatus(executionID, StatusInProgress, "")
	o.notifier.Acknowledge(ctx, req.ThreadID, executionID)

	result, err := o.runRemediation(llm.WithExecutionID(ctx, executionID), executionID, branch, req)
	if err != nil {
		return nil, o.fail(ctx, executionID, req.ThreadID, TypeRemediate, err)
	}
	o.setStatus(executionID, StatusCompleted, "")
	metrics.RecordWorkflowRun(TypeRemediate, StatusCompleted)
	return result, nil
}

func (o *Orchestrator) runRemediation(ctx context.Context, executionID, branch string, req RemediationRequest) (*RemediationResult, error) {
	findings, err := parseFindings(req)
	if err != nil {
		return nil, err
	}
	if len(findings) == 0 {
		o.notifier.Post(ctx, req.ThreadID, "No findings to remediate.")
		return &RemediationResult{ExecutionID: executionID}, nil
	}

	ws, err := o.workspaces.Acquire(ctx, req.RepoURL, workspace.Options{
		Branch:    o.cfg.Git.BaseBranch,
		NewBranch: branch,
	})
	if err != nil {
		return nil, err
	}
	defer o.release(ws)

	profile, err := profiler.Analyze(ws.Path())
	if err != nil {
		return nil, fmt.Errorf("repository analysis failed: %w", err)
	}
	repoContext := profiler.ContextSummary(ws.Path(), profile, o.cfg.LLM.MaxTokens/2)

	p, err := o.planner.Remediation(ctx, req.Description, findings, repoContext)
	if err != nil {
		return nil, err
	}

	summary, err := o.applier.Apply(ctx, ws, p)
	if err != nil {
		return nil, err
	}

	report, err := o.verifier.Run(ctx, ws, o.testCommands(profile), summary.TouchedPaths())
	if err != nil {
		return nil, err
	}
	metrics.RecordTestAttempt(string(report.Outcome))

	if err := ws.CommitAll(ctx, plan.RemediationCommitMessage(req.Description, findings)); err != nil {
		return nil, err
	}
	if err := ws.Push(ctx); err != nil {
		return nil, err
	}

	unresolved := plan.UnresolvedFindings(findings, p)

	host, err := o.hostFor(req.RepoURL)
	if err != nil {
		return nil, err
	}
	pr, err := host.GetOrCreatePR(ctx, github.PRCreateOptions{
		Title: fmt.Sprintf("chore(security): %s", req.Description),
		Body:  buildRemediationBody(req.Description, findings, unresolved, report),
		Head:  branch,
		Base:  o.cfg.Git.BaseBranch,
		Draft: o.cfg.Git.Draft(),
	})
	if err != nil {
		return nil, err
	}

	o.notifier.AnnouncePR(ctx, req.ThreadID, pr.URL, testSummaryLine(report))
	return &RemediationResult{
		ExecutionID: executionID,
		PRURL:       pr.URL,
		PRNumber:    pr.Number,
		Findings:    len(findings),
		Unresolved:  unresolved,
	}, nil
}

func parseFindings(req RemediationRequest) ([]plan.Finding, error) {
	if len(req.TrivyJSON) > 0 {
		findings, err := plan.ParseTrivyJSON(req.TrivyJSON)
		if err != nil {
			return nil, fmt.Errorf("unreadable scanner report: %w", err)
		}
		return findings, nil
	}
	return plan.ParseTrivyRaw(req.RawLogs), nil
}

func buildRemediationBody(description string, findings, unresolved []plan.Finding, report *verify.Report) string {
	var b strings.Builder
	b.WriteString("## Security Remediation\n\n")
	b.WriteString(description)
	b.WriteString("\n\n## Findings\n\n")
	for _, f := range findings {
		fmt.Fprintf(&b, "- **%s** (%s) in `%s`", f.ID, f.Severity, f.PackageName)
		if f.FixedVersion != "" {
			fmt.Fprintf(&b, ": upgrade to %s", f.FixedVersion)
		}
		b.WriteString("\n")
	}
	if len(unresolved) > 0 {
		b.WriteString("\n## Not addressed by this change\n\n")
		for _, f := range unresolved {
			fmt.Fprintf(&b, "- %s (%s) in `%s`\n", f.ID, f.Severity, f.PackageName)
		}
	}
	b.WriteString("\n## Verification\n\n")
	b.WriteString(testSummaryLine(report))
	b.WriteString("\n")
	return b.String()
}
