package workflow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"autodev/pkg/agent/llm"
	"autodev/pkg/apply"
	"autodev/pkg/approval"
	"autodev/pkg/chat"
	"autodev/pkg/config"
	"autodev/pkg/github"
	"autodev/pkg/logx"
	"autodev/pkg/metrics"
	"autodev/pkg/persistence"
	"autodev/pkg/plan"
	"autodev/pkg/profiler"
	"autodev/pkg/tracker"
	"autodev/pkg/verify"
	"autodev/pkg/workspace"
)

// Host is the code-host surface the workflows use. *github.Client
// satisfies it.
type Host interface {
	GetPR(ctx context.Context, ref string) (*github.PullRequest, error)
	GetOrCreatePR(ctx context.Context, opts github.PRCreateOptions) (*github.PullRequest, error)
	CommentOnPR(ctx context.Context, ref, body string) error
	GetPRDiff(ctx context.Context, prNumber int) (string, error)
	GetPRFiles(ctx context.Context, prNumber int) ([]github.ChangedFile, error)
	GetPRChecks(ctx context.Context, prNumber int) ([]github.CheckRun, error)
	ReadFileAtRef(ctx context.Context, path, ref string) (string, error)
	GetReviewComments(ctx context.Context, prNumber int) ([]github.ReviewComment, error)
	GetIssueComments(ctx context.Context, prNumber int) ([]github.IssueComment, error)
	ReplyToReviewComment(ctx context.Context, prNumber int, commentID int64, body string) error
	LinkedIssues(ctx context.Context, prNumber int) ([]int, error)
}

// HostFactory builds a Host for a repository URL.
type HostFactory func(repoURL string) (Host, error)

func defaultHostFactory(repoURL string) (Host, error) {
	return github.NewClientFromRemote(repoURL)
}

// Orchestrator runs the automation workflows against a shared
// workspace pool, execution store, and approval registry.
type Orchestrator struct {
	cfg        *config.Config
	workspaces *workspace.Manager
	planner    *plan.Generator
	applier    *apply.Applier
	verifier   *verify.Verifier
	gate       *approval.Gate
	approvals  *approval.Registry
	notifier   *chat.Notifier
	tracker    *tracker.Client
	store      *persistence.Store
	hostFor    HostFactory
	logger     *logx.Logger
}

// Deps are the collaborators an Orchestrator needs. Notifier and
// Tracker may be nil; HostFor defaults to the gh CLI client.
type Deps struct {
	Workspaces *workspace.Manager
	Planner    *plan.Generator
	Applier    *apply.Applier
	Verifier   *verify.Verifier
	Gate       *approval.Gate
	Approvals  *approval.Registry
	Notifier   *chat.Notifier
	Tracker    *tracker.Client
	Store      *persistence.Store
	HostFor    HostFactory
}

// New creates an orchestrator.
func New(cfg *config.Config, deps Deps) *Orchestrator {
	hostFor := deps.HostFor
	if hostFor == nil {
		hostFor = defaultHostFactory
	}
	return &Orchestrator{
		cfg:        cfg,
		workspaces: deps.Workspaces,
		planner:    deps.Planner,
		applier:    deps.Applier,
		verifier:   deps.Verifier,
		gate:       deps.Gate,
		approvals:  deps.Approvals,
		notifier:   deps.Notifier,
		tracker:    deps.Tracker,
		store:      deps.Store,
		hostFor:    hostFor,
		logger:     logx.NewLogger("workflow"),
	}
}

// CreateRequest describes a chat-triggered change request.
// ClarificationAnswers carries the requester's answers when the run is
// a follow-up to a clarification round.
type CreateRequest struct {
	RepoURL              string
	Description          string
	BranchName           string
	ThreadID             string
	IssueID              string
	ClarificationAnswers string
}

// CreateResult summarizes a PR creation run. When Questions is set the
// run stopped before any execution was registered; the requester should
// re-trigger with answers.
type CreateResult struct {
	ExecutionID string
	PRURL       string
	PRNumber    int
	TestOutcome verify.Outcome
	Warnings    []string
	Questions   []string
}

// CreatePR runs the full change workflow: clone, profile, plan, apply,
// verify with one bounded repair, commit, push, open a pull request.
// Failing tests do not block publication; infrastructure failures are
// recorded on the execution and returned.
func (o *Orchestrator) CreatePR(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if !o.cfg.Approval.SkipClarifications && req.ClarificationAnswers == "" {
		issueContext := o.issueContext(ctx, req.IssueID)
		if questions := o.planner.Clarifications(ctx, req.Description, issueContext); len(questions) > 0 {
			o.notifier.AskClarifications(ctx, req.ThreadID, questions)
			return &CreateResult{Questions: questions}, nil
		}
	}

	executionID := CreateExecutionID(req.ThreadID, req.BranchName)
	record := &persistence.Execution{
		ID:           executionID,
		WorkflowType: TypeCreatePR,
		RepoURL:      req.RepoURL,
		Branch:       req.BranchName,
		ThreadID:     req.ThreadID,
		Status:       StatusPending,
	}
	if err := o.store.CreateExecution(record); err != nil {
		return nil, fmt.Errorf("failed to register execution %s: %w", executionID, err)
	}
	o.setStatus(executionID, StatusInProgress, "")
	o.notifier.Acknowledge(ctx, req.ThreadID, executionID)

	result, err := o.runCreate(llm.WithExecutionID(ctx, executionID), executionID, req)
	if err != nil {
		return nil, o.fail(ctx, executionID, req.ThreadID, TypeCreatePR, err)
	}
	o.setStatus(executionID, StatusCompleted, "")
	metrics.RecordWorkflowRun(TypeCreatePR, StatusCompleted)
	return result, nil
}

func (o *Orchestrator) runCreate(ctx context.Context, executionID string, req CreateRequest) (*CreateResult, error) {
	issue := o.linkedIssue(ctx, req.IssueID)

	description := req.Description
	if req.ClarificationAnswers != "" {
		description += "\n\nClarifications from the requester:\n" + req.ClarificationAnswers
	}

	ws, err := o.workspaces.Acquire(ctx, req.RepoURL, workspace.Options{
		Branch:    o.cfg.Git.BaseBranch,
		NewBranch: req.BranchName,
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

	stopPlan := metrics.TimeStep("plan")
	p, err := o.planner.Generate(ctx, plan.Request{
		Description:  description,
		RepoContext:  repoContext,
		IssueContext: issue.ContextString(),
	})
	stopPlan()
	if err != nil {
		return nil, err
	}
	if o.cfg.Chat.SharePlans {
		o.notifier.SharePlan(ctx, req.ThreadID, p)
	}

	if err := o.awaitApproval(ctx, executionID, approval.Request{
		RepoURL:      req.RepoURL,
		TargetBranch: req.BranchName,
		IssueID:      req.IssueID,
	}, req.ThreadID, req.BranchName); err != nil {
		return nil, err
	}

	stopApply := metrics.TimeStep("apply")
	summary, err := o.applier.Apply(ctx, ws, p)
	stopApply()
	if err != nil {
		return nil, err
	}

	stopVerify := metrics.TimeStep("verify")
	report, err := o.verifier.Run(ctx, ws, o.testCommands(profile), summary.TouchedPaths())
	stopVerify()
	if err != nil {
		return nil, err
	}
	metrics.RecordTestAttempt(string(report.Outcome))

	commitMsg := fmt.Sprintf("feat: %s", req.Description)
	if issue != nil && issue.Title != "" {
		commitMsg = fmt.Sprintf("feat: %s (%s)", req.Description, issue.Title)
	}
	if err := ws.CommitAll(ctx, commitMsg); err != nil {
		return nil, err
	}
	if err := ws.Push(ctx); err != nil {
		return nil, err
	}

	host, err := o.hostFor(req.RepoURL)
	if err != nil {
		return nil, err
	}
	pr, err := host.GetOrCreatePR(ctx, github.PRCreateOptions{
		Title: req.Description,
		Body:  buildPRBody(req.Description, p, summary, report, req.IssueID),
		Head:  req.BranchName,
		Base:  o.cfg.Git.BaseBranch,
		Draft: o.cfg.Git.Draft(),
	})
	if err != nil {
		return nil, err
	}

	o.notifier.AnnouncePR(ctx, req.ThreadID, pr.URL, testSummaryLine(report))
	if req.IssueID != "" {
		o.tracker.CommentOnIssue(ctx, req.IssueID, fmt.Sprintf("Opened pull request: %s", pr.URL))
	}

	return &CreateResult{
		ExecutionID: executionID,
		PRURL:       pr.URL,
		PRNumber:    pr.Number,
		TestOutcome: report.Outcome,
		Warnings:    summary.Warnings,
	}, nil
}

// awaitApproval applies the gate predicates and, when approval is
// required, parks the execution until a decision arrives. A rejection
// is terminal.
func (o *Orchestrator) awaitApproval(ctx context.Context, executionID string, req approval.Request, threadID, branch string) error {
	required, reason := o.gate.Required(req)
	if !required {
		return nil
	}
	o.setStatus(executionID, StatusWaitingApproval, "")
	o.notifier.RequestApproval(ctx, threadID, executionID, req.RepoURL, branch, reason)

	approved, err := o.approvals.Await(ctx, executionID)
	if err != nil {
		return fmt.Errorf("approval wait for %s: %w", executionID, err)
	}
	if !approved {
		o.setStatus(executionID, StatusRejected, "")
		metrics.RecordWorkflowRun(TypeCreatePR, StatusRejected)
		o.notifier.Post(ctx, threadID, fmt.Sprintf("Execution `%s` was rejected. No changes were published.", executionID))
		return approval.ErrRejected
	}
	o.setStatus(executionID, StatusApproved, "")
	return nil
}

// fail records the failure on the execution and re-raises it. Partial
// work is left in place for inspection; nothing is rolled back.
func (o *Orchestrator) fail(ctx context.Context, executionID, threadID, workflowType string, err error) error {
	if errors.Is(err, approval.ErrRejected) {
		return err
	}
	o.setStatus(executionID, StatusFailed, err.Error())
	metrics.RecordWorkflowRun(workflowType, StatusFailed)
	o.notifier.ReportFailure(ctx, threadID, executionID, err)
	return err
}

func (o *Orchestrator) setStatus(executionID, status, errText string) {
	if err := o.store.UpdateStatus(executionID, status, errText); err != nil {
		o.logger.Warn("failed to update status of %s to %s: %v", executionID, status, err)
	}
}

func (o *Orchestrator) release(ws *workspace.Workspace) {
	o.workspaces.Release(ws)
	metrics.SetActiveWorkspaces(o.workspaces.ActiveCount())
}

func (o *Orchestrator) issueContext(ctx context.Context, issueID string) string {
	return o.linkedIssue(ctx, issueID).ContextString()
}

// linkedIssue fetches the tracker issue, degrading to nil when the
// tracker is unavailable or the issue does not exist.
func (o *Orchestrator) linkedIssue(ctx context.Context, issueID string) *tracker.Issue {
	if issueID == "" {
		return nil
	}
	issue, err := o.tracker.GetIssue(ctx, issueID)
	if err != nil {
		o.logger.Warn("failed to fetch issue %s: %v", issueID, err)
		return nil
	}
	return issue
}

// testCommands returns the configured command override or the list
// derived from the repository profile.
func (o *Orchestrator) testCommands(p *profiler.Profile) []string {
	if len(o.cfg.Workspace.TestCommands) > 0 {
		return o.cfg.Workspace.TestCommands
	}
	return testCommandsFor(p)
}

// testCommandsFor derives the ordered test command list from the
// repository profile. Earlier entries are more specific to the
// detected stack.
func testCommandsFor(p *profiler.Profile) []string {
	var commands []string
	add := func(cmd string) {
		for _, c := range commands {
			if c == cmd {
				return
			}
		}
		commands = append(commands, cmd)
	}

	for _, tool := range p.BuildTools {
		switch tool {
		case "uv":
			add("uv run pytest")
		case "npm", "yarn", "pnpm":
			add("npm test")
		case "go":
			add("go test ./...")
		case "cargo":
			add("cargo test")
		case "maven":
			add("mvn test")
		case "gradle":
			add("gradle test")
		}
	}
	for _, fw := range p.TestFrameworks {
		switch fw {
		case "pytest":
			add("pytest")
		case "jest", "vitest", "mocha":
			add("npm test")
		case "go-test":
			add("go test ./...")
		}
	}
	switch p.PrimaryLanguage {
	case "python":
		add("pytest")
	case "javascript", "typescript":
		add("npm test")
	case "go":
		add("go test ./...")
	case "rust":
		add("cargo test")
	}
	return commands
}

func testSummaryLine(report *verify.Report) string {
	switch report.Outcome {
	case verify.OutcomePassed:
		if report.RepairAttempt {
			return fmt.Sprintf("Tests pass after one repair pass (`%s`).", report.PassedCommand)
		}
		return fmt.Sprintf("Tests pass (`%s`).", report.PassedCommand)
	case verify.OutcomeRunnerNotFound:
		return "No test runner found in the repository; tests were not run."
	default:
		return "Tests are failing; review the PR before merging."
	}
}

func buildPRBody(description string, p *plan.EditPlan, summary *apply.ChangeSummary, report *verify.Report, issueID string) string {
	var b strings.Builder
	b.WriteString("## Summary\n\n")
	if p.Summary != "" {
		b.WriteString(p.Summary)
	} else {
		b.WriteString(description)
	}
	b.WriteString("\n\n## Changes\n\n")
	for _, fc := range p.FileChanges {
		fmt.Fprintf(&b, "- `%s` (%s): %s\n", fc.Path, fc.Type, fc.Reasoning)
	}
	if len(p.TestFiles) > 0 {
		b.WriteString("\n## Tests\n\n")
		for _, tf := range p.TestFiles {
			fmt.Fprintf(&b, "- `%s`\n", tf.Path)
		}
	}
	b.WriteString("\n## Verification\n\n")
	b.WriteString(testSummaryLine(report))
	b.WriteString("\n")
	if len(summary.Warnings) > 0 {
		b.WriteString("\n## Warnings\n\n")
		for _, w := range summary.Warnings {
			fmt.Fprintf(&b, "- %s\n", w)
		}
	}
	if issueID != "" {
		fmt.Fprintf(&b, "\nRelated issue: %s\n", issueID)
	}
	return b.String()
}

func prRef(prNumber int) string {
	return strconv.Itoa(prNumber)
}
