package workflow

import (
	"context"
	"fmt"
	"os"
	osexec "os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autodev/pkg/agent/llm"
	"autodev/pkg/apply"
	"autodev/pkg/approval"
	"autodev/pkg/config"
	"autodev/pkg/github"
	"autodev/pkg/persistence"
	"autodev/pkg/plan"
	"autodev/pkg/verify"
	"autodev/pkg/workspace"
)

// scriptedLLM returns canned responses in order.
type scriptedLLM struct {
	mu        sync.Mutex
	responses []string
	err       error
	calls     int
	prompts   []string
}

func (s *scriptedLLM) Complete(_ context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if n := len(req.Messages); n > 0 {
		s.prompts = append(s.prompts, req.Messages[n-1].Content)
	}
	if s.err != nil {
		return llm.CompletionResponse{}, s.err
	}
	if len(s.responses) == 0 {
		return llm.CompletionResponse{}, fmt.Errorf("no scripted response left")
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return llm.CompletionResponse{Content: resp, StopReason: "end_turn"}, nil
}

func (s *scriptedLLM) GetModelName() string { return "scripted" }

// fakeHost records code-host interactions in memory.
type fakeHost struct {
	mu             sync.Mutex
	pr             *github.PullRequest
	diff           string
	files          []github.ChangedFile
	checks         []github.CheckRun
	reviewComments []github.ReviewComment
	issueComments  []github.IssueComment
	linked         []int
	contents       map[string]string

	createdOpts []github.PRCreateOptions
	comments    []string
	replies     map[int64]string
	readRefs    []string
}

func newFakeHost() *fakeHost {
	return &fakeHost{replies: make(map[int64]string)}
}

func (f *fakeHost) GetPR(_ context.Context, _ string) (*github.PullRequest, error) {
	if f.pr == nil {
		return nil, fmt.Errorf("no such pull request")
	}
	return f.pr, nil
}

func (f *fakeHost) GetOrCreatePR(_ context.Context, opts github.PRCreateOptions) (*github.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createdOpts = append(f.createdOpts, opts)
	return &github.PullRequest{
		Number:      7,
		URL:         "https://github.com/acme/app/pull/7",
		Title:       opts.Title,
		HeadRefName: opts.Head,
		BaseRefName: opts.Base,
		IsDraft:     opts.Draft,
	}, nil
}

func (f *fakeHost) CommentOnPR(_ context.Context, _ string, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comments = append(f.comments, body)
	return nil
}

func (f *fakeHost) GetPRDiff(_ context.Context, _ int) (string, error) { return f.diff, nil }

func (f *fakeHost) GetPRFiles(_ context.Context, _ int) ([]github.ChangedFile, error) {
	return f.files, nil
}

func (f *fakeHost) GetPRChecks(_ context.Context, _ int) ([]github.CheckRun, error) {
	return f.checks, nil
}

func (f *fakeHost) GetReviewComments(_ context.Context, _ int) ([]github.ReviewComment, error) {
	return f.reviewComments, nil
}

func (f *fakeHost) GetIssueComments(_ context.Context, _ int) ([]github.IssueComment, error) {
	return f.issueComments, nil
}

func (f *fakeHost) ReplyToReviewComment(_ context.Context, _ int, commentID int64, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[commentID] = body
	return nil
}

func (f *fakeHost) LinkedIssues(_ context.Context, _ int) ([]int, error) { return f.linked, nil }

func (f *fakeHost) ReadFileAtRef(_ context.Context, path, ref string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readRefs = append(f.readRefs, path+"@"+ref)
	content, ok := f.contents[path]
	if !ok {
		return "", fmt.Errorf("no content for %s at %s", path, ref)
	}
	return content, nil
}

func git(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := osexec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v failed: %v\n%s", args, err, out)
	}
	return string(out)
}

// seedRepo creates a repository with a main branch containing the given
// files.
func seedRepo(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	git(t, dir, "init", "-b", "main")
	for rel, content := range files {
		path := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	git(t, dir, "add", "-A")
	git(t, dir, "commit", "-m", "initial")
	return dir
}

type testEnv struct {
	orch  *Orchestrator
	store *persistence.Store
	host  *fakeHost
	model *scriptedLLM
	cfg   *config.Config
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()
	cfg := &config.Config{}
	cfg.Workspace = config.WorkspaceConfig{
		BaseDir:               t.TempDir(),
		MaxConcurrent:         2,
		CommandTimeoutSeconds: 60,
		TestCommands:          []string{"exit 0"},
	}
	cfg.Git = config.GitConfig{
		UserName:   "test",
		UserEmail:  "test@example.com",
		BaseBranch: "main",
	}
	cfg.Approval = config.ApprovalConfig{
		SkipApprovals:      true,
		SkipClarifications: true,
	}
	if mutate != nil {
		mutate(cfg)
	}

	store, err := persistence.Open(filepath.Join(t.TempDir(), "executions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	model := &scriptedLLM{}
	host := newFakeHost()
	orch := New(cfg, Deps{
		Workspaces: workspace.NewManager(&cfg.Workspace, &cfg.Git, ""),
		Planner:    plan.NewGenerator(model),
		Applier:    apply.NewApplier(),
		Verifier:   verify.NewVerifier(nil),
		Gate:       approval.NewGate(&cfg.Approval),
		Approvals:  approval.NewRegistry(store),
		Store:      store,
		HostFor:    func(string) (Host, error) { return host, nil },
	})
	return &testEnv{orch: orch, store: store, host: host, model: model, cfg: cfg}
}

const changePlanJSON = `{
  "summary": "Add greeting output",
  "file_changes": [
    {"path": "app.py", "type": "modify", "content": "print('hello')\n", "reasoning": "requested change"}
  ],
  "test_files": [
    {"path": "tests/test_app.py", "content": "def test_app():\n    pass\n"}
  ],
  "dependencies": []
}`

func TestCreatePRPublishesChange(t *testing.T) {
	env := newTestEnv(t, nil)
	env.model.responses = []string{changePlanJSON}
	seed := seedRepo(t, map[string]string{"app.py": "print('old')\n"})

	result, err := env.orch.CreatePR(context.Background(), CreateRequest{
		RepoURL:     seed,
		Description: "add a greeting",
		BranchName:  "autodev/greeting",
		ThreadID:    "thread-1",
	})
	require.NoError(t, err)

	assert.Equal(t, "create-thread-1-autodev/greeting", result.ExecutionID)
	assert.Equal(t, 7, result.PRNumber)
	assert.Equal(t, verify.OutcomePassed, result.TestOutcome)

	require.Len(t, env.host.createdOpts, 1)
	opts := env.host.createdOpts[0]
	assert.Equal(t, "autodev/greeting", opts.Head)
	assert.Equal(t, "main", opts.Base)
	assert.True(t, opts.Draft)
	assert.Contains(t, opts.Body, "## Summary")
	assert.Contains(t, opts.Body, "app.py")

	record, err := env.store.GetExecution(result.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, record.Status)

	// The branch with the change landed on the origin.
	log := git(t, seed, "log", "autodev/greeting", "--format=%s")
	assert.Contains(t, log, "feat: add a greeting")
}

func TestCreatePRFailingTestsStillPublish(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Workspace.TestCommands = []string{"exit 1"}
	})
	env.model.responses = []string{changePlanJSON}
	seed := seedRepo(t, map[string]string{"app.py": "print('old')\n"})

	result, err := env.orch.CreatePR(context.Background(), CreateRequest{
		RepoURL:     seed,
		Description: "add a greeting",
		BranchName:  "autodev/greeting",
		ThreadID:    "thread-1",
	})
	require.NoError(t, err)

	assert.Equal(t, verify.OutcomeFailed, result.TestOutcome)
	require.Len(t, env.host.createdOpts, 1)
	assert.Contains(t, env.host.createdOpts[0].Body, "Tests are failing")
}

func TestCreatePRRejectionIsTerminal(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Approval.SkipApprovals = false
		cfg.Approval.PrimaryBranchMarkers = []string{"main"}
	})
	env.model.responses = []string{changePlanJSON}
	seed := seedRepo(t, map[string]string{"app.py": "print('old')\n"})

	executionID := CreateExecutionID("thread-2", "autodev/main-hotfix")
	go func() {
		for i := 0; i < 100; i++ {
			time.Sleep(20 * time.Millisecond)
			if record, _ := env.store.GetExecution(executionID); record != nil && record.Status == StatusWaitingApproval {
				env.orch.approvals.Resolve(executionID, false, "alice")
				return
			}
		}
	}()

	_, err := env.orch.CreatePR(context.Background(), CreateRequest{
		RepoURL:     seed,
		Description: "risky change",
		BranchName:  "autodev/main-hotfix",
		ThreadID:    "thread-2",
		IssueID:     "ENG-7",
	})
	require.ErrorIs(t, err, approval.ErrRejected)

	record, err := env.store.GetExecution(executionID)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, record.Status)
	assert.Empty(t, env.host.createdOpts)
}

func TestCreatePRFeatureBranchSkipsGate(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Approval.SkipApprovals = false
		cfg.Approval.PrimaryBranchMarkers = []string{"main"}
	})
	env.model.responses = []string{changePlanJSON}
	seed := seedRepo(t, map[string]string{"app.py": "print('old')\n"})

	// No resolver runs: a feature branch with a linked issue on a
	// non-production repo must publish without waiting for approval.
	result, err := env.orch.CreatePR(context.Background(), CreateRequest{
		RepoURL:     seed,
		Description: "routine change",
		BranchName:  "autodev/feature",
		ThreadID:    "thread-2b",
		IssueID:     "ENG-42",
	})
	require.NoError(t, err)
	assert.Equal(t, 7, result.PRNumber)

	record, err := env.store.GetExecution(CreateExecutionID("thread-2b", "autodev/feature"))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, record.Status)
}

func TestCreatePRApprovalThenPublish(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Approval.SkipApprovals = false
		cfg.Approval.PrimaryBranchMarkers = []string{"main"}
	})
	env.model.responses = []string{changePlanJSON}
	seed := seedRepo(t, map[string]string{"app.py": "print('old')\n"})

	executionID := CreateExecutionID("thread-3", "autodev/main-sync")
	go func() {
		for i := 0; i < 100; i++ {
			time.Sleep(20 * time.Millisecond)
			if record, _ := env.store.GetExecution(executionID); record != nil && record.Status == StatusWaitingApproval {
				env.orch.approvals.Resolve(executionID, true, "alice")
				return
			}
		}
	}()

	result, err := env.orch.CreatePR(context.Background(), CreateRequest{
		RepoURL:     seed,
		Description: "approved change",
		BranchName:  "autodev/main-sync",
		ThreadID:    "thread-3",
		IssueID:     "ENG-7",
	})
	require.NoError(t, err)
	assert.Equal(t, 7, result.PRNumber)

	record, err := env.store.GetExecution(executionID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, record.Status)
}

func TestCreatePRFailureRecordedAndRaised(t *testing.T) {
	env := newTestEnv(t, nil)
	env.model.err = fmt.Errorf("model unavailable")
	seed := seedRepo(t, map[string]string{"app.py": "print('old')\n"})

	_, err := env.orch.CreatePR(context.Background(), CreateRequest{
		RepoURL:     seed,
		Description: "doomed change",
		BranchName:  "autodev/doomed",
		ThreadID:    "thread-4",
	})
	require.Error(t, err)

	record, getErr := env.store.GetExecution(CreateExecutionID("thread-4", "autodev/doomed"))
	require.NoError(t, getErr)
	assert.Equal(t, StatusFailed, record.Status)
	assert.Contains(t, record.Error, "model unavailable")
	assert.Empty(t, env.host.createdOpts)
}

func TestCreatePRDuplicateExecutionRejected(t *testing.T) {
	env := newTestEnv(t, nil)
	env.model.responses = []string{changePlanJSON, changePlanJSON}
	seed := seedRepo(t, map[string]string{"app.py": "print('old')\n"})

	req := CreateRequest{
		RepoURL:     seed,
		Description: "add a greeting",
		BranchName:  "autodev/dup",
		ThreadID:    "thread-5",
	}
	_, err := env.orch.CreatePR(context.Background(), req)
	require.NoError(t, err)

	_, err = env.orch.CreatePR(context.Background(), req)
	require.Error(t, err)
}

func TestCreatePRClarificationRoundHaltsRun(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Approval.SkipClarifications = false
	})
	env.model.responses = []string{
		"- Which endpoint should the greeting use?\n- Should the message be localized?",
		changePlanJSON,
	}
	seed := seedRepo(t, map[string]string{"app.py": "print('old')\n"})

	req := CreateRequest{
		RepoURL:     seed,
		Description: "add a greeting",
		BranchName:  "autodev/clarify",
		ThreadID:    "thread-11",
	}
	result, err := env.orch.CreatePR(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, result.Questions, 2)
	assert.Empty(t, result.PRURL)

	// No execution was registered, so a follow-up with answers can reuse
	// the identifier.
	record, err := env.store.GetExecution(CreateExecutionID("thread-11", "autodev/clarify"))
	require.NoError(t, err)
	assert.Nil(t, record)

	req.ClarificationAnswers = "Use /hello and keep it English-only."
	result, err = env.orch.CreatePR(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, result.Questions)
	assert.Equal(t, 7, result.PRNumber)
}

func TestReviewPRPostsAnalysis(t *testing.T) {
	env := newTestEnv(t, nil)
	env.host.pr = &github.PullRequest{
		Number:     42,
		URL:        "https://github.com/acme/app/pull/42",
		Title:      "Refactor session handling",
		Body:       "Moves session state into a dedicated type.",
		HeadRefOid: "abc123",
	}
	env.host.diff = "diff --git a/session.py b/session.py\n+class Session: ...\n"
	env.host.files = []github.ChangedFile{{Path: "session.py", Additions: 40, Deletions: 12}}
	env.host.contents = map[string]string{"session.py": "class Session:\n    timeout = None\n"}
	env.model.responses = []string{`{
  "analysis": "The refactor is sound but the session timeout is unbounded.",
  "recommendations": ["Bound the session timeout", "Add a test for expiry"]
}`}

	result, err := env.orch.ReviewPR(context.Background(), ReviewRequest{
		RepoURL:  "https://github.com/acme/app",
		PRNumber: 42,
		ThreadID: "thread-6",
	})
	require.NoError(t, err)

	assert.Equal(t, "review-thread-6-42", result.ExecutionID)
	// Two model recommendations plus the missing-tests heuristic.
	require.Len(t, result.Recommendations, 3)
	assert.Contains(t, result.Recommendations[2], "No test files")

	require.Len(t, env.host.comments, 1)
	comment := env.host.comments[0]
	assert.True(t, strings.HasPrefix(comment, "## 🔍 Automated PR Review"))
	assert.Contains(t, comment, "### Recommendations")
	assert.Contains(t, comment, "Bound the session timeout")

	// The changed file was fetched at the head commit and shown to the model.
	assert.Contains(t, env.host.readRefs, "session.py@abc123")
	require.Len(t, env.model.prompts, 1)
	assert.Contains(t, env.model.prompts[0], "timeout = None")

	record, err := env.store.GetExecution(result.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, record.Status)
}

func TestResolveCommentsAddressesGroups(t *testing.T) {
	env := newTestEnv(t, nil)
	seed := seedRepo(t, map[string]string{"app.py": "def run():\n    pass\n", "README.md": "# app\n"})
	git(t, seed, "branch", "feature")

	env.host.pr = &github.PullRequest{
		Number:      9,
		URL:         "https://github.com/acme/app/pull/9",
		HeadRefName: "feature",
	}
	env.host.reviewComments = []github.ReviewComment{
		reviewComment(11, "app.py", "Please fix the error handling in run", "alice", 0),
		reviewComment(12, "app.py", "lgtm once the above is fixed", "alice", 0),
		reviewComment(13, "app.py", "I agree, please update it", "reviewbot", 0),
	}
	env.host.issueComments = []github.IssueComment{
		issueComment(20, "Could you add a usage example to the README?", "carol"),
	}
	env.model.responses = []string{
		`{"summary": "handle errors", "file_changes": [{"path": "app.py", "type": "modify", "content": "def run():\n    try:\n        pass\n    except Exception:\n        raise\n"}]}`,
		`{"summary": "document usage", "file_changes": [{"path": "README.md", "type": "modify", "content": "# app\n\n## Usage\n\nrun()\n"}]}`,
	}

	result, err := env.orch.ResolveComments(context.Background(), ResolveRequest{
		RepoURL:  seed,
		PRNumber: 9,
		ThreadID: "thread-7",
	})
	require.NoError(t, err)

	assert.Equal(t, "comments-thread-7-9", result.ExecutionID)
	assert.Equal(t, 2, result.Addressed)
	assert.Empty(t, result.Unresolved)

	// Only the inline comment gets a threaded reply.
	require.Len(t, env.host.replies, 1)
	assert.Contains(t, env.host.replies[int64(11)], "Addressed")

	// One commit per group, pushed back to the head branch.
	log := git(t, seed, "log", "feature", "--format=%s")
	assert.Contains(t, log, "Address comments in app.py")
	assert.Contains(t, log, "Address general PR feedback")

	require.Len(t, env.host.comments, 1)
	assert.Contains(t, env.host.comments[0], "Comment Resolution")

	record, err := env.store.GetExecution(result.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, record.Status)
}

func TestResolveCommentsNothingActionable(t *testing.T) {
	env := newTestEnv(t, nil)
	env.host.pr = &github.PullRequest{Number: 9, HeadRefName: "feature"}
	env.host.reviewComments = []github.ReviewComment{
		reviewComment(11, "app.py", "LGTM!", "alice", 0),
	}

	result, err := env.orch.ResolveComments(context.Background(), ResolveRequest{
		RepoURL:  "https://github.com/acme/app",
		PRNumber: 9,
		ThreadID: "thread-8",
	})
	require.NoError(t, err)
	assert.Zero(t, result.Addressed)
	assert.Equal(t, 1, result.Skipped)
	assert.Empty(t, env.host.comments)
	assert.Zero(t, env.model.calls)
}

func TestResolveCommentsFailedGroupIsRecorded(t *testing.T) {
	env := newTestEnv(t, nil)
	seed := seedRepo(t, map[string]string{"app.py": "def run():\n    pass\n"})
	git(t, seed, "branch", "feature")

	env.host.pr = &github.PullRequest{Number: 9, HeadRefName: "feature"}
	env.host.reviewComments = []github.ReviewComment{
		reviewComment(11, "missing.py", "Please fix the error handling here", "alice", 0),
	}

	result, err := env.orch.ResolveComments(context.Background(), ResolveRequest{
		RepoURL:  seed,
		PRNumber: 9,
		ThreadID: "thread-9",
	})
	require.NoError(t, err)
	assert.Zero(t, result.Addressed)
	assert.Equal(t, []string{"missing.py"}, result.Unresolved)
	assert.Empty(t, env.host.replies)
}

func TestRemediateFindingsOpensSecurityPR(t *testing.T) {
	env := newTestEnv(t, nil)
	seed := seedRepo(t, map[string]string{"requirements.txt": "requests==2.25.0\n"})
	env.model.responses = []string{`{
  "summary": "Upgrade requests to a patched release",
  "file_changes": [
    {"path": "requirements.txt", "type": "modify", "content": "requests==2.32.0\n", "reasoning": "patched version"}
  ]
}`}

	result, err := env.orch.RemediateFindings(context.Background(), RemediationRequest{
		RepoURL:     seed,
		Description: "upgrade requests",
		ThreadID:    "thread-10",
		RawLogs:     "CVE-2024-1234 HIGH requests 2.25.0 fixed in 2.32.0",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Findings)
	assert.Empty(t, result.Unresolved)

	require.Len(t, env.host.createdOpts, 1)
	opts := env.host.createdOpts[0]
	assert.True(t, strings.HasPrefix(opts.Head, "chore/security-"))
	assert.Contains(t, opts.Body, "CVE-2024-1234")
	assert.Contains(t, opts.Title, "chore(security)")

	log := git(t, seed, "log", opts.Head, "--format=%s")
	assert.Contains(t, log, "chore(security): upgrade requests [HIGH:1]")
}
