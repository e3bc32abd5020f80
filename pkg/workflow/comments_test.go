package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"autodev/pkg/github"
	"autodev/pkg/profiler"
)

func reviewComment(id int64, path, body, login string, inReplyTo int64) github.ReviewComment {
	var c github.ReviewComment
	c.ID = id
	c.Path = path
	c.Body = body
	c.InReplyTo = inReplyTo
	c.User.Login = login
	return c
}

func issueComment(id int64, body, login string) github.IssueComment {
	var c github.IssueComment
	c.ID = id
	c.Body = body
	c.User.Login = login
	return c
}

func TestFilterActionable(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		login  string
		wantIn bool
	}{
		{"keyword request", "Please fix the error handling here", "alice", true},
		{"question", "why is this loop unbounded?", "alice", true},
		{"substantial without keyword", "The second branch never executes for empty input values", "alice", true},
		{"bot author", "Please fix the error handling here", "dependabot[bot]", false},
		{"praise", "LGTM, ship it", "alice", false},
		{"thanks", "thanks for the quick turnaround on this", "alice", false},
		{"too short", "ok sure", "alice", false},
		{"short no keyword", "fine by me ok", "alice", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FilterActionable([]github.ReviewComment{
				reviewComment(1, "app.py", tt.body, tt.login, 0),
			}, nil)
			assert.Equal(t, tt.wantIn, len(got) == 1)
		})
	}
}

func TestFilterActionableSkipsThreadReplies(t *testing.T) {
	got := FilterActionable([]github.ReviewComment{
		reviewComment(1, "app.py", "Please fix the error handling here", "alice", 0),
		reviewComment(2, "app.py", "Please also update the docstring here", "bob", 1),
	}, nil)
	assert.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].ReviewID)
}

func TestFilterActionableIncludesIssueComments(t *testing.T) {
	got := FilterActionable(nil, []github.IssueComment{
		issueComment(10, "Could you add a usage example to the README?", "carol"),
		issueComment(11, "nice work everyone", "carol"),
	})
	assert.Len(t, got, 1)
	assert.Zero(t, got[0].ReviewID)
	assert.Empty(t, got[0].Path)
}

func TestGroupByFile(t *testing.T) {
	comments := []ActionableComment{
		{ReviewID: 1, Path: "app.py", Body: "fix this"},
		{Body: "general remark about structure"},
		{ReviewID: 2, Path: "lib/util.py", Body: "rename this"},
		{ReviewID: 3, Path: "app.py", Body: "and this"},
	}
	groups, order := GroupByFile(comments)

	assert.Equal(t, []string{"app.py", GeneralGroup, "lib/util.py"}, order)
	assert.Len(t, groups["app.py"], 2)
	assert.Len(t, groups[GeneralGroup], 1)
	assert.Len(t, groups["lib/util.py"], 1)
}

func TestStatusTransitions(t *testing.T) {
	assert.True(t, CanTransition(StatusPending, StatusInProgress))
	assert.True(t, CanTransition(StatusInProgress, StatusWaitingApproval))
	assert.True(t, CanTransition(StatusWaitingApproval, StatusApproved))
	assert.True(t, CanTransition(StatusWaitingApproval, StatusRejected))
	assert.True(t, CanTransition(StatusApproved, StatusCompleted))

	assert.False(t, CanTransition(StatusCompleted, StatusInProgress))
	assert.False(t, CanTransition(StatusRejected, StatusApproved))
	assert.False(t, CanTransition(StatusInProgress, StatusPending))

	for _, s := range []string{StatusRejected, StatusCompleted, StatusFailed} {
		assert.True(t, IsTerminal(s), s)
	}
	assert.False(t, IsTerminal(StatusPending))
}

func TestExecutionIDFormats(t *testing.T) {
	assert.Equal(t, "create-t1-feature/login", CreateExecutionID("t1", "feature/login"))
	assert.Equal(t, "review-t1-42", ReviewExecutionID("t1", 42))
	assert.Equal(t, "comments-t1-42", CommentsExecutionID("t1", 42))
	assert.Equal(t, "security-t1-chore/security-abc", RemediationExecutionID("t1", "chore/security-abc"))
}

func TestTestCommandsFor(t *testing.T) {
	cmds := testCommandsFor(profileWith("python", []string{"uv"}, []string{"pytest"}))
	assert.Equal(t, []string{"uv run pytest", "pytest"}, cmds)

	cmds = testCommandsFor(profileWith("javascript", []string{"npm"}, []string{"jest"}))
	assert.Equal(t, []string{"npm test"}, cmds)

	cmds = testCommandsFor(profileWith("go", nil, nil))
	assert.Equal(t, []string{"go test ./..."}, cmds)
}

func profileWith(lang string, buildTools, testFrameworks []string) *profiler.Profile {
	return &profiler.Profile{
		PrimaryLanguage: lang,
		BuildTools:      buildTools,
		TestFrameworks:  testFrameworks,
	}
}
