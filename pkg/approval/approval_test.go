package approval

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autodev/pkg/config"
	"autodev/pkg/persistence"
)

func defaultGate() *Gate {
	return NewGate(&config.ApprovalConfig{
		ProductionMarkers:    []string{"prod", "production"},
		PrimaryBranchMarkers: []string{"main", "master"},
	})
}

func TestGatePredicates(t *testing.T) {
	gate := defaultGate()

	cases := []struct {
		name   string
		req    Request
		want   bool
		reason string
	}{
		{
			"production repo",
			Request{RepoURL: "https://github.com/acme/billing-production.git", TargetBranch: "develop", IssueID: "ENG-1"},
			true, "production repository",
		},
		{
			"primary branch",
			Request{RepoURL: "https://github.com/acme/sandbox.git", TargetBranch: "main", IssueID: "ENG-1"},
			true, "primary branch target",
		},
		{
			"no linked issue",
			Request{RepoURL: "https://github.com/acme/sandbox.git", TargetBranch: "develop"},
			true, "no linked issue",
		},
		{
			"safe change",
			Request{RepoURL: "https://github.com/acme/sandbox.git", TargetBranch: "develop", IssueID: "ENG-1"},
			false, "",
		},
		{
			"marker is case insensitive",
			Request{RepoURL: "https://github.com/acme/PROD-API.git", TargetBranch: "develop", IssueID: "ENG-1"},
			true, "production repository",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, reason := gate.Required(tc.req)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.reason, reason)
		})
	}
}

func TestGatePredicateOrder(t *testing.T) {
	gate := defaultGate()
	// A request matching several rules reports the first one.
	required, reason := gate.Required(Request{RepoURL: "https://github.com/acme/prod.git", TargetBranch: "main"})
	assert.True(t, required)
	assert.Equal(t, "production repository", reason)
}

func TestGateGlobalSkip(t *testing.T) {
	gate := NewGate(&config.ApprovalConfig{
		SkipApprovals:        true,
		ProductionMarkers:    []string{"prod"},
		PrimaryBranchMarkers: []string{"main"},
	})
	required, _ := gate.Required(Request{RepoURL: "https://github.com/acme/prod.git", TargetBranch: "main"})
	assert.False(t, required, "skip flag disables every rule")
}

func newRegistry(t *testing.T) (*Registry, *persistence.Store) {
	t.Helper()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewRegistry(store), store
}

func seedExecution(t *testing.T, store *persistence.Store, id string) {
	t.Helper()
	require.NoError(t, store.CreateExecution(&persistence.Execution{
		ID: id, WorkflowType: "create", RepoURL: "r", Status: "waiting_approval",
	}))
}

func TestAwaitReceivesDecision(t *testing.T) {
	reg, store := newRegistry(t)
	seedExecution(t, store, "exec-1")

	done := make(chan bool, 1)
	go func() {
		approved, err := reg.Await(context.Background(), "exec-1")
		assert.NoError(t, err)
		done <- approved
	}()

	// Give the waiter a moment to register.
	time.Sleep(50 * time.Millisecond)
	applied, err := reg.Resolve("exec-1", true, "alice")
	require.NoError(t, err)
	assert.True(t, applied)

	select {
	case approved := <-done:
		assert.True(t, approved)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never woke up")
	}
}

func TestAwaitSeesPriorDecision(t *testing.T) {
	reg, store := newRegistry(t)
	seedExecution(t, store, "exec-1")

	applied, err := reg.Resolve("exec-1", false, "bob")
	require.NoError(t, err)
	assert.True(t, applied)

	approved, err := reg.Await(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.False(t, approved)
}

func TestResolveFirstWriterWins(t *testing.T) {
	reg, store := newRegistry(t)
	seedExecution(t, store, "exec-1")

	applied, err := reg.Resolve("exec-1", false, "bob")
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = reg.Resolve("exec-1", true, "alice")
	require.NoError(t, err)
	assert.False(t, applied, "second decision must be ignored")

	d, err := store.GetDecision("exec-1")
	require.NoError(t, err)
	assert.False(t, d.Approved)
	assert.Equal(t, "bob", d.DecidedBy)
}

func TestResolveUnknownExecutionIgnored(t *testing.T) {
	reg, _ := newRegistry(t)
	applied, err := reg.Resolve("no-such-execution", true, "alice")
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestAwaitHonorsContext(t *testing.T) {
	reg, store := newRegistry(t)
	seedExecution(t, store, "exec-1")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := reg.Await(ctx, "exec-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
