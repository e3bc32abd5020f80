package persistence

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestExecutionLifecycle(t *testing.T) {
	s := openTestStore(t)

	e := &Execution{
		ID:           "create-T100-feature-x",
		WorkflowType: "create",
		RepoURL:      "https://github.com/acme/widgets.git",
		Branch:       "feature-x",
		ThreadID:     "T100",
		Status:       "pending",
	}
	require.NoError(t, s.CreateExecution(e))

	got, err := s.GetExecution(e.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "pending", got.Status)
	assert.Equal(t, "create", got.WorkflowType)

	require.NoError(t, s.UpdateStatus(e.ID, "in_progress", ""))
	require.NoError(t, s.UpdateStatus(e.ID, "failed", "clone error"))

	got, err = s.GetExecution(e.ID)
	require.NoError(t, err)
	assert.Equal(t, "failed", got.Status)
	assert.Equal(t, "clone error", got.Error)
}

func TestGetExecutionAbsent(t *testing.T) {
	s := openTestStore(t)
	got, err := s.GetExecution("no-such-id")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpdateStatusUnknownID(t *testing.T) {
	s := openTestStore(t)
	err := s.UpdateStatus("no-such-id", "completed", "")
	assert.ErrorIs(t, err, ErrUnknownExecution)
}

func TestDuplicateExecutionIDRejected(t *testing.T) {
	s := openTestStore(t)
	e := &Execution{ID: "x", WorkflowType: "create", RepoURL: "r", Status: "pending"}
	require.NoError(t, s.CreateExecution(e))
	assert.Error(t, s.CreateExecution(e))
}

func TestListByStatus(t *testing.T) {
	s := openTestStore(t)
	for _, id := range []string{"a", "b"} {
		require.NoError(t, s.CreateExecution(&Execution{ID: id, WorkflowType: "create", RepoURL: "r", Status: "waiting_approval"}))
	}
	require.NoError(t, s.CreateExecution(&Execution{ID: "c", WorkflowType: "create", RepoURL: "r", Status: "completed"}))

	waiting, err := s.ListByStatus("waiting_approval")
	require.NoError(t, err)
	assert.Len(t, waiting, 2)
}

func TestFirstDecisionWins(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.CreateExecution(&Execution{ID: "x", WorkflowType: "create", RepoURL: "r", Status: "waiting_approval"}))

	won, err := s.RecordDecision("x", true, "alice")
	require.NoError(t, err)
	assert.True(t, won)

	// A conflicting second decision is ignored.
	won, err = s.RecordDecision("x", false, "bob")
	require.NoError(t, err)
	assert.False(t, won)

	d, err := s.GetDecision("x")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.True(t, d.Approved)
	assert.Equal(t, "alice", d.DecidedBy)
}

func TestDecisionForUnknownExecution(t *testing.T) {
	s := openTestStore(t)
	_, err := s.RecordDecision("ghost", true, "alice")
	assert.ErrorIs(t, err, ErrUnknownExecution)
}

func TestGetDecisionAbsent(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.CreateExecution(&Execution{ID: "x", WorkflowType: "create", RepoURL: "r", Status: "pending"}))
	d, err := s.GetDecision("x")
	require.NoError(t, err)
	assert.Nil(t, d)
}
