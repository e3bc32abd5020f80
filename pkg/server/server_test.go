package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autodev/pkg/approval"
	"autodev/pkg/config"
	"autodev/pkg/persistence"
)

func newTestServer(t *testing.T) (*Server, *persistence.Store) {
	t.Helper()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "executions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := config.DefaultConfig(config.ProviderAnthropic, "claude-sonnet-4-20250514")
	return New(cfg, nil, approval.NewRegistry(store), store, nil), store
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s.Handler(), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestCreateValidation(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/v1/workflows/create", `{"repo_url": "x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, s.Handler(), http.MethodGet, "/api/v1/workflows/create", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = doJSON(t, s.Handler(), http.MethodPost, "/api/v1/workflows/create", "not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReviewAndCommentsValidation(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/v1/workflows/review", `{"repo_url": "x", "thread_id": "t"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, s.Handler(), http.MethodPost, "/api/v1/workflows/comments", `{"pr_number": 1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRemediateRequiresFindings(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/v1/workflows/remediate",
		`{"repo_url": "x", "description": "d", "thread_id": "t"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "trivy_json or raw_logs")
}

func TestApprovalDecision(t *testing.T) {
	s, store := newTestServer(t)
	require.NoError(t, store.CreateExecution(&persistence.Execution{
		ID:           "create-t1-branch",
		WorkflowType: "pr_creation",
		Status:       "waiting_approval",
	}))

	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/v1/approvals",
		`{"execution_id": "create-t1-branch", "approved": true, "decided_by": "alice"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body["recorded"])

	// A second decision is ignored.
	rec = doJSON(t, s.Handler(), http.MethodPost, "/api/v1/approvals",
		`{"execution_id": "create-t1-branch", "approved": false, "decided_by": "bob"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body["recorded"])

	// Unknown execution ids are ignored, not errors.
	rec = doJSON(t, s.Handler(), http.MethodPost, "/api/v1/approvals",
		`{"execution_id": "create-unknown", "approved": true, "decided_by": "alice"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body["recorded"])
}

func TestExecutionStatus(t *testing.T) {
	s, store := newTestServer(t)
	require.NoError(t, store.CreateExecution(&persistence.Execution{
		ID:           "review-t1-5",
		WorkflowType: "pr_review",
		RepoURL:      "https://github.com/acme/app",
		PRNumber:     5,
		Status:       "completed",
	}))

	rec := doJSON(t, s.Handler(), http.MethodGet, "/api/v1/executions/review-t1-5", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"completed"`)

	rec = doJSON(t, s.Handler(), http.MethodGet, "/api/v1/executions/review-t1-99", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUsageUnconfigured(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s.Handler(), http.MethodGet, "/api/v1/executions/review-t1-5/usage", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s.Handler(), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
