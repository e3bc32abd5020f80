// Package server exposes the HTTP trigger surface: workflow triggers,
// approval decisions, execution status, health, and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"autodev/pkg/approval"
	"autodev/pkg/config"
	"autodev/pkg/logx"
	"autodev/pkg/metrics"
	"autodev/pkg/persistence"
	"autodev/pkg/workflow"
)

// Server is the engine's HTTP server. Workflow triggers are accepted,
// validated, and run asynchronously; the response carries the execution
// identifier for later status polling.
type Server struct {
	cfg       *config.Config
	orch      *workflow.Orchestrator
	approvals *approval.Registry
	store     *persistence.Store
	usage     *metrics.QueryService
	logger    *logx.Logger

	httpServer *http.Server
	baseCtx    context.Context
}

// New creates the HTTP server. usage may be nil when no Prometheus
// query endpoint is configured.
func New(cfg *config.Config, orch *workflow.Orchestrator, approvals *approval.Registry, store *persistence.Store, usage *metrics.QueryService) *Server {
	s := &Server{
		cfg:       cfg,
		orch:      orch,
		approvals: approvals,
		store:     store,
		usage:     usage,
		logger:    logx.NewLogger("server"),
		baseCtx:   context.Background(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/v1/workflows/create", s.handleCreate)
	mux.HandleFunc("/api/v1/workflows/review", s.handleReview)
	mux.HandleFunc("/api/v1/workflows/comments", s.handleComments)
	mux.HandleFunc("/api/v1/workflows/remediate", s.handleRemediate)
	mux.HandleFunc("/api/v1/approvals", s.handleApproval)
	mux.HandleFunc("/api/v1/executions/", s.handleExecution)

	s.httpServer = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the route table for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createPayload struct {
	RepoURL     string `json:"repo_url"`
	Description string `json:"description"`
	BranchName  string `json:"branch_name"`
	ThreadID    string `json:"thread_id"`
	IssueID     string `json:"issue_id"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var payload createPayload
	if !s.decodePost(w, r, &payload) {
		return
	}
	if payload.RepoURL == "" || payload.Description == "" || payload.BranchName == "" || payload.ThreadID == "" {
		writeError(w, http.StatusBadRequest, "repo_url, description, branch_name and thread_id are required")
		return
	}

	executionID := workflow.CreateExecutionID(payload.ThreadID, payload.BranchName)
	go func() {
		_, err := s.orch.CreatePR(s.baseCtx, workflow.CreateRequest{
			RepoURL:     payload.RepoURL,
			Description: payload.Description,
			BranchName:  payload.BranchName,
			ThreadID:    payload.ThreadID,
			IssueID:     payload.IssueID,
		})
		if err != nil {
			s.logger.Error("create workflow %s: %v", executionID, err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"execution_id": executionID})
}

type reviewPayload struct {
	RepoURL  string `json:"repo_url"`
	PRNumber int    `json:"pr_number"`
	ThreadID string `json:"thread_id"`
	IssueID  string `json:"issue_id"`
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	var payload reviewPayload
	if !s.decodePost(w, r, &payload) {
		return
	}
	if payload.RepoURL == "" || payload.PRNumber == 0 || payload.ThreadID == "" {
		writeError(w, http.StatusBadRequest, "repo_url, pr_number and thread_id are required")
		return
	}

	executionID := workflow.ReviewExecutionID(payload.ThreadID, payload.PRNumber)
	go func() {
		_, err := s.orch.ReviewPR(s.baseCtx, workflow.ReviewRequest{
			RepoURL:  payload.RepoURL,
			PRNumber: payload.PRNumber,
			ThreadID: payload.ThreadID,
			IssueID:  payload.IssueID,
		})
		if err != nil {
			s.logger.Error("review workflow %s: %v", executionID, err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"execution_id": executionID})
}

func (s *Server) handleComments(w http.ResponseWriter, r *http.Request) {
	var payload reviewPayload
	if !s.decodePost(w, r, &payload) {
		return
	}
	if payload.RepoURL == "" || payload.PRNumber == 0 || payload.ThreadID == "" {
		writeError(w, http.StatusBadRequest, "repo_url, pr_number and thread_id are required")
		return
	}

	executionID := workflow.CommentsExecutionID(payload.ThreadID, payload.PRNumber)
	go func() {
		_, err := s.orch.ResolveComments(s.baseCtx, workflow.ResolveRequest{
			RepoURL:  payload.RepoURL,
			PRNumber: payload.PRNumber,
			ThreadID: payload.ThreadID,
		})
		if err != nil {
			s.logger.Error("comment resolution %s: %v", executionID, err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"execution_id": executionID})
}

type remediatePayload struct {
	RepoURL     string          `json:"repo_url"`
	Description string          `json:"description"`
	ThreadID    string          `json:"thread_id"`
	TrivyJSON   json.RawMessage `json:"trivy_json,omitempty"`
	RawLogs     string          `json:"raw_logs,omitempty"`
}

func (s *Server) handleRemediate(w http.ResponseWriter, r *http.Request) {
	var payload remediatePayload
	if !s.decodePost(w, r, &payload) {
		return
	}
	if payload.RepoURL == "" || payload.Description == "" || payload.ThreadID == "" {
		writeError(w, http.StatusBadRequest, "repo_url, description and thread_id are required")
		return
	}
	if len(payload.TrivyJSON) == 0 && payload.RawLogs == "" {
		writeError(w, http.StatusBadRequest, "trivy_json or raw_logs is required")
		return
	}

	go func() {
		_, err := s.orch.RemediateFindings(s.baseCtx, workflow.RemediationRequest{
			RepoURL:     payload.RepoURL,
			Description: payload.Description,
			ThreadID:    payload.ThreadID,
			TrivyJSON:   payload.TrivyJSON,
			RawLogs:     payload.RawLogs,
		})
		if err != nil {
			s.logger.Error("remediation for thread %s: %v", payload.ThreadID, err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

type approvalPayload struct {
	ExecutionID string `json:"execution_id"`
	Approved    bool   `json:"approved"`
	DecidedBy   string `json:"decided_by"`
}

func (s *Server) handleApproval(w http.ResponseWriter, r *http.Request) {
	var payload approvalPayload
	if !s.decodePost(w, r, &payload) {
		return
	}
	if payload.ExecutionID == "" || payload.DecidedBy == "" {
		writeError(w, http.StatusBadRequest, "execution_id and decided_by are required")
		return
	}

	recorded, err := s.approvals.Resolve(payload.ExecutionID, payload.Approved, payload.DecidedBy)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"recorded": recorded})
}

func (s *Server) handleExecution(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/executions/")
	executionID, wantUsage := rest, false
	if strings.HasSuffix(rest, "/usage") {
		executionID = strings.TrimSuffix(rest, "/usage")
		wantUsage = true
	}
	if executionID == "" {
		writeError(w, http.StatusBadRequest, "execution id is required")
		return
	}

	if wantUsage {
		s.writeUsage(w, r, executionID)
		return
	}

	record, err := s.store.GetExecution(executionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if record == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no execution %s", executionID))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"execution_id":  record.ID,
		"workflow_type": record.WorkflowType,
		"repo_url":      record.RepoURL,
		"branch":        record.Branch,
		"pr_number":     record.PRNumber,
		"thread_id":     record.ThreadID,
		"status":        record.Status,
		"error":         record.Error,
		"created_at":    record.CreatedAt,
		"updated_at":    record.UpdatedAt,
	})
}

func (s *Server) writeUsage(w http.ResponseWriter, r *http.Request, executionID string) {
	if s.usage == nil {
		writeError(w, http.StatusNotFound, "usage metrics are not configured")
		return
	}
	m, err := s.usage.GetExecutionMetrics(r.Context(), executionID)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) decodePost(w http.ResponseWriter, r *http.Request, into any) bool {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return false
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(into); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logx.NewLogger("server").Warn("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
