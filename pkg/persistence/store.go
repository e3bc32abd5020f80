// Package persistence provides SQLite-based storage for workflow
// executions and approval decisions.
package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go sqlite driver

	"autodev/pkg/logx"
)

// ErrUnknownExecution is returned when an operation references an
// execution id that was never recorded.
var ErrUnknownExecution = errors.New("unknown execution id")

// IsUnknownExecution reports whether err wraps ErrUnknownExecution.
func IsUnknownExecution(err error) bool {
	return errors.Is(err, ErrUnknownExecution)
}

// Execution is the persisted state of one workflow run.
type Execution struct {
	ID           string
	WorkflowType string
	RepoURL      string
	Branch       string
	PRNumber     int
	ThreadID     string
	Status       string
	Error        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Decision is a recorded approval decision for an execution.
type Decision struct {
	ExecutionID string
	Approved    bool
	DecidedBy   string
	DecidedAt   time.Time
}

// Store wraps the sqlite database.
type Store struct {
	db     *sql.DB
	logger *logx.Logger
}

// Open opens (creating if necessary) the database at dbPath and applies
// the schema.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000",
		dbPath,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, logger: logx.NewLogger("persistence")}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	s.logger.Info("database initialized: %s", dbPath)
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS executions (
			execution_id  TEXT PRIMARY KEY,
			workflow_type TEXT NOT NULL,
			repo_url      TEXT NOT NULL,
			branch        TEXT NOT NULL DEFAULT '',
			pr_number     INTEGER NOT NULL DEFAULT 0,
			thread_id     TEXT NOT NULL DEFAULT '',
			status        TEXT NOT NULL,
			error         TEXT NOT NULL DEFAULT '',
			created_at    TIMESTAMP NOT NULL,
			updated_at    TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS approval_decisions (
			execution_id TEXT PRIMARY KEY REFERENCES executions(execution_id),
			approved     INTEGER NOT NULL,
			decided_by   TEXT NOT NULL DEFAULT '',
			decided_at   TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}

// CreateExecution records a new workflow execution.
func (s *Store) CreateExecution(e *Execution) error {
	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now

	_, err := s.db.Exec(`
		INSERT INTO executions (execution_id, workflow_type, repo_url, branch, pr_number, thread_id, status, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.WorkflowType, e.RepoURL, e.Branch, e.PRNumber, e.ThreadID, e.Status, e.Error, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create execution %s: %w", e.ID, err)
	}
	return nil
}

// UpdateStatus sets the status (and error text) of an execution.
func (s *Store) UpdateStatus(executionID, status, errText string) error {
	res, err := s.db.Exec(`
		UPDATE executions SET status = ?, error = ?, updated_at = ? WHERE execution_id = ?`,
		status, errText, time.Now().UTC(), executionID,
	)
	if err != nil {
		return fmt.Errorf("update execution %s: %w", executionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownExecution, executionID)
	}
	return nil
}

// GetExecution fetches an execution by id, nil when absent.
func (s *Store) GetExecution(executionID string) (*Execution, error) {
	row := s.db.QueryRow(`
		SELECT execution_id, workflow_type, repo_url, branch, pr_number, thread_id, status, error, created_at, updated_at
		FROM executions WHERE execution_id = ?`, executionID)

	var e Execution
	err := row.Scan(&e.ID, &e.WorkflowType, &e.RepoURL, &e.Branch, &e.PRNumber, &e.ThreadID, &e.Status, &e.Error, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get execution %s: %w", executionID, err)
	}
	return &e, nil
}

// ListByStatus returns executions with the given status, oldest first.
func (s *Store) ListByStatus(status string) ([]*Execution, error) {
	rows, err := s.db.Query(`
		SELECT execution_id, workflow_type, repo_url, branch, pr_number, thread_id, status, error, created_at, updated_at
		FROM executions WHERE status = ? ORDER BY created_at`, status)
	if err != nil {
		return nil, fmt.Errorf("list executions by status %s: %w", status, err)
	}
	defer rows.Close()

	var out []*Execution
	for rows.Next() {
		var e Execution
		if err := rows.Scan(&e.ID, &e.WorkflowType, &e.RepoURL, &e.Branch, &e.PRNumber, &e.ThreadID, &e.Status, &e.Error, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// RecordDecision stores an approval decision for an execution. At most
// one decision per execution is kept; the first writer wins and later
// calls return false. Unknown execution ids return ErrUnknownExecution.
func (s *Store) RecordDecision(executionID string, approved bool, decidedBy string) (bool, error) {
	exec, err := s.GetExecution(executionID)
	if err != nil {
		return false, err
	}
	if exec == nil {
		return false, fmt.Errorf("%w: %s", ErrUnknownExecution, executionID)
	}

	res, err := s.db.Exec(`
		INSERT INTO approval_decisions (execution_id, approved, decided_by, decided_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (execution_id) DO NOTHING`,
		executionID, boolToInt(approved), decidedBy, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("record decision for %s: %w", executionID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// GetDecision fetches the decision for an execution, nil when none.
func (s *Store) GetDecision(executionID string) (*Decision, error) {
	row := s.db.QueryRow(`
		SELECT execution_id, approved, decided_by, decided_at
		FROM approval_decisions WHERE execution_id = ?`, executionID)

	var (
		d        Decision
		approved int
	)
	err := row.Scan(&d.ExecutionID, &approved, &d.DecidedBy, &d.DecidedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get decision for %s: %w", executionID, err)
	}
	d.Approved = approved != 0
	return &d, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
