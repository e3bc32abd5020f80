// Package workspace manages isolated repository sandboxes. Each workspace
// is a temporary clone with its own work branch; a bounded pool caps how
// many may be active at once.
package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"autodev/pkg/config"
	"autodev/pkg/exec"
	"autodev/pkg/logx"
)

// Options configures workspace acquisition.
type Options struct {
	// Branch to check out after cloning. Empty uses the default branch.
	Branch string

	// NewBranch is created from the checked-out branch when set.
	NewBranch string

	// Shallow clones with --depth=1 for faster setup.
	Shallow bool
}

// Manager owns the workspace pool. Acquisition fails fast when the pool
// is at capacity.
type Manager struct {
	baseDir   string
	max       int
	timeout   time.Duration
	token     string
	userName  string
	userEmail string
	executor  exec.Executor
	logger    *logx.Logger

	mu     sync.Mutex
	active map[string]*Workspace
}

// NewManager creates a workspace manager from configuration. token is the
// code-host access token injected into clone URLs; it may be empty for
// public repositories.
func NewManager(wsCfg *config.WorkspaceConfig, gitCfg *config.GitConfig, token string) *Manager {
	baseDir := wsCfg.BaseDir
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	maxConcurrent := wsCfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = config.DefaultMaxConcurrent
	}
	return &Manager{
		baseDir:   baseDir,
		max:       maxConcurrent,
		timeout:   wsCfg.CommandTimeout(),
		token:     token,
		userName:  gitCfg.UserName,
		userEmail: gitCfg.UserEmail,
		executor:  exec.NewLocalExec(),
		logger:    logx.NewLogger("workspace"),
	}
}

// ActiveCount returns the number of currently active workspaces.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Acquire clones repoURL into a fresh sandbox directory and registers it
// in the pool. Returns ErrResourceExhausted when the pool is full. The
// caller must Release the workspace.
func (m *Manager) Acquire(ctx context.Context, repoURL string, opts Options) (*Workspace, error) {
	id := uuid.New().String()[:8]

	m.mu.Lock()
	if m.active == nil {
		m.active = make(map[string]*Workspace)
	}
	if len(m.active) >= m.max {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %d active workspaces (max %d)", ErrResourceExhausted, m.max, m.max)
	}
	// Reserve the slot before the clone so concurrent acquires cannot
	// overshoot the cap while a clone is in flight.
	placeholder := &Workspace{id: id}
	m.active[id] = placeholder
	m.mu.Unlock()

	ws, err := m.setup(ctx, id, repoURL, opts)
	if err != nil {
		m.mu.Lock()
		delete(m.active, id)
		m.mu.Unlock()
		return nil, err
	}

	m.mu.Lock()
	m.active[id] = ws
	m.mu.Unlock()

	m.logger.Info("Acquired workspace %s for %s (%d/%d active)", id, redactURL(repoURL), m.ActiveCount(), m.max)
	return ws, nil
}

func (m *Manager) setup(ctx context.Context, id, repoURL string, opts Options) (*Workspace, error) {
	path := filepath.Join(m.baseDir, fmt.Sprintf("autodev-%s", id))
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workspace directory: %w", err)
	}

	ws := &Workspace{
		id:        id,
		path:      path,
		repoURL:   repoURL,
		executor:  m.executor,
		timeout:   m.timeout,
		userName:  m.userName,
		userEmail: m.userEmail,
		logger:    m.logger.WithComponent("workspace:" + id),
	}

	cloneURL := InjectToken(repoURL, m.token)
	cloneArgs := []string{"clone"}
	if opts.Shallow {
		cloneArgs = append(cloneArgs, "--depth=1", "--no-single-branch")
	}
	cloneArgs = append(cloneArgs, cloneURL, path)

	if err := ws.git(ctx, cloneArgs...); err != nil {
		os.RemoveAll(path)
		return nil, &CloneError{RepoURL: redactURL(repoURL), Err: err}
	}

	if opts.Branch != "" {
		if err := ws.git(ctx, "checkout", opts.Branch); err != nil {
			os.RemoveAll(path)
			return nil, &CloneError{RepoURL: redactURL(repoURL), Err: fmt.Errorf("checkout %s: %w", opts.Branch, err)}
		}
		ws.branch = opts.Branch
	}
	if opts.NewBranch != "" {
		if err := ws.git(ctx, "checkout", "-b", opts.NewBranch); err != nil {
			os.RemoveAll(path)
			return nil, &CloneError{RepoURL: redactURL(repoURL), Err: fmt.Errorf("create branch %s: %w", opts.NewBranch, err)}
		}
		ws.branch = opts.NewBranch
	}

	return ws, nil
}

// Release removes the workspace directory and frees its pool slot.
// Releasing an already-released workspace is a no-op.
func (m *Manager) Release(ws *Workspace) {
	if ws == nil {
		return
	}

	m.mu.Lock()
	_, present := m.active[ws.id]
	delete(m.active, ws.id)
	m.mu.Unlock()

	if !present {
		return
	}

	if ws.path != "" {
		if err := os.RemoveAll(ws.path); err != nil {
			m.logger.Warn("Failed to remove workspace %s: %v", ws.id, err)
		}
	}
	m.logger.Info("Released workspace %s (%d/%d active)", ws.id, m.ActiveCount(), m.max)
}

// WithWorkspace acquires a workspace, runs fn, and releases on every exit
// path including panics.
func (m *Manager) WithWorkspace(ctx context.Context, repoURL string, opts Options, fn func(ws *Workspace) error) error {
	ws, err := m.Acquire(ctx, repoURL, opts)
	if err != nil {
		return err
	}
	defer m.Release(ws)
	return fn(ws)
}

// InjectToken embeds an access token in an https clone URL. URLs that are
// not https, or that already carry credentials, pass through unchanged.
func InjectToken(repoURL, token string) string {
	if token == "" {
		return repoURL
	}
	if !strings.HasPrefix(repoURL, "https://") {
		return repoURL
	}
	if strings.Contains(repoURL, "@") {
		return repoURL
	}
	return "https://x-access-token:" + token + "@" + strings.TrimPrefix(repoURL, "https://")
}

// redactURL strips embedded credentials from a URL for logging.
func redactURL(repoURL string) string {
	if at := strings.Index(repoURL, "@"); at != -1 && strings.HasPrefix(repoURL, "https://") {
		return "https://" + repoURL[at+1:]
	}
	return repoURL
}
