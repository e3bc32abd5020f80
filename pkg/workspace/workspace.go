package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"autodev/pkg/exec"
	"autodev/pkg/logx"
)

// DefaultTestCommands is the ordered list of test commands tried when a
// repository profile does not select a specific runner.
var DefaultTestCommands = []string{
	"python -m pytest --tb=short",
	"python -m unittest discover",
	"npm test",
	"make test",
}

// TestResult records one test command attempt.
type TestResult struct {
	Command  string
	ExitCode int
	Output   string
	Duration time.Duration

	// RunnerMissing is set when the command failed because its runner does
	// not exist in the sandbox rather than because tests failed.
	RunnerMissing bool
}

// Passed reports whether the attempt succeeded.
func (r *TestResult) Passed() bool {
	return r.ExitCode == 0 && !r.RunnerMissing
}

// Workspace is an isolated clone of a repository with its own work branch.
type Workspace struct {
	id        string
	path      string
	repoURL   string
	branch    string
	userName  string
	userEmail string
	timeout   time.Duration
	executor  exec.Executor
	logger    *logx.Logger
}

// ID returns the workspace identifier.
func (w *Workspace) ID() string { return w.id }

// Path returns the sandbox root directory.
func (w *Workspace) Path() string { return w.path }

// Branch returns the currently checked-out branch.
func (w *Workspace) Branch() string { return w.branch }

// Run executes a shell command inside the sandbox with the configured
// timeout. Non-zero exit codes are reported in the Result; an expired
// timeout is a CommandTimeoutError.
func (w *Workspace) Run(ctx context.Context, command string) (exec.Result, error) {
	res, err := w.executor.Run(ctx, []string{"sh", "-c", command}, &exec.Opts{
		WorkDir: w.path,
		Timeout: w.timeout,
	})
	if err == nil && res.TimedOut {
		return res, &CommandTimeoutError{Command: command, Timeout: w.timeout}
	}
	return res, err
}

// RunCommand executes an argv command inside the sandbox.
func (w *Workspace) RunCommand(ctx context.Context, argv []string) (exec.Result, error) {
	res, err := w.executor.Run(ctx, argv, &exec.Opts{
		WorkDir: w.path,
		Timeout: w.timeout,
	})
	if err == nil && res.TimedOut {
		return res, &CommandTimeoutError{Command: strings.Join(argv, " "), Timeout: w.timeout}
	}
	return res, err
}

// RunTests tries each command in order, recording every attempt, and stops
// at the first passing command. It returns all attempts in order plus the
// command that passed (empty if none did).
func (w *Workspace) RunTests(ctx context.Context, commands []string) ([]TestResult, string, error) {
	if len(commands) == 0 {
		commands = DefaultTestCommands
	}

	results := make([]TestResult, 0, len(commands))
	for _, command := range commands {
		res, err := w.Run(ctx, command)
		if err != nil {
			return results, "", fmt.Errorf("failed to run %q: %w", command, err)
		}

		output := res.Stdout
		if res.Stderr != "" {
			output += "\n" + res.Stderr
		}
		attempt := TestResult{
			Command:       command,
			ExitCode:      res.ExitCode,
			Output:        output,
			Duration:      res.Duration,
			RunnerMissing: runnerMissing(&res),
		}
		results = append(results, attempt)

		if attempt.Passed() {
			w.logger.Info("Tests passed with %q", command)
			return results, command, nil
		}
		w.logger.Debug("Test command %q exited %d (runner missing: %v)", command, res.ExitCode, attempt.RunnerMissing)
	}

	return results, "", nil
}

// runnerMissing detects "command not found" failures, distinguishing a
// missing test runner from failing tests.
func runnerMissing(res *exec.Result) bool {
	if res.ExitCode == 127 {
		return true
	}
	combined := res.Stdout + res.Stderr
	if strings.Contains(combined, "command not found") ||
		strings.Contains(combined, "not recognized as") {
		return true
	}
	// python -m prints these when the module runner is absent.
	if strings.Contains(combined, "No module named pytest") ||
		strings.Contains(combined, "No module named unittest") {
		return true
	}
	return false
}

// CheckoutNewBranch creates and checks out a new branch.
func (w *Workspace) CheckoutNewBranch(ctx context.Context, name string) error {
	if err := w.git(ctx, "checkout", "-b", name); err != nil {
		return err
	}
	w.branch = name
	return nil
}

// CommitAll stages every change, including untracked files, and commits.
// Returns ErrNothingToCommit when the tree is clean.
func (w *Workspace) CommitAll(ctx context.Context, message string) error {
	if err := w.git(ctx, "add", "-A"); err != nil {
		return err
	}

	status, err := w.gitOutput(ctx, "status", "--porcelain")
	if err != nil {
		return err
	}
	if strings.TrimSpace(status) == "" {
		return ErrNothingToCommit
	}

	args := []string{}
	if w.userName != "" {
		args = append(args, "-c", "user.name="+w.userName)
	}
	if w.userEmail != "" {
		args = append(args, "-c", "user.email="+w.userEmail)
	}
	args = append(args, "commit", "-m", message)
	return w.git(ctx, args...)
}

// Push publishes the current branch upstream. Never force-pushes.
func (w *Workspace) Push(ctx context.Context) error {
	if err := w.git(ctx, "push", "-u", "origin", "HEAD"); err != nil {
		return &PushError{Branch: w.branch, Err: err}
	}
	return nil
}

// WriteFile writes content to a path relative to the sandbox root,
// creating parent directories as needed. Existing files are overwritten.
func (w *Workspace) WriteFile(relPath, content string) error {
	full := filepath.Join(w.path, relPath)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return fmt.Errorf("failed to create parent directory for %s: %w", relPath, err)
	}
	if err := os.WriteFile(full, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", relPath, err)
	}
	return nil
}

// ReadFile reads a path relative to the sandbox root.
func (w *Workspace) ReadFile(relPath string) (string, error) {
	data, err := os.ReadFile(filepath.Join(w.path, relPath))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// FileExists reports whether a path exists relative to the sandbox root.
func (w *Workspace) FileExists(relPath string) bool {
	_, err := os.Stat(filepath.Join(w.path, relPath))
	return err == nil
}

// git runs a git command in the sandbox (or bare for clone) and converts
// non-zero exits into GitError.
func (w *Workspace) git(ctx context.Context, args ...string) error {
	_, err := w.gitOutput(ctx, args...)
	return err
}

func (w *Workspace) gitOutput(ctx context.Context, args ...string) (string, error) {
	opts := &exec.Opts{Timeout: w.timeout}
	// clone runs before the directory has contents; everything else runs inside.
	if len(args) > 0 && args[0] != "clone" {
		opts.WorkDir = w.path
	}

	res, err := w.executor.Run(ctx, append([]string{"git"}, args...), opts)
	if err != nil {
		return "", fmt.Errorf("git %s: %w", args[0], err)
	}
	if res.ExitCode != 0 {
		return "", &GitError{
			Op:       args[0],
			Args:     args,
			ExitCode: res.ExitCode,
			Stderr:   res.Stderr,
		}
	}
	return res.Stdout, nil
}
