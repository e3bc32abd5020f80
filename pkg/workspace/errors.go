package workspace

import (
	"fmt"
	"time"
)

// ErrResourceExhausted is returned when the workspace pool is at capacity.
// Callers must not queue; the request fails fast.
var ErrResourceExhausted = fmt.Errorf("workspace pool exhausted")

// ErrNothingToCommit is returned by CommitAll when the tree is clean.
var ErrNothingToCommit = fmt.Errorf("nothing to commit")

// CommandTimeoutError indicates a sandboxed command exceeded the
// per-command timeout and was killed. Unlike a non-zero exit, which is
// reported as data, an expired timeout is always an error.
type CommandTimeoutError struct {
	Command string
	Timeout time.Duration
}

func (e *CommandTimeoutError) Error() string {
	return fmt.Sprintf("command %q exceeded the %s timeout and was killed", e.Command, e.Timeout)
}

// GitError carries the failing git command and its truncated stderr.
type GitError struct {
	Op       string
	Args     []string
	ExitCode int
	Stderr   string
}

func (e *GitError) Error() string {
	stderr := e.Stderr
	if len(stderr) > 500 {
		stderr = stderr[:500] + "..."
	}
	return fmt.Sprintf("git %s failed (exit %d): %s", e.Op, e.ExitCode, stderr)
}

// CloneError indicates the initial repository clone failed.
type CloneError struct {
	RepoURL string
	Err     error
}

func (e *CloneError) Error() string {
	return fmt.Sprintf("clone of %s failed: %v", e.RepoURL, e.Err)
}

func (e *CloneError) Unwrap() error { return e.Err }

// PushError indicates pushing the work branch failed.
type PushError struct {
	Branch string
	Err    error
}

func (e *PushError) Error() string {
	return fmt.Sprintf("push of %s failed: %v", e.Branch, e.Err)
}

func (e *PushError) Unwrap() error { return e.Err }
