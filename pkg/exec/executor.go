// Package exec provides command execution for sandbox operations.
// Commands run with captured output and a hard timeout; a non-zero exit
// code is reported in the Result, not as an error.
package exec

import (
	"context"
	"time"
)

// DefaultTimeout bounds every sandboxed command unless the caller overrides it.
const DefaultTimeout = 300 * time.Second

// Executor defines the interface for executing commands.
type Executor interface {
	// Run executes a command with the given options and returns the result.
	Run(ctx context.Context, cmd []string, opts *Opts) (Result, error)

	// Name returns the executor name for logging/debugging.
	Name() string
}

// Opts contains options for command execution.
type Opts struct {
	// Env contains extra environment variables (KEY=VALUE format),
	// appended to the current process environment.
	Env []string

	// Timeout is the maximum duration for command execution.
	// Zero means DefaultTimeout.
	Timeout time.Duration

	// WorkDir is the working directory for the command.
	WorkDir string
}

// Result contains the result of command execution.
type Result struct {
	// Stdout contains the standard output.
	Stdout string

	// Stderr contains the standard error output.
	Stderr string

	// Duration is how long the command took to execute.
	Duration time.Duration

	// ExitCode is the exit code of the command. -1 means the command
	// could not be started or was killed by the timeout.
	ExitCode int

	// TimedOut reports whether the timeout expired before the command finished.
	TimedOut bool
}

// DefaultOpts returns default execution options.
func DefaultOpts() *Opts {
	return &Opts{
		Timeout: DefaultTimeout,
	}
}
