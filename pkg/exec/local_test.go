package exec

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestLocalExecCapturesOutput(t *testing.T) {
	e := NewLocalExec()

	result, err := e.Run(context.Background(), []string{"sh", "-c", "echo out; echo err 1>&2"}, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", result.ExitCode)
	}
	if strings.TrimSpace(result.Stdout) != "out" {
		t.Errorf("stdout = %q", result.Stdout)
	}
	if strings.TrimSpace(result.Stderr) != "err" {
		t.Errorf("stderr = %q", result.Stderr)
	}
}

func TestLocalExecNonZeroExitIsNotError(t *testing.T) {
	e := NewLocalExec()

	result, err := e.Run(context.Background(), []string{"sh", "-c", "exit 3"}, nil)
	if err != nil {
		t.Fatalf("non-zero exit must not surface as error, got %v", err)
	}
	if result.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", result.ExitCode)
	}
}

func TestLocalExecTimeout(t *testing.T) {
	e := NewLocalExec()

	opts := &Opts{Timeout: 100 * time.Millisecond}
	result, err := e.Run(context.Background(), []string{"sleep", "5"}, opts)
	if err != nil {
		t.Fatalf("timeout must not surface as error, got %v", err)
	}
	if !result.TimedOut {
		t.Error("expected TimedOut")
	}
	if result.ExitCode == 0 {
		t.Error("timed-out command must not report success")
	}
}

func TestLocalExecTimeoutKillsDescendants(t *testing.T) {
	e := NewLocalExec()

	// The background child inherits the output pipes; without a process
	// group kill it would keep Run blocked for the full 5 seconds.
	start := time.Now()
	opts := &Opts{Timeout: 200 * time.Millisecond}
	result, err := e.Run(context.Background(), []string{"sh", "-c", "sleep 5 & wait"}, opts)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("timeout must not surface as executor error, got %v", err)
	}
	if !result.TimedOut {
		t.Error("expected TimedOut")
	}
	if elapsed > 3*time.Second {
		t.Errorf("Run blocked %v past the deadline, descendants survived the kill", elapsed)
	}
}

func TestLocalExecWorkDir(t *testing.T) {
	e := NewLocalExec()
	dir := t.TempDir()

	result, err := e.Run(context.Background(), []string{"pwd"}, &Opts{WorkDir: dir})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !strings.Contains(result.Stdout, dir) {
		t.Errorf("pwd = %q, want prefix %q", result.Stdout, dir)
	}

	if _, err := e.Run(context.Background(), []string{"pwd"}, &Opts{WorkDir: dir + "/missing"}); err == nil {
		t.Error("expected error for missing workdir")
	}
}

func TestLocalExecEmptyCommand(t *testing.T) {
	e := NewLocalExec()
	if _, err := e.Run(context.Background(), nil, nil); err == nil {
		t.Error("expected error for empty command")
	}
}
