// Package build installs declared dependencies into a workspace checkout
// using whichever package manager the repository itself uses. Installers
// are registered with priorities and the first one whose Detect matches
// wins.
package build

import (
	"context"
	"strings"

	"autodev/pkg/exec"
)

// Runner is the slice of a workspace an installer needs: shell command
// execution inside the checkout plus file probes.
type Runner interface {
	Run(ctx context.Context, command string) (exec.Result, error)
	FileExists(relPath string) bool
}

// Installer installs dependencies for one package-manager ecosystem.
type Installer interface {
	// Name returns the installer name for logging and identification.
	Name() string

	// Detect reports whether this installer applies to the checkout.
	Detect(ws Runner) bool

	// Install adds the given dependencies. Missing tooling is reported
	// as a warning in the report, not as an error.
	Install(ctx context.Context, ws Runner, deps []string) (*InstallReport, error)
}

// InstallReport summarizes one dependency installation pass.
type InstallReport struct {
	Manager   string
	Installed []string
	Warnings  []string
}

// InstallerPriority orders installer detection.
type InstallerPriority int

const (
	// PriorityHigh is for lockfile-backed ecosystems (uv.lock, package.json).
	PriorityHigh InstallerPriority = 100

	// PriorityMedium is for generic requirement files (requirements.txt).
	PriorityMedium InstallerPriority = 50

	// PriorityLow is for the fallback installer.
	PriorityLow InstallerPriority = 10
)

// InstallerRegistration combines an installer with its priority.
type InstallerRegistration struct {
	Installer Installer
	Priority  InstallerPriority
}

// toolMissing reports whether a command failed because the package
// manager binary is absent rather than because the install itself failed.
func toolMissing(res exec.Result) bool {
	if res.ExitCode == 127 {
		return true
	}
	out := res.Stdout + res.Stderr
	return strings.Contains(out, "command not found") ||
		strings.Contains(out, "executable file not found") ||
		strings.Contains(out, "not recognized as")
}
