package build

import (
	"context"
	"fmt"

	"autodev/pkg/logx"
)

// NullInstaller is the fallback when no package manager is recognized.
// It installs nothing and reports the requested dependencies as skipped.
type NullInstaller struct {
	logger *logx.Logger
}

// NewNullInstaller creates a new null installer.
func NewNullInstaller() *NullInstaller {
	return &NullInstaller{logger: logx.NewLogger("build-null")}
}

// Name returns the installer name.
func (n *NullInstaller) Name() string {
	return "none"
}

// Detect always matches; the null installer is the final fallback.
func (n *NullInstaller) Detect(ws Runner) bool {
	return true
}

// Install does nothing beyond recording a warning for each dependency
// that could not be installed.
func (n *NullInstaller) Install(ctx context.Context, ws Runner, deps []string) (*InstallReport, error) {
	report := &InstallReport{Manager: n.Name()}
	if len(deps) > 0 {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("no supported package manager detected, %d dependencies not installed: %v", len(deps), deps))
		n.logger.Warn("no package manager for dependencies: %v", deps)
	}
	return report, nil
}
