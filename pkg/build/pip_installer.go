package build

import (
	"context"
	"fmt"
	"strings"

	"autodev/pkg/logx"
)

// PipInstaller handles traditional requirements.txt Python projects.
type PipInstaller struct {
	logger *logx.Logger
}

// NewPipInstaller creates a new pip installer.
func NewPipInstaller() *PipInstaller {
	return &PipInstaller{logger: logx.NewLogger("build-pip")}
}

// Name returns the installer name.
func (p *PipInstaller) Name() string {
	return "pip"
}

// Detect reports whether the checkout uses pip-style requirement files.
func (p *PipInstaller) Detect(ws Runner) bool {
	return ws.FileExists("requirements.txt") || ws.FileExists("setup.py")
}

// Install installs dependencies into the current environment. pip does
// not record them in requirements.txt; the planner is expected to edit
// that file itself.
func (p *PipInstaller) Install(ctx context.Context, ws Runner, deps []string) (*InstallReport, error) {
	report := &InstallReport{Manager: p.Name()}
	if len(deps) == 0 {
		return report, nil
	}

	res, err := ws.Run(ctx, "pip install "+strings.Join(deps, " "))
	if err != nil {
		return report, fmt.Errorf("pip install: %w", err)
	}
	if toolMissing(res) {
		report.Warnings = append(report.Warnings, "pip is not installed, skipping dependency installation")
		p.logger.Warn("pip not found, dependencies left uninstalled: %v", deps)
		return report, nil
	}
	if res.ExitCode != 0 {
		report.Warnings = append(report.Warnings, fmt.Sprintf("pip install failed: %s", res.Stderr))
		return report, nil
	}

	report.Installed = deps
	return report, nil
}
