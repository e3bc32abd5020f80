package build

import (
	"context"
	"fmt"

	"autodev/pkg/logx"
)

// UvInstaller handles Python projects managed with uv.
type UvInstaller struct {
	logger *logx.Logger
}

// NewUvInstaller creates a new uv installer.
func NewUvInstaller() *UvInstaller {
	return &UvInstaller{logger: logx.NewLogger("build-uv")}
}

// Name returns the installer name.
func (u *UvInstaller) Name() string {
	return "uv"
}

// Detect reports whether the checkout is uv-managed: either a uv.lock is
// present, or the project uses pyproject.toml without a requirements.txt.
func (u *UvInstaller) Detect(ws Runner) bool {
	if ws.FileExists("uv.lock") {
		return true
	}
	return ws.FileExists("pyproject.toml") && !ws.FileExists("requirements.txt")
}

// Install adds each dependency with uv add, then refreshes the lockfile
// and syncs the environment.
func (u *UvInstaller) Install(ctx context.Context, ws Runner, deps []string) (*InstallReport, error) {
	report := &InstallReport{Manager: u.Name()}
	if len(deps) == 0 {
		return report, nil
	}

	for _, dep := range deps {
		res, err := ws.Run(ctx, "uv add "+dep)
		if err != nil {
			return report, fmt.Errorf("uv add %s: %w", dep, err)
		}
		if toolMissing(res) {
			report.Warnings = append(report.Warnings, "uv is not installed, skipping dependency installation")
			u.logger.Warn("uv not found, dependencies left undeclared: %v", deps)
			return report, nil
		}
		if res.ExitCode != 0 {
			report.Warnings = append(report.Warnings, fmt.Sprintf("uv add %s failed: %s", dep, res.Stderr))
			continue
		}
		report.Installed = append(report.Installed, dep)
	}

	for _, cmd := range []string{"uv lock", "uv sync"} {
		res, err := ws.Run(ctx, cmd)
		if err != nil {
			return report, fmt.Errorf("%s: %w", cmd, err)
		}
		if res.ExitCode != 0 {
			report.Warnings = append(report.Warnings, fmt.Sprintf("%s failed: %s", cmd, res.Stderr))
		}
	}

	return report, nil
}
