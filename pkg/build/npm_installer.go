package build

import (
	"context"
	"fmt"
	"strings"

	"autodev/pkg/logx"
)

// NpmInstaller handles Node.js projects using npm.
type NpmInstaller struct {
	logger *logx.Logger
}

// NewNpmInstaller creates a new npm installer.
func NewNpmInstaller() *NpmInstaller {
	return &NpmInstaller{logger: logx.NewLogger("build-npm")}
}

// Name returns the installer name.
func (n *NpmInstaller) Name() string {
	return "npm"
}

// Detect reports whether the checkout has a package.json.
func (n *NpmInstaller) Detect(ws Runner) bool {
	return ws.FileExists("package.json")
}

// Install installs all dependencies in a single npm install --save so
// package.json and the lockfile are updated together.
func (n *NpmInstaller) Install(ctx context.Context, ws Runner, deps []string) (*InstallReport, error) {
	report := &InstallReport{Manager: n.Name()}
	if len(deps) == 0 {
		return report, nil
	}

	res, err := ws.Run(ctx, "npm install --save "+strings.Join(deps, " "))
	if err != nil {
		return report, fmt.Errorf("npm install: %w", err)
	}
	if toolMissing(res) {
		report.Warnings = append(report.Warnings, "npm is not installed, skipping dependency installation")
		n.logger.Warn("npm not found, dependencies left undeclared: %v", deps)
		return report, nil
	}
	if res.ExitCode != 0 {
		report.Warnings = append(report.Warnings, fmt.Sprintf("npm install failed: %s", res.Stderr))
		return report, nil
	}

	report.Installed = deps
	return report, nil
}
