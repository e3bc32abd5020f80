// Package apply writes an edit plan into a workspace checkout:
// dependencies are installed first, then file changes and test files are
// written in plan order.
package apply

import (
	"context"
	"fmt"

	"autodev/pkg/build"
	"autodev/pkg/logx"
	"autodev/pkg/plan"
	"autodev/pkg/workspace"
)

// ChangeSummary records what an Apply call actually did.
type ChangeSummary struct {
	FilesChanged    []string
	FilesCreated    []string
	TestsAdded      []string
	SkippedDeletes  []string
	SuppressedPaths []string
	Installed       []string
	Warnings        []string
}

// TouchedPaths returns every path Apply wrote.
func (s *ChangeSummary) TouchedPaths() []string {
	paths := make([]string, 0, len(s.FilesChanged)+len(s.FilesCreated)+len(s.TestsAdded))
	paths = append(paths, s.FilesChanged...)
	paths = append(paths, s.FilesCreated...)
	paths = append(paths, s.TestsAdded...)
	return paths
}

// Applier applies edit plans to workspaces.
type Applier struct {
	installers *build.Registry
	logger     *logx.Logger
}

// NewApplier creates an applier with the default installer registry.
func NewApplier() *Applier {
	return &Applier{
		installers: build.NewRegistry(),
		logger:     logx.NewLogger("apply"),
	}
}

// Apply installs the plan's dependencies and writes its file changes.
// Install failures degrade to warnings; only filesystem write errors
// abort the application. Delete entries are recorded but not executed.
func (a *Applier) Apply(ctx context.Context, ws *workspace.Workspace, p *plan.EditPlan) (*ChangeSummary, error) {
	summary := &ChangeSummary{}

	if len(p.Dependencies) > 0 {
		a.installDependencies(ctx, ws, p.Dependencies, summary)
	}

	// uv-managed repositories keep dependency state in pyproject.toml and
	// the lockfile; a planned requirements.txt would drift from both.
	if build.NewUvInstaller().Detect(ws) {
		if suppressed := p.SuppressRequirementsEdits(); len(suppressed) > 0 {
			summary.SuppressedPaths = suppressed
			a.logger.Info("suppressed requirements-style edits in uv repo: %v", suppressed)
		}
	}

	for _, fc := range p.FileChanges {
		switch fc.Type {
		case plan.ChangeDelete:
			// Deletions are not applied. The model over-produces them and a
			// wrong delete is much harder to review than a wrong write.
			summary.SkippedDeletes = append(summary.SkippedDeletes, fc.Path)
			a.logger.Warn("skipping delete of %s, deletions are not applied", fc.Path)
		case plan.ChangeCreate:
			if err := ws.WriteFile(fc.Path, fc.Content); err != nil {
				return summary, fmt.Errorf("create %s: %w", fc.Path, err)
			}
			summary.FilesCreated = append(summary.FilesCreated, fc.Path)
			a.logger.Info("created file: %s", fc.Path)
		default:
			if err := ws.WriteFile(fc.Path, fc.Content); err != nil {
				return summary, fmt.Errorf("modify %s: %w", fc.Path, err)
			}
			summary.FilesChanged = append(summary.FilesChanged, fc.Path)
			a.logger.Info("modified file: %s", fc.Path)
		}
	}

	for _, tf := range p.TestFiles {
		if err := ws.WriteFile(tf.Path, tf.Content); err != nil {
			return summary, fmt.Errorf("write test %s: %w", tf.Path, err)
		}
		summary.TestsAdded = append(summary.TestsAdded, tf.Path)
		a.logger.Info("added test file: %s", tf.Path)
	}

	// An install through the uv backend already locked and synced.
	if len(p.Dependencies) == 0 && build.NewUvInstaller().Detect(ws) {
		a.syncUvEnvironment(ctx, ws, summary)
	}

	return summary, nil
}

// syncUvEnvironment refreshes the lockfile and environment so tests run
// against the just-written sources. Failures degrade to warnings.
func (a *Applier) syncUvEnvironment(ctx context.Context, ws *workspace.Workspace, summary *ChangeSummary) {
	for _, command := range []string{"uv lock", "uv sync"} {
		res, err := ws.Run(ctx, command)
		if err != nil {
			summary.Warnings = append(summary.Warnings, fmt.Sprintf("%s: %v", command, err))
			return
		}
		if res.ExitCode == 127 {
			summary.Warnings = append(summary.Warnings, "uv is not installed, skipped environment sync")
			return
		}
		if res.ExitCode != 0 {
			summary.Warnings = append(summary.Warnings, fmt.Sprintf("%s exited with code %d", command, res.ExitCode))
			return
		}
	}
}

func (a *Applier) installDependencies(ctx context.Context, ws *workspace.Workspace, deps []plan.Dependency, summary *ChangeSummary) {
	installer := a.installers.Detect(ws)

	names := make([]string, 0, len(deps))
	for _, dep := range deps {
		names = append(names, formatDep(dep, installer.Name()))
	}
	a.logger.Info("installing %d dependencies with %s", len(names), installer.Name())

	report, err := installer.Install(ctx, ws, names)
	if err != nil {
		summary.Warnings = append(summary.Warnings, fmt.Sprintf("dependency installation failed: %v", err))
		a.logger.Warn("dependency installation failed, continuing without: %v", err)
		return
	}
	summary.Installed = report.Installed
	summary.Warnings = append(summary.Warnings, report.Warnings...)
}

// formatDep renders a dependency in the pin syntax of the target
// package manager. Range expressions are passed through as bare names
// and left to the manager's resolver.
func formatDep(dep plan.Dependency, manager string) string {
	if dep.Version == "" || !exactVersion(dep.Version) {
		return dep.Name
	}
	switch manager {
	case "npm":
		return dep.Name + "@" + dep.Version
	case "uv", "pip":
		return dep.Name + "==" + dep.Version
	default:
		return dep.Name
	}
}

func exactVersion(version string) bool {
	for _, c := range version {
		switch c {
		case '>', '<', '^', '~', '*', ' ':
			return false
		}
	}
	return true
}
