// Package plan turns a natural-language change request plus a repository
// profile into a structured edit plan: file contents to write, test files
// to add, and dependencies to install.
package plan

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// Change types for a planned file edit.
const (
	ChangeCreate = "create"
	ChangeModify = "modify"
	ChangeDelete = "delete"
)

// FileChange is one planned edit. Content is the full desired file
// content after the change, never a fragment.
type FileChange struct {
	Path      string `json:"path"`
	Type      string `json:"type"`
	Content   string `json:"content"`
	Reasoning string `json:"reasoning,omitempty"`
}

// TestFile is a test the plan adds alongside the change.
type TestFile struct {
	Path      string `json:"path"`
	Content   string `json:"content"`
	Framework string `json:"framework,omitempty"`
}

// Dependency is a package the change requires.
type Dependency struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
	Type    string `json:"type,omitempty"`
}

// EditPlan is the structured output of plan generation.
type EditPlan struct {
	Summary      string       `json:"summary"`
	FileChanges  []FileChange `json:"file_changes"`
	TestFiles    []TestFile   `json:"test_files,omitempty"`
	Dependencies []Dependency `json:"dependencies,omitempty"`
}

// ErrEmptyPlan is returned when a plan contains no file changes and no
// test files, so there is nothing to apply.
var ErrEmptyPlan = errors.New("plan contains no file changes")

// GenerationError wraps failures to obtain a usable plan from the model.
type GenerationError struct {
	Stage string
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("plan generation failed during %s: %v", e.Stage, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Normalize drops malformed entries and defaults missing change types to
// modify. The result always has non-nil slices.
func (p *EditPlan) Normalize() {
	changes := make([]FileChange, 0, len(p.FileChanges))
	for _, fc := range p.FileChanges {
		if fc.Path == "" {
			continue
		}
		if fc.Type == "" {
			fc.Type = ChangeModify
		}
		changes = append(changes, fc)
	}
	p.FileChanges = changes

	tests := make([]TestFile, 0, len(p.TestFiles))
	for _, tf := range p.TestFiles {
		if tf.Path == "" {
			continue
		}
		tests = append(tests, tf)
	}
	p.TestFiles = tests

	if p.Dependencies == nil {
		p.Dependencies = []Dependency{}
	}
}

// Validate checks the plan is applyable.
func (p *EditPlan) Validate() error {
	if len(p.FileChanges) == 0 && len(p.TestFiles) == 0 {
		return ErrEmptyPlan
	}
	for _, fc := range p.FileChanges {
		switch fc.Type {
		case ChangeCreate, ChangeModify, ChangeDelete:
		default:
			return fmt.Errorf("file change %s has unknown type %q", fc.Path, fc.Type)
		}
	}
	return nil
}

// TouchedPaths returns every path the plan writes, including test files.
func (p *EditPlan) TouchedPaths() []string {
	paths := make([]string, 0, len(p.FileChanges)+len(p.TestFiles))
	for _, fc := range p.FileChanges {
		paths = append(paths, fc.Path)
	}
	for _, tf := range p.TestFiles {
		paths = append(paths, tf.Path)
	}
	return paths
}

// IsRequirementsFile reports whether a path names a pip requirements or
// constraints file.
func IsRequirementsFile(p string) bool {
	name := strings.ToLower(path.Base(strings.ReplaceAll(p, "\\", "/")))
	if strings.HasPrefix(name, "requirements") && strings.HasSuffix(name, ".txt") {
		return true
	}
	return strings.HasPrefix(name, "constraints") && strings.HasSuffix(name, ".txt")
}

// SuppressRequirementsEdits removes requirements-style file changes from
// the plan. Used for uv-managed repositories, where dependency state
// lives in pyproject.toml and uv.lock and a stray requirements.txt would
// drift from the lockfile. Returns the suppressed paths.
func (p *EditPlan) SuppressRequirementsEdits() []string {
	var suppressed []string
	kept := p.FileChanges[:0]
	for _, fc := range p.FileChanges {
		if IsRequirementsFile(fc.Path) {
			suppressed = append(suppressed, fc.Path)
			continue
		}
		kept = append(kept, fc)
	}
	p.FileChanges = kept
	return suppressed
}
