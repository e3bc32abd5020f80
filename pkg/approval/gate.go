// Package approval decides when a change needs a human sign-off and
// tracks the decisions that come back.
package approval

import (
	"errors"
	"strings"

	"autodev/pkg/config"
	"autodev/pkg/logx"
)

// ErrRejected is the terminal error for a rejected execution.
var ErrRejected = errors.New("approval rejected")

// Request describes a change about to be published.
type Request struct {
	// RepoURL is the target repository.
	RepoURL string
	// TargetBranch is the branch the change lands on.
	TargetBranch string
	// IssueID is the linked tracker issue, empty when none.
	IssueID string
}

// Gate evaluates approval predicates against a request.
type Gate struct {
	cfg    *config.ApprovalConfig
	logger *logx.Logger
}

// NewGate creates a gate from configuration.
func NewGate(cfg *config.ApprovalConfig) *Gate {
	return &Gate{cfg: cfg, logger: logx.NewLogger("approval")}
}

// Required reports whether the request needs human approval and, when it
// does, which rule triggered. Rules are checked in order and any match
// suffices. The global skip flag disables the gate entirely.
func (g *Gate) Required(req Request) (bool, string) {
	if g.cfg.SkipApprovals {
		return false, ""
	}

	repo := strings.ToLower(req.RepoURL)
	for _, marker := range g.cfg.ProductionMarkers {
		if marker != "" && strings.Contains(repo, strings.ToLower(marker)) {
			return true, "production repository"
		}
	}

	branch := strings.ToLower(req.TargetBranch)
	for _, marker := range g.cfg.PrimaryBranchMarkers {
		if marker != "" && strings.Contains(branch, strings.ToLower(marker)) {
			return true, "primary branch target"
		}
	}

	if req.IssueID == "" {
		return true, "no linked issue"
	}

	return false, ""
}
