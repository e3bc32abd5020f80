// Package workflow orchestrates the end-to-end automation flows: PR
// creation from a change request, automated PR review, review comment
// resolution, and security finding remediation. Each run is tracked as
// a persisted execution with a stable identifier derived from the
// triggering thread.
package workflow

import "fmt"

// Execution statuses. An execution moves forward through these and
// never back; rejected, completed and failed are terminal.
const (
	StatusPending         = "pending"
	StatusInProgress      = "in_progress"
	StatusWaitingApproval = "waiting_approval"
	StatusApproved        = "approved"
	StatusRejected        = "rejected"
	StatusCompleted       = "completed"
	StatusFailed          = "failed"
)

// Workflow type names recorded on executions and metrics.
const (
	TypeCreatePR        = "pr_creation"
	TypeReviewPR        = "pr_review"
	TypeResolveComments = "comment_resolution"
	TypeRemediate       = "security_remediation"
)

var transitions = map[string][]string{
	StatusPending:         {StatusInProgress, StatusFailed},
	StatusInProgress:      {StatusWaitingApproval, StatusCompleted, StatusFailed},
	StatusWaitingApproval: {StatusApproved, StatusRejected, StatusFailed},
	StatusApproved:        {StatusCompleted, StatusFailed},
	StatusRejected:        {},
	StatusCompleted:       {},
	StatusFailed:          {},
}

// CanTransition reports whether an execution may move from one status
// to another.
func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status admits no further transitions.
func IsTerminal(status string) bool {
	return len(transitions[status]) == 0
}

// CreateExecutionID returns the identifier for a PR creation run.
func CreateExecutionID(threadID, branch string) string {
	return fmt.Sprintf("create-%s-%s", threadID, branch)
}

// ReviewExecutionID returns the identifier for a PR review run.
func ReviewExecutionID(threadID string, prNumber int) string {
	return fmt.Sprintf("review-%s-%d", threadID, prNumber)
}

// CommentsExecutionID returns the identifier for a comment resolution run.
func CommentsExecutionID(threadID string, prNumber int) string {
	return fmt.Sprintf("comments-%s-%d", threadID, prNumber)
}

// RemediationExecutionID returns the identifier for a security
// remediation run.
func RemediationExecutionID(threadID, branch string) string {
	return fmt.Sprintf("security-%s-%s", threadID, branch)
}
