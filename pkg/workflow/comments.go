package workflow

import (
	"strings"

	"autodev/pkg/github"
)

// GeneralGroup is the bucket for actionable comments that are not tied
// to a specific file (top-level PR comments).
const GeneralGroup = "general"

// ActionableComment is a review or issue comment that asks for a code
// change. ReviewID is zero for top-level comments, which cannot receive
// threaded replies.
type ActionableComment struct {
	ReviewID int64
	Path     string
	Line     int
	Body     string
	Author   string
}

// Phrases that mark a comment as praise or acknowledgement rather than
// a change request.
var nonActionablePhrases = []string{
	"lgtm", "looks good", "approved", "nice work",
	"great job", "thanks", "thank you", "+1",
}

// Keywords that suggest the comment is asking for a change.
var actionableKeywords = []string{
	"fix", "change", "update", "modify", "refactor", "improve",
	"should", "could", "need", "please", "consider", "suggestion",
	"bug", "issue", "problem", "error", "typo", "mistake",
	"why", "how", "what", "css", "style", "not working", "broken",
	"missing", "add", "remove", "delete", "incorrect", "wrong",
}

func isActionableBody(body, authorLogin string) bool {
	if strings.Contains(strings.ToLower(authorLogin), "bot") {
		return false
	}
	trimmed := strings.TrimSpace(body)
	if len(trimmed) < 10 {
		return false
	}
	lower := strings.ToLower(trimmed)
	for _, phrase := range nonActionablePhrases {
		if strings.Contains(lower, phrase) {
			return false
		}
	}
	for _, kw := range actionableKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	// A substantial comment without a recognized keyword is still
	// worth a look.
	return len(trimmed) > 20
}

// FilterActionable selects the comments that request changes. Threaded
// replies are skipped; a thread with replies is already under
// discussion.
func FilterActionable(reviews []github.ReviewComment, issues []github.IssueComment) []ActionableComment {
	var out []ActionableComment
	for _, c := range reviews {
		if c.InReplyTo != 0 {
			continue
		}
		if !isActionableBody(c.Body, c.User.Login) {
			continue
		}
		out = append(out, ActionableComment{
			ReviewID: c.ID,
			Path:     c.Path,
			Line:     c.Line,
			Body:     c.Body,
			Author:   c.User.Login,
		})
	}
	for _, c := range issues {
		if !isActionableBody(c.Body, c.User.Login) {
			continue
		}
		out = append(out, ActionableComment{
			Body:   c.Body,
			Author: c.User.Login,
		})
	}
	return out
}

// GroupByFile buckets actionable comments by the file they target.
// Comments without a path land in the GeneralGroup bucket. Order of
// first appearance is preserved in the returned key list.
func GroupByFile(comments []ActionableComment) (map[string][]ActionableComment, []string) {
	groups := make(map[string][]ActionableComment)
	var order []string
	for _, c := range comments {
		key := c.Path
		if key == "" {
			key = GeneralGroup
		}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], c)
	}
	return groups, order
}
