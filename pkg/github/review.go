package github

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ReviewComment is an inline review comment on a pull request.
type ReviewComment struct {
	ID        int64     `json:"id"`
	Body      string    `json:"body"`
	Path      string    `json:"path"`
	Line      int       `json:"line"`
	InReplyTo int64     `json:"in_reply_to_id"`
	CreatedAt time.Time `json:"created_at"`
	User      struct {
		Login string `json:"login"`
		Type  string `json:"type"`
	} `json:"user"`
}

// IssueComment is a top-level comment on a pull request or issue.
type IssueComment struct {
	ID        int64     `json:"id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
	User      struct {
		Login string `json:"login"`
		Type  string `json:"type"`
	} `json:"user"`
}

// GetReviewComments retrieves the inline review comments on a pull request.
func (c *Client) GetReviewComments(ctx context.Context, prNumber int) ([]ReviewComment, error) {
	endpoint := fmt.Sprintf("/repos/%s/pulls/%d/comments", c.RepoPath(), prNumber)
	output, err := c.APIGet(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to get review comments for PR #%d: %w", prNumber, err)
	}

	var comments []ReviewComment
	if err := json.Unmarshal(output, &comments); err != nil {
		return nil, fmt.Errorf("failed to parse review comments: %w", err)
	}

	return comments, nil
}

// GetIssueComments retrieves the top-level comments on a pull request.
func (c *Client) GetIssueComments(ctx context.Context, prNumber int) ([]IssueComment, error) {
	endpoint := fmt.Sprintf("/repos/%s/issues/%d/comments", c.RepoPath(), prNumber)
	output, err := c.APIGet(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to get comments for PR #%d: %w", prNumber, err)
	}

	var comments []IssueComment
	if err := json.Unmarshal(output, &comments); err != nil {
		return nil, fmt.Errorf("failed to parse comments: %w", err)
	}

	return comments, nil
}

// ReplyToReviewComment posts a threaded reply to an inline review comment.
func (c *Client) ReplyToReviewComment(ctx context.Context, prNumber int, commentID int64, body string) error {
	endpoint := fmt.Sprintf("/repos/%s/pulls/%d/comments/%d/replies", c.RepoPath(), prNumber, commentID)
	if _, err := c.APIPost(ctx, endpoint, map[string]interface{}{"body": body}); err != nil {
		return fmt.Errorf("failed to reply to review comment %d: %w", commentID, err)
	}
	return nil
}

// LinkedIssues returns the numbers of issues the PR closes.
func (c *Client) LinkedIssues(ctx context.Context, prNumber int) ([]int, error) {
	args := []string{
		"pr", "view", fmt.Sprintf("%d", prNumber),
		"--repo", c.RepoPath(),
		"--json", "closingIssuesReferences",
	}

	var result struct {
		ClosingIssuesReferences []struct {
			Number int `json:"number"`
		} `json:"closingIssuesReferences"`
	}
	if err := c.runJSON(ctx, &result, args...); err != nil {
		return nil, fmt.Errorf("failed to get linked issues for PR #%d: %w", prNumber, err)
	}

	numbers := make([]int, 0, len(result.ClosingIssuesReferences))
	for _, ref := range result.ClosingIssuesReferences {
		numbers = append(numbers, ref.Number)
	}
	return numbers, nil
}
