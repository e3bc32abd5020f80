package github

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// PullRequest represents a GitHub pull request.
// Field names match gh CLI --json output (GraphQL field names).
type PullRequest struct {
	Number      int    `json:"number"`
	URL         string `json:"url"`
	Title       string `json:"title"`
	Body        string `json:"body"`
	State       string `json:"state"`       // OPEN, CLOSED, MERGED
	HeadRefName string `json:"headRefName"` // Branch name
	HeadRefOid  string `json:"headRefOid"`  // Commit SHA
	BaseRefName string `json:"baseRefName"` // Target branch name
	Closed      bool   `json:"closed"`
	MergedAt    string `json:"mergedAt"` // Non-empty if merged
	IsDraft     bool   `json:"isDraft"`
}

// IsMerged returns true if the PR has been merged.
func (pr *PullRequest) IsMerged() bool {
	return pr.MergedAt != ""
}

// PRCreateOptions contains options for creating a pull request.
type PRCreateOptions struct {
	Title string
	Body  string
	Head  string // Source branch
	Base  string // Target branch (default: main)
	Draft bool
}

const prJSONFields = "number,url,title,body,state,headRefName,headRefOid,baseRefName,closed,mergedAt,isDraft"

// ListPRsForBranch lists pull requests for a specific head branch.
func (c *Client) ListPRsForBranch(ctx context.Context, branch string) ([]PullRequest, error) {
	args := []string{
		"pr", "list",
		"--repo", c.RepoPath(),
		"--head", branch,
		"--json", prJSONFields,
	}

	var prs []PullRequest
	if err := c.runJSON(ctx, &prs, args...); err != nil {
		return nil, fmt.Errorf("failed to list PRs for branch %s: %w", branch, err)
	}

	return prs, nil
}

// GetPR retrieves a pull request by number or branch name.
func (c *Client) GetPR(ctx context.Context, ref string) (*PullRequest, error) {
	args := []string{
		"pr", "view", ref,
		"--repo", c.RepoPath(),
		"--json", prJSONFields,
	}

	var pr PullRequest
	if err := c.runJSON(ctx, &pr, args...); err != nil {
		return nil, fmt.Errorf("failed to get PR %s: %w", ref, err)
	}

	return &pr, nil
}

// CreatePR creates a new pull request.
func (c *Client) CreatePR(ctx context.Context, opts PRCreateOptions) (*PullRequest, error) {
	if opts.Head == "" {
		return nil, fmt.Errorf("head branch is required")
	}
	if opts.Title == "" {
		return nil, fmt.Errorf("title is required")
	}

	base := opts.Base
	if base == "" {
		base = "main"
	}

	args := []string{
		"pr", "create",
		"--repo", c.RepoPath(),
		"--title", opts.Title,
		"--head", opts.Head,
		"--base", base,
	}

	if opts.Body != "" {
		args = append(args, "--body", opts.Body)
	}

	if opts.Draft {
		args = append(args, "--draft")
	}

	// PR creation is slower than plain API reads.
	client := c.WithTimeout(2 * time.Minute)
	output, err := client.run(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to create PR: %w", err)
	}

	// gh pr create returns the PR URL.
	prURL := strings.TrimSpace(string(output))
	if prURL == "" {
		return nil, fmt.Errorf("PR created but no URL returned")
	}

	return c.GetPR(ctx, prURL)
}

// GetOrCreatePR returns an existing PR for the branch or creates a new one.
func (c *Client) GetOrCreatePR(ctx context.Context, opts PRCreateOptions) (*PullRequest, error) {
	prs, err := c.ListPRsForBranch(ctx, opts.Head)
	if err != nil {
		c.logger.Debug("Failed to check for existing PR, will try to create: %v", err)
	} else if len(prs) > 0 {
		c.logger.Debug("Found existing PR #%d for branch %s", prs[0].Number, opts.Head)
		return &prs[0], nil
	}

	return c.CreatePR(ctx, opts)
}

// ClosePR closes a pull request without merging.
func (c *Client) ClosePR(ctx context.Context, ref string) error {
	args := []string{
		"pr", "close", ref,
		"--repo", c.RepoPath(),
	}

	if _, err := c.run(ctx, args...); err != nil {
		return fmt.Errorf("failed to close PR %s: %w", ref, err)
	}

	return nil
}

// CommentOnPR adds a top-level comment to a pull request.
func (c *Client) CommentOnPR(ctx context.Context, ref, body string) error {
	args := []string{
		"pr", "comment", ref,
		"--repo", c.RepoPath(),
		"--body", body,
	}

	if _, err := c.run(ctx, args...); err != nil {
		return fmt.Errorf("failed to comment on PR %s: %w", ref, err)
	}

	return nil
}

// GetPRDiff returns the unified diff of a pull request.
func (c *Client) GetPRDiff(ctx context.Context, prNumber int) (string, error) {
	args := []string{
		"pr", "diff", fmt.Sprintf("%d", prNumber),
		"--repo", c.RepoPath(),
	}

	output, err := c.run(ctx, args...)
	if err != nil {
		return "", fmt.Errorf("failed to get diff for PR #%d: %w", prNumber, err)
	}

	return string(output), nil
}

// ChangedFile is one file touched by a pull request.
type ChangedFile struct {
	Path      string `json:"path"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
}

// GetPRFiles lists the files changed by a pull request.
func (c *Client) GetPRFiles(ctx context.Context, prNumber int) ([]ChangedFile, error) {
	args := []string{
		"pr", "view", fmt.Sprintf("%d", prNumber),
		"--repo", c.RepoPath(),
		"--json", "files",
	}

	var result struct {
		Files []ChangedFile `json:"files"`
	}
	if err := c.runJSON(ctx, &result, args...); err != nil {
		return nil, fmt.Errorf("failed to get files for PR #%d: %w", prNumber, err)
	}

	return result.Files, nil
}

// CheckRun is the status of one CI check on a pull request.
type CheckRun struct {
	Name   string `json:"name"`
	State  string `json:"state"`
	Bucket string `json:"bucket"` // pass, fail, pending, skipping, cancel
}

// GetPRChecks returns CI check results for a pull request. gh exits
// non-zero when checks are failing or pending, so the output is parsed
// regardless of exit status.
func (c *Client) GetPRChecks(ctx context.Context, prNumber int) ([]CheckRun, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	args := []string{
		"pr", "checks", fmt.Sprintf("%d", prNumber),
		"--repo", c.RepoPath(),
		"--json", "name,state,bucket",
	}
	cmd := exec.CommandContext(ctx, "gh", args...)
	output, runErr := cmd.CombinedOutput()

	var checks []CheckRun
	if err := json.Unmarshal(output, &checks); err != nil {
		if runErr != nil {
			return nil, fmt.Errorf("failed to get checks for PR #%d: %w\nOutput: %s", prNumber, runErr, output)
		}
		return nil, fmt.Errorf("failed to parse checks for PR #%d: %w", prNumber, err)
	}
	return checks, nil
}

// SummarizeChecks renders check results as a short status line.
func SummarizeChecks(checks []CheckRun) string {
	if len(checks) == 0 {
		return "no CI checks reported"
	}
	counts := map[string]int{}
	for _, check := range checks {
		counts[check.Bucket]++
	}
	parts := make([]string, 0, len(counts))
	for _, bucket := range []string{"pass", "fail", "pending", "skipping", "cancel"} {
		if n := counts[bucket]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, bucket))
		}
	}
	return strings.Join(parts, ", ")
}
