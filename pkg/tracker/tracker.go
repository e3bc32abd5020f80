// Package tracker integrates with a Linear-style GraphQL issue tracker.
// All methods are safe on a nil client, so callers without tracker
// credentials degrade to running without issue context.
package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"autodev/pkg/logx"
)

// DefaultAPIURL is the hosted tracker's GraphQL endpoint.
const DefaultAPIURL = "https://api.linear.app/graphql"

// Issue is the tracker issue context attached to a change request.
type Issue struct {
	ID          string
	Identifier  string
	Title       string
	Description string
	Priority    float64
	State       string
	Assignee    string
	Labels      []string
}

// ContextString renders the issue for inclusion in an LLM prompt.
func (i *Issue) ContextString() string {
	if i == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", i.Title)
	fmt.Fprintf(&b, "Description: %s\n", i.Description)
	if i.State != "" {
		fmt.Fprintf(&b, "State: %s\n", i.State)
	}
	if len(i.Labels) > 0 {
		fmt.Fprintf(&b, "Labels: %s\n", strings.Join(i.Labels, ", "))
	}
	return b.String()
}

// Client talks to the tracker's GraphQL API.
type Client struct {
	apiURL string
	apiKey string
	http   *http.Client
	logger *logx.Logger
}

// NewClient creates a tracker client. An empty API key yields a nil
// client, which every method tolerates.
func NewClient(apiURL, apiKey string) *Client {
	if apiKey == "" {
		return nil
	}
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	return &Client{
		apiURL: apiURL,
		apiKey: apiKey,
		http:   &http.Client{Timeout: 30 * time.Second},
		logger: logx.NewLogger("tracker"),
	}
}

const issueQuery = `query GetIssue($id: String!) {
  issue(id: $id) {
    id
    identifier
    title
    description
    priority
    state { name }
    assignee { name }
    labels { nodes { name } }
  }
}`

// GetIssue fetches issue details. A nil client returns (nil, nil).
func (c *Client) GetIssue(ctx context.Context, issueID string) (*Issue, error) {
	if c == nil {
		return nil, nil
	}

	var resp struct {
		Data struct {
			Issue *struct {
				ID          string  `json:"id"`
				Identifier  string  `json:"identifier"`
				Title       string  `json:"title"`
				Description string  `json:"description"`
				Priority    float64 `json:"priority"`
				State       struct {
					Name string `json:"name"`
				} `json:"state"`
				Assignee *struct {
					Name string `json:"name"`
				} `json:"assignee"`
				Labels struct {
					Nodes []struct {
						Name string `json:"name"`
					} `json:"nodes"`
				} `json:"labels"`
			} `json:"issue"`
		} `json:"data"`
	}

	if err := c.query(ctx, issueQuery, map[string]any{"id": issueID}, &resp); err != nil {
		return nil, fmt.Errorf("get issue %s: %w", issueID, err)
	}
	if resp.Data.Issue == nil {
		return nil, nil
	}

	issue := &Issue{
		ID:          resp.Data.Issue.ID,
		Identifier:  resp.Data.Issue.Identifier,
		Title:       resp.Data.Issue.Title,
		Description: resp.Data.Issue.Description,
		Priority:    resp.Data.Issue.Priority,
		State:       resp.Data.Issue.State.Name,
	}
	if resp.Data.Issue.Assignee != nil {
		issue.Assignee = resp.Data.Issue.Assignee.Name
	}
	for _, label := range resp.Data.Issue.Labels.Nodes {
		issue.Labels = append(issue.Labels, label.Name)
	}
	return issue, nil
}

const commentMutation = `mutation CommentCreate($issueId: String!, $body: String!) {
  commentCreate(input: {issueId: $issueId, body: $body}) {
    success
  }
}`

// CommentOnIssue posts a comment on the issue. A nil client is a no-op.
func (c *Client) CommentOnIssue(ctx context.Context, issueID, body string) error {
	if c == nil {
		return nil
	}

	var resp struct {
		Data struct {
			CommentCreate struct {
				Success bool `json:"success"`
			} `json:"commentCreate"`
		} `json:"data"`
	}
	if err := c.query(ctx, commentMutation, map[string]any{"issueId": issueID, "body": body}, &resp); err != nil {
		return fmt.Errorf("comment on issue %s: %w", issueID, err)
	}
	if !resp.Data.CommentCreate.Success {
		return fmt.Errorf("tracker rejected comment on issue %s", issueID)
	}
	return nil
}

const updateStateMutation = `mutation UpdateIssue($id: String!, $stateId: String!) {
  issueUpdate(id: $id, input: {stateId: $stateId}) {
    success
  }
}`

// UpdateIssueState moves the issue to the given workflow state. A nil
// client is a no-op.
func (c *Client) UpdateIssueState(ctx context.Context, issueID, stateID string) error {
	if c == nil {
		return nil
	}

	var resp struct {
		Data struct {
			IssueUpdate struct {
				Success bool `json:"success"`
			} `json:"issueUpdate"`
		} `json:"data"`
	}
	if err := c.query(ctx, updateStateMutation, map[string]any{"id": issueID, "stateId": stateID}, &resp); err != nil {
		return fmt.Errorf("update issue %s: %w", issueID, err)
	}
	if !resp.Data.IssueUpdate.Success {
		return fmt.Errorf("tracker rejected state update for issue %s", issueID)
	}
	return nil
}

func (c *Client) query(ctx context.Context, query string, variables map[string]any, out any) error {
	payload, err := json.Marshal(map[string]any{"query": query, "variables": variables})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tracker returned HTTP %d: %s", resp.StatusCode, body)
	}
	return json.Unmarshal(body, out)
}
