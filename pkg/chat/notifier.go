package chat

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
	"autodev/pkg/plan"
)

// Notifier posts workflow progress messages to a chat webhook. All
// methods are safe on a nil notifier, so running without a webhook
// configured just silences the updates.
type Notifier struct {
	webhookURL string
	scanner    SecretScanner
	http       *http.Client
	logger     *logx.Logger
}

// NewNotifier creates a notifier. An empty webhook URL yields nil.
func NewNotifier(webhookURL string) *Notifier {
	if webhookURL == "" {
		return nil
	}
	return &Notifier{
		webhookURL: webhookURL,
		scanner:    NewPatternScanner(2000),
		http:       &http.Client{Timeout: 15 * time.Second},
		logger:     logx.NewLogger("chat"),
	}
}

// message is the webhook payload. ThreadID lets the chat integration
// thread replies under the originating request.
type message struct {
	ThreadID string `json:"thread_id,omitempty"`
	Text     string `json:"text"`
}

// Post sends a message to the webhook, redacting secrets first.
func (n *Notifier) Post(ctx context.Context, threadID, text string) error {
	if n == nil {
		return nil
	}

	redacted, err := RedactSecrets(ctx, n.scanner, text)
	if err != nil {
		n.logger.Warn("secret scan failed, sending original text: %v", err)
	}

	payload, err := json.Marshal(message{ThreadID: threadID, Text: redacted})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.http.Do(req)
	if err != nil {
		return fmt.Errorf("post to webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// Acknowledge tells the requester their change request was picked up.
func (n *Notifier) Acknowledge(ctx context.Context, threadID, executionID string) error {
	return n.Post(ctx, threadID, fmt.Sprintf("On it. Tracking this request as `%s`.", executionID))
}

// SharePlan posts the generated plan summary for visibility.
func (n *Notifier) SharePlan(ctx context.Context, threadID string, p *plan.EditPlan) error {
	if n == nil {
		return nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "*Implementation plan*\n%s\n", p.Summary)
	if len(p.FileChanges) > 0 {
		b.WriteString("\nFiles:\n")
		for _, fc := range p.FileChanges {
			fmt.Fprintf(&b, "• %s (%s)\n", fc.Path, fc.Type)
		}
	}
	if len(p.Dependencies) > 0 {
		b.WriteString("\nDependencies:\n")
		for _, dep := range p.Dependencies {
			fmt.Fprintf(&b, "• %s %s\n", dep.Name, dep.Version)
		}
	}
	return n.Post(ctx, threadID, b.String())
}

// AskClarifications posts the clarification questions for the request.
func (n *Notifier) AskClarifications(ctx context.Context, threadID string, questions []string) error {
	if n == nil || len(questions) == 0 {
		return nil
	}
	var b strings.Builder
	b.WriteString("A few questions before I start:\n")
	for _, q := range questions {
		fmt.Fprintf(&b, "• %s\n", q)
	}
	return n.Post(ctx, threadID, b.String())
}

// RequestApproval asks for a human decision on the execution.
func (n *Notifier) RequestApproval(ctx context.Context, threadID, executionID, repoURL, branch, reason string) error {
	return n.Post(ctx, threadID, fmt.Sprintf(
		":rotating_light: *Approval required* (%s)\nRepository: %s\nBranch: %s\nExecution: `%s`\nReply with `approve %s` or `reject %s`.",
		reason, repoURL, branch, executionID, executionID, executionID))
}

// AnnouncePR posts the final PR link and test outcome.
func (n *Notifier) AnnouncePR(ctx context.Context, threadID, prURL, testSummary string) error {
	text := fmt.Sprintf("Done: %s", prURL)
	if testSummary != "" {
		text += "\nTests: " + testSummary
	}
	return n.Post(ctx, threadID, text)
}

// ReportFailure posts a terminal failure for the execution.
func (n *Notifier) ReportFailure(ctx context.Context, threadID, executionID string, failure error) error {
	return n.Post(ctx, threadID, fmt.Sprintf("Request `%s` failed: %v", executionID, failure))
}
