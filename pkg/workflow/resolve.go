package workflow

import (
	"context"
	"fmt"
	"strings"

	"autodev/pkg/agent/llm"
	"autodev/pkg/metrics"
	"autodev/pkg/persistence"
	"autodev/pkg/profiler"
	"autodev/pkg/workspace"
)

// ResolveRequest asks for actionable review comments on a PR to be
// addressed with code changes.
type ResolveRequest struct {
	RepoURL  string
	PRNumber int
	ThreadID string
}

// ResolveResult summarizes a comment resolution run. Unresolved holds
// the group keys whose fixes could not be produced or committed.
type ResolveResult struct {
	ExecutionID string
	Addressed   int
	Skipped     int
	Unresolved  []string
}

// ResolveComments clones the PR's head branch, collects actionable
// review and top-level comments, groups them by file, asks the model
// for a fix per group, commits each group separately, replies to the
// handled inline comments, and pushes once at the end. Groups that
// fail are recorded and skipped; the rest still land.
func (o *Orchestrator) ResolveComments(ctx context.Context, req ResolveRequest) (*ResolveResult, error) {
	executionID := CommentsExecutionID(req.ThreadID, req.PRNumber)
	record := &persistence.Execution{
		ID:           executionID,
		WorkflowType: TypeResolveComments,
		RepoURL:      req.RepoURL,
		PRNumber:     req.PRNumber,
		ThreadID:     req.ThreadID,
		Status:       StatusPending,
	}
	if err := o.store.CreateExecution(record); err != nil {
		return nil, fmt.Errorf("failed to register execution %s: %w", executionID, err)
	}
	o.setStatus(executionID, StatusInProgress, "")
	o.notifier.Acknowledge(ctx, req.ThreadID, executionID)

	result, err := o.runResolve(llm.WithExecutionID(ctx, executionID), executionID, req)
	if err != nil {
		return nil, o.fail(ctx, executionID, req.ThreadID, TypeResolveComments, err)
	}
	o.setStatus(executionID, StatusCompleted, "")
	metrics.RecordWorkflowRun(TypeResolveComments, StatusCompleted)
	return result, nil
}

func (o *Orchestrator) runResolve(ctx context.Context, executionID string, req ResolveRequest) (*ResolveResult, error) {
	host, err := o.hostFor(req.RepoURL)
	if err != nil {
		return nil, err
	}

	pr, err := host.GetPR(ctx, prRef(req.PRNumber))
	if err != nil {
		return nil, err
	}

	reviewComments, err := host.GetReviewComments(ctx, req.PRNumber)
	if err != nil {
		return nil, err
	}
	issueComments, err := host.GetIssueComments(ctx, req.PRNumber)
	if err != nil {
		return nil, err
	}

	actionable := FilterActionable(reviewComments, issueComments)
	skipped := len(reviewComments) + len(issueComments) - len(actionable)
	if len(actionable) == 0 {
		o.notifier.Post(ctx, req.ThreadID, fmt.Sprintf("No actionable comments found on PR #%d.", req.PRNumber))
		return &ResolveResult{ExecutionID: executionID, Skipped: skipped}, nil
	}

	ws, err := o.workspaces.Acquire(ctx, req.RepoURL, workspace.Options{
		Branch: pr.HeadRefName,
	})
	if err != nil {
		return nil, err
	}
	defer o.release(ws)

	profile, err := profiler.Analyze(ws.Path())
	if err != nil {
		return nil, fmt.Errorf("repository analysis failed: %w", err)
	}
	repoContext := profiler.ContextSummary(ws.Path(), profile, o.cfg.LLM.MaxTokens/2)

	groups, order := GroupByFile(actionable)
	var unresolved []string
	addressed := 0
	commitsMade := 0

	for _, key := range order {
		group := groups[key]
		handled, err := o.resolveGroup(ctx, ws, key, group, repoContext)
		if err != nil {
			o.logger.Warn("could not address comments for %s on PR #%d: %v", key, req.PRNumber, err)
			unresolved = append(unresolved, key)
			continue
		}
		if !handled {
			unresolved = append(unresolved, key)
			continue
		}
		commitsMade++
		addressed += len(group)
		for _, c := range group {
			if c.ReviewID == 0 {
				continue
			}
			reply := fmt.Sprintf("Addressed in this branch: %s", firstLine(c.Body))
			if err := host.ReplyToReviewComment(ctx, req.PRNumber, c.ReviewID, reply); err != nil {
				o.logger.Warn("failed to reply to comment %d: %v", c.ReviewID, err)
			}
		}
	}

	if commitsMade > 0 {
		if err := ws.Push(ctx); err != nil {
			return nil, err
		}
	}

	summary := resolutionSummary(addressed, skipped, unresolved)
	if err := host.CommentOnPR(ctx, prRef(req.PRNumber), summary); err != nil {
		o.logger.Warn("failed to post resolution summary on PR #%d: %v", req.PRNumber, err)
	}
	o.notifier.Post(ctx, req.ThreadID, fmt.Sprintf("Addressed %d comment(s) on PR #%d.", addressed, req.PRNumber))

	return &ResolveResult{
		ExecutionID: executionID,
		Addressed:   addressed,
		Skipped:     skipped,
		Unresolved:  unresolved,
	}, nil
}

// resolveGroup produces and commits a fix for one comment group.
// Returns false when the model produced no usable change.
func (o *Orchestrator) resolveGroup(ctx context.Context, ws *workspace.Workspace, key string, group []ActionableComment, repoContext string) (bool, error) {
	bodies := make([]string, 0, len(group))
	for _, c := range group {
		if c.Line > 0 {
			bodies = append(bodies, fmt.Sprintf("(line %d) %s", c.Line, c.Body))
		} else {
			bodies = append(bodies, c.Body)
		}
	}

	filePath := key
	fileContent := ""
	if key == GeneralGroup {
		filePath = ""
	} else {
		content, err := ws.ReadFile(key)
		if err != nil {
			return false, fmt.Errorf("commented file %s is not in the checkout: %w", key, err)
		}
		fileContent = content
	}

	p, err := o.planner.CommentFixes(ctx, filePath, fileContent, bodies, repoContext)
	if err != nil {
		return false, err
	}
	if len(p.FileChanges) == 0 {
		return false, nil
	}

	for _, fc := range p.FileChanges {
		if err := ws.WriteFile(fc.Path, fc.Content); err != nil {
			return false, err
		}
	}

	message := "Address general PR feedback"
	if key != GeneralGroup {
		message = fmt.Sprintf("Address comments in %s", key)
	}
	if err := ws.CommitAll(ctx, message); err != nil {
		return false, err
	}
	return true, nil
}

func resolutionSummary(addressed, skipped int, unresolved []string) string {
	var b strings.Builder
	b.WriteString("## 🤖 Comment Resolution\n\n")
	fmt.Fprintf(&b, "Addressed %d actionable comment(s); %d comment(s) needed no action.\n", addressed, skipped)
	if len(unresolved) > 0 {
		b.WriteString("\nCould not automatically address:\n")
		for _, key := range unresolved {
			fmt.Fprintf(&b, "- `%s`\n", key)
		}
	}
	return b.String()
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	if len(s) > 80 {
		s = s[:77] + "..."
	}
	return s
}
