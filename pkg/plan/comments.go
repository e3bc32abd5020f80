package plan

import (
	"context"
	"fmt"
	"strings"

	"autodev/pkg/agent/llm"
)

const commentFixSystemPrompt = `You are a senior software engineer addressing pull request review feedback.

IMPORTANT:
1. Only change what the comments ask for, preserve everything else
2. Provide complete file content, not just snippets
3. Use the correct file paths relative to repository root
4. Return valid JSON in the same schema as an implementation plan`

// CommentFixes asks the model to address review comments. filePath is
// empty for general PR-level feedback, in which case the model may touch
// any file it names. The output uses the standard plan schema.
func (g *Generator) CommentFixes(ctx context.Context, filePath, fileContent string, comments []string, repoContext string) (*EditPlan, error) {
	var b strings.Builder
	if filePath != "" {
		fmt.Fprintf(&b, "Review comments on %s:\n", filePath)
	} else {
		b.WriteString("General review comments on the pull request:\n")
	}
	for _, c := range comments {
		fmt.Fprintf(&b, "- %s\n", c)
	}
	if filePath != "" && fileContent != "" {
		fmt.Fprintf(&b, "\nCurrent content of %s:\n```\n%s\n```\n", filePath, fileContent)
	}
	fmt.Fprintf(&b, "\nREPOSITORY ANALYSIS:\n%s\n", repoContext)
	b.WriteString(`
Respond with JSON:
{
    "summary": "what was changed and why",
    "file_changes": [
        {"path": "relative/path", "type": "modify", "content": "full file content", "reasoning": "..."}
    ]
}
If the comments need no code change, return an empty file_changes array and explain in summary.
`)

	resp, err := g.client.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.CompletionMessage{
			llm.NewSystemMessage(commentFixSystemPrompt),
			llm.NewUserMessage(b.String()),
		},
		MaxTokens:   llm.DefaultMaxTokens,
		Temperature: llm.TemperatureDeterministic,
	})
	if err != nil {
		return nil, &GenerationError{Stage: "completion", Err: err}
	}

	p, parseErr := ParseEditPlan(resp.Content)
	if parseErr != nil {
		p = ExtractPlanFromText(resp.Content)
	}
	p.Normalize()
	return p, nil
}
