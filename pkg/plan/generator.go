package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"autodev/pkg/agent/llm"
	"autodev/pkg/logx"
)

const planSystemPrompt = `You are a senior software architect and full-stack developer with expertise in multiple programming languages and frameworks.

CRITICAL INSTRUCTIONS:
1. Always analyze the repository structure and technology stack FIRST
2. Use the CORRECT programming language and framework for the project
3. Follow existing code patterns and conventions
4. Provide complete, working code that fits the project structure
5. Return valid JSON format as specified
6. Never suggest changes in the wrong programming language

Your response must be valid JSON that can be parsed.`

const clarifySystemPrompt = `Generate specific clarification questions for software development tasks.`

// Generator produces edit plans from change requests via an LLM.
type Generator struct {
	client llm.LLMClient
	logger *logx.Logger
}

// NewGenerator creates a plan generator backed by the given client.
func NewGenerator(client llm.LLMClient) *Generator {
	return &Generator{
		client: client,
		logger: logx.NewLogger("plan"),
	}
}

// Request carries the inputs for plan generation.
type Request struct {
	// Description is the natural-language change request.
	Description string
	// RepoContext is the profiler's analysis and file excerpts.
	RepoContext string
	// IssueContext is optional tracker issue title and body.
	IssueContext string
}

// Generate produces an edit plan for the request. A response that fails
// strict JSON parsing goes through the text fallback extractor; only
// when that also yields nothing is a GenerationError returned.
func (g *Generator) Generate(ctx context.Context, req Request) (*EditPlan, error) {
	prompt := g.buildPrompt(req)

	resp, err := g.client.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.CompletionMessage{
			llm.NewSystemMessage(planSystemPrompt),
			llm.NewUserMessage(prompt),
		},
		MaxTokens:   llm.DefaultMaxTokens,
		Temperature: llm.TemperatureDeterministic,
	})
	if err != nil {
		return nil, &GenerationError{Stage: "completion", Err: err}
	}

	p, parseErr := ParseEditPlan(resp.Content)
	if parseErr != nil {
		g.logger.Warn("plan response is not valid JSON, using fallback parser: %v", parseErr)
		p = ExtractPlanFromText(resp.Content)
	}
	p.Normalize()
	if err := p.Validate(); err != nil {
		return nil, &GenerationError{Stage: "parsing", Err: err}
	}

	g.logger.Info("generated plan with %d file changes, %d test files, %d dependencies",
		len(p.FileChanges), len(p.TestFiles), len(p.Dependencies))
	return p, nil
}

func (g *Generator) buildPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "TASK: %s\n\n", req.Description)
	fmt.Fprintf(&b, "REPOSITORY ANALYSIS:\n%s\n", req.RepoContext)
	if req.IssueContext != "" {
		fmt.Fprintf(&b, "\nISSUE CONTEXT:\n%s\n", req.IssueContext)
	}
	b.WriteString(`
IMPORTANT REQUIREMENTS:
1. Use the CORRECT programming language and framework identified in the analysis
2. Follow the existing code patterns and structure
3. Respect the project's architecture and conventions
4. Only suggest changes that make sense for this technology stack

Provide a JSON response with:
{
    "summary": "Brief description of the implementation approach",
    "file_changes": [
        {
            "path": "relative/path/to/file",
            "type": "create|modify|delete",
            "content": "actual file content",
            "reasoning": "why this change is needed"
        }
    ],
    "test_files": [
        {
            "path": "path/to/test/file",
            "content": "test file content",
            "framework": "testing framework to use"
        }
    ],
    "dependencies": [
        {
            "name": "dependency-name",
            "version": "version",
            "type": "production|development"
        }
    ]
}
`)
	return b.String()
}

// Clarifications asks the model for questions that would sharpen an
// ambiguous request. At most five are returned; an LLM failure degrades
// to no questions.
func (g *Generator) Clarifications(ctx context.Context, description, issueContext string) []string {
	var b strings.Builder
	fmt.Fprintf(&b, "Description: %s\n", description)
	if issueContext != "" {
		fmt.Fprintf(&b, "Issue Context: %s\n", issueContext)
	}
	b.WriteString("\nGenerate 3-5 specific questions that would help implement this feature correctly.\n")

	resp, err := g.client.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.CompletionMessage{
			llm.NewSystemMessage(clarifySystemPrompt),
			llm.NewUserMessage(b.String()),
		},
		MaxTokens:   1024,
		Temperature: llm.TemperatureDefault,
	})
	if err != nil {
		g.logger.Warn("clarification generation failed: %v", err)
		return nil
	}
	return ExtractQuestions(resp.Content)
}

// ParseEditPlan strictly parses a model response as an edit plan,
// stripping a surrounding markdown code fence if present.
func ParseEditPlan(content string) (*EditPlan, error) {
	var p EditPlan
	if err := json.Unmarshal([]byte(StripCodeFence(content)), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// StripCodeFence removes a single surrounding ```...``` fence, with or
// without a language tag.
func StripCodeFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

// ExtractQuestions pulls question lines out of free-form model output,
// capped at five.
func ExtractQuestions(content string) []string {
	var questions []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "-"), strings.HasPrefix(line, "*"):
			questions = append(questions, strings.TrimSpace(line[1:]))
		case strings.Contains(line, "?"):
			questions = append(questions, line)
		}
	}
	if len(questions) > 5 {
		questions = questions[:5]
	}
	return questions
}
