package plan

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autodev/pkg/agent/llm"
)

// cannedClient returns fixed responses in sequence.
type cannedClient struct {
	responses []string
	calls     int
}

func (c *cannedClient) Complete(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
	if c.calls >= len(c.responses) {
		return llm.CompletionResponse{}, assert.AnError
	}
	resp := llm.CompletionResponse{Content: c.responses[c.calls], StopReason: "end_turn"}
	c.calls++
	return resp, nil
}

func (c *cannedClient) GetModelName() string { return "canned" }

const validPlanJSON = `{
  "summary": "Add a health endpoint",
  "file_changes": [
    {"path": "app.py", "type": "modify", "content": "from flask import Flask\n", "reasoning": "add route"}
  ],
  "test_files": [
    {"path": "tests/test_health.py", "content": "def test_health():\n    pass\n", "framework": "pytest"}
  ],
  "dependencies": [
    {"name": "flask", "version": "3.0.0", "type": "production"}
  ]
}`

func TestGenerateParsesStructuredResponse(t *testing.T) {
	gen := NewGenerator(&cannedClient{responses: []string{validPlanJSON}})

	p, err := gen.Generate(context.Background(), Request{
		Description: "add a health endpoint",
		RepoContext: "Primary Language: python",
	})
	require.NoError(t, err)

	assert.Equal(t, "Add a health endpoint", p.Summary)
	require.Len(t, p.FileChanges, 1)
	assert.Equal(t, "app.py", p.FileChanges[0].Path)
	assert.Equal(t, ChangeModify, p.FileChanges[0].Type)
	require.Len(t, p.TestFiles, 1)
	require.Len(t, p.Dependencies, 1)
	assert.Equal(t, "flask", p.Dependencies[0].Name)
}

func TestGenerateStripsCodeFence(t *testing.T) {
	fenced := "```json\n" + validPlanJSON + "\n```"
	gen := NewGenerator(&cannedClient{responses: []string{fenced}})

	p, err := gen.Generate(context.Background(), Request{Description: "x"})
	require.NoError(t, err)
	assert.Len(t, p.FileChanges, 1)
}

func TestGenerateFallsBackOnInvalidJSON(t *testing.T) {
	text := "Here is my plan.\n\nFile: src/app.js\n```\nconsole.log('hi')\n```\nDone.\n"
	gen := NewGenerator(&cannedClient{responses: []string{text}})

	p, err := gen.Generate(context.Background(), Request{Description: "x"})
	require.NoError(t, err)

	require.Len(t, p.FileChanges, 1)
	assert.Equal(t, "src/app.js", p.FileChanges[0].Path)
	assert.Equal(t, ChangeModify, p.FileChanges[0].Type)
	assert.Equal(t, "console.log('hi')", p.FileChanges[0].Content)
}

func TestGenerateErrorsWhenNothingRecoverable(t *testing.T) {
	gen := NewGenerator(&cannedClient{responses: []string{"I cannot help with that."}})

	_, err := gen.Generate(context.Background(), Request{Description: "x"})
	require.Error(t, err)
	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, "parsing", genErr.Stage)
	assert.ErrorIs(t, err, ErrEmptyPlan)
}

func TestNormalizeDropsMalformedEntries(t *testing.T) {
	p := &EditPlan{
		FileChanges: []FileChange{
			{Path: "", Content: "orphan"},
			{Path: "ok.py", Content: "x"},
		},
		TestFiles: []TestFile{{Path: ""}},
	}
	p.Normalize()

	require.Len(t, p.FileChanges, 1)
	assert.Equal(t, ChangeModify, p.FileChanges[0].Type)
	assert.Empty(t, p.TestFiles)
	assert.NotNil(t, p.Dependencies)
}

func TestValidateRejectsUnknownChangeType(t *testing.T) {
	p := &EditPlan{FileChanges: []FileChange{{Path: "a.py", Type: "rename"}}}
	assert.Error(t, p.Validate())
}

func TestIsRequirementsFile(t *testing.T) {
	cases := map[string]bool{
		"requirements.txt":          true,
		"requirements-dev.txt":      true,
		"requirements-test.txt":     true,
		"constraints.txt":           true,
		"sub/dir/requirements.txt":  true,
		"pyproject.toml":            false,
		"requirements.md":           false,
		"src/app.py":                false,
	}
	for path, want := range cases {
		assert.Equal(t, want, IsRequirementsFile(path), path)
	}
}

func TestSuppressRequirementsEdits(t *testing.T) {
	p := &EditPlan{FileChanges: []FileChange{
		{Path: "requirements.txt", Type: ChangeModify},
		{Path: "pyproject.toml", Type: ChangeModify},
		{Path: "app.py", Type: ChangeModify},
	}}

	suppressed := p.SuppressRequirementsEdits()

	assert.Equal(t, []string{"requirements.txt"}, suppressed)
	require.Len(t, p.FileChanges, 2)
	assert.Equal(t, "pyproject.toml", p.FileChanges[0].Path)
}

func TestExtractQuestions(t *testing.T) {
	content := `Some preamble.
- Should the endpoint require authentication?
* What response format do you expect?
Is versioning needed?
Not a question line
- q4?
- q5?
- q6?`

	questions := ExtractQuestions(content)
	assert.Len(t, questions, 5)
	assert.Equal(t, "Should the endpoint require authentication?", questions[0])
}

func TestClarificationsDegradeOnError(t *testing.T) {
	gen := NewGenerator(&cannedClient{})
	assert.Nil(t, gen.Clarifications(context.Background(), "do a thing", ""))
}
