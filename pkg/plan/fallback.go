package plan

import "strings"

// ExtractPlanFromText recovers a plan from a markdown-style response
// when strict JSON parsing fails. It pairs "File:" or "Path:" header
// lines with the code block that follows them; everything else is
// ignored.
func ExtractPlanFromText(content string) *EditPlan {
	var (
		changes     []FileChange
		currentFile string
		current     []string
		inCodeBlock bool
	)

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "```"):
			if inCodeBlock && currentFile != "" {
				changes = append(changes, FileChange{
					Path:      currentFile,
					Type:      ChangeModify,
					Content:   strings.Join(current, "\n"),
					Reasoning: "extracted from unstructured response",
				})
				current = nil
				currentFile = ""
			}
			inCodeBlock = !inCodeBlock
		case inCodeBlock:
			current = append(current, line)
		case strings.HasPrefix(trimmed, "File:"), strings.HasPrefix(trimmed, "Path:"):
			parts := strings.SplitN(trimmed, ":", 2)
			currentFile = strings.TrimSpace(parts[1])
		}
	}

	return &EditPlan{
		Summary:     "plan recovered from unstructured model output",
		FileChanges: changes,
	}
}
