package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"autodev/pkg/agent/llm"
)

// Finding is one scanner result to remediate. The fields mirror Trivy's
// report schema closely enough to round-trip its JSON output.
type Finding struct {
	ID             string
	Severity       string
	Title          string
	Description    string
	PackageName    string
	CurrentVersion string
	FixedVersion   string
	InstalledPath  string
	Target         string
	Type           string
	References     []string
}

// trivyReport is the subset of Trivy's JSON output we consume.
type trivyReport struct {
	Results []struct {
		Target          string `json:"Target"`
		Class           string `json:"Class"`
		Type            string `json:"Type"`
		Vulnerabilities []struct {
			VulnerabilityID  string   `json:"VulnerabilityID"`
			PkgName          string   `json:"PkgName"`
			PkgPath          string   `json:"PkgPath"`
			InstalledVersion string   `json:"InstalledVersion"`
			FixedVersion     string   `json:"FixedVersion"`
			Severity         string   `json:"Severity"`
			Title            string   `json:"Title"`
			Description      string   `json:"Description"`
			PrimaryURL       string   `json:"PrimaryURL"`
			References       []string `json:"References"`
		} `json:"Vulnerabilities"`
		Misconfigurations []struct {
			ID          string `json:"ID"`
			Title       string `json:"Title"`
			Description string `json:"Description"`
			Message     string `json:"Message"`
			Severity    string `json:"Severity"`
		} `json:"Misconfigurations"`
		Secrets []struct {
			RuleID   string `json:"RuleID"`
			Category string `json:"Category"`
			Severity string `json:"Severity"`
			Title    string `json:"Title"`
			Match    string `json:"Match"`
		} `json:"Secrets"`
	} `json:"Results"`
}

// ParseTrivyJSON extracts findings from a Trivy JSON report.
func ParseTrivyJSON(data []byte) ([]Finding, error) {
	var report trivyReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("parse trivy report: %w", err)
	}

	var findings []Finding
	for _, r := range report.Results {
		class := r.Class
		if class == "" {
			class = r.Type
		}
		if class == "" {
			class = "library"
		}
		for _, v := range r.Vulnerabilities {
			refs := v.References
			if v.PrimaryURL != "" {
				refs = append([]string{v.PrimaryURL}, refs...)
			}
			installedPath := v.PkgPath
			if installedPath == "" {
				installedPath = r.Target
			}
			findings = append(findings, Finding{
				ID:             v.VulnerabilityID,
				Severity:       orUnknown(v.Severity),
				Title:          v.Title,
				Description:    v.Description,
				PackageName:    v.PkgName,
				CurrentVersion: v.InstalledVersion,
				FixedVersion:   v.FixedVersion,
				InstalledPath:  installedPath,
				Target:         r.Target,
				Type:           class,
				References:     refs,
			})
		}
		for _, m := range r.Misconfigurations {
			id := m.ID
			if id == "" {
				id = "MISCONFIG"
			}
			desc := m.Description
			if desc == "" {
				desc = m.Message
			}
			findings = append(findings, Finding{
				ID:            id,
				Severity:      orUnknown(m.Severity),
				Title:         m.Title,
				Description:   desc,
				InstalledPath: r.Target,
				Target:        r.Target,
				Type:          "misconfiguration",
			})
		}
		for _, s := range r.Secrets {
			id := s.RuleID
			if id == "" {
				id = "SECRET"
			}
			findings = append(findings, Finding{
				ID:            id,
				Severity:      orUnknown(s.Severity),
				Title:         s.Title,
				Description:   s.Match,
				PackageName:   s.Category,
				InstalledPath: r.Target,
				Target:        r.Target,
				Type:          "secret",
			})
		}
	}
	return findings, nil
}

var rawFindingPattern = regexp.MustCompile(
	`(?i)(CVE-\d{4}-\d+)\s+(CRITICAL|HIGH|MEDIUM|LOW|UNKNOWN)\s+([A-Za-z0-9._\-]+)\s+([0-9a-zA-Z.\-+]+)(?:\s+fixed\s+in\s+([0-9a-zA-Z.\-+]+))?`)

// ParseTrivyRaw heuristically extracts library findings from raw scanner
// text when no JSON report is available.
func ParseTrivyRaw(logs string) []Finding {
	var findings []Finding
	for _, m := range rawFindingPattern.FindAllStringSubmatch(logs, -1) {
		findings = append(findings, Finding{
			ID:             m[1],
			Severity:       strings.ToUpper(m[2]),
			PackageName:    m[3],
			CurrentVersion: m[4],
			FixedVersion:   m[5],
			Type:           "library",
		})
	}
	return findings
}

func orUnknown(sev string) string {
	if sev == "" {
		return "UNKNOWN"
	}
	return sev
}

const remediationSystemPrompt = `You are a senior security engineer. Produce concrete, minimal remediation plans as valid JSON.`

// Remediation produces an edit plan that fixes the given findings. The
// output schema is identical to Generate's.
func (g *Generator) Remediation(ctx context.Context, description string, findings []Finding, repoContext string) (*EditPlan, error) {
	prompt := buildRemediationPrompt(description, findings, repoContext)

	resp, err := g.client.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.CompletionMessage{
			llm.NewSystemMessage(remediationSystemPrompt),
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
		g.logger.Warn("remediation response is not valid JSON, using fallback parser: %v", parseErr)
		p = ExtractPlanFromText(resp.Content)
	}
	p.Normalize()
	if err := p.Validate(); err != nil {
		return nil, &GenerationError{Stage: "parsing", Err: err}
	}
	return p, nil
}

func buildRemediationPrompt(description string, findings []Finding, repoContext string) string {
	var deps, misconfs, secrets []string
	for _, f := range findings {
		switch f.Type {
		case "misconfiguration":
			misconfs = append(misconfs, fmt.Sprintf("%s at %s [%s]", titleOrID(f), location(f), f.Severity))
		case "secret":
			secrets = append(secrets, fmt.Sprintf("%s at %s [%s]", titleOrID(f), location(f), f.Severity))
		default:
			if f.PackageName != "" {
				fixed := f.FixedVersion
				if fixed == "" {
					fixed = "latest secure"
				}
				deps = append(deps, fmt.Sprintf("%s %s -> %s", f.PackageName, f.CurrentVersion, fixed))
			}
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "TASK: %s\n\n", description)
	b.WriteString(`Given security scanner findings and the repository context, produce a remediation plan as JSON with the schema:

{
  "summary": "High-level summary of changes",
  "file_changes": [
    {
      "path": "relative/path",
      "type": "modify|create|delete",
      "content": "FULL desired file content after change",
      "reasoning": "why this change fixes the issue"
    }
  ],
  "dependencies": []
}

Rules:
- Prefer updating Python dependencies in requirements.txt or constraints files.
- If the repository uses uv (pyproject.toml and/or uv.lock present), update dependencies in pyproject.toml instead of requirements.txt. Do NOT include uv.lock in file_changes; it is regenerated by 'uv lock'.
- Keep other versions pinned; bump minimally to the secure fixed version where provided.
- If a Dockerfile base image needs updating, update FROM to a patched tag.
- Do NOT commit secrets. Replace plaintext secrets with environment variables or placeholders.
- Preserve existing formatting and non-security content.
- Only include files that exist or make sense for this repository type.

`)
	fmt.Fprintf(&b, "Findings to address (dependencies):\n%s\n\n", bulleted(deps))
	fmt.Fprintf(&b, "Misconfigurations to address:\n%s\n\n", bulleted(misconfs))
	fmt.Fprintf(&b, "Secrets to address:\n%s\n\n", bulleted(secrets))
	fmt.Fprintf(&b, "REPOSITORY ANALYSIS:\n%s\n", repoContext)
	return b.String()
}

func titleOrID(f Finding) string {
	if f.Title != "" {
		return f.Title
	}
	return f.ID
}

func location(f Finding) string {
	if f.InstalledPath != "" {
		return f.InstalledPath
	}
	return f.Target
}

func bulleted(items []string) string {
	if len(items) == 0 {
		return "- None"
	}
	var b strings.Builder
	for _, item := range items {
		fmt.Fprintf(&b, "- %s\n", item)
	}
	return strings.TrimRight(b.String(), "\n")
}

// RemediationCommitMessage builds a conventional-commit message with a
// severity breakdown for the findings being fixed.
func RemediationCommitMessage(description string, findings []Finding) string {
	counts := make(map[string]int)
	for _, f := range findings {
		counts[f.Severity]++
	}
	sevs := make([]string, 0, len(counts))
	for sev := range counts {
		sevs = append(sevs, sev)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(sevs)))
	parts := make([]string, 0, len(sevs))
	for _, sev := range sevs {
		parts = append(parts, fmt.Sprintf("%s:%d", sev, counts[sev]))
	}
	return fmt.Sprintf("chore(security): %s [%s]", description, strings.Join(parts, ", "))
}

// UnresolvedFindings returns findings the plan does not appear to touch.
// A finding counts as resolved when a planned path matches its location,
// or when a requirements or Dockerfile edit plausibly covers its class.
func UnresolvedFindings(findings []Finding, p *EditPlan) []Finding {
	paths := make([]string, 0, len(p.FileChanges))
	for _, fc := range p.FileChanges {
		paths = append(paths, strings.ToLower(fc.Path))
	}

	resolved := func(f Finding) bool {
		loc := strings.ToLower(location(f))
		for _, path := range paths {
			if path == "" {
				continue
			}
			if loc != "" && (strings.Contains(loc, path) || strings.Contains(path, loc)) {
				return true
			}
			if strings.Contains(path, "requirements") && (f.Type == "library" || f.Type == "lang-pkgs" || f.PackageName != "") {
				return true
			}
			if strings.Contains(path, "dockerfile") && (f.Type == "os-pkgs" || f.Type == "library" || strings.Contains(loc, "dockerfile")) {
				return true
			}
		}
		return false
	}

	var unresolved []Finding
	for _, f := range findings {
		if !resolved(f) {
			unresolved = append(unresolved, f)
		}
	}
	return unresolved
}
