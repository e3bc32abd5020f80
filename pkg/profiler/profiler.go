// Package profiler inspects a repository checkout and produces a
// deterministic technology profile: languages, frameworks, build and test
// tooling, and entry points. Profiling is pure; it never executes
// repository code.
package profiler

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"autodev/pkg/utils"
)

// LanguageStats aggregates per-language file and line counts.
type LanguageStats struct {
	FileCount int
	LineCount int
}

// Profile describes a repository's technology stack.
type Profile struct {
	PrimaryLanguage string
	Languages       map[string]LanguageStats
	Frameworks      []string
	BuildTools      []string
	TestFrameworks  []string
	EntryPoints     []string
	ConfigFiles     []string
	FileCount       int
	TotalLines      int
}

// languageExtensions maps language buckets to their file extensions.
var languageExtensions = map[string][]string{
	"python":     {".py", ".pyx", ".pyi"},
	"javascript": {".js", ".jsx", ".mjs", ".cjs"},
	"typescript": {".ts", ".tsx"},
	"java":       {".java"},
	"go":         {".go"},
	"rust":       {".rs"},
	"c++":        {".cpp", ".cc", ".cxx", ".hpp"},
	"c":          {".c", ".h"},
	"php":        {".php"},
	"ruby":       {".rb"},
	"swift":      {".swift"},
	"kotlin":     {".kt", ".kts"},
	"scala":      {".scala"},
	"dart":       {".dart"},
	"shell":      {".sh", ".bash", ".zsh"},
}

// frameworkIndicators maps frameworks to marker paths; any one present
// flags the framework.
var frameworkIndicators = map[string][]string{
	"react":   {"src/App.jsx", "src/App.tsx"},
	"vue":     {"src/App.vue", "vue.config.js"},
	"angular": {"angular.json", "src/app/app.module.ts"},
	"django":  {"manage.py"},
	"flask":   {"app.py"},
	"fastapi": {"main.py"},
	"express": {"server.js"},
	"nextjs":  {"next.config.js"},
	"spring":  {"pom.xml", "src/main/java"},
	"rails":   {"Gemfile", "config/application.rb"},
}

// buildToolMarkers maps marker files to the build tool they indicate.
var buildToolMarkers = map[string]string{
	"package.json":     "npm",
	"yarn.lock":        "yarn",
	"pnpm-lock.yaml":   "pnpm",
	"requirements.txt": "pip",
	"Pipfile":          "pipenv",
	"poetry.lock":      "poetry",
	"uv.lock":          "uv",
	"pyproject.toml":   "pyproject",
	"Cargo.toml":       "cargo",
	"go.mod":           "go modules",
	"pom.xml":          "maven",
	"build.gradle":     "gradle",
	"Makefile":         "make",
	"CMakeLists.txt":   "cmake",
}

// testFrameworkMarkers maps test frameworks to marker paths.
var testFrameworkMarkers = map[string][]string{
	"jest":    {"jest.config.js"},
	"pytest":  {"pytest.ini", "conftest.py"},
	"mocha":   {".mocharc.yml", "mocha.opts"},
	"jasmine": {"jasmine.json"},
}

// entryPointNames are common application entry files checked at the root
// and under src/.
var entryPointNames = []string{
	"main.py", "app.py", "server.py", "index.py",
	"main.js", "app.js", "server.js", "index.js",
	"main.ts", "app.ts", "server.ts", "index.ts",
	"Main.java", "Application.java",
	"main.go",
	"main.rs",
}

var skippedDirs = map[string]bool{
	"node_modules": true,
	"__pycache__":  true,
	"venv":         true,
	"env":          true,
	"build":        true,
	"dist":         true,
	"target":       true,
}

// Analyze profiles the repository at repoPath. The result is
// deterministic: identical trees produce identical profiles.
func Analyze(repoPath string) (*Profile, error) {
	if info, err := os.Stat(repoPath); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("repository path %s is not a directory", repoPath)
	}

	p := &Profile{
		Languages: make(map[string]LanguageStats),
	}

	if err := walkFiles(repoPath, p); err != nil {
		return nil, err
	}
	detectFrameworks(repoPath, p)
	detectBuildTools(repoPath, p)
	detectTestFrameworks(repoPath, p)
	findEntryPoints(repoPath, p)
	p.PrimaryLanguage = primaryLanguage(p.Languages)

	return p, nil
}

func walkFiles(repoPath string, p *Profile) error {
	extToLang := make(map[string]string)
	for lang, exts := range languageExtensions {
		for _, ext := range exts {
			// .h is shared between c and c++; first registration by sorted
			// language name wins so the mapping is stable.
			if existing, ok := extToLang[ext]; !ok || lang < existing {
				extToLang[ext] = lang
			}
		}
	}

	return filepath.WalkDir(repoPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // Unreadable entries are skipped, not fatal
		}
		name := d.Name()
		if d.IsDir() {
			if path != repoPath && (strings.HasPrefix(name, ".") || skippedDirs[name]) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}

		lines, err := countLines(path)
		if err != nil {
			return nil //nolint:nilerr
		}
		p.FileCount++
		p.TotalLines += lines

		if lang, ok := extToLang[strings.ToLower(filepath.Ext(name))]; ok {
			stats := p.Languages[lang]
			stats.FileCount++
			stats.LineCount += lines
			p.Languages[lang] = stats
		}
		return nil
	})
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lines := 0
	for scanner.Scan() {
		lines++
	}
	return lines, nil
}

func detectFrameworks(repoPath string, p *Profile) {
	for _, fw := range sortedKeys(frameworkIndicators) {
		for _, indicator := range frameworkIndicators[fw] {
			if pathExists(filepath.Join(repoPath, indicator)) {
				p.Frameworks = append(p.Frameworks, fw)
				break
			}
		}
	}
}

func detectBuildTools(repoPath string, p *Profile) {
	for _, marker := range sortedKeys(buildToolMarkers) {
		if pathExists(filepath.Join(repoPath, marker)) {
			p.BuildTools = append(p.BuildTools, buildToolMarkers[marker])
			p.ConfigFiles = append(p.ConfigFiles, marker)
		}
	}
	sort.Strings(p.BuildTools)
}

func detectTestFrameworks(repoPath string, p *Profile) {
	for _, fw := range sortedKeys(testFrameworkMarkers) {
		for _, indicator := range testFrameworkMarkers[fw] {
			if pathExists(filepath.Join(repoPath, indicator)) {
				p.TestFrameworks = append(p.TestFrameworks, fw)
				break
			}
		}
	}
}

func findEntryPoints(repoPath string, p *Profile) {
	for _, name := range entryPointNames {
		if pathExists(filepath.Join(repoPath, name)) {
			p.EntryPoints = append(p.EntryPoints, name)
		}
	}
	for _, name := range entryPointNames {
		if pathExists(filepath.Join(repoPath, "src", name)) {
			p.EntryPoints = append(p.EntryPoints, "src/"+name)
		}
	}
}

// primaryLanguage picks the language with the most files, breaking ties
// alphabetically for determinism.
func primaryLanguage(languages map[string]LanguageStats) string {
	best := ""
	bestCount := 0
	for _, lang := range sortedKeys(languages) {
		if languages[lang].FileCount > bestCount {
			best = lang
			bestCount = languages[lang].FileCount
		}
	}
	return best
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// excerptLines is how much of each entry point goes into the LLM context.
const excerptLines = 20

// keyConfigFiles are included verbatim in context when small.
var keyConfigFiles = []string{"package.json", "requirements.txt", "pyproject.toml", "Cargo.toml", "go.mod"}

// ContextSummary renders the profile plus key file excerpts as grounding
// text for plan generation, bounded to maxTokens.
func ContextSummary(repoPath string, p *Profile, maxTokens int) string {
	var b strings.Builder

	langs := sortedKeys(p.Languages)
	b.WriteString("Repository Analysis:\n")
	fmt.Fprintf(&b, "- Primary Language: %s\n", p.PrimaryLanguage)
	fmt.Fprintf(&b, "- Languages: %s\n", strings.Join(langs, ", "))
	fmt.Fprintf(&b, "- Frameworks: %s\n", strings.Join(p.Frameworks, ", "))
	fmt.Fprintf(&b, "- Build Tools: %s\n", strings.Join(p.BuildTools, ", "))
	fmt.Fprintf(&b, "- Test Frameworks: %s\n", strings.Join(p.TestFrameworks, ", "))
	fmt.Fprintf(&b, "- Entry Points: %s\n", strings.Join(p.EntryPoints, ", "))
	b.WriteString("\nKey Files:\n")

	for _, name := range keyConfigFiles {
		content, err := os.ReadFile(filepath.Join(repoPath, name))
		if err != nil || len(content) >= 2000 {
			continue
		}
		fmt.Fprintf(&b, "\n--- %s ---\n%s\n", name, content)
	}

	entries := p.EntryPoints
	if len(entries) > 3 {
		entries = entries[:3]
	}
	for _, entry := range entries {
		excerpt, err := headLines(filepath.Join(repoPath, entry), excerptLines)
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "\n--- %s (first %d lines) ---\n%s", entry, excerptLines, excerpt)
	}

	text := b.String()
	if maxTokens > 0 {
		counter, err := utils.NewTokenCounter()
		if err == nil {
			text = counter.TruncateToTokenLimit(text, maxTokens)
		}
	}
	return text
}

func headLines(path string, n int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var b strings.Builder
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for i := 0; i < n && scanner.Scan(); i++ {
		b.WriteString(scanner.Text())
		b.WriteByte('\n')
	}
	return b.String(), nil
}
