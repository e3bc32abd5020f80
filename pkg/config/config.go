// Package config provides configuration for the autodev change engine.
// The Config is loaded once at startup, validated, and passed by injection;
// components never read configuration from the environment themselves.
package config

import (
	"fmt"
	"time"
)

// Secret names resolved through the secrets file or environment.
const (
	SecretGitHubToken     = "GITHUB_TOKEN"
	SecretAnthropicAPIKey = "ANTHROPIC_API_KEY"
	SecretOpenAIAPIKey    = "OPENAI_API_KEY"
	SecretGeminiAPIKey    = "GEMINI_API_KEY"
	SecretTrackerAPIKey   = "TRACKER_API_KEY"
)

// Supported LLM providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderOllama    = "ollama"
)

// Config is the root configuration for the engine.
type Config struct {
	Workspace WorkspaceConfig `yaml:"workspace"`
	Git       GitConfig       `yaml:"git"`
	LLM       LLMConfig       `yaml:"llm"`
	Approval  ApprovalConfig  `yaml:"approval"`
	Chat      ChatConfig      `yaml:"chat"`
	Tracker   TrackerConfig   `yaml:"tracker"`
	Storage   StorageConfig   `yaml:"storage"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Server    ServerConfig    `yaml:"server"`
}

// WorkspaceConfig controls the sandbox workspace pool.
type WorkspaceConfig struct {
	// BaseDir is where temporary clones are created. Empty means the
	// system temp directory.
	BaseDir string `yaml:"base_dir"`

	// MaxConcurrent caps simultaneously active workspaces.
	MaxConcurrent int `yaml:"max_concurrent"`

	// CommandTimeoutSeconds bounds every command run inside a workspace.
	CommandTimeoutSeconds int `yaml:"command_timeout_seconds"`

	// TestCommands overrides the verification commands derived from
	// repository analysis. Commands are tried in order.
	TestCommands []string `yaml:"test_commands"`
}

// CommandTimeout returns the per-command timeout as a duration.
func (w *WorkspaceConfig) CommandTimeout() time.Duration {
	return time.Duration(w.CommandTimeoutSeconds) * time.Second
}

// GitConfig controls git identity and branch defaults.
type GitConfig struct {
	UserName   string `yaml:"user_name"`
	UserEmail  string `yaml:"user_email"`
	BaseBranch string `yaml:"base_branch"`

	// DisableDraftPRs opens new pull requests ready for review instead
	// of as drafts.
	DisableDraftPRs bool `yaml:"disable_draft_prs"`
}

// Draft reports whether new pull requests open as drafts.
func (g *GitConfig) Draft() bool {
	return !g.DisableDraftPRs
}

// LLMConfig selects the model provider used for plan and repair generation.
type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`

	// Host is the server URL for the ollama provider.
	Host string `yaml:"host"`
}

// modelPricing is USD per million tokens.
type modelPricing struct {
	InputCPM  float64
	OutputCPM float64
}

// knownModelPricing covers the models the engine is commonly run with.
var knownModelPricing = map[string]modelPricing{
	"claude-sonnet-4-5":        {InputCPM: 3.0, OutputCPM: 15.0},
	"claude-sonnet-4-20250514": {InputCPM: 3.0, OutputCPM: 15.0},
	"claude-opus-4-1":          {InputCPM: 15.0, OutputCPM: 75.0},
	"gpt-4o":                   {InputCPM: 2.5, OutputCPM: 10.0},
	"gpt-5":                    {InputCPM: 20.0, OutputCPM: 60.0},
	"o3":                       {InputCPM: 1.1, OutputCPM: 4.4},
	"o4-mini":                  {InputCPM: 1.1, OutputCPM: 4.4},
	"gemini-2.0-flash":         {InputCPM: 0.10, OutputCPM: 0.40},
	"gemini-2.5-flash":         {InputCPM: 0.30, OutputCPM: 2.50},
}

// CalculateCost estimates USD spend for one completion. Unknown models
// cost zero, so new models work without pricing data.
func CalculateCost(model string, promptTokens, completionTokens int) float64 {
	info, ok := knownModelPricing[model]
	if !ok {
		return 0
	}
	return float64(promptTokens)/1_000_000.0*info.InputCPM +
		float64(completionTokens)/1_000_000.0*info.OutputCPM
}

// ApprovalConfig controls the human approval gate.
type ApprovalConfig struct {
	// SkipApprovals disables the gate entirely.
	SkipApprovals bool `yaml:"skip_approvals"`

	// ProductionMarkers flag repository identifiers that require approval.
	ProductionMarkers []string `yaml:"production_markers"`

	// PrimaryBranchMarkers flag target branch names that require approval.
	PrimaryBranchMarkers []string `yaml:"primary_branch_markers"`

	// SkipClarifications suppresses the pre-plan clarification step.
	SkipClarifications bool `yaml:"skip_clarifications"`
}

// ChatConfig controls progress notifications back to the triggering thread.
type ChatConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	SharePlans bool   `yaml:"share_plans"`
}

// TrackerConfig points at the issue tracker GraphQL endpoint.
type TrackerConfig struct {
	APIURL string `yaml:"api_url"`
}

// StorageConfig locates the sqlite database.
type StorageConfig struct {
	DBPath string `yaml:"db_path"`
}

// MetricsConfig controls Prometheus querying.
type MetricsConfig struct {
	// QueryURL is the Prometheus server queried for per-execution usage
	// summaries. Empty disables usage summaries.
	QueryURL string `yaml:"query_url"`
}

// ServerConfig controls the HTTP trigger server.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// Default values applied by the loader.
const (
	DefaultMaxConcurrent         = 5
	DefaultCommandTimeoutSeconds = 300
	DefaultBaseBranch            = "main"
	DefaultListenAddr            = ":8080"
	DefaultDBPath                = "autodev.db"
	DefaultMaxTokens             = 8192
)

// applyDefaults fills zero values with engine defaults.
func (c *Config) applyDefaults() {
	if c.Workspace.MaxConcurrent == 0 {
		c.Workspace.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.Workspace.CommandTimeoutSeconds == 0 {
		c.Workspace.CommandTimeoutSeconds = DefaultCommandTimeoutSeconds
	}
	if c.Git.BaseBranch == "" {
		c.Git.BaseBranch = DefaultBaseBranch
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = ProviderOpenAI
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = DefaultMaxTokens
	}
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Storage.DBPath == "" {
		c.Storage.DBPath = DefaultDBPath
	}
	if len(c.Approval.ProductionMarkers) == 0 {
		c.Approval.ProductionMarkers = []string{"prod", "production"}
	}
	if len(c.Approval.PrimaryBranchMarkers) == 0 {
		c.Approval.PrimaryBranchMarkers = []string{"main", "master"}
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Workspace.MaxConcurrent < 1 {
		return fmt.Errorf("workspace.max_concurrent must be at least 1, got %d", c.Workspace.MaxConcurrent)
	}
	if c.Workspace.CommandTimeoutSeconds < 1 {
		return fmt.Errorf("workspace.command_timeout_seconds must be positive, got %d", c.Workspace.CommandTimeoutSeconds)
	}
	switch c.LLM.Provider {
	case ProviderAnthropic, ProviderOpenAI, ProviderGoogle, ProviderOllama:
	default:
		return fmt.Errorf("llm.provider %q is not supported", c.LLM.Provider)
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	if c.LLM.Provider == ProviderOllama && c.LLM.Host == "" {
		return fmt.Errorf("llm.host is required for the ollama provider")
	}
	return nil
}
