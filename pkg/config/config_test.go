package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
llm:
  provider: openai
  model: gpt-4o
`))
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Workspace.MaxConcurrent)
	assert.Equal(t, 300, cfg.Workspace.CommandTimeoutSeconds)
	assert.Equal(t, "main", cfg.Git.BaseBranch)
	assert.Equal(t, DefaultListenAddr, cfg.Server.ListenAddr)
	assert.Contains(t, cfg.Approval.ProductionMarkers, "production")
	assert.Contains(t, cfg.Approval.PrimaryBranchMarkers, "master")
}

func TestParseEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_CHAT_WEBHOOK", "https://hooks.example.com/T123")

	cfg, err := Parse([]byte(`
llm:
  provider: anthropic
  model: claude-sonnet-4-5
chat:
  webhook_url: ${TEST_CHAT_WEBHOOK}
`))
	require.NoError(t, err)
	assert.Equal(t, "https://hooks.example.com/T123", cfg.Chat.WebhookURL)
}

func TestParseRejectsBadProvider(t *testing.T) {
	_, err := Parse([]byte(`
llm:
  provider: cohere
  model: command-r
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider")
}

func TestParseRejectsOllamaWithoutHost(t *testing.T) {
	_, err := Parse([]byte(`
llm:
  provider: ollama
  model: qwen3:8b
`))
	require.Error(t, err)
}

func TestValidateBounds(t *testing.T) {
	cfg := DefaultConfig(ProviderOpenAI, "gpt-4o")
	cfg.Workspace.MaxConcurrent = 0
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig(ProviderOpenAI, "gpt-4o")
	cfg.Workspace.CommandTimeoutSeconds = -1
	require.Error(t, cfg.Validate())
}

func TestGetSecretPrecedence(t *testing.T) {
	t.Setenv("AUTODEV_TEST_SECRET", "from-env")
	defer SetDecryptedSecrets(nil)

	SetDecryptedSecrets(map[string]string{"AUTODEV_TEST_SECRET": "from-file"})
	v, err := GetSecret("AUTODEV_TEST_SECRET")
	require.NoError(t, err)
	assert.Equal(t, "from-file", v)

	SetDecryptedSecrets(nil)
	v, err = GetSecret("AUTODEV_TEST_SECRET")
	require.NoError(t, err)
	assert.Equal(t, "from-env", v)

	_, err = GetSecret("AUTODEV_MISSING_SECRET")
	require.Error(t, err)
}

func TestSecretsFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	secrets := map[string]string{
		SecretGitHubToken:  "ghp_test",
		SecretOpenAIAPIKey: "sk-test",
	}

	require.NoError(t, EncryptSecretsFile(dir, "hunter2", secrets))
	require.True(t, SecretsFileExists(dir))

	info, err := os.Stat(dir + "/.autodev/secrets.json.enc")
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	got, err := DecryptSecretsFile(dir, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, secrets, got)

	_, err = DecryptSecretsFile(dir, "wrong")
	require.Error(t, err)
}

func TestCalculateCost(t *testing.T) {
	// 1M prompt tokens of claude-sonnet-4-5 cost $3, 1M completion $15.
	cost := CalculateCost("claude-sonnet-4-5", 1_000_000, 1_000_000)
	assert.InDelta(t, 18.0, cost, 1e-9)

	cost = CalculateCost("gpt-4o", 100_000, 10_000)
	assert.InDelta(t, 0.35, cost, 1e-9)

	assert.Zero(t, CalculateCost("some-new-model", 1000, 1000))
}
