// Package agent wires LLM provider clients behind the llm.LLMClient
// interface and adds bounded retry on classified errors.
package agent

import (
	"fmt"

	"autodev/pkg/agent/internal/llmimpl/anthropic"
	"autodev/pkg/agent/internal/llmimpl/google"
	"autodev/pkg/agent/internal/llmimpl/ollama"
	"autodev/pkg/agent/internal/llmimpl/openai"
	"autodev/pkg/agent/llm"
	"autodev/pkg/config"
)

// NewClient constructs the LLM client for the configured provider.
// API keys resolve through the secrets layer.
func NewClient(cfg *config.LLMConfig) (llm.LLMClient, error) {
	switch cfg.Provider {
	case config.ProviderAnthropic:
		apiKey, err := config.GetSecret(config.SecretAnthropicAPIKey)
		if err != nil {
			return nil, fmt.Errorf("anthropic provider: %w", err)
		}
		return anthropic.NewClaudeClientWithModel(apiKey, cfg.Model), nil

	case config.ProviderOpenAI:
		apiKey, err := config.GetSecret(config.SecretOpenAIAPIKey)
		if err != nil {
			return nil, fmt.Errorf("openai provider: %w", err)
		}
		return openai.NewClientWithModel(apiKey, cfg.Model), nil

	case config.ProviderGoogle:
		apiKey, err := config.GetSecret(config.SecretGeminiAPIKey)
		if err != nil {
			return nil, fmt.Errorf("google provider: %w", err)
		}
		return google.NewGeminiClientWithModel(apiKey, cfg.Model), nil

	case config.ProviderOllama:
		return ollama.NewClientWithModel(cfg.Host, cfg.Model), nil

	default:
		return nil, fmt.Errorf("unknown LLM provider: %s", cfg.Provider)
	}
}
