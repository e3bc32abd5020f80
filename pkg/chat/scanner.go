// Package chat posts workflow progress to a chat webhook, with secret
// scanning applied to every outgoing message.
package chat

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// SecretScanner checks text for secrets before it leaves the process.
type SecretScanner interface {
	// Scan returns the redacted text and whether any redactions occurred.
	Scan(ctx context.Context, text string) (redactedText string, hadRedactions bool, err error)
}

// PatternScanner is a simple pattern-based secret scanner.
type PatternScanner struct {
	patterns []*regexp.Regexp
	timeout  time.Duration
}

// NewPatternScanner creates a scanner with the default patterns.
func NewPatternScanner(timeoutMs int) *PatternScanner {
	return &PatternScanner{
		patterns: compileDefaultPatterns(),
		timeout:  time.Duration(timeoutMs) * time.Millisecond,
	}
}

func compileDefaultPatterns() []*regexp.Regexp {
	patterns := []string{
		// OpenAI API keys
		`sk-[A-Za-z0-9]{48}`,
		`sk-proj-[A-Za-z0-9_-]{48,}`,

		// Anthropic API keys
		`sk-ant-[A-Za-z0-9_-]{95,}`,

		// Gemini API keys
		`AIza[A-Za-z0-9_-]{35}`,

		// Linear API keys
		`lin_api_[A-Za-z0-9]{40,}`,

		// AWS Access Keys
		`AKIA[0-9A-Z]{16}`,

		// GitHub tokens
		`ghp_[A-Za-z0-9]{36}`,
		`gho_[A-Za-z0-9]{36}`,
		`ghu_[A-Za-z0-9]{36}`,
		`ghs_[A-Za-z0-9]{36}`,
		`ghr_[A-Za-z0-9]{36}`,
		`github_pat_[A-Za-z0-9_]{22,}`,

		// Credentials embedded in clone URLs
		`https://x-access-token:[^@\s]+@`,
		`https://[^/@\s:]+:[^@\s]+@`,

		// Generic API key patterns
		`api[_-]?key[_-]?[:=]\s*['\"]?[A-Za-z0-9_-]{20,}['\"]?`,

		// Bearer tokens
		`Bearer\s+[A-Za-z0-9_-]{20,}`,

		// Private keys (PEM format)
		`-----BEGIN\s+(?:RSA|DSA|EC|OPENSSH|PGP)\s+PRIVATE\s+KEY-----`,
	}

	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		re, err := regexp.Compile(pattern)
		if err == nil {
			compiled = append(compiled, re)
		}
	}

	return compiled
}

// Scan checks the text for secrets and redacts them.
func (s *PatternScanner) Scan(ctx context.Context, text string) (string, bool, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	hadRedactions := false
	redactedText := text

	for _, pattern := range s.patterns {
		select {
		case <-ctx.Done():
			return "", false, fmt.Errorf("context cancelled during pattern matching: %w", ctx.Err())
		default:
		}

		matches := pattern.FindAllStringIndex(redactedText, -1)
		if len(matches) > 0 {
			hadRedactions = true

			// Replace matches from end to start to preserve indices.
			for i := len(matches) - 1; i >= 0; i-- {
				start, end := matches[i][0], matches[i][1]
				redactedText = redactedText[:start] + "[redacted]" + redactedText[end:]
			}
		}
	}

	return redactedText, hadRedactions, nil
}

// RedactSecrets applies redaction and appends a note when anything was
// removed. Scanner errors fail open and return the original text.
func RedactSecrets(ctx context.Context, scanner SecretScanner, text string) (string, error) {
	redacted, hadRedactions, err := scanner.Scan(ctx, text)
	if err != nil {
		return text, fmt.Errorf("secret scanner error: %w", err)
	}

	if hadRedactions {
		note := " (Note: content redacted by scanner)"
		if !strings.HasSuffix(redacted, note) {
			redacted += note
		}
	}

	return redacted, nil
}
