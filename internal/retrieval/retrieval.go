// Package retrieval abstracts the web/LLM retrieval backend behind a small
// Provider interface with three implementations: an OpenAI-wire-compatible
// client (the default, pointed at Perplexity), Anthropic, and Google.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrMissingAPIKey is returned by provider constructors when the selected
// backend has no credential configured. Callers treat this as "connector
// disabled", not as a failure.
var ErrMissingAPIKey = errors.New("retrieval: api key not configured")

// Provider is the interface for retrieval backends.
type Provider interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int, temperature float64) (string, error)
}

// Config selects and configures a backend.
type Config struct {
	Provider string // "openai-compatible" (default), "anthropic", "google"
	Model    string
	APIKey   string // openai-compatible only; anthropic/google read their own env
	BaseURL  string // openai-compatible only
}

// NewProvider is the factory for creating retrieval providers. It is a
// package-level variable so tests can replace it with a mock without
// modifying the call site. Tests must restore the original value; use
// t.Cleanup to do so safely.
var NewProvider func(cfg Config) (Provider, error) = defaultNewProvider

func defaultNewProvider(cfg Config) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai-compatible", "perplexity", "":
		return newOpenAICompatProvider(cfg)
	case "anthropic":
		return newAnthropicProvider(cfg.Model)
	case "google":
		return newGoogleProvider(cfg.Model)
	default:
		return nil, fmt.Errorf("retrieval: unknown provider %q", cfg.Provider)
	}
}
