package config

import (
	"fmt"
	"strings"
	"time"
)

// MaxRetryCap bounds llm.max_retries; transient faults get at most this many
// extra attempts per request.
const MaxRetryCap = 2

// ValidProviders lists all supported LLM providers.
var ValidProviders = []string{"openai", "anthropic", "gemini", "xai", "openrouter", "scripted"}

// LLMConfig configures the model gateway.
type LLMConfig struct {
	Provider string `yaml:"provider"` // openai, anthropic, gemini, xai, openrouter, scripted
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"` // empty = provider default
	Timeout  string `yaml:"timeout"`  // overall deadline per request, retries included

	// MaxTokens bounds the generated response size.
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`

	// MaxRetries is the number of extra attempts after a transient failure (<= 2).
	MaxRetries      int    `yaml:"max_retries"`
	RetryBackoff    string `yaml:"retry_backoff"`
	RetryBackoffMax string `yaml:"retry_backoff_max"`

	// RateLimit is the maximum outbound calls per second; 0 disables limiting.
	RateLimit float64 `yaml:"rate_limit"`

	// Script holds canned responses for the scripted provider (dry runs).
	Script []string `yaml:"script,omitempty"`
}

// GetTimeout returns the gateway deadline as a duration.
func (c LLMConfig) GetTimeout() time.Duration {
	return parseDuration(c.Timeout, 30*time.Second)
}

// GetRetryBackoff returns the base backoff between attempts.
func (c LLMConfig) GetRetryBackoff() time.Duration {
	return parseDuration(c.RetryBackoff, 500*time.Millisecond)
}

// GetRetryBackoffMax returns the backoff ceiling.
func (c LLMConfig) GetRetryBackoffMax() time.Duration {
	return parseDuration(c.RetryBackoffMax, 4*time.Second)
}

// GetMaxRetries clamps MaxRetries into [0, MaxRetryCap].
func (c LLMConfig) GetMaxRetries() int {
	switch {
	case c.MaxRetries < 0:
		return 0
	case c.MaxRetries > MaxRetryCap:
		return MaxRetryCap
	default:
		return c.MaxRetries
	}
}

func (c LLMConfig) validate() error {
	validProvider := false
	for _, p := range ValidProviders {
		if c.Provider == p {
			validProvider = true
			break
		}
	}
	if !validProvider {
		return fmt.Errorf("invalid LLM provider: %s (valid: %v)", c.Provider, ValidProviders)
	}

	if c.Provider != "scripted" && c.APIKey == "" {
		return fmt.Errorf("LLM API key not configured (set OPENAI_API_KEY, ANTHROPIC_API_KEY, GEMINI_API_KEY, XAI_API_KEY or OPENROUTER_API_KEY)")
	}
	if c.Provider == "scripted" && len(c.Script) == 0 {
		return fmt.Errorf("scripted provider requires llm.script responses")
	}
	if strings.TrimSpace(c.Model) == "" && c.Provider != "scripted" {
		return fmt.Errorf("LLM model not configured")
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("llm.max_tokens must be positive, got %d", c.MaxTokens)
	}
	if c.MaxRetries > MaxRetryCap {
		return fmt.Errorf("llm.max_retries must be <= %d, got %d", MaxRetryCap, c.MaxRetries)
	}
	if c.Timeout != "" {
		if d, err := time.ParseDuration(c.Timeout); err != nil || d <= 0 {
			return fmt.Errorf("llm.timeout must be a positive duration, got %q", c.Timeout)
		}
	}
	return nil
}
