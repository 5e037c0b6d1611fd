package types

import (
	"context"
)

// LLMClient defines the interface for LLM providers.
// Implementations perform exactly one provider call per Generate and never retry;
// retry and timeout policy live in the gateway that wraps them.
type LLMClient interface {
	Generate(ctx context.Context, req LLMRequest) (string, error)
	// Name identifies the provider for logs and metrics (e.g. "openai").
	Name() string
}

// LLMRequest is one external model call.
type LLMRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature,omitempty"`
}

// SystemPrompt returns the concatenated content of all system messages.
func (r LLMRequest) SystemPrompt() string {
	return r.joined(RoleSystem)
}

// UserPrompt returns the concatenated content of all user messages.
func (r LLMRequest) UserPrompt() string {
	return r.joined(RoleUser)
}

func (r LLMRequest) joined(role Role) string {
	out := ""
	for _, m := range r.Messages {
		if m.Role != role {
			continue
		}
		if out != "" {
			out += "\n\n"
		}
		out += m.Content
	}
	return out
}
