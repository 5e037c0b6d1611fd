package perception

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"pupper/internal/logging"
	"pupper/internal/types"
)

// AnthropicClient implements LLMClient for direct Anthropic API.
type AnthropicClient struct {
	apiKey     string
	baseURL    string
	version    string
	httpClient *http.Client
}

// DefaultAnthropicConfig returns sensible defaults.
func DefaultAnthropicConfig(apiKey string) AnthropicConfig {
	return AnthropicConfig{
		APIKey:  apiKey,
		BaseURL: AnthropicBaseURL,
		Timeout: 30 * time.Second,
		Version: "2023-06-01",
	}
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(apiKey string) *AnthropicClient {
	return NewAnthropicClientWithConfig(DefaultAnthropicConfig(apiKey))
}

// NewAnthropicClientWithConfig creates a new Anthropic client with custom config.
func NewAnthropicClientWithConfig(config AnthropicConfig) *AnthropicClient {
	if config.BaseURL == "" {
		config.BaseURL = AnthropicBaseURL
	}
	if config.Version == "" {
		config.Version = "2023-06-01"
	}
	return &AnthropicClient{
		apiKey:     config.APIKey,
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		version:    config.Version,
		httpClient: newHTTPClient(config.Timeout),
	}
}

// Name implements LLMClient.
func (c *AnthropicClient) Name() string {
	return string(ProviderAnthropic)
}

// Generate performs one /messages call. System messages travel in the
// top-level system field.
func (c *AnthropicClient) Generate(ctx context.Context, req types.LLMRequest) (string, error) {
	if c.apiKey == "" {
		logging.PerceptionError("[Anthropic] Generate: API key not configured")
		return "", fmt.Errorf("anthropic: API key missing: %w", ErrNotConfigured)
	}

	startTime := time.Now()
	logging.PerceptionDebug("[Anthropic] Generate: model=%s max_tokens=%d", req.Model, req.MaxTokens)

	messages := make([]AnthropicMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == types.RoleSystem {
			continue
		}
		messages = append(messages, AnthropicMessage{Role: string(m.Role), Content: m.Content})
	}
	reqBody := AnthropicRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		System:      req.SystemPrompt(),
		Messages:    messages,
		Temperature: req.Temperature,
	}

	body, err := postJSON(ctx, c.httpClient, string(ProviderAnthropic), c.baseURL+"/messages",
		map[string]string{
			"x-api-key":         c.apiKey,
			"anthropic-version": c.version,
		}, reqBody)
	if err != nil {
		return "", err
	}

	var anthropicResp AnthropicResponse
	if err := json.Unmarshal(body, &anthropicResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %v: %w", err, ErrMalformedEnvelope)
	}
	if anthropicResp.Error != nil {
		return "", fmt.Errorf("API error: %s: %w", anthropicResp.Error.Message, ErrMalformedEnvelope)
	}

	var result strings.Builder
	found := false
	for _, content := range anthropicResp.Content {
		if content.Type == "text" {
			result.WriteString(content.Text)
			found = true
		}
	}
	if !found {
		return "", fmt.Errorf("no completion returned: %w", ErrMalformedEnvelope)
	}

	response := result.String()
	logging.Perception("[Anthropic] Generate: completed in %v response_len=%d", time.Since(startTime), len(response))
	return response, nil
}
