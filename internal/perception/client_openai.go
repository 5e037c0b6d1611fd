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

// OpenAIClient implements LLMClient for the OpenAI chat completions API and
// compatible endpoints (xAI, OpenRouter).
type OpenAIClient struct {
	provider   Provider
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// DefaultOpenAIConfig returns sensible defaults.
func DefaultOpenAIConfig(apiKey string) OpenAIConfig {
	return OpenAIConfig{
		Provider: ProviderOpenAI,
		APIKey:   apiKey,
		BaseURL:  OpenAIBaseURL,
		Timeout:  30 * time.Second,
	}
}

// NewOpenAIClient creates a new OpenAI client.
func NewOpenAIClient(apiKey string) *OpenAIClient {
	return NewOpenAIClientWithConfig(DefaultOpenAIConfig(apiKey))
}

// NewOpenAIClientWithConfig creates a new OpenAI-compatible client with custom config.
func NewOpenAIClientWithConfig(config OpenAIConfig) *OpenAIClient {
	if config.Provider == "" {
		config.Provider = ProviderOpenAI
	}
	if config.BaseURL == "" {
		config.BaseURL = OpenAIBaseURL
	}
	return &OpenAIClient{
		provider:   config.Provider,
		apiKey:     config.APIKey,
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		httpClient: newHTTPClient(config.Timeout),
	}
}

// Name implements LLMClient.
func (c *OpenAIClient) Name() string {
	return string(c.provider)
}

// Generate performs one /chat/completions call.
func (c *OpenAIClient) Generate(ctx context.Context, req types.LLMRequest) (string, error) {
	if c.apiKey == "" {
		logging.PerceptionError("[%s] Generate: API key not configured", c.provider)
		return "", fmt.Errorf("%s: API key missing: %w", c.provider, ErrNotConfigured)
	}

	startTime := time.Now()
	logging.PerceptionDebug("[%s] Generate: model=%s messages=%d max_tokens=%d", c.provider, req.Model, len(req.Messages), req.MaxTokens)

	messages := make([]OpenAIMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, OpenAIMessage{Role: string(m.Role), Content: m.Content})
	}
	reqBody := OpenAIRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	body, err := postJSON(ctx, c.httpClient, string(c.provider), c.baseURL+"/chat/completions",
		map[string]string{"Authorization": "Bearer " + c.apiKey}, reqBody)
	if err != nil {
		return "", err
	}

	var openaiResp OpenAIResponse
	if err := json.Unmarshal(body, &openaiResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %v: %w", err, ErrMalformedEnvelope)
	}
	if openaiResp.Error != nil {
		return "", fmt.Errorf("API error: %s: %w", openaiResp.Error.Message, ErrMalformedEnvelope)
	}
	if len(openaiResp.Choices) == 0 {
		return "", fmt.Errorf("no completion returned: %w", ErrMalformedEnvelope)
	}

	response := openaiResp.Choices[0].Message.Content
	logging.Perception("[%s] Generate: completed in %v response_len=%d", c.provider, time.Since(startTime), len(response))
	return response, nil
}
