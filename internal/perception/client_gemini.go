package perception

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"google.golang.org/genai"

	"pupper/internal/logging"
	"pupper/internal/types"
)

// GeminiClient implements LLMClient on the Google GenAI SDK.
type GeminiClient struct {
	apiKey  string
	baseURL string
	timeout time.Duration

	once    sync.Once
	client  *genai.Client
	initErr error
}

// DefaultGeminiConfig returns sensible defaults.
func DefaultGeminiConfig(apiKey string) GeminiConfig {
	return GeminiConfig{
		APIKey:  apiKey,
		Timeout: 30 * time.Second,
	}
}

// NewGeminiClient creates a new Gemini client.
func NewGeminiClient(apiKey string) *GeminiClient {
	return NewGeminiClientWithConfig(DefaultGeminiConfig(apiKey))
}

// NewGeminiClientWithConfig creates a new Gemini client with custom config.
// The SDK client is created lazily on first use.
func NewGeminiClientWithConfig(config GeminiConfig) *GeminiClient {
	return &GeminiClient{
		apiKey:  config.APIKey,
		baseURL: config.BaseURL,
		timeout: config.Timeout,
	}
}

// Name implements LLMClient.
func (c *GeminiClient) Name() string {
	return string(ProviderGemini)
}

func (c *GeminiClient) sdk(ctx context.Context) (*genai.Client, error) {
	c.once.Do(func() {
		cfg := &genai.ClientConfig{
			APIKey:     c.apiKey,
			Backend:    genai.BackendGeminiAPI,
			HTTPClient: newHTTPClient(c.timeout),
		}
		if c.baseURL != "" {
			cfg.HTTPOptions = genai.HTTPOptions{BaseURL: c.baseURL}
		}
		c.client, c.initErr = genai.NewClient(ctx, cfg)
	})
	return c.client, c.initErr
}

// Generate performs one GenerateContent call with the system messages as
// SystemInstruction.
func (c *GeminiClient) Generate(ctx context.Context, req types.LLMRequest) (string, error) {
	if c.apiKey == "" {
		logging.PerceptionError("[Gemini] Generate: API key not configured")
		return "", fmt.Errorf("gemini: API key missing: %w", ErrNotConfigured)
	}

	client, err := c.sdk(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to create GenAI client: %v: %w", err, ErrNotConfigured)
	}

	startTime := time.Now()
	logging.PerceptionDebug("[Gemini] Generate: model=%s max_tokens=%d", req.Model, req.MaxTokens)

	genCfg := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(req.MaxTokens),
		Temperature:     genai.Ptr(float32(req.Temperature)),
	}
	if sys := req.SystemPrompt(); sys != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(sys, genai.RoleUser)
	}

	resp, err := client.Models.GenerateContent(ctx, req.Model, genai.Text(req.UserPrompt()), genCfg)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return "", &APIError{Provider: string(ProviderGemini), StatusCode: apiErr.Code, Body: apiErr.Message}
		}
		return "", fmt.Errorf("GenAI generate failed: %w", err)
	}

	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates returned: %w", ErrMalformedEnvelope)
	}
	response := resp.Text()
	logging.Perception("[Gemini] Generate: completed in %v response_len=%d", time.Since(startTime), len(response))
	return response, nil
}
