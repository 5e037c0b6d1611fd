package perception

import (
	"fmt"

	"pupper/internal/config"
)

// NewClientFromConfig creates the provider client selected by cfg.Provider.
func NewClientFromConfig(cfg config.LLMConfig) (LLMClient, error) {
	timeout := cfg.GetTimeout()

	switch Provider(cfg.Provider) {
	case ProviderOpenAI, ProviderXAI, ProviderOpenRouter:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = defaultBaseURL(Provider(cfg.Provider))
		}
		return NewOpenAIClientWithConfig(OpenAIConfig{
			Provider: Provider(cfg.Provider),
			APIKey:   cfg.APIKey,
			BaseURL:  baseURL,
			Timeout:  timeout,
		}), nil
	case ProviderAnthropic:
		ac := DefaultAnthropicConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			ac.BaseURL = cfg.BaseURL
		}
		ac.Timeout = timeout
		return NewAnthropicClientWithConfig(ac), nil
	case ProviderGemini:
		return NewGeminiClientWithConfig(GeminiConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Timeout: timeout,
		}), nil
	case ProviderScripted:
		if len(cfg.Script) == 0 {
			return nil, fmt.Errorf("scripted provider has no script: %w", ErrNotConfigured)
		}
		return NewScriptedClient(cfg.Script...).Loop(), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}

func defaultBaseURL(p Provider) string {
	switch p {
	case ProviderXAI:
		return XAIBaseURL
	case ProviderOpenRouter:
		return OpenRouterBaseURL
	default:
		return OpenAIBaseURL
	}
}
