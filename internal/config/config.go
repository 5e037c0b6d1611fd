package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is looked up in the working directory when --config is not given.
const DefaultConfigFile = "pupper.yaml"

// Config holds all pupper configuration. It is loaded once at startup and
// treated as read-only afterwards.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// LLM configuration
	LLM LLMConfig `yaml:"llm"`

	// Message bus topics and transport
	Bus BusConfig `yaml:"bus"`

	// Translation node behavior
	Node NodeConfig `yaml:"node"`

	// Diagnostic record persistence
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`

	// Prometheus endpoint
	Metrics MetricsConfig `yaml:"metrics"`

	// OpenTelemetry tracing
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// DiagnosticsConfig configures where failure diagnostics are stored.
type DiagnosticsConfig struct {
	// DatabasePath of the SQLite diagnostics store. Empty disables persistence;
	// diagnostics are then only logged.
	DatabasePath string `yaml:"database_path"`
}

// MetricsConfig configures the admin HTTP endpoint (/metrics, /healthz, /readyz).
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	// TranslateLimit caps POST /v1/translate per client IP per minute.
	TranslateLimit int `yaml:"translate_limit"`
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"` // grpc, http
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Environment  string  `yaml:"environment"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "pupper",
		Version: "0.3.0",

		LLM: LLMConfig{
			Provider:        "openai",
			Model:           "gpt-4o-mini",
			BaseURL:         "",
			Timeout:         "30s",
			MaxTokens:       150,
			Temperature:     0,
			MaxRetries:      2,
			RetryBackoff:    "500ms",
			RetryBackoffMax: "4s",
			RateLimit:       10,
		},

		Bus: BusConfig{
			Driver:        "redis",
			Addr:          "localhost:6379",
			InboundTopic:  "user_query_topic",
			OutboundTopic: "gpt4_response_topic",
			FailureTopic:  "",
		},

		Node: NodeConfig{
			Workers:         1,
			EmptySequence:   "reject",
			FallbackMessage: DefaultFallbackMessage,
		},

		Diagnostics: DiagnosticsConfig{
			DatabasePath: "",
		},

		Metrics: MetricsConfig{
			Enabled:        false,
			Addr:           ":9464",
			TranslateLimit: 60,
		},

		Telemetry: TelemetryConfig{
			Enabled:      false,
			Exporter:     "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
			Environment:  "development",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a YAML file.
// A missing file yields the defaults (with environment overrides applied).
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	// LLM API key from environment. An explicit provider in the file wins;
	// otherwise the first key found selects the provider.
	providerKeys := []struct {
		env      string
		provider string
	}{
		{"OPENAI_API_KEY", "openai"},
		{"ANTHROPIC_API_KEY", "anthropic"},
		{"GEMINI_API_KEY", "gemini"},
		{"XAI_API_KEY", "xai"},
		{"OPENROUTER_API_KEY", "openrouter"},
	}
	for _, pk := range providerKeys {
		if c.LLM.Provider == pk.provider {
			if key := os.Getenv(pk.env); key != "" && c.LLM.APIKey == "" {
				c.LLM.APIKey = key
			}
		}
	}
	if c.LLM.APIKey == "" {
		for _, pk := range providerKeys {
			if key := os.Getenv(pk.env); key != "" {
				c.LLM.APIKey = key
				c.LLM.Provider = pk.provider
				break
			}
		}
	}

	if model := os.Getenv("PUPPER_MODEL"); model != "" {
		c.LLM.Model = model
	}
	if v := os.Getenv("PUPPER_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.LLM.MaxTokens = n
		}
	}
	if addr := os.Getenv("PUPPER_REDIS_ADDR"); addr != "" {
		c.Bus.Addr = addr
	}
	if pw := os.Getenv("PUPPER_REDIS_PASSWORD"); pw != "" {
		c.Bus.Password = pw
	}
	if path := os.Getenv("PUPPER_DIAGNOSTICS_DB"); path != "" {
		c.Diagnostics.DatabasePath = path
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var problems []string

	if err := c.LLM.validate(); err != nil {
		problems = append(problems, err.Error())
	}
	if err := c.Bus.validate(); err != nil {
		problems = append(problems, err.Error())
	}
	if err := c.Node.validate(); err != nil {
		problems = append(problems, err.Error())
	}
	if err := c.Logging.validate(); err != nil {
		problems = append(problems, err.Error())
	}
	if c.Telemetry.Enabled {
		switch c.Telemetry.Exporter {
		case "grpc", "http":
		default:
			problems = append(problems, fmt.Sprintf("invalid telemetry exporter: %q (valid: grpc, http)", c.Telemetry.Exporter))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// parseDuration parses s, returning fallback when s is empty or invalid.
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
