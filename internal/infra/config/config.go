package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Agent   AgentConfig   `yaml:"agent"`
	LLM     LLMConfig     `yaml:"llm"`
	Library LibraryConfig `yaml:"library"`
	Logger  LoggerConfig  `yaml:"logger"`
	Tracer  TracerConfig  `yaml:"tracer"`
}

// AgentConfig holds agent loop settings.
type AgentConfig struct {
	// MaxIterations bounds the model/tool loop per turn. Past the bound the
	// turn force-terminates into a "please rephrase" reply.
	MaxIterations int `yaml:"max_iterations"`
	// SystemPrompt overrides the built-in research assistant prompt.
	SystemPrompt string `yaml:"system_prompt"`
	// MaxContextTokens is the request-side token budget for history
	// truncation. 0 uses the default (16000).
	MaxContextTokens int `yaml:"max_context_tokens"`
	// SessionMaxAge is the idle age past which the reaper evicts sessions.
	SessionMaxAge time.Duration `yaml:"session_max_age"`
}

// LLMConfig holds LLM provider settings.
type LLMConfig struct {
	Provider       ProviderConfig       `yaml:"provider"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ProviderConfig holds settings for the LLM provider.
type ProviderConfig struct {
	Name        string        `yaml:"name"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	RespTimeout time.Duration `yaml:"resp_timeout"`
	Pool        PoolConfig    `yaml:"pool"`
}

// PoolConfig holds HTTP connection pool settings for the LLM provider.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// CircuitBreakerConfig holds circuit breaker settings for the LLM provider.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// LibraryConfig holds discovery API client settings.
type LibraryConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	VID     string        `yaml:"vid"`
	Tab     string        `yaml:"tab"`
	Scope   string        `yaml:"scope"`
	Timeout time.Duration `yaml:"timeout"`
	// RateLimit is the sustained request rate against the API; Burst is the
	// momentary allowance. Zero values use the defaults (5 rps, burst 10).
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// Defaults returns a Config populated with default values.
func Defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			MaxIterations:    8,
			MaxContextTokens: 16000,
			SessionMaxAge:    24 * time.Hour,
		},
		LLM: LLMConfig{
			Provider: ProviderConfig{
				Name:        "openai",
				BaseURL:     "https://api.openai.com/v1",
				Model:       "gpt-4o-mini",
				Temperature: 0.7,
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled: true,
			},
		},
		Library: LibraryConfig{
			Timeout:   15 * time.Second,
			RateLimit: 5,
			Burst:     10,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Exporter: "noop",
		},
	}
}

// Load reads the YAML config at path, applies env overrides, and validates.
// A missing file is not an error; defaults plus env overrides are used.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps environment variables to config fields. API keys are
// normally supplied this way rather than through the YAML file.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.LLM.Provider.APIKey == "" {
		cfg.LLM.Provider.APIKey = v
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		cfg.LLM.Provider.Model = v
	}
	if v := os.Getenv("SCHOLARBOT_LLM_BASE_URL"); v != "" {
		cfg.LLM.Provider.BaseURL = v
	}
	if v := os.Getenv("SCHOLARBOT_LIBRARY_BASE_URL"); v != "" {
		cfg.Library.BaseURL = v
	}
	if v := os.Getenv("SCHOLARBOT_LIBRARY_API_KEY"); v != "" {
		cfg.Library.APIKey = v
	}
	if v := os.Getenv("SCHOLARBOT_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("SCHOLARBOT_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("SCHOLARBOT_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
}

// Validate checks config invariants that would otherwise fail at call time.
func Validate(cfg *Config) error {
	if cfg.Agent.MaxIterations <= 0 {
		return fmt.Errorf("agent.max_iterations must be > 0, got %d", cfg.Agent.MaxIterations)
	}
	if cfg.LLM.Provider.Model == "" {
		return fmt.Errorf("llm.provider.model must be set")
	}
	if cfg.Library.RateLimit < 0 {
		return fmt.Errorf("library.rate_limit must be >= 0, got %v", cfg.Library.RateLimit)
	}
	switch cfg.Tracer.Exporter {
	case "", "noop", "stdout":
	default:
		return fmt.Errorf("tracer.exporter must be noop or stdout, got %q", cfg.Tracer.Exporter)
	}
	return nil
}
