package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Agent.MaxIterations != 8 {
		t.Errorf("max_iterations = %d, want 8", cfg.Agent.MaxIterations)
	}
	if cfg.Agent.MaxContextTokens != 16000 {
		t.Errorf("max_context_tokens = %d", cfg.Agent.MaxContextTokens)
	}
	if cfg.LLM.Provider.Model == "" {
		t.Error("default model empty")
	}
	if cfg.Logger.Level != "info" {
		t.Errorf("logger level = %q", cfg.Logger.Level)
	}
	if !cfg.LLM.CircuitBreaker.Enabled {
		t.Error("circuit breaker disabled by default")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.MaxIterations != 8 {
		t.Errorf("max_iterations = %d", cfg.Agent.MaxIterations)
	}
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
agent:
  max_iterations: 12
  session_max_age: 1h
llm:
  provider:
    model: gpt-4o
    temperature: 0.2
  circuit_breaker:
    enabled: false
library:
  base_url: https://discovery.example.edu
  vid: MYVID
logger:
  level: debug
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.MaxIterations != 12 {
		t.Errorf("max_iterations = %d, want 12", cfg.Agent.MaxIterations)
	}
	if cfg.Agent.SessionMaxAge != time.Hour {
		t.Errorf("session_max_age = %v", cfg.Agent.SessionMaxAge)
	}
	if cfg.LLM.Provider.Model != "gpt-4o" || cfg.LLM.Provider.Temperature != 0.2 {
		t.Errorf("provider = %+v", cfg.LLM.Provider)
	}
	if cfg.LLM.CircuitBreaker.Enabled {
		t.Error("circuit breaker still enabled after explicit disable")
	}
	if cfg.Library.VID != "MYVID" {
		t.Errorf("vid = %q", cfg.Library.VID)
	}
	if cfg.Logger.Level != "debug" {
		t.Errorf("level = %q", cfg.Logger.Level)
	}
	// Unset fields keep their defaults.
	if cfg.Library.RateLimit != 5 {
		t.Errorf("rate_limit = %v, want default 5", cfg.Library.RateLimit)
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("agent: ["), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("OPENAI_MODEL", "gpt-4o")
	t.Setenv("SCHOLARBOT_LIBRARY_BASE_URL", "https://env.example.edu")
	t.Setenv("SCHOLARBOT_LOGGER_LEVEL", "warn")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.LLM.Provider.APIKey != "sk-env" {
		t.Errorf("api key = %q", cfg.LLM.Provider.APIKey)
	}
	if cfg.LLM.Provider.Model != "gpt-4o" {
		t.Errorf("model = %q", cfg.LLM.Provider.Model)
	}
	if cfg.Library.BaseURL != "https://env.example.edu" {
		t.Errorf("library base_url = %q", cfg.Library.BaseURL)
	}
	if cfg.Logger.Level != "warn" {
		t.Errorf("level = %q", cfg.Logger.Level)
	}
}

func TestEnvDoesNotOverrideExplicitAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")

	cfg := Defaults()
	cfg.LLM.Provider.APIKey = "sk-file"
	ApplyEnvOverrides(cfg)

	if cfg.LLM.Provider.APIKey != "sk-file" {
		t.Errorf("api key = %q, want file value kept", cfg.LLM.Provider.APIKey)
	}
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}

	bad := Defaults()
	bad.Agent.MaxIterations = 0
	if err := Validate(bad); err == nil {
		t.Error("zero max_iterations accepted")
	}

	bad = Defaults()
	bad.LLM.Provider.Model = ""
	if err := Validate(bad); err == nil {
		t.Error("empty model accepted")
	}

	bad = Defaults()
	bad.Tracer.Exporter = "jaeger"
	if err := Validate(bad); err == nil {
		t.Error("unknown exporter accepted")
	}
}
