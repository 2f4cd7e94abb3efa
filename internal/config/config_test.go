package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := Default()
	if cfg.Engine.Default != "anthropic" {
		t.Fatalf("engine default = %q", cfg.Engine.Default)
	}
	if cfg.Engine.Anthropic.Model == "" {
		t.Fatal("default anthropic model is empty")
	}
	if cfg.Session.DesiredResponseTokens != 450 {
		t.Fatalf("desired response tokens = %d, want 450", cfg.Session.DesiredResponseTokens)
	}
	if cfg.Session.RetryAttempts != 1 {
		t.Fatalf("retry attempts = %d, want 1", cfg.Session.RetryAttempts)
	}
}

func TestLoadFromFileAndEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[engine]
default = "anthropic"

[engine.anthropic]
api_key = "file-key"
model = "file-model"
max_context_size = 100000

[engine.anthropic.retry]
max_retries = 7
base_delay = "100ms"
max_delay = "2s"

[session]
system_prompt = "file prompt"
desired_response_tokens = 300
retry_attempts = 2
transcripts_dir = "/tmp/transcripts"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("ANTHROPIC_API_KEY", "env-key")
	t.Setenv("RONDO_ANTHROPIC_MODEL", "env-model")
	t.Setenv("RONDO_SESSION_RETRY_ATTEMPTS", "5")

	cfg, err := Load(LoadOptions{Path: path})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Environment wins over the file.
	if cfg.Engine.Anthropic.APIKey != "env-key" {
		t.Fatalf("api key = %q, want env-key", cfg.Engine.Anthropic.APIKey)
	}
	if cfg.Engine.Anthropic.Model != "env-model" {
		t.Fatalf("model = %q, want env-model", cfg.Engine.Anthropic.Model)
	}
	if cfg.Session.RetryAttempts != 5 {
		t.Fatalf("retry attempts = %d, want 5", cfg.Session.RetryAttempts)
	}

	// File wins over defaults where the environment is silent.
	if cfg.Engine.Anthropic.MaxContextSize != 100000 {
		t.Fatalf("max context size = %d, want 100000", cfg.Engine.Anthropic.MaxContextSize)
	}
	if cfg.Engine.Anthropic.Retry.MaxRetries != 7 {
		t.Fatalf("retry max_retries = %d, want 7", cfg.Engine.Anthropic.Retry.MaxRetries)
	}
	if cfg.Session.SystemPrompt != "file prompt" {
		t.Fatalf("system prompt = %q", cfg.Session.SystemPrompt)
	}
	if cfg.Session.DesiredResponseTokens != 300 {
		t.Fatalf("desired response tokens = %d, want 300", cfg.Session.DesiredResponseTokens)
	}
	if cfg.TranscriptsDir() != "/tmp/transcripts" {
		t.Fatalf("transcripts dir = %q", cfg.TranscriptsDir())
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.toml")

	cfg, err := Load(LoadOptions{Path: path})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Engine.Default != "anthropic" {
		t.Fatalf("engine default = %q", cfg.Engine.Default)
	}
}

func TestAnthropicSettingsParsesRetryDurations(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Engine.Anthropic.APIKey = "key"
	cfg.Engine.Anthropic.Retry.BaseDelay = "250ms"
	cfg.Engine.Anthropic.Retry.MaxDelay = "3s"

	settings, err := cfg.AnthropicSettings()
	if err != nil {
		t.Fatalf("AnthropicSettings() error = %v", err)
	}
	if settings.Retry.BaseDelay != 250*time.Millisecond {
		t.Fatalf("base delay = %v", settings.Retry.BaseDelay)
	}
	if settings.Retry.MaxDelay != 3*time.Second {
		t.Fatalf("max delay = %v", settings.Retry.MaxDelay)
	}
}

func TestAnthropicSettingsRejectsInvalidDuration(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Engine.Anthropic.Retry.BaseDelay = "soon"

	if _, err := cfg.AnthropicSettings(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("AnthropicSettings() error = %v, want ErrInvalidConfig", err)
	}
}

func TestValidateRejectsNegativeDesiredTokens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[session]
desired_response_tokens = -1
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(LoadOptions{Path: path}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Load() error = %v, want ErrInvalidConfig", err)
	}
}

func TestLoadRejectsBadEnvInteger(t *testing.T) {
	t.Setenv("RONDO_SESSION_RETRY_ATTEMPTS", "many")

	if _, err := Load(LoadOptions{Path: filepath.Join(t.TempDir(), "none.toml")}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Load() error = %v, want ErrInvalidConfig", err)
	}
}
