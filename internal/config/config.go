package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	defaultEngineName            = "anthropic"
	defaultAnthropicModel        = "claude-sonnet-4-20250514"
	defaultAnthropicVersion      = "2023-06-01"
	defaultRetryMaxRetries       = 3
	defaultRetryBaseDelay        = "300ms"
	defaultRetryMaxDelay         = "5s"
	defaultDesiredResponseTokens = 450
	defaultRetryAttempts         = 1
	defaultConfigRelativePath    = ".config/rondo/config.toml"

	envEngineDefault         = "RONDO_ENGINE_DEFAULT"
	envAnthropicAPIKey       = "ANTHROPIC_API_KEY"
	envAnthropicModel        = "RONDO_ANTHROPIC_MODEL"
	envAnthropicBaseURL      = "RONDO_ANTHROPIC_BASE_URL"
	envAnthropicVersion      = "RONDO_ANTHROPIC_VERSION"
	envRetryMaxRetries       = "RONDO_ANTHROPIC_RETRY_MAX_RETRIES"
	envRetryBaseDelay        = "RONDO_ANTHROPIC_RETRY_BASE_DELAY"
	envRetryMaxDelay         = "RONDO_ANTHROPIC_RETRY_MAX_DELAY"
	envSystemPrompt          = "RONDO_SYSTEM_PROMPT"
	envRetryAttempts         = "RONDO_SESSION_RETRY_ATTEMPTS"
	envDesiredResponseTokens = "RONDO_SESSION_DESIRED_RESPONSE_TOKENS"
)

var (
	// ErrInvalidConfig indicates malformed configuration input.
	ErrInvalidConfig = errors.New("invalid config")
)

// Config is the application configuration root.
type Config struct {
	Engine  EngineConfig  `toml:"engine"`
	Session SessionConfig `toml:"session"`
}

// EngineConfig configures model backends.
type EngineConfig struct {
	Default   string                `toml:"default"`
	Anthropic AnthropicEngineConfig `toml:"anthropic"`
}

// AnthropicEngineConfig configures Anthropic-specific runtime values.
type AnthropicEngineConfig struct {
	APIKey         string      `toml:"api_key"`
	Model          string      `toml:"model"`
	BaseURL        string      `toml:"base_url"`
	Version        string      `toml:"version"`
	MaxContextSize int         `toml:"max_context_size"`
	TokenReserve   int         `toml:"token_reserve"`
	Retry          RetryConfig `toml:"retry"`
}

// RetryConfig stores transport retry policy as config-friendly values.
type RetryConfig struct {
	MaxRetries int    `toml:"max_retries"`
	BaseDelay  string `toml:"base_delay"`
	MaxDelay   string `toml:"max_delay"`
}

// SessionConfig configures session-level behavior.
type SessionConfig struct {
	SystemPrompt          string `toml:"system_prompt"`
	DesiredResponseTokens int    `toml:"desired_response_tokens"`
	RetryAttempts         int    `toml:"retry_attempts"`
	TranscriptsDir        string `toml:"transcripts_dir"`
}

// LoadOptions controls config loading behavior.
type LoadOptions struct {
	Path string
}

// AnthropicSettings is a validated Anthropic runtime settings snapshot.
type AnthropicSettings struct {
	APIKey         string
	Model          string
	BaseURL        string
	Version        string
	MaxContextSize int
	TokenReserve   int
	Retry          AnthropicRetrySettings
}

// AnthropicRetrySettings is the parsed transport retry policy.
type AnthropicRetrySettings struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Default returns application defaults.
func Default() Config {
	return Config{
		Engine: EngineConfig{
			Default: defaultEngineName,
			Anthropic: AnthropicEngineConfig{
				Model:   defaultAnthropicModel,
				Version: defaultAnthropicVersion,
				Retry: RetryConfig{
					MaxRetries: defaultRetryMaxRetries,
					BaseDelay:  defaultRetryBaseDelay,
					MaxDelay:   defaultRetryMaxDelay,
				},
			},
		},
		Session: SessionConfig{
			DesiredResponseTokens: defaultDesiredResponseTokens,
			RetryAttempts:         defaultRetryAttempts,
		},
	}
}

// Load reads the config file then applies environment variable overrides.
func Load(opts LoadOptions) (Config, error) {
	cfg := Default()

	path := strings.TrimSpace(opts.Path)
	if path == "" {
		path = defaultConfigPath()
	}

	if err := mergeConfigFile(&cfg, path); err != nil {
		return Config{}, err
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// AnthropicSettings returns validated settings suitable for runtime wiring.
func (c Config) AnthropicSettings() (AnthropicSettings, error) {
	baseDelay, err := time.ParseDuration(strings.TrimSpace(c.Engine.Anthropic.Retry.BaseDelay))
	if err != nil {
		return AnthropicSettings{}, fmt.Errorf("%w: parse anthropic retry base_delay: %v", ErrInvalidConfig, err)
	}
	maxDelay, err := time.ParseDuration(strings.TrimSpace(c.Engine.Anthropic.Retry.MaxDelay))
	if err != nil {
		return AnthropicSettings{}, fmt.Errorf("%w: parse anthropic retry max_delay: %v", ErrInvalidConfig, err)
	}
	if c.Engine.Anthropic.Retry.MaxRetries < 0 {
		return AnthropicSettings{}, fmt.Errorf("%w: anthropic retry max_retries must be >= 0", ErrInvalidConfig)
	}
	if c.Engine.Anthropic.MaxContextSize < 0 {
		return AnthropicSettings{}, fmt.Errorf("%w: anthropic max_context_size must be >= 0", ErrInvalidConfig)
	}

	return AnthropicSettings{
		APIKey:         strings.TrimSpace(c.Engine.Anthropic.APIKey),
		Model:          strings.TrimSpace(c.Engine.Anthropic.Model),
		BaseURL:        strings.TrimSpace(c.Engine.Anthropic.BaseURL),
		Version:        strings.TrimSpace(c.Engine.Anthropic.Version),
		MaxContextSize: c.Engine.Anthropic.MaxContextSize,
		TokenReserve:   c.Engine.Anthropic.TokenReserve,
		Retry: AnthropicRetrySettings{
			MaxRetries: c.Engine.Anthropic.Retry.MaxRetries,
			BaseDelay:  baseDelay,
			MaxDelay:   maxDelay,
		},
	}, nil
}

// TranscriptsDir resolves the transcripts directory, defaulting under the
// user's home directory.
func (c Config) TranscriptsDir() string {
	if dir := strings.TrimSpace(c.Session.TranscriptsDir); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".rondo", "transcripts")
	}
	return filepath.Join(home, ".rondo", "transcripts")
}

func mergeConfigFile(cfg *Config, path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if value, ok := os.LookupEnv(envEngineDefault); ok && strings.TrimSpace(value) != "" {
		cfg.Engine.Default = strings.TrimSpace(value)
	}
	if value, ok := os.LookupEnv(envAnthropicAPIKey); ok {
		cfg.Engine.Anthropic.APIKey = value
	}
	if value, ok := os.LookupEnv(envAnthropicModel); ok && strings.TrimSpace(value) != "" {
		cfg.Engine.Anthropic.Model = strings.TrimSpace(value)
	}
	if value, ok := os.LookupEnv(envAnthropicBaseURL); ok && strings.TrimSpace(value) != "" {
		cfg.Engine.Anthropic.BaseURL = strings.TrimSpace(value)
	}
	if value, ok := os.LookupEnv(envAnthropicVersion); ok && strings.TrimSpace(value) != "" {
		cfg.Engine.Anthropic.Version = strings.TrimSpace(value)
	}
	if value, ok := os.LookupEnv(envRetryMaxRetries); ok && strings.TrimSpace(value) != "" {
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, envRetryMaxRetries, err)
		}
		cfg.Engine.Anthropic.Retry.MaxRetries = parsed
	}
	if value, ok := os.LookupEnv(envRetryBaseDelay); ok && strings.TrimSpace(value) != "" {
		cfg.Engine.Anthropic.Retry.BaseDelay = strings.TrimSpace(value)
	}
	if value, ok := os.LookupEnv(envRetryMaxDelay); ok && strings.TrimSpace(value) != "" {
		cfg.Engine.Anthropic.Retry.MaxDelay = strings.TrimSpace(value)
	}
	if value, ok := os.LookupEnv(envSystemPrompt); ok && strings.TrimSpace(value) != "" {
		cfg.Session.SystemPrompt = value
	}
	if value, ok := os.LookupEnv(envRetryAttempts); ok && strings.TrimSpace(value) != "" {
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, envRetryAttempts, err)
		}
		cfg.Session.RetryAttempts = parsed
	}
	if value, ok := os.LookupEnv(envDesiredResponseTokens); ok && strings.TrimSpace(value) != "" {
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, envDesiredResponseTokens, err)
		}
		cfg.Session.DesiredResponseTokens = parsed
	}
	return nil
}

func validate(cfg Config) error {
	if strings.TrimSpace(cfg.Engine.Default) == "" {
		return fmt.Errorf("%w: engine.default is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.Engine.Anthropic.Model) == "" {
		return fmt.Errorf("%w: engine.anthropic.model is required", ErrInvalidConfig)
	}
	if cfg.Session.DesiredResponseTokens < 0 {
		return fmt.Errorf("%w: session.desired_response_tokens must be >= 0", ErrInvalidConfig)
	}
	if _, err := cfg.AnthropicSettings(); err != nil {
		return err
	}
	return nil
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, defaultConfigRelativePath)
}
