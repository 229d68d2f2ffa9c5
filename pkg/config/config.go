package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full docpatch configuration. It is loaded from a JSON or
// YAML file, then overridden by DOCPATCH_* environment variables.
type Config struct {
	Workspace string `json:"workspace" yaml:"workspace" env:"DOCPATCH_WORKSPACE"`
	Debug     bool   `json:"debug" yaml:"debug" env:"DOCPATCH_DEBUG"`

	Providers ProvidersConfig `json:"providers" yaml:"providers"`
	Engine    EngineConfig    `json:"engine" yaml:"engine"`
	Python    PythonConfig    `json:"python" yaml:"python"`
	Gateway   GatewayConfig   `json:"gateway" yaml:"gateway"`
	Archive   ArchiveConfig   `json:"archive" yaml:"archive"`
	History   HistoryConfig   `json:"history" yaml:"history"`
	Notify    NotifyConfig    `json:"notify" yaml:"notify"`
	Janitor   JanitorConfig   `json:"janitor" yaml:"janitor"`
}

type ProvidersConfig struct {
	// Default selects which provider the engine talks to: gemini, claude, openai.
	Default string         `json:"default" yaml:"default" env:"DOCPATCH_PROVIDER"`
	Gemini  GeminiConfig   `json:"gemini" yaml:"gemini"`
	Claude  ProviderConfig `json:"claude" yaml:"claude"`
	OpenAI  ProviderConfig `json:"openai" yaml:"openai"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key" yaml:"api_key"`
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url" yaml:"base_url"`
	// FingerprintTransport routes calls through the Chrome-fingerprint
	// client (HTTP/1.1 + Cloudflare adaptation for claude, HTTP/2 for openai).
	FingerprintTransport bool `json:"fingerprint_transport" yaml:"fingerprint_transport"`
}

type GeminiConfig struct {
	APIKey  string `json:"api_key" yaml:"api_key" env:"DOCPATCH_GEMINI_API_KEY"`
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url" yaml:"base_url"`
	// FingerprintTransport routes REST calls through the Chrome-TLS client.
	FingerprintTransport bool `json:"fingerprint_transport" yaml:"fingerprint_transport"`
	TimeoutSeconds       int  `json:"timeout_seconds" yaml:"timeout_seconds"`
	MaxRetries           int  `json:"max_retries" yaml:"max_retries"`
}

type EngineConfig struct {
	MaxErrorRetries     int  `json:"max_error_retries" yaml:"max_error_retries"`
	MaxValidatorRetries int  `json:"max_validator_retries" yaml:"max_validator_retries"`
	MaxPathAttempts     int  `json:"max_path_attempts" yaml:"max_path_attempts"`
	ExecTimeoutSeconds  int  `json:"exec_timeout_seconds" yaml:"exec_timeout_seconds" env:"DOCPATCH_EXEC_TIMEOUT"`
	ProjectionMaxChars  int  `json:"projection_max_chars" yaml:"projection_max_chars"`
	DisableValidation   bool `json:"disable_validation" yaml:"disable_validation"`
}

type PythonConfig struct {
	// Interpreter overrides the workspace venv python when set.
	Interpreter         string              `json:"interpreter" yaml:"interpreter" env:"DOCPATCH_PYTHON"`
	SetupTimeoutSeconds int                 `json:"setup_timeout_seconds" yaml:"setup_timeout_seconds"`
	ExtraPackages       FlexibleStringSlice `json:"extra_packages" yaml:"extra_packages"`
	PolicyPath          string              `json:"policy_path" yaml:"policy_path"`
}

type GatewayConfig struct {
	Host        string `json:"host" yaml:"host" env:"DOCPATCH_HOST"`
	Port        int    `json:"port" yaml:"port" env:"DOCPATCH_PORT"`
	UploadsDir  string `json:"uploads_dir" yaml:"uploads_dir"`
	MaxUploadMB int    `json:"max_upload_mb" yaml:"max_upload_mb"`
}

type ArchiveConfig struct {
	Enabled        bool `json:"enabled" yaml:"enabled"`
	Compress       bool `json:"compress" yaml:"compress"`
	RetentionCount int  `json:"retention_count" yaml:"retention_count"`
}

type HistoryConfig struct {
	PostgresDSN string `json:"postgres_dsn" yaml:"postgres_dsn" env:"DOCPATCH_POSTGRES_DSN"`
}

type NotifyConfig struct {
	SlackWebhookURL string `json:"slack_webhook_url" yaml:"slack_webhook_url" env:"DOCPATCH_SLACK_WEBHOOK"`
	TelegramToken   string `json:"telegram_token" yaml:"telegram_token" env:"DOCPATCH_TELEGRAM_TOKEN"`
	TelegramChatID  int64  `json:"telegram_chat_id" yaml:"telegram_chat_id" env:"DOCPATCH_TELEGRAM_CHAT_ID"`
}

type JanitorConfig struct {
	Enabled      bool   `json:"enabled" yaml:"enabled"`
	Schedule     string `json:"schedule" yaml:"schedule"`
	TempTTLHours int    `json:"temp_ttl_hours" yaml:"temp_ttl_hours"`
}

func DefaultConfig() *Config {
	return &Config{
		Workspace: "~/docpatch",
		Providers: ProvidersConfig{
			Default: "gemini",
			Gemini: GeminiConfig{
				Model:          "gemini-2.5-flash",
				TimeoutSeconds: 120,
				MaxRetries:     3,
			},
			Claude: ProviderConfig{
				Model: "claude-sonnet-4-5-20250929",
			},
			OpenAI: ProviderConfig{
				Model: "gpt-4o",
			},
		},
		Engine: EngineConfig{
			MaxErrorRetries:     3,
			MaxValidatorRetries: 3,
			MaxPathAttempts:     5,
			ExecTimeoutSeconds:  120,
			ProjectionMaxChars:  12000,
		},
		Python: PythonConfig{
			SetupTimeoutSeconds: 180,
		},
		Gateway: GatewayConfig{
			Host:        "127.0.0.1",
			Port:        8365,
			MaxUploadMB: 50,
		},
		Archive: ArchiveConfig{
			Enabled:        true,
			RetentionCount: 20,
		},
		Janitor: JanitorConfig{
			Enabled:      true,
			Schedule:     "0 3 * * *",
			TempTTLHours: 24,
		},
	}
}

// DefaultConfigPath returns ~/.config/docpatch/config.json.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.json"
	}
	return filepath.Join(home, ".config", "docpatch", "config.json")
}

// LoadConfig reads the config file (JSON or YAML by extension), applies
// environment overrides and validates the result. A missing file yields the
// defaults plus environment overrides.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if isYAMLPath(path) {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else {
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	case os.IsNotExist(err):
		// Defaults plus environment are enough to run.
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}
	applyKeyFallbacks(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig validates and writes the config as indented JSON.
func SaveConfig(path string, cfg *Config) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0600)
}

// WorkspacePath returns the workspace with a leading ~ expanded.
func (c *Config) WorkspacePath() string {
	return expandHome(c.Workspace)
}

// UploadsPath resolves the gateway uploads directory, defaulting to
// <workspace>/uploads.
func (c *Config) UploadsPath() string {
	if c.Gateway.UploadsDir != "" {
		return expandHome(c.Gateway.UploadsDir)
	}
	return filepath.Join(c.WorkspacePath(), "uploads")
}

// ActiveProviderKey reports the API key configured for the selected provider.
func (c *Config) ActiveProviderKey() string {
	switch strings.ToLower(c.Providers.Default) {
	case "claude":
		return c.Providers.Claude.APIKey
	case "openai":
		return c.Providers.OpenAI.APIKey
	default:
		return c.Providers.Gemini.APIKey
	}
}

// applyKeyFallbacks picks up the conventional provider env vars when the
// config leaves keys empty.
func applyKeyFallbacks(cfg *Config) {
	if cfg.Providers.Gemini.APIKey == "" {
		cfg.Providers.Gemini.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.Providers.Claude.APIKey == "" {
		cfg.Providers.Claude.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if cfg.Providers.OpenAI.APIKey == "" {
		cfg.Providers.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
}

func expandHome(path string) string {
	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

func isYAMLPath(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
