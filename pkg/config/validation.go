package config

import (
	"fmt"
	"strings"
)

var knownProviders = map[string]bool{
	"gemini": true,
	"claude": true,
	"openai": true,
}

// Validate rejects configurations the engine cannot run with. Soft issues
// (a missing API key, notify targets half-configured) are reported by
// Warnings instead.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(cfg.Workspace) == "" {
		return fmt.Errorf("workspace must not be empty")
	}
	if err := ValidateProvidersConfig(cfg.Providers); err != nil {
		return err
	}
	if err := ValidateEngineConfig(cfg.Engine); err != nil {
		return err
	}
	if err := ValidateGatewayConfig(cfg.Gateway); err != nil {
		return err
	}
	return nil
}

func ValidateProvidersConfig(p ProvidersConfig) error {
	name := strings.ToLower(strings.TrimSpace(p.Default))
	if name == "" {
		return fmt.Errorf("providers.default is required")
	}
	if !knownProviders[name] {
		return fmt.Errorf("providers.default %q is not one of gemini, claude, openai", p.Default)
	}
	return nil
}

func ValidateEngineConfig(e EngineConfig) error {
	if e.MaxErrorRetries < 0 {
		return fmt.Errorf("engine.max_error_retries must not be negative")
	}
	if e.MaxValidatorRetries < 0 {
		return fmt.Errorf("engine.max_validator_retries must not be negative")
	}
	if e.MaxPathAttempts < 1 {
		return fmt.Errorf("engine.max_path_attempts must be at least 1")
	}
	if e.ExecTimeoutSeconds < 0 {
		return fmt.Errorf("engine.exec_timeout_seconds must not be negative")
	}
	return nil
}

func ValidateGatewayConfig(g GatewayConfig) error {
	if g.Port < 1 || g.Port > 65535 {
		return fmt.Errorf("gateway.port %d is out of range", g.Port)
	}
	if g.MaxUploadMB < 1 {
		return fmt.Errorf("gateway.max_upload_mb must be at least 1")
	}
	return nil
}

// Warnings reports non-fatal configuration problems worth surfacing at
// startup.
func Warnings(cfg *Config) []string {
	var warnings []string
	if cfg == nil {
		return warnings
	}
	if cfg.ActiveProviderKey() == "" {
		warnings = append(warnings,
			fmt.Sprintf("no API key configured for provider %q", cfg.Providers.Default))
	}
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID == 0 {
		warnings = append(warnings, "notify.telegram_token set but notify.telegram_chat_id is empty")
	}
	if cfg.Janitor.Enabled && strings.TrimSpace(cfg.Janitor.Schedule) == "" {
		warnings = append(warnings, "janitor.enabled without janitor.schedule")
	}
	return warnings
}
