package oracle

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/officestack/docpatch/pkg/config"
	"github.com/officestack/docpatch/pkg/transport"
)

// CreateProvider builds the provider selected by config, wrapped with the
// bounded retry layer.
func CreateProvider(cfg *config.Config) (Provider, error) {
	var inner Provider

	switch strings.ToLower(cfg.Providers.Default) {
	case "gemini", "":
		gc := cfg.Providers.Gemini
		if gc.APIKey == "" {
			return nil, fmt.Errorf("gemini provider selected but no API key configured (set GEMINI_API_KEY or providers.gemini.api_key)")
		}
		var client *http.Client
		if gc.FingerprintTransport {
			client = transport.NewClient()
		} else {
			timeout := time.Duration(gc.TimeoutSeconds) * time.Second
			if timeout <= 0 {
				timeout = 120 * time.Second
			}
			client = &http.Client{Timeout: timeout}
		}
		inner = NewGeminiProvider(gc.APIKey, gc.Model, gc.BaseURL, client)
	case "claude":
		cc := cfg.Providers.Claude
		if cc.APIKey == "" {
			return nil, fmt.Errorf("claude provider selected but no API key configured (set ANTHROPIC_API_KEY or providers.claude.api_key)")
		}
		var client *http.Client
		if cc.FingerprintTransport {
			client = transport.NewCloudflareClient()
		}
		inner = NewClaudeProvider(cc.APIKey, cc.Model, cc.BaseURL, client)
	case "openai":
		oc := cfg.Providers.OpenAI
		if oc.APIKey == "" {
			return nil, fmt.Errorf("openai provider selected but no API key configured (set OPENAI_API_KEY or providers.openai.api_key)")
		}
		var client *http.Client
		if oc.FingerprintTransport {
			client = transport.NewH2Client()
		}
		inner = NewOpenAIProvider(oc.APIKey, oc.Model, oc.BaseURL, client)
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Providers.Default)
	}

	maxAttempts := cfg.Providers.Gemini.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return WithRetry(inner, maxAttempts), nil
}
