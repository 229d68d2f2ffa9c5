package oracle

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// ClaudeProvider generates through the Anthropic Messages API. The API has
// no generic binary attachment part, so file parts are folded into the
// prompt text.
type ClaudeProvider struct {
	client *anthropic.Client
	model  string
}

// NewClaudeProvider builds the provider. A nil httpClient uses the SDK
// default; the factory passes the Cloudflare-adapted client when the
// fingerprint transport is enabled.
func NewClaudeProvider(apiKey, model, baseURL string, httpClient *http.Client) *ClaudeProvider {
	if model == "" {
		model = "claude-sonnet-4-5-20250929"
	}
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	client := anthropic.NewClient(opts...)
	return &ClaudeProvider{
		client: &client,
		model:  model,
	}
}

func (p *ClaudeProvider) GetDefaultModel() string {
	return p.model
}

func (p *ClaudeProvider) Generate(ctx context.Context, prompt string, files []FilePart, options map[string]interface{}) (string, error) {
	text := InlineFiles(prompt, files)

	maxTokens := int64(8192)
	if options != nil {
		if mt, ok := options["max_tokens"].(int); ok {
			maxTokens = int64(mt)
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(resolveModel(p, options)),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(text)),
		},
	}
	if options != nil {
		if temp, ok := options["temperature"].(float64); ok {
			params.Temperature = anthropic.Float(temp)
		}
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", wrapClaudeAPIError(err)
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			tb := block.AsText()
			content.WriteString(tb.Text)
		}
	}
	out := content.String()
	if strings.TrimSpace(out) == "" {
		return "", ErrEmptyResponse
	}
	return out, nil
}

func wrapClaudeAPIError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "authentication"):
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate_limit"):
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	case strings.Contains(msg, "529") || strings.Contains(msg, "overloaded"):
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return fmt.Errorf("claude API call: %w", err)
}
