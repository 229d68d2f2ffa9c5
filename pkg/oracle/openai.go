package oracle

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIProvider generates through the Chat Completions API. Like Claude,
// file parts are folded into the prompt text.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAIProvider builds the provider. A nil httpClient uses the SDK
// default; the factory passes the Chrome h2 client when the fingerprint
// transport is enabled.
func NewOpenAIProvider(apiKey, model, baseURL string, httpClient *http.Client) *OpenAIProvider {
	if model == "" {
		model = "gpt-4o"
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	client := openai.NewClient(opts...)
	return &OpenAIProvider{
		client: &client,
		model:  model,
	}
}

func (p *OpenAIProvider) GetDefaultModel() string {
	return p.model
}

func (p *OpenAIProvider) Generate(ctx context.Context, prompt string, files []FilePart, options map[string]interface{}) (string, error) {
	text := InlineFiles(prompt, files)

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(resolveModel(p, options)),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(text),
		},
	}
	if options != nil {
		if temp, ok := options["temperature"].(float64); ok {
			params.Temperature = openai.Opt(temp)
		}
		if mt, ok := options["max_tokens"].(int); ok {
			params.MaxCompletionTokens = openai.Opt(int64(mt))
		}
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", wrapOpenAIAPIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	out := resp.Choices[0].Message.Content
	if strings.TrimSpace(out) == "" {
		return "", ErrEmptyResponse
	}
	return out, nil
}

func wrapOpenAIAPIError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "invalid_api_key"):
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate_limit"):
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	case strings.Contains(msg, "500") || strings.Contains(msg, "503"):
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return fmt.Errorf("openai API call: %w", err)
}
