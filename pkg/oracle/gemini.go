package oracle

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const geminiDefaultBaseURL = "https://generativelanguage.googleapis.com"

// GeminiProvider is a minimal generateContent API wrapper. Attachments
// travel as inlineData parts, which is what makes this the preferred
// provider for sending raw document bytes.
type GeminiProvider struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

func NewGeminiProvider(apiKey, model, baseURL string, client *http.Client) *GeminiProvider {
	if model == "" {
		model = "gemini-2.5-flash"
	}
	if baseURL == "" {
		baseURL = geminiDefaultBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	return &GeminiProvider{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		client:  client,
	}
}

func (p *GeminiProvider) GetDefaultModel() string {
	return p.model
}

func (p *GeminiProvider) Generate(ctx context.Context, prompt string, files []FilePart, options map[string]interface{}) (string, error) {
	parts := []geminiPart{{Text: prompt}}
	for _, f := range files {
		parts = append(parts, geminiPart{
			InlineData: &geminiInlineData{
				MIMEType: f.MIMEType,
				Data:     base64.StdEncoding.EncodeToString(f.Data),
			},
		})
	}

	payload := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: parts}},
	}
	if options != nil {
		if temp, ok := options["temperature"].(float64); ok {
			payload.GenerationConfig = &geminiGenerationConfig{Temperature: &temp}
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	model := resolveModel(p, options)
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		p.baseURL, model, url.QueryEscape(p.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("content-type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("gemini API call: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", ErrUnauthorized
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", ErrRateLimited
	case resp.StatusCode >= 500:
		return "", ErrUnavailable
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		errorBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("gemini error: %s - %s", resp.Status, string(errorBody))
	}

	var response geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", fmt.Errorf("decode gemini response: %w", err)
	}

	if response.PromptFeedback != nil && response.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("%w: %s", ErrPolicyBlocked, response.PromptFeedback.BlockReason)
	}
	if len(response.Candidates) == 0 {
		return "", ErrEmptyResponse
	}

	text := collectGeminiText(response.Candidates[0].Content.Parts)
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// ValidateKey checks the API key against the models listing endpoint.
func (p *GeminiProvider) ValidateKey(ctx context.Context) error {
	u, err := url.Parse(p.baseURL + "/v1beta/models")
	if err != nil {
		return err
	}
	q := u.Query()
	q.Set("key", p.apiKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.StatusCode >= 500:
		return ErrUnavailable
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("key validation failed: %s", resp.Status)
	}
	return nil
}

type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature *float64 `json:"temperature,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiResponse struct {
	Candidates     []geminiCandidate     `json:"candidates"`
	PromptFeedback *geminiPromptFeedback `json:"promptFeedback,omitempty"`
}

type geminiCandidate struct {
	Content geminiContent `json:"content"`
}

type geminiPromptFeedback struct {
	BlockReason string `json:"blockReason"`
}

func collectGeminiText(parts []geminiPart) string {
	var buf bytes.Buffer
	for _, part := range parts {
		if part.Text != "" {
			buf.WriteString(part.Text)
		}
	}
	return buf.String()
}
