package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
)

// Claude calls the Anthropic messages API.
type Claude struct {
	apiKey       string
	baseURL      string
	defaultModel string
	client       *http.Client
}

func NewClaude(apiKey, defaultModel string) *Claude {
	return &Claude{
		apiKey:       apiKey,
		baseURL:      defaultAnthropicBaseURL,
		defaultModel: defaultModel,
		client:       &http.Client{Timeout: 90 * time.Second},
	}
}

// WithBaseURL overrides the API endpoint, mainly for tests.
func (c *Claude) WithBaseURL(baseURL string) *Claude {
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

func (c *Claude) Name() string { return NameClaude }

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature"`
	System      string          `json:"system,omitempty"`
	Messages    []claudeMessage `json:"messages"`
}

type claudeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (c *Claude) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	if c.apiKey == "" {
		return nil, errNotConfigured(NameClaude, "ANTHROPIC_API_KEY")
	}

	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	payload := claudeRequest{
		Model:       model,
		MaxTokens:   defaultMaxTokens,
		Temperature: req.Temperature,
		Messages:    []claudeMessage{{Role: "user", Content: req.Prompt}},
	}
	if strings.TrimSpace(req.System) != "" {
		payload.System = req.System
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling claude request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating claude request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling claude: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading claude response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errHTTP(NameClaude, resp.StatusCode, string(respBody))
	}

	var decoded claudeResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, fmt.Errorf("decoding claude response: %w", err)
	}

	var text strings.Builder
	for _, part := range decoded.Content {
		if part.Type == "text" {
			text.WriteString(part.Text)
		}
	}
	trimmed := strings.TrimSpace(text.String())
	if trimmed == "" {
		return nil, errEmptyResponse(NameClaude)
	}
	return &GenerateResult{Text: trimmed, Model: model, Provider: NameClaude}, nil
}
