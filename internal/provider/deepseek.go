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

// DeepSeek calls an OpenAI-compatible chat completions endpoint.
type DeepSeek struct {
	apiKey       string
	baseURL      string
	defaultModel string
	client       *http.Client
}

func NewDeepSeek(apiKey, baseURL, defaultModel string) *DeepSeek {
	return &DeepSeek{
		apiKey:       apiKey,
		baseURL:      strings.TrimRight(baseURL, "/"),
		defaultModel: defaultModel,
		client:       &http.Client{Timeout: 90 * time.Second},
	}
}

func (d *DeepSeek) Name() string { return NameDeepSeek }

type deepSeekMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type deepSeekRequest struct {
	Model       string            `json:"model"`
	Temperature float64           `json:"temperature"`
	MaxTokens   int               `json:"max_tokens"`
	Messages    []deepSeekMessage `json:"messages"`
}

type deepSeekResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (d *DeepSeek) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	if d.apiKey == "" {
		return nil, errNotConfigured(NameDeepSeek, "DEEPSEEK_API_KEY")
	}

	model := req.Model
	if model == "" {
		model = d.defaultModel
	}
	var messages []deepSeekMessage
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, deepSeekMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, deepSeekMessage{Role: "user", Content: req.Prompt})

	payload := deepSeekRequest{
		Model:       model,
		Temperature: req.Temperature,
		MaxTokens:   defaultMaxTokens,
		Messages:    messages,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling deepseek request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating deepseek request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+d.apiKey)

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling deepseek: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading deepseek response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errHTTP(NameDeepSeek, resp.StatusCode, string(respBody))
	}

	var decoded deepSeekResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, fmt.Errorf("decoding deepseek response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return nil, errEmptyResponse(NameDeepSeek)
	}
	trimmed := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if trimmed == "" {
		return nil, errEmptyResponse(NameDeepSeek)
	}
	return &GenerateResult{Text: trimmed, Model: model, Provider: NameDeepSeek}, nil
}
