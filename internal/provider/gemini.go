package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Gemini generates and embeds through the Google generative language
// API client.
type Gemini struct {
	client       *genai.Client
	defaultModel string
}

// NewGemini builds the backend. An empty apiKey leaves the backend
// unconfigured; calls then fail fast with provider_not_configured.
func NewGemini(ctx context.Context, apiKey, defaultModel string) (*Gemini, error) {
	g := &Gemini{defaultModel: defaultModel}
	if apiKey == "" {
		return g, nil
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	g.client = client
	return g, nil
}

func (g *Gemini) Name() string { return NameGemini }

func (g *Gemini) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func (g *Gemini) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	if g.client == nil {
		return nil, errNotConfigured(NameGemini, "GEMINI_API_KEY (or GOOGLE_API_KEY)")
	}

	modelName := req.Model
	if modelName == "" {
		modelName = g.defaultModel
	}
	model := g.client.GenerativeModel(modelName)
	temp := float32(req.Temperature)
	maxTokens := int32(defaultMaxTokens)
	model.GenerationConfig = genai.GenerationConfig{
		Temperature:     &temp,
		MaxOutputTokens: &maxTokens,
	}
	if strings.TrimSpace(req.System) != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(req.System)},
		}
	}

	resp, err := model.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return nil, wrapGoogleError(NameGemini, err)
	}

	var text strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if txt, ok := part.(genai.Text); ok {
				text.WriteString(string(txt))
			}
		}
	}
	trimmed := strings.TrimSpace(text.String())
	if trimmed == "" {
		return nil, errEmptyResponse(NameGemini)
	}
	return &GenerateResult{Text: trimmed, Model: modelName, Provider: NameGemini}, nil
}

// EmbedderForModel returns one embedding candidate bound to a model
// name, for use in an EmbedChain.
func (g *Gemini) EmbedderForModel(model string) Embedder {
	return &geminiEmbedder{gemini: g, model: model}
}

// EmbedderChain builds the fallback chain over the configured
// candidate models, in order.
func (g *Gemini) EmbedderChain(models []string) *EmbedChain {
	candidates := make([]Embedder, 0, len(models))
	for _, m := range models {
		candidates = append(candidates, g.EmbedderForModel(m))
	}
	return NewEmbedChain(candidates...)
}

type geminiEmbedder struct {
	gemini *Gemini
	model  string
}

func (e *geminiEmbedder) Embed(ctx context.Context, text string) (*EmbedResult, error) {
	if e.gemini.client == nil {
		return nil, errNotConfigured(NameGemini, "GEMINI_API_KEY (or GOOGLE_API_KEY)")
	}
	em := e.gemini.client.EmbeddingModel(e.model)
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, wrapGoogleError(NameGemini, err)
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, errEmptyResponse(NameGemini)
	}
	return &EmbedResult{Embedding: res.Embedding.Values, Model: e.model}, nil
}

func wrapGoogleError(providerName string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return errHTTP(providerName, gerr.Code, gerr.Body)
	}
	return errHTTP(providerName, 0, err.Error())
}
