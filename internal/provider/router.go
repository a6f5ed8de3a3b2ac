package provider

import (
	"context"

	"github.com/maroonops/signal-console/internal/apierr"
)

// Router dispatches generate calls over a closed provider set with a
// configured primary fallback.
type Router struct {
	generators map[string]Generator
	primary    string
}

// NewRouter registers the given backends. primary is used whenever a
// caller names an unrecognized provider; an unrecognized primary falls
// back to claude, keeping Normalize total.
func NewRouter(primary string, generators ...Generator) *Router {
	byName := make(map[string]Generator, len(generators))
	for _, g := range generators {
		byName[g.Name()] = g
	}
	switch primary {
	case NameClaude, NameGemini, NameDeepSeek:
	default:
		primary = NameClaude
	}
	return &Router{generators: byName, primary: primary}
}

// Normalize maps any caller-supplied provider value into the closed
// set. The mapping is total: unrecognized values select the primary.
func (r *Router) Normalize(value string) string {
	switch value {
	case NameClaude, NameGemini, NameDeepSeek:
		return value
	}
	return r.primary
}

// Generate dispatches to the named backend after normalization.
func (r *Router) Generate(ctx context.Context, providerName string, req GenerateRequest) (*GenerateResult, error) {
	name := r.Normalize(providerName)
	g, ok := r.generators[name]
	if !ok {
		return nil, errNotConfigured(name, name+" backend")
	}
	result, err := g.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	result.Provider = name
	return result, nil
}

// EmbedChain tries an ordered list of embedding candidates, returning
// the first success. Embedding-model availability varies, so a single
// fixed model is not acceptable here.
type EmbedChain struct {
	candidates []Embedder
}

func NewEmbedChain(candidates ...Embedder) *EmbedChain {
	return &EmbedChain{candidates: candidates}
}

// Embed walks the candidate list. If every candidate fails, the last
// observed error is propagated as embedding_unavailable.
func (c *EmbedChain) Embed(ctx context.Context, text string) (*EmbedResult, error) {
	var lastErr error
	for _, candidate := range c.candidates {
		result, err := candidate.Embed(ctx, text)
		if err == nil && result != nil && len(result.Embedding) > 0 {
			return result, nil
		}
		if err != nil {
			lastErr = err
		}
	}
	detail := "no embedding candidates configured"
	if lastErr != nil {
		detail = lastErr.Error()
	}
	return nil, &Error{
		Provider: "embedding",
		Code:     apierr.CodeEmbeddingUnavailable,
		Detail:   apierr.Clip(detail, 1000),
	}
}
