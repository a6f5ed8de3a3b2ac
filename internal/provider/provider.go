// Package provider routes generation and embedding calls across
// interchangeable text-generation backends under one contract.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/maroonops/signal-console/internal/apierr"
)

const (
	// Provider names form a closed set.
	NameClaude   = "claude"
	NameGemini   = "gemini"
	NameDeepSeek = "deepseek"

	defaultMaxTokens = 1200
)

// GenerateRequest is the uniform generation contract.
type GenerateRequest struct {
	Prompt      string
	System      string
	Model       string // empty selects the backend default
	Temperature float64
}

// GenerateResult carries the produced text and the backend/model that
// actually served the call.
type GenerateResult struct {
	Text     string `json:"text"`
	Model    string `json:"model"`
	Provider string `json:"provider"`
}

// EmbedResult is one embedding with the model that produced it.
type EmbedResult struct {
	Embedding []float32 `json:"embedding"`
	Model     string    `json:"model"`
}

// Generator is one text-generation backend.
type Generator interface {
	Name() string
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)
}

// Embedder computes one embedding for a text.
type Embedder interface {
	Embed(ctx context.Context, text string) (*EmbedResult, error)
}

// Error is a provider failure with a stable code from the apierr
// taxonomy. Upstream bodies are clipped before they reach it.
type Error struct {
	Provider string
	Code     string
	Status   int // upstream HTTP status for provider_http_error
	Detail   string
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s (%d): %s", e.Provider, e.Code, e.Status, e.Detail)
	}
	return fmt.Sprintf("%s %s: %s", e.Provider, e.Code, e.Detail)
}

func errNotConfigured(provider, credential string) *Error {
	return &Error{
		Provider: provider,
		Code:     apierr.CodeProviderNotConfigured,
		Detail:   credential + " is not configured",
	}
}

func errEmptyResponse(provider string) *Error {
	return &Error{
		Provider: provider,
		Code:     apierr.CodeProviderEmptyResponse,
		Detail:   provider + " returned no text output",
	}
}

func errHTTP(provider string, status int, body string) *Error {
	return &Error{
		Provider: provider,
		Code:     apierr.CodeProviderHTTPError,
		Status:   status,
		Detail:   apierr.Clip(body, 1000),
	}
}

// AsAPIError converts a provider failure into a client-facing error
// with the matching stable code.
func AsAPIError(err error) *apierr.Error {
	var perr *Error
	if errors.As(err, &perr) {
		switch perr.Code {
		case apierr.CodeProviderNotConfigured:
			return apierr.Upstream(apierr.CodeProviderNotConfigured, "%s", perr.Detail)
		case apierr.CodeProviderEmptyResponse:
			return apierr.Upstream(apierr.CodeProviderEmptyResponse, "%s", perr.Detail)
		case apierr.CodeEmbeddingUnavailable:
			return apierr.Upstream(apierr.CodeEmbeddingUnavailable, "%s", perr.Detail)
		default:
			return apierr.Upstream(apierr.CodeProviderHTTPError,
				"%s upstream error %d: %s", perr.Provider, perr.Status, perr.Detail)
		}
	}
	return apierr.Upstream(apierr.CodeProviderHTTPError, "%s", apierr.Clip(err.Error(), 1000))
}
