// Package vector stores embedded text chunks and answers top-k
// similarity queries over a namespace.
package vector

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/maroonops/signal-console/internal/apierr"
	"github.com/maroonops/signal-console/internal/ids"
	"github.com/maroonops/signal-console/internal/provider"
	"github.com/maroonops/signal-console/internal/store"
)

const (
	minK     = 1
	maxK     = 50
	defaultK = 8

	minScan     = 10
	maxScan     = 2000
	defaultScan = 500

	// ScoreCutoff drops matches that are barely or negatively related,
	// including incomparable chunks.
	ScoreCutoff = -0.5

	previewRunes = 200
)

// Memory couples a vector store with an embedding chain.
type Memory struct {
	store    store.VectorStore
	embedder provider.Embedder
	log      *zap.Logger
	now      func() time.Time
}

func NewMemory(st store.VectorStore, embedder provider.Embedder, log *zap.Logger) *Memory {
	return &Memory{store: st, embedder: embedder, log: log, now: time.Now}
}

// UpsertRequest inserts or overwrites one chunk. When Embedding is
// empty the text is embedded server-side.
type UpsertRequest struct {
	Namespace  string    `json:"namespace"`
	SourcePath string    `json:"source_path"`
	Text       string    `json:"text"`
	Embedding  []float32 `json:"embedding,omitempty"`
}

type UpsertResult struct {
	ID             string `json:"id"`
	EmbeddingDims  int    `json:"embedding_dims"`
	EmbeddingModel string `json:"embedding_model,omitempty"`
}

// Upsert derives a deterministic chunk id from namespace, source path
// and the leading text, so re-ingesting the same content overwrites
// instead of duplicating.
func (m *Memory) Upsert(ctx context.Context, req UpsertRequest) (*UpsertResult, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, apierr.BadRequest(apierr.CodeInvalidEmbedding, "text is required")
	}
	namespace := req.Namespace
	if namespace == "" {
		namespace = "default"
	}

	embedding := req.Embedding
	model := ""
	if len(embedding) == 0 {
		result, err := m.embedder.Embed(ctx, text)
		if err != nil {
			return nil, provider.AsAPIError(err)
		}
		embedding = result.Embedding
		model = result.Model
	} else if !finite(embedding) {
		return nil, apierr.BadRequest(apierr.CodeInvalidEmbedding,
			"embedding must be a non-empty array of finite numbers")
	}

	chunk := &store.VectorChunk{
		ID:             ids.Derive("vec", namespace, req.SourcePath, head(text, previewRunes)),
		Namespace:      namespace,
		SourcePath:     req.SourcePath,
		Text:           text,
		TextPreview:    head(text, previewRunes),
		Embedding:      embedding,
		EmbeddingDims:  len(embedding),
		EmbeddingModel: model,
		UpdatedAt:      m.now().UTC(),
	}
	if err := m.store.UpsertChunk(ctx, chunk); err != nil {
		return nil, apierr.Internal("failed to store chunk: %s", apierr.Clip(err.Error(), 400))
	}
	return &UpsertResult{
		ID:             chunk.ID,
		EmbeddingDims:  chunk.EmbeddingDims,
		EmbeddingModel: chunk.EmbeddingModel,
	}, nil
}

// SearchRequest is a top-k query over one namespace.
type SearchRequest struct {
	Namespace string `json:"namespace"`
	Query     string `json:"query"`
	K         int    `json:"k"`
	MaxScan   int    `json:"max_scan"`
}

// Match is one scored chunk.
type Match struct {
	ID          string  `json:"id"`
	SourcePath  string  `json:"source_path,omitempty"`
	TextPreview string  `json:"text_preview"`
	Score       float64 `json:"score"`
}

type SearchResult struct {
	Matches []Match `json:"matches"`
	Scanned int     `json:"scanned"`
}

// Search embeds the query, scans up to maxScan chunks in the
// namespace and returns the k best matches above the score cutoff,
// highest score first.
func (m *Memory) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, apierr.BadRequest(apierr.CodeInvalidEmbedding, "query is required")
	}
	namespace := req.Namespace
	if namespace == "" {
		namespace = "default"
	}
	k := clampInt(req.K, minK, maxK, defaultK)
	scan := clampInt(req.MaxScan, minScan, maxScan, defaultScan)

	embedded, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, provider.AsAPIError(err)
	}

	chunks, err := m.store.ScanChunks(ctx, namespace, scan)
	if err != nil {
		return nil, apierr.Internal("failed to scan chunks: %s", apierr.Clip(err.Error(), 400))
	}

	matches := make([]Match, 0, len(chunks))
	for _, chunk := range chunks {
		score := CosineSimilarity(embedded.Embedding, chunk.Embedding)
		if score < ScoreCutoff {
			continue
		}
		preview := chunk.TextPreview
		if preview == "" {
			preview = head(chunk.Text, previewRunes)
		}
		matches = append(matches, Match{
			ID:          chunk.ID,
			SourcePath:  chunk.SourcePath,
			TextPreview: preview,
			Score:       score,
		})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return &SearchResult{Matches: matches, Scanned: len(chunks)}, nil
}

func finite(values []float32) bool {
	for _, v := range values {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

func head(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func clampInt(value, lo, hi, fallback int) int {
	if value == 0 {
		return fallback
	}
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}
