package vector

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/maroonops/signal-console/internal/apierr"
	"github.com/maroonops/signal-console/internal/provider"
	"github.com/maroonops/signal-console/internal/store"
)

// fakeEmbedder maps exact texts to fixed embeddings so scores are
// predictable.
type fakeEmbedder struct {
	vectors map[string][]float32
	fail    bool
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) (*provider.EmbedResult, error) {
	if f.fail {
		return nil, &provider.Error{Provider: "embedding", Code: apierr.CodeEmbeddingUnavailable, Detail: "down"}
	}
	if v, ok := f.vectors[text]; ok {
		return &provider.EmbedResult{Embedding: v, Model: "fake-embed"}, nil
	}
	return &provider.EmbedResult{Embedding: []float32{0, 0, 1}, Model: "fake-embed"}, nil
}

func newTestMemory(embedder provider.Embedder) (*Memory, *store.MemoryStore) {
	st := store.NewMemoryStore()
	return NewMemory(st, embedder, zap.NewNop()), st
}

func TestUpsertDerivesStableID(t *testing.T) {
	m, _ := newTestMemory(&fakeEmbedder{})

	first, err := m.Upsert(context.Background(), UpsertRequest{
		Namespace:  "docs",
		SourcePath: "runbook.md",
		Text:       "restart procedure",
	})
	require.Nil(t, err)
	second, err := m.Upsert(context.Background(), UpsertRequest{
		Namespace:  "docs",
		SourcePath: "runbook.md",
		Text:       "restart procedure",
	})
	require.Nil(t, err)
	assert.Equal(t, first.ID, second.ID, "identical content overwrites, never duplicates")
	assert.Equal(t, 3, first.EmbeddingDims)
	assert.Equal(t, "fake-embed", first.EmbeddingModel)
}

func TestUpsertValidation(t *testing.T) {
	m, _ := newTestMemory(&fakeEmbedder{})

	t.Run("empty text", func(t *testing.T) {
		_, err := m.Upsert(context.Background(), UpsertRequest{Text: "  "})
		require.NotNil(t, err)
		assert.Equal(t, apierr.CodeInvalidEmbedding, err.(*apierr.Error).Code)
	})

	t.Run("non-finite supplied embedding", func(t *testing.T) {
		_, err := m.Upsert(context.Background(), UpsertRequest{
			Text:      "x",
			Embedding: []float32{float32(math.NaN())},
		})
		require.NotNil(t, err)
		assert.Equal(t, apierr.CodeInvalidEmbedding, err.(*apierr.Error).Code)
	})

	t.Run("embedding failure propagates", func(t *testing.T) {
		m, _ := newTestMemory(&fakeEmbedder{fail: true})
		_, err := m.Upsert(context.Background(), UpsertRequest{Text: "x"})
		require.NotNil(t, err)
		assert.Equal(t, apierr.CodeEmbeddingUnavailable, err.(*apierr.Error).Code)
	})
}

func TestSearchRanksAndFilters(t *testing.T) {
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"query":    {1, 0, 0},
		"close":    {0.9, 0.1, 0},
		"far":      {-1, 0, 0},
		"sideways": {0, 1, 0},
	}}
	m, st := newTestMemory(embedder)

	for _, text := range []string{"close", "far", "sideways"} {
		_, err := m.Upsert(context.Background(), UpsertRequest{Namespace: "ns", Text: text})
		require.Nil(t, err)
	}
	// A chunk with no embedding is incomparable and must be dropped.
	require.NoError(t, st.UpsertChunk(context.Background(), &store.VectorChunk{
		ID: "broken", Namespace: "ns", Text: "broken",
	}))

	result, err := m.Search(context.Background(), SearchRequest{
		Namespace: "ns",
		Query:     "query",
		K:         10,
	})
	require.Nil(t, err)
	require.Len(t, result.Matches, 2, "far (-1) and broken (incomparable) fall below the cutoff")
	assert.Equal(t, 4, result.Scanned)
	assert.Greater(t, result.Matches[0].Score, result.Matches[1].Score)
	assert.Equal(t, "close", result.Matches[0].TextPreview)
}

func TestSearchClampsKAndScan(t *testing.T) {
	m, _ := newTestMemory(&fakeEmbedder{vectors: map[string][]float32{"q": {1, 0, 0}}})
	for i := 0; i < 5; i++ {
		_, err := m.Upsert(context.Background(), UpsertRequest{
			Namespace: "ns",
			Text:      "chunk " + string(rune('a'+i)),
		})
		require.Nil(t, err)
	}

	result, err := m.Search(context.Background(), SearchRequest{
		Namespace: "ns",
		Query:     "q",
		K:         500,
		MaxScan:   1,
	})
	require.Nil(t, err)
	assert.LessOrEqual(t, result.Scanned, 10, "max scan clamps up to its floor")

	one, err := m.Search(context.Background(), SearchRequest{
		Namespace: "ns",
		Query:     "q",
		K:         -3,
	})
	require.Nil(t, err)
	assert.Len(t, one.Matches, 1, "k clamps to its floor")
}

func TestSearchValidation(t *testing.T) {
	m, _ := newTestMemory(&fakeEmbedder{})
	_, err := m.Search(context.Background(), SearchRequest{Query: " "})
	require.NotNil(t, err)
	assert.Equal(t, apierr.CodeInvalidEmbedding, err.(*apierr.Error).Code)
}
