package store

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	colModelCache     = "model_cache"
	colVectorChunks   = "vector_chunks"
	colThreads        = "assistant_threads"
	colMessages       = "messages"
	colArtifacts      = "artifacts"
	colLearningEvents = "learning_events"
	colTasks          = "tasks"
)

// FirestoreStore is the production document-store backend.
type FirestoreStore struct {
	client *firestore.Client
}

func NewFirestoreStore(ctx context.Context, projectID string) (*FirestoreStore, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("initializing document store client: %w", err)
	}
	return &FirestoreStore{client: client}, nil
}

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

type cacheDoc struct {
	Key           string    `firestore:"cache_key"`
	Provider      string    `firestore:"provider"`
	Model         string    `firestore:"model"`
	Text          string    `firestore:"text"`
	PromptPreview string    `firestore:"prompt_preview"`
	SystemPreview string    `firestore:"system_preview"`
	CachedAt      time.Time `firestore:"cached_at"`
}

func (s *FirestoreStore) GetCacheEntry(ctx context.Context, key string) (*CacheEntry, error) {
	snap, err := s.client.Collection(colModelCache).Doc(key).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching cache entry: %w", err)
	}
	var doc cacheDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("decoding cache entry: %w", err)
	}
	return &CacheEntry{
		Key:           doc.Key,
		Provider:      doc.Provider,
		Model:         doc.Model,
		Text:          doc.Text,
		PromptPreview: doc.PromptPreview,
		SystemPreview: doc.SystemPreview,
		CachedAt:      doc.CachedAt,
	}, nil
}

func (s *FirestoreStore) PutCacheEntry(ctx context.Context, entry *CacheEntry) error {
	_, err := s.client.Collection(colModelCache).Doc(entry.Key).Set(ctx, map[string]any{
		"cache_key":      entry.Key,
		"provider":       entry.Provider,
		"model":          entry.Model,
		"text":           entry.Text,
		"prompt_preview": entry.PromptPreview,
		"system_preview": entry.SystemPreview,
		"cached_at":      entry.CachedAt,
		"updated_at":     firestore.ServerTimestamp,
	}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("storing cache entry: %w", err)
	}
	return nil
}

type chunkDoc struct {
	ID             string    `firestore:"id"`
	Namespace      string    `firestore:"namespace"`
	SourcePath     string    `firestore:"source_path"`
	Text           string    `firestore:"text"`
	TextPreview    string    `firestore:"text_preview"`
	Embedding      []float64 `firestore:"embedding"`
	EmbeddingDims  int       `firestore:"embedding_dims"`
	EmbeddingModel string    `firestore:"embedding_model"`
	UpdatedAt      time.Time `firestore:"updated_at"`
}

func (s *FirestoreStore) UpsertChunk(ctx context.Context, chunk *VectorChunk) error {
	embedding := make([]float64, len(chunk.Embedding))
	for i, v := range chunk.Embedding {
		embedding[i] = float64(v)
	}
	_, err := s.client.Collection(colVectorChunks).Doc(chunk.ID).Set(ctx, map[string]any{
		"id":              chunk.ID,
		"namespace":       chunk.Namespace,
		"source_path":     chunk.SourcePath,
		"text":            chunk.Text,
		"text_preview":    chunk.TextPreview,
		"embedding":       embedding,
		"embedding_dims":  chunk.EmbeddingDims,
		"embedding_model": chunk.EmbeddingModel,
		"updated_at":      chunk.UpdatedAt,
		"created_at":      firestore.ServerTimestamp,
	}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("storing vector chunk: %w", err)
	}
	return nil
}

func (s *FirestoreStore) ScanChunks(ctx context.Context, namespace string, limit int) ([]VectorChunk, error) {
	iter := s.client.Collection(colVectorChunks).
		Where("namespace", "==", namespace).
		Limit(limit).
		Documents(ctx)
	defer iter.Stop()

	var chunks []VectorChunk
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("scanning vector chunks: %w", err)
		}
		var doc chunkDoc
		if err := snap.DataTo(&doc); err != nil {
			continue // malformed chunk, skip rather than fail the scan
		}
		embedding := make([]float32, len(doc.Embedding))
		for i, v := range doc.Embedding {
			embedding[i] = float32(v)
		}
		chunks = append(chunks, VectorChunk{
			ID:             snap.Ref.ID,
			Namespace:      doc.Namespace,
			SourcePath:     doc.SourcePath,
			Text:           doc.Text,
			TextPreview:    doc.TextPreview,
			Embedding:      embedding,
			EmbeddingDims:  doc.EmbeddingDims,
			EmbeddingModel: doc.EmbeddingModel,
			UpdatedAt:      doc.UpdatedAt,
		})
	}
	return chunks, nil
}

func (s *FirestoreStore) UpsertThread(ctx context.Context, thread *Thread) error {
	_, err := s.client.Collection(colThreads).Doc(thread.ID).Set(ctx, map[string]any{
		"thread_id":     thread.ID,
		"owner_uid":     thread.OwnerUID,
		"owner_email":   thread.OwnerEmail,
		"last_provider": thread.LastProvider,
		"last_model":    thread.LastModel,
		"updated_at":    firestore.ServerTimestamp,
	}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("storing thread: %w", err)
	}
	return nil
}

func (s *FirestoreStore) AppendMessage(ctx context.Context, msg *Message) error {
	id := msg.ID
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.client.Collection(colThreads).Doc(msg.ThreadID).
		Collection(colMessages).Doc(id).Set(ctx, map[string]any{
		"id":         id,
		"thread_id":  msg.ThreadID,
		"role":       msg.Role,
		"provider":   msg.Provider,
		"model":      msg.Model,
		"text":       msg.Text,
		"created_at": createdAt,
	})
	if err != nil {
		return fmt.Errorf("appending message: %w", err)
	}
	return nil
}

type messageDoc struct {
	ID        string    `firestore:"id"`
	ThreadID  string    `firestore:"thread_id"`
	Role      string    `firestore:"role"`
	Provider  string    `firestore:"provider"`
	Model     string    `firestore:"model"`
	Text      string    `firestore:"text"`
	CreatedAt time.Time `firestore:"created_at"`
}

func (s *FirestoreStore) RecentMessages(ctx context.Context, threadID string, limit int) ([]Message, error) {
	iter := s.client.Collection(colThreads).Doc(threadID).
		Collection(colMessages).
		OrderBy("created_at", firestore.Desc).
		Limit(limit).
		Documents(ctx)
	defer iter.Stop()

	var newestFirst []Message
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading thread messages: %w", err)
		}
		var doc messageDoc
		if err := snap.DataTo(&doc); err != nil {
			continue
		}
		newestFirst = append(newestFirst, Message{
			ID:        doc.ID,
			ThreadID:  doc.ThreadID,
			Role:      doc.Role,
			Provider:  doc.Provider,
			Model:     doc.Model,
			Text:      doc.Text,
			CreatedAt: doc.CreatedAt,
		})
	}

	// Reverse into chronological order.
	for i, j := 0, len(newestFirst)-1; i < j; i, j = i+1, j-1 {
		newestFirst[i], newestFirst[j] = newestFirst[j], newestFirst[i]
	}
	return newestFirst, nil
}

func (s *FirestoreStore) AddArtifact(ctx context.Context, artifact *Artifact) error {
	fields := make(map[string]any, len(artifact.Fields)+2)
	for k, v := range artifact.Fields {
		fields[k] = v
	}
	fields["type"] = artifact.Type
	fields["created_at"] = firestore.ServerTimestamp
	_, _, err := s.client.Collection(colArtifacts).Add(ctx, fields)
	if err != nil {
		return fmt.Errorf("adding artifact: %w", err)
	}
	return nil
}

func (s *FirestoreStore) AddLearningEvent(ctx context.Context, event *LearningEvent) error {
	_, _, err := s.client.Collection(colLearningEvents).Add(ctx, map[string]any{
		"source":     event.Source,
		"summary":    event.Summary,
		"learned_at": event.LearnedAt,
		"created_at": firestore.ServerTimestamp,
	})
	if err != nil {
		return fmt.Errorf("adding learning event: %w", err)
	}
	return nil
}

func (s *FirestoreStore) UpsertTask(ctx context.Context, task *Task) error {
	_, err := s.client.Collection(colTasks).Doc(task.ID).Set(ctx, map[string]any{
		"id":         task.ID,
		"title":      task.Title,
		"priority":   task.Priority,
		"status":     task.Status,
		"details":    task.Details,
		"updated_at": firestore.ServerTimestamp,
	}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("upserting task: %w", err)
	}
	return nil
}
