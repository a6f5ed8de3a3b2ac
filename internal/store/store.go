// Package store defines the document-store shapes and interfaces used
// by the cache, vector memory, assistant threads and audit log, with
// in-memory, SQLite and Firestore backends.
package store

import (
	"context"
	"time"
)

// CacheEntry is one cached model response.
type CacheEntry struct {
	Key           string    `json:"cache_key"`
	Provider      string    `json:"provider"`
	Model         string    `json:"model"`
	Text          string    `json:"text"`
	PromptPreview string    `json:"prompt_preview,omitempty"`
	SystemPreview string    `json:"system_preview,omitempty"`
	CachedAt      time.Time `json:"cached_at"`
}

// VectorChunk is one (text, embedding) record scoped by namespace.
type VectorChunk struct {
	ID             string    `json:"id"`
	Namespace      string    `json:"namespace"`
	SourcePath     string    `json:"source_path"`
	Text           string    `json:"text"`
	TextPreview    string    `json:"text_preview"`
	Embedding      []float32 `json:"-"`
	EmbeddingDims  int       `json:"embedding_dims"`
	EmbeddingModel string    `json:"embedding_model"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Thread is assistant conversation metadata.
type Thread struct {
	ID           string    `json:"thread_id"`
	OwnerUID     string    `json:"owner_uid"`
	OwnerEmail   string    `json:"owner_email"`
	LastProvider string    `json:"last_provider"`
	LastModel    string    `json:"last_model"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Message is one append-only thread entry, ordered by creation time.
type Message struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	Role      string    `json:"role"` // "user" or "assistant"
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Artifact is one best-effort audit record.
type Artifact struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Fields    map[string]any `json:"fields"`
	CreatedAt time.Time      `json:"created_at"`
}

// LearningEvent is an ingested, already-redacted summary.
type LearningEvent struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Summary   string    `json:"summary"`
	LearnedAt string    `json:"learned_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Task is one upserted work item.
type Task struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Priority  string    `json:"priority"`
	Status    string    `json:"status"`
	Details   string    `json:"details"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CacheStore reads and overwrites cache entries. Get returns (nil,
// nil) for an absent key.
type CacheStore interface {
	GetCacheEntry(ctx context.Context, key string) (*CacheEntry, error)
	PutCacheEntry(ctx context.Context, entry *CacheEntry) error
}

// VectorStore persists chunks and scans a namespace. Upserting an
// existing id merges fields (last write wins per field).
type VectorStore interface {
	UpsertChunk(ctx context.Context, chunk *VectorChunk) error
	ScanChunks(ctx context.Context, namespace string, limit int) ([]VectorChunk, error)
}

// ThreadStore maintains threads and their append-only messages.
type ThreadStore interface {
	UpsertThread(ctx context.Context, thread *Thread) error
	AppendMessage(ctx context.Context, msg *Message) error
	// RecentMessages returns up to limit messages, oldest first.
	RecentMessages(ctx context.Context, threadID string, limit int) ([]Message, error)
}

// AuditStore receives best-effort writes; callers must tolerate
// failures without failing their primary response.
type AuditStore interface {
	AddArtifact(ctx context.Context, artifact *Artifact) error
	AddLearningEvent(ctx context.Context, event *LearningEvent) error
	UpsertTask(ctx context.Context, task *Task) error
}

// Store is the full document-store surface.
type Store interface {
	CacheStore
	VectorStore
	ThreadStore
	AuditStore
	Close() error
}
