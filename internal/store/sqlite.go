package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore is a local single-file Store backend.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS model_cache (
        cache_key TEXT PRIMARY KEY,
        provider TEXT NOT NULL,
        model TEXT NOT NULL,
        text TEXT NOT NULL,
        prompt_preview TEXT,
        system_preview TEXT,
        cached_at DATETIME NOT NULL
    );

    CREATE TABLE IF NOT EXISTS vector_chunks (
        id TEXT PRIMARY KEY,
        namespace TEXT NOT NULL,
        source_path TEXT,
        text TEXT NOT NULL,
        text_preview TEXT,
        embedding_json TEXT, -- JSON string of []float32
        embedding_dims INTEGER NOT NULL,
        embedding_model TEXT,
        updated_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_vector_chunks_namespace ON vector_chunks (namespace);

    CREATE TABLE IF NOT EXISTS threads (
        id TEXT PRIMARY KEY,
        owner_uid TEXT,
        owner_email TEXT,
        last_provider TEXT,
        last_model TEXT,
        updated_at DATETIME NOT NULL
    );

    CREATE TABLE IF NOT EXISTS messages (
        id TEXT PRIMARY KEY,
        thread_id TEXT NOT NULL,
        role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
        provider TEXT,
        model TEXT,
        text TEXT NOT NULL,
        created_at DATETIME NOT NULL,
        FOREIGN KEY (thread_id) REFERENCES threads (id)
    );
    CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages (thread_id, created_at);

    CREATE TABLE IF NOT EXISTS artifacts (
        id TEXT PRIMARY KEY,
        type TEXT NOT NULL,
        fields_json TEXT,
        created_at DATETIME NOT NULL
    );

    CREATE TABLE IF NOT EXISTS learning_events (
        id TEXT PRIMARY KEY,
        source TEXT,
        summary TEXT NOT NULL,
        learned_at TEXT,
        created_at DATETIME NOT NULL
    );

    CREATE TABLE IF NOT EXISTS tasks (
        id TEXT PRIMARY KEY,
        title TEXT NOT NULL,
        priority TEXT,
        status TEXT,
        details TEXT,
        updated_at DATETIME NOT NULL
    );
    `
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) GetCacheEntry(ctx context.Context, key string) (*CacheEntry, error) {
	var entry CacheEntry
	err := s.db.QueryRowContext(ctx,
		"SELECT cache_key, provider, model, text, prompt_preview, system_preview, cached_at FROM model_cache WHERE cache_key = ?",
		key,
	).Scan(&entry.Key, &entry.Provider, &entry.Model, &entry.Text, &entry.PromptPreview, &entry.SystemPreview, &entry.CachedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query cache entry: %w", err)
	}
	return &entry, nil
}

func (s *SQLiteStore) PutCacheEntry(ctx context.Context, entry *CacheEntry) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO model_cache (cache_key, provider, model, text, prompt_preview, system_preview, cached_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(cache_key) DO UPDATE SET
            provider = excluded.provider,
            model = excluded.model,
            text = excluded.text,
            prompt_preview = excluded.prompt_preview,
            system_preview = excluded.system_preview,
            cached_at = excluded.cached_at`,
		entry.Key, entry.Provider, entry.Model, entry.Text, entry.PromptPreview, entry.SystemPreview, entry.CachedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert cache entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpsertChunk(ctx context.Context, chunk *VectorChunk) error {
	embeddingBytes, err := json.Marshal(chunk.Embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO vector_chunks (id, namespace, source_path, text, text_preview, embedding_json, embedding_dims, embedding_model, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            namespace = excluded.namespace,
            source_path = excluded.source_path,
            text = excluded.text,
            text_preview = excluded.text_preview,
            embedding_json = excluded.embedding_json,
            embedding_dims = excluded.embedding_dims,
            embedding_model = excluded.embedding_model,
            updated_at = excluded.updated_at`,
		chunk.ID, chunk.Namespace, chunk.SourcePath, chunk.Text, chunk.TextPreview,
		string(embeddingBytes), chunk.EmbeddingDims, chunk.EmbeddingModel, chunk.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert vector chunk: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ScanChunks(ctx context.Context, namespace string, limit int) ([]VectorChunk, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, namespace, source_path, text, text_preview, embedding_json, embedding_dims, embedding_model, updated_at FROM vector_chunks WHERE namespace = ? LIMIT ?",
		namespace, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query vector chunks: %w", err)
	}
	defer rows.Close()

	var chunks []VectorChunk
	for rows.Next() {
		var chunk VectorChunk
		var embeddingJSON string
		if err := rows.Scan(&chunk.ID, &chunk.Namespace, &chunk.SourcePath, &chunk.Text, &chunk.TextPreview,
			&embeddingJSON, &chunk.EmbeddingDims, &chunk.EmbeddingModel, &chunk.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan vector chunk row: %w", err)
		}
		if embeddingJSON != "" {
			if err := json.Unmarshal([]byte(embeddingJSON), &chunk.Embedding); err != nil {
				// A chunk with an unreadable embedding scores as
				// incomparable downstream; keep the record itself.
				chunk.Embedding = nil
			}
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

func (s *SQLiteStore) UpsertThread(ctx context.Context, thread *Thread) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO threads (id, owner_uid, owner_email, last_provider, last_model, updated_at)
        VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            owner_uid = excluded.owner_uid,
            owner_email = excluded.owner_email,
            last_provider = excluded.last_provider,
            last_model = excluded.last_model,
            updated_at = excluded.updated_at`,
		thread.ID, thread.OwnerUID, thread.OwnerEmail, thread.LastProvider, thread.LastModel, thread.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert thread: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) error {
	id := msg.ID
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO messages (id, thread_id, role, provider, model, text, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		id, msg.ThreadID, msg.Role, msg.Provider, msg.Model, msg.Text, createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecentMessages(ctx context.Context, threadID string, limit int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, thread_id, role, provider, model, text, created_at FROM (
            SELECT id, thread_id, role, provider, model, text, created_at
            FROM messages
            WHERE thread_id = ?
            ORDER BY created_at DESC
            LIMIT ?
        ) ORDER BY created_at ASC`,
		threadID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.ThreadID, &msg.Role, &msg.Provider, &msg.Model, &msg.Text, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (s *SQLiteStore) AddArtifact(ctx context.Context, artifact *Artifact) error {
	id := artifact.ID
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := artifact.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	fieldsJSON, err := json.Marshal(artifact.Fields)
	if err != nil {
		return fmt.Errorf("failed to marshal artifact fields: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO artifacts (id, type, fields_json, created_at) VALUES (?, ?, ?, ?)",
		id, artifact.Type, string(fieldsJSON), createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert artifact: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AddLearningEvent(ctx context.Context, event *LearningEvent) error {
	id := event.ID
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO learning_events (id, source, summary, learned_at, created_at) VALUES (?, ?, ?, ?, ?)",
		id, event.Source, event.Summary, event.LearnedAt, createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert learning event: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpsertTask(ctx context.Context, task *Task) error {
	updatedAt := task.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO tasks (id, title, priority, status, details, updated_at)
        VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            title = excluded.title,
            priority = excluded.priority,
            status = excluded.status,
            details = excluded.details,
            updated_at = excluded.updated_at`,
		task.ID, task.Title, task.Priority, task.Status, task.Details, updatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert task: %w", err)
	}
	return nil
}
