package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store used for local development and
// tests. Writes are last-write-wins, matching the storage-layer
// guarantees the gateway relies on.
type MemoryStore struct {
	mu       sync.RWMutex
	cache    map[string]CacheEntry
	chunks   map[string]VectorChunk
	byNS     map[string][]string // namespace -> chunk ids, insertion order
	threads  map[string]Thread
	messages map[string][]Message
	events   []LearningEvent
	tasks    map[string]Task
	arts     []Artifact
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cache:    make(map[string]CacheEntry),
		chunks:   make(map[string]VectorChunk),
		byNS:     make(map[string][]string),
		threads:  make(map[string]Thread),
		messages: make(map[string][]Message),
		tasks:    make(map[string]Task),
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) GetCacheEntry(_ context.Context, key string) (*CacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.cache[key]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (s *MemoryStore) PutCacheEntry(_ context.Context, entry *CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[entry.Key] = *entry
	return nil
}

func (s *MemoryStore) UpsertChunk(_ context.Context, chunk *VectorChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.chunks[chunk.ID]; !exists {
		s.byNS[chunk.Namespace] = append(s.byNS[chunk.Namespace], chunk.ID)
	}
	s.chunks[chunk.ID] = *chunk
	return nil
}

func (s *MemoryStore) ScanChunks(_ context.Context, namespace string, limit int) ([]VectorChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byNS[namespace]
	out := make([]VectorChunk, 0, min(limit, len(ids)))
	for _, id := range ids {
		if len(out) >= limit {
			break
		}
		out = append(out, s.chunks[id])
	}
	return out, nil
}

func (s *MemoryStore) UpsertThread(_ context.Context, thread *Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[thread.ID] = *thread
	return nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *msg
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.messages[msg.ThreadID] = append(s.messages[msg.ThreadID], stored)
	return nil
}

func (s *MemoryStore) RecentMessages(_ context.Context, threadID string, limit int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[threadID]
	sorted := make([]Message, len(msgs))
	copy(sorted, msgs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})
	if len(sorted) > limit {
		sorted = sorted[len(sorted)-limit:]
	}
	return sorted, nil
}

func (s *MemoryStore) AddArtifact(_ context.Context, artifact *Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *artifact
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.arts = append(s.arts, stored)
	return nil
}

func (s *MemoryStore) AddLearningEvent(_ context.Context, event *LearningEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *event
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.events = append(s.events, stored)
	return nil
}

func (s *MemoryStore) UpsertTask(_ context.Context, task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = *task
	return nil
}

// Artifacts returns a copy of the audit log, newest last. Test helper.
func (s *MemoryStore) Artifacts() []Artifact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Artifact, len(s.arts))
	copy(out, s.arts)
	return out
}
