// Package cache keys and ages model responses so repeat prompts skip
// the upstream provider call.
package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/maroonops/signal-console/internal/ids"
	"github.com/maroonops/signal-console/internal/store"
)

const (
	// DefaultTTLSeconds applies when the caller does not ask for a TTL.
	DefaultTTLSeconds = 21600
	// MaxTTLSeconds caps caller-supplied TTLs at seven days.
	MaxTTLSeconds = 604800
)

// Key derives the deterministic cache key for a generation request.
// The same provider, model, system and prompt always hit the same
// entry.
func Key(provider, model, system, prompt string) string {
	return ids.Derive("mcache", provider, model, system, prompt)
}

// ClampTTL normalizes a requested TTL into [0, MaxTTLSeconds]. A TTL
// of zero disables reuse for that request while still recording the
// response for future callers.
func ClampTTL(seconds int) int {
	if seconds < 0 {
		return 0
	}
	if seconds > MaxTTLSeconds {
		return MaxTTLSeconds
	}
	return seconds
}

// Service wraps a CacheStore with TTL checks and best-effort writes.
type Service struct {
	store store.CacheStore
	log   *zap.Logger
	now   func() time.Time
}

func NewService(st store.CacheStore, log *zap.Logger) *Service {
	return &Service{store: st, log: log, now: time.Now}
}

// Lookup returns the cached entry for key if one exists and is
// younger than ttlSeconds. Store errors degrade to a miss; the
// gateway never fails a request because the cache is unavailable.
func (s *Service) Lookup(ctx context.Context, key string, ttlSeconds int) *store.CacheEntry {
	entry, err := s.store.GetCacheEntry(ctx, key)
	if err != nil {
		s.log.Warn("cache read failed", zap.String("cache_key", key), zap.Error(err))
		return nil
	}
	if entry == nil {
		return nil
	}
	age := s.now().Sub(entry.CachedAt)
	if age > time.Duration(ttlSeconds)*time.Second {
		return nil
	}
	return entry
}

// Store writes the entry, logging instead of failing on error.
func (s *Service) Store(ctx context.Context, entry *store.CacheEntry) {
	if entry.CachedAt.IsZero() {
		entry.CachedAt = s.now().UTC()
	}
	if err := s.store.PutCacheEntry(ctx, entry); err != nil {
		s.log.Warn("cache write failed", zap.String("cache_key", entry.Key), zap.Error(err))
	}
}
