// Package cache provides the response cache for combined search results.
// Caching is best-effort everywhere: backends report errors, callers log and
// move on.
package cache

import (
	"context"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/alex-user-go/listings/internal/search/types"
)

// Cache stores immutable CombinedResult snapshots keyed by exact request
// parameters. Concurrent writers to the same key are acceptable; last write
// wins.
type Cache interface {
	// Get returns the cached result and whether the key was present.
	Get(ctx context.Context, key string) (*types.CombinedResult, bool, error)

	// Set stores a result under key for ttl.
	Set(ctx context.Context, key string, result *types.CombinedResult, ttl time.Duration) error

	// Clear removes all keys matching pattern (a prefix with optional
	// trailing '*').
	Clear(ctx context.Context, pattern string) error
}

type memoryEntry struct {
	result    *types.CombinedResult
	expiresAt time.Time
}

// Memory is a bounded in-memory Cache backed by an expirable LRU. Entries
// carry their own deadline so per-call TTLs shorter than the LRU's ceiling
// are honored.
type Memory struct {
	entries *lru.LRU[string, memoryEntry]
}

// NewMemory creates a Memory cache holding at most size entries, with maxTTL
// as the upper bound on any entry's lifetime.
func NewMemory(size int, maxTTL time.Duration) *Memory {
	return &Memory{
		entries: lru.NewLRU[string, memoryEntry](size, nil, maxTTL),
	}
}

// Get returns the cached result for key, if present and not expired.
func (m *Memory) Get(_ context.Context, key string) (*types.CombinedResult, bool, error) {
	entry, ok := m.entries.Get(key)
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false, nil
	}
	return entry.result, true, nil
}

// Set stores a result under key for ttl.
func (m *Memory) Set(_ context.Context, key string, result *types.CombinedResult, ttl time.Duration) error {
	m.entries.Add(key, memoryEntry{
		result:    result,
		expiresAt: time.Now().Add(ttl),
	})
	return nil
}

// Clear removes all keys matching pattern.
func (m *Memory) Clear(_ context.Context, pattern string) error {
	prefix := strings.TrimSuffix(pattern, "*")
	for _, key := range m.entries.Keys() {
		if strings.HasPrefix(key, prefix) {
			m.entries.Remove(key)
		}
	}
	return nil
}
