package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type cacheEntry struct {
	content   string
	expiresAt time.Time
}

// MemoryStore keeps state in process. The page cache is a bounded LRU,
// so old pages may be evicted before their TTL.
type MemoryStore struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	pages *lru.Cache[string, cacheEntry]
	now   func() time.Time
}

// NewMemoryStore creates an in-process store caching at most maxPages pages.
func NewMemoryStore(maxPages int) (*MemoryStore, error) {
	pages, err := lru.New[string, cacheEntry](maxPages)
	if err != nil {
		return nil, fmt.Errorf("failed to create page cache: %w", err)
	}
	return &MemoryStore{
		seen:  make(map[string]struct{}),
		pages: pages,
		now:   time.Now,
	}, nil
}

// MarkSeen adds url to the seen set and reports whether it was new.
func (s *MemoryStore) MarkSeen(_ context.Context, url string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[url]; ok {
		return false, nil
	}
	s.seen[url] = struct{}{}
	return true, nil
}

// TryGet returns cached content that has not yet expired.
func (s *MemoryStore) TryGet(_ context.Context, url string) (string, bool, error) {
	entry, ok := s.pages.Get(url)
	if !ok {
		return "", false, nil
	}
	if !s.now().Before(entry.expiresAt) {
		s.pages.Remove(url)
		return "", false, nil
	}
	return entry.content, true, nil
}

// Put caches content until ttl elapses. Empty content is not stored.
func (s *MemoryStore) Put(_ context.Context, url, content string, ttl time.Duration) error {
	if content == "" {
		return nil
	}
	s.pages.Add(url, cacheEntry{content: content, expiresAt: s.now().Add(ttl)})
	return nil
}

// Reset clears the seen set.
func (s *MemoryStore) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seen = make(map[string]struct{})
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
