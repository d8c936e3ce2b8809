package cache

import (
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jonboulle/clockwork"
)

// MemoryCache is a process-local cache bounded by entry count. The least
// recently used entry is evicted once MaxEntries is reached.
type MemoryCache struct {
	entries *lru.Cache[string, Entry]
	clock   clockwork.Clock
	stats   *cacheStats
}

func NewMemoryCache(config CacheConfig, clock clockwork.Clock) (*MemoryCache, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	entries, err := lru.New[string, Entry](config.MaxEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to create lru cache: %w", err)
	}
	return &MemoryCache{entries: entries, clock: clock, stats: &cacheStats{}}, nil
}

func (m *MemoryCache) Get(key string) (Entry, bool, error) {
	entry, ok := m.entries.Get(key)
	if !ok {
		m.stats.recordMiss()
		return Entry{}, false, nil
	}
	if !entry.Valid(m.clock.Now()) {
		m.entries.Remove(key)
		m.stats.recordMiss()
		return Entry{}, false, nil
	}
	m.stats.recordHit()
	return entry, true, nil
}

// Set stores entry; only entries pushed out for capacity count as evictions.
func (m *MemoryCache) Set(entry Entry) error {
	if evicted := m.entries.Add(entry.Key, entry); evicted {
		m.stats.recordEvictions(1)
	}
	return nil
}

func (m *MemoryCache) Invalidate(pattern string) (int, error) {
	removed := 0
	for _, key := range m.entries.Keys() {
		if strings.Contains(key, pattern) && m.entries.Remove(key) {
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryCache) Clear() error {
	m.entries.Purge()
	return nil
}

func (m *MemoryCache) GetCacheStats() CacheStats {
	return m.stats.snapshot(m.entries.Len())
}

func (m *MemoryCache) Close() error {
	return m.Clear()
}
