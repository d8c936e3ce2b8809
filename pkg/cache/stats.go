package cache

import "sync"

// cacheStats tracks cache performance metrics
type cacheStats struct {
	mu            sync.RWMutex
	totalHits     int64
	totalMisses   int64
	evictionCount int64
}

func (s *cacheStats) recordHit() {
	s.mu.Lock()
	s.totalHits++
	s.mu.Unlock()
}

func (s *cacheStats) recordMiss() {
	s.mu.Lock()
	s.totalMisses++
	s.mu.Unlock()
}

func (s *cacheStats) recordEvictions(n int) {
	s.mu.Lock()
	s.evictionCount += int64(n)
	s.mu.Unlock()
}

func (s *cacheStats) snapshot(keyCount int) CacheStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := CacheStats{
		KeyCount:      keyCount,
		EvictionCount: int(s.evictionCount),
		TotalHits:     s.totalHits,
		TotalMisses:   s.totalMisses,
	}
	if total := s.totalHits + s.totalMisses; total > 0 {
		stats.HitRate = float64(s.totalHits) / float64(total)
		stats.MissRate = float64(s.totalMisses) / float64(total)
	}
	return stats
}
