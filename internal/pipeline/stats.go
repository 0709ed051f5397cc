package pipeline

import (
	"sync"
	"time"
)

// Statistics are the rolling counters persisted across sessions. Only settled
// requests count toward Total/Successful/Failed; intermediate failures that
// were retried are counted in Retries instead.
type Statistics struct {
	TotalRequests         int64     `json:"totalRequests"`
	SuccessfulRequests    int64     `json:"successfulRequests"`
	FailedRequests        int64     `json:"failedRequests"`
	Retries               int64     `json:"retries"`
	CacheHits             int64     `json:"cacheHits"`
	TotalTokensUsed       int64     `json:"totalTokensUsed"`
	AverageResponseTimeMs float64   `json:"averageResponseTime"`
	LastRequestTime       time.Time `json:"lastRequestTime"`
}

// statsTracker guards Statistics and decides when they are due for persistence.
type statsTracker struct {
	mu           sync.Mutex
	stats        Statistics
	persistEvery int64
}

func newStatsTracker(persistEvery int) *statsTracker {
	return &statsTracker{persistEvery: int64(persistEvery)}
}

func (s *statsTracker) restore(saved Statistics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = saved
}

func (s *statsTracker) snapshot() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// recordSuccess folds latency into the running average and reports whether
// the statistics should now be persisted.
func (s *statsTracker) recordSuccess(latency time.Duration, tokens int, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.TotalRequests++
	s.stats.SuccessfulRequests++
	s.stats.LastRequestTime = now

	ms := float64(latency) / float64(time.Millisecond)
	n := float64(s.stats.SuccessfulRequests)
	s.stats.AverageResponseTimeMs += (ms - s.stats.AverageResponseTimeMs) / n

	if tokens > 0 {
		s.stats.TotalTokensUsed += int64(tokens)
	}
	return s.persistDue()
}

func (s *statsTracker) recordFailure(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.TotalRequests++
	s.stats.FailedRequests++
	s.stats.LastRequestTime = now
	return s.persistDue()
}

func (s *statsTracker) recordRetry() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Retries++
}

func (s *statsTracker) recordCacheHit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.CacheHits++
}

func (s *statsTracker) persistDue() bool {
	return s.persistEvery > 0 && s.stats.TotalRequests%s.persistEvery == 0
}
