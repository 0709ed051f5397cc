package pipeline

import (
	"sync"
	"time"
)

// RateWindow is a strict sliding-window limiter: at most limit sends may be
// recorded within any trailing window. Unlike a token bucket it never allows
// a burst above the ceiling, however quiet the preceding minutes were.
type RateWindow struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	stamps []time.Time // oldest first
}

// NewRateWindow creates a limiter admitting limit sends per window.
func NewRateWindow(limit int, window time.Duration) *RateWindow {
	return &RateWindow{
		limit:  limit,
		window: window,
		stamps: make([]time.Time, 0, limit),
	}
}

// Reserve records a send at now if the window has capacity and returns zero.
// Otherwise nothing is recorded and the returned duration is how long until
// the oldest recorded send leaves the window.
func (w *RateWindow) Reserve(now time.Time) time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.purge(now)
	if len(w.stamps) < w.limit {
		w.stamps = append(w.stamps, now)
		return 0
	}
	return w.stamps[0].Add(w.window).Sub(now)
}

// Len returns the number of sends still inside the window at now.
func (w *RateWindow) Len(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.purge(now)
	return len(w.stamps)
}

// Limit returns the ceiling.
func (w *RateWindow) Limit() int {
	return w.limit
}

// Reset forgets every recorded send.
func (w *RateWindow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stamps = w.stamps[:0]
}

// purge drops stamps at or before now-window. A stamp exactly one window old
// has left the window, so a caller that slept for the delay Reserve returned
// always finds capacity.
func (w *RateWindow) purge(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}
