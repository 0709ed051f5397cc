package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestRateWindow_Reserve(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	w := NewRateWindow(3, time.Minute)

	assert.Zero(t, w.Reserve(t0))
	assert.Zero(t, w.Reserve(t0.Add(10*time.Second)))
	assert.Zero(t, w.Reserve(t0.Add(20*time.Second)))
	assert.Equal(t, 3, w.Len(t0.Add(20*time.Second)))

	// Full: wait until the oldest send leaves the window.
	assert.Equal(t, 30*time.Second, w.Reserve(t0.Add(30*time.Second)))
	assert.Equal(t, 3, w.Len(t0.Add(30*time.Second)), "a refused reservation records nothing")

	// Exactly one window after the oldest send there is room again.
	assert.Zero(t, w.Reserve(t0.Add(time.Minute)))
	assert.Equal(t, 3, w.Len(t0.Add(time.Minute)))
	assert.Equal(t, 1, w.Len(t0.Add(80*time.Second)))

	w.Reset()
	assert.Equal(t, 0, w.Len(t0.Add(80*time.Second)))
	assert.Equal(t, 3, w.Limit())
}

// At no point may more than limit sends fall within one trailing window, and
// waiting for the returned delay always leads to a successful reservation.
func TestRateWindow_NeverExceedsLimit(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		limit := rapid.IntRange(1, 10).Draw(t, "limit")
		window := time.Duration(rapid.IntRange(1, 120).Draw(t, "window_s")) * time.Second
		gaps := rapid.SliceOfN(rapid.IntRange(0, 30_000), 1, 200).Draw(t, "gaps_ms")

		w := NewRateWindow(limit, window)
		now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		var granted []time.Time

		for _, gap := range gaps {
			now = now.Add(time.Duration(gap) * time.Millisecond)
			for {
				delay := w.Reserve(now)
				if delay <= 0 {
					granted = append(granted, now)
					break
				}
				if delay > window {
					t.Fatalf("delay %v exceeds window %v", delay, window)
				}
				now = now.Add(delay)
			}
		}

		for i := range granted {
			inWindow := 0
			for j := i; j < len(granted) && granted[j].Sub(granted[i]) < window; j++ {
				inWindow++
			}
			if inWindow > limit {
				t.Fatalf("%d sends within one window starting at %v, limit %d", inWindow, granted[i], limit)
			}
		}
	})
}
