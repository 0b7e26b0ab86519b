package nav

import (
	"sync"
	"time"
)

const (
	defaultLoopThreshold = 3
	defaultLoopWindow    = 10 * time.Second
)

type transitionKey struct {
	from string
	to   string
}

// Breaker detects navigation cycles. When the same from/to transition
// repeats more than the threshold within the window, the breaker trips and
// all automatic navigation stays disabled until Reset is called. This
// guarantees the guard cannot re-enter an infinite redirect cycle.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	window    time.Duration
	now       func() time.Time
	seen      map[transitionKey][]time.Time
	tripped   bool
}

// NewBreaker creates a breaker with the default threshold and window.
func NewBreaker() *Breaker {
	return &Breaker{
		threshold: defaultLoopThreshold,
		window:    defaultLoopWindow,
		now:       time.Now,
		seen:      make(map[transitionKey][]time.Time),
	}
}

// Record counts one from/to transition. It returns true when this
// transition trips the breaker.
func (b *Breaker) Record(from, to string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tripped {
		return false
	}
	now := b.now()
	key := transitionKey{from: from, to: to}
	times := append(b.seen[key], now)
	times = trimWindow(times, now, b.window)
	b.seen[key] = times
	if len(times) > b.threshold {
		b.tripped = true
		return true
	}
	return false
}

// Tripped reports whether automatic navigation is disabled.
func (b *Breaker) Tripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tripped
}

// Reset re-enables automatic navigation and clears the transition history.
func (b *Breaker) Reset() {
	b.mu.Lock()
	b.tripped = false
	b.seen = make(map[transitionKey][]time.Time)
	b.mu.Unlock()
}

// trimWindow removes entries older than (now - window) from the sorted slice.
func trimWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	start := 0
	for start < len(times) && times[start].Before(cutoff) {
		start++
	}
	return times[start:]
}
