package alerting

import (
	"sync"
	"time"
)

// Cooldown suppresses repeated signals for the same source within a window.
type Cooldown struct {
	window time.Duration

	mu   sync.Mutex
	last map[string]time.Time
}

// NewCooldown builds a gate; a non-positive window lets every signal through.
func NewCooldown(window time.Duration) *Cooldown {
	return &Cooldown{window: window, last: make(map[string]time.Time)}
}

// Allow reports whether a signal for source at now may be emitted and, if so,
// records it as the latest emission.
func (c *Cooldown) Allow(source string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.last[source]; ok && c.window > 0 && now.Sub(prev) < c.window {
		return false
	}
	c.last[source] = now
	return true
}
