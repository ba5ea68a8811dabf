package server

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestRateLimiterBurstThenRefill(t *testing.T) {
	clock := &manualClock{now: time.Unix(0, 0)}
	rl := newRateLimiterWithClock(RateLimitConfig{Burst: 3, RefillInterval: 3 * time.Second}, clock.Now)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.allow(), "message %d within burst", i)
	}
	assert.False(t, rl.allow())

	clock.Advance(time.Second)
	assert.True(t, rl.allow(), "one token per second")
	assert.False(t, rl.allow())

	clock.Advance(time.Hour)
	for i := 0; i < 3; i++ {
		assert.True(t, rl.allow())
	}
	assert.False(t, rl.allow(), "refill is capped at the burst")
}

func TestRateLimiterDefaults(t *testing.T) {
	clock := &manualClock{now: time.Unix(0, 0)}
	rl := newRateLimiterWithClock(RateLimitConfig{}, clock.Now)

	assert.True(t, rl.allow())
	assert.False(t, rl.allow())
	clock.Advance(time.Second)
	assert.True(t, rl.allow())
}
