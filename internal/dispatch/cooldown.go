package dispatch

import (
	"sync"
	"time"
)

// cooldowns tracks per-(command, actor) and per-(command, guild) windows.
// A denied check never restarts a window: only a check that passes records
// new expiries.
type cooldowns struct {
	mu    sync.Mutex
	until map[string]time.Time
}

func newCooldowns() *cooldowns {
	return &cooldowns{until: make(map[string]time.Time)}
}

// check returns the remaining wait when either window is still open, or 0
// after recording fresh windows for the allowed invocation.
func (c *cooldowns) check(name, actorID, guildID string, user, guild time.Duration) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	userKey := name + "\x00u\x00" + actorID
	guildKey := name + "\x00g\x00" + guildID

	var remaining time.Duration
	if user > 0 {
		remaining = maxDuration(remaining, c.remaining(userKey, now))
	}
	if guild > 0 && guildID != "" {
		remaining = maxDuration(remaining, c.remaining(guildKey, now))
	}
	if remaining > 0 {
		return remaining
	}

	if user > 0 {
		c.until[userKey] = now.Add(user)
	}
	if guild > 0 && guildID != "" {
		c.until[guildKey] = now.Add(guild)
	}
	return 0
}

// remaining also evicts entries whose window has passed, so the map does not
// grow without bound.
func (c *cooldowns) remaining(key string, now time.Time) time.Duration {
	expires, ok := c.until[key]
	if !ok {
		return 0
	}
	if !expires.After(now) {
		delete(c.until, key)
		return 0
	}
	return expires.Sub(now)
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
