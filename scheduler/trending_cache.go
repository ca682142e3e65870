package scheduler

import (
	"sync"

	"ringhub.sh/ringhub/core/db"
)

// TrendingCache holds the last computed trending snapshot per window,
// read by HTTP handlers so the trending endpoint never blocks on a live
// query. Safe for concurrent use.
type TrendingCache struct {
	mu   sync.RWMutex
	data map[string][]*db.Ring
}

func NewTrendingCache() *TrendingCache {
	return &TrendingCache{data: map[string][]*db.Ring{}}
}

func (c *TrendingCache) Set(window string, rings []*db.Ring) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[window] = rings
}

// Get returns the cached rings for window, or nil if it hasn't been
// populated yet.
func (c *TrendingCache) Get(window string) []*db.Ring {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data[window]
}
