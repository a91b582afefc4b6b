// Package prices caches the last observed trade price per asset.
// Last write wins; the single price consumer per asset is the only writer.
package prices

import (
	"sync"

	"levx/internal/types"
)

type Cache struct {
	mu     sync.RWMutex
	latest map[types.Asset]int64
}

func NewCache() *Cache {
	return &Cache{latest: make(map[types.Asset]int64)}
}

func (c *Cache) Set(asset types.Asset, priceCents int64) {
	c.mu.Lock()
	c.latest[asset] = priceCents
	c.mu.Unlock()
}

func (c *Cache) Get(asset types.Asset) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.latest[asset]
	return p, ok
}
