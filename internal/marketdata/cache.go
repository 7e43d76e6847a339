package marketdata

import (
	"sync"

	"github.com/marketsim/tradecore/pkg/models"
)

// Cache holds the latest known quote per symbol and the latest option chain
// per underlying. Writes are last-write-wins with a monotonic timestamp
// guard: an update strictly older than the cached one is discarded.
type Cache struct {
	mu     sync.RWMutex
	prices map[string]models.PriceUpdate
	chains map[string]models.OptionChainSnapshot
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{
		prices: make(map[string]models.PriceUpdate),
		chains: make(map[string]models.OptionChainSnapshot),
	}
}

// Put stores an update unless a newer one is already cached. It reports
// whether the update was applied.
func (c *Cache) Put(u models.PriceUpdate) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.prices[u.Symbol]; ok && u.Timestamp.Before(cur.Timestamp) {
		return false
	}
	c.prices[u.Symbol] = u
	return true
}

// Get returns the cached quote for a symbol.
func (c *Cache) Get(symbol string) (models.PriceUpdate, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.prices[symbol]
	return u, ok
}

// Snapshot copies all cached quotes.
func (c *Cache) Snapshot() map[string]models.PriceUpdate {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]models.PriceUpdate, len(c.prices))
	for k, v := range c.prices {
		out[k] = v
	}
	return out
}

// PutChain replaces the chain for an underlying wholesale. Chains carry their
// own timestamp; a strictly older snapshot is discarded.
func (c *Cache) PutChain(snap models.OptionChainSnapshot) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.chains[snap.Underlying]; ok && snap.LastUpdated.Before(cur.LastUpdated) {
		return false
	}
	c.chains[snap.Underlying] = snap
	return true
}

// GetChain returns the cached chain for an underlying.
func (c *Cache) GetChain(underlying string) (models.OptionChainSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.chains[underlying]
	return snap, ok
}
