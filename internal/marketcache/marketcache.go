// Package marketcache is the Bot Manager's shared last-price cache:
// readers get a cached tick if it is fresher than the spec's 30s window,
// else fall through to the exchange gateway. Grounded on the teacher's
// go-redis usage (internal/database/redis_position_state.go) but scoped
// down to exactly this one responsibility; Redis is optional; a process-
// local map is the fallback so a single-operator deployment doesn't need
// Redis just to run.
package marketcache

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"cyphertrade/internal/exchange"
)

// MaxAge is the spec's freshness window: a cached price older than this
// is not served, and the caller must fall through to the gateway.
const MaxAge = 30 * time.Second

type entry struct {
	price float64
	at    time.Time
}

// Cache is the shared last-price cache. Written only by its own refresh
// loop (or by Get's fallback fetch); read by any component.
type Cache struct {
	gateway exchange.Gateway
	redis   *redis.Client

	mu    sync.RWMutex
	local map[string]entry
}

// New builds a Cache. rdb may be nil, in which case the cache is
// process-local only.
func New(gateway exchange.Gateway, rdb *redis.Client) *Cache {
	return &Cache{gateway: gateway, redis: rdb, local: make(map[string]entry)}
}

// Get returns the freshest known price for symbol: the cached value if
// its age is within MaxAge, else a fresh fetch from the gateway (which
// also refreshes the cache).
func (c *Cache) Get(ctx context.Context, symbol string) (float64, error) {
	if p, ok := c.readFresh(symbol); ok {
		return p, nil
	}
	return c.refresh(ctx, symbol)
}

func (c *Cache) readFresh(symbol string) (float64, bool) {
	c.mu.RLock()
	e, ok := c.local[symbol]
	c.mu.RUnlock()
	if ok && time.Since(e.at) <= MaxAge {
		return e.price, true
	}

	if c.redis == nil {
		return 0, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	val, err := c.redis.Get(ctx, redisKey(symbol)).Float64()
	if err != nil {
		return 0, false
	}
	return val, true
}

// refresh fetches symbol's current price from the gateway and writes it
// into both the local map and Redis (when configured).
func (c *Cache) refresh(ctx context.Context, symbol string) (float64, error) {
	price, err := c.gateway.Price(ctx, symbol)
	if err != nil {
		return 0, err
	}
	c.Set(symbol, price)
	return price, nil
}

// Set writes a fresh price directly, used by the sweeping refresher task.
func (c *Cache) Set(symbol string, price float64) {
	c.mu.Lock()
	c.local[symbol] = entry{price: price, at: time.Now()}
	c.mu.Unlock()

	if c.redis == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c.redis.Set(ctx, redisKey(symbol), price, MaxAge)
}

// RunRefresher periodically refreshes every symbol in the watch set until
// ctx is cancelled - the "single sweeping task" option the spec allows
// instead of one refresher goroutine per symbol.
func (c *Cache) RunRefresher(ctx context.Context, watchSet func() []string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, symbol := range watchSet() {
				if price, err := c.gateway.Price(ctx, symbol); err == nil {
					c.Set(symbol, price)
				}
			}
		}
	}
}

func redisKey(symbol string) string {
	return "cyphertrade:price:" + symbol
}
