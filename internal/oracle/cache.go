// Package oracle consumes the venue's price feed. Quotes enter through the
// websocket Feed and are read through an explicit TTL cache object handed to
// whichever component needs a staleness check; there is no ambient
// process-wide price state.
package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ErrStaleQuote is returned when a cached quote has outlived the TTL or the
// market has never been quoted.
var ErrStaleQuote = errors.New("stale or missing quote")

// PriceScale is the integer scaling applied to oracle prices in circuit
// inputs (6 decimals, matching the feed's publication precision).
const PriceScale = 6

// Quote is one price observation for a market.
type Quote struct {
	Market      string
	Price       decimal.Decimal
	SourceCount uint
	Timestamp   time.Time
}

// ScaledPrice returns the price as the integer-scaled value circuit inputs
// carry.
func (q Quote) ScaledPrice() *big.Int {
	return q.Price.Shift(PriceScale).Round(0).BigInt()
}

// Age reports how old the quote is.
func (q Quote) Age() time.Duration {
	return time.Since(q.Timestamp)
}

// Cache holds the latest quote per market with a fixed TTL.
type Cache struct {
	mu     sync.RWMutex
	ttl    time.Duration
	quotes map[string]Quote
}

// NewCache creates a quote cache with the given TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{ttl: ttl, quotes: make(map[string]Quote)}
}

// Update stores the latest quote for its market.
func (c *Cache) Update(q Quote) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quotes[q.Market] = q
}

// Get returns the cached quote for a market, failing with ErrStaleQuote if
// none exists or it is older than the TTL.
func (c *Cache) Get(market string) (Quote, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.quotes[market]
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s never quoted", ErrStaleQuote, market)
	}
	if q.Age() > c.ttl {
		return Quote{}, fmt.Errorf("%w: %s is %s old", ErrStaleQuote, market, q.Age().Truncate(time.Millisecond))
	}
	return q, nil
}

// Markets returns the markets with a cached quote, stale or not.
func (c *Cache) Markets() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.quotes))
	for m := range c.quotes {
		out = append(out, m)
	}
	return out
}
