package store

import (
	"math/big"
	"time"

	"github.com/veilmarkets/veil-trader/internal/field"
)

// Position is the locally cached private record of an open position. The
// big-number fields are serialized as strings so the JSON form survives any
// backend unchanged.
type Position struct {
	Commitment   field.Commitment128 `json:"commitment"`
	Market       string              `json:"market"`
	IsLong       bool                `json:"is_long"`
	MarginWei    string              `json:"margin_wei,omitempty"`
	EntryPrice   string              `json:"entry_price,omitempty"`
	Size         string              `json:"size,omitempty"`
	Leverage     uint                `json:"leverage"`
	TraderSecret string              `json:"trader_secret,omitempty"`
	OpenedAt     time.Time           `json:"opened_at"`
}

// Key is the cache key this position is stored under.
func (p *Position) Key() string {
	return p.Commitment.CacheKey()
}

// MarginBig parses the cached margin. Returns nil when unset.
func (p *Position) MarginBig() *big.Int {
	return parseBig(p.MarginWei)
}

// SecretBig parses the cached trader secret. Returns nil when unset.
func (p *Position) SecretBig() *big.Int {
	return parseBig(p.TraderSecret)
}

// EntryPriceBig parses the cached integer-scaled entry price. Returns nil
// when unset.
func (p *Position) EntryPriceBig() *big.Int {
	return parseBig(p.EntryPrice)
}

// SizeBig parses the cached position size in wei. Returns nil when unset.
func (p *Position) SizeBig() *big.Int {
	return parseBig(p.Size)
}

func parseBig(s string) *big.Int {
	if s == "" {
		return nil
	}
	x, err := field.ToScalar(s)
	if err != nil {
		return nil
	}
	return x
}
