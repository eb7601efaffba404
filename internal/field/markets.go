package field

import (
	"math/big"
	"strings"
)

// marketSymbols maps market names to their canonical encodings: the
// big-endian ASCII bytes of the symbol read as an integer. "BTC/USD" is
// 0x4254432f555344. The table is the only place symbols are defined; every
// ledger call for a position must go through NormalizeMarketID so deposit,
// lock, open, and close all land in the same user/market bucket.
var marketSymbols = map[string]string{
	"BTC/USD":  "0x4254432f555344",
	"ETH/USD":  "0x4554482f555344",
	"SOL/USD":  "0x534f4c2f555344",
	"AVAX/USD": "0x415641582f555344",
}

// NormalizeMarketID resolves a market name or raw hex identifier into its
// single canonical scalar encoding. Hex spellings that differ only in case
// or leading zeros normalize identically because the value round-trips
// through big-integer parsing. Unrecognized names fail with
// ErrUnknownMarket.
func NormalizeMarketID(market string) (*big.Int, error) {
	s := strings.TrimSpace(market)
	if hex, ok := marketSymbols[strings.ToUpper(s)]; ok {
		s = hex
	}
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return nil, errUnknownMarket(market)
	}
	id, err := ToScalar(s)
	if err != nil {
		return nil, errUnknownMarket(market)
	}
	return id, nil
}

func errUnknownMarket(market string) error {
	return &MarketError{Market: market, Err: ErrUnknownMarket}
}

// MarketError carries the offending spelling alongside ErrUnknownMarket.
type MarketError struct {
	Market string
	Err    error
}

func (e *MarketError) Error() string {
	return e.Err.Error() + ": " + e.Market
}

func (e *MarketError) Unwrap() error {
	return e.Err
}

// KnownMarkets returns the configured symbol names.
func KnownMarkets() []string {
	names := make([]string, 0, len(marketSymbols))
	for name := range marketSymbols {
		names = append(names, name)
	}
	return names
}
