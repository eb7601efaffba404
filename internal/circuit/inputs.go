// Package circuit assembles the proving-input sets for position open and
// close actions. Builders validate units and ranges before anything reaches
// the proving backend; the backend's own constraints are the final word on
// witness consistency, but a non-positive leverage or zero price should
// never get that far.
package circuit

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/veilmarkets/veil-trader/internal/field"
)

// Action discriminates the circuit's operating mode. The values are fixed
// by the circuit definition.
type Action int

const (
	ActionOpen  Action = 0
	ActionClose Action = 3
)

// ErrInvalidParameter is returned for inputs the builder can reject before
// invoking the prover. Fatal; the caller must correct the request.
var ErrInvalidParameter = errors.New("invalid parameter")

// InputSet is the full parameter set handed to the proving backend. Private
// fields never leave the client except inside the witness; public fields are
// bound into the proof and must be reproduced verbatim in calldata.
type InputSet struct {
	Action Action

	// Private witness.
	Margin       *big.Int // AmountWei
	Size         *big.Int // AmountWei
	EntryPrice   *big.Int // integer-scaled oracle price
	TraderSecret *big.Int

	// Public inputs.
	IsLong           bool
	Market           *big.Int
	OraclePrice      *big.Int
	OracleTimestamp  int64
	CurrentTimestamp int64
	SourceCount      uint
	MaxStalenessSec  int64
	Leverage         uint
	SlippageBps      uint
	FeeBps           uint

	// Close only: the collateral recorded as locked at open.
	LockedCollateral *big.Int
}

// OpenParams are the caller-supplied trade parameters for an open proof.
// Size is expected to equal margin * leverage / entryPrice under the same
// rounding used to fund the trade; the builder does not re-derive it, the
// circuit constraint does.
type OpenParams struct {
	Margin           *big.Int
	Size             *big.Int
	EntryPrice       *big.Int
	IsLong           bool
	Market           *big.Int
	OraclePrice      *big.Int
	OracleTimestamp  time.Time
	SourceCount      uint
	MaxStaleness     time.Duration
	Leverage         uint
	SlippageBps      uint
	FeeBps           uint
}

// CloseParams re-supply the private witness committed at open plus the
// current oracle reading and the locked collateral recorded for release.
type CloseParams struct {
	Margin           *big.Int
	Size             *big.Int
	EntryPrice       *big.Int
	TraderSecret     *big.Int
	IsLong           bool
	Market           *big.Int
	OraclePrice      *big.Int
	OracleTimestamp  time.Time
	SourceCount      uint
	MaxStaleness     time.Duration
	Leverage         uint
	SlippageBps      uint
	FeeBps           uint
	LockedCollateral *big.Int
}

// BuildOpenInputs validates open parameters, draws a fresh trader secret,
// and assembles the circuit input set.
func BuildOpenInputs(p OpenParams) (*InputSet, error) {
	if err := validateCommon(p.Margin, p.Size, p.EntryPrice, p.Market, p.OraclePrice, p.Leverage); err != nil {
		return nil, err
	}
	secret, err := NewTraderSecret()
	if err != nil {
		return nil, fmt.Errorf("trader secret: %w", err)
	}
	return &InputSet{
		Action:           ActionOpen,
		Margin:           p.Margin,
		Size:             p.Size,
		EntryPrice:       p.EntryPrice,
		TraderSecret:     secret,
		IsLong:           p.IsLong,
		Market:           p.Market,
		OraclePrice:      p.OraclePrice,
		OracleTimestamp:  p.OracleTimestamp.Unix(),
		CurrentTimestamp: time.Now().Unix(),
		SourceCount:      p.SourceCount,
		MaxStalenessSec:  int64(p.MaxStaleness / time.Second),
		Leverage:         p.Leverage,
		SlippageBps:      p.SlippageBps,
		FeeBps:           p.FeeBps,
	}, nil
}

// BuildCloseInputs validates close parameters and assembles the circuit
// input set. The trader secret is the one committed at open, not a fresh
// draw; without it the circuit cannot re-open the commitment.
func BuildCloseInputs(p CloseParams) (*InputSet, error) {
	if err := validateCommon(p.Margin, p.Size, p.EntryPrice, p.Market, p.OraclePrice, p.Leverage); err != nil {
		return nil, err
	}
	if p.TraderSecret == nil || p.TraderSecret.Sign() <= 0 {
		return nil, fmt.Errorf("%w: missing trader secret", ErrInvalidParameter)
	}
	if p.LockedCollateral == nil || p.LockedCollateral.Sign() <= 0 {
		return nil, fmt.Errorf("%w: locked collateral must be positive", ErrInvalidParameter)
	}
	return &InputSet{
		Action:           ActionClose,
		Margin:           p.Margin,
		Size:             p.Size,
		EntryPrice:       p.EntryPrice,
		TraderSecret:     p.TraderSecret,
		IsLong:           p.IsLong,
		Market:           p.Market,
		OraclePrice:      p.OraclePrice,
		OracleTimestamp:  p.OracleTimestamp.Unix(),
		CurrentTimestamp: time.Now().Unix(),
		SourceCount:      p.SourceCount,
		MaxStalenessSec:  int64(p.MaxStaleness / time.Second),
		Leverage:         p.Leverage,
		SlippageBps:      p.SlippageBps,
		FeeBps:           p.FeeBps,
		LockedCollateral: p.LockedCollateral,
	}, nil
}

func validateCommon(margin, size, entryPrice, market, oraclePrice *big.Int, leverage uint) error {
	if leverage == 0 {
		return fmt.Errorf("%w: leverage must be positive", ErrInvalidParameter)
	}
	for name, v := range map[string]*big.Int{
		"margin":       margin,
		"size":         size,
		"entry price":  entryPrice,
		"oracle price": oraclePrice,
	} {
		if v == nil || v.Sign() <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidParameter, name)
		}
	}
	if market == nil || market.Sign() <= 0 {
		return fmt.Errorf("%w: market id required", ErrInvalidParameter)
	}
	// Everything that ends up in the witness must already be field-bounded.
	for _, v := range []*big.Int{margin, size, entryPrice, market, oraclePrice} {
		if _, err := field.ToScalar(v); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidParameter, err)
		}
	}
	return nil
}

// NewTraderSecret draws a secret uniformly from [0, P) using the process
// CSPRNG. The secret binds the commitment to its owner; it is stored only
// in the local cache.
func NewTraderSecret() (*big.Int, error) {
	return rand.Int(rand.Reader, field.Modulus())
}
