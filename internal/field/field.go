// Package field converts between the three numeric representations every
// value in this client crosses: human decimal amounts, fixed-point wei
// integers, and scalar-field elements bounded by the proving system's
// modulus. It also owns the 128-bit commitment truncation the venue ledger
// applies to stored commitments.
package field

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/shopspring/decimal"
)

// Sentinel encoding errors. Every one of these is fatal to the operation
// that raised it; none is retried automatically.
var (
	ErrNotAnInteger  = errors.New("value is not an integer")
	ErrFieldOverflow = errors.New("value exceeds scalar field modulus")
	ErrOutOfRange    = errors.New("amount out of range")
	ErrUnknownMarket = errors.New("unknown market")
)

// Decimals is the fixed-point scale for all token amounts.
const Decimals = 18

// MaxAmount caps AmountToWei input at one billion tokens. Anything above it
// is a fat-fingered order, not collateral.
var MaxAmount = decimal.New(1, 9)

// modulus is the BN254 scalar field prime P. Every value placed into a
// proof, public-input list, or felt-typed call argument must be < P.
var modulus = fr.Modulus()

// Modulus returns a copy of the scalar field prime P.
func Modulus() *big.Int {
	return new(big.Int).Set(modulus)
}

// ToScalar parses an integer-like value (decimal string, 0x-hex string, or
// native integer) into a field-bounded big.Int. Values >= P or negative
// values fail with ErrFieldOverflow; unparsable input fails with
// ErrNotAnInteger.
func ToScalar(v any) (*big.Int, error) {
	x, err := toBigInt(v)
	if err != nil {
		return nil, err
	}
	if x.Sign() < 0 || x.CmpAbs(modulus) >= 0 {
		return nil, fmt.Errorf("%w: %s", ErrFieldOverflow, x.String())
	}
	return x, nil
}

func toBigInt(v any) (*big.Int, error) {
	switch t := v.(type) {
	case *big.Int:
		return new(big.Int).Set(t), nil
	case int:
		return big.NewInt(int64(t)), nil
	case int64:
		return big.NewInt(t), nil
	case uint64:
		return new(big.Int).SetUint64(t), nil
	case float64:
		// JSON numbers decode as float64; only integral values are allowed.
		if t != float64(int64(t)) {
			return nil, fmt.Errorf("%w: %v", ErrNotAnInteger, t)
		}
		return big.NewInt(int64(t)), nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil, fmt.Errorf("%w: empty string", ErrNotAnInteger)
		}
		neg := false
		if strings.HasPrefix(s, "-") {
			neg = true
			s = s[1:]
		}
		base := 10
		if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
			base = 16
			s = s[2:]
		}
		x, ok := new(big.Int).SetString(s, base)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrNotAnInteger, t)
		}
		if neg {
			x.Neg(x)
		}
		return x, nil
	default:
		return nil, fmt.Errorf("%w: unsupported type %T", ErrNotAnInteger, v)
	}
}

// Hex renders a scalar as its canonical lowercase 0x form with no leading
// zeros. Two values compare equal iff their Hex forms are identical.
func Hex(x *big.Int) string {
	return fmt.Sprintf("%#x", x)
}

// low128Mask is 2^128 - 1.
var low128Mask = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// LowBits128 returns x mod 2^128, the width the ledger keeps of a full
// commitment. It is applied identically when writing and when querying;
// a lookup keyed on the untruncated value silently misses.
func LowBits128(x *big.Int) *big.Int {
	return new(big.Int).And(x, low128Mask)
}

// Commitment128 is a truncated commitment in canonical lowercase hex. It is
// the key under which a position is stored both on-chain and in the local
// cache.
type Commitment128 string

// ToCommitment128 truncates a full commitment to its ledger-storage width
// and renders the canonical hex key.
func ToCommitment128(x *big.Int) Commitment128 {
	return Commitment128(Hex(LowBits128(x)))
}

// Big returns the commitment as a big.Int. The zero value decodes to 0.
func (c Commitment128) Big() *big.Int {
	x, _ := new(big.Int).SetString(strings.TrimPrefix(string(c), "0x"), 16)
	if x == nil {
		return new(big.Int)
	}
	return x
}

// CacheKey is the local durable-cache key for this commitment.
func (c Commitment128) CacheKey() string {
	return "position-" + strings.TrimPrefix(string(c), "0x")
}

// AmountToWei converts a human decimal amount string into an 18-decimal
// fixed-point integer, rounding half up on the scaled value so reported
// collateral is never systematically under-funded. Negative amounts and
// amounts above MaxAmount fail with ErrOutOfRange.
func AmountToWei(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrNotAnInteger, s)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("%w: negative amount %s", ErrOutOfRange, d)
	}
	if d.GreaterThan(MaxAmount) {
		return nil, fmt.Errorf("%w: %s exceeds maximum %s", ErrOutOfRange, d, MaxAmount)
	}
	// Round after scaling, not before: 0.0000000000000000005 -> 1 wei.
	return d.Shift(Decimals).Round(0).BigInt(), nil
}

// WeiToDecimalString is the inverse of AmountToWei, trimming trailing
// zeros ("250.00" round-trips as "250").
func WeiToDecimalString(x *big.Int) string {
	return decimal.NewFromBigInt(x, -Decimals).String()
}
