package prover

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/veilmarkets/veil-trader/internal/field"
)

// Proof output errors. Both are fatal: a zero or unparsable output must
// never reach the chain.
var (
	ErrMalformedOutput  = errors.New("malformed proof output")
	ErrZeroLockedAmount = errors.New("proof output locked amount is zero")
)

// Tuple positions fixed by the circuit definition.
const (
	openOutputLen  = 2
	closeOutputLen = 4
)

// OpenOutputs is the canonical open-proof output tuple.
type OpenOutputs struct {
	Commitment   *big.Int
	LockedAmount *big.Int
}

// CloseOutputs is the canonical close-proof output tuple. Only the
// commitment drives the chain call; the remaining fields are informational
// for the caller's PnL display.
type CloseOutputs struct {
	Commitment         *big.Int
	CollateralReleased *big.Int
	Payout             *big.Int
	LossToVault        *big.Int
}

// decodeRaw normalizes the backend's heterogeneous return shapes (array,
// object with numeric keys, delimited string) into an ordered scalar slice.
// Any unrecognized or short shape fails closed with ErrMalformedOutput.
func decodeRaw(raw any, want int) ([]*big.Int, error) {
	var elems []any
	switch t := raw.(type) {
	case []any:
		elems = t
	case map[string]any:
		// Tuple-like object: keys "0".."n-1". Missing keys fail below.
		elems = make([]any, 0, len(t))
		for i := 0; i < len(t); i++ {
			v, ok := t[strconv.Itoa(i)]
			if !ok {
				return nil, fmt.Errorf("%w: object missing key %d", ErrMalformedOutput, i)
			}
			elems = append(elems, v)
		}
	case string:
		for _, part := range strings.Split(t, ",") {
			elems = append(elems, strings.TrimSpace(part))
		}
	case nil:
		return nil, fmt.Errorf("%w: empty return", ErrMalformedOutput)
	default:
		return nil, fmt.Errorf("%w: unrecognized shape %T", ErrMalformedOutput, raw)
	}

	if len(elems) < want {
		return nil, fmt.Errorf("%w: got %d outputs, want %d", ErrMalformedOutput, len(elems), want)
	}

	out := make([]*big.Int, 0, want)
	for i := 0; i < want; i++ {
		x, err := field.ToScalar(elems[i])
		if err != nil {
			return nil, fmt.Errorf("%w: output %d: %v", ErrMalformedOutput, i, err)
		}
		out = append(out, x)
	}
	return out, nil
}

// ExtractOpenOutputs parses an open-proof return into its canonical tuple
// and checks the funding invariants. A locked amount that differs from the
// requested margin is surfaced as a warning (the chain's acceptance of the
// lock call is the authoritative check), but a zero locked amount is fatal:
// submitting it would leave the position unfunded with nothing to detect it
// later.
func ExtractOpenOutputs(raw any, requestedMargin *big.Int) (*OpenOutputs, error) {
	vals, err := decodeRaw(raw, openOutputLen)
	if err != nil {
		return nil, err
	}
	out := &OpenOutputs{Commitment: vals[0], LockedAmount: vals[1]}

	if out.LockedAmount.Sign() == 0 {
		return nil, ErrZeroLockedAmount
	}
	if requestedMargin != nil && out.LockedAmount.Cmp(requestedMargin) != 0 {
		logrus.WithFields(logrus.Fields{
			"locked":    out.LockedAmount.String(),
			"requested": requestedMargin.String(),
		}).Warn("proof locked amount differs from requested margin")
	}
	return out, nil
}

// ExtractCloseOutputs parses a close-proof return into its canonical tuple.
func ExtractCloseOutputs(raw any) (*CloseOutputs, error) {
	vals, err := decodeRaw(raw, closeOutputLen)
	if err != nil {
		return nil, err
	}
	return &CloseOutputs{
		Commitment:         vals[0],
		CollateralReleased: vals[1],
		Payout:             vals[2],
		LossToVault:        vals[3],
	}, nil
}

// EncodeHandlerArgs derives the position-handler argument list for an open
// call: market id, truncated commitment, locked amount. This list is built
// independently of the proof's public inputs, which are bound into the
// proof and must never be touched, and is the only place truncation is
// applied on the write path.
func EncodeHandlerArgs(market *big.Int, commitment *big.Int, amount *big.Int) ([]*big.Int, error) {
	m, err := field.ToScalar(market)
	if err != nil {
		return nil, err
	}
	// Truncation is defined behavior for the commitment, and only for the
	// commitment: any other argument that does not fit the field is an
	// error, never silently reduced.
	a, err := field.ToScalar(amount)
	if err != nil {
		return nil, err
	}
	return []*big.Int{m, field.LowBits128(commitment), a}, nil
}
