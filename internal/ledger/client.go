// Package ledger defines the client-side contract with the venue's chain
// gateway: collateral and position calls, finality waits, and the account
// queries the coordinator sequences against. The gateway fronts the vault,
// router, and position-handler contracts; their internal logic is not
// modeled here.
package ledger

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/veilmarkets/veil-trader/internal/field"
)

// PositionRecord is the on-chain view of a position. The stored commitment
// is the low-128 truncation; private trade parameters never appear here.
type PositionRecord struct {
	Commitment *big.Int
	Owner      common.Address
	Market     *big.Int
	OpenedAt   time.Time
}

// Client submits signed venue calls and reads authoritative account state.
// Submissions return a transaction hash immediately; callers that need the
// result block on WaitForTx.
type Client interface {
	// Deposit credits vault balance for the user/market bucket.
	Deposit(ctx context.Context, market *big.Int, amount *big.Int) (common.Hash, error)

	// LockCollateral locks margin against the vault. Locks accumulate
	// additively, so retrying with the same parameters is safe.
	LockCollateral(ctx context.Context, market *big.Int, amount *big.Int) (common.Hash, error)

	// OpenPosition submits an open proof. publicInputs must be exactly the
	// field elements the proof was generated against; handlerArgs is the
	// independently derived (market, commitment128, locked amount) list.
	OpenPosition(ctx context.Context, proof []byte, publicInputs []*big.Int, handlerArgs []*big.Int) (common.Hash, error)

	// ClosePosition submits a close proof against the stored commitment.
	ClosePosition(ctx context.Context, proof []byte, publicInputs []*big.Int, commitment field.Commitment128) (common.Hash, error)

	// GetPosition reads the position record stored under a truncated
	// commitment. Returns a record with a zero commitment when no position
	// is stored there.
	GetPosition(ctx context.Context, commitment field.Commitment128) (*PositionRecord, error)

	// LockedCollateral reads the user's locked-collateral counter. The
	// ledger does not partition it by market.
	LockedCollateral(ctx context.Context, owner common.Address) (*big.Int, error)

	// Nonce reads the account's current transaction nonce.
	Nonce(ctx context.Context, owner common.Address) (uint64, error)

	// WaitForTx blocks until the transaction reaches finality or ctx ends.
	WaitForTx(ctx context.Context, tx common.Hash) error
}
