// Package reconcile keeps the local position cache honest against
// authoritative on-chain state. Verification is deliberately fail-open: a
// query error reports the position as still existing, because hiding a real
// position from its owner is worse than showing a closed one until the next
// sync.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/veilmarkets/veil-trader/internal/circuit"
	"github.com/veilmarkets/veil-trader/internal/coordinator"
	"github.com/veilmarkets/veil-trader/internal/field"
	"github.com/veilmarkets/veil-trader/internal/ledger"
	"github.com/veilmarkets/veil-trader/internal/metrics"
	"github.com/veilmarkets/veil-trader/internal/oracle"
	"github.com/veilmarkets/veil-trader/internal/prover"
	"github.com/veilmarkets/veil-trader/internal/store"
)

// CloseStatus distinguishes how a close ended from the user's perspective.
type CloseStatus string

const (
	// CloseConfirmed: the close transaction reached finality.
	CloseConfirmed CloseStatus = "confirmed"
	// CloseSoft: the chain call failed but the local record was cleared;
	// the user should confirm the outcome on an explorer.
	CloseSoft CloseStatus = "soft"
	// CloseLocalOnly: the proof or commitment could not be produced at all;
	// the local record was cleared so the entry can be dismissed.
	CloseLocalOnly CloseStatus = "local_only"
)

// CloseResult reports a close flow's outcome. The PnL fields are
// informational, straight from the proof outputs.
type CloseResult struct {
	Status             CloseStatus
	Snapshot           *coordinator.Snapshot
	CollateralReleased string
	Payout             string
	LossToVault        string
}

// Config carries the trade parameters the close circuit needs beyond the
// cached position record.
type Config struct {
	SlippageBps  uint
	FeeBps       uint
	MaxStaleness time.Duration
}

// Reconciler verifies cached positions against chain truth and drives the
// close flow.
type Reconciler struct {
	ledger ledger.Client
	store  store.Store
	prover prover.Client
	coord  *coordinator.Coordinator
	quotes *oracle.Cache
	owner  common.Address
	cfg    Config
	log    *logrus.Entry
}

// New creates a reconciler.
func New(l ledger.Client, s store.Store, p prover.Client, c *coordinator.Coordinator, quotes *oracle.Cache, owner common.Address, cfg Config, log *logrus.Logger) *Reconciler {
	return &Reconciler{
		ledger: l,
		store:  s,
		prover: p,
		coord:  c,
		quotes: quotes,
		owner:  owner,
		cfg:    cfg,
		log:    log.WithField("component", "reconcile"),
	}
}

// VerifyOnChain reports whether a position record exists under the
// commitment. A record exists only if its stored commitment is non-zero and
// equal, after the same truncation, to the query key. Query errors report
// true.
func (r *Reconciler) VerifyOnChain(ctx context.Context, commitment field.Commitment128) bool {
	rec, err := r.ledger.GetPosition(ctx, commitment)
	if err != nil {
		r.log.WithError(err).WithField("commitment", string(commitment)).
			Warn("position query failed, assuming still open")
		return true
	}
	if rec == nil || rec.Commitment == nil || rec.Commitment.Sign() == 0 {
		return false
	}
	return field.ToCommitment128(rec.Commitment) == commitment
}

// Sync filters cached positions down to those that still verify on-chain.
// It is idempotent and has no side effects beyond the returned set; cache
// persistence is the caller's responsibility.
func (r *Reconciler) Sync(ctx context.Context, cached []store.Position) []store.Position {
	kept := make([]store.Position, 0, len(cached))
	for _, p := range cached {
		if r.VerifyOnChain(ctx, p.Commitment) {
			kept = append(kept, p)
			continue
		}
		metrics.ReconcileDrops.Inc()
		r.log.WithField("commitment", string(p.Commitment)).Info("pruning position absent on-chain")
	}
	return kept
}

// SyncStore reconciles the durable cache in place and returns the surviving
// positions.
func (r *Reconciler) SyncStore(ctx context.Context) ([]store.Position, error) {
	cached, err := r.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list cached positions: %w", err)
	}
	kept := r.Sync(ctx, cached)
	if len(kept) != len(cached) {
		survived := make(map[field.Commitment128]bool, len(kept))
		for _, p := range kept {
			survived[p.Commitment] = true
		}
		for _, p := range cached {
			if !survived[p.Commitment] {
				if err := r.store.Delete(ctx, p.Key()); err != nil {
					return nil, fmt.Errorf("prune position %s: %w", p.Key(), err)
				}
			}
		}
	}
	metrics.CachedPositions.Set(float64(len(kept)))
	return kept, nil
}

// Run reconciles the store on a fixed interval until ctx ends.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	if _, err := r.SyncStore(ctx); err != nil {
		r.log.WithError(err).Warn("initial reconcile failed")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.SyncStore(ctx); err != nil {
				r.log.WithError(err).Warn("reconcile failed")
			}
		}
	}
}

// Close generates a close proof for a cached position, resolves the
// on-chain commitment, submits the close call, and removes the position
// from the local cache regardless of on-chain success. A stuck entry the
// user can never dismiss is worse than a local-only close they confirm on
// an explorer; the returned status makes the difference explicit.
func (r *Reconciler) Close(ctx context.Context, commitment field.Commitment128) (*CloseResult, error) {
	pos, err := r.store.Get(ctx, commitment.CacheKey())
	if err != nil {
		return nil, fmt.Errorf("load position %s: %w", commitment, err)
	}
	log := r.log.WithField("commitment", string(commitment))

	outputs, result, err := r.proveClose(ctx, pos)
	if err != nil {
		// Fatal proving failure still clears the entry.
		r.remove(ctx, pos, log)
		return &CloseResult{Status: CloseLocalOnly}, err
	}

	// The proof-derived commitment should match what the chain stores; if it
	// does not verify, fall back to the cached commitment's truncated form.
	target := field.ToCommitment128(outputs.Commitment)
	if !r.VerifyOnChain(ctx, target) {
		log.WithField("derived", string(target)).Warn("derived commitment not found on-chain, falling back to cached")
		target = field.ToCommitment128(pos.Commitment.Big())
		if !r.VerifyOnChain(ctx, target) {
			r.remove(ctx, pos, log)
			return &CloseResult{Status: CloseLocalOnly},
				fmt.Errorf("commitment %s cannot be resolved on-chain", commitment)
		}
	}

	snap, submitErr := r.coord.ExecuteClose(ctx, coordinator.CloseRequest{
		Commitment:   target,
		Proof:        result.Proof,
		PublicInputs: result.PublicInputs,
	})

	r.remove(ctx, pos, log)

	res := &CloseResult{
		Snapshot:           snap,
		CollateralReleased: outputs.CollateralReleased.String(),
		Payout:             outputs.Payout.String(),
		LossToVault:        outputs.LossToVault.String(),
	}
	if submitErr != nil {
		metrics.SoftCloses.Inc()
		log.WithError(submitErr).Warn("close submission failed, position cleared locally")
		res.Status = CloseSoft
		return res, nil
	}
	res.Status = CloseConfirmed
	return res, nil
}

func (r *Reconciler) proveClose(ctx context.Context, pos *store.Position) (*prover.CloseOutputs, *prover.Result, error) {
	market, err := field.NormalizeMarketID(pos.Market)
	if err != nil {
		return nil, nil, err
	}
	quote, err := r.quotes.Get(pos.Market)
	if err != nil {
		return nil, nil, err
	}
	locked, err := r.ledger.LockedCollateral(ctx, r.owner)
	if err != nil || locked.Sign() == 0 {
		// The recorded margin is the collateral the circuit saw at open.
		locked = pos.MarginBig()
	}

	inputs, err := circuit.BuildCloseInputs(circuit.CloseParams{
		Margin:           pos.MarginBig(),
		Size:             pos.SizeBig(),
		EntryPrice:       pos.EntryPriceBig(),
		TraderSecret:     pos.SecretBig(),
		IsLong:           pos.IsLong,
		Market:           market,
		OraclePrice:      quote.ScaledPrice(),
		OracleTimestamp:  quote.Timestamp,
		SourceCount:      quote.SourceCount,
		MaxStaleness:     r.cfg.MaxStaleness,
		Leverage:         pos.Leverage,
		SlippageBps:      r.cfg.SlippageBps,
		FeeBps:           r.cfg.FeeBps,
		LockedCollateral: locked,
	})
	if err != nil {
		return nil, nil, err
	}

	start := time.Now()
	result, err := r.prover.Prove(ctx, inputs)
	if err != nil {
		return nil, nil, fmt.Errorf("close proof: %w", err)
	}
	metrics.ProofLatency.WithLabelValues("close").Observe(time.Since(start).Seconds())

	outputs, err := prover.ExtractCloseOutputs(result.PublicOutputs)
	if err != nil {
		return nil, nil, err
	}
	return outputs, result, nil
}

func (r *Reconciler) remove(ctx context.Context, pos *store.Position, log *logrus.Entry) {
	if err := r.store.Delete(ctx, pos.Key()); err != nil && !errors.Is(err, store.ErrNotFound) {
		log.WithError(err).Error("failed to remove position from cache")
	}
}
