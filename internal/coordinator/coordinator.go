// Package coordinator sequences the dependent ledger calls of a position
// flow. An open attempt locks collateral, waits for the account nonce to
// advance past the lock transaction, then submits the proof-bearing open
// call; submitting the second call against a stale nonce would be rejected
// by the network. Each attempt owns its state end-to-end and performs no
// automatic retries across fatal states; the caller decides whether to
// restart, and a restarted Submitting phase needs a fresh proof.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/veilmarkets/veil-trader/internal/field"
	"github.com/veilmarkets/veil-trader/internal/ledger"
	"github.com/veilmarkets/veil-trader/internal/metrics"
	"github.com/veilmarkets/veil-trader/internal/store"
)

// ErrLockRejected is fatal to an open attempt: the lock transaction was not
// accepted and no position state was created.
var ErrLockRejected = errors.New("collateral lock rejected")

// State is a phase of the flow state machine.
type State string

const (
	StateIdle          State = "idle"
	StateLocking       State = "locking"
	StateAwaitingNonce State = "awaiting_nonce"
	StateSubmitting    State = "submitting"
	StateConfirming    State = "confirming"
	StateDone          State = "done"
	StateFailed        State = "failed"
)

// Snapshot is a serializable record of a flow attempt. It survives JSON
// round-trips so a caller can persist a failed attempt and resume it
// programmatically instead of re-clicking a submit button.
type Snapshot struct {
	ID           string      `json:"id"`
	Action       string      `json:"action"` // open | close
	State        State       `json:"state"`
	Market       string      `json:"market"`
	MarginWei    string      `json:"margin_wei,omitempty"`
	PreLockNonce uint64      `json:"pre_lock_nonce"`
	LockTx       common.Hash `json:"lock_tx,omitempty"`
	SubmitTx     common.Hash `json:"submit_tx,omitempty"`
	// FailedAt records which phase a failed attempt was in; it decides
	// whether the attempt is resumable.
	FailedAt  State     `json:"failed_at,omitempty"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *Snapshot) transition(next State) {
	s.State = next
	s.UpdatedAt = time.Now()
}

func (s *Snapshot) fail(err error) error {
	s.FailedAt = s.State
	s.transition(StateFailed)
	s.Error = err.Error()
	return err
}

// Config bounds the nonce-advance wait.
type Config struct {
	NonceAttempts     int
	NoncePollInterval time.Duration
}

// DefaultConfig polls for the nonce up to 15 times at 2s intervals.
func DefaultConfig() Config {
	return Config{NonceAttempts: 15, NoncePollInterval: 2 * time.Second}
}

// Coordinator drives open and close flows against the ledger and persists
// opened positions.
type Coordinator struct {
	ledger ledger.Client
	store  store.Store
	owner  common.Address
	cfg    Config
	log    *logrus.Entry
}

// New creates a coordinator for the given account.
func New(l ledger.Client, s store.Store, owner common.Address, cfg Config, log *logrus.Logger) *Coordinator {
	if cfg.NonceAttempts <= 0 {
		cfg = DefaultConfig()
	}
	return &Coordinator{
		ledger: l,
		store:  s,
		owner:  owner,
		cfg:    cfg,
		log:    log.WithField("component", "coordinator"),
	}
}

// OpenRequest carries everything an open submission needs. PublicInputs are
// the exact field elements the proof was bound to; HandlerArgs the
// independently derived position-handler list.
type OpenRequest struct {
	Market       *big.Int
	MarginWei    *big.Int
	Proof        []byte
	PublicInputs []*big.Int
	HandlerArgs  []*big.Int
	Position     *store.Position
}

// ExecuteOpen runs the open flow to a terminal state. On success the
// position record is persisted under its truncated commitment. The returned
// snapshot always reflects the terminal state, including on error.
func (c *Coordinator) ExecuteOpen(ctx context.Context, req OpenRequest) (*Snapshot, error) {
	snap := &Snapshot{
		ID:        uuid.NewString(),
		Action:    "open",
		State:     StateIdle,
		Market:    field.Hex(req.Market),
		MarginWei: req.MarginWei.String(),
		UpdatedAt: time.Now(),
	}
	return snap, c.resumeOpen(ctx, snap, req)
}

// ResumeOpen continues a previously failed open attempt from its recorded
// state. Resuming from Locking re-locks (locks accumulate additively, which
// only tightens the margin check). Resuming from Submitting or later is
// refused: the proof is bound to the original attempt and the ledger's
// consistency check would reject it; generate a fresh proof and start over.
func (c *Coordinator) ResumeOpen(ctx context.Context, snap *Snapshot, req OpenRequest) error {
	if snap.State != StateFailed {
		return fmt.Errorf("cannot resume open flow in state %q", snap.State)
	}
	switch snap.FailedAt {
	case StateIdle, StateLocking, StateAwaitingNonce:
		snap.Error = ""
		snap.FailedAt = ""
		return c.resumeOpen(ctx, snap, req)
	default:
		return fmt.Errorf("cannot resume open flow that failed at %q: a fresh proof is required", snap.FailedAt)
	}
}

func (c *Coordinator) resumeOpen(ctx context.Context, snap *Snapshot, req OpenRequest) error {
	log := c.log.WithFields(logrus.Fields{"flow": snap.ID, "market": snap.Market})

	if snap.LockTx == (common.Hash{}) {
		preNonce, err := c.ledger.Nonce(ctx, c.owner)
		if err != nil {
			metrics.FlowsTotal.WithLabelValues("open", "failed").Inc()
			return snap.fail(fmt.Errorf("read nonce: %w", err))
		}
		snap.PreLockNonce = preNonce

		snap.transition(StateLocking)
		lockTx, err := c.ledger.LockCollateral(ctx, req.Market, req.MarginWei)
		if err != nil {
			metrics.FlowsTotal.WithLabelValues("open", "lock_rejected").Inc()
			return snap.fail(fmt.Errorf("%w: %v", ErrLockRejected, err))
		}
		snap.LockTx = lockTx
		log.WithField("tx", lockTx.Hex()).Info("collateral lock submitted")

		if err := c.ledger.WaitForTx(ctx, lockTx); err != nil {
			// The lock never landed; clear the hash so a resumed attempt
			// re-locks. Re-locking is safe, locks accumulate additively.
			snap.LockTx = common.Hash{}
			metrics.FlowsTotal.WithLabelValues("open", "lock_rejected").Inc()
			return snap.fail(fmt.Errorf("%w: %v", ErrLockRejected, err))
		}
	}

	snap.transition(StateAwaitingNonce)
	c.awaitNonceAdvance(ctx, snap.PreLockNonce, log)

	snap.transition(StateSubmitting)
	submitTx, err := c.ledger.OpenPosition(ctx, req.Proof, req.PublicInputs, req.HandlerArgs)
	if err != nil {
		metrics.FlowsTotal.WithLabelValues("open", "failed").Inc()
		return snap.fail(fmt.Errorf("submit open: %w", err))
	}
	snap.SubmitTx = submitTx
	log.WithField("tx", submitTx.Hex()).Info("open position submitted")

	snap.transition(StateConfirming)
	if err := c.ledger.WaitForTx(ctx, submitTx); err != nil {
		metrics.FlowsTotal.WithLabelValues("open", "failed").Inc()
		return snap.fail(fmt.Errorf("confirm open: %w", err))
	}

	if req.Position != nil {
		if err := c.store.Put(ctx, req.Position); err != nil {
			// The position is live on-chain; losing the cache write is worse
			// than a dirty snapshot, so surface it loudly.
			metrics.FlowsTotal.WithLabelValues("open", "cache_write_failed").Inc()
			return snap.fail(fmt.Errorf("persist position: %w", err))
		}
	}

	snap.transition(StateDone)
	metrics.FlowsTotal.WithLabelValues("open", "done").Inc()
	log.Info("open flow complete")
	return nil
}

// CloseRequest carries a close submission.
type CloseRequest struct {
	Commitment   field.Commitment128
	Proof        []byte
	PublicInputs []*big.Int
}

// ExecuteClose submits the close call and waits for finality. Close has no
// lock phase; the collateral to release is identified by the commitment.
func (c *Coordinator) ExecuteClose(ctx context.Context, req CloseRequest) (*Snapshot, error) {
	snap := &Snapshot{
		ID:        uuid.NewString(),
		Action:    "close",
		State:     StateSubmitting,
		UpdatedAt: time.Now(),
	}
	log := c.log.WithFields(logrus.Fields{"flow": snap.ID, "commitment": string(req.Commitment)})

	submitTx, err := c.ledger.ClosePosition(ctx, req.Proof, req.PublicInputs, req.Commitment)
	if err != nil {
		metrics.FlowsTotal.WithLabelValues("close", "failed").Inc()
		return snap, snap.fail(fmt.Errorf("submit close: %w", err))
	}
	snap.SubmitTx = submitTx
	log.WithField("tx", submitTx.Hex()).Info("close position submitted")

	snap.transition(StateConfirming)
	if err := c.ledger.WaitForTx(ctx, submitTx); err != nil {
		metrics.FlowsTotal.WithLabelValues("close", "failed").Inc()
		return snap, snap.fail(fmt.Errorf("confirm close: %w", err))
	}

	snap.transition(StateDone)
	metrics.FlowsTotal.WithLabelValues("close", "done").Inc()
	log.Info("close flow complete")
	return snap, nil
}

// awaitNonceAdvance polls until the account nonce has advanced past the
// pre-lock value, bounded by the configured attempt cap. Exceeding the cap
// is a soft failure: after one extra poll interval the flow proceeds and
// lets the submission speak for itself.
func (c *Coordinator) awaitNonceAdvance(ctx context.Context, preNonce uint64, log *logrus.Entry) {
	for attempt := 0; attempt < c.cfg.NonceAttempts; attempt++ {
		nonce, err := c.ledger.Nonce(ctx, c.owner)
		if err == nil && nonce > preNonce {
			return
		}
		if err != nil {
			log.WithError(err).Debug("nonce poll failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.NoncePollInterval):
		}
	}

	metrics.NonceWaitTimeouts.Inc()
	log.Warnf("nonce did not advance within %d polls, proceeding after grace delay", c.cfg.NonceAttempts)
	select {
	case <-ctx.Done():
	case <-time.After(c.cfg.NoncePollInterval):
	}
}
