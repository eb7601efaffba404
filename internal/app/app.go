// Package app wires the trading client together: oracle feed, prover,
// ledger gateway, collateral coordinator, and position reconciler. Each
// open or close attempt owns its state end-to-end; the only shared resource
// is the position cache, written by one session at a time.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/veilmarkets/veil-trader/internal/circuit"
	"github.com/veilmarkets/veil-trader/internal/config"
	"github.com/veilmarkets/veil-trader/internal/coordinator"
	"github.com/veilmarkets/veil-trader/internal/field"
	"github.com/veilmarkets/veil-trader/internal/ledger"
	"github.com/veilmarkets/veil-trader/internal/metrics"
	"github.com/veilmarkets/veil-trader/internal/oracle"
	"github.com/veilmarkets/veil-trader/internal/prover"
	"github.com/veilmarkets/veil-trader/internal/reconcile"
	"github.com/veilmarkets/veil-trader/internal/store"
)

// App runs the position lifecycle against the venue.
type App struct {
	cfg    config.Config
	owner  common.Address
	ledger ledger.Client
	prover prover.Client
	store  store.Store
	quotes *oracle.Cache
	feed   *oracle.Feed
	coord  *coordinator.Coordinator
	recon  *reconcile.Reconciler
	log    *logrus.Logger

	mu      sync.RWMutex
	running bool
}

// New assembles the app from its collaborators. The oracle feed may be nil
// when quotes are injected externally (tests).
func New(cfg config.Config, l ledger.Client, p prover.Client, s store.Store, quotes *oracle.Cache, feed *oracle.Feed, log *logrus.Logger) *App {
	owner := common.HexToAddress(cfg.Account)
	coord := coordinator.New(l, s, owner, coordinator.Config{
		NonceAttempts:     cfg.Nonce.Attempts,
		NoncePollInterval: cfg.Nonce.PollInterval,
	}, log)
	recon := reconcile.New(l, s, p, coord, quotes, owner, reconcile.Config{
		SlippageBps:  cfg.Trade.SlippageBps,
		FeeBps:       cfg.Trade.FeeBps,
		MaxStaleness: cfg.Oracle.MaxStaleness,
	}, log)

	return &App{
		cfg:    cfg,
		owner:  owner,
		ledger: l,
		prover: p,
		store:  s,
		quotes: quotes,
		feed:   feed,
		coord:  coord,
		recon:  recon,
		log:    log,
	}
}

// OpenIntent is a user's request to open a leveraged position.
type OpenIntent struct {
	Market string
	// Margin is the collateral as a human decimal string, e.g. "250.00".
	Margin   string
	Leverage uint
	IsLong   bool
}

// OpenPosition runs the full open flow: encode, prove, extract, lock,
// submit, persist. The returned position is the locally cached private
// record; its commitment is the handle for a later close.
func (a *App) OpenPosition(ctx context.Context, intent OpenIntent) (*store.Position, error) {
	marketID, err := field.NormalizeMarketID(intent.Market)
	if err != nil {
		return nil, err
	}
	marginWei, err := field.AmountToWei(intent.Margin)
	if err != nil {
		return nil, err
	}
	leverage := intent.Leverage
	if leverage == 0 {
		leverage = a.cfg.Trade.DefaultLeverage
	}

	quote, err := a.quotes.Get(intent.Market)
	if err != nil {
		return nil, err
	}

	// size = margin * leverage / price, in wei, under the same half-up
	// rounding as the funding amount.
	margin := decimal.NewFromBigInt(marginWei, -field.Decimals)
	sizeWei, err := field.AmountToWei(margin.Mul(decimal.NewFromInt(int64(leverage))).Div(quote.Price).String())
	if err != nil {
		return nil, fmt.Errorf("derive position size: %w", err)
	}

	inputs, err := circuit.BuildOpenInputs(circuit.OpenParams{
		Margin:          marginWei,
		Size:            sizeWei,
		EntryPrice:      quote.ScaledPrice(),
		IsLong:          intent.IsLong,
		Market:          marketID,
		OraclePrice:     quote.ScaledPrice(),
		OracleTimestamp: quote.Timestamp,
		SourceCount:     quote.SourceCount,
		MaxStaleness:    a.cfg.Oracle.MaxStaleness,
		Leverage:        leverage,
		SlippageBps:     a.cfg.Trade.SlippageBps,
		FeeBps:          a.cfg.Trade.FeeBps,
	})
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := a.prover.Prove(ctx, inputs)
	if err != nil {
		return nil, fmt.Errorf("open proof: %w", err)
	}
	metrics.ProofLatency.WithLabelValues("open").Observe(time.Since(start).Seconds())

	outputs, err := prover.ExtractOpenOutputs(result.PublicOutputs, marginWei)
	if err != nil {
		// Zero or malformed locked amount: nothing may reach the chain.
		return nil, err
	}

	handlerArgs, err := prover.EncodeHandlerArgs(marketID, outputs.Commitment, outputs.LockedAmount)
	if err != nil {
		return nil, err
	}

	position := &store.Position{
		Commitment:   field.ToCommitment128(outputs.Commitment),
		Market:       intent.Market,
		IsLong:       intent.IsLong,
		MarginWei:    marginWei.String(),
		EntryPrice:   quote.ScaledPrice().String(),
		Size:         sizeWei.String(),
		Leverage:     leverage,
		TraderSecret: inputs.TraderSecret.String(),
		OpenedAt:     time.Now().UTC(),
	}

	snap, err := a.coord.ExecuteOpen(ctx, coordinator.OpenRequest{
		Market:       marketID,
		MarginWei:    marginWei,
		Proof:        result.Proof,
		PublicInputs: result.PublicInputs,
		HandlerArgs:  handlerArgs,
		Position:     position,
	})
	if err != nil {
		a.log.WithFields(logrus.Fields{"flow": snap.ID, "state": snap.FailedAt}).
			WithError(err).Error("open flow failed")
		return nil, err
	}
	return position, nil
}

// ClosePosition closes a cached position by truncated commitment.
func (a *App) ClosePosition(ctx context.Context, commitment field.Commitment128) (*reconcile.CloseResult, error) {
	return a.recon.Close(ctx, commitment)
}

// Positions returns the reconciled local view of open positions.
func (a *App) Positions(ctx context.Context) ([]store.Position, error) {
	return a.recon.SyncStore(ctx)
}

// Deposit credits vault balance for a market bucket. The market is
// normalized first so deposits and later locks hit the same bucket.
func (a *App) Deposit(ctx context.Context, market, amount string) (common.Hash, error) {
	marketID, err := field.NormalizeMarketID(market)
	if err != nil {
		return common.Hash{}, err
	}
	wei, err := field.AmountToWei(amount)
	if err != nil {
		return common.Hash{}, err
	}
	tx, err := a.ledger.Deposit(ctx, marketID, wei)
	if err != nil {
		return common.Hash{}, err
	}
	return tx, a.ledger.WaitForTx(ctx, tx)
}

// LockedCollateral reads the account's on-chain locked-collateral counter.
func (a *App) LockedCollateral(ctx context.Context) (string, error) {
	locked, err := a.ledger.LockedCollateral(ctx, a.owner)
	if err != nil {
		return "", err
	}
	return field.WeiToDecimalString(locked), nil
}

// Quote returns the current cached quote for a market.
func (a *App) Quote(market string) (oracle.Quote, error) {
	return a.quotes.Get(market)
}

// IsRunning reports whether the background loops are active.
func (a *App) IsRunning() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.running
}

// Account returns the trader's account address.
func (a *App) Account() common.Address {
	return a.owner
}

// Run starts the oracle feed and the periodic reconcile loop, blocking
// until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.mu.Lock()
	a.running = true
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
	}()

	errc := make(chan error, 2)
	if a.feed != nil {
		go func() { errc <- a.feed.Run(ctx) }()
	}
	go func() { errc <- a.recon.Run(ctx, a.cfg.ReconcileInterval) }()

	a.log.WithFields(logrus.Fields{
		"account": a.owner.Hex(),
		"markets": a.cfg.Markets,
	}).Info("veil-trader running")

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errc:
		return err
	}
}
