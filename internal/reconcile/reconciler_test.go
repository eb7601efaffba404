package reconcile

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/veilmarkets/veil-trader/internal/circuit"
	"github.com/veilmarkets/veil-trader/internal/coordinator"
	"github.com/veilmarkets/veil-trader/internal/field"
	"github.com/veilmarkets/veil-trader/internal/ledger"
	"github.com/veilmarkets/veil-trader/internal/oracle"
	"github.com/veilmarkets/veil-trader/internal/prover"
	"github.com/veilmarkets/veil-trader/internal/store"
)

// fakeLedger serves scripted position records. Commitments listed in
// existing are present on-chain; queryErr makes every query fail.
type fakeLedger struct {
	existing map[field.Commitment128]bool
	queryErr error

	closeErr   error
	closeCalls int
}

func (f *fakeLedger) Deposit(ctx context.Context, market, amount *big.Int) (common.Hash, error) {
	return common.Hash{}, nil
}

func (f *fakeLedger) LockCollateral(ctx context.Context, market, amount *big.Int) (common.Hash, error) {
	return common.HexToHash("0x1"), nil
}

func (f *fakeLedger) OpenPosition(ctx context.Context, proof []byte, publicInputs, handlerArgs []*big.Int) (common.Hash, error) {
	return common.HexToHash("0x2"), nil
}

func (f *fakeLedger) ClosePosition(ctx context.Context, proof []byte, publicInputs []*big.Int, commitment field.Commitment128) (common.Hash, error) {
	f.closeCalls++
	if f.closeErr != nil {
		return common.Hash{}, f.closeErr
	}
	return common.HexToHash("0x3"), nil
}

func (f *fakeLedger) GetPosition(ctx context.Context, commitment field.Commitment128) (*ledger.PositionRecord, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if f.existing[commitment] {
		return &ledger.PositionRecord{Commitment: commitment.Big()}, nil
	}
	return &ledger.PositionRecord{Commitment: new(big.Int)}, nil
}

func (f *fakeLedger) LockedCollateral(ctx context.Context, owner common.Address) (*big.Int, error) {
	m, _ := field.AmountToWei("250")
	return m, nil
}

func (f *fakeLedger) Nonce(ctx context.Context, owner common.Address) (uint64, error) {
	return 1, nil
}

func (f *fakeLedger) WaitForTx(ctx context.Context, tx common.Hash) error {
	return nil
}

// fakeProver returns a fixed output tuple without doing any proving.
type fakeProver struct {
	err        error
	commitment *big.Int
}

func (f *fakeProver) Prove(ctx context.Context, in *circuit.InputSet) (*prover.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &prover.Result{
		Proof: []byte{1},
		PublicOutputs: []any{
			field.Hex(f.commitment),
			"250000000000000000000",
			"12000000000000000000",
			"0",
		},
		PublicInputs: []*big.Int{big.NewInt(1)},
	}, nil
}

var testOwner = common.HexToAddress("0xabc0000000000000000000000000000000000001")

func testReconciler(t *testing.T, f *fakeLedger, p prover.Client, s store.Store) *Reconciler {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	coord := coordinator.New(f, s, testOwner, coordinator.Config{NonceAttempts: 1, NoncePollInterval: time.Millisecond}, log)
	quotes := oracle.NewCache(time.Minute)
	quotes.Update(oracle.Quote{
		Market:      "BTC/USD",
		Price:       decimal.NewFromInt(101_000),
		SourceCount: 3,
		Timestamp:   time.Now(),
	})
	cfg := Config{SlippageBps: 50, FeeBps: 10, MaxStaleness: time.Minute}
	return New(f, s, p, coord, quotes, testOwner, cfg, log)
}

func cachedPosition(commitment string) store.Position {
	margin, _ := field.AmountToWei("250")
	secret, _ := circuit.NewTraderSecret()
	return store.Position{
		Commitment:   field.Commitment128(commitment),
		Market:       "BTC/USD",
		IsLong:       true,
		MarginWei:    margin.String(),
		EntryPrice:   "100000000000",
		Size:         "50000000000000000",
		Leverage:     20,
		TraderSecret: secret.String(),
		OpenedAt:     time.Now(),
	}
}

func TestVerifyOnChain(t *testing.T) {
	f := &fakeLedger{existing: map[field.Commitment128]bool{"0xabc": true}}
	r := testReconciler(t, f, &fakeProver{}, store.NewMemoryStore())
	ctx := context.Background()

	if !r.VerifyOnChain(ctx, "0xabc") {
		t.Error("existing commitment must verify")
	}
	if r.VerifyOnChain(ctx, "0xdef") {
		t.Error("zero-commitment record must not verify")
	}
}

func TestVerifyOnChainFailOpen(t *testing.T) {
	f := &fakeLedger{queryErr: errors.New("gateway down")}
	r := testReconciler(t, f, &fakeProver{}, store.NewMemoryStore())

	if !r.VerifyOnChain(context.Background(), "0xdef") {
		t.Error("query errors must report the position as still open")
	}
}

func TestSyncDropsAbsent(t *testing.T) {
	f := &fakeLedger{existing: map[field.Commitment128]bool{"0xaaa": true}}
	r := testReconciler(t, f, &fakeProver{}, store.NewMemoryStore())

	kept := r.Sync(context.Background(), []store.Position{
		cachedPosition("0xaaa"),
		cachedPosition("0xbbb"),
	})
	if len(kept) != 1 || kept[0].Commitment != "0xaaa" {
		t.Errorf("kept = %+v", kept)
	}
}

func TestSyncRetainsOnQueryError(t *testing.T) {
	f := &fakeLedger{queryErr: errors.New("rpc timeout")}
	r := testReconciler(t, f, &fakeProver{}, store.NewMemoryStore())

	kept := r.Sync(context.Background(), []store.Position{cachedPosition("0xccc")})
	if len(kept) != 1 {
		t.Error("query errors must not prune cached positions")
	}
}

func TestSyncStorePrunes(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	a := cachedPosition("0xaaa")
	b := cachedPosition("0xbbb")
	s.Put(ctx, &a)
	s.Put(ctx, &b)

	f := &fakeLedger{existing: map[field.Commitment128]bool{"0xaaa": true}}
	kept, err := testReconciler(t, f, &fakeProver{}, s).SyncStore(ctx)
	if err != nil {
		t.Fatalf("SyncStore: %v", err)
	}
	if len(kept) != 1 {
		t.Fatalf("kept = %d", len(kept))
	}
	if _, err := s.Get(ctx, b.Key()); !errors.Is(err, store.ErrNotFound) {
		t.Error("absent position must be deleted from the store")
	}
}

func TestCloseConfirmed(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	p := cachedPosition("0xabc")
	s.Put(ctx, &p)

	f := &fakeLedger{existing: map[field.Commitment128]bool{"0xabc": true}}
	r := testReconciler(t, f, &fakeProver{commitment: big.NewInt(0xabc)}, s)

	res, err := r.Close(ctx, "0xabc")
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if res.Status != CloseConfirmed {
		t.Errorf("status = %s", res.Status)
	}
	if res.Payout != "12000000000000000000" {
		t.Errorf("payout = %s", res.Payout)
	}
	if _, err := s.Get(ctx, p.Key()); !errors.Is(err, store.ErrNotFound) {
		t.Error("closed position must leave the cache")
	}
}

func TestCloseSubmitFailureIsSoftSuccess(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	p := cachedPosition("0xabc")
	s.Put(ctx, &p)

	f := &fakeLedger{
		existing: map[field.Commitment128]bool{"0xabc": true},
		closeErr: errors.New("sequencer unavailable"),
	}
	r := testReconciler(t, f, &fakeProver{commitment: big.NewInt(0xabc)}, s)

	res, err := r.Close(ctx, "0xabc")
	if err != nil {
		t.Fatalf("soft close must not surface as error: %v", err)
	}
	if res.Status != CloseSoft {
		t.Errorf("status = %s, want %s", res.Status, CloseSoft)
	}
	if _, err := s.Get(ctx, p.Key()); !errors.Is(err, store.ErrNotFound) {
		t.Error("position must be cleared locally even when submission fails")
	}
}

func TestCloseProofFailureStillClearsCache(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	p := cachedPosition("0xabc")
	s.Put(ctx, &p)

	f := &fakeLedger{existing: map[field.Commitment128]bool{"0xabc": true}}
	r := testReconciler(t, f, &fakeProver{err: errors.New("constraint violated")}, s)

	res, err := r.Close(ctx, "0xabc")
	if err == nil {
		t.Fatal("proof failure must surface as error")
	}
	if res.Status != CloseLocalOnly {
		t.Errorf("status = %s", res.Status)
	}
	if f.closeCalls != 0 {
		t.Error("nothing may be submitted without a proof")
	}
	if _, err := s.Get(ctx, p.Key()); !errors.Is(err, store.ErrNotFound) {
		t.Error("unprovable position must still be dismissible")
	}
}

func TestCloseFallsBackToCachedCommitment(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	p := cachedPosition("0xabc")
	s.Put(ctx, &p)

	// The proof derives a commitment the chain does not know; the cached one
	// verifies and drives the call.
	f := &fakeLedger{existing: map[field.Commitment128]bool{"0xabc": true}}
	r := testReconciler(t, f, &fakeProver{commitment: big.NewInt(0xfff)}, s)

	res, err := r.Close(ctx, "0xabc")
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if res.Status != CloseConfirmed {
		t.Errorf("status = %s", res.Status)
	}
	if f.closeCalls != 1 {
		t.Errorf("close calls = %d", f.closeCalls)
	}
}
