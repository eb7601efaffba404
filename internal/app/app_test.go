package app

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/veilmarkets/veil-trader/internal/circuit"
	"github.com/veilmarkets/veil-trader/internal/config"
	"github.com/veilmarkets/veil-trader/internal/field"
	"github.com/veilmarkets/veil-trader/internal/ledger"
	"github.com/veilmarkets/veil-trader/internal/oracle"
	"github.com/veilmarkets/veil-trader/internal/prover"
	"github.com/veilmarkets/veil-trader/internal/store"
)

// fakeLedger scripts chain behavior for the full open flow. The nonce
// advances when a lock transaction reaches finality.
type fakeLedger struct {
	nonce       uint64
	lockCalls   int
	openCalls   int
	lockedWei   *big.Int
	handlerArgs []*big.Int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{nonce: 3, lockedWei: new(big.Int)}
}

func (f *fakeLedger) Deposit(_ context.Context, _, _ *big.Int) (common.Hash, error) {
	return common.HexToHash("0xd"), nil
}

func (f *fakeLedger) LockCollateral(_ context.Context, _ *big.Int, amount *big.Int) (common.Hash, error) {
	f.lockCalls++
	f.lockedWei.Add(f.lockedWei, amount)
	return common.HexToHash(fmt.Sprintf("0x10%02d", f.lockCalls)), nil
}

func (f *fakeLedger) OpenPosition(_ context.Context, _ []byte, _ []*big.Int, handlerArgs []*big.Int) (common.Hash, error) {
	f.openCalls++
	f.handlerArgs = handlerArgs
	return common.HexToHash("0x2001"), nil
}

func (f *fakeLedger) ClosePosition(_ context.Context, _ []byte, _ []*big.Int, _ field.Commitment128) (common.Hash, error) {
	return common.HexToHash("0x3001"), nil
}

func (f *fakeLedger) GetPosition(_ context.Context, _ field.Commitment128) (*ledger.PositionRecord, error) {
	return &ledger.PositionRecord{Commitment: new(big.Int)}, nil
}

func (f *fakeLedger) LockedCollateral(_ context.Context, _ common.Address) (*big.Int, error) {
	return new(big.Int).Set(f.lockedWei), nil
}

func (f *fakeLedger) Nonce(_ context.Context, _ common.Address) (uint64, error) {
	return f.nonce, nil
}

func (f *fakeLedger) WaitForTx(_ context.Context, tx common.Hash) error {
	if tx != common.HexToHash("0x2001") {
		f.nonce++
	}
	return nil
}

// fakeProver echoes a scripted output tuple and records the inputs it saw.
type fakeProver struct {
	outputs   any
	lastInput *circuit.InputSet
	err       error
}

func (f *fakeProver) Prove(_ context.Context, in *circuit.InputSet) (*prover.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.lastInput = in
	return &prover.Result{
		Proof:         []byte{0xaa, 0xbb},
		PublicOutputs: f.outputs,
		PublicInputs:  []*big.Int{in.Market, in.OraclePrice},
	}, nil
}

func testApp(fl *fakeLedger, fp *fakeProver) (*App, *oracle.Cache, store.Store) {
	cfg := config.Default()
	cfg.Account = "0xabc0000000000000000000000000000000000001"
	cfg.Nonce.Attempts = 3
	cfg.Nonce.PollInterval = time.Millisecond

	quotes := oracle.NewCache(time.Minute)
	st := store.NewMemoryStore()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return New(cfg, fl, fp, st, quotes, nil, log), quotes, st
}

func TestOpenPositionFullFlow(t *testing.T) {
	// Commitment wider than 128 bits so handler args must truncate it.
	commitment := new(big.Int).Lsh(big.NewInt(1), 130)
	commitment.Add(commitment, big.NewInt(5))
	margin := "250000000000000000000"

	fl := newFakeLedger()
	fp := &fakeProver{outputs: []any{commitment.String(), margin}}
	a, quotes, st := testApp(fl, fp)
	quotes.Update(oracle.Quote{
		Market:      "BTC/USD",
		Price:       decimal.NewFromInt(50000),
		SourceCount: 3,
		Timestamp:   time.Now(),
	})

	pos, err := a.OpenPosition(context.Background(), OpenIntent{
		Market:   "BTC/USD",
		Margin:   "250.00",
		Leverage: 20,
		IsLong:   true,
	})
	if err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}

	if fl.lockCalls != 1 {
		t.Errorf("expected one lock call, got %d", fl.lockCalls)
	}
	if fl.lockedWei.String() != margin {
		t.Errorf("locked %s wei, want %s", fl.lockedWei, margin)
	}
	if fl.openCalls != 1 {
		t.Errorf("expected one open submission, got %d", fl.openCalls)
	}

	// Handler args: market id, truncated commitment, locked amount.
	if len(fl.handlerArgs) != 3 {
		t.Fatalf("handler args length %d", len(fl.handlerArgs))
	}
	wantMarket, _ := field.NormalizeMarketID("BTC/USD")
	if fl.handlerArgs[0].Cmp(wantMarket) != 0 {
		t.Errorf("handler market = %s, want %s", fl.handlerArgs[0], wantMarket)
	}
	if fl.handlerArgs[1].Cmp(big.NewInt(5)) != 0 {
		t.Errorf("handler commitment = %s, want truncated 5", fl.handlerArgs[1])
	}
	if fl.handlerArgs[2].String() != margin {
		t.Errorf("handler locked = %s, want %s", fl.handlerArgs[2], margin)
	}

	// The prover saw margin*leverage/price = 0.1 position tokens.
	if got := fp.lastInput.Size.String(); got != "100000000000000000" {
		t.Errorf("circuit size = %s, want 100000000000000000", got)
	}
	if fp.lastInput.Margin.String() != margin {
		t.Errorf("circuit margin = %s, want %s", fp.lastInput.Margin, margin)
	}

	// The cached record carries the private witness for a later close.
	if pos.Commitment != field.ToCommitment128(commitment) {
		t.Errorf("position commitment = %s", pos.Commitment)
	}
	stored, err := st.Get(context.Background(), pos.Key())
	if err != nil {
		t.Fatalf("stored position: %v", err)
	}
	if stored.TraderSecret != fp.lastInput.TraderSecret.String() {
		t.Error("stored secret does not match the proved witness")
	}
}

func TestOpenPositionZeroLockedAbortsBeforeChain(t *testing.T) {
	fl := newFakeLedger()
	fp := &fakeProver{outputs: []any{"12345", "0"}}
	a, quotes, st := testApp(fl, fp)
	quotes.Update(oracle.Quote{
		Market:      "BTC/USD",
		Price:       decimal.NewFromInt(50000),
		SourceCount: 3,
		Timestamp:   time.Now(),
	})

	_, err := a.OpenPosition(context.Background(), OpenIntent{
		Market: "BTC/USD", Margin: "250.00", Leverage: 20, IsLong: true,
	})
	if !errors.Is(err, prover.ErrZeroLockedAmount) {
		t.Fatalf("expected ErrZeroLockedAmount, got %v", err)
	}
	if fl.lockCalls != 0 || fl.openCalls != 0 {
		t.Errorf("chain was called: locks=%d opens=%d", fl.lockCalls, fl.openCalls)
	}
	positions, _ := st.List(context.Background())
	if len(positions) != 0 {
		t.Errorf("nothing should be cached, got %d positions", len(positions))
	}
}

func TestOpenPositionStaleQuote(t *testing.T) {
	fl := newFakeLedger()
	fp := &fakeProver{outputs: []any{"1", "1"}}
	a, _, _ := testApp(fl, fp)

	_, err := a.OpenPosition(context.Background(), OpenIntent{
		Market: "BTC/USD", Margin: "10", Leverage: 5, IsLong: false,
	})
	if !errors.Is(err, oracle.ErrStaleQuote) {
		t.Fatalf("expected ErrStaleQuote, got %v", err)
	}
	if fl.lockCalls != 0 {
		t.Error("no chain call may happen without a fresh quote")
	}
}

func TestOpenPositionDefaultLeverage(t *testing.T) {
	commitment := big.NewInt(77)
	fl := newFakeLedger()
	fp := &fakeProver{outputs: []any{commitment.String(), "10000000000000000000"}}
	a, quotes, _ := testApp(fl, fp)
	quotes.Update(oracle.Quote{
		Market:      "ETH/USD",
		Price:       decimal.NewFromInt(2000),
		SourceCount: 2,
		Timestamp:   time.Now(),
	})

	_, err := a.OpenPosition(context.Background(), OpenIntent{
		Market: "ETH/USD", Margin: "10", IsLong: true,
	})
	if err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}
	if fp.lastInput.Leverage != config.Default().Trade.DefaultLeverage {
		t.Errorf("leverage = %d, want config default", fp.lastInput.Leverage)
	}
}

func TestDepositRejectsUnknownMarket(t *testing.T) {
	a, _, _ := testApp(newFakeLedger(), &fakeProver{})

	if _, err := a.Deposit(context.Background(), "DOGE/USD", "10"); !errors.Is(err, field.ErrUnknownMarket) {
		t.Fatalf("expected ErrUnknownMarket, got %v", err)
	}
	if _, err := a.Deposit(context.Background(), "BTC/USD", "10"); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
}

func TestLockedCollateral(t *testing.T) {
	fl := newFakeLedger()
	fl.lockedWei = big.NewInt(1500000000000000000)
	a, _, _ := testApp(fl, &fakeProver{})

	got, err := a.LockedCollateral(context.Background())
	if err != nil {
		t.Fatalf("LockedCollateral: %v", err)
	}
	if got != "1.5" {
		t.Errorf("locked = %q, want 1.5", got)
	}
}
