package monitor

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/sniper/config"
	"github.com/vadiminshakov/sniper/internal/domain"
	"github.com/vadiminshakov/sniper/internal/services/seller"
	"github.com/vadiminshakov/sniper/internal/storage/journal"
	"github.com/vadiminshakov/sniper/internal/storage/ledger"
)

type fakePrices struct {
	queue []decimal.Decimal
}

func (f *fakePrices) Price(context.Context, string) (decimal.Decimal, error) {
	p := f.queue[0]
	if len(f.queue) > 1 {
		f.queue = f.queue[1:]
	}
	return p, nil
}

type fakeSeller struct {
	balance decimal.Decimal
	price   decimal.Decimal // gross per unit on the next sell
	sells   []decimal.Decimal
}

func (f *fakeSeller) Balance(context.Context, common.Address) (decimal.Decimal, error) {
	return f.balance, nil
}

func (f *fakeSeller) Sell(_ context.Context, _ common.Address, units decimal.Decimal) (seller.Fill, error) {
	f.balance = f.balance.Sub(units)
	f.sells = append(f.sells, units)
	gross := units.Mul(f.price)
	return seller.Fill{Units: units, GrossNative: gross, UnitPrice: f.price}, nil
}

// fakeFills records the fill when asked, like a receipt landing late.
type fakeFills struct {
	store     *ledger.Store
	fillPrice decimal.Decimal
	calls     int
}

func (f *fakeFills) RecoverFill(_ context.Context, _ domain.Token, entry domain.TradeEntry) error {
	f.calls++
	if f.store == nil {
		return nil
	}
	return f.store.History().SetBuyFill(entry.ID, f.fillPrice, d("1000"))
}

func workerConfig() config.Config {
	return config.Config{
		TakeProfitPct:      d("5"),
		TrailingGapPct:     d("3"),
		StopLossPct:        d("7"),
		SellStage1Fraction: d("0.6"),
		SellStage2Fraction: d("1"),
	}
}

func openPosition(t *testing.T, store *ledger.Store, buyReal string) (domain.Token, int64) {
	t.Helper()
	tok := domain.Token{
		PairAddress: "0xpair",
		Address:     "0x00000000000000000000000000000000000000c1",
		Symbol:      "TKN",
		Name:        "Token",
		PriceNative: decimal.RequireFromString(buyReal),
		Status:      domain.TokenFollowing,
	}
	require.NoError(t, store.Tokens().Save(tok))

	id, err := store.History().CreateBuy(tok.PairAddress, tok.Address, tok.Symbol, tok.Name, "",
		d(buyReal), d(buyReal))
	require.NoError(t, err)
	require.NoError(t, store.History().SetBuyFill(id, d(buyReal), d("1000")))
	require.NoError(t, store.Monitor().SaveState(tok.PairAddress, tok.Symbol, d(buyReal), d(buyReal), d(buyReal)))
	require.NoError(t, store.Monitor().SetHistoryID(tok.PairAddress, id))
	return tok, id
}

func newTestWorker(t *testing.T, cfg config.Config, prices *fakePrices, sell *fakeSeller) (*worker, *ledger.Store, int64) {
	t.Helper()
	store, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	jrnl, err := journal.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = jrnl.Close() })

	tok, id := openPosition(t, store, "1.0")
	return newWorker(cfg, tok, id, store, jrnl, prices, sell, &fakeFills{}, zap.NewNop()), store, id
}

// Full two-stage exit: arm at 1.06, peak 1.10, trailing hit at 1.067 sells
// 60%, re-arms at 1.067, second hit at 1.03 sells the remainder and closes
// the cycle with unit-weighted aggregate PnL.
func TestWorkerTwoStageExit(t *testing.T) {
	prices := &fakePrices{queue: []decimal.Decimal{
		d("1.00"), d("1.06"), d("1.10"), d("1.067"), d("1.03"),
	}}
	sell := &fakeSeller{balance: d("1000")}
	w, store, id := newTestWorkerWithPrices(t, prices, sell)

	ctx := context.Background()
	for _, price := range []string{"1.00", "1.06", "1.10"} {
		sell.price = d(price)
		done, err := w.tick(ctx)
		require.NoError(t, err)
		require.False(t, done)
	}
	require.Empty(t, sell.sells, "no sell before the trailing stop is hit")

	// trailing stop 1.067 hit exactly: stage 0 sells 60% of 1000
	sell.price = d("1.067")
	done, err := w.tick(ctx)
	require.NoError(t, err)
	require.False(t, done, "stage 0 keeps the position open")
	require.Len(t, sell.sells, 1)
	require.True(t, sell.sells[0].Equal(d("600")))

	// re-armed at 1.067, new stop = 1.067 * 0.97 = 1.03499; 1.03 hits it
	sell.price = d("1.03")
	done, err = w.tick(ctx)
	require.NoError(t, err)
	require.True(t, done)
	require.Len(t, sell.sells, 2)
	require.True(t, sell.sells[1].Equal(d("400")), "stage 1 sells the full remainder")

	entry, err := store.History().GetByID(id)
	require.NoError(t, err)
	require.False(t, entry.Open())
	require.True(t, entry.SellAmount.Decimal.Equal(d("1000")))

	// gross = 600*1.067 + 400*1.03 = 1052.2; agg price 1.0522
	require.True(t, entry.SellRealPrice.Decimal.Equal(d("1.0522")), "got %s", entry.SellRealPrice.Decimal)
	// pnl = (1.0522-1.0)/1.0 * 1000 * 100
	require.True(t, entry.Pnl.Decimal.Equal(d("5220")), "got %s", entry.Pnl.Decimal)
	require.True(t, entry.NativeProfit.Decimal.Equal(d("52.2")), "got %s", entry.NativeProfit.Decimal)

	linked, err := store.Monitor().HistoryID("0xpair")
	require.NoError(t, err)
	require.Nil(t, linked, "closing clears the snapshot back-reference")

	tok, err := store.Tokens().ByPair("0xpair")
	require.NoError(t, err)
	require.Equal(t, domain.TokenSold, tok.Status)
}

func newTestWorkerWithPrices(t *testing.T, prices *fakePrices, sell *fakeSeller) (*worker, *ledger.Store, int64) {
	return newTestWorker(t, workerConfig(), prices, sell)
}

func TestWorkerStopLossExitsInTwoStages(t *testing.T) {
	prices := &fakePrices{queue: []decimal.Decimal{d("0.92")}}
	sell := &fakeSeller{balance: d("1000"), price: d("0.92")}
	w, store, id := newTestWorkerWithPrices(t, prices, sell)

	ctx := context.Background()
	done, err := w.tick(ctx)
	require.NoError(t, err)
	require.False(t, done)
	require.Len(t, sell.sells, 1)

	done, err = w.tick(ctx)
	require.NoError(t, err)
	require.True(t, done)
	require.Len(t, sell.sells, 2)

	entry, err := store.History().GetByID(id)
	require.NoError(t, err)
	require.False(t, entry.Open())
	// loss: agg 0.92 on 1000 units bought at 1.0
	require.True(t, entry.NativeProfit.Decimal.Equal(d("-80")), "got %s", entry.NativeProfit.Decimal)
}

func TestWorkerWaitsForBuyFill(t *testing.T) {
	store, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	jrnl, err := journal.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = jrnl.Close() })

	tok := domain.Token{PairAddress: "0xpair", Address: "0xc1", Symbol: "TKN", PriceNative: d("1.0")}
	require.NoError(t, store.Tokens().Save(tok))
	id, err := store.History().CreateBuy(tok.PairAddress, tok.Address, tok.Symbol, "", "", d("1.0"), d("1.0"))
	require.NoError(t, err)

	sell := &fakeSeller{balance: d("1000"), price: d("0.5")}
	w := newWorker(workerConfig(), tok, id, store, jrnl,
		&fakePrices{queue: []decimal.Decimal{d("0.5")}}, sell, &fakeFills{}, zap.NewNop())

	done, err := w.tick(context.Background())
	require.NoError(t, err)
	require.False(t, done)
	require.Empty(t, sell.sells, "no exit evaluation before the fill is reconciled")
}

// A broadcast buy whose receipt wait timed out leaves an unfilled entry
// with the tx hash set. The worker retries the reconciliation on every tick
// and starts evaluating exits once the fill lands.
func TestWorkerRecoversPendingFill(t *testing.T) {
	store, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	jrnl, err := journal.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = jrnl.Close() })

	tok := domain.Token{PairAddress: "0xpair", Address: "0xc1", Symbol: "TKN", PriceNative: d("1.0")}
	require.NoError(t, store.Tokens().Save(tok))
	id, err := store.History().CreateBuy(tok.PairAddress, tok.Address, tok.Symbol, "", "0xbeef",
		d("1.0"), d("1.0"))
	require.NoError(t, err)
	require.NoError(t, store.Monitor().SaveState(tok.PairAddress, tok.Symbol, d("1.0"), d("1.0"), d("1.0")))
	require.NoError(t, store.Monitor().SetHistoryID(tok.PairAddress, id))

	fills := &fakeFills{store: store, fillPrice: d("1.0")}
	sell := &fakeSeller{balance: d("1000"), price: d("0.5")}
	w := newWorker(workerConfig(), tok, id, store, jrnl,
		&fakePrices{queue: []decimal.Decimal{d("0.5")}}, sell, fills, zap.NewNop())

	ctx := context.Background()
	done, err := w.tick(ctx)
	require.NoError(t, err)
	require.False(t, done)
	require.Equal(t, 1, fills.calls, "unfilled entries retry receipt reconciliation")
	require.Empty(t, sell.sells, "no exit evaluation on the recovery tick")

	// the fill is in place now; 0.5 breaks the stop-loss floor
	done, err = w.tick(ctx)
	require.NoError(t, err)
	require.False(t, done)
	require.Len(t, sell.sells, 1, "exit policy runs once the fill is reconciled")
}

func TestWorkerSkipsSellBelowFloors(t *testing.T) {
	cfg := workerConfig()
	cfg.MinSellValue = d("10000") // far above anything the position holds

	prices := &fakePrices{queue: []decimal.Decimal{d("0.92")}}
	sell := &fakeSeller{balance: d("1000"), price: d("0.92")}
	w, store, id := newTestWorker(t, cfg, prices, sell)

	done, err := w.tick(context.Background())
	require.NoError(t, err)
	require.False(t, done)
	require.Empty(t, sell.sells)

	entry, err := store.History().GetByID(id)
	require.NoError(t, err)
	require.True(t, entry.Open(), "skipped sells leave the cycle open")
}
