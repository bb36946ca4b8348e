package monitor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/sniper/internal/domain"
	"github.com/vadiminshakov/sniper/internal/services/buyer"
	"github.com/vadiminshakov/sniper/internal/storage/journal"
	"github.com/vadiminshakov/sniper/internal/storage/ledger"
)

type fakeConfirmer struct{}

func (fakeConfirmer) ConfirmApproved(context.Context, string) (buyer.Result, error) {
	return buyer.Result{}, errors.New("unexpected confirmation")
}

func (fakeConfirmer) RecoverFill(context.Context, domain.Token, domain.TradeEntry) error {
	return nil
}

type fakeNotifier struct{}

func (fakeNotifier) RequestApproval(context.Context, string, string, string, decimal.Decimal) error {
	return nil
}

// signalPrices reports every price tick so the test can observe that a
// worker is actually evaluating the position.
type signalPrices struct {
	price decimal.Decimal
	ticks chan struct{}
}

func (s *signalPrices) Price(context.Context, string) (decimal.Decimal, error) {
	select {
	case s.ticks <- struct{}{}:
	default:
	}
	return s.price, nil
}

// A buy executed on the immediate path opens its trade after the supervisor
// has already started. The poll loop must still pick it up and spawn a
// worker; a restart may not be required for the exit policy to run.
func TestSupervisorSpawnsWorkerForTradeOpenedAfterStart(t *testing.T) {
	store, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	jrnl, err := journal.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = jrnl.Close() })

	cfg := workerConfig()
	cfg.PollInterval = 10 * time.Millisecond
	cfg.TickInterval = 10 * time.Millisecond

	prices := &signalPrices{price: d("1.0"), ticks: make(chan struct{}, 1)}
	sell := &fakeSeller{balance: d("1000"), price: d("1.0")}
	sup := NewSupervisor(cfg, store, jrnl, prices, sell, fakeConfirmer{}, fakeNotifier{}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = sup.Run(ctx)
		close(done)
	}()

	// let the poll loop spin before the trade exists
	time.Sleep(3 * cfg.PollInterval)
	openPosition(t, store, "1.0")

	select {
	case <-prices.ticks:
	case <-time.After(5 * time.Second):
		t.Fatal("no worker evaluated the trade opened after startup")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not stop")
	}
}
