package monitor

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/sniper/config"
	"github.com/vadiminshakov/sniper/internal/domain"
	"github.com/vadiminshakov/sniper/internal/services/seller"
	"github.com/vadiminshakov/sniper/internal/storage/journal"
	"github.com/vadiminshakov/sniper/internal/storage/ledger"
)

type priceSource interface {
	Price(ctx context.Context, pair string) (decimal.Decimal, error)
}

type sellExecutor interface {
	Balance(ctx context.Context, token common.Address) (decimal.Decimal, error)
	Sell(ctx context.Context, token common.Address, units decimal.Decimal) (seller.Fill, error)
}

type fillRecoverer interface {
	RecoverFill(ctx context.Context, token domain.Token, entry domain.TradeEntry) error
}

// worker drives the exit policy for one open position. Its runtime state
// (trailing arm, partial stage, cumulative fills) lives only in memory and
// is rebuilt from the real buy price when the worker restarts.
type worker struct {
	cfg     config.Config
	log     *zap.Logger
	token   domain.Token
	history *ledger.HistoryStore
	monitor *ledger.MonitorStore
	tokens  *ledger.TokenStore
	journal *journal.Journal
	prices  priceSource
	seller  sellExecutor
	fills   fillRecoverer

	historyID int64

	policy         *ExitPolicy
	stage          int
	soldUnits      decimal.Decimal
	nativeReceived decimal.Decimal
}

func newWorker(cfg config.Config, token domain.Token, historyID int64,
	store *ledger.Store, jrnl *journal.Journal,
	prices priceSource, sell sellExecutor, fills fillRecoverer, log *zap.Logger) *worker {
	return &worker{
		cfg:       cfg,
		log:       log.With(zap.String("pair", token.PairAddress), zap.String("symbol", token.Symbol)),
		token:     token,
		history:   store.History(),
		monitor:   store.Monitor(),
		tokens:    store.Tokens(),
		journal:   jrnl,
		prices:    prices,
		seller:    sell,
		fills:     fills,
		historyID: historyID,
	}
}

// run ticks until the position closes or the context ends.
func (w *worker) run(ctx context.Context) error {
	w.log.Info("position monitor started", zap.Int64("history_id", w.historyID))
	ticker := time.NewTicker(w.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("position monitor stopped")
			return nil
		case <-ticker.C:
		}

		done, err := w.tick(ctx)
		if err != nil {
			w.log.Warn("monitor tick failed", zap.Error(err))
			continue
		}
		if done {
			w.log.Info("position closed, monitor exiting")
			return nil
		}
	}
}

func (w *worker) tick(ctx context.Context) (done bool, err error) {
	entry, err := w.history.GetByID(w.historyID)
	if err != nil {
		return false, err
	}
	if entry == nil || !entry.Open() {
		// Closed elsewhere or gone; nothing left to watch.
		return true, nil
	}
	if !entry.Filled() {
		// The buy broadcast but its receipt is still pending. Retry the
		// reconciliation; the exit policy needs the real price.
		if entry.BuyTxHash != "" {
			if err := w.fills.RecoverFill(ctx, w.token, *entry); err != nil {
				return false, err
			}
		}
		return false, nil
	}
	buyReal := entry.BuyRealPrice.Decimal

	if w.policy == nil {
		w.policy = NewExitPolicy(buyReal, w.cfg.TakeProfitPct, w.cfg.TrailingGapPct, w.cfg.StopLossPct)
	}

	price, err := w.prices.Price(ctx, w.token.PairAddress)
	if err != nil {
		return false, err
	}
	if price.LessThanOrEqual(decimal.Zero) {
		return false, nil
	}

	if err := w.monitor.SaveState(w.token.PairAddress, w.token.Symbol,
		price, entry.BuyEntryPrice, buyReal); err != nil {
		return false, err
	}

	dec := w.policy.Evaluate(price)
	switch dec.Reason {
	case ReasonArmed:
		w.log.Info("trailing armed",
			zap.String("price", price.String()),
			zap.String("trailing_stop", dec.TrailingStop.String()))
		w.record("exit", "HOLD", ReasonArmed)
	case ReasonNewPeak:
		w.log.Debug("new peak",
			zap.String("peak", dec.Peak.String()),
			zap.String("trailing_stop", dec.TrailingStop.String()))
	}
	if dec.Verdict != Sell {
		return false, nil
	}

	return w.sell(ctx, price, buyReal, dec.Reason)
}

// sell executes the stage's partial sell and closes the cycle on the final
// stage using the cumulative fill totals.
func (w *worker) sell(ctx context.Context, price, buyReal decimal.Decimal, reason string) (bool, error) {
	balance, err := w.seller.Balance(ctx, common.HexToAddress(w.token.Address))
	if err != nil {
		return false, err
	}
	if balance.LessThanOrEqual(decimal.Zero) {
		w.log.Warn("sell signal with empty balance, skipping", zap.String("reason", reason))
		return false, nil
	}

	fraction := w.cfg.SellStage1Fraction
	if w.stage > 0 {
		fraction = w.cfg.SellStage2Fraction
	}
	amount := balance.Mul(fraction)

	if amount.LessThan(w.cfg.MinSellUnits) || amount.Mul(price).LessThan(w.cfg.MinSellValue) {
		// Below the floor the sell is skipped and the policy stays armed,
		// so the next trigger re-checks with a fresh balance.
		w.log.Info("sell below minimum floors, skipping",
			zap.String("amount", amount.String()),
			zap.String("value", amount.Mul(price).String()))
		w.record("exit", "SKIPPED", "BELOW_MIN_SELL")
		return false, nil
	}

	fill, err := w.seller.Sell(ctx, common.HexToAddress(w.token.Address), amount)
	if err != nil {
		return false, err
	}

	w.soldUnits = w.soldUnits.Add(fill.Units)
	w.nativeReceived = w.nativeReceived.Add(fill.GrossNative)

	if w.stage == 0 {
		w.stage = 1
		w.policy.Rearm(price)
		w.log.Info("partial sell 1/2 done, trailing re-armed",
			zap.String("reason", reason),
			zap.String("units", fill.Units.String()),
			zap.String("gross", fill.GrossNative.String()))
		w.record("exit", "PARTIAL_SELL", reason)
		return false, nil
	}

	// Aggregate across both fills: the cycle PnL weighs the average sell
	// price by the total units sold, never averages the stage PnLs.
	sellAgg := w.nativeReceived.Div(w.soldUnits)
	pnl, nativeProfit := domain.CyclePnl(buyReal, sellAgg, w.soldUnits)

	if err := w.history.FinalizeSell(w.historyID, price, sellAgg, sellAgg,
		w.soldUnits, pnl, nativeProfit); err != nil {
		return false, err
	}
	if err := w.monitor.ClearHistoryID(w.token.PairAddress); err != nil {
		return false, err
	}
	if err := w.tokens.UpdateStatus(w.token.PairAddress, domain.TokenSold); err != nil {
		return false, err
	}

	w.log.Info("position closed",
		zap.String("reason", reason),
		zap.String("sold_units", w.soldUnits.String()),
		zap.String("native_received", w.nativeReceived.String()),
		zap.String("pnl", pnl.String()),
		zap.String("native_profit", nativeProfit.String()))
	w.record("exit", "CLOSED", reason)
	return true, nil
}

func (w *worker) record(stage, decision, reason string) {
	_, err := w.journal.Record(journal.Event{
		Pair:      w.token.PairAddress,
		Stage:     stage,
		Decision:  decision,
		Reason:    reason,
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		w.log.Warn("decision journal write failed", zap.Error(err))
	}
}
