// Package buyer implements the entry pipeline: quote a candidate, gate it
// on estimated cost and fees, and either execute immediately or park it in
// the action ledger for operator approval.
package buyer

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/sniper/config"
	"github.com/vadiminshakov/sniper/internal/chain"
	"github.com/vadiminshakov/sniper/internal/domain"
	"github.com/vadiminshakov/sniper/internal/storage/journal"
	"github.com/vadiminshakov/sniper/internal/storage/ledger"
)

// fuseKey marks the one-shot buy fuse in the meta store. Once set, every
// entry point into this pipeline refuses to buy until the row is removed
// by hand.
const fuseKey = "buy_fuse_tripped"

// Outcome classifies the result of a propose or confirm call.
type Outcome string

const (
	OutcomeOpened          Outcome = "OPENED"
	OutcomePendingApproval Outcome = "PENDING_APPROVAL"
	OutcomeRejected        Outcome = "REJECTED"
	OutcomeFuseBlocked     Outcome = "FUSE_BLOCKED"
)

// Reasons attached to non-opened outcomes.
const (
	ReasonPnlBelowThreshold = "PNL_BELOW_THRESHOLD"
	ReasonFeeHigh           = "FEE_HIGH"
	ReasonInvalidQuote      = "INVALID_QUOTE"
	ReasonFuseBlocked       = "FUSE_BLOCKED"
)

// Result is the structured verdict of a pipeline entry point. Nothing is
// communicated only via logs.
type Result struct {
	Outcome   Outcome
	Success   bool
	Reason    string
	HistoryID int64
	TxHash    common.Hash
}

type chainClient interface {
	Quote(ctx context.Context, path []common.Address, amountIn *big.Int, slippagePct decimal.Decimal) (amountOutMin, expectedOut *big.Int, err error)
	TokenDecimals(ctx context.Context, token common.Address) (uint8, error)
	BuildBuyTx(ctx context.Context, token common.Address, amountInWei, amountOutMin *big.Int) (*chain.UnsignedTx, error)
	SignAndSend(ctx context.Context, utx *chain.UnsignedTx) (common.Hash, error)
	WaitForReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (*types.Receipt, error)
	Account() common.Address
	WNative() common.Address
}

// Buyer runs the buy pipeline against one chain client and one ledger.
type Buyer struct {
	cfg     config.Config
	log     *zap.Logger
	chain   chainClient
	actions *ledger.ActionStore
	history *ledger.HistoryStore
	monitor *ledger.MonitorStore
	tokens  *ledger.TokenStore
	meta    *ledger.MetaStore
	journal *journal.Journal
}

func New(cfg config.Config, cl chainClient, store *ledger.Store, jrnl *journal.Journal, log *zap.Logger) *Buyer {
	return &Buyer{
		cfg:     cfg,
		log:     log,
		chain:   cl,
		actions: store.Actions(),
		history: store.History(),
		monitor: store.Monitor(),
		tokens:  store.Tokens(),
		meta:    store.Meta(),
		journal: jrnl,
	}
}

// estimate is everything derived from one quote-and-build pass. Numbers are
// never reused across calls; an approval confirmation re-derives them.
type estimate struct {
	utx           *chain.UnsignedTx
	amountInWei   *big.Int
	decimals      uint8
	expectedUnits decimal.Decimal
	fee           decimal.Decimal // estimated total gas fee, native units
	unitCost      decimal.Decimal // nativePrice + token fees + gas, per unit
}

// Propose runs the gating rule for a candidate and executes immediately
// when it passes. Chain failures propagate without touching any ledger.
func (b *Buyer) Propose(ctx context.Context, token domain.Token) (Result, error) {
	if blocked, err := b.fuseTripped(); err != nil {
		return Result{}, err
	} else if blocked {
		b.record(token.PairAddress, "buy", string(OutcomeFuseBlocked), ReasonFuseBlocked)
		return Result{Outcome: OutcomeFuseBlocked, Reason: ReasonFuseBlocked}, nil
	}

	est, err := b.estimate(ctx, token)
	if err != nil {
		return Result{}, err
	}
	if est == nil {
		b.record(token.PairAddress, "buy", string(OutcomeRejected), ReasonInvalidQuote)
		return Result{Outcome: OutcomeRejected, Reason: ReasonInvalidQuote}, nil
	}

	hundred := decimal.NewFromInt(100)
	pnlPercent := est.unitCost.Sub(token.PriceNative).Div(token.PriceNative).Mul(hundred)

	reason := ""
	switch {
	case pnlPercent.LessThan(b.cfg.PnlThresholdPct):
		reason = ReasonPnlBelowThreshold
	case est.fee.GreaterThan(b.cfg.FeeCap):
		reason = ReasonFeeHigh
	}
	if reason != "" {
		if err := b.actions.Register(token.PairAddress, domain.ActionBuy, reason); err != nil {
			return Result{}, err
		}
		b.record(token.PairAddress, "buy", string(OutcomePendingApproval), reason)
		b.log.Info("buy parked for approval",
			zap.String("pair", token.PairAddress),
			zap.String("reason", reason),
			zap.String("pnl_percent", pnlPercent.StringFixed(4)),
			zap.String("estimated_fee", est.fee.String()))
		return Result{Outcome: OutcomePendingApproval, Reason: reason}, nil
	}

	res, err := b.execute(ctx, token, est)
	if err != nil {
		return Result{}, err
	}
	return b.settle(ctx, token, res, est)
}

// ConfirmApproved executes a previously approved buy. Quote and cost are
// re-derived at confirmation time; stale numbers from the original propose
// are never trusted. The action row is removed as soon as the transaction
// broadcasts, before the receipt wait.
func (b *Buyer) ConfirmApproved(ctx context.Context, pair string) (Result, error) {
	if blocked, err := b.fuseTripped(); err != nil {
		return Result{}, err
	} else if blocked {
		b.record(pair, "buy", string(OutcomeFuseBlocked), ReasonFuseBlocked)
		return Result{Outcome: OutcomeFuseBlocked, Reason: ReasonFuseBlocked}, nil
	}

	action, err := b.actions.Get(pair)
	if err != nil {
		return Result{}, err
	}
	if action == nil || action.Type != domain.ActionBuy || action.State != domain.ActionApproved {
		return Result{}, errors.Errorf("no approved buy action for %s", pair)
	}

	token, err := b.tokens.ByPair(pair)
	if err != nil {
		return Result{}, err
	}
	if token == nil {
		return Result{}, errors.Errorf("approved pair %s is not in the token catalog", pair)
	}

	est, err := b.estimate(ctx, *token)
	if err != nil {
		return Result{}, err
	}
	if est == nil {
		// The pool disappeared between approval and confirmation.
		if err := b.actions.Delete(pair); err != nil {
			return Result{}, err
		}
		b.record(pair, "buy", string(OutcomeRejected), ReasonInvalidQuote)
		return Result{Outcome: OutcomeRejected, Reason: ReasonInvalidQuote}, nil
	}

	res, err := b.execute(ctx, *token, est)
	if err != nil {
		return Result{}, err
	}
	// The broadcast is out: consume the approval before the receipt wait
	// so a digest retry can never send a second transaction.
	if err := b.actions.Delete(pair); err != nil {
		return Result{}, err
	}
	return b.settle(ctx, *token, res, est)
}

func (b *Buyer) estimate(ctx context.Context, token domain.Token) (*estimate, error) {
	amountInWei := chain.NativeToWei(b.cfg.SpendAmount)
	path := []common.Address{b.chain.WNative(), common.HexToAddress(token.Address)}

	minOut, expectedOut, err := b.chain.Quote(ctx, path, amountInWei, b.cfg.SlippagePct)
	if err != nil {
		return nil, err
	}
	// A minimum-out floored to zero would broadcast the swap without any
	// slippage bound, so it aborts the same way an empty quote does.
	if expectedOut == nil || expectedOut.Sign() <= 0 || minOut == nil || minOut.Sign() <= 0 {
		return nil, nil
	}

	decimals, err := b.chain.TokenDecimals(ctx, common.HexToAddress(token.Address))
	if err != nil {
		return nil, err
	}

	utx, err := b.chain.BuildBuyTx(ctx, common.HexToAddress(token.Address), amountInWei, minOut)
	if err != nil {
		return nil, err
	}

	expectedUnits := chain.RawToUnits(expectedOut, decimals)
	if expectedUnits.LessThanOrEqual(decimal.Zero) {
		return nil, nil
	}

	fee := utx.EstimatedFee()
	gasPerUnit := fee.Div(expectedUnits)
	unitCost := token.PriceNative.
		Add(token.FeePerUnit(token.PriceNative)).
		Add(gasPerUnit)

	return &estimate{
		utx:           utx,
		amountInWei:   amountInWei,
		decimals:      decimals,
		expectedUnits: expectedUnits,
		fee:           fee,
		unitCost:      unitCost,
	}, nil
}

// execute broadcasts the buy and opens the trade ledger entry with the
// estimated fields, linked to the position snapshot. Receipt reconciliation
// runs separately so callers can finish their bookkeeping first.
func (b *Buyer) execute(ctx context.Context, token domain.Token, est *estimate) (Result, error) {
	hash, err := b.chain.SignAndSend(ctx, est.utx)
	if err != nil {
		return Result{}, err
	}

	txHash := ""
	if hash != chain.DryRunTxHash {
		txHash = hash.Hex()
	}
	historyID, err := b.history.CreateBuy(token.PairAddress, token.Address,
		token.Symbol, token.Name, txHash, token.PriceNative, est.unitCost)
	if err != nil {
		return Result{}, err
	}
	if err := b.monitor.SaveState(token.PairAddress, token.Symbol,
		token.PriceNative, token.PriceNative, est.unitCost); err != nil {
		return Result{}, err
	}
	if err := b.monitor.SetHistoryID(token.PairAddress, historyID); err != nil {
		return Result{}, err
	}

	b.log.Info("buy opened",
		zap.String("pair", token.PairAddress),
		zap.String("symbol", token.Symbol),
		zap.String("tx", hash.Hex()),
		zap.String("expected_units", est.expectedUnits.String()),
		zap.String("unit_cost", est.unitCost.String()))
	b.record(token.PairAddress, "buy", string(OutcomeOpened), "")

	return Result{Outcome: OutcomeOpened, Success: true, HistoryID: historyID, TxHash: hash}, nil
}

// settle reconciles the fill of a freshly broadcast buy. A receipt timeout
// never fails the buy: the entry stays open with a null fill and the
// position worker retries the wait.
func (b *Buyer) settle(ctx context.Context, token domain.Token, res Result, est *estimate) (Result, error) {
	if err := b.RecordReceipt(ctx, token, res.HistoryID, res.TxHash, est); err != nil {
		if errors.Is(err, chain.ErrReceiptTimeout) {
			b.log.Warn("receipt wait timed out, fill reconciliation deferred to the monitor",
				zap.String("pair", token.PairAddress),
				zap.String("tx", res.TxHash.Hex()))
			return res, nil
		}
		return Result{}, err
	}
	return res, nil
}

// RecoverFill retries receipt reconciliation for a broadcast buy whose wait
// timed out earlier. The position worker calls it on every tick until the
// fill lands.
func (b *Buyer) RecoverFill(ctx context.Context, token domain.Token, entry domain.TradeEntry) error {
	if entry.BuyTxHash == "" {
		return errors.Errorf("trade %d has no buy transaction to reconcile", entry.ID)
	}
	decimals, err := b.chain.TokenDecimals(ctx, common.HexToAddress(token.Address))
	if err != nil {
		return err
	}
	est := &estimate{
		amountInWei: chain.NativeToWei(b.cfg.SpendAmount),
		decimals:    decimals,
	}
	return b.RecordReceipt(ctx, token, entry.ID, common.HexToHash(entry.BuyTxHash), est)
}

// RecordReceipt reconciles the real fill into the trade ledger. In dry-run
// mode the estimates stand in for the fill so the exit policy can operate.
// A receipt timeout propagates as-is: it is retryable and never a failure.
func (b *Buyer) RecordReceipt(ctx context.Context, token domain.Token, historyID int64, hash common.Hash, est *estimate) error {
	if hash == chain.DryRunTxHash {
		if err := b.history.SetBuyFill(historyID, est.unitCost, est.expectedUnits); err != nil {
			return err
		}
		b.record(token.PairAddress, "buy", "FILLED", "dry run, estimated fill recorded")
		return nil
	}

	receipt, err := b.chain.WaitForReceipt(ctx, hash, b.cfg.ReceiptTimeout)
	if err != nil {
		return err
	}

	fill, err := chain.ReconcileBuyFill(receipt, common.HexToAddress(token.Address),
		b.chain.Account(), est.decimals, est.amountInWei)
	if err != nil {
		return err
	}

	if err := b.history.SetBuyFill(historyID, fill.UnitPrice, fill.Units); err != nil {
		return err
	}
	if err := b.monitor.SaveState(token.PairAddress, token.Symbol,
		token.PriceNative, token.PriceNative, fill.UnitPrice); err != nil {
		return err
	}

	b.log.Info("buy fill reconciled",
		zap.String("pair", token.PairAddress),
		zap.String("units", fill.Units.String()),
		zap.String("real_unit_price", fill.UnitPrice.String()),
		zap.String("gas_cost", fill.GasCost.String()))
	b.record(token.PairAddress, "buy", "FILLED", "")

	if b.cfg.BuyFuse {
		if err := b.meta.Set(fuseKey, "1"); err != nil {
			return err
		}
		b.log.Warn("buy fuse tripped, all further buys are blocked",
			zap.String("pair", token.PairAddress))
	}
	return nil
}

func (b *Buyer) fuseTripped() (bool, error) {
	if !b.cfg.BuyFuse {
		return false, nil
	}
	v, err := b.meta.Get(fuseKey)
	if err != nil {
		return false, err
	}
	return v != "", nil
}

func (b *Buyer) record(pair, stage, decision, reason string) {
	_, err := b.journal.Record(journal.Event{
		Pair:      pair,
		Stage:     stage,
		Decision:  decision,
		Reason:    reason,
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		b.log.Warn("decision journal write failed", zap.String("pair", pair), zap.Error(err))
	}
}
