// Package seller turns an exit decision into an on-chain sell: quote the
// proceeds, grant the router an allowance when needed, swap and reconcile
// what actually came back.
package seller

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
)

// ErrInvalidQuote means the router produced no usable output for the sell
// path. The attempt is aborted, never retried with a guessed minimum.
var ErrInvalidQuote = errors.New("no usable sell quote")

type chainClient interface {
	Quote(ctx context.Context, path []common.Address, amountIn *big.Int, slippagePct decimal.Decimal) (amountOutMin, expectedOut *big.Int, err error)
	TokenDecimals(ctx context.Context, token common.Address) (uint8, error)
	TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	NativeBalance(ctx context.Context, addr common.Address) (*big.Int, error)
	BuildApproveTx(ctx context.Context, token common.Address, amountRaw *big.Int) (*chain.UnsignedTx, error)
	BuildSellTx(ctx context.Context, token common.Address, amountInRaw, amountOutMinWei *big.Int) (*chain.UnsignedTx, error)
	SignAndSend(ctx context.Context, utx *chain.UnsignedTx) (common.Hash, error)
	WaitForReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (*types.Receipt, error)
	Account() common.Address
	WNative() common.Address
	Router() common.Address
}

// Fill is the reconciled result of one sell.
type Fill struct {
	Units       decimal.Decimal // tokens sold, human units
	GrossNative decimal.Decimal // proceeds with gas added back
	UnitPrice   decimal.Decimal // GrossNative / Units
	GasCost     decimal.Decimal
	TxHash      common.Hash
}

// Seller executes sells for the exit workers.
type Seller struct {
	cfg   config.Config
	log   *zap.Logger
	chain chainClient
}

func New(cfg config.Config, cl chainClient, log *zap.Logger) *Seller {
	return &Seller{cfg: cfg, log: log, chain: cl}
}

// Balance returns the wallet's holdings of the token in human units.
func (s *Seller) Balance(ctx context.Context, token common.Address) (decimal.Decimal, error) {
	decimals, err := s.chain.TokenDecimals(ctx, token)
	if err != nil {
		return decimal.Zero, err
	}
	raw, err := s.chain.TokenBalance(ctx, token, s.chain.Account())
	if err != nil {
		return decimal.Zero, err
	}
	return chain.RawToUnits(raw, decimals), nil
}

// Sell swaps units of the token back to the native asset. The allowance is
// topped up first when the router cannot spend the amount; proceeds are
// reconciled from wallet balance snapshots around the broadcast.
func (s *Seller) Sell(ctx context.Context, token common.Address, units decimal.Decimal) (Fill, error) {
	if units.LessThanOrEqual(decimal.Zero) {
		return Fill{}, errors.Errorf("sell amount must be positive, got %s", units)
	}

	decimals, err := s.chain.TokenDecimals(ctx, token)
	if err != nil {
		return Fill{}, err
	}
	raw := chain.UnitsToRaw(units, decimals)

	path := []common.Address{token, s.chain.WNative()}
	minOut, expectedOut, err := s.chain.Quote(ctx, path, raw, s.cfg.SlippagePct)
	if err != nil {
		return Fill{}, err
	}
	// A zero minimum-out would broadcast the swap without a slippage bound;
	// abort the same way an empty quote does.
	if expectedOut == nil || expectedOut.Sign() <= 0 || minOut == nil || minOut.Sign() <= 0 {
		return Fill{}, errors.Wrapf(ErrInvalidQuote, "token %s amount %s", token.Hex(), units)
	}

	if err := s.ensureAllowance(ctx, token, raw); err != nil {
		return Fill{}, err
	}

	var balanceBefore *big.Int
	if !s.cfg.DryRun {
		balanceBefore, err = s.chain.NativeBalance(ctx, s.chain.Account())
		if err != nil {
			return Fill{}, err
		}
	}

	utx, err := s.chain.BuildSellTx(ctx, token, raw, minOut)
	if err != nil {
		return Fill{}, err
	}
	hash, err := s.chain.SignAndSend(ctx, utx)
	if err != nil {
		return Fill{}, err
	}

	if hash == chain.DryRunTxHash {
		gross := chain.WeiToNative(expectedOut)
		s.log.Info("dry run sell, expected proceeds recorded",
			zap.String("token", token.Hex()),
			zap.String("units", units.String()),
			zap.String("gross", gross.String()))
		return Fill{
			Units:       units,
			GrossNative: gross,
			UnitPrice:   gross.Div(units),
			TxHash:      hash,
		}, nil
	}

	receipt, err := s.chain.WaitForReceipt(ctx, hash, s.cfg.ReceiptTimeout)
	if err != nil {
		return Fill{}, err
	}

	balanceAfter, err := s.chain.NativeBalance(ctx, s.chain.Account())
	if err != nil {
		return Fill{}, err
	}

	gasCostWei := chain.GasCostWei(receipt)
	gross := chain.ReconcileSellFill(balanceBefore, balanceAfter, gasCostWei)
	if gross.LessThanOrEqual(decimal.Zero) {
		return Fill{}, errors.Errorf("sell %s reconciled to non-positive proceeds %s", hash.Hex(), gross)
	}

	fill := Fill{
		Units:       units,
		GrossNative: gross,
		UnitPrice:   gross.Div(units),
		GasCost:     chain.WeiToNative(gasCostWei),
		TxHash:      hash,
	}
	s.log.Info("sell reconciled",
		zap.String("token", token.Hex()),
		zap.String("tx", hash.Hex()),
		zap.String("units", fill.Units.String()),
		zap.String("gross", fill.GrossNative.String()),
		zap.String("gas_cost", fill.GasCost.String()))
	return fill, nil
}

// ensureAllowance grants the router spend rights when the current allowance
// cannot cover the sell. The approve must land before the swap broadcasts.
func (s *Seller) ensureAllowance(ctx context.Context, token common.Address, raw *big.Int) error {
	allowance, err := s.chain.Allowance(ctx, token, s.chain.Account(), s.chain.Router())
	if err != nil {
		return err
	}
	if allowance.Cmp(raw) >= 0 {
		return nil
	}

	utx, err := s.chain.BuildApproveTx(ctx, token, raw)
	if err != nil {
		return err
	}
	hash, err := s.chain.SignAndSend(ctx, utx)
	if err != nil {
		return err
	}
	if hash == chain.DryRunTxHash {
		return nil
	}
	if _, err := s.chain.WaitForReceipt(ctx, hash, s.cfg.ReceiptTimeout); err != nil {
		return errors.Wrap(err, "approve did not land")
	}
	s.log.Info("router allowance granted",
		zap.String("token", token.Hex()),
		zap.String("tx", hash.Hex()))
	return nil
}
