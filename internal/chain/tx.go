package chain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	swapDeadline        = 60 * time.Second
	receiptPollInterval = 2 * time.Second
)

// DryRunTxHash is the sentinel returned by SignAndSend when nothing was
// broadcast.
var DryRunTxHash = common.Hash{}

// UnsignedTx is a built transaction before nonce assignment and signing.
// The fee quote inside carries exactly one fee model's fields.
type UnsignedTx struct {
	To           common.Address
	Value        *big.Int
	Data         []byte
	Gas          uint64
	MaxPerGasWei *big.Int // worst-case price per gas unit

	fees feeQuote
}

// EstimatedFeeWei is the worst-case total fee for this transaction.
func (u *UnsignedTx) EstimatedFeeWei() *big.Int {
	if u.MaxPerGasWei == nil {
		return new(big.Int)
	}
	return new(big.Int).Mul(new(big.Int).SetUint64(u.Gas), u.MaxPerGasWei)
}

// EstimatedFee is the worst-case total fee in native units.
func (u *UnsignedTx) EstimatedFee() decimal.Decimal {
	return WeiToNative(u.EstimatedFeeWei())
}

// BuildBuyTx builds a swapExactETHForTokens spending amountInWei of native
// asset for token, bounded by amountOutMin raw token units.
func (c *Client) BuildBuyTx(ctx context.Context, token common.Address, amountInWei, amountOutMin *big.Int) (*UnsignedTx, error) {
	if c.key == nil {
		return nil, ErrNoSigner
	}
	deadline := big.NewInt(time.Now().Add(swapDeadline).Unix())
	path := []common.Address{c.wnative, token}

	pack := func(minOut *big.Int) ([]byte, error) {
		return routerABI.Pack("swapExactETHForTokens", minOut, path, c.account, deadline)
	}
	data, err := pack(amountOutMin)
	if err != nil {
		return nil, errors.Wrap(err, "pack swapExactETHForTokens")
	}

	return c.finishBuild(ctx, c.router, amountInWei, data, func() ([]byte, error) {
		return pack(new(big.Int))
	})
}

// BuildSellTx builds a swapExactTokensForETH selling amountInRaw token units
// for at least amountOutMinWei of native asset.
func (c *Client) BuildSellTx(ctx context.Context, token common.Address, amountInRaw, amountOutMinWei *big.Int) (*UnsignedTx, error) {
	if c.key == nil {
		return nil, ErrNoSigner
	}
	deadline := big.NewInt(time.Now().Add(swapDeadline).Unix())
	path := []common.Address{token, c.wnative}

	pack := func(minOut *big.Int) ([]byte, error) {
		return routerABI.Pack("swapExactTokensForETH", amountInRaw, minOut, path, c.account, deadline)
	}
	data, err := pack(amountOutMinWei)
	if err != nil {
		return nil, errors.Wrap(err, "pack swapExactTokensForETH")
	}

	return c.finishBuild(ctx, c.router, new(big.Int), data, func() ([]byte, error) {
		return pack(new(big.Int))
	})
}

// BuildApproveTx builds an ERC-20 approve granting the router spend rights
// over amountRaw token units.
func (c *Client) BuildApproveTx(ctx context.Context, token common.Address, amountRaw *big.Int) (*UnsignedTx, error) {
	if c.key == nil {
		return nil, ErrNoSigner
	}
	data, err := erc20ABI.Pack("approve", c.router, amountRaw)
	if err != nil {
		return nil, errors.Wrap(err, "pack approve")
	}
	return c.finishBuild(ctx, token, new(big.Int), data, nil)
}

// finishBuild estimates gas and attaches the current fee quote. When the
// strict estimate fails (the minimum-out would revert under current
// conditions) and a relaxed packer is provided, estimation is retried once
// with a zero minimum-out purely to obtain a limit; the strict calldata is
// what gets sent.
func (c *Client) finishBuild(ctx context.Context, to common.Address, value *big.Int, data []byte, relaxed func() ([]byte, error)) (*UnsignedTx, error) {
	fees, err := c.feeQuote(ctx)
	if err != nil {
		return nil, err
	}

	gas, err := c.estimateGas(ctx, to, value, data)
	if err != nil && relaxed != nil {
		relaxedData, perr := relaxed()
		if perr != nil {
			return nil, errors.Wrap(perr, "pack relaxed calldata")
		}
		c.log.Debug("strict gas estimate failed, retrying with relaxed minimum-out", zap.Error(err))
		gas, err = c.estimateGas(ctx, to, value, relaxedData)
	}
	if err != nil {
		return nil, errors.Wrap(ErrGasEstimation, err.Error())
	}

	gas = uint64(decimal.NewFromUint64(gas).Mul(c.cfg.GasLimitMultiplier).Ceil().IntPart())

	return &UnsignedTx{To: to, Value: value, Data: data, Gas: gas, MaxPerGasWei: fees.perGasWei(), fees: fees}, nil
}

func (c *Client) estimateGas(ctx context.Context, to common.Address, value *big.Int, data []byte) (uint64, error) {
	return withRetry(c, ctx, func(ctx context.Context, eth *ethclient.Client) (uint64, error) {
		return eth.EstimateGas(ctx, ethereum.CallMsg{
			From:  c.account,
			To:    &to,
			Value: value,
			Data:  data,
		})
	})
}

// SignAndSend assigns the next nonce, signs and broadcasts. Nonce
// assignment and broadcast run under one lock so concurrent flows for the
// same account never collide. In dry-run mode nothing is broadcast and the
// sentinel hash is returned.
func (c *Client) SignAndSend(ctx context.Context, utx *UnsignedTx) (common.Hash, error) {
	if c.cfg.DryRun {
		c.log.Info("dry run, transaction not broadcast",
			zap.String("to", utx.To.Hex()),
			zap.String("value_wei", utx.Value.String()),
			zap.Uint64("gas", utx.Gas))
		return DryRunTxHash, nil
	}
	if c.key == nil {
		return common.Hash{}, ErrNoSigner
	}
	if utx.fees == nil {
		return common.Hash{}, errors.New("transaction built without fee quote")
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	nonce, err := withRetry(c, ctx, func(ctx context.Context, eth *ethclient.Client) (uint64, error) {
		return eth.PendingNonceAt(ctx, c.account)
	})
	if err != nil {
		return common.Hash{}, err
	}

	signed, err := types.SignNewTx(c.key, types.LatestSignerForChainID(c.chainID),
		utx.fees.txData(nonce, utx.To, utx.Value, utx.Gas, utx.Data, c.chainID))
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "sign transaction")
	}

	// Re-broadcasting the identical signed tx is safe, so the retry wrapper
	// applies here too.
	_, err = withRetry(c, ctx, func(ctx context.Context, eth *ethclient.Client) (struct{}, error) {
		return struct{}{}, eth.SendTransaction(ctx, signed)
	})
	if err != nil {
		return common.Hash{}, err
	}

	c.log.Info("transaction broadcast", zap.String("tx", signed.Hash().Hex()), zap.Uint64("nonce", nonce))
	return signed.Hash(), nil
}

// WaitForReceipt polls for the receipt until timeout. A timeout surfaces as
// ErrReceiptTimeout, which is retryable and must never be treated as a
// failed buy or sell. A landed-but-reverted transaction is ErrTxReverted.
func (c *Client) WaitForReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (*types.Receipt, error) {
	deadline := time.Now().Add(timeout)
	for {
		receipt, err := func() (*types.Receipt, error) {
			callCtx, cancel := context.WithTimeout(ctx, c.cfg.RPCTimeout)
			defer cancel()
			return c.client().TransactionReceipt(callCtx, hash)
		}()
		if err == nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return receipt, errors.Wrapf(ErrTxReverted, "tx %s", hash.Hex())
			}
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) && ctx.Err() == nil {
			c.rotate(0, err)
		}

		if time.Now().After(deadline) {
			return nil, errors.Wrapf(ErrReceiptTimeout, "tx %s after %s", hash.Hex(), timeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(receiptPollInterval):
		}
	}
}

// GasCostWei derives the actual fee paid from a receipt.
func GasCostWei(receipt *types.Receipt) *big.Int {
	if receipt == nil || receipt.EffectiveGasPrice == nil {
		return new(big.Int)
	}
	return new(big.Int).Mul(new(big.Int).SetUint64(receipt.GasUsed), receipt.EffectiveGasPrice)
}
