package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// feeMode is detected once per client from the latest header: a present
// base fee means the chain runs a dynamic fee market, otherwise legacy
// gas pricing applies.
type feeMode int

const (
	feeModeLegacy feeMode = iota
	feeModeDynamic
)

func (m feeMode) String() string {
	if m == feeModeDynamic {
		return "dynamic"
	}
	return "legacy"
}

// feeQuote carries exactly one fee model's fields for one transaction.
// The two implementations are the only way to attach fees to a built
// transaction, so legacy and dynamic fields can never be mixed.
type feeQuote interface {
	// txData assembles the typed transaction for this fee model.
	txData(nonce uint64, to common.Address, value *big.Int, gas uint64, data []byte, chainID *big.Int) types.TxData
	// perGasWei is the worst-case price per gas unit, used for fee
	// estimation before sending.
	perGasWei() *big.Int
}

type legacyFees struct {
	gasPrice *big.Int
}

func (f legacyFees) txData(nonce uint64, to common.Address, value *big.Int, gas uint64, data []byte, _ *big.Int) types.TxData {
	return &types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gas,
		GasPrice: f.gasPrice,
		Data:     data,
	}
}

func (f legacyFees) perGasWei() *big.Int { return f.gasPrice }

type dynamicFees struct {
	maxFee *big.Int
	tip    *big.Int
}

func (f dynamicFees) txData(nonce uint64, to common.Address, value *big.Int, gas uint64, data []byte, chainID *big.Int) types.TxData {
	return &types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		To:        &to,
		Value:     value,
		Gas:       gas,
		GasFeeCap: f.maxFee,
		GasTipCap: f.tip,
		Data:      data,
	}
}

func (f dynamicFees) perGasWei() *big.Int { return f.maxFee }

// feeQuote fetches current prices for the detected fee mode. The mode never
// changes during the client's lifetime; the numbers are refreshed per call.
func (c *Client) feeQuote(ctx context.Context) (feeQuote, error) {
	switch c.mode {
	case feeModeDynamic:
		head, err := c.header(ctx)
		if err != nil {
			return nil, err
		}
		if head.BaseFee == nil {
			return nil, errors.New("dynamic fee mode but header has no base fee")
		}
		tip := big.NewInt(c.cfg.PriorityFeeWei)
		if tip.Sign() == 0 {
			tip, err = c.suggestTip(ctx)
			if err != nil {
				return nil, err
			}
		}
		maxFee := mulByDecimal(head.BaseFee, c.cfg.BaseFeeMultiplier)
		maxFee.Add(maxFee, tip)
		return dynamicFees{maxFee: maxFee, tip: tip}, nil
	default:
		if c.cfg.GasPriceWei > 0 {
			return legacyFees{gasPrice: big.NewInt(c.cfg.GasPriceWei)}, nil
		}
		price, err := c.suggestGasPrice(ctx)
		if err != nil {
			return nil, err
		}
		return legacyFees{gasPrice: price}, nil
	}
}

func mulByDecimal(wei *big.Int, mult decimal.Decimal) *big.Int {
	return decimal.NewFromBigInt(wei, 0).Mul(mult).Floor().BigInt()
}
