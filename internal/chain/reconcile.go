package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const nativeDecimals = 18

// WeiToNative converts a wei amount to native units.
func WeiToNative(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -nativeDecimals)
}

// NativeToWei converts native units to wei, flooring sub-wei dust.
func NativeToWei(native decimal.Decimal) *big.Int {
	return native.Shift(nativeDecimals).Floor().BigInt()
}

// RawToUnits converts raw token units to human units via the token's
// decimals.
func RawToUnits(raw *big.Int, decimals uint8) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -int32(decimals))
}

// UnitsToRaw converts human units to raw token units, flooring dust.
func UnitsToRaw(units decimal.Decimal, decimals uint8) *big.Int {
	return units.Shift(int32(decimals)).Floor().BigInt()
}

// BuyFill is the reconciled result of a buy: what actually landed in the
// wallet and what one unit really cost including gas.
type BuyFill struct {
	Units     decimal.Decimal // tokens received, human units
	UnitPrice decimal.Decimal // (value sent + gas cost) / units, native per token
	GasCost   decimal.Decimal // native units
}

// ReconcileBuyFill scans the receipt logs for the token transfer into the
// wallet and derives the real unit price from it. A missing transfer aborts
// loudly; it never defaults to an estimate.
func ReconcileBuyFill(receipt *types.Receipt, token, wallet common.Address, decimals uint8, valueSentWei *big.Int) (BuyFill, error) {
	if receipt == nil {
		return BuyFill{}, errors.Wrap(ErrFillNotFound, "nil receipt")
	}

	var received *big.Int
	for _, lg := range receipt.Logs {
		if lg.Address != token || len(lg.Topics) != 3 || lg.Topics[0] != transferTopic {
			continue
		}
		to := common.BytesToAddress(lg.Topics[2].Bytes())
		if to != wallet {
			continue
		}
		amount := new(big.Int).SetBytes(lg.Data)
		if received == nil {
			received = amount
		} else {
			// Taxed tokens can split the transfer; sum every leg to the wallet.
			received.Add(received, amount)
		}
	}
	if received == nil || received.Sign() <= 0 {
		return BuyFill{}, errors.Wrapf(ErrFillNotFound, "token %s wallet %s", token.Hex(), wallet.Hex())
	}

	units := RawToUnits(received, decimals)
	gasCost := WeiToNative(GasCostWei(receipt))
	totalSpent := WeiToNative(valueSentWei).Add(gasCost)

	return BuyFill{
		Units:     units,
		UnitPrice: totalSpent.Div(units),
		GasCost:   gasCost,
	}, nil
}

// ReconcileSellFill derives the gross native proceeds of a sell from wallet
// balance snapshots taken around the broadcast. The gas cost is added back
// so the result is comparable to the buy side's gas-inclusive cost basis.
// A balance-delta method is used instead of log decoding because the asset
// of interest flowed out of the wrapped-native contract, not into the
// wallet as a token transfer.
func ReconcileSellFill(balanceBeforeWei, balanceAfterWei, gasCostWei *big.Int) decimal.Decimal {
	delta := new(big.Int).Sub(balanceAfterWei, balanceBeforeWei)
	delta.Add(delta, gasCostWei)
	return WeiToNative(delta)
}
