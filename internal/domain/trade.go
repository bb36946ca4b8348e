package domain

import "github.com/shopspring/decimal"

// TradeEntry is one buy->sell cycle in the trade ledger. Estimated-at-open
// fields are written when the buy executes; real fields arrive with the
// transaction receipt; sell fields are written exactly once on close.
// All unit prices are native asset per token.
type TradeEntry struct {
	ID           int64
	PairAddress  string
	TokenAddress string
	Symbol       string
	Name         string

	BuyEntryPrice    decimal.Decimal
	BuyPriceWithFees decimal.Decimal
	BuyRealPrice     decimal.NullDecimal
	BuyAmount        decimal.NullDecimal
	BuyDate          int64
	// BuyTxHash is the broadcast buy transaction, empty for dry runs. It
	// lets receipt reconciliation resume after a wait timeout or restart.
	BuyTxHash string

	SellEntryPrice    decimal.NullDecimal
	SellPriceWithFees decimal.NullDecimal
	SellRealPrice     decimal.NullDecimal
	SellAmount        decimal.NullDecimal
	SellDate          *int64

	// Pnl is the percent result weighted by sold units; NativeProfit is the
	// absolute profit of the cycle in the native asset.
	Pnl          decimal.NullDecimal
	NativeProfit decimal.NullDecimal
}

// Open reports whether the cycle still awaits its sell leg.
func (e TradeEntry) Open() bool {
	return !e.SellRealPrice.Valid
}

// Filled reports whether the real buy result has been reconciled.
func (e TradeEntry) Filled() bool {
	return e.BuyRealPrice.Valid
}

// CyclePnl computes the weighted percent PnL and native profit for a closed
// cycle: ((sellReal - buyReal) / buyReal) * soldUnits * 100 and
// (sellReal - buyReal) * soldUnits.
func CyclePnl(buyReal, sellReal, soldUnits decimal.Decimal) (pnl, nativeProfit decimal.Decimal) {
	if buyReal.LessThanOrEqual(decimal.Zero) || soldUnits.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, decimal.Zero
	}
	diff := sellReal.Sub(buyReal)
	pnl = diff.Div(buyReal).Mul(soldUnits).Mul(decimal.NewFromInt(100))
	nativeProfit = diff.Mul(soldUnits)
	return pnl, nativeProfit
}
