package domain

import "github.com/shopspring/decimal"

// PositionSnapshot is the continuously upserted live view of an open
// position. It is the only state a reporting surface needs to read.
type PositionSnapshot struct {
	PairAddress      string
	Symbol           string
	Price            decimal.Decimal
	EntryPrice       decimal.Decimal
	BuyPriceWithFees decimal.Decimal
	Pnl              decimal.NullDecimal
	UpdatedAt        int64
	HistoryID        *int64
}

// SnapshotPnl derives the live percent PnL against the fee-inclusive buy
// price. Returns an invalid decimal when the basis is unusable.
func SnapshotPnl(price, buyPriceWithFees decimal.Decimal) decimal.NullDecimal {
	if buyPriceWithFees.LessThanOrEqual(decimal.Zero) || price.LessThanOrEqual(decimal.Zero) {
		return decimal.NullDecimal{}
	}
	pnl := price.Sub(buyPriceWithFees).Div(buyPriceWithFees).Mul(decimal.NewFromInt(100))
	return decimal.NullDecimal{Decimal: pnl, Valid: true}
}
