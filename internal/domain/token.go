package domain

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// TokenStatus tracks where a discovered token sits in the pipeline.
type TokenStatus string

const (
	TokenDiscovered TokenStatus = "discovered"
	TokenCandidate  TokenStatus = "candidate"
	TokenExcluded   TokenStatus = "excluded"
	TokenHoneypot   TokenStatus = "honeypot"
	TokenFollowing  TokenStatus = "following"
	TokenSold       TokenStatus = "sold"
)

// Token is a candidate coming from the discovery feed. All prices are
// denominated in the native asset (BNB per token).
type Token struct {
	PairAddress  string
	Address      string
	Symbol       string
	Name         string
	PriceNative  decimal.Decimal
	Liquidity    decimal.Decimal
	Volume       decimal.Decimal
	Buys         int64
	AgeTimestamp int64
	Status       TokenStatus

	// Taxes reported by the security oracle, percent of trade value.
	BuyTaxPct      decimal.Decimal
	SellTaxPct     decimal.Decimal
	TransferTaxPct decimal.Decimal
}

// Validate checks the fields the engine relies on. Discovery feed data is
// untrusted input, so every numeric must be re-validated before use.
func (t Token) Validate() error {
	if t.PairAddress == "" {
		return errors.New("token pair address is required")
	}
	if t.Address == "" {
		return errors.New("token address is required")
	}
	if t.PriceNative.LessThanOrEqual(decimal.Zero) {
		return errors.Errorf("token %s has non-positive native price %s", t.Symbol, t.PriceNative)
	}
	if t.Liquidity.IsNegative() {
		return errors.Errorf("token %s has negative liquidity %s", t.Symbol, t.Liquidity)
	}
	if t.Volume.IsNegative() {
		return errors.Errorf("token %s has negative volume %s", t.Symbol, t.Volume)
	}
	if t.Buys < 0 {
		return errors.Errorf("token %s has negative buy count %d", t.Symbol, t.Buys)
	}
	if t.AgeTimestamp < 0 || t.AgeTimestamp > time.Now().Add(time.Hour).UnixMilli() {
		return errors.Errorf("token %s has implausible age timestamp %d", t.Symbol, t.AgeTimestamp)
	}
	return nil
}

// FeePerUnit converts the token's buy and transfer taxes into a per-unit
// native cost at the given price.
func (t Token) FeePerUnit(price decimal.Decimal) decimal.Decimal {
	taxes := t.BuyTaxPct.Add(t.TransferTaxPct)
	if taxes.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return price.Mul(taxes).Div(decimal.NewFromInt(100))
}

// SecurityReport is the security oracle's verdict for a token contract.
type SecurityReport struct {
	IsHoneypot     bool
	BuyTaxPct      decimal.Decimal
	SellTaxPct     decimal.Decimal
	TransferTaxPct decimal.Decimal
}
