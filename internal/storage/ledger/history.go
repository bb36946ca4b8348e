package ledger

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/vadiminshakov/sniper/internal/domain"
)

// HistoryStore is the trade ledger: one row per buy->sell cycle. The only
// mutations are the four lifecycle operations — create the buy, set the
// real buy fill, finalize the sell, and nothing else — so the ordering
// invariant (sell only after a reconciled buy) is enforced here.
type HistoryStore struct {
	db *gorm.DB
}

var (
	// ErrBuyNotFilled guards the ordering invariant: the sell leg may only
	// be written once the real buy price is recorded.
	ErrBuyNotFilled = errors.New("buy fill not recorded yet")

	// ErrCycleClosed means the entry was already finalized; closed rows
	// are never updated again.
	ErrCycleClosed = errors.New("trade cycle already closed")
)

// CreateBuy opens a cycle with the estimated fields and returns its id.
// txHash is the broadcast transaction, empty for dry runs.
func (s *HistoryStore) CreateBuy(pair, tokenAddr, symbol, name, txHash string, entryPrice, priceWithFees decimal.Decimal) (int64, error) {
	row := historyModel{
		PairAddress:      pair,
		TokenAddress:     tokenAddr,
		Symbol:           symbol,
		Name:             name,
		BuyEntryPrice:    entryPrice,
		BuyPriceWithFees: priceWithFees,
		BuyDate:          time.Now().Unix(),
		BuyTxHash:        txHash,
	}
	if err := s.db.Create(&row).Error; err != nil {
		return 0, errors.Wrapf(err, "create buy for %s", pair)
	}
	return row.ID, nil
}

// SetBuyFill records the reconciled buy result.
func (s *HistoryStore) SetBuyFill(id int64, realPrice, amount decimal.Decimal) error {
	err := s.db.Model(&historyModel{}).Where("id = ?", id).Updates(map[string]any{
		"buy_real_price": decimal.NullDecimal{Decimal: realPrice, Valid: true},
		"buy_amount":     decimal.NullDecimal{Decimal: amount, Valid: true},
	}).Error
	return errors.Wrapf(err, "set buy fill for history %d", id)
}

// FinalizeSell closes the cycle. It refuses to run before the buy fill is
// recorded and refuses to touch an already-closed row.
func (s *HistoryStore) FinalizeSell(id int64, sellEntry, sellWithFees, sellReal, amount, pnl, nativeProfit decimal.Decimal) error {
	entry, err := s.GetByID(id)
	if err != nil {
		return err
	}
	if entry == nil {
		return errors.Errorf("history entry %d not found", id)
	}
	if !entry.Filled() {
		return errors.Wrapf(ErrBuyNotFilled, "history %d", id)
	}
	if !entry.Open() {
		return errors.Wrapf(ErrCycleClosed, "history %d", id)
	}

	now := time.Now().Unix()
	err = s.db.Model(&historyModel{}).Where("id = ?", id).Updates(map[string]any{
		"sell_entry_price":     decimal.NullDecimal{Decimal: sellEntry, Valid: true},
		"sell_price_with_fees": decimal.NullDecimal{Decimal: sellWithFees, Valid: true},
		"sell_real_price":      decimal.NullDecimal{Decimal: sellReal, Valid: true},
		"sell_amount":          decimal.NullDecimal{Decimal: amount, Valid: true},
		"sell_date":            &now,
		"pnl":                  decimal.NullDecimal{Decimal: pnl, Valid: true},
		"native_profit":        decimal.NullDecimal{Decimal: nativeProfit, Valid: true},
	}).Error
	return errors.Wrapf(err, "finalize sell for history %d", id)
}

// GetByID loads one cycle, nil when missing.
func (s *HistoryStore) GetByID(id int64) (*domain.TradeEntry, error) {
	var row historyModel
	err := s.db.First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get history %d", id)
	}
	e := toTradeEntry(row)
	return &e, nil
}

// LastByPair loads the most recent cycle of a pair, nil when none.
func (s *HistoryStore) LastByPair(pair string) (*domain.TradeEntry, error) {
	var row historyModel
	err := s.db.Where("pair_address = ?", pair).Order("id DESC").First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "last history for %s", pair)
	}
	e := toTradeEntry(row)
	return &e, nil
}

// ListRecent returns the latest cycles, newest first.
func (s *HistoryStore) ListRecent(limit int) ([]domain.TradeEntry, error) {
	var rows []historyModel
	if err := s.db.Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "list recent history")
	}
	out := make([]domain.TradeEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, toTradeEntry(r))
	}
	return out, nil
}

// Summary aggregates closed cycles: count, total native profit, and the
// average PnL weighted by sold units.
type Summary struct {
	ClosedCycles      int
	NativeProfitTotal decimal.Decimal
	AvgWeightedPnl    decimal.Decimal
}

// Summary computes the reporting aggregate over every closed cycle.
func (s *HistoryStore) Summary() (Summary, error) {
	var rows []historyModel
	if err := s.db.Where("sell_real_price IS NOT NULL").Find(&rows).Error; err != nil {
		return Summary{}, errors.Wrap(err, "load closed cycles")
	}

	var out Summary
	totalWeight := decimal.Zero
	weightedPnl := decimal.Zero
	for _, r := range rows {
		if !r.BuyRealPrice.Valid || !r.SellRealPrice.Valid || !r.SellAmount.Valid {
			continue
		}
		amount := r.SellAmount.Decimal
		if amount.LessThanOrEqual(decimal.Zero) {
			continue
		}
		out.ClosedCycles++
		if r.NativeProfit.Valid {
			out.NativeProfitTotal = out.NativeProfitTotal.Add(r.NativeProfit.Decimal)
		}
		pnl, _ := domain.CyclePnl(r.BuyRealPrice.Decimal, r.SellRealPrice.Decimal, amount)
		weightedPnl = weightedPnl.Add(pnl)
		totalWeight = totalWeight.Add(amount)
	}
	if totalWeight.GreaterThan(decimal.Zero) {
		out.AvgWeightedPnl = weightedPnl.Div(totalWeight)
	}
	return out, nil
}

func toTradeEntry(r historyModel) domain.TradeEntry {
	return domain.TradeEntry{
		ID:                r.ID,
		PairAddress:       r.PairAddress,
		TokenAddress:      r.TokenAddress,
		Symbol:            r.Symbol,
		Name:              r.Name,
		BuyEntryPrice:     r.BuyEntryPrice,
		BuyPriceWithFees:  r.BuyPriceWithFees,
		BuyRealPrice:      r.BuyRealPrice,
		BuyAmount:         r.BuyAmount,
		BuyDate:           r.BuyDate,
		BuyTxHash:         r.BuyTxHash,
		SellEntryPrice:    r.SellEntryPrice,
		SellPriceWithFees: r.SellPriceWithFees,
		SellRealPrice:     r.SellRealPrice,
		SellAmount:        r.SellAmount,
		SellDate:          r.SellDate,
		Pnl:               r.Pnl,
		NativeProfit:      r.NativeProfit,
	}
}
