package ledger

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vadiminshakov/sniper/internal/domain"
)

// MonitorStore holds the live position snapshots, upserted on every tick,
// and the link from a pair to its open trade-ledger entry.
type MonitorStore struct {
	db *gorm.DB
}

// SaveState upserts the live price/PnL view of a pair. The history link is
// deliberately left untouched: only SetHistoryID/ClearHistoryID move it.
func (s *MonitorStore) SaveState(pair, symbol string, price, entryPrice, buyPriceWithFees decimal.Decimal) error {
	row := monitorModel{
		PairAddress:      pair,
		Symbol:           symbol,
		Price:            price,
		EntryPrice:       entryPrice,
		BuyPriceWithFees: buyPriceWithFees,
		Pnl:              domain.SnapshotPnl(price, buyPriceWithFees),
		UpdatedAt:        time.Now().Unix(),
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "pair_address"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"symbol", "price", "entry_price", "buy_price_with_fees", "pnl", "updated_at",
		}),
	}).Create(&row).Error
	return errors.Wrapf(err, "save snapshot for %s", pair)
}

// SetHistoryID links the pair to its open trade-ledger entry.
func (s *MonitorStore) SetHistoryID(pair string, historyID int64) error {
	row := monitorModel{
		PairAddress: pair,
		HistoryID:   &historyID,
		UpdatedAt:   time.Now().Unix(),
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "pair_address"}},
		DoUpdates: clause.AssignmentColumns([]string{"history_id", "updated_at"}),
	}).Create(&row).Error
	return errors.Wrapf(err, "link history %d to %s", historyID, pair)
}

// HistoryID returns the linked open trade entry, or nil when the pair has
// no open trade.
func (s *MonitorStore) HistoryID(pair string) (*int64, error) {
	var row monitorModel
	err := s.db.First(&row, "pair_address = ?", pair).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "history id for %s", pair)
	}
	return row.HistoryID, nil
}

// ClearHistoryID drops the link once the cycle closes.
func (s *MonitorStore) ClearHistoryID(pair string) error {
	err := s.db.Model(&monitorModel{}).
		Where("pair_address = ?", pair).
		Update("history_id", nil).Error
	return errors.Wrapf(err, "clear history link for %s", pair)
}

// PairsWithOpenTrade lists every pair whose snapshot links an open trade.
func (s *MonitorStore) PairsWithOpenTrade() ([]string, error) {
	var pairs []string
	err := s.db.Model(&monitorModel{}).
		Where("history_id IS NOT NULL").
		Pluck("pair_address", &pairs).Error
	return pairs, errors.Wrap(err, "list pairs with open trades")
}

// ListMonitored returns the latest snapshots, most recently updated first.
func (s *MonitorStore) ListMonitored(limit int) ([]domain.PositionSnapshot, error) {
	var rows []monitorModel
	if err := s.db.Order("updated_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "list snapshots")
	}
	out := make([]domain.PositionSnapshot, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.PositionSnapshot{
			PairAddress:      r.PairAddress,
			Symbol:           r.Symbol,
			Price:            r.Price,
			EntryPrice:       r.EntryPrice,
			BuyPriceWithFees: r.BuyPriceWithFees,
			Pnl:              r.Pnl,
			UpdatedAt:        r.UpdatedAt,
			HistoryID:        r.HistoryID,
		})
	}
	return out, nil
}
