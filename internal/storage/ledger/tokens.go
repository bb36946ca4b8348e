package ledger

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vadiminshakov/sniper/internal/domain"
)

// TokenStore is the catalog of every pair the discovery feed ever surfaced,
// keyed by pair address, with the lifecycle status attached.
type TokenStore struct {
	db *gorm.DB
}

// Save upserts the market fields of a token. Status is written only on
// first insert; UpdateStatus owns it afterwards.
func (s *TokenStore) Save(t domain.Token) error {
	now := time.Now().Unix()
	row := tokenModel{
		PairAddress:    t.PairAddress,
		Address:        t.Address,
		Symbol:         t.Symbol,
		Name:           t.Name,
		PriceNative:    t.PriceNative,
		Liquidity:      t.Liquidity,
		Volume:         t.Volume,
		Buys:           t.Buys,
		AgeTimestamp:   t.AgeTimestamp,
		Status:         string(t.Status),
		BuyTaxPct:      t.BuyTaxPct,
		SellTaxPct:     t.SellTaxPct,
		TransferTaxPct: t.TransferTaxPct,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "pair_address"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"address", "symbol", "name", "price_native", "liquidity",
			"volume", "buys", "age_timestamp", "updated_at",
		}),
	}).Create(&row).Error
	return errors.Wrapf(err, "save token %s", t.PairAddress)
}

// UpdateStatus moves the token through its lifecycle.
func (s *TokenStore) UpdateStatus(pair string, status domain.TokenStatus) error {
	err := s.db.Model(&tokenModel{}).
		Where("pair_address = ?", pair).
		Updates(map[string]any{
			"status":     string(status),
			"updated_at": time.Now().Unix(),
		}).Error
	return errors.Wrapf(err, "set token %s status %s", pair, status)
}

// UpdateTaxes stores the security oracle's tax report for the token.
func (s *TokenStore) UpdateTaxes(pair string, buyTax, sellTax, transferTax decimal.Decimal) error {
	err := s.db.Model(&tokenModel{}).
		Where("pair_address = ?", pair).
		Updates(map[string]any{
			"buy_tax_pct":      buyTax,
			"sell_tax_pct":     sellTax,
			"transfer_tax_pct": transferTax,
			"updated_at":       time.Now().Unix(),
		}).Error
	return errors.Wrapf(err, "set token %s taxes", pair)
}

// ByPair loads a token by pair address, nil when unknown.
func (s *TokenStore) ByPair(pair string) (*domain.Token, error) {
	var row tokenModel
	err := s.db.First(&row, "pair_address = ?", pair).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get token %s", pair)
	}
	t := toToken(row)
	return &t, nil
}

// ListByStatus returns every token in the given lifecycle status.
func (s *TokenStore) ListByStatus(status domain.TokenStatus) ([]domain.Token, error) {
	var rows []tokenModel
	if err := s.db.Where("status = ?", string(status)).Find(&rows).Error; err != nil {
		return nil, errors.Wrapf(err, "list tokens in status %s", status)
	}
	out := make([]domain.Token, 0, len(rows))
	for _, r := range rows {
		out = append(out, toToken(r))
	}
	return out, nil
}

func toToken(r tokenModel) domain.Token {
	return domain.Token{
		PairAddress:    r.PairAddress,
		Address:        r.Address,
		Symbol:         r.Symbol,
		Name:           r.Name,
		PriceNative:    r.PriceNative,
		Liquidity:      r.Liquidity,
		Volume:         r.Volume,
		Buys:           r.Buys,
		AgeTimestamp:   r.AgeTimestamp,
		Status:         domain.TokenStatus(r.Status),
		BuyTaxPct:      r.BuyTaxPct,
		SellTaxPct:     r.SellTaxPct,
		TransferTaxPct: r.TransferTaxPct,
	}
}
