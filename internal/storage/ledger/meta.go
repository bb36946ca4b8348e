package ledger

import (
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MetaStore is a tiny key-value table for one-off engine state that must
// survive restarts, such as the single-buy fuse marker.
type MetaStore struct {
	db *gorm.DB
}

// Get returns the value for a key, empty string when absent.
func (s *MetaStore) Get(key string) (string, error) {
	var row metaModel
	err := s.db.First(&row, "k = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "get meta %s", key)
	}
	return row.V, nil
}

// Set upserts a key-value pair.
func (s *MetaStore) Set(key, value string) error {
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "k"}},
		DoUpdates: clause.AssignmentColumns([]string{"v"}),
	}).Create(&metaModel{K: key, V: value}).Error
	return errors.Wrapf(err, "set meta %s", key)
}
