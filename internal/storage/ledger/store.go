// Package ledger holds the durable stores of the engine: the action ledger
// gating approvals, the trade history of buy->sell cycles, the live
// position snapshots and the token catalog. All mutations go through the
// documented lifecycle operations so the invariants stay enforceable in
// one place; the read methods are the stable contract for any reporting
// surface.
package ledger

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store wraps one SQLite database shared by all ledgers.
type Store struct {
	db *gorm.DB
}

// Open initializes the database, migrating every ledger table.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("ledger: database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "ensure database directory")
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	if err := db.AutoMigrate(
		&actionModel{},
		&historyModel{},
		&monitorModel{},
		&tokenModel{},
		&metaModel{},
	); err != nil {
		return nil, errors.Wrap(err, "migrate ledger tables")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// WAL mode plus a small pool keeps reader contention low while the
	// workers write concurrently.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Actions returns the action ledger.
func (s *Store) Actions() *ActionStore { return &ActionStore{db: s.db} }

// History returns the trade ledger.
func (s *Store) History() *HistoryStore { return &HistoryStore{db: s.db} }

// Monitor returns the position snapshot store.
func (s *Store) Monitor() *MonitorStore { return &MonitorStore{db: s.db} }

// Tokens returns the token catalog.
func (s *Store) Tokens() *TokenStore { return &TokenStore{db: s.db} }

// Meta returns the key-value store for one-off engine state.
func (s *Store) Meta() *MetaStore { return &MetaStore{db: s.db} }
