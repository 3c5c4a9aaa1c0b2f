// Package badger implements the persistent document store on badgerhold.
// It carries three tables: article records (the ledger), per-source scanned
// intervals, and quarantined download errors.
package badger

import (
	"fmt"
	"os"

	"github.com/timshannon/badgerhold/v4"
	"go.uber.org/zap"
)

// Store wraps a badgerhold database shared by the ledger and website tables.
type Store struct {
	store  *badgerhold.Store
	logger *zap.Logger
}

// Open creates or opens the database directory.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(path, 0o750); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = path
	options.ValueDir = path
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	logger.Debug("badger database opened", zap.String("path", path))

	return &Store{store: store, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.store == nil {
		return nil
	}
	return s.store.Close()
}
