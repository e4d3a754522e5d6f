// Package store persists all durable state on Badger: books, progress,
// bookmarks, preferences, cached audio blobs, and the sync marker.
package store

import (
	"encoding/json/v2"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"github.com/narrateapp/narrate-core/internal/bus"
)

// Store wraps a Badger database instance.
type Store struct {
	db     *badger.DB
	logger *slog.Logger

	// Publisher for broadcasting data changes. The sync engine subscribes to
	// these to schedule pushes.
	publisher bus.Publisher
}

// New creates a new Store instance with the given database path and event
// publisher. The publisher is required; pass bus.NoopPublisher{} in tests.
func New(path string, logger *slog.Logger, publisher bus.Publisher) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil            // Disable Badger's internal logging
	opts.SyncWrites = true       // Ensure writes are synced to disk to prevent corruption on crashes
	opts.CompactL0OnClose = true // Compact L0 tables on close for faster startup

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	store := &Store{
		db:        db,
		logger:    logger,
		publisher: publisher,
	}

	if logger != nil {
		logger.Info("Badger database opened successfully", "path", path)
	}

	return store, nil
}

// Close gracefully closes the database connection.
func (s *Store) Close() error {
	if s.logger != nil {
		s.logger.Info("Closing database connection")
	}
	return s.db.Close()
}

// publish broadcasts a store change on the bus.
func (s *Store) publish(t bus.EventType, data any) {
	s.publisher.Publish(bus.Event{Type: t, Source: "store", Data: data})
}

// Helper methods for database operations.

// get retrieves a value by key.
func (s *Store) get(key []byte, dest any) error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, dest)
		})
	})
}

// set stores a value by key.
func (s *Store) set(key []byte, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// delete removes a key from the database.
func (s *Store) delete(key []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// exists checks if a key exists.
func (s *Store) exists(key []byte) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		return err
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// collectValues reads all values under an index prefix as strings.
func collectValues(txn *badger.Txn, prefix []byte) ([]string, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = true

	it := txn.NewIterator(opts)
	defer it.Close()

	var values []string
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		err := it.Item().Value(func(val []byte) error {
			values = append(values, string(val))
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return values, nil
}

// deletePrefix removes all keys under a prefix within one transaction and
// returns the number of value bytes freed.
func deletePrefix(txn *badger.Txn, prefix []byte) (int64, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false

	it := txn.NewIterator(opts)

	var keys [][]byte
	var freed int64
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		freed += item.ValueSize()
		keys = append(keys, item.KeyCopy(nil))
	}
	// Deletes must not run under an open iterator.
	it.Close()

	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return freed, err
		}
	}
	return freed, nil
}
