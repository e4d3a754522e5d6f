package store

import (
	"context"
	"encoding/json/v2"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/narrateapp/narrate-core/internal/bus"
	"github.com/narrateapp/narrate-core/internal/domain"
)

const progressPrefix = "progress:"

// GetProgress retrieves playback progress for a book.
func (s *Store) GetProgress(ctx context.Context, bookID string) (*domain.BookProgress, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var progress domain.BookProgress
	err := s.get([]byte(progressPrefix+bookID), &progress)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrProgressNotFound
		}
		return nil, fmt.Errorf("get progress: %w", err)
	}
	return &progress, nil
}

// UpsertProgress creates or updates playback progress.
func (s *Store) UpsertProgress(ctx context.Context, progress *domain.BookProgress) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := s.set([]byte(progressPrefix+progress.BookID), progress); err != nil {
		return fmt.Errorf("upsert progress: %w", err)
	}
	s.publish(bus.EventProgressUpdated, progress.BookID)
	return nil
}

// ListProgress returns progress records for all books.
func (s *Store) ListProgress(ctx context.Context) ([]*domain.BookProgress, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var records []*domain.BookProgress

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(progressPrefix)
		opts.PrefetchValues = true

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(progressPrefix)); it.ValidForPrefix([]byte(progressPrefix)); it.Next() {
			var p domain.BookProgress
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &p)
			})
			if err != nil {
				continue // Skip corrupt entries
			}
			records = append(records, &p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	return records, nil
}
