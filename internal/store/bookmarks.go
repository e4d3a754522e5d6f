package store

import (
	"context"
	"encoding/json/v2"
	"errors"
	"fmt"
	"slices"

	"github.com/dgraph-io/badger/v4"

	"github.com/narrateapp/narrate-core/internal/bus"
	"github.com/narrateapp/narrate-core/internal/domain"
)

const (
	bookmarkPrefix       = "bookmark:"
	bookmarkByBookPrefix = "idx:bookmarks:book:"
)

// CreateBookmark stores a bookmark and its per-book index atomically.
// Bookmarks are immutable; there is no Update.
func (s *Store) CreateBookmark(ctx context.Context, bm *domain.Bookmark) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(bm)
	if err != nil {
		return fmt.Errorf("marshal bookmark: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(bookmarkPrefix+bm.ID), data); err != nil {
			return fmt.Errorf("set bookmark: %w", err)
		}

		idx := bookmarkByBookPrefix + bm.BookID + ":" + bm.ID
		if err := txn.Set([]byte(idx), []byte(bm.ID)); err != nil {
			return fmt.Errorf("set book index: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.publish(bus.EventBookmarkCreated, bm.ID)
	return nil
}

// GetBookmark retrieves a bookmark by ID.
func (s *Store) GetBookmark(ctx context.Context, id string) (*domain.Bookmark, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var bm domain.Bookmark
	err := s.get([]byte(bookmarkPrefix+id), &bm)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrBookmarkNotFound
		}
		return nil, fmt.Errorf("get bookmark: %w", err)
	}
	return &bm, nil
}

// GetBookmarksForBook retrieves all bookmarks for a book, ordered by position.
func (s *Store) GetBookmarksForBook(ctx context.Context, bookID string) ([]*domain.Bookmark, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefix := bookmarkByBookPrefix + bookID + ":"
	var bookmarks []*domain.Bookmark

	err := s.db.View(func(txn *badger.Txn) error {
		ids, err := collectValues(txn, []byte(prefix))
		if err != nil {
			return err
		}

		bookmarks = make([]*domain.Bookmark, 0, len(ids))
		for _, id := range ids {
			item, err := txn.Get([]byte(bookmarkPrefix + id))
			if err != nil {
				continue // Skip dangling index entries
			}

			var bm domain.Bookmark
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &bm)
			}); err != nil {
				continue
			}
			bookmarks = append(bookmarks, &bm)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get bookmarks for book: %w", err)
	}

	slices.SortFunc(bookmarks, func(a, b *domain.Bookmark) int {
		if a.ChapterIndex != b.ChapterIndex {
			return a.ChapterIndex - b.ChapterIndex
		}
		switch {
		case a.TimeSeconds < b.TimeSeconds:
			return -1
		case a.TimeSeconds > b.TimeSeconds:
			return 1
		}
		return 0
	})
	return bookmarks, nil
}

// ListBookmarks returns all bookmarks across all books.
func (s *Store) ListBookmarks(ctx context.Context) ([]*domain.Bookmark, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var bookmarks []*domain.Bookmark

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(bookmarkPrefix)
		opts.PrefetchValues = true

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(bookmarkPrefix)); it.ValidForPrefix([]byte(bookmarkPrefix)); it.Next() {
			var bm domain.Bookmark
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &bm)
			})
			if err != nil {
				continue // Skip corrupt entries
			}
			bookmarks = append(bookmarks, &bm)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list bookmarks: %w", err)
	}
	return bookmarks, nil
}

// DeleteBookmark removes a bookmark and its index entry.
func (s *Store) DeleteBookmark(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	bm, err := s.GetBookmark(ctx, id)
	if err != nil {
		return err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(bookmarkPrefix + id)); err != nil {
			return err
		}
		return txn.Delete([]byte(bookmarkByBookPrefix + bm.BookID + ":" + id))
	})
	if err != nil {
		return fmt.Errorf("delete bookmark: %w", err)
	}

	s.publish(bus.EventBookmarkDeleted, id)
	return nil
}
