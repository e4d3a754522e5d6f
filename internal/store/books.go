package store

import (
	"context"
	"encoding/json/v2"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/narrateapp/narrate-core/internal/bus"
	"github.com/narrateapp/narrate-core/internal/domain"
)

const (
	bookPrefix      = "book:"
	bookByURLPrefix = "idx:books:url:"
)

// Book Operations

// CreateBook creates a new book and its source-URL index atomically.
// A second import of the same URL must find the existing book instead, so
// callers check GetBookBySourceURL first; this is the backstop.
func (s *Store) CreateBook(ctx context.Context, book *domain.Book) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key := []byte(bookPrefix + book.ID)

	exists, err := s.exists(key)
	if err != nil {
		return fmt.Errorf("check book exists: %w", err)
	}
	if exists {
		return ErrBookExists
	}

	urlKey := []byte(bookByURLPrefix + normalizeSourceURL(book.SourceURL))
	taken, err := s.exists(urlKey)
	if err != nil {
		return fmt.Errorf("check url index: %w", err)
	}
	if taken {
		return ErrBookExists
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		data, err := json.Marshal(book)
		if err != nil {
			return fmt.Errorf("marshal book: %w", err)
		}

		if err := txn.Set(key, data); err != nil {
			return err
		}

		return txn.Set(urlKey, []byte(book.ID))
	})
	if err != nil {
		return fmt.Errorf("create book: %w", err)
	}

	if s.logger != nil {
		s.logger.LogAttrs(ctx, slog.LevelInfo, "book created",
			slog.String("id", book.ID),
			slog.String("title", book.Title),
			slog.Int("chapters", len(book.Chapters)),
			slog.Int("words", book.TotalWords()),
		)
	}
	s.publish(bus.EventBookCreated, book.ID)
	return nil
}

// GetBook retrieves a book by ID.
func (s *Store) GetBook(ctx context.Context, id string) (*domain.Book, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var book domain.Book
	err := s.get([]byte(bookPrefix+id), &book)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrBookNotFound
		}
		return nil, fmt.Errorf("get book: %w", err)
	}
	return &book, nil
}

// GetBookBySourceURL retrieves a book by its normalized source URL.
// This is the import dedupe lookup.
func (s *Store) GetBookBySourceURL(ctx context.Context, url string) (*domain.Book, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	urlKey := []byte(bookByURLPrefix + normalizeSourceURL(url))

	var bookID string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(urlKey)
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			bookID = string(val)
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrBookNotFound
		}
		return nil, fmt.Errorf("get book by url: %w", err)
	}
	return s.GetBook(ctx, bookID)
}

// UpdateBook updates an existing book and keeps the URL index in sync.
func (s *Store) UpdateBook(ctx context.Context, book *domain.Book) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	oldBook, err := s.GetBook(ctx, book.ID)
	if err != nil {
		return err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		data, err := json.Marshal(book)
		if err != nil {
			return fmt.Errorf("marshal book: %w", err)
		}

		if err := txn.Set([]byte(bookPrefix+book.ID), data); err != nil {
			return err
		}

		oldURL := normalizeSourceURL(oldBook.SourceURL)
		newURL := normalizeSourceURL(book.SourceURL)
		if oldURL != newURL {
			if err := txn.Delete([]byte(bookByURLPrefix + oldURL)); err != nil {
				return err
			}
			return txn.Set([]byte(bookByURLPrefix+newURL), []byte(book.ID))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("update book: %w", err)
	}
	return nil
}

// ListBooks returns all books, most recently added first.
func (s *Store) ListBooks(ctx context.Context) ([]*domain.Book, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var books []*domain.Book

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(bookPrefix)
		opts.PrefetchValues = true

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(bookPrefix)); it.ValidForPrefix([]byte(bookPrefix)); it.Next() {
			var book domain.Book
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &book)
			})
			if err != nil {
				continue // Skip corrupt entries
			}
			books = append(books, &book)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}

	slices.SortFunc(books, func(a, b *domain.Book) int {
		return b.DateAdded.Compare(a.DateAdded)
	})
	return books, nil
}

// DeleteBook removes a book and everything derived from it: the URL index,
// progress, bookmarks, the sync shadow of none of those survives. Returns the
// number of cached audio bytes freed by the cascade.
func (s *Store) DeleteBook(ctx context.Context, id string) (freedBytes int64, err error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	book, err := s.GetBook(ctx, id)
	if err != nil {
		return 0, err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(bookPrefix + id)); err != nil {
			return err
		}
		if err := txn.Delete([]byte(bookByURLPrefix + normalizeSourceURL(book.SourceURL))); err != nil {
			return err
		}
		if err := txn.Delete([]byte(progressPrefix + id)); err != nil {
			return err
		}

		// Bookmarks: resolve primaries through the per-book index, then drop both.
		bookmarkIDs, err := collectValues(txn, []byte(bookmarkByBookPrefix+id+":"))
		if err != nil {
			return err
		}
		for _, bmID := range bookmarkIDs {
			if err := txn.Delete([]byte(bookmarkPrefix + bmID)); err != nil {
				return err
			}
		}
		if _, err := deletePrefix(txn, []byte(bookmarkByBookPrefix+id+":")); err != nil {
			return err
		}

		// Cached audio, all voices.
		freedBytes, err = deletePrefix(txn, []byte(audioPrefix+id+":"))
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("delete book: %w", err)
	}

	if s.logger != nil {
		s.logger.LogAttrs(ctx, slog.LevelInfo, "book deleted",
			slog.String("id", id),
			slog.Int64("freed_bytes", freedBytes),
		)
	}
	s.publish(bus.EventBookDeleted, id)
	return freedBytes, nil
}

// normalizeSourceURL canonicalizes a URL for dedupe: lowercased scheme and
// host, trailing slash dropped.
func normalizeSourceURL(url string) string {
	url = strings.TrimSpace(url)
	url = strings.TrimSuffix(url, "/")

	if i := strings.Index(url, "://"); i >= 0 {
		scheme := strings.ToLower(url[:i])
		rest := url[i+3:]
		if j := strings.IndexByte(rest, '/'); j >= 0 {
			rest = strings.ToLower(rest[:j]) + rest[j:]
		} else {
			rest = strings.ToLower(rest)
		}
		return scheme + "://" + rest
	}
	return url
}
