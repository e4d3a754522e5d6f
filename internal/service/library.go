// Package service implements the library: importing sources as books and
// managing them.
package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/narrateapp/narrate-core/internal/domain"
	"github.com/narrateapp/narrate-core/internal/download"
	"github.com/narrateapp/narrate-core/internal/errors"
	"github.com/narrateapp/narrate-core/internal/extract"
	"github.com/narrateapp/narrate-core/internal/id"
	"github.com/narrateapp/narrate-core/internal/segment"
	"github.com/narrateapp/narrate-core/internal/store"
)

// Library turns source URLs into segmented books and manages the collection.
type Library struct {
	store     *store.Store
	extractor extract.Extractor
	segmenter *segment.Segmenter
	downloads *download.Manager
	logger    *slog.Logger
}

// NewLibrary creates the library service.
func NewLibrary(s *store.Store, ex extract.Extractor, seg *segment.Segmenter, dl *download.Manager, logger *slog.Logger) *Library {
	return &Library{
		store:     s,
		extractor: ex,
		segmenter: seg,
		downloads: dl,
		logger:    logger,
	}
}

// Import extracts a URL, segments the text into chapters, and persists the
// book. Importing an already-imported URL returns the existing book without
// touching the extractor.
func (l *Library) Import(ctx context.Context, url string) (*domain.Book, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.InvalidInput("source url is empty")
	}

	existing, err := l.store.GetBookBySourceURL(ctx, url)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrBookNotFound) {
		return nil, err
	}

	result, err := l.extractor.Extract(ctx, url)
	if err != nil {
		return nil, err
	}
	if len(strings.Fields(result.Text)) < extract.MinContentWords {
		return nil, extract.ErrTooLittleContent
	}

	chapters := l.segmenter.Segment(result.Text)
	if len(chapters) == 0 {
		return nil, extract.ErrTooLittleContent
	}

	book := &domain.Book{
		ID:        id.MustGenerate("bk"),
		SourceURL: url,
		Title:     result.Title,
		Author:    result.Author,
		Chapters:  chapters,
		DateAdded: time.Now(),
	}
	if book.Title == "" {
		book.Title = url
	}

	if err := l.store.CreateBook(ctx, book); err != nil {
		// A concurrent import of the same URL won the race.
		if errors.Is(err, store.ErrBookExists) {
			return l.store.GetBookBySourceURL(ctx, url)
		}
		return nil, err
	}

	if l.logger != nil {
		l.logger.LogAttrs(ctx, slog.LevelInfo, "book imported",
			slog.String("id", book.ID),
			slog.String("url", url),
			slog.Int("chapters", len(book.Chapters)),
		)
	}
	return book, nil
}

// Get returns a book by ID.
func (l *Library) Get(ctx context.Context, bookID string) (*domain.Book, error) {
	return l.store.GetBook(ctx, bookID)
}

// List returns all books, most recently added first.
func (l *Library) List(ctx context.Context) ([]*domain.Book, error) {
	return l.store.ListBooks(ctx)
}

// Delete removes a book and all derived state, returning cached audio bytes
// freed.
func (l *Library) Delete(ctx context.Context, bookID string) (int64, error) {
	return l.store.DeleteBook(ctx, bookID)
}

// DownloadStatus reports the offline state of a book.
func (l *Library) DownloadStatus(ctx context.Context, bookID string) (domain.DownloadStatus, error) {
	book, err := l.store.GetBook(ctx, bookID)
	if err != nil {
		return domain.DownloadNone, err
	}
	return l.downloads.Status(ctx, book)
}

// Parts returns the derived part grouping for a book, nil when the book fits
// a single part.
func (l *Library) Parts(ctx context.Context, bookID string) ([]domain.Part, error) {
	book, err := l.store.GetBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	return domain.Parts(len(book.Chapters)), nil
}

// Preferences returns the stored playback preferences.
func (l *Library) Preferences(ctx context.Context) (domain.Preferences, error) {
	return l.store.GetPreferences(ctx)
}

// SetPreferences stores playback preferences.
func (l *Library) SetPreferences(ctx context.Context, prefs domain.Preferences) error {
	return l.store.PutPreferences(ctx, prefs)
}
