package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/narrateapp/narrate-core/internal/bus"
	"github.com/narrateapp/narrate-core/internal/domain"
	"github.com/narrateapp/narrate-core/internal/errors"
)

func TestCreateBook(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	book := createTestBook("bk-001")

	err := store.CreateBook(ctx, book)
	require.NoError(t, err)

	retrieved, err := store.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, book.ID, retrieved.ID)
	assert.Equal(t, book.Title, retrieved.Title)
	assert.Equal(t, book.SourceURL, retrieved.SourceURL)
	assert.Len(t, retrieved.Chapters, 3)
}

func TestCreateBook_Duplicate(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	book := createTestBook("bk-001")

	require.NoError(t, store.CreateBook(ctx, book))

	err := store.CreateBook(ctx, book)
	assert.ErrorIs(t, err, ErrBookExists)
	assert.ErrorIs(t, err, errors.ErrConflict)
}

func TestCreateBook_DuplicateURL(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	first := createTestBook("bk-001")
	require.NoError(t, store.CreateBook(ctx, first))

	// Same URL under a fresh ID is still a duplicate.
	second := createTestBook("bk-002")
	second.SourceURL = first.SourceURL
	err := store.CreateBook(ctx, second)
	assert.ErrorIs(t, err, ErrBookExists)
}

func TestGetBook_NotFound(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	_, err := store.GetBook(context.Background(), "bk-missing")
	assert.ErrorIs(t, err, ErrBookNotFound)
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestGetBookBySourceURL(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	book := createTestBook("bk-001")
	book.SourceURL = "https://Example.COM/Articles/One/"
	require.NoError(t, store.CreateBook(ctx, book))

	// Host casing and trailing slash do not defeat the dedupe index.
	found, err := store.GetBookBySourceURL(ctx, "https://example.com/Articles/One")
	require.NoError(t, err)
	assert.Equal(t, book.ID, found.ID)

	_, err = store.GetBookBySourceURL(ctx, "https://example.com/articles/other")
	assert.ErrorIs(t, err, ErrBookNotFound)
}

func TestUpdateBook(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	book := createTestBook("bk-001")
	require.NoError(t, store.CreateBook(ctx, book))

	book.LastPlayedAt = time.Now()
	require.NoError(t, store.UpdateBook(ctx, book))

	retrieved, err := store.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.False(t, retrieved.LastPlayedAt.IsZero())
}

func TestListBooks_SortedByDateAdded(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	old := createTestBook("bk-old")
	old.DateAdded = time.Now().Add(-time.Hour)
	recent := createTestBook("bk-new")
	recent.DateAdded = time.Now()

	require.NoError(t, store.CreateBook(ctx, old))
	require.NoError(t, store.CreateBook(ctx, recent))

	books, err := store.ListBooks(ctx)
	require.NoError(t, err)
	require.Len(t, books, 2)
	assert.Equal(t, "bk-new", books[0].ID)
	assert.Equal(t, "bk-old", books[1].ID)
}

func TestDeleteBook_Cascade(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	book := createTestBook("bk-001")
	require.NoError(t, store.CreateBook(ctx, book))

	progress := domain.NewBookProgress(book.ID)
	progress.Advance(1, 12.5)
	require.NoError(t, store.UpsertProgress(ctx, progress))

	bm := &domain.Bookmark{ID: "bm-001", BookID: book.ID, ChapterIndex: 1, TimeSeconds: 3, CreatedAt: time.Now()}
	require.NoError(t, store.CreateBookmark(ctx, bm))

	audio := []byte("fake audio bytes")
	key := domain.AudioKey{BookID: book.ID, ChapterIndex: 0, VoiceID: domain.VoiceAria}
	require.NoError(t, store.PutAudio(ctx, key, audio))

	freed, err := store.DeleteBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(len(audio)), freed)

	_, err = store.GetBook(ctx, book.ID)
	assert.ErrorIs(t, err, ErrBookNotFound)
	_, err = store.GetProgress(ctx, book.ID)
	assert.ErrorIs(t, err, ErrProgressNotFound)
	_, err = store.GetBookmark(ctx, bm.ID)
	assert.ErrorIs(t, err, ErrBookmarkNotFound)
	_, err = store.GetAudio(ctx, key)
	assert.ErrorIs(t, err, ErrAudioNotCached)

	// The URL is free for re-import.
	require.NoError(t, store.CreateBook(ctx, createTestBook("bk-001")))
}

func TestCreateBook_PublishesEvent(t *testing.T) {
	store, b, cleanup := setupTestStoreWithBus(t)
	defer cleanup()

	var got []bus.Event
	unsub := b.Subscribe(func(e bus.Event) { got = append(got, e) }, bus.EventBookCreated)
	defer unsub()

	require.NoError(t, store.CreateBook(context.Background(), createTestBook("bk-001")))

	require.Len(t, got, 1)
	assert.Equal(t, bus.EventBookCreated, got[0].Type)
	assert.Equal(t, "bk-001", got[0].Data)
}
