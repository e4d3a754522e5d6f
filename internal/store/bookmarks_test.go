package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/narrateapp/narrate-core/internal/domain"
)

func testBookmark(id, bookID string, chapter int, seconds float64) *domain.Bookmark {
	return &domain.Bookmark{
		ID:           id,
		BookID:       bookID,
		ChapterIndex: chapter,
		TimeSeconds:  seconds,
		Label:        "at " + id,
		CreatedAt:    time.Now(),
	}
}

func TestBookmarkRoundTrip(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	bm := testBookmark("bm-001", "bk-001", 2, 90)
	require.NoError(t, store.CreateBookmark(ctx, bm))

	got, err := store.GetBookmark(ctx, "bm-001")
	require.NoError(t, err)
	assert.Equal(t, bm.BookID, got.BookID)
	assert.Equal(t, bm.ChapterIndex, got.ChapterIndex)
	assert.Equal(t, bm.Label, got.Label)
}

func TestGetBookmarksForBook_Ordered(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, store.CreateBookmark(ctx, testBookmark("bm-a", "bk-001", 3, 10)))
	require.NoError(t, store.CreateBookmark(ctx, testBookmark("bm-b", "bk-001", 1, 55)))
	require.NoError(t, store.CreateBookmark(ctx, testBookmark("bm-c", "bk-001", 1, 5)))
	require.NoError(t, store.CreateBookmark(ctx, testBookmark("bm-d", "bk-other", 0, 0)))

	got, err := store.GetBookmarksForBook(ctx, "bk-001")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "bm-c", got[0].ID)
	assert.Equal(t, "bm-b", got[1].ID)
	assert.Equal(t, "bm-a", got[2].ID)
}

func TestDeleteBookmark(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, store.CreateBookmark(ctx, testBookmark("bm-001", "bk-001", 0, 0)))

	require.NoError(t, store.DeleteBookmark(ctx, "bm-001"))

	_, err := store.GetBookmark(ctx, "bm-001")
	assert.ErrorIs(t, err, ErrBookmarkNotFound)

	got, err := store.GetBookmarksForBook(ctx, "bk-001")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDeleteBookmark_NotFound(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	err := store.DeleteBookmark(context.Background(), "bm-missing")
	assert.ErrorIs(t, err, ErrBookmarkNotFound)
}
