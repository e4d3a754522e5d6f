package store

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/narrateapp/narrate-core/internal/domain"
)

func audioKey(bookID string, chapter int, voice domain.Voice) domain.AudioKey {
	return domain.AudioKey{BookID: bookID, ChapterIndex: chapter, VoiceID: voice}
}

func TestAudioRoundTrip(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	key := audioKey("bk-001", 0, domain.VoiceAria)
	blob := bytes.Repeat([]byte{0xAB}, 512)

	ok, err := store.HasAudio(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.PutAudio(ctx, key, blob))

	ok, err = store.HasAudio(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := store.GetAudio(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, blob, got)
}

func TestGetAudio_NotCached(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	_, err := store.GetAudio(context.Background(), audioKey("bk-001", 0, domain.VoiceAria))
	assert.ErrorIs(t, err, ErrAudioNotCached)
}

func TestDeleteBookAudio(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	blob := bytes.Repeat([]byte{0x01}, 100)
	require.NoError(t, store.PutAudio(ctx, audioKey("bk-001", 0, domain.VoiceAria), blob))
	require.NoError(t, store.PutAudio(ctx, audioKey("bk-001", 1, domain.VoiceAria), blob))
	require.NoError(t, store.PutAudio(ctx, audioKey("bk-001", 0, domain.VoiceOwen), blob))
	require.NoError(t, store.PutAudio(ctx, audioKey("bk-002", 0, domain.VoiceAria), blob))

	freed, err := store.DeleteBookAudio(ctx, "bk-001")
	require.NoError(t, err)
	assert.Equal(t, int64(300), freed)

	// The other book's cache is untouched.
	ok, err := store.HasAudio(ctx, audioKey("bk-002", 0, domain.VoiceAria))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCacheSizes(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, store.PutAudio(ctx, audioKey("bk-001", 0, domain.VoiceAria), bytes.Repeat([]byte{0x01}, 200)))
	require.NoError(t, store.PutAudio(ctx, audioKey("bk-002", 0, domain.VoiceAria), bytes.Repeat([]byte{0x02}, 300)))

	total, err := store.TotalCacheSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(500), total)

	one, err := store.BookCacheSize(ctx, "bk-001")
	require.NoError(t, err)
	assert.Equal(t, int64(200), one)
}

func TestCachedChapterCount_PerVoice(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	blob := []byte("pcm")
	require.NoError(t, store.PutAudio(ctx, audioKey("bk-001", 0, domain.VoiceAria), blob))
	require.NoError(t, store.PutAudio(ctx, audioKey("bk-001", 1, domain.VoiceAria), blob))
	require.NoError(t, store.PutAudio(ctx, audioKey("bk-001", 1, domain.VoiceMarcus), blob))

	count, err := store.CachedChapterCount(ctx, "bk-001", domain.VoiceAria)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = store.CachedChapterCount(ctx, "bk-001", domain.VoiceMarcus)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
