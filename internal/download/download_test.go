package download_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/narrateapp/narrate-core/internal/bus"
	"github.com/narrateapp/narrate-core/internal/config"
	"github.com/narrateapp/narrate-core/internal/domain"
	"github.com/narrateapp/narrate-core/internal/download"
	"github.com/narrateapp/narrate-core/internal/errors"
	"github.com/narrateapp/narrate-core/internal/speech"
	"github.com/narrateapp/narrate-core/internal/store"
	"github.com/narrateapp/narrate-core/internal/synth"
)

func setupTestManager(t *testing.T, fake *synth.Fake, cfg config.DownloadConfig) (*download.Manager, *store.Store, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "download-test-*")
	require.NoError(t, err)

	st, err := store.New(filepath.Join(tmpDir, "test.db"), nil, bus.NoopPublisher{})
	require.NoError(t, err)

	norm := speech.New(speech.ForeignPlaceholder)
	mgr := download.New(st, fake, norm, nil, cfg)

	cleanup := func() {
		st.Close()
		os.RemoveAll(tmpDir)
	}
	return mgr, st, cleanup
}

func testConfig() config.DownloadConfig {
	return config.DownloadConfig{Concurrency: 2, Attempts: 3}
}

func testBook(chapterCount int) *domain.Book {
	book := &domain.Book{ID: "bk-dl", SourceURL: "https://example.com/a", Title: "A Book"}
	for i := range chapterCount {
		book.Chapters = append(book.Chapters, domain.Chapter{
			Index:     i,
			Title:     "Chapter",
			Text:      "Some chapter prose that reads fine aloud. More of it follows here.",
			WordCount: 12,
		})
	}
	return book
}

// progressRecorder collects progress reports thread-safely.
type progressRecorder struct {
	mu      sync.Mutex
	reports []download.Progress
}

func (r *progressRecorder) record(p download.Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, p)
}

func (r *progressRecorder) last() download.Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.reports) == 0 {
		return download.Progress{}
	}
	return r.reports[len(r.reports)-1]
}

func TestDownload_CachesAllChapters(t *testing.T) {
	fake := &synth.Fake{}
	mgr, st, cleanup := setupTestManager(t, fake, testConfig())
	defer cleanup()

	ctx := context.Background()
	book := testBook(3)
	rec := &progressRecorder{}

	require.NoError(t, mgr.Download(ctx, book, rec.record))

	for i := range 3 {
		ok, err := st.HasAudio(ctx, domain.AudioKey{BookID: book.ID, ChapterIndex: i, VoiceID: domain.DownloadVoice})
		require.NoError(t, err)
		assert.True(t, ok, "chapter %d not cached", i)
	}
	assert.Equal(t, download.Progress{Done: 3, Total: 3}, rec.last())

	status, err := mgr.Status(ctx, book)
	require.NoError(t, err)
	assert.Equal(t, domain.DownloadComplete, status)
}

func TestDownload_SkipsCachedChapters(t *testing.T) {
	fake := &synth.Fake{}
	mgr, st, cleanup := setupTestManager(t, fake, testConfig())
	defer cleanup()

	ctx := context.Background()
	book := testBook(3)
	key := domain.AudioKey{BookID: book.ID, ChapterIndex: 0, VoiceID: domain.DownloadVoice}
	require.NoError(t, st.PutAudio(ctx, key, []byte("already here")))

	require.NoError(t, mgr.Download(ctx, book, nil))

	// Only the two missing chapters were synthesized.
	assert.Equal(t, 2, fake.CallCount())
}

func TestDownload_ShortCircuitsWhenComplete(t *testing.T) {
	fake := &synth.Fake{}
	mgr, st, cleanup := setupTestManager(t, fake, testConfig())
	defer cleanup()

	ctx := context.Background()
	book := testBook(2)
	for i := range 2 {
		key := domain.AudioKey{BookID: book.ID, ChapterIndex: i, VoiceID: domain.DownloadVoice}
		require.NoError(t, st.PutAudio(ctx, key, []byte("cached")))
	}

	require.NoError(t, mgr.Download(ctx, book, nil))
	assert.Zero(t, fake.CallCount())
}

func TestDownload_PlaceholderFallbackCompletes(t *testing.T) {
	// Synthesis rejects every chapter in normalized and aggressive form but
	// accepts the canned placeholder; the book must still reach downloaded.
	fake := &synth.Fake{FailAll: errors.Transient("engine rejects content"), PlaceholderSucceeds: true}
	mgr, st, cleanup := setupTestManager(t, fake, testConfig())
	defer cleanup()

	ctx := context.Background()
	book := testBook(2)

	require.NoError(t, mgr.Download(ctx, book, nil))

	for i := range 2 {
		clip, err := st.GetAudio(ctx, domain.AudioKey{BookID: book.ID, ChapterIndex: i, VoiceID: domain.DownloadVoice})
		require.NoError(t, err)
		assert.Equal(t, []byte(synth.PlaceholderUtterance), clip)
	}

	status, err := mgr.Status(ctx, book)
	require.NoError(t, err)
	assert.Equal(t, domain.DownloadComplete, status)
}

func TestDownload_TotalFailure(t *testing.T) {
	fake := &synth.Fake{FailAll: errors.Transient("engine down")}
	mgr, _, cleanup := setupTestManager(t, fake, testConfig())
	defer cleanup()

	err := mgr.Download(context.Background(), testBook(1), nil)
	assert.ErrorIs(t, err, errors.ErrTransient)
}

func TestDownload_StorageCeiling(t *testing.T) {
	fake := &synth.Fake{}
	cfg := testConfig()
	cfg.Concurrency = 1
	cfg.StorageCeilingBytes = 1
	mgr, st, cleanup := setupTestManager(t, fake, cfg)
	defer cleanup()

	ctx := context.Background()
	book := testBook(3)

	err := mgr.Download(ctx, book, nil)
	assert.ErrorIs(t, err, errors.ErrCapacity)

	// The chapter that landed before the breach stays cached.
	count, err2 := st.CachedChapterCount(ctx, book.ID, domain.DownloadVoice)
	require.NoError(t, err2)
	assert.GreaterOrEqual(t, count, 1)
	assert.Less(t, count, 3)
}

func TestDownload_Cancellation(t *testing.T) {
	fake := &synth.Fake{}
	mgr, _, cleanup := setupTestManager(t, fake, testConfig())
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := mgr.Download(ctx, testBook(3), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDownload_ProgressCountsPreCached(t *testing.T) {
	fake := &synth.Fake{}
	mgr, st, cleanup := setupTestManager(t, fake, testConfig())
	defer cleanup()

	ctx := context.Background()
	book := testBook(3)
	key := domain.AudioKey{BookID: book.ID, ChapterIndex: 1, VoiceID: domain.DownloadVoice}
	require.NoError(t, st.PutAudio(ctx, key, []byte("cached")))

	rec := &progressRecorder{}
	require.NoError(t, mgr.Download(ctx, book, rec.record))

	assert.Equal(t, download.Progress{Done: 3, Total: 3}, rec.last())
	for _, p := range rec.reports {
		assert.GreaterOrEqual(t, p.Done, 2)
	}
}

func TestRemove_OnlyDownloadVoice(t *testing.T) {
	fake := &synth.Fake{}
	mgr, st, cleanup := setupTestManager(t, fake, testConfig())
	defer cleanup()

	ctx := context.Background()
	book := testBook(2)
	require.NoError(t, mgr.Download(ctx, book, nil))

	// A clip cached by live listening in another voice must survive.
	liveKey := domain.AudioKey{BookID: book.ID, ChapterIndex: 0, VoiceID: domain.VoiceOwen}
	require.NoError(t, st.PutAudio(ctx, liveKey, []byte("live clip")))

	freed, err := mgr.Remove(ctx, book.ID)
	require.NoError(t, err)
	assert.Positive(t, freed)

	count, err := st.CachedChapterCount(ctx, book.ID, domain.DownloadVoice)
	require.NoError(t, err)
	assert.Zero(t, count)

	ok, err := st.HasAudio(ctx, liveKey)
	require.NoError(t, err)
	assert.True(t, ok)

	status, err := mgr.Status(ctx, book)
	require.NoError(t, err)
	assert.Equal(t, domain.DownloadNone, status)
}
