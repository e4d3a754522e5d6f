package syncer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/narrateapp/narrate-core/internal/bus"
	"github.com/narrateapp/narrate-core/internal/config"
	"github.com/narrateapp/narrate-core/internal/domain"
	"github.com/narrateapp/narrate-core/internal/store"
)

// fakeRemote is an in-memory RemoteStore.
type fakeRemote struct {
	mu     sync.Mutex
	data   map[string][]byte
	puts   int
	getErr error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{data: make(map[string][]byte)}
}

func (f *fakeRemote) Put(_ context.Context, userID string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[userID] = data
	f.puts++
	return nil
}

func (f *fakeRemote) Get(_ context.Context, userID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.data[userID], nil
}

func (f *fakeRemote) setGetErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getErr = err
}

func (f *fakeRemote) putCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.puts
}

func testSyncConfig() config.SyncConfig {
	return config.SyncConfig{
		Enabled:  true,
		UserID:   "user-1",
		Debounce: 50 * time.Millisecond,
		MaxWait:  time.Second,
	}
}

// setupSyncEnv builds a store and sync engine sharing one bus.
func setupSyncEnv(t *testing.T, remote RemoteStore, cfg config.SyncConfig) (*store.Store, *Engine, *bus.Bus, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "syncer-test-*")
	require.NoError(t, err)

	b := bus.New()
	st, err := store.New(filepath.Join(tmpDir, "test.db"), nil, b)
	require.NoError(t, err)

	eng := New(st, remote, b, nil, cfg)

	cleanup := func() {
		eng.Close()
		st.Close()
		os.RemoveAll(tmpDir)
	}
	return st, eng, b, cleanup
}

func seedLibrary(t *testing.T, st *store.Store) *domain.Book {
	t.Helper()
	ctx := context.Background()

	book := &domain.Book{
		ID:        "bk-sync",
		SourceURL: "https://example.com/synced",
		Title:     "Synced Book",
		Chapters:  []domain.Chapter{{Index: 0, Title: "Chapter 1", Text: "text", WordCount: 1}},
		DateAdded: time.Now(),
	}
	require.NoError(t, st.CreateBook(ctx, book))

	progress := domain.NewBookProgress(book.ID)
	progress.Advance(0, 33)
	require.NoError(t, st.UpsertProgress(ctx, progress))

	bm := &domain.Bookmark{ID: "bm-sync", BookID: book.ID, ChapterIndex: 0, TimeSeconds: 5, CreatedAt: time.Now()}
	require.NoError(t, st.CreateBookmark(ctx, bm))

	prefs := domain.Preferences{Voice: domain.VoiceClara, Speed: domain.SpeedFast}
	require.NoError(t, st.PutPreferences(ctx, prefs))

	return book
}

func TestSyncNow_PushesCompressedSnapshot(t *testing.T) {
	remote := newFakeRemote()
	st, eng, _, cleanup := setupSyncEnv(t, remote, testSyncConfig())
	defer cleanup()

	ctx := context.Background()
	seedLibrary(t, st)
	require.NoError(t, eng.RestoreIfNeeded(ctx))
	require.NoError(t, eng.SyncNow(ctx))

	data, err := remote.Get(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, data)
	assert.Equal(t, []byte{0x1f, 0x8b}, data[:2], "snapshot must be gzip compressed")

	snapshot, err := decodeSnapshot(data)
	require.NoError(t, err)
	assert.Equal(t, domain.SnapshotVersion, snapshot.Version)
	assert.NotEmpty(t, snapshot.DeviceID)
	books, progress, bookmarks := snapshot.Counts()
	assert.Equal(t, 1, books)
	assert.Equal(t, 1, progress)
	assert.Equal(t, 1, bookmarks)
	assert.Equal(t, "clara", snapshot.Preferences["voice"])
}

func TestRestoreIfNeeded_FreshDevice(t *testing.T) {
	remote := newFakeRemote()

	// Device A seeds the remote slot.
	stA, engA, _, cleanupA := setupSyncEnv(t, remote, testSyncConfig())
	seedLibrary(t, stA)
	require.NoError(t, engA.RestoreIfNeeded(context.Background()))
	require.NoError(t, engA.SyncNow(context.Background()))
	cleanupA()

	// Device B starts empty and restores everything except audio.
	stB, engB, _, cleanupB := setupSyncEnv(t, remote, testSyncConfig())
	defer cleanupB()

	ctx := context.Background()
	require.NoError(t, engB.RestoreIfNeeded(ctx))

	book, err := stB.GetBook(ctx, "bk-sync")
	require.NoError(t, err)
	assert.Equal(t, "Synced Book", book.Title)

	progress, err := stB.GetProgress(ctx, "bk-sync")
	require.NoError(t, err)
	assert.Equal(t, 33.0, progress.CurrentTimeSeconds)

	bm, err := stB.GetBookmark(ctx, "bm-sync")
	require.NoError(t, err)
	assert.Equal(t, 5.0, bm.TimeSeconds)

	prefs, err := stB.GetPreferences(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.VoiceClara, prefs.Voice)
	assert.Equal(t, domain.SpeedFast, prefs.Speed)

	// No audio came across.
	size, err := stB.TotalCacheSize(ctx)
	require.NoError(t, err)
	assert.Zero(t, size)

	// Each device keeps its own identity.
	stateB, err := stB.GetSyncState(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, stateB.DeviceID)
	assert.True(t, stateB.Restored)
}

func TestRestoreIfNeeded_RunsOnce(t *testing.T) {
	remote := newFakeRemote()
	st, eng, _, cleanup := setupSyncEnv(t, remote, testSyncConfig())
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, eng.RestoreIfNeeded(ctx))

	// A snapshot appearing later must not be restored; the check already ran.
	other, otherEng, _, otherCleanup := setupSyncEnv(t, remote, testSyncConfig())
	seedLibrary(t, other)
	require.NoError(t, otherEng.RestoreIfNeeded(ctx))
	require.NoError(t, otherEng.SyncNow(ctx))
	otherCleanup()

	require.NoError(t, eng.RestoreIfNeeded(ctx))

	books, err := st.ListBooks(ctx)
	require.NoError(t, err)
	assert.Empty(t, books)
}

func TestRestoreIfNeeded_RetriesAfterTransientFailure(t *testing.T) {
	remote := newFakeRemote()

	// Another device has already pushed a snapshot.
	other, otherEng, _, otherCleanup := setupSyncEnv(t, remote, testSyncConfig())
	seedLibrary(t, other)
	require.NoError(t, otherEng.RestoreIfNeeded(context.Background()))
	require.NoError(t, otherEng.SyncNow(context.Background()))
	otherCleanup()

	st, eng, _, cleanup := setupSyncEnv(t, remote, testSyncConfig())
	defer cleanup()

	ctx := context.Background()

	// An unreachable remote on first launch must not fail startup and must
	// not burn the one-time restore.
	remote.setGetErr(errors.New("network unreachable"))
	require.NoError(t, eng.RestoreIfNeeded(ctx))

	_, err := st.GetBook(ctx, "bk-sync")
	require.Error(t, err)

	state, err := st.GetSyncState(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, state.DeviceID)
	assert.False(t, state.Restored, "a failed fetch must leave the restore pending")

	// Once the remote recovers, the next launch restores.
	remote.setGetErr(nil)
	require.NoError(t, eng.RestoreIfNeeded(ctx))

	book, err := st.GetBook(ctx, "bk-sync")
	require.NoError(t, err)
	assert.Equal(t, "Synced Book", book.Title)

	state, err = st.GetSyncState(ctx)
	require.NoError(t, err)
	assert.True(t, state.Restored)
}

func TestRestoreIfNeeded_EmptyRemote(t *testing.T) {
	remote := newFakeRemote()
	st, eng, _, cleanup := setupSyncEnv(t, remote, testSyncConfig())
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, eng.RestoreIfNeeded(ctx))

	state, err := st.GetSyncState(ctx)
	require.NoError(t, err)
	assert.True(t, state.Restored)
	assert.NotEmpty(t, state.DeviceID)
}

func TestScheduleOnChange_DebouncesIntoOnePush(t *testing.T) {
	remote := newFakeRemote()
	cfg := testSyncConfig()
	cfg.Debounce = 200 * time.Millisecond
	st, _, _, cleanup := setupSyncEnv(t, remote, cfg)
	defer cleanup()

	ctx := context.Background()

	// A burst of mutations collapses into a single push.
	for _, id := range []string{"bk-a", "bk-b", "bk-c"} {
		require.NoError(t, st.UpsertProgress(ctx, domain.NewBookProgress(id)))
	}
	assert.Zero(t, remote.putCount(), "push must wait out the debounce")

	assert.Eventually(t, func() bool {
		return remote.putCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Quiet afterwards: nothing else scheduled.
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, remote.putCount())
}

func TestBackgroundingForcesPendingPush(t *testing.T) {
	remote := newFakeRemote()
	cfg := testSyncConfig()
	cfg.Debounce = time.Hour
	cfg.MaxWait = time.Hour
	st, _, b, cleanup := setupSyncEnv(t, remote, cfg)
	defer cleanup()

	require.NoError(t, st.UpsertProgress(context.Background(), domain.NewBookProgress("bk-a")))
	assert.Zero(t, remote.putCount())

	b.Publish(bus.Event{Type: bus.EventAppBackgrounded})

	assert.Eventually(t, func() bool {
		return remote.putCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClose_CancelsPendingPush(t *testing.T) {
	remote := newFakeRemote()
	cfg := testSyncConfig()
	cfg.Debounce = 100 * time.Millisecond
	st, eng, _, cleanup := setupSyncEnv(t, remote, cfg)
	defer cleanup()

	require.NoError(t, st.UpsertProgress(context.Background(), domain.NewBookProgress("bk-a")))
	eng.Close()

	time.Sleep(250 * time.Millisecond)
	assert.Zero(t, remote.putCount())
}
