// Package syncer replicates library state across devices through a remote
// snapshot slot: full-state push on local change, one-time restore on a fresh
// data directory. Audio bytes never leave the device.
package syncer

import (
	"bytes"
	"context"
	"encoding/json/v2"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/narrateapp/narrate-core/internal/bus"
	"github.com/narrateapp/narrate-core/internal/config"
	"github.com/narrateapp/narrate-core/internal/domain"
	"github.com/narrateapp/narrate-core/internal/errors"
	"github.com/narrateapp/narrate-core/internal/store"
)

// RemoteStore is the remote snapshot slot. Get returns (nil, nil) when no
// snapshot exists yet; that is a normal first-run condition, not an error.
type RemoteStore interface {
	Put(ctx context.Context, userID string, data []byte) error
	Get(ctx context.Context, userID string) ([]byte, error)
}

// Engine owns the push scheduling and restore logic.
type Engine struct {
	store  *store.Store
	remote RemoteStore
	logger *slog.Logger
	cfg    config.SyncConfig

	mu         sync.Mutex
	dirty      bool
	firstDirty time.Time
	timer      *time.Timer
	closed     bool

	unsubs []func()
	wg     sync.WaitGroup
}

// New creates the sync engine and subscribes it to data-changed events and
// backgrounding. Pushes are scheduled, not immediate: each mutation resets a
// debounce window, and a max-wait bound keeps continuous activity from
// starving the push forever.
func New(s *store.Store, remote RemoteStore, b *bus.Bus, logger *slog.Logger, cfg config.SyncConfig) *Engine {
	if cfg.Debounce <= 0 {
		cfg.Debounce = 5 * time.Second
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 30 * time.Second
	}

	e := &Engine{
		store:  s,
		remote: remote,
		logger: logger,
		cfg:    cfg,
	}

	if b != nil && cfg.Enabled {
		e.unsubs = append(e.unsubs,
			b.Subscribe(e.onDataChanged,
				bus.EventBookCreated, bus.EventBookDeleted,
				bus.EventProgressUpdated,
				bus.EventBookmarkCreated, bus.EventBookmarkDeleted,
				bus.EventPreferencesUpdated,
			),
			b.Subscribe(e.onBackgrounded, bus.EventAppBackgrounded),
		)
	}
	return e
}

// RestoreIfNeeded applies the remote snapshot to an empty data directory,
// exactly once per directory. The sentinel persists the fact that the check
// completed, so later launches and deletions never resurrect remote state.
func (e *Engine) RestoreIfNeeded(ctx context.Context) error {
	state, err := e.store.GetSyncState(ctx)
	if err != nil {
		return err
	}

	if state.DeviceID == "" {
		state.DeviceID = uuid.NewString()
		if err := e.store.PutSyncState(ctx, state); err != nil {
			return err
		}
	}
	// Disabled sync still claims a device ID but leaves the restore check
	// for whenever sync is first enabled.
	if !e.cfg.Enabled || state.Restored {
		return nil
	}

	// Remote failures never block startup. The sentinel stays unset on a
	// failed fetch or replay, so the next launch retries the restore.
	if err := e.restore(ctx); err != nil {
		if e.logger != nil {
			e.logger.Warn("remote snapshot restore failed", "error", err)
		}
		return nil
	}

	state.Restored = true
	return e.store.PutSyncState(ctx, state)
}

// restore fetches and replays the remote snapshot. A missing snapshot is a
// normal fresh-account condition and counts as a completed check.
func (e *Engine) restore(ctx context.Context) error {
	data, err := e.remote.Get(ctx, e.cfg.UserID)
	if err != nil {
		return fmt.Errorf("fetch remote snapshot: %w", err)
	}
	if data == nil {
		return nil
	}

	snapshot, err := decodeSnapshot(data)
	if err != nil {
		return err
	}
	if err := e.apply(ctx, snapshot); err != nil {
		return err
	}

	if e.logger != nil {
		books, progress, bookmarks := snapshot.Counts()
		e.logger.LogAttrs(ctx, slog.LevelInfo, "remote snapshot restored",
			slog.Int("books", books),
			slog.Int("progress", progress),
			slog.Int("bookmarks", bookmarks),
		)
	}
	return nil
}

// SyncNow builds a snapshot and pushes it immediately.
func (e *Engine) SyncNow(ctx context.Context) error {
	if !e.cfg.Enabled {
		return nil
	}

	snapshot, err := e.buildSnapshot(ctx)
	if err != nil {
		return err
	}

	data, err := encodeSnapshot(snapshot)
	if err != nil {
		return err
	}

	if err := e.remote.Put(ctx, e.cfg.UserID, data); err != nil {
		return fmt.Errorf("push snapshot: %w", err)
	}

	e.mu.Lock()
	e.dirty = false
	e.firstDirty = time.Time{}
	e.mu.Unlock()

	state, err := e.store.GetSyncState(ctx)
	if err != nil {
		return err
	}
	state.LastPushedAt = time.Now()
	return e.store.PutSyncState(ctx, state)
}

// Close cancels pending timers and waits for an in-flight push.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	unsubs := e.unsubs
	e.unsubs = nil
	e.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	e.wg.Wait()
}

// onDataChanged (re)schedules a push: debounce resets on every change, capped
// by the max-wait since the first unsynced change.
func (e *Engine) onDataChanged(bus.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}

	now := time.Now()
	if !e.dirty {
		e.dirty = true
		e.firstDirty = now
	}

	delay := e.cfg.Debounce
	if remaining := e.cfg.MaxWait - now.Sub(e.firstDirty); remaining < delay {
		delay = remaining
		if delay < 0 {
			delay = 0
		}
	}

	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(delay, e.pushScheduled)
}

// onBackgrounded forces a pending push out immediately.
func (e *Engine) onBackgrounded(bus.Event) {
	e.mu.Lock()
	pending := e.dirty && !e.closed
	if pending && e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.mu.Unlock()

	if pending {
		e.pushScheduled()
	}
}

// pushScheduled runs a scheduled push. Failures are logged and swallowed; the
// next mutation reschedules.
func (e *Engine) pushScheduled() {
	e.mu.Lock()
	if e.closed || !e.dirty {
		e.mu.Unlock()
		return
	}
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		if err := e.SyncNow(context.Background()); err != nil && e.logger != nil {
			e.logger.Warn("scheduled sync push failed", "error", err)
		}
	}()
}

// buildSnapshot exports all persistent state except audio bytes.
func (e *Engine) buildSnapshot(ctx context.Context) (*domain.SyncSnapshot, error) {
	books, err := e.store.ListBooks(ctx)
	if err != nil {
		return nil, err
	}
	progress, err := e.store.ListProgress(ctx)
	if err != nil {
		return nil, err
	}
	bookmarks, err := e.store.ListBookmarks(ctx)
	if err != nil {
		return nil, err
	}
	prefs, err := e.store.GetPreferences(ctx)
	if err != nil {
		return nil, err
	}
	state, err := e.store.GetSyncState(ctx)
	if err != nil {
		return nil, err
	}

	return &domain.SyncSnapshot{
		Version:   domain.SnapshotVersion,
		Timestamp: time.Now(),
		DeviceID:  state.DeviceID,
		Preferences: map[string]string{
			"voice": string(prefs.Voice),
			"speed": strconv.FormatFloat(float64(prefs.Speed), 'f', -1, 64),
		},
		Books:     books,
		Progress:  progress,
		Bookmarks: bookmarks,
	}, nil
}

// apply merges a snapshot into the local store. Local books that also exist
// remotely keep their identity; restore only runs on empty directories, so
// conflicts do not arise in practice.
func (e *Engine) apply(ctx context.Context, snapshot *domain.SyncSnapshot) error {
	for _, book := range snapshot.Books {
		err := e.store.CreateBook(ctx, book)
		if err != nil && !errors.Is(err, store.ErrBookExists) {
			return err
		}
	}
	for _, p := range snapshot.Progress {
		if err := e.store.UpsertProgress(ctx, p); err != nil {
			return err
		}
	}
	for _, bm := range snapshot.Bookmarks {
		err := e.store.CreateBookmark(ctx, bm)
		if err != nil && !errors.Is(err, errors.ErrConflict) {
			return err
		}
	}

	if prefs, ok := parsePreferences(snapshot.Preferences); ok {
		if err := e.store.PutPreferences(ctx, prefs); err != nil {
			return err
		}
	}
	return nil
}

func parsePreferences(m map[string]string) (domain.Preferences, bool) {
	if m == nil {
		return domain.Preferences{}, false
	}

	prefs := domain.DefaultPreferences()
	if v, ok := m["voice"]; ok && domain.Voice(v).Valid() {
		prefs.Voice = domain.Voice(v)
	}
	if v, ok := m["speed"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil && domain.PlaybackSpeed(f).Valid() {
			prefs.Speed = domain.PlaybackSpeed(f)
		}
	}
	return prefs, true
}

// encodeSnapshot marshals and gzip-compresses a snapshot.
func encodeSnapshot(snapshot *domain.SyncSnapshot) ([]byte, error) {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(raw); err != nil {
		return nil, fmt.Errorf("compress snapshot: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("compress snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// decodeSnapshot decompresses and unmarshals a snapshot, checking the format
// version.
func decodeSnapshot(data []byte) (*domain.SyncSnapshot, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decompress snapshot: %w", err)
	}
	defer gz.Close()

	raw, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("decompress snapshot: %w", err)
	}

	var snapshot domain.SyncSnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if snapshot.Version > domain.SnapshotVersion {
		return nil, errors.InvalidInputf("snapshot version %d is newer than supported %d", snapshot.Version, domain.SnapshotVersion)
	}
	return &snapshot, nil
}
