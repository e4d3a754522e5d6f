// Package player implements the playback engine: a per-session state machine
// driving an Output sink from the audio cache, with synthesis on miss,
// next-chapter prefetch, auto-advance, bookmarks, and progress flushing.
package player

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/narrateapp/narrate-core/internal/bus"
	"github.com/narrateapp/narrate-core/internal/config"
	"github.com/narrateapp/narrate-core/internal/domain"
	"github.com/narrateapp/narrate-core/internal/errors"
	"github.com/narrateapp/narrate-core/internal/id"
	"github.com/narrateapp/narrate-core/internal/speech"
	"github.com/narrateapp/narrate-core/internal/store"
	"github.com/narrateapp/narrate-core/internal/synth"
)

// State is the playback engine state.
type State string

// Engine states. Completed is terminal for a session until the user plays
// again, which restarts the book.
const (
	StateIdle      State = "idle"
	StateLoading   State = "loading"
	StatePlaying   State = "playing"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
)

// Engine is a single-book playback session. Create one with New, open a book
// with Open, and always Close it; Close flushes progress.
type Engine struct {
	store   *store.Store
	synth   synth.Synthesizer
	norm    *speech.Normalizer
	output  Output
	surface MediaSurface
	bus     *bus.Bus
	logger  *slog.Logger
	cfg     config.PlayerConfig

	// source tag for audio-exclusion claims on the bus
	sessionID string

	mu           sync.Mutex
	state        State
	book         *domain.Book
	progress     *domain.BookProgress
	prefs        domain.Preferences
	chapterIndex int
	unlocked     bool

	// retryChapter is set when auto-advance hit a synthesis failure; regaining
	// foreground retries that chapter.
	retryChapter  int
	retryPending  bool
	prefetchIndex int
	prefetchClip  []byte

	flushStop chan struct{}
	unsubs    []func()
	closed    bool
}

// New creates an idle engine and wires its bus subscriptions.
func New(s *store.Store, syn synth.Synthesizer, norm *speech.Normalizer, output Output, surface MediaSurface, b *bus.Bus, logger *slog.Logger, cfg config.PlayerConfig) *Engine {
	if cfg.ProgressFlushInterval <= 0 {
		cfg.ProgressFlushInterval = 10 * time.Second
	}
	if cfg.SkipSeconds <= 0 {
		cfg.SkipSeconds = 30
	}
	if surface == nil {
		surface = NoopSurface{}
	}

	e := &Engine{
		store:         s,
		synth:         syn,
		norm:          norm,
		output:        output,
		surface:       surface,
		bus:           b,
		logger:        logger,
		cfg:           cfg,
		sessionID:     id.MustGenerate("play"),
		state:         StateIdle,
		prefetchIndex: -1,
		flushStop:     make(chan struct{}),
	}

	e.unsubs = append(e.unsubs,
		b.Subscribe(e.onAudioClaimed, bus.EventAudioClaimed),
		b.Subscribe(e.onBackgrounded, bus.EventAppBackgrounded),
		b.Subscribe(e.onForegrounded, bus.EventAppForegrounded),
	)

	go e.flushLoop()
	return e
}

// Open loads a book and its saved progress into the session. The engine stays
// Idle; playback begins with Play or PlayChapter.
func (e *Engine) Open(ctx context.Context, bookID string) error {
	book, err := e.store.GetBook(ctx, bookID)
	if err != nil {
		return err
	}

	progress, err := e.store.GetProgress(ctx, bookID)
	if errors.Is(err, store.ErrProgressNotFound) {
		progress = domain.NewBookProgress(bookID)
		err = nil
	}
	if err != nil {
		return err
	}

	prefs, err := e.store.GetPreferences(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// One session, one book. Replacing the book silences whatever the
	// previous one left on the output and banks its position first.
	if e.state == StatePlaying || e.state == StatePaused {
		e.flushLocked(ctx)
		if err := e.output.Stop(); err != nil && e.logger != nil {
			e.logger.Warn("output stop failed", "error", err)
		}
		e.surface.Clear()
	}

	e.book = book
	e.progress = progress
	e.prefs = prefs
	e.state = StateIdle
	e.prefetchIndex, e.prefetchClip = -1, nil
	e.retryPending = false

	// A finished book restarts from the top.
	if progress.Completed || progress.CurrentChapterIndex >= len(book.Chapters) {
		e.chapterIndex = 0
	} else {
		e.chapterIndex = progress.CurrentChapterIndex
	}
	return nil
}

// Play starts or resumes playback at the session's current chapter and saved
// position. This is the user-initiated entry point that performs the autoplay
// unlock.
func (e *Engine) Play(ctx context.Context) error {
	e.mu.Lock()
	if e.book == nil {
		e.mu.Unlock()
		return errors.InvalidInput("no book open")
	}
	if e.state == StatePaused && !e.retryPending {
		e.mu.Unlock()
		return e.Resume(ctx)
	}

	idx := e.chapterIndex
	position := 0.0
	if e.state == StateCompleted || idx >= len(e.book.Chapters) {
		// Playing a finished book restarts it.
		idx = 0
	} else if !e.progress.Completed && e.progress.CurrentChapterIndex == idx {
		position = e.progress.CurrentTimeSeconds
	}
	e.mu.Unlock()

	return e.startChapter(ctx, idx, position, true)
}

// PlayChapter jumps to a chapter by index. Jumping to the chapter holding the
// saved position resumes there; any other chapter starts from the top.
func (e *Engine) PlayChapter(ctx context.Context, index int) error {
	e.mu.Lock()
	if e.book == nil {
		e.mu.Unlock()
		return errors.InvalidInput("no book open")
	}
	if index < 0 || index >= len(e.book.Chapters) {
		e.mu.Unlock()
		return errors.InvalidInputf("chapter index %d out of range", index)
	}

	position := 0.0
	if !e.progress.Completed && e.progress.CurrentChapterIndex == index {
		position = e.progress.CurrentTimeSeconds
	}
	e.mu.Unlock()

	return e.startChapter(ctx, index, position, true)
}

// Pause pauses playback and flushes progress.
func (e *Engine) Pause(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StatePlaying {
		return nil
	}
	if err := e.output.Pause(); err != nil {
		return err
	}
	e.state = StatePaused
	e.flushLocked(ctx)
	e.updateSurfaceLocked()
	return nil
}

// Resume continues a paused session. When a synthesis failure left the
// session parked, Resume retries the failed chapter instead.
func (e *Engine) Resume(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StatePaused {
		e.mu.Unlock()
		return nil
	}
	if e.retryPending {
		idx := e.retryChapter
		e.retryPending = false
		e.mu.Unlock()
		return e.startChapter(ctx, idx, 0, true)
	}

	if err := e.output.Resume(); err != nil {
		e.mu.Unlock()
		return err
	}
	e.state = StatePlaying
	e.updateSurfaceLocked()
	e.mu.Unlock()
	return nil
}

// NextChapter manually advances one chapter from the start.
func (e *Engine) NextChapter(ctx context.Context) error {
	e.mu.Lock()
	if e.book == nil {
		e.mu.Unlock()
		return errors.InvalidInput("no book open")
	}
	next := e.chapterIndex + 1
	if next >= len(e.book.Chapters) {
		e.mu.Unlock()
		return errors.InvalidInput("already at the last chapter")
	}
	e.mu.Unlock()
	return e.startChapter(ctx, next, 0, true)
}

// PrevChapter manually steps back one chapter from the start.
func (e *Engine) PrevChapter(ctx context.Context) error {
	e.mu.Lock()
	if e.book == nil {
		e.mu.Unlock()
		return errors.InvalidInput("no book open")
	}
	prev := e.chapterIndex - 1
	if prev < 0 {
		prev = 0
	}
	e.mu.Unlock()
	return e.startChapter(ctx, prev, 0, true)
}

// SkipForward seeks ahead by delta seconds within the current chapter. A
// zero or negative delta uses the configured skip.
func (e *Engine) SkipForward(ctx context.Context, delta float64) error {
	if delta <= 0 {
		delta = e.cfg.SkipSeconds
	}
	return e.seekRelative(ctx, delta)
}

// SkipBack seeks back by delta seconds, clamped at the chapter start. A zero
// or negative delta uses the configured skip.
func (e *Engine) SkipBack(ctx context.Context, delta float64) error {
	if delta <= 0 {
		delta = e.cfg.SkipSeconds
	}
	return e.seekRelative(ctx, -delta)
}

func (e *Engine) seekRelative(ctx context.Context, delta float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StatePlaying && e.state != StatePaused {
		return errors.InvalidInput("nothing to seek")
	}
	target := e.output.Position() + delta
	if target < 0 {
		target = 0
	}
	return e.seekLocked(ctx, target)
}

// SeekTo seeks to an absolute position within the current chapter.
func (e *Engine) SeekTo(ctx context.Context, position float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StatePlaying && e.state != StatePaused {
		return errors.InvalidInput("nothing to seek")
	}
	if position < 0 {
		position = 0
	}
	return e.seekLocked(ctx, position)
}

func (e *Engine) seekLocked(ctx context.Context, position float64) error {
	if err := e.output.Seek(position); err != nil {
		return err
	}
	e.progress.Advance(e.chapterIndex, position)
	return e.store.UpsertProgress(ctx, e.progress)
}

// SetSpeed changes the playback rate, applies it to the live output, and
// persists it as the preference.
func (e *Engine) SetSpeed(ctx context.Context, speed domain.PlaybackSpeed) error {
	if !speed.Valid() {
		return errors.InvalidInputf("unknown speed %v", speed)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.prefs.Speed = speed
	if err := e.store.PutPreferences(ctx, e.prefs); err != nil {
		return err
	}
	if e.state == StatePlaying || e.state == StatePaused {
		if err := e.output.SetSpeed(speed); err != nil {
			return err
		}
	}
	e.updateSurfaceLocked()
	return nil
}

// SetVoice changes the synthesis voice preference. The playing clip finishes
// in the old voice; the next chapter fetch uses the new one, so the held
// prefetch is discarded.
func (e *Engine) SetVoice(ctx context.Context, voice domain.Voice) error {
	if !voice.Valid() {
		return errors.InvalidInputf("unknown voice %q", voice)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.prefs.Voice = voice
	e.prefetchIndex, e.prefetchClip = -1, nil
	return e.store.PutPreferences(ctx, e.prefs)
}

// AddBookmark records a bookmark at the current position.
func (e *Engine) AddBookmark(ctx context.Context, label string) (*domain.Bookmark, error) {
	e.mu.Lock()
	if e.book == nil {
		e.mu.Unlock()
		return nil, errors.InvalidInput("no book open")
	}
	bm := &domain.Bookmark{
		ID:           id.MustGenerate("bm"),
		BookID:       e.book.ID,
		ChapterIndex: e.chapterIndex,
		TimeSeconds:  e.output.Position(),
		Label:        label,
		CreatedAt:    time.Now(),
	}
	e.mu.Unlock()

	if err := e.store.CreateBookmark(ctx, bm); err != nil {
		return nil, err
	}
	return bm, nil
}

// RemoveBookmark deletes a bookmark. Progress is unaffected.
func (e *Engine) RemoveBookmark(ctx context.Context, bookmarkID string) error {
	return e.store.DeleteBookmark(ctx, bookmarkID)
}

// SeekToBookmark jumps playback to a bookmark's chapter and position.
func (e *Engine) SeekToBookmark(ctx context.Context, bookmarkID string) error {
	bm, err := e.store.GetBookmark(ctx, bookmarkID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.book == nil || e.book.ID != bm.BookID {
		e.mu.Unlock()
		return errors.InvalidInput("bookmark belongs to a different book")
	}
	e.mu.Unlock()

	return e.startChapter(ctx, bm.ChapterIndex, bm.TimeSeconds, true)
}

// ClipEnded is called by the host when the current clip finishes naturally.
// It drives auto-advance; the final chapter completes the book.
func (e *Engine) ClipEnded() {
	ctx := context.Background()

	e.mu.Lock()
	if e.state != StatePlaying || e.book == nil {
		e.mu.Unlock()
		return
	}
	next := e.chapterIndex + 1
	last := next >= len(e.book.Chapters)
	if last {
		e.progress.MarkCompleted(len(e.book.Chapters))
		e.chapterIndex = len(e.book.Chapters)
		e.state = StateCompleted
		_ = e.output.Stop()
		if err := e.store.UpsertProgress(ctx, e.progress); err != nil && e.logger != nil {
			e.logger.Warn("flush progress on completion", "error", err)
		}
		e.updateSurfaceLocked()
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	// Auto-advance starts the next chapter from the top, never from a saved
	// position, and must not replay the unlock clip.
	if err := e.startChapter(ctx, next, 0, false); err != nil && e.logger != nil {
		e.logger.Warn("auto-advance failed", "chapter", next, "error", err)
	}
}

// State returns the current engine state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// CurrentChapter returns the session's chapter index. After completion it is
// one past the final chapter.
func (e *Engine) CurrentChapter() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.chapterIndex
}

// Close flushes progress, releases the output, and tears down subscriptions.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true

	if e.state == StatePlaying || e.state == StatePaused {
		e.flushLocked(ctx)
	}
	_ = e.output.Stop()
	e.state = StateIdle
	e.surface.Clear()
	close(e.flushStop)
	unsubs := e.unsubs
	e.unsubs = nil
	e.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	return nil
}

// startChapter loads a chapter's audio and starts the output.
func (e *Engine) startChapter(ctx context.Context, index int, position float64, userInitiated bool) error {
	e.mu.Lock()
	if e.book == nil || e.closed {
		e.mu.Unlock()
		return errors.InvalidInput("no book open")
	}
	book := e.book
	chapter := book.ChapterAt(index)
	if chapter == nil {
		e.mu.Unlock()
		return errors.InvalidInputf("chapter index %d out of range", index)
	}
	voice := e.prefs.Voice
	speed := e.prefs.Speed
	e.state = StateLoading
	e.chapterIndex = index

	// Grab the held prefetch if it matches.
	var clip []byte
	if e.prefetchIndex == index && e.prefetchClip != nil {
		clip = e.prefetchClip
		e.prefetchIndex, e.prefetchClip = -1, nil
	}
	e.updateSurfaceLocked()
	e.mu.Unlock()

	// Claim audio before producing any; other sources stop on this.
	e.bus.Publish(bus.Event{Type: bus.EventAudioClaimed, Source: e.sessionID})

	if clip == nil {
		var err error
		clip, err = e.fetchClip(ctx, book.ID, chapter, voice)
		if err != nil {
			e.mu.Lock()
			e.state = StatePaused
			e.retryChapter = index
			e.retryPending = true
			e.progress.Advance(index, 0)
			if perr := e.store.UpsertProgress(ctx, e.progress); perr != nil && e.logger != nil {
				e.logger.Warn("flush progress after synthesis failure", "error", perr)
			}
			e.updateSurfaceLocked()
			e.mu.Unlock()
			return err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.InvalidInput("session closed")
	}

	// First user-initiated play unlocks autoplay with a silent clip.
	if userInitiated && !e.unlocked {
		if err := e.output.Play(synth.SilentClip(), 0, domain.SpeedNormal); err != nil {
			return err
		}
		e.unlocked = true
	}

	if err := e.output.Play(clip, position, speed); err != nil {
		e.state = StatePaused
		return err
	}

	e.state = StatePlaying
	e.retryPending = false
	e.progress.Advance(index, position)
	if err := e.store.UpsertProgress(ctx, e.progress); err != nil && e.logger != nil {
		e.logger.Warn("flush progress on chapter start", "error", err)
	}

	book.Touch()
	if err := e.store.UpdateBook(ctx, book); err != nil && e.logger != nil {
		e.logger.Warn("update last played", "error", err)
	}
	e.updateSurfaceLocked()

	if e.logger != nil {
		e.logger.LogAttrs(ctx, slog.LevelInfo, "chapter started",
			slog.String("book_id", book.ID),
			slog.Int("chapter", index),
			slog.String("voice", string(voice)),
		)
	}

	// Prefetch the next chapter for an instant swap on advance.
	if next := book.ChapterAt(index + 1); next != nil {
		go e.prefetchChapter(book.ID, next, voice)
	}
	return nil
}

// fetchClip is the cache-first audio path: cached clip if present, otherwise
// synthesize the normalized text and cache it.
func (e *Engine) fetchClip(ctx context.Context, bookID string, chapter *domain.Chapter, voice domain.Voice) ([]byte, error) {
	key := domain.AudioKey{BookID: bookID, ChapterIndex: chapter.Index, VoiceID: voice}

	clip, err := e.store.GetAudio(ctx, key)
	if err == nil {
		return clip, nil
	}
	if !errors.Is(err, store.ErrAudioNotCached) {
		return nil, err
	}

	clip, err = e.synth.Synthesize(ctx, e.norm.Normalize(chapter.Text), voice)
	if err != nil {
		return nil, err
	}
	if err := e.store.PutAudio(ctx, key, clip); err != nil {
		return nil, err
	}
	return clip, nil
}

func (e *Engine) prefetchChapter(bookID string, chapter *domain.Chapter, voice domain.Voice) {
	clip, err := e.fetchClip(context.Background(), bookID, chapter, voice)
	if err != nil {
		if e.logger != nil {
			e.logger.Warn("prefetch failed", "chapter", chapter.Index, "error", err)
		}
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.book == nil || e.book.ID != bookID || e.prefs.Voice != voice {
		return
	}
	e.prefetchIndex = chapter.Index
	e.prefetchClip = clip
}

// flushLoop persists progress on an interval while playing.
func (e *Engine) flushLoop() {
	ticker := time.NewTicker(e.cfg.ProgressFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.flushStop:
			return
		case <-ticker.C:
			e.mu.Lock()
			if e.state == StatePlaying {
				e.flushLocked(context.Background())
			}
			e.mu.Unlock()
		}
	}
}

// flushLocked persists the live position. Callers hold e.mu.
func (e *Engine) flushLocked(ctx context.Context) {
	if e.book == nil || e.progress == nil || e.progress.Completed {
		return
	}
	e.progress.Advance(e.chapterIndex, e.output.Position())
	if err := e.store.UpsertProgress(ctx, e.progress); err != nil && e.logger != nil {
		e.logger.Warn("flush progress", "error", err)
	}
}

func (e *Engine) updateSurfaceLocked() {
	if e.book == nil {
		e.surface.Clear()
		return
	}

	info := NowPlaying{
		BookID:        e.book.ID,
		BookTitle:     e.book.Title,
		ChapterIndex:  e.chapterIndex,
		TotalChapters: len(e.book.Chapters),
		State:         e.state,
		Speed:         e.prefs.Speed,
	}
	if ch := e.book.ChapterAt(e.chapterIndex); ch != nil {
		info.ChapterTitle = ch.Title
	}
	e.surface.Update(info)
}

// onAudioClaimed pauses playback when another source claims audio.
func (e *Engine) onAudioClaimed(ev bus.Event) {
	if ev.Source == e.sessionID {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StatePlaying {
		return
	}
	if err := e.output.Pause(); err != nil && e.logger != nil {
		e.logger.Warn("pause on audio claim", "error", err)
	}
	e.state = StatePaused
	e.flushLocked(context.Background())
	e.updateSurfaceLocked()
}

// onBackgrounded flushes progress when the host loses visibility.
func (e *Engine) onBackgrounded(bus.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StatePlaying || e.state == StatePaused {
		e.flushLocked(context.Background())
	}
}

// onForegrounded retries a session parked by a synthesis failure.
func (e *Engine) onForegrounded(bus.Event) {
	e.mu.Lock()
	pending := e.retryPending && !e.closed
	idx := e.retryChapter
	e.mu.Unlock()

	if !pending {
		return
	}
	go func() {
		e.mu.Lock()
		if !e.retryPending {
			e.mu.Unlock()
			return
		}
		e.retryPending = false
		e.mu.Unlock()

		if err := e.startChapter(context.Background(), idx, 0, true); err != nil && e.logger != nil {
			e.logger.Warn("foreground retry failed", "chapter", idx, "error", err)
		}
	}()
}
