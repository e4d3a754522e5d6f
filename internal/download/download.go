// Package download implements bulk offline caching: synthesizing every
// chapter of a book in the fixed download voice and storing the clips.
package download

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/narrateapp/narrate-core/internal/config"
	"github.com/narrateapp/narrate-core/internal/domain"
	"github.com/narrateapp/narrate-core/internal/errors"
	"github.com/narrateapp/narrate-core/internal/speech"
	"github.com/narrateapp/narrate-core/internal/store"
	"github.com/narrateapp/narrate-core/internal/synth"
)

// Progress reports incremental completion: Done counts chapters whose audio
// is cached, including ones cached before this run started.
type Progress struct {
	Done  int `json:"done"`
	Total int `json:"total"`
}

// ProgressFunc receives a Progress after every chapter completion.
type ProgressFunc func(Progress)

// Manager runs bulk downloads against the store and a synthesizer.
type Manager struct {
	store   *store.Store
	synth   synth.Synthesizer
	norm    *speech.Normalizer
	logger  *slog.Logger
	cfg     config.DownloadConfig
	limiter *rate.Limiter
}

// New creates a download manager. The limiter throttles synthesis calls when
// cfg.RequestsPerSecond is set.
func New(s *store.Store, syn synth.Synthesizer, norm *speech.Normalizer, logger *slog.Logger, cfg config.DownloadConfig) *Manager {
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &Manager{
		store:   s,
		synth:   syn,
		norm:    norm,
		logger:  logger,
		cfg:     cfg,
		limiter: limiter,
	}
}

// tier is one rung of the degradation ladder: a text transform and how many
// times synthesis of its output is attempted. Tiers run strictly in order.
type tier struct {
	name      string
	attempts  int
	delay     time.Duration
	transform func(string) string
}

func (m *Manager) tiers() []tier {
	return []tier{
		{name: "normalized", attempts: m.cfg.Attempts, delay: m.cfg.RetryDelay, transform: m.norm.Normalize},
		{name: "aggressive", attempts: 1, transform: speech.AggressiveCleanup},
		{name: "placeholder", attempts: 1, transform: func(string) string { return synth.PlaceholderUtterance }},
	}
}

// Download caches every chapter of the book in the download voice. Already
// cached chapters are skipped; a fully cached book short-circuits. The
// storage ceiling is checked before starting and again as chapters land; a
// breach stops cleanly with whatever completed kept and a capacity error.
func (m *Manager) Download(ctx context.Context, book *domain.Book, onProgress ProgressFunc) error {
	total := len(book.Chapters)
	if total == 0 {
		return nil
	}

	missing, err := m.missingChapters(ctx, book)
	if err != nil {
		return err
	}

	done := int64(total - len(missing))
	if len(missing) == 0 {
		return nil
	}

	if err := m.checkCeiling(ctx); err != nil {
		return err
	}

	if m.logger != nil {
		m.logger.LogAttrs(ctx, slog.LevelInfo, "download started",
			slog.String("book_id", book.ID),
			slog.Int("missing", len(missing)),
			slog.Int("total", total),
		)
	}

	report := func() {
		if onProgress != nil {
			onProgress(Progress{Done: int(atomic.LoadInt64(&done)), Total: total})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	limit := m.cfg.Concurrency
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)

	var ceilingHit atomic.Bool
	for _, idx := range missing {
		// Batch boundary: stop scheduling on cancellation or a ceiling breach
		// noticed by an earlier chapter.
		if err := gctx.Err(); err != nil {
			break
		}
		if ceilingHit.Load() {
			break
		}

		g.Go(func() error {
			clip, err := m.synthesizeChapter(gctx, book.ChapterAt(idx))
			if err != nil {
				return err
			}

			key := domain.AudioKey{BookID: book.ID, ChapterIndex: idx, VoiceID: domain.DownloadVoice}
			if err := m.store.PutAudio(gctx, key, clip); err != nil {
				return err
			}

			atomic.AddInt64(&done, 1)
			report()

			if err := m.checkCeiling(gctx); err != nil {
				ceilingHit.Store(true)
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// synthesizeChapter walks the degradation ladder for one chapter.
func (m *Manager) synthesizeChapter(ctx context.Context, ch *domain.Chapter) ([]byte, error) {
	var lastErr error
	for _, t := range m.tiers() {
		text := t.transform(ch.Text)
		if text == "" {
			continue
		}

		for attempt := 1; attempt <= t.attempts; attempt++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if m.limiter != nil {
				if err := m.limiter.Wait(ctx); err != nil {
					return nil, err
				}
			}

			clip, err := m.synth.Synthesize(ctx, text, domain.DownloadVoice)
			if err == nil {
				return clip, nil
			}
			lastErr = err

			if m.logger != nil {
				m.logger.LogAttrs(ctx, slog.LevelWarn, "chapter synthesis attempt failed",
					slog.Int("chapter", ch.Index),
					slog.String("tier", t.name),
					slog.Int("attempt", attempt),
					slog.String("error", err.Error()),
				)
			}

			if attempt < t.attempts && t.delay > 0 {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(t.delay):
				}
			}
		}
	}
	return nil, errors.Wrapf(lastErr, errors.CodeTransient, "chapter %d failed every synthesis tier", ch.Index)
}

// missingChapters lists chapter indices without cached download-voice audio.
func (m *Manager) missingChapters(ctx context.Context, book *domain.Book) ([]int, error) {
	var missing []int
	for _, ch := range book.Chapters {
		key := domain.AudioKey{BookID: book.ID, ChapterIndex: ch.Index, VoiceID: domain.DownloadVoice}
		ok, err := m.store.HasAudio(ctx, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			missing = append(missing, ch.Index)
		}
	}
	return missing, nil
}

// checkCeiling returns a capacity error when the audio cache has reached the
// configured ceiling.
func (m *Manager) checkCeiling(ctx context.Context) error {
	if m.cfg.StorageCeilingBytes <= 0 {
		return nil
	}

	total, err := m.store.TotalCacheSize(ctx)
	if err != nil {
		return err
	}
	if total >= m.cfg.StorageCeilingBytes {
		return errors.ErrCapacity.WithMessage("audio cache ceiling reached")
	}
	return nil
}

// Status derives the offline state of a book from what is physically cached.
func (m *Manager) Status(ctx context.Context, book *domain.Book) (domain.DownloadStatus, error) {
	if len(book.Chapters) == 0 {
		return domain.DownloadNone, nil
	}

	count, err := m.store.CachedChapterCount(ctx, book.ID, domain.DownloadVoice)
	if err != nil {
		return domain.DownloadNone, err
	}

	switch {
	case count == 0:
		return domain.DownloadNone, nil
	case count >= len(book.Chapters):
		return domain.DownloadComplete, nil
	default:
		return domain.DownloadInProgress, nil
	}
}

// Remove deletes a book's download-voice cache and returns the bytes freed.
// Clips cached for other voices by live listening are untouched.
func (m *Manager) Remove(ctx context.Context, bookID string) (int64, error) {
	freed, err := m.store.DeleteVoiceAudio(ctx, bookID, domain.DownloadVoice)
	if err != nil {
		return 0, err
	}

	if m.logger != nil {
		m.logger.LogAttrs(ctx, slog.LevelInfo, "download removed",
			slog.String("book_id", bookID),
			slog.Int64("freed_bytes", freed),
		)
	}
	return freed, nil
}
