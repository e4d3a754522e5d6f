package player

import "github.com/narrateapp/narrate-core/internal/domain"

// Output is the host audio sink. The engine hands it opaque clips and drives
// transport; the host calls Engine.ClipEnded when a clip finishes on its own.
type Output interface {
	Play(clip []byte, startAt float64, speed domain.PlaybackSpeed) error
	Pause() error
	Resume() error
	Stop() error
	Seek(position float64) error
	SetSpeed(speed domain.PlaybackSpeed) error
	// Position reports seconds into the current clip.
	Position() float64
}

// NowPlaying is what the media-control surface shows.
type NowPlaying struct {
	BookID        string               `json:"book_id"`
	BookTitle     string               `json:"book_title"`
	ChapterTitle  string               `json:"chapter_title"`
	ChapterIndex  int                  `json:"chapter_index"`
	TotalChapters int                  `json:"total_chapters"`
	State         State                `json:"state"`
	Speed         domain.PlaybackSpeed `json:"speed"`
}

// MediaSurface is the host's lock-screen / system media-control integration.
// Updated on every state change, cleared when the session closes.
type MediaSurface interface {
	Update(info NowPlaying)
	Clear()
}

// NullOutput discards audio. It lets the engine run on hosts that have not
// wired a real sink yet; Position reports wherever the engine last placed it.
type NullOutput struct {
	pos float64
}

// Play implements Output by recording the start position.
func (o *NullOutput) Play(_ []byte, startAt float64, _ domain.PlaybackSpeed) error {
	o.pos = startAt
	return nil
}

// Pause implements Output as a no-op.
func (o *NullOutput) Pause() error { return nil }

// Resume implements Output as a no-op.
func (o *NullOutput) Resume() error { return nil }

// Stop implements Output by resetting the position.
func (o *NullOutput) Stop() error {
	o.pos = 0
	return nil
}

// Seek implements Output by recording the position.
func (o *NullOutput) Seek(position float64) error {
	o.pos = position
	return nil
}

// SetSpeed implements Output as a no-op.
func (o *NullOutput) SetSpeed(domain.PlaybackSpeed) error { return nil }

// Position reports the last recorded position.
func (o *NullOutput) Position() float64 { return o.pos }

// NoopSurface ignores all updates. Useful in tests.
type NoopSurface struct{}

// Update implements MediaSurface as a no-op.
func (NoopSurface) Update(NowPlaying) {}

// Clear implements MediaSurface as a no-op.
func (NoopSurface) Clear() {}
