package domain

import "time"

// BookProgress tracks the resume position for one book. Exactly one record
// exists per book; it is mutated by the playback engine on a timer while
// playing and on session close.
type BookProgress struct {
	BookID              string    `json:"book_id"`
	CurrentChapterIndex int       `json:"current_chapter_index"`
	CurrentTimeSeconds  float64   `json:"current_time_seconds"`
	Completed           bool      `json:"completed"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// NewBookProgress creates progress positioned at the start of a book.
func NewBookProgress(bookID string) *BookProgress {
	return &BookProgress{
		BookID:    bookID,
		UpdatedAt: time.Now(),
	}
}

// Advance moves progress to the given chapter and position.
// Completed is terminal; advancing a completed book restarts it.
func (p *BookProgress) Advance(chapterIndex int, timeSeconds float64) {
	p.CurrentChapterIndex = chapterIndex
	p.CurrentTimeSeconds = timeSeconds
	p.Completed = false
	p.UpdatedAt = time.Now()
}

// MarkCompleted marks the book finished. The chapter index is left one past
// the final chapter so clients can distinguish "finished" from "at the last
// chapter".
func (p *BookProgress) MarkCompleted(chapterCount int) {
	p.CurrentChapterIndex = chapterCount
	p.CurrentTimeSeconds = 0
	p.Completed = true
	p.UpdatedAt = time.Now()
}

// Bookmark is an explicit user-created position marker. Bookmarks are
// independently deletable and never affect progress.
type Bookmark struct {
	ID           string    `json:"id"`
	BookID       string    `json:"book_id"`
	ChapterIndex int       `json:"chapter_index"`
	TimeSeconds  float64   `json:"time_seconds"`
	Label        string    `json:"label,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
