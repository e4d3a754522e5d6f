// Package domain contains the core business entities for the narrate audiobook reader.
package domain

import (
	"fmt"
	"time"
)

// Book is a playable spoken book created from a block of extracted text.
// Chapters are immutable once set; re-importing the same source URL must not
// create a duplicate.
type Book struct {
	ID           string    `json:"id"`
	SourceURL    string    `json:"source_url"`
	Title        string    `json:"title"`
	Author       string    `json:"author,omitempty"`
	Chapters     []Chapter `json:"chapters"`
	DateAdded    time.Time `json:"date_added"`
	LastPlayedAt time.Time `json:"last_played_at,omitzero"`
}

// Chapter is a contiguous, non-overlapping segment of a book's source text.
// Indices are 0..n-1 contiguous; concatenating chapter texts (modulo whitespace
// normalization) reproduces the original text.
type Chapter struct {
	Index     int    `json:"index"`
	Title     string `json:"title"`
	Text      string `json:"text"`
	WordCount int    `json:"word_count"`
}

// Part is a derived grouping of consecutive chapters used only for navigating
// long books. It is computed on demand and never persisted.
type Part struct {
	Index        int    `json:"index"`
	Title        string `json:"title"`
	FirstChapter int    `json:"first_chapter"`
	LastChapter  int    `json:"last_chapter"` // inclusive
}

// ChaptersPerPart is the fixed grouping size for derived parts.
const ChaptersPerPart = 20

// Parts computes the derived part grouping for a book with n chapters.
// Books that fit in a single part return nil; navigation doesn't need parts then.
func Parts(chapterCount int) []Part {
	if chapterCount <= ChaptersPerPart {
		return nil
	}

	count := (chapterCount + ChaptersPerPart - 1) / ChaptersPerPart
	parts := make([]Part, count)
	for i := range count {
		first := i * ChaptersPerPart
		last := first + ChaptersPerPart - 1
		if last >= chapterCount {
			last = chapterCount - 1
		}
		parts[i] = Part{
			Index:        i,
			Title:        partTitle(i),
			FirstChapter: first,
			LastChapter:  last,
		}
	}
	return parts
}

func partTitle(index int) string {
	return fmt.Sprintf("Part %d", index+1)
}

// TotalWords sums the word counts of all chapters.
func (b *Book) TotalWords() int {
	total := 0
	for _, ch := range b.Chapters {
		total += ch.WordCount
	}
	return total
}

// ChapterAt returns the chapter at index, or nil when out of range.
func (b *Book) ChapterAt(index int) *Chapter {
	if index < 0 || index >= len(b.Chapters) {
		return nil
	}
	return &b.Chapters[index]
}

// Touch updates the last played timestamp.
func (b *Book) Touch() {
	b.LastPlayedAt = time.Now()
}
