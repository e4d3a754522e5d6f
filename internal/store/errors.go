package store

import "github.com/narrateapp/narrate-core/internal/errors"

// Sentinel errors for store operations.
var (
	ErrBookNotFound     = errors.ErrNotFound.WithMessage("book not found")
	ErrBookExists       = errors.ErrConflict.WithMessage("book already exists")
	ErrProgressNotFound = errors.ErrNotFound.WithMessage("playback progress not found")
	ErrBookmarkNotFound = errors.ErrNotFound.WithMessage("bookmark not found")
	ErrAudioNotCached   = errors.ErrNotFound.WithMessage("audio not cached")
)
