// Package extract defines the text-extraction boundary. The core never
// fetches or parses pages itself; a host-provided Extractor hands it readable
// text, and the typed failures here let callers distinguish retryable fetch
// problems from permanently unusable sources.
package extract

import (
	"context"

	"github.com/narrateapp/narrate-core/internal/errors"
)

// Result is the readable content extracted from one source URL.
type Result struct {
	Title  string `json:"title"`
	Author string `json:"author,omitempty"`
	Text   string `json:"text"`
}

// Extractor turns a source URL into readable text.
type Extractor interface {
	Extract(ctx context.Context, url string) (*Result, error)
}

// Sentinel errors for extraction failures. Transient ones are worth retrying;
// invalid-input ones are not.
var (
	ErrUnreachable      = errors.ErrTransient.WithMessage("source unreachable")
	ErrTimeout          = errors.ErrTransient.WithMessage("extraction timed out")
	ErrBlocked          = errors.ErrInvalidInput.WithMessage("source refused extraction")
	ErrTooLittleContent = errors.ErrInvalidInput.WithMessage("too little readable content")
)

// MinContentWords is the floor below which an extraction result is rejected
// as too little content to be worth narrating.
const MinContentWords = 30

// Static is a fixed-content Extractor for tests and local development.
type Static struct {
	Results map[string]*Result
}

// Extract implements Extractor from the fixed map.
func (s *Static) Extract(_ context.Context, url string) (*Result, error) {
	r, ok := s.Results[url]
	if !ok {
		return nil, ErrUnreachable
	}
	return r, nil
}
