// Package synth defines the speech-synthesis boundary and the guards the core
// puts in front of it.
package synth

import (
	"context"
	"encoding/binary"
	"strings"
	"sync"

	"github.com/narrateapp/narrate-core/internal/domain"
	"github.com/narrateapp/narrate-core/internal/errors"
)

// Synthesizer converts text into an audio clip for one voice. Implementations
// are host-provided; the core treats the returned bytes as opaque.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, voice domain.Voice) ([]byte, error)
}

// PlaceholderUtterance is spoken in place of a chapter whose text could not
// be synthesized in any form.
const PlaceholderUtterance = "This chapter could not be converted to audio. Please continue to the next chapter."

// DefaultWordCeiling is the largest utterance a synthesizer is asked to speak
// in one call. Chapters are already bounded below this by segmentation; the
// guard catches anything that slips through.
const DefaultWordCeiling = 1000

// Guarded wraps a Synthesizer with input validation: empty and oversized
// inputs are rejected before they reach the engine.
type Guarded struct {
	inner   Synthesizer
	ceiling int
}

// Guard wraps s with the word-ceiling check. A non-positive ceiling uses the
// default.
func Guard(s Synthesizer, ceiling int) *Guarded {
	if ceiling <= 0 {
		ceiling = DefaultWordCeiling
	}
	return &Guarded{inner: s, ceiling: ceiling}
}

// Synthesize implements Synthesizer.
func (g *Guarded) Synthesize(ctx context.Context, text string, voice domain.Voice) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.InvalidInput("utterance is empty")
	}
	if words := len(strings.Fields(text)); words > g.ceiling {
		return nil, errors.InvalidInputf("utterance has %d words, ceiling is %d", words, g.ceiling)
	}
	if !voice.Valid() {
		return nil, errors.InvalidInputf("unknown voice %q", voice)
	}
	return g.inner.Synthesize(ctx, text, voice)
}

// SilentClip returns a minimal valid WAV clip of silence, used to unlock
// autoplay on hosts that require a user-gesture-initiated play before
// programmatic playback is allowed.
func SilentClip() []byte {
	const (
		sampleRate = 8000
		samples    = 800 // 100ms of mono 16-bit silence
	)
	dataLen := samples * 2

	buf := make([]byte, 44+dataLen)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataLen))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16) // PCM chunk size
	binary.LittleEndian.PutUint16(buf[20:22], 1)  // PCM format
	binary.LittleEndian.PutUint16(buf[22:24], 1)  // mono
	binary.LittleEndian.PutUint32(buf[24:28], sampleRate)
	binary.LittleEndian.PutUint32(buf[28:32], sampleRate*2) // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], 2)            // block align
	binary.LittleEndian.PutUint16(buf[34:36], 16)           // bits per sample
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataLen))
	return buf
}

// Fake is a scriptable Synthesizer for tests. The zero value succeeds for
// every utterance, returning the utterance text as the clip bytes.
type Fake struct {
	mu sync.Mutex

	// FailFor maps utterance substrings to the error returned when the
	// utterance contains that substring.
	FailFor map[string]error

	// FailAll, when set, fails every call with this error. Takes precedence
	// over FailFor except for the placeholder utterance when
	// PlaceholderSucceeds is also set.
	FailAll error

	// PlaceholderSucceeds lets the placeholder utterance through even under
	// FailAll, modeling an engine that chokes on content but not on the
	// canned notice.
	PlaceholderSucceeds bool

	// Calls records every synthesized utterance in order.
	Calls []string
}

// Synthesize implements Synthesizer.
func (f *Fake) Synthesize(ctx context.Context, text string, voice domain.Voice) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, text)

	if f.FailAll != nil {
		if f.PlaceholderSucceeds && text == PlaceholderUtterance {
			return []byte(text), nil
		}
		return nil, f.FailAll
	}
	for sub, err := range f.FailFor {
		if strings.Contains(text, sub) {
			return nil, err
		}
	}
	return []byte(text), nil
}

// CallCount returns the number of synthesis calls made so far.
func (f *Fake) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Calls)
}
