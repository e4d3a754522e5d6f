package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Voice identifies a synthesis voice. The set is closed; clients pick from
// Voices(). Persisted as a simple preference, not book-scoped.
type Voice string

// Available synthesis voices.
const (
	VoiceAria   Voice = "aria"
	VoiceMarcus Voice = "marcus"
	VoiceClara  Voice = "clara"
	VoiceOwen   Voice = "owen"
)

// DownloadVoice is the single fixed voice used for bulk offline caching,
// distinct from the voice chosen for live listening.
const DownloadVoice = VoiceAria

// Voices returns the closed set of selectable voices.
func Voices() []Voice {
	return []Voice{VoiceAria, VoiceMarcus, VoiceClara, VoiceOwen}
}

// Valid reports whether v is a known voice.
func (v Voice) Valid() bool {
	switch v {
	case VoiceAria, VoiceMarcus, VoiceClara, VoiceOwen:
		return true
	}
	return false
}

// PlaybackSpeed is a bounded playback rate multiplier.
type PlaybackSpeed float64

// Available playback speeds.
const (
	SpeedSlow    PlaybackSpeed = 0.75
	SpeedNormal  PlaybackSpeed = 1.0
	SpeedFast    PlaybackSpeed = 1.25
	SpeedFaster  PlaybackSpeed = 1.5
	SpeedDoubled PlaybackSpeed = 2.0
)

// Speeds returns the closed set of selectable speeds.
func Speeds() []PlaybackSpeed {
	return []PlaybackSpeed{SpeedSlow, SpeedNormal, SpeedFast, SpeedFaster, SpeedDoubled}
}

// Valid reports whether s is a known speed.
func (s PlaybackSpeed) Valid() bool {
	for _, v := range Speeds() {
		if s == v {
			return true
		}
	}
	return false
}

// AudioKey addresses one cached audio blob: the synthesized audio of a single
// chapter in a single voice.
type AudioKey struct {
	BookID       string `json:"book_id"`
	ChapterIndex int    `json:"chapter_index"`
	VoiceID      Voice  `json:"voice_id"`
}

// String renders the key as "bookID:chapterIndex:voiceID". Because keys are
// prefixed by book ID, deleting a book can cascade by prefix match.
func (k AudioKey) String() string {
	return fmt.Sprintf("%s:%d:%s", k.BookID, k.ChapterIndex, k.VoiceID)
}

// ParseAudioKey parses the string form produced by String.
func ParseAudioKey(s string) (AudioKey, error) {
	// Book IDs are nanoid-based and contain no colons, so a 3-way split is safe.
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return AudioKey{}, fmt.Errorf("malformed audio key %q", s)
	}
	idx, err := strconv.Atoi(parts[1])
	if err != nil {
		return AudioKey{}, fmt.Errorf("malformed chapter index in audio key %q: %w", s, err)
	}
	return AudioKey{BookID: parts[0], ChapterIndex: idx, VoiceID: Voice(parts[2])}, nil
}

// DownloadStatus is the derived offline state of a book, computed by comparing
// the cached-chapter count for the download voice against the total.
type DownloadStatus string

// Download states.
const (
	DownloadNone       DownloadStatus = "none"
	DownloadInProgress DownloadStatus = "downloading"
	DownloadComplete   DownloadStatus = "downloaded"
)

// Preferences holds the user's playback preferences. Not book-scoped.
type Preferences struct {
	Voice Voice         `json:"voice"`
	Speed PlaybackSpeed `json:"speed"`
}

// DefaultPreferences returns the out-of-box voice and speed.
func DefaultPreferences() Preferences {
	return Preferences{Voice: VoiceAria, Speed: SpeedNormal}
}
