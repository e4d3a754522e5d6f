package domain

import "time"

// SnapshotVersion is the current sync snapshot format version.
const SnapshotVersion = 1

// SyncSnapshot is a point-in-time export of all persistent state except raw
// audio bytes. Audio is never synced; it is re-derived locally from text.
type SyncSnapshot struct {
	Version     int               `json:"version"`
	Timestamp   time.Time         `json:"timestamp"`
	DeviceID    string            `json:"device_id"`
	Preferences map[string]string `json:"preferences,omitempty"`
	Books       []*Book           `json:"books"`
	Progress    []*BookProgress   `json:"progress"`
	Bookmarks   []*Bookmark       `json:"bookmarks"`
}

// Counts summarizes snapshot contents for logging.
func (s *SyncSnapshot) Counts() (books, progress, bookmarks int) {
	return len(s.Books), len(s.Progress), len(s.Bookmarks)
}
