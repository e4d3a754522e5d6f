package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/narrateapp/narrate-core/internal/bus"
	"github.com/narrateapp/narrate-core/internal/domain"
)

const preferencesKey = "prefs:playback"

// GetPreferences returns the stored playback preferences, or the defaults
// when none have been written yet.
func (s *Store) GetPreferences(ctx context.Context) (domain.Preferences, error) {
	if err := ctx.Err(); err != nil {
		return domain.Preferences{}, err
	}

	var prefs domain.Preferences
	err := s.get([]byte(preferencesKey), &prefs)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return domain.DefaultPreferences(), nil
		}
		return domain.Preferences{}, fmt.Errorf("get preferences: %w", err)
	}

	// Guard against values written by a build with a different voice set.
	if !prefs.Voice.Valid() || !prefs.Speed.Valid() {
		return domain.DefaultPreferences(), nil
	}
	return prefs, nil
}

// PutPreferences stores playback preferences.
func (s *Store) PutPreferences(ctx context.Context, prefs domain.Preferences) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !prefs.Voice.Valid() {
		return fmt.Errorf("unknown voice %q", prefs.Voice)
	}
	if !prefs.Speed.Valid() {
		return fmt.Errorf("unknown speed %v", prefs.Speed)
	}

	if err := s.set([]byte(preferencesKey), prefs); err != nil {
		return fmt.Errorf("put preferences: %w", err)
	}
	s.publish(bus.EventPreferencesUpdated, prefs)
	return nil
}
