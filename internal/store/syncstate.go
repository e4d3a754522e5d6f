package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const syncStateKey = "sync:state"

// SyncState is the sync engine's durable bookkeeping. Restored marks that the
// one-time restore check for this data directory has run; restore must never
// run again after it, even across restarts.
type SyncState struct {
	DeviceID     string    `json:"device_id"`
	Restored     bool      `json:"restored"`
	LastPushedAt time.Time `json:"last_pushed_at,omitzero"`
}

// GetSyncState returns the stored sync state. A zero state (no device ID) is
// returned when none has been written yet.
func (s *Store) GetSyncState(ctx context.Context) (SyncState, error) {
	if err := ctx.Err(); err != nil {
		return SyncState{}, err
	}

	var state SyncState
	err := s.get([]byte(syncStateKey), &state)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return SyncState{}, nil
		}
		return SyncState{}, fmt.Errorf("get sync state: %w", err)
	}
	return state, nil
}

// PutSyncState stores the sync state.
func (s *Store) PutSyncState(ctx context.Context, state SyncState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.set([]byte(syncStateKey), state); err != nil {
		return fmt.Errorf("put sync state: %w", err)
	}
	return nil
}
