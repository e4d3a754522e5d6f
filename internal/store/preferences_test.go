package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/narrateapp/narrate-core/internal/domain"
)

func TestPreferences_Defaults(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	prefs, err := store.GetPreferences(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultPreferences(), prefs)
}

func TestPreferences_RoundTrip(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	want := domain.Preferences{Voice: domain.VoiceClara, Speed: domain.SpeedFaster}
	require.NoError(t, store.PutPreferences(ctx, want))

	got, err := store.GetPreferences(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestPreferences_RejectsUnknown(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	err := store.PutPreferences(ctx, domain.Preferences{Voice: "sauron", Speed: domain.SpeedNormal})
	assert.Error(t, err)

	err = store.PutPreferences(ctx, domain.Preferences{Voice: domain.VoiceAria, Speed: 3.5})
	assert.Error(t, err)
}

func TestSyncState_RoundTrip(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()

	state, err := store.GetSyncState(ctx)
	require.NoError(t, err)
	assert.Empty(t, state.DeviceID)
	assert.False(t, state.Restored)

	state.DeviceID = "device-1"
	state.Restored = true
	require.NoError(t, store.PutSyncState(ctx, state))

	got, err := store.GetSyncState(ctx)
	require.NoError(t, err)
	assert.Equal(t, "device-1", got.DeviceID)
	assert.True(t, got.Restored)
}
