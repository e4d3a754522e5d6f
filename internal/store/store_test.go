package store

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/narrateapp/narrate-core/internal/bus"
	"github.com/narrateapp/narrate-core/internal/domain"
)

func setupTestStore(t *testing.T) (*Store, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "narrate-test-*")
	require.NoError(t, err)

	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := New(dbPath, nil, bus.NoopPublisher{})
	require.NoError(t, err)
	require.NotNil(t, store)

	cleanup := func() {
		store.Close()
		os.RemoveAll(tmpDir)
	}

	return store, cleanup
}

// setupTestStoreWithBus wires a real bus for tests that assert on events.
func setupTestStoreWithBus(t *testing.T) (*Store, *bus.Bus, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "narrate-test-*")
	require.NoError(t, err)

	b := bus.New()
	store, err := New(filepath.Join(tmpDir, "test.db"), nil, b)
	require.NoError(t, err)

	cleanup := func() {
		store.Close()
		os.RemoveAll(tmpDir)
	}

	return store, b, cleanup
}

func createTestBook(id string) *domain.Book {
	chapters := make([]domain.Chapter, 3)
	for i := range chapters {
		chapters[i] = domain.Chapter{
			Index:     i,
			Title:     fmt.Sprintf("Chapter %d", i+1),
			Text:      fmt.Sprintf("The text of chapter %d. It carries on for a while.", i+1),
			WordCount: 10,
		}
	}
	return &domain.Book{
		ID:        id,
		SourceURL: "https://example.com/articles/" + id,
		Title:     "Test Book " + id,
		Author:    "Test Author",
		Chapters:  chapters,
		DateAdded: time.Now(),
	}
}
