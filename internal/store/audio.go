package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/narrateapp/narrate-core/internal/domain"
)

const audioPrefix = "audio:"

// Audio blobs are stored raw, not JSON-encoded, under
// "audio:<bookID>:<chapterIndex>:<voiceID>". Because the book ID leads the
// key, a book delete cascades to its audio by prefix.

// PutAudio stores a synthesized audio blob.
func (s *Store) PutAudio(ctx context.Context, key domain.AudioKey, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(audioPrefix+key.String()), data)
	})
	if err != nil {
		return fmt.Errorf("put audio: %w", err)
	}

	if s.logger != nil {
		s.logger.LogAttrs(ctx, slog.LevelDebug, "audio cached",
			slog.String("key", key.String()),
			slog.Int("bytes", len(data)),
		)
	}
	return nil
}

// GetAudio retrieves a cached audio blob.
func (s *Store) GetAudio(ctx context.Context, key domain.AudioKey) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(audioPrefix + key.String()))
		if err != nil {
			return err
		}

		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrAudioNotCached
		}
		return nil, fmt.Errorf("get audio: %w", err)
	}
	return data, nil
}

// HasAudio checks whether a blob is cached without reading it.
func (s *Store) HasAudio(ctx context.Context, key domain.AudioKey) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return s.exists([]byte(audioPrefix + key.String()))
}

// DeleteAudio removes a single cached blob. Missing blobs are not an error.
func (s *Store) DeleteAudio(ctx context.Context, key domain.AudioKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.delete([]byte(audioPrefix + key.String()))
}

// DeleteBookAudio removes every cached blob for a book across all voices and
// returns the number of bytes freed.
func (s *Store) DeleteBookAudio(ctx context.Context, bookID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var freed int64
	err := s.db.Update(func(txn *badger.Txn) error {
		var err error
		freed, err = deletePrefix(txn, []byte(audioPrefix+bookID+":"))
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("delete book audio: %w", err)
	}
	return freed, nil
}

// DeleteVoiceAudio removes a book's cached blobs for one voice only, leaving
// other voices in place, and returns the number of bytes freed.
func (s *Store) DeleteVoiceAudio(ctx context.Context, bookID string, voice domain.Voice) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	prefix := []byte(audioPrefix + bookID + ":")
	suffix := ":" + string(voice)

	var freed int64
	err := s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)

		var keys [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := item.Key()
			if strings.HasSuffix(string(key), suffix) {
				freed += item.ValueSize()
				keys = append(keys, item.KeyCopy(nil))
			}
		}
		it.Close()

		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete voice audio: %w", err)
	}
	return freed, nil
}

// TotalCacheSize sums the stored size of all cached audio blobs.
func (s *Store) TotalCacheSize(ctx context.Context) (int64, error) {
	return s.sumAudioBytes(ctx, audioPrefix)
}

// BookCacheSize sums the stored size of a book's cached blobs across voices.
func (s *Store) BookCacheSize(ctx context.Context, bookID string) (int64, error) {
	return s.sumAudioBytes(ctx, audioPrefix+bookID+":")
}

func (s *Store) sumAudioBytes(ctx context.Context, prefix string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var total int64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
			total += it.Item().ValueSize()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("sum audio bytes: %w", err)
	}
	return total, nil
}

// CachedChapterCount counts a book's cached chapters for one voice. The
// download status of a book derives from comparing this against its chapter
// count.
func (s *Store) CachedChapterCount(ctx context.Context, bookID string, voice domain.Voice) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	prefix := []byte(audioPrefix + bookID + ":")
	suffix := ":" + string(voice)

	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if strings.HasSuffix(string(it.Item().Key()), suffix) {
				count++
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count cached chapters: %w", err)
	}
	return count, nil
}
