package syncer

import (
	"context"
	"os"
	"path/filepath"
)

// FileRemote is a filesystem-backed RemoteStore. It serves local development
// and syncing between data directories on one machine; deployments swap in a
// network-backed implementation behind the same interface.
type FileRemote struct {
	Dir string
}

// Put writes the snapshot atomically via rename.
func (f *FileRemote) Put(_ context.Context, userID string, data []byte) error {
	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return err
	}
	tmp := filepath.Join(f.Dir, userID+".snapshot.tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(f.Dir, userID+".snapshot"))
}

// Get reads the stored snapshot. A missing file means no snapshot exists
// yet and returns (nil, nil).
func (f *FileRemote) Get(_ context.Context, userID string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(f.Dir, userID+".snapshot"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}
