package state

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// StateFileExt is appended to the item ID to form a state file name.
const StateFileExt = ".state"

// FileStore keeps one file per script item in a directory.
//
// Writes go to a temporary file that is renamed into place, so a reader
// never sees a partially written snapshot.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed and returns a store
// rooted there.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("file store: data directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("file store: create %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// Path returns the state file path for an item.
func (s *FileStore) Path(itemID uuid.UUID) string {
	return filepath.Join(s.dir, itemID.String()+StateFileExt)
}

func (s *FileStore) Read(_ context.Context, itemID uuid.UUID) ([]byte, error) {
	data, err := os.ReadFile(s.Path(itemID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read state %s: %w", itemID, err)
	}
	return data, nil
}

func (s *FileStore) Write(_ context.Context, itemID uuid.UUID, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, itemID.String()+".*.tmp")
	if err != nil {
		return fmt.Errorf("write state %s: %w", itemID, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write state %s: %w", itemID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write state %s: %w", itemID, err)
	}
	if err := os.Rename(tmpName, s.Path(itemID)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write state %s: %w", itemID, err)
	}
	return nil
}

func (s *FileStore) Remove(_ context.Context, itemID uuid.UUID) error {
	err := os.Remove(s.Path(itemID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove state %s: %w", itemID, err)
	}
	return nil
}

// Close is a no-op.
func (s *FileStore) Close() error {
	return nil
}
