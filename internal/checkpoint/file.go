package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// FileStore keeps the cursor in a local file, written atomically via a
// temp-file rename.
type FileStore struct {
	path string
}

// NewFileStore returns a FileStore at path. The file need not exist yet.
func NewFileStore(path string) *FileStore {
	if path == "" {
		path = DefaultConfig().Path
	}
	return &FileStore{path: path}
}

// Load reads the cursor. A missing file means no checkpoint yet.
func (s *FileStore) Load(_ context.Context) (time.Time, bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("checkpoint: read %s: %w", s.path, err)
	}

	t, err := parseValue(strings.TrimSpace(string(data)))
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w (file %s)", err, s.path)
	}
	return t, true, nil
}

// Save writes the cursor. The rename makes a crash leave either the old
// value or the new one, never a torn write.
func (s *FileStore) Save(_ context.Context, t time.Time) error {
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(t.Format(format)), 0o644); err != nil {
		return fmt.Errorf("checkpoint: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("checkpoint: rename %s: %w", s.path, err)
	}
	return nil
}

// Close is a no-op for the file backend.
func (s *FileStore) Close() error {
	return nil
}
