package tempstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Store hands out scoped working directories under a single root.
type Store struct {
	root string
}

// New returns a Store rooted at root, or at the OS temp directory when root is empty.
func New(root string) *Store {
	if root == "" {
		root = os.TempDir()
	}
	return &Store{root: root}
}

func (s *Store) Root() string { return s.root }

// Acquire creates a fresh working directory whose name starts with prefix.
func (s *Store) Acquire(prefix string) (string, error) {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return "", fmt.Errorf("create temp root %s: %w", s.root, err)
	}
	dir, err := os.MkdirTemp(s.root, prefix+"-*")
	if err != nil {
		return "", fmt.Errorf("create working directory: %w", err)
	}
	return dir, nil
}

// SweepStale removes working directories with prefix left behind by a process that died mid-run.
// Callers must hold the run lock.
func (s *Store) SweepStale(prefix string) (int, error) {
	matches, err := filepath.Glob(filepath.Join(s.root, prefix+"-*"))
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, m := range matches {
		if err := os.RemoveAll(m); err != nil {
			return removed, fmt.Errorf("remove stale directory %s: %w", m, err)
		}
		removed++
	}
	return removed, nil
}

// Save writes data to path, creating parent directories. The write goes through a
// sibling file so a crash never leaves a truncated file at path.
func (s *Store) Save(data []byte, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}
	tmp := path + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

// CleanUp removes a single file. A missing file is not an error.
func (s *Store) CleanUp(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

// DeleteDirectory removes a directory tree. A missing directory is not an error.
func (s *Store) DeleteDirectory(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove directory %s: %w", path, err)
	}
	return nil
}
