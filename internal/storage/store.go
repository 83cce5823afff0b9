// Package storage provides the durable atomic-write store backing the queue
// and pipeline-state snapshots.
//
// Writes replace the whole file via a temp-file-plus-rename so a crash mid
// write can never leave a partially written snapshot on disk. Writes to the
// same path are serialized: a new write queues behind an in-flight one and
// never interleaves with it, so a reader always observes a complete snapshot.
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Store performs whole-file atomic reads and writes.
type Store struct {
	mu    sync.Mutex
	paths map[string]*sync.Mutex
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{paths: make(map[string]*sync.Mutex)}
}

func (s *Store) pathLock(path string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.paths[path]
	if !ok {
		lock = &sync.Mutex{}
		s.paths[path] = lock
	}
	return lock
}

// Read returns the full contents of path.
func (s *Store) Read(path string) ([]byte, error) {
	lock := s.pathLock(path)
	lock.Lock()
	defer lock.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", path, err)
	}
	return data, nil
}

// Exists reports whether path refers to an existing regular file.
func (s *Store) Exists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat %q: %w", path, err)
	}
	return info.Mode().IsRegular(), nil
}

// AtomicWrite replaces the contents of path in one step. The data is written
// to a temp file in the same directory, synced, then renamed over path.
func (s *Store) AtomicWrite(path string, data []byte) error {
	lock := s.pathLock(path)
	lock.Lock()
	defer lock.Unlock()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ensure directory %q: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
