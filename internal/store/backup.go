// Package store persists session snapshots to a single well-known file
// so an interrupted interview can be resumed after a reconnect or app
// restart. Snapshots past the configured age are treated as stale and
// discarded on load.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"medintake/internal/domain"
)

const backupFileName = "intake-session.json"

// FileStore is a SnapshotStore backed by one JSON file under the user
// cache directory.
type FileStore struct {
	path   string
	maxAge time.Duration
	now    func() time.Time
}

func NewFileStore(dir string, maxAge time.Duration) (*FileStore, error) {
	if dir == "" {
		cache, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("could not determine cache directory: %w", err)
		}
		dir = filepath.Join(cache, "medintake")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("could not create snapshot directory: %w", err)
	}

	return &FileStore{
		path:   filepath.Join(dir, backupFileName),
		maxAge: maxAge,
		now:    time.Now,
	}, nil
}

func (s *FileStore) Save(snapshot domain.SessionSnapshot) error {
	if snapshot.Timestamp.IsZero() {
		snapshot.Timestamp = s.now()
	}
	encoded, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := os.WriteFile(s.path, encoded, 0o600); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// Load returns the stored snapshot and whether a fresh one existed.
// Stale or unreadable snapshots are cleared and reported as absent.
func (s *FileStore) Load() (domain.SessionSnapshot, bool, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.SessionSnapshot{}, false, nil
		}
		return domain.SessionSnapshot{}, false, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snapshot domain.SessionSnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		_ = s.Clear()
		return domain.SessionSnapshot{}, false, nil
	}
	if snapshot.Expired(s.now(), s.maxAge) {
		_ = s.Clear()
		return domain.SessionSnapshot{}, false, nil
	}
	return snapshot, true, nil
}

func (s *FileStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to clear snapshot: %w", err)
	}
	return nil
}
