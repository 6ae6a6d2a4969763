// Package dedup persists the set of processed event ids so a redelivered
// event is never handled twice, even across restarts.
package dedup

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"slackassist/internal/domain"
)

// FileStore keeps claimed ids in memory and mirrors them to a single JSON
// file. Every new claim rewrites the whole file under the same mutex that
// guards the set, so claim and persist form one atomic step for concurrent
// callers. Persist cost grows with the set; fine at webhook volumes.
type FileStore struct {
	path   string
	logger *slog.Logger

	mu  sync.Mutex
	ids map[string]struct{}
}

// NewFileStore loads the persisted set from path. A missing file is an empty
// set; an unreadable or corrupt file is logged and treated as empty, never
// fatal.
func NewFileStore(path string, logger *slog.Logger) *FileStore {
	s := &FileStore{
		path:   path,
		logger: logger,
		ids:    make(map[string]struct{}),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("cannot read processed-events file, starting empty", "path", path, "err", err)
		}
		return s
	}

	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		logger.Warn("processed-events file is corrupt, starting empty", "path", path, "err", err)
		return s
	}
	for _, id := range list {
		s.ids[id] = struct{}{}
	}
	logger.Info("processed-events file loaded", "path", path, "events", len(s.ids))
	return s
}

// TryClaim implements domain.EventStore. When the rewrite fails the claim
// still stands in memory and the error reports the persistence problem.
func (s *FileStore) TryClaim(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ids[id]; ok {
		return false, nil
	}
	s.ids[id] = struct{}{}

	if err := s.persistLocked(); err != nil {
		return true, &domain.PersistenceError{Op: "write", Path: s.path, Err: err}
	}
	return true, nil
}

func (s *FileStore) Contains(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok, nil
}

func (s *FileStore) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids), nil
}

func (s *FileStore) Close() error { return nil }

// persistLocked rewrites the full file through a rename so a crash mid-write
// never leaves a truncated set behind. Callers hold s.mu.
func (s *FileStore) persistLocked() error {
	list := make([]string, 0, len(s.ids))
	for id := range s.ids {
		list = append(list, id)
	}
	sort.Strings(list)

	data, err := json.Marshal(list)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
