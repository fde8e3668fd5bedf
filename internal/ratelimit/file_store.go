package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FileStore keeps the IP -> timestamps map in a JSON file. The whole
// load-check-write sequence runs under an in-process mutex and an exclusive
// advisory lock on "<path>.lock", so concurrent processes sharing the file
// cannot interleave between the check and the write.
type FileStore struct {
	path   string
	mu     sync.Mutex
	logger *zap.Logger
}

// NewFileStore creates the parent directory of path if needed.
func NewFileStore(path string, logger *zap.Logger) (*FileStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create rate limit directory: %w", err)
	}
	return &FileStore{path: path, logger: logger}, nil
}

func (s *FileStore) Consume(ctx context.Context, key string, now time.Time, rules []Rule) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := lockFile(s.path + ".lock")
	if err != nil {
		return false, err
	}
	defer unlock()

	entries := s.load()
	ts := now.Unix()
	pruneAll(entries, ts, maxWindow(rules))

	stamps, allowed := evaluate(entries[key], ts, rules)
	if !allowed {
		return false, nil
	}
	entries[key] = stamps

	if err := s.save(entries); err != nil {
		return false, err
	}
	return true, nil
}

// load returns an empty map when the file is missing or unreadable.
func (s *FileStore) load() map[string][]int64 {
	entries := make(map[string][]int64)

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("Failed to read rate limit file", zap.String("path", s.path), zap.Error(err))
		}
		return entries
	}
	if len(data) == 0 {
		return entries
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		s.logger.Warn("Discarding corrupt rate limit file", zap.String("path", s.path), zap.Error(err))
		return make(map[string][]int64)
	}
	return entries
}

func (s *FileStore) save(entries map[string][]int64) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode rate limits: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".rate_limits-*")
	if err != nil {
		return fmt.Errorf("failed to create temp rate limit file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write rate limits: %w", err)
	}
	if err := tmp.Chmod(0o640); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod rate limits: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close rate limits: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace rate limit file: %w", err)
	}
	return nil
}
