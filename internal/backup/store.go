// Package backup keeps a JSON copy of every accepted contact submission on
// disk, partitioned by month, and purges copies past their retention.
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"contact-service/internal/models"
)

const (
	idPrefix      = "form_"
	monthLayout   = "2006-01"
	dateLayout    = "2006-01-02T15:04:05-07:00"
	markerName    = ".htaccess"
	markerContent = "Order Deny,Allow\nDeny from all\n<Files \"*.json\">\n    Header set X-Robots-Tag \"noindex, nofollow\"\n</Files>\n"

	// DefaultRetention is how long backups are kept.
	DefaultRetention = 90 * 24 * time.Hour
)

var (
	ErrNotFound         = errors.New("backup not found")
	ErrInvalidID        = errors.New("invalid backup id")
	ErrIndexUnavailable = errors.New("backup index unavailable")
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// ListOptions filters Store.List.
type ListOptions struct {
	Month  string // YYYY-MM
	Limit  int
	Offset int
}

func (o ListOptions) limit() int {
	switch {
	case o.Limit <= 0:
		return defaultListLimit
	case o.Limit > maxListLimit:
		return maxListLimit
	default:
		return o.Limit
	}
}

// Store writes one JSON file per submission under <root>/YYYY-MM/.
type Store struct {
	root        string
	index       *Index
	retention   time.Duration
	purgeOnSave bool
	onPurge     PurgeHook
	now         func() time.Time
	logger      *zap.Logger
}

type Option func(*Store)

// PurgeHook receives the ids a Purge removed so copies held elsewhere can be
// dropped with them.
type PurgeHook func(ctx context.Context, ids ...string) error

func WithIndex(index *Index) Option {
	return func(s *Store) { s.index = index }
}

func WithRetention(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.retention = d
		}
	}
}

// WithPurgeOnSave makes every Save run a full Purge afterwards.
func WithPurgeOnSave(enabled bool) Option {
	return func(s *Store) { s.purgeOnSave = enabled }
}

func WithPurgeHook(hook PurgeHook) Option {
	return func(s *Store) { s.onPurge = hook }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// NewStore prepares root and drops the access-denying marker file into it.
func NewStore(root string, opts ...Option) (*Store, error) {
	s := &Store{
		root:      filepath.Clean(root),
		retention: DefaultRetention,
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(s.root, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	marker := filepath.Join(s.root, markerName)
	if _, err := os.Stat(marker); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(marker, []byte(markerContent), 0o640); err != nil {
			return nil, fmt.Errorf("failed to write access marker: %w", err)
		}
	}
	return s, nil
}

func (s *Store) Root() string {
	return s.root
}

func (s *Store) Retention() time.Duration {
	return s.retention
}

// Save persists data received from ip and returns the new backup id.
func (s *Store) Save(ctx context.Context, ip string, data models.Submission) (string, error) {
	now := s.now()

	monthDir := filepath.Join(s.root, now.Format(monthLayout))
	if err := os.MkdirAll(monthDir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create month directory: %w", err)
	}

	id, err := newID()
	if err != nil {
		return "", err
	}

	record := models.BackupRecord{
		ID:        id,
		Timestamp: now.Unix(),
		Date:      now.Format(dateLayout),
		IP:        ip,
		Data:      data,
	}

	path := filepath.Join(monthDir, id+".json")
	if err := writeRecord(path, record); err != nil {
		return "", err
	}

	if s.index != nil {
		entry := models.BackupEntry{
			ID:        id,
			Path:      path,
			IP:        ip,
			Email:     data.Email,
			Language:  data.Language,
			CreatedAt: now,
		}
		if err := s.index.Insert(ctx, entry); err != nil {
			// The file on disk is authoritative; Load falls back to a scan.
			s.logger.Warn("Backup saved but not indexed", zap.String("id", id), zap.Error(err))
		}
	}

	s.logger.Debug("Backup saved", zap.String("id", id), zap.String("path", path))

	if s.purgeOnSave {
		if _, err := s.Purge(ctx); err != nil {
			s.logger.Warn("Purge after save failed", zap.Error(err))
		}
	}
	return id, nil
}

// Load reads the backup with the given id.
func (s *Store) Load(ctx context.Context, id string) (*models.BackupRecord, error) {
	if !ValidID(id) {
		return nil, ErrInvalidID
	}

	path, err := s.locate(ctx, id)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read backup: %w", err)
	}

	var record models.BackupRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("failed to decode backup %s: %w", id, err)
	}
	return &record, nil
}

// List returns indexed backups, newest first.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]models.BackupEntry, error) {
	if s.index == nil {
		return nil, ErrIndexUnavailable
	}
	if opts.Month != "" {
		if _, err := time.Parse(monthLayout, opts.Month); err != nil {
			return nil, fmt.Errorf("invalid month %q: %w", opts.Month, err)
		}
	}
	return s.index.List(ctx, opts)
}

// Purge deletes every .json file under root whose modification time is older
// than the retention period and returns how many were removed.
func (s *Store) Purge(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.retention)

	var removed []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if !info.ModTime().Before(cutoff) {
			return nil
		}

		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
		removed = append(removed, strings.TrimSuffix(d.Name(), ".json"))
		return nil
	})

	if s.index != nil && len(removed) > 0 {
		if ierr := s.index.Delete(ctx, removed...); ierr != nil {
			s.logger.Warn("Failed to drop purged backups from index", zap.Error(ierr))
		}
	}
	if s.onPurge != nil && len(removed) > 0 {
		if herr := s.onPurge(ctx, removed...); herr != nil {
			s.logger.Warn("Failed to drop purged backups from search", zap.Int("count", len(removed)), zap.Error(herr))
		}
	}
	if len(removed) > 0 {
		s.logger.Info("Purged expired backups",
			zap.Int("removed", len(removed)),
			zap.Time("cutoff", cutoff),
		)
	}

	if err != nil {
		return len(removed), fmt.Errorf("backup purge: %w", err)
	}
	return len(removed), nil
}

func (s *Store) locate(ctx context.Context, id string) (string, error) {
	if s.index != nil {
		entry, err := s.index.Get(ctx, id)
		if err == nil {
			return entry.Path, nil
		}
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn("Backup index lookup failed", zap.String("id", id), zap.Error(err))
		}
	}

	matches, err := filepath.Glob(filepath.Join(s.root, "*", id+".json"))
	if err != nil {
		return "", fmt.Errorf("failed to scan backups: %w", err)
	}
	if len(matches) == 0 {
		return "", ErrNotFound
	}
	return matches[0], nil
}

// ValidID reports whether id has the shape produced by Save.
func ValidID(id string) bool {
	rest, ok := strings.CutPrefix(id, idPrefix)
	if !ok {
		return false
	}
	_, err := uuid.Parse(rest)
	return err == nil && len(rest) == 36
}

func newID() (string, error) {
	u, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate backup id: %w", err)
	}
	return idPrefix + u.String(), nil
}

func writeRecord(path string, record models.BackupRecord) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}

	enc := json.NewEncoder(f)
	enc.SetIndent("", "    ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(record); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("failed to write backup: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close backup file: %w", err)
	}
	return nil
}
