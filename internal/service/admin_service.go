package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"contact-service/internal/backup"
	"contact-service/internal/models"
	"contact-service/internal/search"
	"contact-service/internal/util"
)

// Archive is the read and maintenance side of the backup store.
type Archive interface {
	Load(ctx context.Context, id string) (*models.BackupRecord, error)
	List(ctx context.Context, opts backup.ListOptions) ([]models.BackupEntry, error)
	Purge(ctx context.Context) (int, error)
}

// Searcher runs full-text queries over indexed submissions.
type Searcher interface {
	Search(ctx context.Context, q string, limit, offset int) (*search.Result, error)
}

// AdminService backs the authenticated admin endpoints and the CLI.
type AdminService struct {
	archive  Archive
	searcher Searcher
	logger   *zap.Logger
}

// NewAdminService creates the service. searcher may be nil when
// Elasticsearch is not configured.
func NewAdminService(archive Archive, searcher Searcher, logger *zap.Logger) *AdminService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminService{archive: archive, searcher: searcher, logger: logger}
}

func (s *AdminService) ListSubmissions(ctx context.Context, opts backup.ListOptions) ([]models.BackupEntry, error) {
	if opts.Month != "" {
		if _, err := time.Parse("2006-01", opts.Month); err != nil {
			return nil, fmt.Errorf("%w: month must be YYYY-MM", ErrInvalidInput)
		}
	}
	entries, err := s.archive.List(ctx, opts)
	if err != nil {
		if errors.Is(err, backup.ErrIndexUnavailable) {
			return nil, fmt.Errorf("%w: %v", ErrNotConfigured, err)
		}
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}
	return entries, nil
}

func (s *AdminService) GetSubmission(ctx context.Context, id string) (*models.BackupRecord, error) {
	if !backup.ValidID(id) {
		return nil, fmt.Errorf("%w: malformed id", ErrInvalidInput)
	}
	record, err := s.archive.Load(ctx, id)
	if err != nil {
		if errors.Is(err, backup.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load submission: %w", err)
	}
	return record, nil
}

func (s *AdminService) Search(ctx context.Context, q string, limit, offset int) (*search.Result, error) {
	if s.searcher == nil {
		return nil, ErrSearchOff
	}
	res, err := s.searcher.Search(ctx, q, limit, offset)
	if err != nil {
		if errors.Is(err, search.ErrEmptyQuery) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return nil, fmt.Errorf("search failed: %w", err)
	}
	return res, nil
}

// Sweep purges expired backups immediately.
func (s *AdminService) Sweep(ctx context.Context) (int, error) {
	removed, err := s.archive.Purge(ctx)
	if err != nil {
		return removed, fmt.Errorf("sweep failed: %w", err)
	}
	s.logger.Info("Backup sweep completed", util.Int("removed", removed))
	return removed, nil
}
