package service

import (
	"go.uber.org/zap"

	"contact-service/internal/captcha"
	"contact-service/internal/events"
)

// ServiceFactory creates and manages service instances
type ServiceFactory struct {
	limiter   RateLimiter
	verifier  captcha.Verifier
	archive   ArchiveStore
	notifier  Notifier
	publisher events.Publisher
	indexer   Indexer
	searcher  Searcher
	logger    *zap.Logger

	contactService *ContactService
	adminService   *AdminService
}

// ArchiveStore is a backup store usable by both services.
type ArchiveStore interface {
	BackupStore
	Archive
}

// Components groups the collaborators the services are built from. Optional
// members may be nil.
type Components struct {
	Limiter   RateLimiter
	Verifier  captcha.Verifier
	Archive   ArchiveStore
	Notifier  Notifier
	Publisher events.Publisher
	Indexer   Indexer
	Searcher  Searcher
}

// NewServiceFactory creates a new service factory
func NewServiceFactory(c Components, logger *zap.Logger) *ServiceFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ServiceFactory{
		limiter:   c.Limiter,
		verifier:  c.Verifier,
		archive:   c.Archive,
		notifier:  c.Notifier,
		publisher: c.Publisher,
		indexer:   c.Indexer,
		searcher:  c.Searcher,
		logger:    logger,
	}
}

// ContactService returns the contact service instance (singleton)
func (f *ServiceFactory) ContactService() *ContactService {
	if f.contactService == nil {
		opts := []ContactOption{WithPublisher(f.publisher)}
		if f.indexer != nil {
			opts = append(opts, WithIndexer(f.indexer))
		}
		f.contactService = NewContactService(
			f.limiter,
			f.verifier,
			f.archive,
			f.notifier,
			f.logger.Named("contact"),
			opts...,
		)
	}
	return f.contactService
}

// AdminService returns the admin service instance (singleton)
func (f *ServiceFactory) AdminService() *AdminService {
	if f.adminService == nil {
		f.adminService = NewAdminService(f.archive, f.searcher, f.logger.Named("admin"))
	}
	return f.adminService
}
