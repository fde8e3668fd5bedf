package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"contact-service/internal/captcha"
	"contact-service/internal/events"
	"contact-service/internal/models"
	"contact-service/internal/util"
)

// RateLimiter decides whether a client may submit now.
type RateLimiter interface {
	Allow(ctx context.Context, ip string) (bool, error)
}

// BackupStore persists accepted submissions.
type BackupStore interface {
	Save(ctx context.Context, ip string, data models.Submission) (string, error)
}

// Notifier sends the two contact emails.
type Notifier interface {
	NotifyOwner(ctx context.Context, sub models.Submission, ip string) error
	Acknowledge(ctx context.Context, sub models.Submission) error
}

// Indexer makes accepted submissions searchable.
type Indexer interface {
	IndexSubmission(ctx context.Context, id, ip string, sub models.Submission, at time.Time) error
}

// SubmitResult is the outcome of an accepted submission.
type SubmitResult struct {
	ID        string
	SentOwner bool
	SentAck   bool
}

// ContactService runs the submission pipeline: rate limit, validation,
// CAPTCHA, backup, then best-effort mail, events and indexing.
type ContactService struct {
	limiter   RateLimiter
	verifier  captcha.Verifier
	store     BackupStore
	notifier  Notifier
	publisher events.Publisher
	indexer   Indexer
	now       func() time.Time
	logger    *zap.Logger
}

type ContactOption func(*ContactService)

func WithPublisher(p events.Publisher) ContactOption {
	return func(s *ContactService) {
		if p != nil {
			s.publisher = p
		}
	}
}

func WithIndexer(i Indexer) ContactOption {
	return func(s *ContactService) { s.indexer = i }
}

func WithClock(now func() time.Time) ContactOption {
	return func(s *ContactService) { s.now = now }
}

// NewContactService wires the pipeline. A nil verifier makes every submission
// fail with ErrNotConfigured.
func NewContactService(
	limiter RateLimiter,
	verifier captcha.Verifier,
	store BackupStore,
	notifier Notifier,
	logger *zap.Logger,
	opts ...ContactOption,
) *ContactService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &ContactService{
		limiter:   limiter,
		verifier:  verifier,
		store:     store,
		notifier:  notifier,
		publisher: events.Nop{},
		now:       time.Now,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit processes one raw form body from ip. The returned error is one of
// the package sentinels (possibly wrapped) or an internal failure.
func (s *ContactService) Submit(ctx context.Context, ip string, body []byte) (*SubmitResult, error) {
	if s.verifier == nil {
		s.logger.Error("RECAPTCHA_SECRET_KEY is not configured")
		return nil, ErrNotConfigured
	}

	allowed, err := s.limiter.Allow(ctx, ip)
	if err != nil {
		return nil, fmt.Errorf("rate limit check: %w", err)
	}
	if !allowed {
		s.reject(ctx, ReasonRateLimited, ip)
		return nil, ErrRateLimited
	}

	sub, err := ParseSubmission(body)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			s.reject(ctx, verr.Reason, ip)
		}
		return nil, err
	}

	ok, err := s.verifier.Verify(ctx, sub.Token, ip)
	if err != nil {
		return nil, fmt.Errorf("captcha verification: %w", err)
	}
	if !ok {
		s.reject(ctx, ReasonCaptcha, ip)
		return nil, ErrCaptchaFailed
	}

	id, err := s.store.Save(ctx, ip, sub)
	if err != nil {
		return nil, fmt.Errorf("backup save: %w", err)
	}

	result := &SubmitResult{ID: id}
	s.sendMails(ctx, sub, ip, result)

	at := s.now()
	if err := s.publisher.Publish(ctx, events.Submitted(id, sub.Language, ip, at)); err != nil {
		s.logger.Warn("Failed to publish submission event", util.String("id", id), util.ErrorField(err))
	}
	if s.indexer != nil {
		if err := s.indexer.IndexSubmission(ctx, id, ip, sub, at); err != nil {
			s.logger.Warn("Failed to index submission", util.String("id", id), util.ErrorField(err))
		}
	}

	s.logger.Info("Contact form submission accepted",
		util.String("id", id),
		util.String("language", sub.Language),
		util.Bool("sent_owner", result.SentOwner),
		util.Bool("sent_ack", result.SentAck),
	)
	return result, nil
}

// sendMails sends both emails concurrently. Failures are logged only.
func (s *ContactService) sendMails(ctx context.Context, sub models.Submission, ip string, result *SubmitResult) {
	if s.notifier == nil {
		return
	}

	var g errgroup.Group
	g.Go(func() error {
		if err := s.notifier.NotifyOwner(ctx, sub, ip); err != nil {
			s.logger.Warn("Erreur envoi email propriétaire", util.ErrorField(err))
			return nil
		}
		result.SentOwner = true
		return nil
	})
	g.Go(func() error {
		if err := s.notifier.Acknowledge(ctx, sub); err != nil {
			s.logger.Warn("Erreur envoi accusé de réception", util.ErrorField(err))
			return nil
		}
		result.SentAck = true
		return nil
	})
	_ = g.Wait()
}

func (s *ContactService) reject(ctx context.Context, reason, ip string) {
	s.logger.Info("Contact form submission rejected", util.String("reason", reason))
	if err := s.publisher.Publish(ctx, events.Rejected(reason, ip, s.now())); err != nil {
		s.logger.Warn("Failed to publish rejection event", util.ErrorField(err))
	}
}
