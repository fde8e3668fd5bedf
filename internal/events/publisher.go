// Package events publishes the outcome of contact form submissions to
// analytics sinks. Publishing is best-effort: callers log failures and move on.
package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"
	"golang.org/x/sync/errgroup"

	"contact-service/internal/models"
)

// Publisher records one FormEvent.
type Publisher interface {
	Publish(ctx context.Context, event models.FormEvent) error
}

// HashIP pseudonymises a client address so events can be grouped per
// visitor without storing the address itself.
func HashIP(ip string) uint64 {
	if ip == "" {
		return 0
	}
	return murmur3.Sum64([]byte(ip))
}

// Submitted builds the event for an accepted submission.
func Submitted(id, language, ip string, at time.Time) models.FormEvent {
	return models.FormEvent{
		Type:         models.EventFormSubmit,
		SubmissionID: id,
		Language:     language,
		IPHash:       HashIP(ip),
		OccurredAt:   at.UTC(),
	}
}

// Rejected builds the event for a refused submission. reason is a short
// machine-readable code such as "rate_limited" or "honeypot".
func Rejected(reason, ip string, at time.Time) models.FormEvent {
	return models.FormEvent{
		Type:       models.EventFormRejected,
		Reason:     reason,
		IPHash:     HashIP(ip),
		OccurredAt: at.UTC(),
	}
}

// Multi fans an event out to every publisher concurrently. All sinks are
// attempted; their errors are joined.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, event models.FormEvent) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, p := range m {
		if p == nil {
			continue
		}
		g.Go(func() error {
			if err := p.Publish(ctx, event); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, models.FormEvent) error { return nil }
