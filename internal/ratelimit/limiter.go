// Package ratelimit throttles contact form submissions per client IP using
// trailing time windows backed by a shared store.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// RetryAfter is the wait hint returned to throttled clients.
const RetryAfter = 60 * time.Second

// Rule caps the number of submissions in a trailing window.
type Rule struct {
	Window time.Duration
	Limit  int
}

// DefaultRules allow 2 submissions per minute and 5 per ten minutes.
var DefaultRules = []Rule{
	{Window: time.Minute, Limit: 2},
	{Window: 10 * time.Minute, Limit: 5},
}

// Store persists per-key timestamps. Consume must prune, evaluate the rules
// and record now as one atomic step; a rejected attempt is not recorded.
type Store interface {
	Consume(ctx context.Context, key string, now time.Time, rules []Rule) (bool, error)
}

// Limiter decides whether a client may submit the form now.
type Limiter struct {
	store  Store
	rules  []Rule
	now    func() time.Time
	logger *zap.Logger
}

type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// NewLimiter creates a limiter over store. Nil or empty rules fall back to DefaultRules.
func NewLimiter(store Store, rules []Rule, logger *zap.Logger, opts ...Option) *Limiter {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Limiter{
		store:  store,
		rules:  append([]Rule(nil), rules...),
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow reports whether ip may submit now, recording the attempt when it may.
func (l *Limiter) Allow(ctx context.Context, ip string) (bool, error) {
	allowed, err := l.store.Consume(ctx, ip, l.now(), l.rules)
	if err != nil {
		return false, fmt.Errorf("rate limit store: %w", err)
	}
	if !allowed {
		l.logger.Info("Submission throttled", zap.String("ip", ip))
	}
	return allowed, nil
}

// Rules returns a copy of the configured rules.
func (l *Limiter) Rules() []Rule {
	return append([]Rule(nil), l.rules...)
}

func maxWindow(rules []Rule) int64 {
	var longest time.Duration
	for _, r := range rules {
		if r.Window > longest {
			longest = r.Window
		}
	}
	return int64(longest / time.Second)
}

// prune keeps only timestamps newer than now-horizon.
func prune(stamps []int64, now, horizon int64) []int64 {
	kept := stamps[:0:0]
	for _, ts := range stamps {
		if ts > now-horizon {
			kept = append(kept, ts)
		}
	}
	return kept
}

// evaluate applies rules to already pruned stamps and, when allowed, returns
// them with now appended.
func evaluate(stamps []int64, now int64, rules []Rule) ([]int64, bool) {
	for _, r := range rules {
		window := int64(r.Window / time.Second)
		count := 0
		for _, ts := range stamps {
			if ts > now-window {
				count++
			}
		}
		if count >= r.Limit {
			return stamps, false
		}
	}
	return append(stamps, now), true
}
