package backup

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper runs Store.Purge out of band: once at start, then every interval.
type Sweeper struct {
	store    *Store
	interval time.Duration
	logger   *zap.Logger
}

func NewSweeper(store *Store, interval time.Duration, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{store: store, interval: interval, logger: logger}
}

// Start launches the sweep loop. The returned channel is closed once the
// loop has exited after ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()
	return done
}

// Run blocks until ctx is cancelled. A non-positive interval sweeps once.
func (s *Sweeper) Run(ctx context.Context) {
	s.sweep(ctx)
	if s.interval <= 0 {
		return
	}

	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	start := time.Now()
	removed, err := s.store.Purge(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("Backup sweep failed", zap.Error(err))
		return
	}
	s.logger.Debug("Backup sweep completed",
		zap.Int("removed", removed),
		zap.Duration("duration", time.Since(start)),
	)
}
