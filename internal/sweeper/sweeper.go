// Package sweeper periodically releases expired holds. Store TTLs are the
// real enforcement; the sweep reopens slots and fixes up counters.
package sweeper

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"slotkeeper/internal/concurrency"
)

// Cleaner is implemented by the concurrency manager.
type Cleaner interface {
	Sweep(ctx context.Context, pace concurrency.Pacer) (int, error)
}

// Config holds sweeper settings.
type Config struct {
	Interval time.Duration
	// ReleaseRate caps releases per second within one sweep; 0 disables pacing.
	ReleaseRate  float64
	ReleaseBurst int
}

// DefaultConfig returns a 30 second interval with 50 releases per second.
func DefaultConfig() Config {
	return Config{
		Interval:     30 * time.Second,
		ReleaseRate:  50,
		ReleaseBurst: 10,
	}
}

// Sweeper runs Cleaner.Sweep on a ticker.
type Sweeper struct {
	config  Config
	cleaner Cleaner
	limiter *rate.Limiter
	logger  zerolog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a sweeper.
func New(config Config, cleaner Cleaner, logger zerolog.Logger) *Sweeper {
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	if config.ReleaseBurst <= 0 {
		config.ReleaseBurst = 1
	}

	s := &Sweeper{
		config:  config,
		cleaner: cleaner,
		logger:  logger.With().Str("component", "sweeper").Logger(),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	if config.ReleaseRate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(config.ReleaseRate), config.ReleaseBurst)
	}
	return s
}

// Start runs the sweep loop until ctx is done or Stop is called.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()
	defer close(s.doneCh)

	s.logger.Info().Dur("interval", s.config.Interval).Msg("hold sweeper started")

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("hold sweeper stopped by context")
			return
		case <-s.stopCh:
			s.logger.Info().Msg("hold sweeper stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// Stop stops the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()
	<-s.doneCh
}

// RunOnce performs a single sweep. Errors are logged and swallowed; the
// next tick retries.
func (s *Sweeper) RunOnce(ctx context.Context) int {
	start := time.Now()

	var pace concurrency.Pacer
	if s.limiter != nil {
		pace = s.limiter
	}

	n, err := s.cleaner.Sweep(ctx, pace)
	if err != nil {
		s.logger.Warn().Err(err).Int("released", n).Msg("hold sweep failed")
		return n
	}
	if n > 0 {
		s.logger.Info().Int("released", n).Dur("duration", time.Since(start)).Msg("expired holds released")
	}
	return n
}
