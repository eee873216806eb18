// Package maintenance runs periodic housekeeping on access grants.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultExpirySchedule sweeps once an hour.
const DefaultExpirySchedule = "@hourly"

// ExpiryStore flips due grants to expired.
type ExpiryStore interface {
	ExpireDueGrants(ctx context.Context, now time.Time) (int, error)
}

// ExpiryRecorder receives the number of grants each sweep expired.
type ExpiryRecorder interface {
	RecordGrantsExpired(n int)
}

// ExpiryScheduler periodically expires active grants whose end date has passed.
type ExpiryScheduler struct {
	store    ExpiryStore
	schedule string
	recorder ExpiryRecorder
	now      func() time.Time
	cron     *cron.Cron
	logger   zerolog.Logger
	mu       sync.Mutex
	running  bool
}

// NewExpiryScheduler creates a new expiry scheduler. An empty schedule uses
// DefaultExpirySchedule and a nil recorder disables recording.
func NewExpiryScheduler(store ExpiryStore, schedule string, recorder ExpiryRecorder, logger zerolog.Logger) *ExpiryScheduler {
	if schedule == "" {
		schedule = DefaultExpirySchedule
	}
	return &ExpiryScheduler{
		store:    store,
		schedule: schedule,
		recorder: recorder,
		now:      time.Now,
		cron:     cron.New(cron.WithLocation(time.UTC)),
		logger:   logger.With().Str("component", "grant_expiry").Logger(),
	}
}

// Start begins the expiry schedule.
func (s *ExpiryScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("expiry scheduler already running")
	}

	if _, err := s.cron.AddFunc(s.schedule, s.runSweep); err != nil {
		return fmt.Errorf("schedule expiry sweep %q: %w", s.schedule, err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().Str("schedule", s.schedule).Msg("expiry scheduler started")
	return nil
}

// Stop stops the scheduler. The returned context is done once a running
// sweep has finished.
func (s *ExpiryScheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}

	s.running = false
	s.logger.Info().Msg("stopping expiry scheduler")
	return s.cron.Stop()
}

func (s *ExpiryScheduler) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if _, err := s.RunNow(ctx); err != nil {
		s.logger.Error().Err(err).Msg("expiry sweep failed")
	}
}

// RunNow expires every due grant immediately and returns how many flipped.
func (s *ExpiryScheduler) RunNow(ctx context.Context) (int, error) {
	n, err := s.store.ExpireDueGrants(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("expire due grants: %w", err)
	}

	if s.recorder != nil {
		s.recorder.RecordGrantsExpired(n)
	}
	if n > 0 {
		s.logger.Info().Int("expired", n).Msg("expired due grants")
	} else {
		s.logger.Debug().Msg("no grants due for expiry")
	}
	return n, nil
}
