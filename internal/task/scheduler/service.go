package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"dailyprompt/internal/eventbus"
	rtsup "dailyprompt/internal/runtime/supervisor"
	logx "dailyprompt/pkg/logx"
)

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:      cfg,
		log:      log,
		bus:      bus,
		entries:  map[string]*entry{},
		lastSkip: map[string]time.Time{},
	}
}

// Running reports whether Start has been called without a matching Stop.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c != nil
}

// Apply swaps the config. A timezone change re-registers every schedule.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tzChanged := strings.TrimSpace(s.cfg.Timezone) != strings.TrimSpace(cfg.Timezone)
	s.cfg = cfg
	if s.c != nil && tzChanged {
		<-s.c.Stop().Done()
		s.startCronLocked()
		s.log.Info("scheduler timezone changed", logx.String("tz", s.loc.String()))
	}
}

// Start begins triggering registered schedules. Jobs run under ctx.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.sup.Store(rtsup.NewSupervisor(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false)))
	s.startCronLocked()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.entries)))
}

func (s *Service) startCronLocked() {
	s.loc = s.locationLocked()
	s.c = cron.New(cron.WithLocation(s.loc))
	for _, e := range s.entries {
		s.scheduleLocked(e)
	}
	s.c.Start()
}

// Stop stops triggering and waits for in-flight runs until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}

	start := time.Now()
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	if sup := s.sup.Swap(nil); sup != nil {
		if err := sup.Stop(ctx); err != nil && ctx.Err() != nil {
			s.log.Warn("scheduler stop timed out waiting for runs", logx.Err(ctx.Err()))
		}
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) locationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; using UTC", logx.String("tz", tz), logx.Err(err))
		return time.UTC
	}
	return loc
}
