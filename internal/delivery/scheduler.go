package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"dailyprompt/internal/eventbus"
	"dailyprompt/internal/storage"
	"dailyprompt/internal/task/scheduler"
	logx "dailyprompt/pkg/logx"
)

const (
	DefaultSendAt  = "06:00"
	DefaultWorkers = 4
)

type Config struct {
	// SendAt is the local wall-clock delivery time, HH:MM.
	SendAt  string
	Workers int
	// RatePerSecond caps sends across all workers. 0 disables the limit.
	RatePerSecond float64
	Burst         int
}

func (c Config) withDefaults() Config {
	if c.SendAt == "" {
		c.SendAt = DefaultSendAt
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	return c
}

// Report summarizes one tick.
type Report struct {
	At          time.Time     `json:"at"`
	Matched     []string      `json:"matched"`
	Invalid     []string      `json:"invalid,omitempty"`
	Subscribers int           `json:"subscribers"`
	Delivered   int           `json:"delivered"`
	Skipped     int           `json:"skipped"`
	Failed      int           `json:"failed"`
	// Canceled counts subscribers not attempted because ctx ended mid-tick.
	Canceled    int           `json:"canceled,omitempty"`
	Duration    time.Duration `json:"duration"`
}

type Scheduler struct {
	mu           sync.Mutex
	cfg          Config
	hour, minute int
	limiter      *rate.Limiter

	store storage.Store
	exec  *Executor
	log   logx.Logger
	bus   eventbus.Bus
}

func NewScheduler(cfg Config, store storage.Store, exec *Executor, log logx.Logger, bus eventbus.Bus) (*Scheduler, error) {
	if store == nil || exec == nil {
		return nil, errors.New("store and executor are required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Scheduler{store: store, exec: exec, log: log, bus: bus}
	if err := s.Apply(cfg); err != nil {
		return nil, err
	}
	return s, nil
}

// Apply swaps the delivery time, pool size and send rate.
func (s *Scheduler) Apply(cfg Config) error {
	cfg = cfg.withDefaults()
	h, m, err := scheduler.ParseHHMM(cfg.SendAt)
	if err != nil {
		return fmt.Errorf("delivery send_at: %w", err)
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	s.mu.Lock()
	s.cfg = cfg
	s.hour, s.minute = h, m
	if s.limiter == nil {
		s.limiter = rate.NewLimiter(limit, cfg.Burst)
	} else {
		s.limiter.SetLimit(limit)
		s.limiter.SetBurst(cfg.Burst)
	}
	s.mu.Unlock()
	return nil
}

// RunOnce delivers to every subscriber whose timezone reads the delivery time at now.
// Per-subscriber failures are counted in the report, never returned.
func (s *Scheduler) RunOnce(ctx context.Context, now time.Time) (Report, error) {
	s.mu.Lock()
	cfg, hour, minute, limiter := s.cfg, s.hour, s.minute, s.limiter
	s.mu.Unlock()

	start := time.Now()
	rep := Report{At: now}
	labels, err := s.store.Timezones(ctx)
	if err != nil {
		return rep, fmt.Errorf("list timezones: %w", err)
	}
	rep.Matched, rep.Invalid = MatchTimezones(now, labels, hour, minute)
	for _, label := range rep.Invalid {
		s.log.Warn("unknown timezone label", logx.String("tz", label))
	}
	if len(rep.Matched) == 0 {
		s.log.Debug("no timezone at delivery time", logx.Time("now", now), logx.Int("labels", len(labels)))
		rep.Duration = time.Since(start)
		return rep, nil
	}

	subs, err := s.store.ListByTimezones(ctx, rep.Matched)
	if err != nil {
		return rep, fmt.Errorf("list subscribers: %w", err)
	}
	rep.Subscribers = len(subs)

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, cfg.Workers)
	)
	count := func(st Status, err error) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case err != nil:
			rep.Failed++
		case st == StatusSkipped:
			rep.Skipped++
		default:
			rep.Delivered++
		}
	}

	dispatched := 0
	for _, sub := range subs {
		if ctx.Err() != nil {
			break
		}
		dispatched++
		sub := sub
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("delivery panic", logx.String("subscriber", sub.ID), logx.Any("panic", r))
					count("", fmt.Errorf("panic: %v", r))
				}
			}()
			if len(sub.Items) > 0 {
				if err := limiter.Wait(ctx); err != nil {
					count("", err)
					return
				}
			}
			res, err := s.exec.Deliver(ctx, sub)
			count(res.Status, err)
		}()
	}
	wg.Wait()
	rep.Canceled = len(subs) - dispatched
	if rep.Canceled > 0 {
		s.log.Warn("delivery tick interrupted", logx.Int("canceled", rep.Canceled), logx.Err(ctx.Err()))
	}

	rep.Duration = time.Since(start)
	s.log.Info("delivery tick done",
		logx.Strings("timezones", rep.Matched),
		logx.Int("subscribers", rep.Subscribers),
		logx.Int("delivered", rep.Delivered),
		logx.Int("skipped", rep.Skipped),
		logx.Int("failed", rep.Failed),
		logx.Int("canceled", rep.Canceled),
		logx.Duration("dur", rep.Duration),
	)
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeDeliveryTick, Time: time.Now(), Data: rep})
	}
	return rep, nil
}
