package scheduler

import (
	"context"
	"fmt"
	"time"

	"dailyprompt/internal/eventbus"
	logx "dailyprompt/pkg/logx"
)

// Overlap skips for one schedule are logged at most this often.
const skipLogEvery = 5 * time.Minute

// RunNow triggers name outside its schedule. The overlap guard still applies.
func (s *Service) RunNow(name string) error {
	s.mu.Lock()
	e, ok := s.entries[name]
	running := s.c != nil
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("schedule %q not found", name)
	}
	if !running {
		return fmt.Errorf("scheduler not running")
	}
	s.fire(e)
	return nil
}

// fire is the cron callback. It must not block or take s.mu.
func (s *Service) fire(e *entry) {
	if !e.busy.CompareAndSwap(false, true) {
		s.noteSkip(e.name)
		return
	}
	sup := s.sup.Load()
	if sup == nil {
		e.busy.Store(false)
		return
	}
	sup.Go("schedule."+e.name, func(ctx context.Context) error {
		s.run(ctx, e)
		return nil
	})
}

func (s *Service) run(ctx context.Context, e *entry) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	err := call(ctx, e.job)
	info := RunInfo{Name: e.name, Started: start, Duration: time.Since(start)}
	// Free the guard before recording so a follow-up trigger is never skipped.
	e.busy.Store(false)

	typ := eventbus.TypeJobFinished
	if err != nil {
		info.Error = err.Error()
		typ = eventbus.TypeJobFailed
		s.log.Warn("schedule run failed", logx.String("schedule", e.name), logx.Duration("dur", info.Duration), logx.Err(err))
	} else {
		s.log.Debug("schedule run completed", logx.String("schedule", e.name), logx.Duration("dur", info.Duration))
	}
	s.record(info)
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: info})
	}
}

func call(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return job(ctx)
}

func (s *Service) record(info RunInfo) {
	s.mu.Lock()
	limit := s.cfg.HistorySize
	s.mu.Unlock()
	if limit <= 0 {
		limit = defaultHistorySize
	}
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, info)
	if over := len(s.history) - limit; over > 0 {
		s.history = s.history[over:]
	}
}

func (s *Service) noteSkip(name string) {
	now := time.Now()
	s.skipMu.Lock()
	last, seen := s.lastSkip[name]
	if seen && now.Sub(last) < skipLogEvery {
		s.skipMu.Unlock()
		return
	}
	s.lastSkip[name] = now
	s.skipMu.Unlock()
	s.log.Warn("schedule trigger skipped: previous run still in flight", logx.String("schedule", name))
}
