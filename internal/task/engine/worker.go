package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"time"

	"dailyprompt/internal/eventbus"
	"dailyprompt/internal/queue"
	logx "dailyprompt/pkg/logx"
)

const dequeueErrorPause = time.Second

func (s *Service) worker(ctx context.Context, idx int) error {
	// Per-worker RNG: avoids global lock contention when many jobs retry concurrently.
	rng := rand.New(rand.NewSource(time.Now().UnixNano() ^ (int64(idx) << 32)))

	for {
		if err := s.waitCircuit(ctx); err != nil {
			return err
		}
		job, err := s.q.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Warn("dequeue failed", logx.Int("worker", idx), logx.Err(err))
			if err := sleepCtx(ctx, dequeueErrorPause); err != nil {
				return err
			}
			continue
		}
		s.inFlight.Add(1)
		s.execOne(ctx, job, rng)
		s.inFlight.Add(-1)
	}
}

// waitCircuit blocks while the breaker is open.
func (s *Service) waitCircuit(ctx context.Context) error {
	for {
		open, until := s.circuit.isOpen(time.Now(), s.config())
		if !open {
			return nil
		}
		s.log.Debug("consumer paused: circuit open", logx.Time("until", until))
		if err := sleepCtx(ctx, time.Until(until)); err != nil {
			return err
		}
	}
}

func (s *Service) execOne(ctx context.Context, job queue.Job, rng *rand.Rand) {
	cfg := s.config()
	start := time.Now()
	queueDelay := time.Duration(0)
	if !job.EnqueuedAt.IsZero() {
		queueDelay = start.Sub(job.EnqueuedAt)
		if queueDelay < 0 {
			queueDelay = 0
		}
	}

	s.log.Debug("job started", logx.String("job", job.ID), logx.String("subscriber", job.SubscriberID), logx.Duration("queue_delay", queueDelay))
	s.publish(eventbus.TypeJobStarted, start, JobEvent{ID: job.ID, SubscriberID: job.SubscriberID, Started: start, QueueDelay: queueDelay})

	var err error
	attempts := 0
	maxAttempts := 1 + cfg.RetryMax
attemptLoop:
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt
		err = s.runOnce(ctx, job, cfg.Timeout)
		if err == nil {
			break
		}
		if cause, ok := permanentCause(err); ok {
			err = cause
			break
		}
		if attempt >= maxAttempts || ctx.Err() != nil {
			break
		}

		delay := backoffDelay(cfg, attempt, rng)
		s.log.Debug("job retry scheduled", logx.String("job", job.ID), logx.Int("attempt", attempt+1), logx.Duration("delay", delay), logx.Err(err))
		if werr := sleepCtx(ctx, delay); werr != nil {
			err = fmt.Errorf("%w: %v", ErrStopped, err)
			break attemptLoop
		}
	}

	dur := time.Since(start)
	item := HistoryItem{ID: job.ID, SubscriberID: job.SubscriberID, Started: start, QueueDelay: queueDelay, Duration: dur, Attempts: attempts}
	ev := JobEvent{ID: job.ID, SubscriberID: job.SubscriberID, Started: start, QueueDelay: queueDelay, Duration: dur, Attempts: attempts}
	if err != nil {
		item.Error = err.Error()
		ev.Error = item.Error
	}
	s.record(item)

	if err != nil {
		s.log.Warn("job failed", logx.String("job", job.ID), logx.String("subscriber", job.SubscriberID), logx.Int("attempts", attempts), logx.Duration("dur", dur), logx.Err(err))
		// The consumer context may already be canceled; the dead-letter write must still land.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if ferr := s.q.Fail(fctx, job, item.Error); ferr != nil {
			s.log.Error("dead-letter write failed", logx.String("job", job.ID), logx.Err(ferr))
		}
		cancel()
		s.failed.Add(1)
		s.publish(eventbus.TypeJobFailed, time.Now(), ev)
	} else {
		s.processed.Add(1)
		s.log.Info("job completed", logx.String("job", job.ID), logx.String("subscriber", job.SubscriberID), logx.Int("attempts", attempts), logx.Duration("dur", dur))
		s.publish(eventbus.TypeJobFinished, time.Now(), ev)
	}

	// Shutdown interruptions say nothing about downstream health.
	if !errors.Is(err, ErrStopped) && ctx.Err() == nil {
		s.circuit.record(time.Now(), cfg, err)
	}
}

// runOnce runs the handler once with a timeout and converts panics to errors.
func (s *Service) runOnce(ctx context.Context, job queue.Job, timeout time.Duration) (err error) {
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("job panic", logx.String("job", job.ID), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	return s.handler(runCtx, job)
}

func (s *Service) publish(typ string, at time.Time, ev JobEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: at, Data: ev})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tmr.C:
		return nil
	}
}

func backoffDelay(cfg Config, retry int, rng *rand.Rand) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < retry; i++ {
		d *= 2
		if d > cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	return jitter(d, cfg.RetryJitter, cfg.RetryMaxDelay, rng)
}

func jitter(d time.Duration, j float64, maxD time.Duration, rng *rand.Rand) time.Duration {
	if d > maxD {
		d = maxD
	}
	if j > 0 && d > 0 && rng != nil {
		r := (rng.Float64()*2 - 1) * j
		d = time.Duration(float64(d) * (1 + r))
		if d < 0 {
			d = 0
		}
	}
	if d > maxD {
		d = maxD
	}
	return d
}
