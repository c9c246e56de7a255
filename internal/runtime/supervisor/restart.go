package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	logx "dailyprompt/pkg/logx"
)

// A run that lasted this long resets the backoff to its minimum.
const stableRun = 30 * time.Second

// RestartOption tunes GoRestart.
type RestartOption func(*restartPolicy)

type restartPolicy struct {
	min, max     time.Duration
	limit        int // 0 = unlimited
	untilSuccess bool
	reportFirst  bool
}

// WithRestartBackoff bounds the delay between restarts.
func WithRestartBackoff(min, max time.Duration) RestartOption {
	return func(p *restartPolicy) {
		if min > 0 {
			p.min = min
		}
		if max > 0 {
			p.max = max
		}
	}
}

// WithMaxRestarts gives up after n restarts. The first run is not counted.
func WithMaxRestarts(n int) RestartOption { return func(p *restartPolicy) { p.limit = n } }

// WithPublishFirstError records the first failure in Err while still restarting.
func WithPublishFirstError(enabled bool) RestartOption {
	return func(p *restartPolicy) { p.reportFirst = enabled }
}

// WithStopOnCleanExit ends the loop when fn returns nil. Default true.
func WithStopOnCleanExit(enabled bool) RestartOption {
	return func(p *restartPolicy) { p.untilSuccess = enabled }
}

func (p restartPolicy) delay(cur time.Duration) time.Duration {
	if spread := int64(cur) / 5; spread > 0 {
		cur += time.Duration(rand.Int64N(spread + 1))
	}
	return cur
}

// GoRestart keeps fn running: an error, a panic or (with
// WithStopOnCleanExit(false)) a clean return triggers another run after a
// jittered exponential backoff. Only the final give-up error reaches Err,
// unless WithPublishFirstError is set.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	p := restartPolicy{min: 250 * time.Millisecond, max: 30 * time.Second, untilSuccess: true}
	for _, o := range opts {
		o(&p)
	}
	p.max = max(p.max, p.min)

	s.Go(name+".restart", func(ctx context.Context) error {
		backoff := p.min
		for restarts := 0; ; restarts++ {
			began := s.noteStart(name, restarts > 0)
			err := s.runGuarded(ctx, name, fn)
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				s.noteStop(name, began, nil)
				return nil
			}
			if err == nil {
				if p.untilSuccess {
					s.noteStop(name, began, nil)
					return nil
				}
				err = errors.New("exited")
			}
			err = fmt.Errorf("%s: %w", name, err)
			s.noteStop(name, began, err)
			if p.reportFirst {
				s.recordErr(err)
			}

			if p.limit > 0 && restarts >= p.limit {
				s.log.Error("goroutine gave up", logx.String("name", name), logx.Int("restarts", restarts), logx.Err(err))
				return err
			}
			if time.Since(began) >= stableRun {
				backoff = p.min
			}
			wait := p.delay(backoff)
			s.log.Warn("goroutine restarting", logx.String("name", name), logx.Duration("backoff", wait), logx.Err(err))
			if !sleep(ctx, wait) {
				return nil
			}
			backoff = min(backoff*2, p.max)
		}
	})
}

// runGuarded calls fn and turns a panic into an error.
func (s *Supervisor) runGuarded(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	pan, err := s.call(ctx, name, fn)
	if pan != nil {
		return fmt.Errorf("panic: %v", pan)
	}
	return err
}
