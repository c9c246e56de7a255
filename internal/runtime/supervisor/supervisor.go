// Package supervisor runs named goroutines under one cancelable context with
// panic recovery, optional restart loops and timeout-aware shutdown.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	logx "dailyprompt/pkg/logx"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    logx.Logger

	// fatal cancels ctx on the first goroutine error.
	fatal bool

	errMu    sync.Mutex
	firstErr error

	wg      sync.WaitGroup
	idle    chan struct{}
	idleSet sync.Once

	started atomic.Uint64
	active  atomic.Int64

	mu    sync.Mutex
	stats map[string]*Stats
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError cancels the shared context on the first non-nil error.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.fatal = enabled }
}

func NewSupervisor(parent context.Context, opts ...Option) *Supervisor {
	if parent == nil {
		parent = context.Background()
	}
	s := &Supervisor{
		idle:  make(chan struct{}),
		stats: make(map[string]*Stats),
	}
	s.ctx, s.cancel = context.WithCancel(parent)
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the shared context without waiting.
func (s *Supervisor) Cancel() { s.cancel() }

// Err returns the first recorded goroutine error.
func (s *Supervisor) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.firstErr
}

func (s *Supervisor) recordErr(err error) {
	s.errMu.Lock()
	if s.firstErr == nil {
		s.firstErr = err
	}
	s.errMu.Unlock()
}

// Go runs fn once in its own goroutine. A returned context.Canceled counts
// as a clean exit; a panic is recovered and recorded as an error.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.started.Add(1)
	s.active.Add(1)
	s.wg.Add(1)
	go func() {
		defer func() {
			s.active.Add(-1)
			s.wg.Done()
		}()

		began := s.noteStart(name, false)
		pan, err := s.call(s.ctx, name, fn)
		switch {
		case pan != nil:
			err = fmt.Errorf("panic in %s: %v", name, pan)
		case errors.Is(err, context.Canceled):
			err = nil
		case err != nil:
			err = fmt.Errorf("%s: %w", name, err)
		}
		s.noteStop(name, began, err)
		if err == nil {
			return
		}
		s.recordErr(err)
		if s.fatal {
			s.cancel()
		}
	}()
}

func (s *Supervisor) call(ctx context.Context, name string, fn func(ctx context.Context) error) (pan any, err error) {
	defer func() {
		if pan = recover(); pan != nil {
			s.notePanic(name, pan)
			s.log.Error("goroutine panicked", logx.String("name", name), logx.Any("panic", pan), logx.String("stack", string(debug.Stack())))
		}
	}()
	return nil, fn(ctx)
}

// Stop cancels the shared context and waits for all goroutines.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until every goroutine has returned or ctx is done. It returns
// ctx.Err() on timeout, otherwise Err().
func (s *Supervisor) Wait(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.idleSet.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.idle)
		}()
	})
	select {
	case <-s.idle:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
