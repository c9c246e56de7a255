package engine

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"dailyprompt/internal/eventbus"
	"dailyprompt/internal/queue"
	logx "dailyprompt/pkg/logx"
)

func startEngine(t *testing.T, cfg Config, h Handler) (*Service, *queue.Memory) {
	t.Helper()
	q := queue.NewMemory(16, 16)
	s := New(cfg, q, h, logx.Nop(), eventbus.New())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
		_ = q.Close()
	})
	return s, q
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func enqueue(t *testing.T, q queue.Queue, sub string) queue.Job {
	t.Helper()
	j, err := q.Enqueue(context.Background(), queue.Job{SubscriberID: sub, TargetCount: 5})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return j
}

func TestEngineProcessesJobs(t *testing.T) {
	t.Parallel()
	var seen atomic.Int32
	s, q := startEngine(t, Config{Workers: 3}, func(ctx context.Context, job queue.Job) error {
		seen.Add(1)
		return nil
	})
	for _, sub := range []string{"a", "b", "c", "d"} {
		enqueue(t, q, sub)
	}
	waitFor(t, func() bool { return s.Snapshot(context.Background()).Processed == 4 })
	if seen.Load() != 4 {
		t.Fatalf("handler calls = %d, want 4", seen.Load())
	}
	snap := s.Snapshot(context.Background())
	if !snap.Running || snap.Workers != 3 || len(snap.History) != 4 || snap.Failed != 0 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestEngineRetriesThenSucceeds(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	s, q := startEngine(t, Config{Workers: 1, RetryMax: 2, RetryBase: time.Millisecond, RetryMaxDelay: 5 * time.Millisecond}, func(ctx context.Context, job queue.Job) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	})
	enqueue(t, q, "a")
	waitFor(t, func() bool { return s.Snapshot(context.Background()).Processed == 1 })
	h := s.Snapshot(context.Background()).History
	if h[0].Attempts != 3 || h[0].Error != "" {
		t.Fatalf("unexpected history: %+v", h[0])
	}
}

func TestEngineDeadLettersPermanentFailure(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	s, q := startEngine(t, Config{Workers: 1, RetryMax: 3, RetryBase: time.Millisecond}, func(ctx context.Context, job queue.Job) error {
		calls.Add(1)
		return NoRetry(errors.New("subscriber gone"))
	})
	j := enqueue(t, q, "gone")
	waitFor(t, func() bool { return s.Snapshot(context.Background()).Failed == 1 })
	if calls.Load() != 1 {
		t.Fatalf("handler calls = %d, want 1", calls.Load())
	}
	dead, err := q.DeadLetters(context.Background(), 10)
	if err != nil || len(dead) != 1 {
		t.Fatalf("DeadLetters = %v %v", dead, err)
	}
	if dead[0].ID != j.ID || dead[0].Error != "subscriber gone" {
		t.Fatalf("unexpected dead letter: %+v", dead[0])
	}
}

func TestEngineRecoversPanics(t *testing.T) {
	t.Parallel()
	s, q := startEngine(t, Config{Workers: 1}, func(ctx context.Context, job queue.Job) error {
		if job.SubscriberID == "boom" {
			panic("bad job")
		}
		return nil
	})
	enqueue(t, q, "boom")
	enqueue(t, q, "fine")
	waitFor(t, func() bool {
		snap := s.Snapshot(context.Background())
		return snap.Failed == 1 && snap.Processed == 1
	})
}

func TestCircuitOpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()
	cfg := Config{CircuitTripFailures: 2, CircuitBaseDelay: time.Second, CircuitMaxDelay: 4 * time.Second}.withDefaults()
	var c circuitState
	now := time.Now()
	boom := errors.New("boom")

	c.record(now, cfg, boom)
	if open, _ := c.isOpen(now, cfg); open {
		t.Fatal("circuit opened before trip threshold")
	}
	c.record(now, cfg, boom)
	open, until := c.isOpen(now, cfg)
	if !open || until.Sub(now) != time.Second {
		t.Fatalf("expected 1s cooldown, got open=%v until=%v", open, until.Sub(now))
	}
	c.record(now, cfg, boom)
	c.record(now, cfg, boom)
	c.record(now, cfg, boom)
	if _, until := c.isOpen(now, cfg); until.Sub(now) != 4*time.Second {
		t.Fatalf("cooldown not capped: %v", until.Sub(now))
	}
	if open, _ := c.isOpen(now.Add(5*time.Second), cfg); open {
		t.Fatal("circuit still open after cooldown")
	}
	c.record(now, cfg, nil)
	if open, _ := c.isOpen(now, cfg); open {
		t.Fatal("success did not close circuit")
	}

	disabled := Config{CircuitTripFailures: -1}.withDefaults()
	var d circuitState
	for i := 0; i < 10; i++ {
		d.record(now, disabled, boom)
	}
	if open, _ := d.isOpen(now, disabled); open {
		t.Fatal("disabled breaker opened")
	}
}

func TestBackoffDelay(t *testing.T) {
	t.Parallel()
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second, RetryJitter: 0.0001}.withDefaults()
	rng := rand.New(rand.NewSource(1))
	tests := []struct {
		retry int
		want  time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{6, time.Second},
	}
	for _, tt := range tests {
		got := backoffDelay(cfg, tt.retry, rng)
		diff := got - tt.want
		if diff < 0 {
			diff = -diff
		}
		if diff > time.Millisecond || got > cfg.RetryMaxDelay {
			t.Fatalf("backoffDelay(%d) = %v, want ~%v", tt.retry, got, tt.want)
		}
	}

	if !IsNoRetry(NoRetry(errors.New("x"))) || IsNoRetry(errors.New("x")) {
		t.Fatal("IsNoRetry mismatch")
	}
}
