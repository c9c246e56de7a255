package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	logx "dailyprompt/pkg/logx"
)

func TestMemoryFIFO(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := NewMemory(4, 10)

	for _, id := range []string{"a", "b", "c"} {
		j, err := q.Enqueue(ctx, Job{SubscriberID: id, TargetCount: 3})
		if err != nil {
			t.Fatalf("Enqueue(%s): %v", id, err)
		}
		if j.ID == "" || j.EnqueuedAt.IsZero() {
			t.Fatalf("job defaults not applied: %+v", j)
		}
	}
	if n, _ := q.Len(ctx); n != 3 {
		t.Fatalf("Len = %d, want 3", n)
	}
	for _, want := range []string{"a", "b", "c"} {
		j, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("Dequeue: %v", err)
		}
		if j.SubscriberID != want {
			t.Fatalf("Dequeue = %s, want %s", j.SubscriberID, want)
		}
	}
}

func TestMemoryEnqueueValidation(t *testing.T) {
	t.Parallel()
	q := NewMemory(1, 1)
	ctx := context.Background()
	tests := []struct {
		name string
		job  Job
	}{
		{name: "missing subscriber", job: Job{TargetCount: 1}},
		{name: "zero target", job: Job{SubscriberID: "x"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if _, err := q.Enqueue(ctx, tt.job); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestMemoryFullAndClosed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := NewMemory(1, 1)
	if _, err := q.Enqueue(ctx, Job{SubscriberID: "a", TargetCount: 1}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := q.Enqueue(ctx, Job{SubscriberID: "b", TargetCount: 1}); !errors.Is(err, ErrFull) {
		t.Fatalf("expected ErrFull, got %v", err)
	}
	_ = q.Close()
	if _, err := q.Dequeue(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := q.Enqueue(ctx, Job{SubscriberID: "c", TargetCount: 1}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed on enqueue, got %v", err)
	}
}

func TestMemoryDequeueHonorsContext(t *testing.T) {
	t.Parallel()
	q := NewMemory(1, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := q.Dequeue(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestMemoryDeadLetters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := NewMemory(1, 2)
	for _, id := range []string{"a", "b", "c"} {
		if err := q.Fail(ctx, Job{ID: id}, "boom "+id); err != nil {
			t.Fatalf("Fail: %v", err)
		}
	}
	dead, err := q.DeadLetters(ctx, 0)
	if err != nil {
		t.Fatalf("DeadLetters: %v", err)
	}
	if len(dead) != 2 || dead[0].ID != "c" || dead[1].ID != "b" {
		t.Fatalf("unexpected dead letters: %+v", dead)
	}
	if dead[0].Error != "boom c" || dead[0].FailedAt.IsZero() {
		t.Fatalf("dead letter missing failure info: %+v", dead[0])
	}
}

func TestOpenDrivers(t *testing.T) {
	t.Parallel()
	q, err := Open(Config{}, logx.Nop())
	if err != nil {
		t.Fatalf("Open memory: %v", err)
	}
	if _, ok := q.(*Memory); !ok {
		t.Fatalf("expected memory queue, got %T", q)
	}
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("expected error for redis without url")
	}
	if _, err := Open(Config{Driver: "kafka"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
