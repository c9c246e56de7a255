package queue

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Queue backed by a buffered channel.
type Memory struct {
	ch chan Job

	mu      sync.Mutex
	closed  chan struct{}
	dead    []Job
	deadMax int
}

func NewMemory(size, deadMax int) *Memory {
	if size <= 0 {
		size = 256
	}
	if deadMax <= 0 {
		deadMax = 1000
	}
	return &Memory{ch: make(chan Job, size), closed: make(chan struct{}), deadMax: deadMax}
}

// Enqueue does not block: a full queue returns ErrFull.
func (m *Memory) Enqueue(ctx context.Context, j Job) (Job, error) {
	j, err := prepare(j, time.Now())
	if err != nil {
		return j, err
	}
	select {
	case <-m.closed:
		return j, ErrClosed
	default:
	}
	select {
	case m.ch <- j:
		return j, nil
	case <-ctx.Done():
		return j, ctx.Err()
	default:
		return j, ErrFull
	}
}

func (m *Memory) Dequeue(ctx context.Context) (Job, error) {
	// Closed wins over buffered work.
	select {
	case <-m.closed:
		return Job{}, ErrClosed
	default:
	}
	select {
	case j := <-m.ch:
		return j, nil
	case <-m.closed:
		return Job{}, ErrClosed
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

func (m *Memory) Fail(ctx context.Context, j Job, reason string) error {
	_ = ctx
	j.Error = reason
	j.FailedAt = time.Now()
	m.mu.Lock()
	m.dead = append(m.dead, j)
	if len(m.dead) > m.deadMax {
		m.dead = m.dead[len(m.dead)-m.deadMax:]
	}
	m.mu.Unlock()
	return nil
}

func (m *Memory) DeadLetters(ctx context.Context, limit int) ([]Job, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.dead)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Job, 0, limit)
	for i := n - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.dead[i])
	}
	return out, nil
}

func (m *Memory) Len(ctx context.Context) (int, error) {
	_ = ctx
	return len(m.ch), nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case <-m.closed:
	default:
		close(m.closed)
	}
	return nil
}
