package eventbus

import (
	"sync"
	"time"
)

// Event is an in-process notification. Publish never blocks: a subscriber
// whose buffer is full misses the event.
type Event struct {
	Type string
	Time time.Time
	Data any
}

const (
	TypeGenerationCompleted = "generation.completed"
	TypeGenerationFailed    = "generation.failed"

	TypeDeliverySent    = "delivery.sent"
	TypeDeliverySkipped = "delivery.skipped"
	TypeDeliveryFailed  = "delivery.failed"
	TypeDeliveryTick    = "delivery.tick"

	TypeJobStarted  = "job.started"
	TypeJobFinished = "job.finished"
	TypeJobFailed   = "job.failed"

	TypeConfigReloaded = "config.reloaded"
)

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

const defaultBuffer = 8

// New returns a fan-out bus with no goroutines of its own.
func New() Bus {
	return &fanout{}
}

type fanout struct {
	mu   sync.RWMutex
	subs []*sub
}

type sub struct {
	ch chan Event
}

func (b *fanout) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Holding the read lock keeps unsubscribe from closing a channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		select {
		case s.ch <- e:
		default:
		}
	}
}

func (b *fanout) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	s := &sub{ch: make(chan Event, buffer)}
	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	return s.ch, func() { b.drop(s) }
}

func (b *fanout) drop(s *sub) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, cur := range b.subs {
		if cur == s {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			close(s.ch)
			return
		}
	}
}
