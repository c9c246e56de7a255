package engine

import (
	"context"
	"time"

	"dailyprompt/internal/queue"
)

// Config controls the queue consumer.
type Config struct {
	Workers int

	// Timeout bounds one attempt of a job. 0 means no limit.
	Timeout time.Duration

	HistorySize int

	// Retry policy for a single job before it is dead-lettered.
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	RetryJitter   float64 // 0.2 = 20%

	// Circuit breaker (consecutive-failure based).
	//
	// If CircuitTripFailures < 0, the circuit breaker is disabled.
	// If CircuitTripFailures == 0, a default is applied.
	CircuitTripFailures int
	CircuitBaseDelay    time.Duration
	CircuitMaxDelay     time.Duration
	CircuitResetAfter   time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 15 * time.Second
	}
	if c.RetryJitter <= 0 {
		c.RetryJitter = 0.2
	}
	if c.CircuitTripFailures == 0 {
		c.CircuitTripFailures = 5
	}
	if c.CircuitBaseDelay <= 0 {
		c.CircuitBaseDelay = 5 * time.Second
	}
	if c.CircuitMaxDelay <= 0 {
		c.CircuitMaxDelay = 2 * time.Minute
	}
	if c.CircuitResetAfter <= 0 {
		c.CircuitResetAfter = 5 * time.Minute
	}
	return c
}

// Handler processes one dequeued job.
type Handler func(ctx context.Context, job queue.Job) error

type HistoryItem struct {
	ID           string
	SubscriberID string
	Started      time.Time
	QueueDelay   time.Duration
	Duration     time.Duration
	Attempts     int
	Error        string
}

// JobEvent is emitted on the event bus for job lifecycle events.
type JobEvent struct {
	ID           string        `json:"id"`
	SubscriberID string        `json:"subscriber_id"`
	Started      time.Time     `json:"started"`
	QueueDelay   time.Duration `json:"queue_delay"`
	Duration     time.Duration `json:"duration"`
	Attempts     int           `json:"attempts"`
	Error        string        `json:"error,omitempty"`
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Running   bool
	Workers   int
	QueueLen  int
	InFlight  int
	Processed uint64
	Failed    uint64

	CircuitOpen  bool
	CircuitUntil time.Time

	History []HistoryItem
}
