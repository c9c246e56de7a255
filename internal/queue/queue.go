// Package queue carries generation jobs from producers (subscribe, regenerate)
// to the generation workers.
//
// Drivers:
//   - "memory": in-process buffered queue, lost on restart
//   - "redis":  list-backed queue (LPUSH/BRPOP) with a dead-letter list
package queue

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	logx "dailyprompt/pkg/logx"
)

var (
	ErrClosed = errors.New("queue closed")
	ErrFull   = errors.New("queue full")
)

// Job is the wire form of one generation request.
type Job struct {
	ID           string    `json:"id"`
	SubscriberID string    `json:"subscriber_id"`
	Topics       []string  `json:"topics"`
	Goal         string    `json:"goal"`
	TargetCount  int       `json:"target_count"`
	EnqueuedAt   time.Time `json:"enqueued_at"`

	// Set on dead-lettered jobs.
	Error    string    `json:"error,omitempty"`
	FailedAt time.Time `json:"failed_at,omitempty"`
}

type Config struct {
	Driver        string
	URL           string // redis URL or host:port
	Key           string
	DeadLetterKey string
	PollTimeout   time.Duration // redis BRPOP timeout; bounds shutdown latency
	Size          int           // memory driver capacity
	DeadLetterMax int
}

// Queue is a FIFO of generation jobs. Dequeue blocks until a job is
// available, ctx is done, or the queue is closed.
type Queue interface {
	Enqueue(ctx context.Context, j Job) (Job, error)
	Dequeue(ctx context.Context) (Job, error)
	// Fail records a job that will not be retried.
	Fail(ctx context.Context, j Job, reason string) error
	// DeadLetters returns up to limit failed jobs, newest first.
	DeadLetters(ctx context.Context, limit int) ([]Job, error)
	Len(ctx context.Context) (int, error)
	Close() error
}

const (
	defaultKey           = "dailyprompt:queue:generate"
	defaultDeadLetterKey = "dailyprompt:queue:failed"
)

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Key) == "" {
		c.Key = defaultKey
	}
	if strings.TrimSpace(c.DeadLetterKey) == "" {
		c.DeadLetterKey = defaultDeadLetterKey
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 5 * time.Second
	}
	if c.Size <= 0 {
		c.Size = 256
	}
	if c.DeadLetterMax <= 0 {
		c.DeadLetterMax = 1000
	}
	return c
}

// Open returns the configured queue. An empty driver selects "memory".
func Open(cfg Config, log logx.Logger) (Queue, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return NewMemory(cfg.Size, cfg.DeadLetterMax), nil
	case "redis":
		return openRedis(cfg, log)
	default:
		return nil, errors.New("unknown queue driver: " + cfg.Driver)
	}
}

func prepare(j Job, now time.Time) (Job, error) {
	j.SubscriberID = strings.TrimSpace(j.SubscriberID)
	if j.SubscriberID == "" {
		return j, errors.New("job subscriber id is required")
	}
	if j.TargetCount <= 0 {
		return j, errors.New("job target count must be > 0")
	}
	if strings.TrimSpace(j.ID) == "" {
		j.ID = uuid.NewString()
	}
	if j.EnqueuedAt.IsZero() {
		j.EnqueuedAt = now
	}
	return j, nil
}
