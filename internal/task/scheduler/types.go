package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"dailyprompt/internal/eventbus"
	rtsup "dailyprompt/internal/runtime/supervisor"
	logx "dailyprompt/pkg/logx"
)

const defaultHistorySize = 50

type Config struct {
	// Timezone is the IANA zone cron expressions are evaluated in. Empty means UTC.
	Timezone    string
	HistorySize int
}

// Job is the work a schedule triggers.
type Job func(ctx context.Context) error

type entry struct {
	name    string
	spec    ParsedSpec
	timeout time.Duration
	job     Job
	busy    atomic.Bool
	cronID  cron.EntryID
}

func (e *entry) display() string {
	if e.spec.Kind == SpecInterval {
		return "@every " + e.spec.Every.String()
	}
	return e.spec.Cron
}

type Service struct {
	mu      sync.Mutex
	cfg     Config
	loc     *time.Location
	c       *cron.Cron
	entries map[string]*entry

	// sup is read by cron callbacks, which must not take mu.
	sup atomic.Pointer[rtsup.Supervisor]

	log logx.Logger
	bus eventbus.Bus

	hmu     sync.Mutex
	history []RunInfo

	skipMu   sync.Mutex
	lastSkip map[string]time.Time
}

type ScheduleInfo struct {
	Name    string
	Kind    SpecKind
	Spec    string
	Timeout time.Duration
	Next    time.Time
	Prev    time.Time
}

// RunInfo records one triggered run.
type RunInfo struct {
	Name     string
	Started  time.Time
	Duration time.Duration
	Error    string
}

type Snapshot struct {
	Running   bool
	Timezone  string
	Schedules []ScheduleInfo
	History   []RunInfo
}
