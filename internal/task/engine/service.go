package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"dailyprompt/internal/eventbus"
	"dailyprompt/internal/queue"
	rtsup "dailyprompt/internal/runtime/supervisor"
	logx "dailyprompt/pkg/logx"
)

// Service consumes jobs from a queue with a fixed pool of workers.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	log     logx.Logger
	bus     eventbus.Bus
	q       queue.Queue
	handler Handler

	sup *rtsup.Supervisor

	inFlight  atomic.Int32
	processed atomic.Uint64
	failed    atomic.Uint64

	circuit circuitState

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, q queue.Queue, handler Handler, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg.withDefaults(),
		log:     log,
		bus:     bus,
		q:       q,
		handler: handler,
	}
}

// Apply updates retry and breaker settings. Worker count changes take effect
// on the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup != nil
}

// Start launches the workers. It is idempotent.
func (s *Service) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.q == nil || s.handler == nil {
		return errors.New("queue and handler are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return nil
	}
	cfg := s.cfg
	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log),
		rtsup.WithCancelOnError(false),
	)
	for i := 0; i < cfg.Workers; i++ {
		idx := i
		// Workers restart on panic or unexpected exit; a closed queue is a clean stop.
		s.sup.GoRestart(fmt.Sprintf("worker.%d", idx), func(c context.Context) error {
			return s.worker(c, idx)
		}, rtsup.WithPublishFirstError(true))
	}
	s.log.Info("job engine started", logx.Int("workers", cfg.Workers))
	return nil
}

// Stop cancels the workers and waits until they exit or ctx is done.
// A job interrupted mid-run is dead-lettered with the cancellation reason.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return
	}
	if err := sup.Stop(ctx); err != nil && ctx.Err() != nil {
		s.log.Warn("job engine stop timed out", logx.Err(ctx.Err()))
		return
	}
	s.log.Info("job engine stopped")
}

func (s *Service) Snapshot(ctx context.Context) Snapshot {
	cfg := s.config()
	ql := 0
	if s.q != nil {
		if n, err := s.q.Len(ctx); err == nil {
			ql = n
		}
	}
	s.hmu.Lock()
	h := make([]HistoryItem, len(s.history))
	copy(h, s.history)
	s.hmu.Unlock()

	open, until := s.circuit.isOpen(time.Now(), cfg)
	return Snapshot{
		Running:      s.Running(),
		Workers:      cfg.Workers,
		QueueLen:     ql,
		InFlight:     int(s.inFlight.Load()),
		Processed:    s.processed.Load(),
		Failed:       s.failed.Load(),
		CircuitOpen:  open,
		CircuitUntil: until,
		History:      h,
	}
}

func (s *Service) record(item HistoryItem) {
	size := s.config().HistorySize
	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > size {
		s.history = s.history[len(s.history)-size:]
	}
	s.hmu.Unlock()
}
