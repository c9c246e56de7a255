package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"dailyprompt/internal/eventbus"
	"dailyprompt/internal/storage"
	logx "dailyprompt/pkg/logx"
)

// Config tunes the batching loop.
type Config struct {
	TargetCount    int // used when a Request carries no count
	BatchSize      int
	MaxAttempts    int
	MaxPromptChars int
}

const (
	DefaultTargetCount    = 365
	DefaultBatchSize      = 100
	DefaultMaxAttempts    = 3
	DefaultMaxPromptChars = 150
)

func (c Config) withDefaults() Config {
	if c.TargetCount <= 0 {
		c.TargetCount = DefaultTargetCount
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.MaxPromptChars <= 0 {
		c.MaxPromptChars = DefaultMaxPromptChars
	}
	return c
}

// Request asks for a fresh prompt collection for one subscriber.
type Request struct {
	SubscriberID string
	Topics       []string
	Goal         string
	TargetCount  int
}

// GenerationFailure means the service did not yield enough items within the
// attempt budget. Nothing is persisted when it is returned.
type GenerationFailure struct {
	Reason    string
	Attempts  int
	Collected int
	Err       error // last attempt error, if any
}

func (e *GenerationFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("generation failed: %s (collected %d): %v", e.Reason, e.Collected, e.Err)
	}
	return fmt.Sprintf("generation failed: %s (collected %d)", e.Reason, e.Collected)
}

func (e *GenerationFailure) Unwrap() error { return e.Err }

var errNoItems = errors.New("no parseable items in response")

// Worker runs generation requests. It holds no per-request state and is safe
// for concurrent use.
type Worker struct {
	client Client
	store  storage.Store
	cfg    Config
	log    logx.Logger
	bus    eventbus.Bus
}

// NewWorker wires a worker. store and bus may be nil when only Generate is used.
func NewWorker(client Client, store storage.Store, cfg Config, log logx.Logger, bus eventbus.Bus) *Worker {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Worker{client: client, store: store, cfg: cfg.withDefaults(), log: log, bus: bus}
}

// Generate returns exactly targetCount items in the order they were produced.
//
// A batch counts as a failed attempt when the client errors or the response
// repairs to zero items. Items from successful batches are kept across
// attempts. After MaxAttempts failed attempts a *GenerationFailure is returned.
func (w *Worker) Generate(ctx context.Context, topics []string, goal string, targetCount int) ([]storage.Item, error) {
	if targetCount <= 0 {
		return nil, fmt.Errorf("target count must be > 0, got %d", targetCount)
	}
	if w.client == nil {
		return nil, errors.New("generator: no client configured")
	}

	// targetCount can arrive from a queued payload; do not size by it blindly.
	acc := make([]storage.Item, 0, min(targetCount, max(w.cfg.TargetCount, w.cfg.BatchSize)))
	failed := 0
	var lastErr error
	for len(acc) < targetCount {
		if failed >= w.cfg.MaxAttempts {
			return nil, &GenerationFailure{
				Reason:    fmt.Sprintf("insufficient items after %d attempts", failed),
				Attempts:  failed,
				Collected: len(acc),
				Err:       lastErr,
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n := min(w.cfg.BatchSize, targetCount-len(acc))
		raw, err := w.client.Complete(ctx, BuildInstruction(n, topics, goal, w.cfg.MaxPromptChars))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			failed++
			lastErr = err
			w.log.Warn("batch failed", logx.Int("attempt", failed), logx.Int("requested", n), logx.Err(err))
			continue
		}

		items := w.accept(Repair(raw))
		if len(items) == 0 {
			failed++
			lastErr = errNoItems
			w.log.Warn("batch unparseable", logx.Int("attempt", failed), logx.Int("requested", n), logx.Int("raw_len", len(raw)))
			continue
		}
		acc = append(acc, items...)
		w.log.Debug("batch accepted", logx.Int("requested", n), logx.Int("got", len(items)), logx.Int("total", len(acc)))
	}

	// The last batch may overshoot; trim from the end.
	return acc[:targetCount:targetCount], nil
}

// accept drops items over the length cap.
func (w *Worker) accept(items []storage.Item) []storage.Item {
	out := items[:0]
	for _, it := range items {
		if utf8.RuneCountInString(it.Prompt) > w.cfg.MaxPromptChars {
			continue
		}
		out = append(out, it)
	}
	return out
}

// Run generates items for req and replaces the subscriber's stored collection.
// The delivery cursor is not touched.
func (w *Worker) Run(ctx context.Context, req Request) error {
	if w.store == nil {
		return storage.ErrDisabled
	}
	id := strings.TrimSpace(req.SubscriberID)
	if _, err := w.store.Get(ctx, id); err != nil {
		return fmt.Errorf("load subscriber %s: %w", id, err)
	}
	target := req.TargetCount
	if target <= 0 {
		target = w.cfg.TargetCount
	}

	start := time.Now()
	log := w.log.With(logx.String("subscriber", id), logx.Int("target", target))
	log.Info("generation started")

	items, err := w.Generate(ctx, req.Topics, req.Goal, target)
	if err != nil {
		log.Warn("generation failed", logx.Err(err), logx.Duration("dur", time.Since(start)))
		w.publish(eventbus.TypeGenerationFailed, GenerationEvent{SubscriberID: id, Target: target, Error: err.Error()})
		return err
	}
	if err := w.store.Update(ctx, id, storage.Patch{Items: &items}); err != nil {
		return fmt.Errorf("store items for %s: %w", id, err)
	}

	log.Info("generation completed", logx.Int("items", len(items)), logx.Duration("dur", time.Since(start)))
	w.publish(eventbus.TypeGenerationCompleted, GenerationEvent{SubscriberID: id, Target: target, Items: len(items), Duration: time.Since(start)})
	return nil
}

// GenerationEvent is published on the event bus when a run ends.
type GenerationEvent struct {
	SubscriberID string        `json:"subscriber_id"`
	Target       int           `json:"target"`
	Items        int           `json:"items"`
	Duration     time.Duration `json:"duration"`
	Error        string        `json:"error,omitempty"`
}

func (w *Worker) publish(typ string, data GenerationEvent) {
	if w.bus == nil {
		return
	}
	w.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
}
