package app

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"dailyprompt/internal/delivery"
	"dailyprompt/internal/generator"
	"dailyprompt/internal/queue"
	"dailyprompt/internal/storage"
	logx "dailyprompt/pkg/logx"
)

// SubscribeInput is the profile collected at sign-up.
type SubscribeInput struct {
	Email     string
	FirstName string
	Topics    []string
	Goal      string
	Timezone  string
}

// GenerateMode picks where a generation request runs.
type GenerateMode int

const (
	// GenerateQueued hands the request to the job queue.
	GenerateQueued GenerateMode = iota
	// GenerateInline runs the batching loop in the caller's goroutine.
	GenerateInline
)

// Subscribe validates and stores a new subscriber, then requests their first
// prompt collection.
func (a *App) Subscribe(ctx context.Context, in SubscribeInput, mode GenerateMode) (storage.Subscriber, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(in.Email))
	if err != nil {
		return storage.Subscriber{}, fmt.Errorf("invalid email %q: %w", in.Email, err)
	}
	tz := strings.TrimSpace(in.Timezone)
	if tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return storage.Subscriber{}, fmt.Errorf("invalid timezone %q: %w", tz, err)
		}
	}
	sub := storage.Subscriber{
		Email:     addr.Address,
		FirstName: strings.TrimSpace(in.FirstName),
		Topics:    cleanTopics(in.Topics),
		Goal:      strings.TrimSpace(in.Goal),
		Timezone:  tz,
	}
	if err := a.store.Create(ctx, &sub); err != nil {
		return storage.Subscriber{}, err
	}
	a.log.Info("subscriber created", logx.String("subscriber", sub.ID), logx.String("tz", sub.Timezone), logx.Int("topics", len(sub.Topics)))

	if err := a.requestGeneration(ctx, sub, mode); err != nil {
		return sub, err
	}
	if mode == GenerateInline {
		return a.store.Get(ctx, sub.ID)
	}
	return sub, nil
}

// Regenerate replaces a subscriber's prompt collection using their stored
// profile. The delivery cursor is kept.
func (a *App) Regenerate(ctx context.Context, id string, mode GenerateMode) error {
	sub, err := a.store.Get(ctx, strings.TrimSpace(id))
	if err != nil {
		return err
	}
	return a.requestGeneration(ctx, sub, mode)
}

func (a *App) requestGeneration(ctx context.Context, sub storage.Subscriber, mode GenerateMode) error {
	if mode == GenerateInline {
		return a.worker.Run(ctx, generator.Request{
			SubscriberID: sub.ID,
			Topics:       sub.Topics,
			Goal:         sub.Goal,
		})
	}
	job, err := a.queue.Enqueue(ctx, queue.Job{
		SubscriberID: sub.ID,
		Topics:       sub.Topics,
		Goal:         sub.Goal,
	})
	if err != nil {
		return fmt.Errorf("enqueue generation: %w", err)
	}
	a.log.Info("generation queued", logx.String("subscriber", sub.ID), logx.String("job", job.ID))
	return nil
}

// SendNow delivers the subscriber's next prompt immediately, outside the
// timezone schedule.
func (a *App) SendNow(ctx context.Context, id string) (delivery.Result, error) {
	return a.exec.DeliverByID(ctx, id)
}

// Subscriber returns the stored subscriber including their prompt collection.
func (a *App) Subscriber(ctx context.Context, id string) (storage.Subscriber, error) {
	return a.store.Get(ctx, strings.TrimSpace(id))
}

// Subscribers lists every stored subscriber.
func (a *App) Subscribers(ctx context.Context) ([]storage.Subscriber, error) {
	return a.store.ListAll(ctx)
}

// Tick runs one delivery pass as if the schedule fired at now.
func (a *App) Tick(ctx context.Context, now time.Time) (delivery.Report, error) {
	return a.deliv.RunOnce(ctx, now)
}

// DeadLetters returns up to limit failed generation jobs, newest first.
func (a *App) DeadLetters(ctx context.Context, limit int) ([]queue.Job, error) {
	return a.queue.DeadLetters(ctx, limit)
}

// QueueDurable reports whether queued jobs survive this process exiting.
// One-shot commands should generate inline when it is false.
func (a *App) QueueDurable() bool {
	return a.queueDriver == "redis"
}

func cleanTopics(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, t := range in {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		k := strings.ToLower(t)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, t)
	}
	return out
}
