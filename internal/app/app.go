package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"dailyprompt/internal/config"
	"dailyprompt/internal/delivery"
	"dailyprompt/internal/eventbus"
	"dailyprompt/internal/generator"
	"dailyprompt/internal/mailer"
	"dailyprompt/internal/queue"
	rtsup "dailyprompt/internal/runtime/supervisor"
	"dailyprompt/internal/storage"
	"dailyprompt/internal/task/engine"
	"dailyprompt/internal/task/scheduler"
	kit "dailyprompt/internal/transport"
	"dailyprompt/internal/transport/telegram"
	logx "dailyprompt/pkg/logx"
)

// deliveryJobName is the scheduler entry that runs the delivery tick.
const deliveryJobName = "delivery.tick"

// App wires configuration, storage, the generation pipeline and the delivery
// scheduler into one process.
type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store  storage.Store
	queue  queue.Queue
	worker *generator.Worker
	exec   *delivery.Executor
	deliv  *delivery.Scheduler
	engine *engine.Service
	sched  *scheduler.Service

	queueDriver string

	mu      sync.Mutex
	trigger deliveryTrigger
}

// New loads cfgPath and builds every component. Nothing runs until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	var alerts kit.Sender
	if tok := cfg.Telegram.ResolvedToken(); tok != "" {
		ad, err := telegram.New(telegram.Config{Token: tok})
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		alerts = ad
	}
	logSvc, root := logx.New(mapLoggingConfig(cfg), alerts)
	log := root.Component("app")

	a := &App{
		cfgm: cfgm,
		log:  log,
		logs: logSvc,
		bus:  eventbus.New(),
	}
	if err := a.build(cfg, root); err != nil {
		a.closeResources()
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config, root logx.Logger) error {
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return err
	}
	store, err := storage.Open(sc, root.Component("storage"))
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	a.store = store
	a.log.Info("storage opened", logx.String("driver", sc.Driver))

	qc, err := mapQueueConfig(cfg)
	if err != nil {
		return err
	}
	q, err := queue.Open(qc, root.Component("queue"))
	if err != nil {
		return fmt.Errorf("queue: %w", err)
	}
	a.queue = q
	a.queueDriver = strings.ToLower(strings.TrimSpace(qc.Driver))

	cc, err := mapClientConfig(cfg)
	if err != nil {
		return err
	}
	client, err := generator.NewClient(cc)
	if err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	a.worker = generator.NewWorker(client, store, mapGeneratorConfig(cfg), root.Component("generator"), a.bus)

	mc, err := mapMailerConfig(cfg)
	if err != nil {
		return err
	}
	sender, err := mailer.New(mc, root.Component("mailer"))
	if err != nil {
		return fmt.Errorf("mail: %w", err)
	}
	a.exec = delivery.NewExecutor(store, sender, mailer.NewComposer(cfg.Mail.Subject), root.Component("delivery"), a.bus)
	a.deliv, err = delivery.NewScheduler(mapDeliveryConfig(cfg), store, a.exec, root.Component("delivery"), a.bus)
	if err != nil {
		return err
	}

	ec, err := mapEngineConfig(cfg)
	if err != nil {
		return err
	}
	a.engine = engine.New(ec, q, a.handleJob, root.Component("engine"), a.bus)

	a.sched = scheduler.New(mapSchedulerConfig(cfg), root.Component("scheduler"), a.bus)
	if err := a.sched.AddSchedule(statusJobName, statusSchedule, 10*time.Second, a.heartbeat); err != nil {
		return err
	}
	trig, err := mapDeliveryTrigger(cfg)
	if err != nil {
		return err
	}
	return a.registerDelivery(trig)
}

// registerDelivery adds or replaces the delivery tick schedule.
func (a *App) registerDelivery(trig deliveryTrigger) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.trigger == trig {
		return nil
	}
	if err := a.sched.AddSchedule(deliveryJobName, trig.Schedule, trig.Timeout, func(ctx context.Context) error {
		_, err := a.deliv.RunOnce(ctx, time.Now())
		return err
	}); err != nil {
		return fmt.Errorf("delivery schedule: %w", err)
	}
	a.trigger = trig
	return nil
}

// handleJob runs one queued generation job. Failures that retrying cannot fix
// skip the engine's retry loop and go straight to the dead-letter list.
func (a *App) handleJob(ctx context.Context, job queue.Job) error {
	err := a.worker.Run(ctx, generator.Request{
		SubscriberID: job.SubscriberID,
		Topics:       job.Topics,
		Goal:         job.Goal,
		TargetCount:  job.TargetCount,
	})
	if err == nil {
		return nil
	}
	var gf *generator.GenerationFailure
	if errors.As(err, &gf) || errors.Is(err, storage.ErrNotFound) {
		return engine.NoRetry(err)
	}
	return err
}

// Logger returns the root application logger.
func (a *App) Logger() logx.Logger { return a.log }

// Bus returns the in-process event bus.
func (a *App) Bus() eventbus.Bus { return a.bus }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start runs the generation workers, the delivery trigger and the config
// watcher until ctx is done or Stop is called.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// Reloads are validated as a whole before anything is applied.
	a.cfgm.SetLogger(a.log.Component("config"))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := config.Validate(cfg); err != nil {
			return err
		}
		if _, err := mapEngineConfig(cfg); err != nil {
			return err
		}
		_, err := mapDeliveryTrigger(cfg)
		return err
	})

	if err := a.engine.Start(a.sup.Context()); err != nil {
		return err
	}
	a.sched.Start(a.sup.Context())

	if a.bus != nil {
		events, unsub := a.bus.Subscribe(128)
		a.sup.Go("eventbus.log", func(c context.Context) error {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return nil
				case e, ok := <-events:
					if !ok {
						return nil
					}
					// Debug only; deliveries publish one event per subscriber.
					a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				}
			}
		})
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// applyConfig pushes a validated reload into the running components. Storage,
// queue, llm and mail sections need a restart.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.log.Debug("config change summary", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)

	for _, s := range sections {
		switch s {
		case "storage", "queue", "llm", "mail", "telegram":
			a.log.Warn("config section changed; restart required for it to take effect", logx.String("section", s))
		}
	}

	a.logs.Apply(mapLoggingConfig(newCfg))

	if ec, err := mapEngineConfig(newCfg); err != nil {
		a.log.Warn("invalid generation config; keeping previous", logx.Err(err))
	} else {
		a.engine.Apply(ec)
	}

	if err := a.deliv.Apply(mapDeliveryConfig(newCfg)); err != nil {
		a.log.Warn("invalid delivery config; keeping previous", logx.Err(err))
	}
	if trig, err := mapDeliveryTrigger(newCfg); err != nil {
		a.log.Warn("invalid delivery schedule; keeping previous", logx.Err(err))
	} else if err := a.registerDelivery(trig); err != nil {
		a.log.Warn("delivery schedule not replaced", logx.Err(err))
	}
	a.sched.Apply(mapSchedulerConfig(newCfg))

	a.log.Info("config reloaded", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)
	if a.bus != nil {
		a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReloaded, Time: time.Now(), Data: sections})
	}
}

// Stop shuts the app down in dependency order. It is also the cleanup path
// for one-shot commands that never called Start.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if a.sup != nil {
		a.sup.Cancel()
	}

	// step runs one shutdown stage with an upper bound so a stuck component
	// cannot stall the rest.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	// The trigger goes first so no new tick starts while workers drain.
	step("scheduler", 5*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("engine", 5*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("queue", 1*time.Second, func(context.Context) error {
		if a.queue != nil {
			return a.queue.Close()
		}
		return nil
	})
	step("storage", 2*time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	if a.sup != nil {
		step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	}

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// closeResources releases what build opened when construction fails midway.
func (a *App) closeResources() {
	if a.queue != nil {
		_ = a.queue.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}
