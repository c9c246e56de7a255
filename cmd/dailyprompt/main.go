package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"

	"dailyprompt/internal/app"
	logx "dailyprompt/pkg/logx"
	"dailyprompt/pkg/systemd"
)

const usage = `usage: dailyprompt [-config path] [-env path] <command> [flags]

commands:
  run            run generation workers and the delivery schedule (default)
  subscribe      add a subscriber and generate their prompts
  regenerate     replace a subscriber's prompts from their stored profile
  send           deliver a subscriber's next prompt now
  prompts        print a subscriber's prompts and cursor
  list           print all subscribers
  tick           run one delivery pass for a given instant
  dead-letters   print failed generation jobs
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	global := flag.NewFlagSet("dailyprompt", flag.ContinueOnError)
	global.Usage = func() { fmt.Fprint(os.Stderr, usage); global.PrintDefaults() }
	cfgPath := global.String("config", "./config.json", "path to config file (.json, .yaml)")
	envPath := global.String("env", ".env", "optional dotenv file with secrets")
	if err := global.Parse(args); err != nil {
		return 2
	}

	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "env:", err)
		return 1
	}

	cmd, rest := "run", global.Args()
	if len(rest) > 0 {
		cmd, rest = rest[0], rest[1:]
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		return 1
	}

	if cmd == "run" {
		return serve(ctx, a)
	}

	err = dispatch(ctx, a, cmd, rest)
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	_ = a.Stop(stopCtx, app.StopCommandDone)
	stopCancel()
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

func serve(ctx context.Context, a *app.App) int {
	log := a.Logger()
	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		_ = a.Stop(context.Background(), app.StopFatalError)
		return 1
	}
	systemd.Ready(log)
	go func() {
		if err := systemd.Watchdog(ctx, log); err != nil {
			log.Warn("systemd watchdog unavailable", logx.Err(err))
		}
	}()

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		if a.Err() != nil {
			reason = app.StopFatalError
		}
	}
	systemd.Stopping(log)

	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = a.Stop(stopCtx, reason)
	if err := a.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		return 1
	}
	return 0
}

func dispatch(ctx context.Context, a *app.App, cmd string, args []string) error {
	fset := flag.NewFlagSet(cmd, flag.ContinueOnError)
	mode := func(queued bool) app.GenerateMode {
		// A memory queue dies with this process; generate in place instead.
		if queued && a.QueueDurable() {
			return app.GenerateQueued
		}
		return app.GenerateInline
	}

	switch cmd {
	case "subscribe":
		email := fset.String("email", "", "subscriber email (required)")
		name := fset.String("name", "", "first name used in the greeting")
		topics := fset.String("topics", "", "comma-separated topics")
		goal := fset.String("goal", "", "journaling goal")
		tz := fset.String("tz", "", "IANA timezone, e.g. Asia/Jakarta (default UTC)")
		queued := fset.Bool("queue", false, "enqueue generation for the running workers")
		if err := fset.Parse(args); err != nil {
			return err
		}
		sub, err := a.Subscribe(ctx, app.SubscribeInput{
			Email:     *email,
			FirstName: *name,
			Topics:    strings.Split(*topics, ","),
			Goal:      *goal,
			Timezone:  *tz,
		}, mode(*queued))
		if err != nil {
			return err
		}
		return printJSON(summarize(sub.ID, sub.Email, sub.Timezone, len(sub.Items), sub.Cursor))

	case "regenerate":
		id := fset.String("id", "", "subscriber id (required)")
		queued := fset.Bool("queue", false, "enqueue generation for the running workers")
		if err := fset.Parse(args); err != nil {
			return err
		}
		if err := a.Regenerate(ctx, *id, mode(*queued)); err != nil {
			return err
		}
		sub, err := a.Subscriber(ctx, *id)
		if err != nil {
			return err
		}
		return printJSON(summarize(sub.ID, sub.Email, sub.Timezone, len(sub.Items), sub.Cursor))

	case "send":
		id := fset.String("id", "", "subscriber id (required)")
		if err := fset.Parse(args); err != nil {
			return err
		}
		res, err := a.SendNow(ctx, *id)
		if err != nil {
			return err
		}
		return printJSON(res)

	case "prompts":
		id := fset.String("id", "", "subscriber id (required)")
		if err := fset.Parse(args); err != nil {
			return err
		}
		sub, err := a.Subscriber(ctx, *id)
		if err != nil {
			return err
		}
		return printJSON(sub)

	case "list":
		if err := fset.Parse(args); err != nil {
			return err
		}
		subs, err := a.Subscribers(ctx)
		if err != nil {
			return err
		}
		out := make([]map[string]any, 0, len(subs))
		for _, s := range subs {
			out = append(out, summarize(s.ID, s.Email, s.Timezone, len(s.Items), s.Cursor))
		}
		return printJSON(out)

	case "tick":
		at := fset.String("at", "", "RFC3339 instant to evaluate (default now)")
		if err := fset.Parse(args); err != nil {
			return err
		}
		now := time.Now()
		if s := strings.TrimSpace(*at); s != "" {
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				return fmt.Errorf("-at: %w", err)
			}
			now = t
		}
		rep, err := a.Tick(ctx, now)
		if err != nil {
			return err
		}
		return printJSON(rep)

	case "dead-letters":
		limit := fset.Int("limit", 20, "max jobs to print")
		if err := fset.Parse(args); err != nil {
			return err
		}
		jobs, err := a.DeadLetters(ctx, *limit)
		if err != nil {
			return err
		}
		return printJSON(jobs)

	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func summarize(id, email, tz string, items, cursor int) map[string]any {
	return map[string]any{"id": id, "email": email, "timezone": tz, "items": items, "cursor": cursor}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
