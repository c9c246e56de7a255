package logx

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	kit "dailyprompt/internal/transport"
)

const (
	alertQueueSize = 256
	alertMaxLen    = 3500
	alertFieldLen  = 600
	alertTimeout   = 10 * time.Second
)

type alert struct {
	to   kit.ChatTarget
	text string
}

// alertSink is a zerolog.LevelWriter that forwards qualifying events to an
// operator chat from a background goroutine. Writes never block.
type alertSink struct {
	sender kit.Sender
	queue  chan alert

	mu      sync.Mutex
	to      kit.ChatTarget
	min     zerolog.Level
	limiter *rate.Limiter

	start  sync.Once
	cancel context.CancelFunc
	done   chan struct{}
}

func newAlertSink(sender kit.Sender) *alertSink {
	return &alertSink{sender: sender, queue: make(chan alert, alertQueueSize), done: make(chan struct{})}
}

func (a *alertSink) configure(cfg AlertConfig) {
	rps := max(cfg.RatePerSec, 1)
	a.mu.Lock()
	a.to = kit.ChatTarget{ChatID: cfg.ChatID, ThreadID: cfg.ThreadID}
	a.min = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	a.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	a.mu.Unlock()

	if cfg.Enabled {
		a.start.Do(func() {
			ctx, cancel := context.WithCancel(context.Background())
			a.cancel = cancel
			go a.loop(ctx)
		})
	}
}

func (a *alertSink) loop(ctx context.Context) {
	defer close(a.done)
	for {
		select {
		case <-ctx.Done():
			return
		case it := <-a.queue:
			sctx, cancel := context.WithTimeout(ctx, alertTimeout)
			_, _ = a.sender.SendText(sctx, it.to, it.text, &kit.SendOptions{DisablePreview: true})
			cancel()
		}
	}
}

func (a *alertSink) close() {
	if a.cancel == nil {
		return
	}
	a.cancel()
	<-a.done
}

func (a *alertSink) Write(p []byte) (int, error) { return a.WriteLevel(zerolog.InfoLevel, p) }

func (a *alertSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	a.mu.Lock()
	to, minLevel, lim := a.to, a.min, a.limiter
	a.mu.Unlock()

	if to.ChatID == 0 || level < minLevel || !lim.Allow() {
		return len(p), nil
	}
	if text := formatAlert(p); text != "" {
		select {
		case a.queue <- alert{to: to, text: text}:
		default:
		}
	}
	return len(p), nil
}

// formatAlert renders one JSON log line as "[LEVEL] message" followed by a
// "- key=value" line per remaining field, in log order.
func formatAlert(p []byte) string {
	if !gjson.ValidBytes(p) {
		return clip(strings.TrimSpace(string(p)), alertMaxLen)
	}
	doc := gjson.ParseBytes(p)
	var b strings.Builder
	if lvl := doc.Get(zerolog.LevelFieldName).String(); lvl != "" {
		b.WriteString("[" + strings.ToUpper(lvl) + "] ")
	}
	b.WriteString(doc.Get(zerolog.MessageFieldName).String())
	doc.ForEach(func(k, v gjson.Result) bool {
		switch k.String() {
		case zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName:
			return true
		}
		b.WriteString("\n- " + k.String() + "=" + clip(v.String(), alertFieldLen))
		return true
	})
	return clip(b.String(), alertMaxLen)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n < 10 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
