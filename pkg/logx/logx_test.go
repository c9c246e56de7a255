package logx

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	kit "dailyprompt/internal/transport"
)

type captureSender struct {
	mu   sync.Mutex
	sent []string
	got  chan struct{}
}

func (c *captureSender) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	c.mu.Lock()
	c.sent = append(c.sent, text)
	c.mu.Unlock()
	select {
	case c.got <- struct{}{}:
	default:
	}
	return kit.MessageRef{}, nil
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.With(String("k", "v")).Info("dropped")
	if Nop().IsZero() {
		t.Fatal("Nop must not be zero")
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{" WARNING ", zerolog.WarnLevel},
		{"Error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"loud", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in, zerolog.InfoLevel); got != tt.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFormatAlert(t *testing.T) {
	t.Parallel()
	got := formatAlert([]byte(`{"level":"error","time":"x","comp":"delivery","err":"smtp down","message":"send failed"}`))
	want := "[ERROR] send failed\n- comp=delivery\n- err=smtp down"
	if got != want {
		t.Fatalf("formatAlert = %q, want %q", got, want)
	}
	if got := formatAlert([]byte("plain text\n")); got != "plain text" {
		t.Fatalf("non-json alert = %q", got)
	}
	if got := clip(strings.Repeat("a", 20), 12); got != "aaaaaaaaa..." {
		t.Fatalf("clip = %q", got)
	}
}

func TestServiceForwardsAlertsAboveMinLevel(t *testing.T) {
	t.Parallel()
	cs := &captureSender{got: make(chan struct{}, 4)}
	svc, log := New(Config{
		Level:  "debug",
		Alerts: AlertConfig{Enabled: true, ChatID: 42, MinLevel: "error", RatePerSec: 10},
	}, cs)
	defer svc.Close()

	log.Warn("ignored")
	log.Component("engine").Error("job failed", Err(context.DeadlineExceeded))

	select {
	case <-cs.got:
	case <-time.After(2 * time.Second):
		t.Fatal("alert not sent")
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if len(cs.sent) != 1 || !strings.HasPrefix(cs.sent[0], "[ERROR] job failed") || !strings.Contains(cs.sent[0], "comp=engine") {
		t.Fatalf("unexpected alerts: %q", cs.sent)
	}
	if !log.Enabled(LevelDebug) {
		t.Fatal("debug should be enabled")
	}
}
