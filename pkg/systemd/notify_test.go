package systemd

import (
	"context"
	"testing"
	"time"

	logx "dailyprompt/pkg/logx"
)

func TestOutsideSystemdIsNoop(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	t.Setenv("WATCHDOG_USEC", "")

	Ready(logx.Nop())
	Status(logx.Nop(), "idle")
	Stopping(logx.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- Watchdog(ctx, logx.Nop()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Watchdog: %v", err)
		}
	case <-ctx.Done():
		t.Fatal("Watchdog should return at once without WATCHDOG_USEC")
	}
}
