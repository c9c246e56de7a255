package app

import (
	"context"
	"fmt"
	"time"

	rtsup "dailyprompt/internal/runtime/supervisor"
	"dailyprompt/internal/task/engine"
	"dailyprompt/internal/task/scheduler"
	logx "dailyprompt/pkg/logx"
	"dailyprompt/pkg/systemd"
)

const (
	statusJobName  = "status.heartbeat"
	statusSchedule = "@every 5m"
)

// Status is a point-in-time view of the running process.
type Status struct {
	At         time.Time          `json:"at"`
	Generation engine.Snapshot    `json:"generation"`
	Schedules  scheduler.Snapshot `json:"schedules"`
	Goroutines rtsup.Snapshot     `json:"goroutines"`
}

// Status collects engine, scheduler and supervisor state.
func (a *App) Status(ctx context.Context) Status {
	st := Status{
		At:         time.Now(),
		Generation: a.engine.Snapshot(ctx),
		Schedules:  a.sched.Snapshot(),
	}
	if a.sup != nil {
		st.Goroutines = a.sup.Snapshot()
	}
	return st
}

// heartbeat logs a status line and mirrors it to the service manager.
func (a *App) heartbeat(ctx context.Context) error {
	st := a.Status(ctx)
	line := st.Line()
	a.log.Info("status",
		logx.Int("queue", st.Generation.QueueLen),
		logx.Int("in_flight", st.Generation.InFlight),
		logx.Int64("processed", int64(st.Generation.Processed)),
		logx.Int64("failed", int64(st.Generation.Failed)),
		logx.Bool("circuit_open", st.Generation.CircuitOpen),
		logx.Int64("goroutines", st.Goroutines.Active),
	)
	systemd.Status(a.log, line)
	return nil
}

// Line renders s as a single human-readable line.
func (s Status) Line() string {
	g := s.Generation
	line := fmt.Sprintf("queue=%d in_flight=%d done=%d failed=%d", g.QueueLen, g.InFlight, g.Processed, g.Failed)
	if g.CircuitOpen {
		line += " circuit=open until " + g.CircuitUntil.Format(time.RFC3339)
	}
	for _, sc := range s.Schedules.Schedules {
		if sc.Name == deliveryJobName && !sc.Next.IsZero() {
			line += " next_delivery=" + sc.Next.Format(time.RFC3339)
		}
	}
	return line
}
