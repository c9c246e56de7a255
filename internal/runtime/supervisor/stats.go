package supervisor

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Stats aggregates runs of goroutines sharing a name.
type Stats struct {
	Name        string        `json:"name"`
	Active      int64         `json:"active"`
	Started     uint64        `json:"started"`
	Restarts    uint64        `json:"restarts"`
	Panics      uint64        `json:"panics"`
	LastStartAt time.Time     `json:"last_start_at"`
	LastErr     string        `json:"last_err,omitempty"`
	LastErrAt   time.Time     `json:"last_err_at"`
	LastRuntime time.Duration `json:"last_runtime"`
}

type Snapshot struct {
	Active     int64   `json:"active"`
	Started    uint64  `json:"started"`
	FirstError string  `json:"first_error,omitempty"`
	Goroutines []Stats `json:"goroutines"`
}

// Snapshot lists per-name stats, running names first.
func (s *Supervisor) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	out := Snapshot{Active: s.active.Load(), Started: s.started.Load()}
	if err := s.Err(); err != nil {
		out.FirstError = err.Error()
	}
	s.mu.Lock()
	out.Goroutines = make([]Stats, 0, len(s.stats))
	for _, st := range s.stats {
		out.Goroutines = append(out.Goroutines, *st)
	}
	s.mu.Unlock()
	slices.SortFunc(out.Goroutines, func(a, b Stats) int {
		if a.Active != b.Active {
			return int(b.Active - a.Active)
		}
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

// update applies fn to the stats for name under s.mu.
func (s *Supervisor) update(name string, fn func(*Stats)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stats[name]
	if !ok {
		st = &Stats{Name: name}
		s.stats[name] = st
	}
	fn(st)
}

func (s *Supervisor) noteStart(name string, restart bool) time.Time {
	now := time.Now()
	s.update(name, func(st *Stats) {
		st.Started++
		st.Active++
		if restart {
			st.Restarts++
		}
		st.LastStartAt = now
	})
	return now
}

func (s *Supervisor) noteStop(name string, began time.Time, err error) {
	now := time.Now()
	s.update(name, func(st *Stats) {
		st.Active = max(st.Active-1, 0)
		st.LastRuntime = now.Sub(began)
		if err != nil {
			st.LastErr, st.LastErrAt = err.Error(), now
		}
	})
}

func (s *Supervisor) notePanic(name string, p any) {
	s.update(name, func(st *Stats) {
		st.Panics++
		st.LastErr, st.LastErrAt = fmt.Sprint(p), time.Now()
	})
}
