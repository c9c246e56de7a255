package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "dailyprompt/pkg/logx"
)

// AddSchedule registers job under name; see ParseSchedule for accepted
// forms. Registering an existing name replaces it, so config reloads can call
// it again with a new schedule.
func (s *Service) AddSchedule(name, schedule string, timeout time.Duration, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}
	spec, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	e := &entry{name: name, spec: spec, timeout: timeout, job: job}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	s.entries[name] = e
	if s.c == nil {
		return nil
	}
	s.scheduleLocked(e)
	if s.log.Enabled(logx.LevelDebug) {
		s.log.Debug("schedule registered",
			logx.String("name", name),
			logx.String("spec", e.display()),
			logx.Duration("timeout", timeout),
			logx.Time("next", s.c.Entry(e.cronID).Next),
		)
	}
	return nil
}

// AddDaily runs job every day at HH:MM in the scheduler timezone.
func (s *Service) AddDaily(name, atHHMM string, timeout time.Duration, job Job) error {
	h, m, err := ParseHHMM(atHHMM)
	if err != nil {
		return err
	}
	return s.AddSchedule(name, fmt.Sprintf("%d %d * * *", m, h), timeout, job)
}

// Remove unschedules name. It reports whether something was removed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	removed := s.removeLocked(strings.TrimSpace(name))
	s.mu.Unlock()
	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

func (s *Service) removeLocked(name string) bool {
	e, ok := s.entries[name]
	if !ok {
		return false
	}
	if s.c != nil && e.cronID != 0 {
		s.c.Remove(e.cronID)
	}
	delete(s.entries, name)
	return true
}

// scheduleLocked adds e to the running cron. Call with s.mu held and s.c set.
func (s *Service) scheduleLocked(e *entry) {
	var sched cron.Schedule
	if e.spec.Kind == SpecInterval {
		now := time.Now().In(s.loc)
		sched = offsetSchedule{
			every: cron.Every(e.spec.Every),
			first: now.Add(e.spec.Every + firstRunOffset(e.name, e.spec.Every)),
		}
	} else {
		// Already validated by ParseSchedule.
		sched, _ = specParser.Parse(e.spec.Cron)
	}
	e.cronID = s.c.Schedule(sched, cron.FuncJob(func() { s.fire(e) }))
}
