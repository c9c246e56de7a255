package scheduler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// specParser accepts 5-field cron, 6-field cron with leading seconds and
// descriptors such as @hourly.
var specParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type SpecKind int

const (
	SpecCron SpecKind = iota
	SpecInterval
)

func (k SpecKind) String() string {
	if k == SpecInterval {
		return "interval"
	}
	return "cron"
}

// ParsedSpec is a validated schedule.
type ParsedSpec struct {
	Kind  SpecKind
	Cron  string        // SpecCron
	Every time.Duration // SpecInterval
}

// ParseSchedule validates a schedule string. Accepted forms:
//
//	"0 * * * *", "*/15 * * * *", "0 30 6 * * *", "@hourly"   cron
//	"15m", "@every 15m"                                     fixed interval
func ParseSchedule(raw string) (ParsedSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ParsedSpec{}, errors.New("schedule required")
	}
	if len(s) >= len("@every") && strings.EqualFold(s[:len("@every")], "@every") {
		return parseEvery(strings.TrimSpace(s[len("@every"):]))
	}
	if d, err := time.ParseDuration(s); err == nil {
		return parseEvery(d.String())
	}
	if _, err := specParser.Parse(s); err != nil {
		return ParsedSpec{}, fmt.Errorf("invalid schedule %q: %w", raw, err)
	}
	return ParsedSpec{Kind: SpecCron, Cron: s}, nil
}

func parseEvery(v string) (ParsedSpec, error) {
	d, err := time.ParseDuration(v)
	if err != nil {
		return ParsedSpec{}, fmt.Errorf("invalid interval %q", v)
	}
	if d < time.Second {
		return ParsedSpec{}, fmt.Errorf("interval %s is below 1s", d)
	}
	return ParsedSpec{Kind: SpecInterval, Every: d}, nil
}

// ParseHHMM parses a 24h wall-clock time such as "06:00".
func ParseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 || len(mm) != 2 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}

// firstRunOffset delays the first run of an interval schedule by a stable
// per-name fraction of the interval (capped at 30s) so schedules registered
// together do not fire in lockstep.
func firstRunOffset(name string, every time.Duration) time.Duration {
	limit := min(every, 30*time.Second)
	if limit <= 0 {
		return 0
	}
	var h uint64 = 14695981039346656037
	for i := 0; i < len(name); i++ {
		h ^= uint64(name[i])
		h *= 1099511628211
	}
	return time.Duration(h % uint64(limit))
}

// offsetSchedule is cron.Every with a shifted first activation.
type offsetSchedule struct {
	every cron.Schedule
	first time.Time
}

func (s offsetSchedule) Next(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}
	return s.every.Next(t)
}
