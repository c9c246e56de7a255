package scheduler

import (
	"sort"
	"time"
)

// Snapshot reports registered schedules (sorted by name) and recent runs.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Running: s.c != nil, Timezone: time.UTC.String()}
	if s.loc != nil {
		snap.Timezone = s.loc.String()
	}
	for _, e := range s.entries {
		info := ScheduleInfo{Name: e.name, Kind: e.spec.Kind, Spec: e.display(), Timeout: e.timeout}
		if s.c != nil && e.cronID != 0 {
			ce := s.c.Entry(e.cronID)
			info.Next, info.Prev = ce.Next, ce.Prev
		}
		snap.Schedules = append(snap.Schedules, info)
	}
	s.mu.Unlock()
	sort.Slice(snap.Schedules, func(i, j int) bool { return snap.Schedules[i].Name < snap.Schedules[j].Name })

	s.hmu.Lock()
	snap.History = append([]RunInfo(nil), s.history...)
	s.hmu.Unlock()
	return snap
}
