package delivery

import (
	"strings"
	"time"
	// Subscriber zones must resolve on hosts without a zoneinfo database.
	_ "time/tzdata"
)

// MatchTimezones returns the labels whose local wall clock at now reads
// hour:minute. Labels that do not name a known zone are returned in invalid.
// Near a DST transition a label may match twice in one day.
func MatchTimezones(now time.Time, labels []string, hour, minute int) (matched, invalid []string) {
	seen := make(map[string]struct{}, len(labels))
	for _, label := range labels {
		label = strings.TrimSpace(label)
		if label == "" {
			continue
		}
		if _, ok := seen[label]; ok {
			continue
		}
		seen[label] = struct{}{}

		loc, err := time.LoadLocation(label)
		if err != nil {
			invalid = append(invalid, label)
			continue
		}
		local := now.In(loc)
		if local.Hour() == hour && local.Minute() == minute {
			matched = append(matched, label)
		}
	}
	return matched, invalid
}
