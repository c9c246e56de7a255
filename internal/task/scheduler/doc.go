// Package scheduler fires named jobs on cron or interval schedules
// (robfig/cron). The delivery tick is registered here.
//
// A triggered job runs on the scheduler's supervisor with its own timeout.
// A trigger that arrives while the previous run of the same schedule is still
// in flight is skipped.
package scheduler
