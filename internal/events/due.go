package events

import (
	"fmt"

	"github.com/tau-run/tau/internal/cron"
)

// dueDecision evaluates event against state at nowUnixMS, applying the
// rules for each schedule kind in turn:
//   - disabled -> NotDue
//   - Immediate: due unless stale_immediate_max_age_seconds is set and
//     the event has aged past it, in which case it is removed instead
//   - At: due once now has reached at_unix_ms
//   - Periodic: due once the cron-computed next occurrence after the
//     last run (or now-60s if never run) has arrived
func dueDecision(event Definition, state RunnerState, nowUnixMS int64, staleImmediateMaxAgeSeconds int64) (DueDecision, error) {
	if !event.Enabled {
		return DueNotDue, nil
	}

	switch event.Schedule.Kind {
	case ScheduleImmediate:
		if staleImmediateMaxAgeSeconds == 0 {
			return DueRun, nil
		}
		created := nowUnixMS
		if event.CreatedUnixMS != nil {
			created = *event.CreatedUnixMS
		}
		maxAgeMS := staleImmediateMaxAgeSeconds * 1000
		if nowUnixMS-created > maxAgeMS {
			return DueSkipStaleRemove, nil
		}
		return DueRun, nil

	case ScheduleAt:
		if nowUnixMS >= event.Schedule.AtUnixMS {
			return DueRun, nil
		}
		return DueNotDue, nil

	case SchedulePeriodic:
		lastRun, seen := state.PeriodicLastRunUnixMS[event.ID]
		if !seen {
			lastRun = nowUnixMS - 60_000
		}
		nextDue, err := cron.NextDueUnixMS(event.Schedule.Cron, event.Schedule.Timezone, lastRun)
		if err != nil {
			return "", fmt.Errorf("due decision for %s: %w", event.ID, err)
		}
		if nextDue <= nowUnixMS {
			return DueRun, nil
		}
		return DueNotDue, nil

	default:
		return "", fmt.Errorf("due decision for %s: unknown schedule kind %q", event.ID, event.Schedule.Kind)
	}
}
