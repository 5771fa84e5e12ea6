// Package schedule – cron.go resolves the optional cron-expression form of
// recurrence (SPEC_FULL §11 enrichment #2). A ScheduledAction may carry a
// RecurringCron expression instead of a plain RecurringIntervalSeconds;
// this mirrors the teacher's own duality between plain interval
// ("@every 5m") and full cron expression scheduling in its job scheduler.
package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// NextFireAfter resolves the next trigger time for a recurring action,
// preferring an explicit cron expression when set and otherwise falling
// back to the plain interval. This does not change invariant 2 (spec §3):
// a recurring action must still carry one positive source of recurrence,
// either intervalSeconds or cron.
func NextFireAfter(after time.Time, intervalSeconds int, cronExpr string) (time.Time, error) {
	if cronExpr != "" {
		schedule, err := parser.Parse(cronExpr)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
		}
		return schedule.Next(after), nil
	}
	if intervalSeconds <= 0 {
		return time.Time{}, fmt.Errorf("recurring action has neither a positive interval nor a cron expression")
	}
	return after.Add(time.Duration(intervalSeconds) * time.Second), nil
}

// ValidateCronExpr reports whether expr is a well-formed cron expression,
// used by the intent router / administrative CLI to reject bad input early
// rather than discovering it when the engine tries to spawn a recurrence.
func ValidateCronExpr(expr string) error {
	if expr == "" {
		return nil
	}
	_, err := parser.Parse(expr)
	return err
}
