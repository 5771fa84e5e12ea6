// Package schedule resolves natural-language time phrases into concrete
// trigger times and recurrence parameters. This is a latency/cost
// optimization layered in front of the Intent Router's LLM call (spec
// §4.2 step 3): common phrasing is resolved by regex before falling back
// to the LLM for ambiguous cases. It never overrides the LLM's
// should_schedule decision — it only helps the router compute trigger_time
// once scheduling has already been decided.
package schedule

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Parsed holds the result of interpreting a natural-language schedule
// phrase relative to a reference instant (normally time.Now()).
type Parsed struct {
	TriggerTime              time.Time
	Recurring                bool
	RecurringIntervalSeconds int
}

var (
	reEveryInterval = regexp.MustCompile(`(?i)every\s+(\d+)\s*(second|minute|hour|day|sec|min)s?`)
	reEverySingular = regexp.MustCompile(`(?i)\bevery\s+(second|minute|hour|day)\b`)
	reDailyAt       = regexp.MustCompile(`(?i)(?:daily|every day)\s+at\s+([\d:apm\s]+)`)
	reAtClock       = regexp.MustCompile(`(?i)\bat\s+([\d:apm\s]+)$`)
	reInDuration    = regexp.MustCompile(`(?i)\bin\s+(\d+)\s*(second|minute|hour|sec|min)s?\b`)
)

// ParseNaturalLanguage attempts to resolve a phrase like "in 10 minutes",
// "at 7am", "every day at 9", or "daily" relative to now. Returns false if
// no pattern matched, in which case the caller should defer to the LLM's
// own time-phrase extraction.
func ParseNaturalLanguage(input string, now time.Time) (Parsed, bool) {
	normalized := strings.TrimSpace(strings.ToLower(input))
	if normalized == "" {
		return Parsed{}, false
	}

	if m := reEveryInterval.FindStringSubmatch(normalized); m != nil {
		n, _ := strconv.Atoi(m[1])
		secs := unitSeconds(m[2]) * n
		if secs > 0 {
			return Parsed{
				TriggerTime:              now.Add(time.Duration(secs) * time.Second),
				Recurring:                true,
				RecurringIntervalSeconds: secs,
			}, true
		}
	}

	if m := reEverySingular.FindStringSubmatch(normalized); m != nil && !reDailyAt.MatchString(normalized) {
		secs := unitSeconds(m[1])
		if secs > 0 {
			return Parsed{
				TriggerTime:              now.Add(time.Duration(secs) * time.Second),
				Recurring:                true,
				RecurringIntervalSeconds: secs,
			}, true
		}
	}

	if m := reDailyAt.FindStringSubmatch(normalized); m != nil {
		if t, ok := nextClockTime(now, m[1]); ok {
			return Parsed{
				TriggerTime:              t,
				Recurring:                true,
				RecurringIntervalSeconds: 24 * 3600,
			}, true
		}
	}

	if normalized == "daily" {
		t, _ := nextClockTime(now, "00:00")
		return Parsed{TriggerTime: t, Recurring: true, RecurringIntervalSeconds: 24 * 3600}, true
	}

	if m := reInDuration.FindStringSubmatch(normalized); m != nil {
		n, _ := strconv.Atoi(m[1])
		secs := unitSeconds(m[2]) * n
		if secs > 0 {
			return Parsed{TriggerTime: now.Add(time.Duration(secs) * time.Second)}, true
		}
	}

	if m := reAtClock.FindStringSubmatch(normalized); m != nil {
		if t, ok := nextClockTime(now, m[1]); ok {
			return Parsed{TriggerTime: t}, true
		}
	}

	return Parsed{}, false
}

// unitSeconds converts a time-unit word to a second multiplier.
func unitSeconds(unit string) int {
	unit = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(unit)), "s")
	switch unit {
	case "second", "sec":
		return 1
	case "minute", "min":
		return 60
	case "hour":
		return 3600
	case "day":
		return 86400
	default:
		return 0
	}
}

// nextClockTime parses a clock-time string ("9:00", "7am", "3:30pm") and
// returns the next occurrence of that time of day strictly after now. Past
// times are bumped to the next calendar day, per spec §4.2 step 3.
func nextClockTime(now time.Time, s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	isPM := strings.HasSuffix(s, "pm")
	isAM := strings.HasSuffix(s, "am")
	s = strings.TrimSuffix(strings.TrimSuffix(s, "pm"), "am")
	s = strings.TrimSpace(s)

	parts := strings.SplitN(s, ":", 2)
	hour, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || hour < 0 || hour > 23 {
		return time.Time{}, false
	}
	minute := 0
	if len(parts) == 2 {
		minute, err = strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil || minute < 0 || minute > 59 {
			return time.Time{}, false
		}
	}
	if isPM && hour < 12 {
		hour += 12
	}
	if isAM && hour == 12 {
		hour = 0
	}

	target := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !target.After(now) {
		target = target.AddDate(0, 0, 1)
	}
	return target, true
}

// mustFutureOrTomorrow is a defensive helper used by callers that receive a
// trigger_time candidate from the LLM: invariant (testable property 2) is
// that the stored trigger_time is always >= now. Past times are moved
// forward one day at a time, keeping their clock time, until they are no
// longer before now (an earlier time today lands tomorrow, matching
// ParseNaturalLanguage).
func mustFutureOrTomorrow(now, candidate time.Time) time.Time {
	if !candidate.Before(now) {
		return candidate
	}
	bumped := candidate
	for bumped.Before(now) {
		bumped = time.Date(bumped.Year(), bumped.Month(), bumped.Day()+1,
			bumped.Hour(), bumped.Minute(), bumped.Second(), 0, bumped.Location())
	}
	return bumped
}

// EnsureFuture is the exported form of mustFutureOrTomorrow, used by the
// intent router to normalize an LLM-supplied trigger_time before it ever
// reaches the store.
func EnsureFuture(now, candidate time.Time) time.Time {
	return mustFutureOrTomorrow(now, candidate)
}
