package schedule

import (
	"testing"
	"time"
)

func TestParseNaturalLanguage(t *testing.T) {
	ref := time.Date(2026, 7, 31, 20, 0, 0, 0, time.UTC)

	tests := []struct {
		name          string
		input         string
		wantOK        bool
		wantRecurring bool
		wantInterval  int
		wantClock     string // "HH:MM" expected on the resolved day, empty to skip check
		wantNextDay   bool
	}{
		{name: "in minutes", input: "in 10 minutes", wantOK: true, wantClock: "20:10"},
		{name: "every 5 minutes", input: "every 5 minutes", wantOK: true, wantRecurring: true, wantInterval: 300},
		{name: "every hour", input: "every hour", wantOK: true, wantRecurring: true, wantInterval: 3600},
		{name: "daily at 9am", input: "daily at 9am", wantOK: true, wantRecurring: true, wantInterval: 86400, wantClock: "09:00", wantNextDay: true},
		{name: "wake me up at 7am bumps to tomorrow", input: "at 7am", wantOK: true, wantClock: "07:00", wantNextDay: true},
		{name: "no pattern", input: "when is the Super Bowl", wantOK: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ParseNaturalLanguage(tc.input, ref)
			if ok != tc.wantOK {
				t.Fatalf("ParseNaturalLanguage(%q) ok = %v, want %v", tc.input, ok, tc.wantOK)
			}
			if !tc.wantOK {
				return
			}
			if got.Recurring != tc.wantRecurring {
				t.Fatalf("Recurring = %v, want %v", got.Recurring, tc.wantRecurring)
			}
			if tc.wantInterval != 0 && got.RecurringIntervalSeconds != tc.wantInterval {
				t.Fatalf("RecurringIntervalSeconds = %d, want %d", got.RecurringIntervalSeconds, tc.wantInterval)
			}
			if !got.TriggerTime.After(ref) {
				t.Fatalf("expected trigger_time after reference, got %v", got.TriggerTime)
			}
			if tc.wantClock != "" {
				if got := got.TriggerTime.Format("15:04"); got != tc.wantClock {
					t.Fatalf("clock time = %s, want %s", got, tc.wantClock)
				}
			}
			if tc.wantNextDay && got.TriggerTime.Day() == ref.Day() {
				t.Fatalf("expected trigger_time to land on the next day, got %v", got.TriggerTime)
			}
		})
	}
}

func TestEnsureFutureBumpsPastTimesToNextDay(t *testing.T) {
	now := time.Date(2026, 7, 31, 20, 0, 0, 0, time.UTC)
	past := time.Date(2026, 7, 31, 7, 0, 0, 0, time.UTC)

	got := EnsureFuture(now, past)
	if !got.After(now) {
		t.Fatalf("expected bumped time after now, got %v", got)
	}
	if got.Day() != now.AddDate(0, 0, 1).Day() {
		t.Fatalf("expected next-day bump, got %v", got)
	}
	if got.Hour() != 7 {
		t.Fatalf("expected clock hour preserved, got %d", got.Hour())
	}
}

func TestEnsureFutureLeavesFutureTimesUnchanged(t *testing.T) {
	now := time.Date(2026, 7, 31, 20, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)

	got := EnsureFuture(now, future)
	if !got.Equal(future) {
		t.Fatalf("expected unchanged future time, got %v want %v", got, future)
	}
}
