// Package engine implements the Scheduled-Action Engine: the ticking
// worker that drains due ScheduledActions through the Completion Oracle
// and drives their retry/recurrence/expiry state machine. Grounded on the
// original tasks.scheduler_v2.ActionScheduler._scheduler_loop, generalized
// against the companion's store/oracle/hardware packages.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/jholhewres/companion/pkg/companion/hardware"
	"github.com/jholhewres/companion/pkg/companion/oracle"
	"github.com/jholhewres/companion/pkg/companion/schedule"
	"github.com/jholhewres/companion/pkg/companion/store"
)

// Voice speaks text aloud; side effect of a verdict's vr field.
type Voice interface {
	Speak(ctx context.Context, text string) error
}

// Judge is the Completion Oracle contract the engine drives. Declared as
// an interface (rather than depending on *oracle.Oracle directly) so unit
// tests can substitute deterministic verdicts.
type Judge interface {
	Judge(ctx context.Context, a *store.Action, now time.Time) *oracle.Verdict
}

// Dispatcher drains verdict motion sequences; satisfied by
// *hardware.Dispatcher.
type Dispatcher interface {
	Dispatch(actions []hardware.ActionTuple)
}

// DefaultCheckInterval is the engine's tick period when none is configured.
const DefaultCheckInterval = 10 * time.Second

// Engine is the single long-running worker described in spec §4.3. It is
// deliberately single-threaded: due actions within and across ticks never
// overlap in oracle invocations, serializing camera and hardware usage.
type Engine struct {
	store         store.Store
	oracle        Judge
	dispatcher    Dispatcher
	voice         Voice
	checkInterval time.Duration
	logger        *slog.Logger
}

// New constructs an Engine. A zero checkInterval uses DefaultCheckInterval.
func New(st store.Store, o Judge, dispatcher Dispatcher, voice Voice, checkInterval time.Duration, logger *slog.Logger) *Engine {
	if checkInterval <= 0 {
		checkInterval = DefaultCheckInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:         st,
		oracle:        o,
		dispatcher:    dispatcher,
		voice:         voice,
		checkInterval: checkInterval,
		logger:        logger.With("component", "engine"),
	}
}

// Run blocks, ticking until ctx is cancelled. Shutdown is observed between
// ticks, per the concurrency model's cancellation policy.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

func (e *Engine) tick(ctx context.Context) {
	now := time.Now()
	due, err := e.store.DueActions(now)
	if err != nil {
		e.logger.Error("failed to load due actions", "error", err)
		return
	}

	for _, a := range due {
		e.processOne(ctx, a, now)
	}
}

// processOne handles one due action. Any panic is recovered, logged, and
// leaves the action in whatever status it last reached with no counter
// change, so the next tick may retry it (spec §7 "no exception crosses a
// worker boundary").
func (e *Engine) processOne(ctx context.Context, a *store.Action, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic while processing scheduled action", "action_id", a.ID, "panic", r)
		}
	}()

	if err := e.store.UpdateStatus(a.ID, store.StatusActive, &a.AttemptCount); err != nil {
		e.logger.Error("failed to mark action active", "action_id", a.ID, "error", err)
		return
	}

	verdict := e.oracle.Judge(ctx, a, now)

	if verdict.VoiceResponse != "" && e.voice != nil {
		if err := e.voice.Speak(ctx, verdict.VoiceResponse); err != nil {
			e.logger.Warn("failed to speak verdict", "action_id", a.ID, "error", err)
		}
	}
	if e.dispatcher != nil {
		e.dispatcher.Dispatch(verdict.ActionTuples())
	}

	switch {
	case verdict.Completed:
		e.onCompleted(a, now)
	case verdict.ShouldRetry:
		e.onShouldRetry(a, now, verdict.RetryDelaySeconds)
	default:
		// Defensive: treat as completed (spec §4.3 step 3f).
		e.onCompleted(a, now)
	}
}

func (e *Engine) onCompleted(a *store.Action, now time.Time) {
	if err := e.store.UpdateStatus(a.ID, store.StatusCompleted, nil); err != nil {
		e.logger.Error("failed to mark action completed", "action_id", a.ID, "error", err)
		return
	}

	if !a.Recurring {
		return
	}
	if a.RecurringUntil != nil && !now.Before(*a.RecurringUntil) {
		e.logger.Info("recurring action reached its end time, stopping", "action_id", a.ID)
		return
	}

	nextFire, err := schedule.NextFireAfter(now, a.RecurringIntervalSeconds, a.RecurringCron)
	if err != nil {
		e.logger.Error("failed to resolve next fire time for recurring action, stopping recurrence", "action_id", a.ID, "error", err)
		return
	}

	child := &store.Action{
		Command:                  a.Command,
		TriggerTime:              nextFire,
		CompletionMode:           a.CompletionMode,
		RetryUntil:               a.RetryUntil,
		Context:                  a.Context,
		Recurring:                true,
		RecurringIntervalSeconds: a.RecurringIntervalSeconds,
		RecurringCron:            a.RecurringCron,
		RecurringUntil:           a.RecurringUntil,
		ParentRecurringID:        a.SeriesRoot(),
	}
	childID, err := e.store.Insert(child)
	if err != nil {
		e.logger.Error("failed to spawn recurring child action", "action_id", a.ID, "error", err)
		return
	}
	e.logger.Info("recurring action spawned", "parent_id", a.ID, "child_id", childID, "trigger_time", child.TriggerTime)
}

func (e *Engine) onShouldRetry(a *store.Action, now time.Time, retryDelaySeconds int) {
	if a.RetryUntil != nil && now.After(*a.RetryUntil) {
		if err := e.store.UpdateStatus(a.ID, store.StatusExpired, nil); err != nil {
			e.logger.Error("failed to mark action expired", "action_id", a.ID, "error", err)
		}
		return
	}

	nextTrigger := now.Add(time.Duration(retryDelaySeconds) * time.Second)
	if err := e.store.Reschedule(a.ID, nextTrigger); err != nil {
		e.logger.Error("failed to reschedule action", "action_id", a.ID, "error", err)
		return
	}
	nextAttempt := a.AttemptCount + 1
	if err := e.store.UpdateStatus(a.ID, store.StatusScheduled, &nextAttempt); err != nil {
		e.logger.Error("failed to reschedule-update action status", "action_id", a.ID, "error", err)
	}
}
