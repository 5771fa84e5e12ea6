// Package poller implements the Proactive Poller: a worker that
// periodically asks the sub-agent for due external tasks, deduplicates
// what it has already surfaced, and interrupts the user with voice (and
// optionally an attention gesture) when something new shows up. Grounded
// on the teacher's heartbeat worker (pkg/goclaw/copilot/heartbeat.go),
// which runs the same tick-ask-filter-deliver loop against a different
// source.
package poller

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jholhewres/companion/pkg/companion/hardware"
)

// emptySentinels are the canonical "nothing to report" answers the
// sub-agent is instructed to use when no task is due (spec §4.7 step 2).
var emptySentinels = []string{
	"no tasks due",
	"none",
	"all clear",
}

// SubAgent is the narrow surface the poller needs from the Sub-Agent
// Layer: a single synchronous question-answer call.
type SubAgent interface {
	Ask(ctx context.Context, instruction string) (string, error)
}

// Voice speaks a reminder aloud.
type Voice interface {
	Speak(ctx context.Context, text string) error
}

// Dispatcher optionally drives an attention gesture (e.g. a servo nod)
// before the reminder is spoken.
type Dispatcher interface {
	Dispatch(actions []hardware.ActionTuple)
}

// DefaultPollInterval matches the teacher's own default heartbeat cadence.
const DefaultPollInterval = 30 * time.Minute

// askTimeout bounds the sub-agent round-trip per spec §5's ~30s default.
const askTimeout = 30 * time.Second

// attentionGesture is a small servo nod used to draw attention before a
// reminder is spoken; a no-op if the dispatcher is nil.
var attentionGesture = []hardware.ActionTuple{
	{Command: hardware.CmdMoveServo, Args: []float64{0, 60}},
	{Command: hardware.CmdWait, Args: []float64{0.3}},
	{Command: hardware.CmdMoveServo, Args: []float64{0, 30}},
}

// Poller runs on its own worker (spec §5 "Proactive Poller"), calling the
// sub-agent every interval and speaking any new, non-empty answer exactly
// once per session.
type Poller struct {
	subAgent   SubAgent
	voice      Voice
	dispatcher Dispatcher
	interval   time.Duration
	logger     *slog.Logger

	mu       sync.Mutex
	reminded map[string]struct{}
}

// New constructs a Poller. dispatcher may be nil to skip the attention
// gesture entirely.
func New(subAgent SubAgent, voice Voice, dispatcher Dispatcher, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		subAgent:   subAgent,
		voice:      voice,
		dispatcher: dispatcher,
		interval:   interval,
		logger:     logger.With("component", "poller"),
		reminded:   make(map[string]struct{}),
	}
}

// Run blocks, ticking until ctx is canceled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.tick(ctx)
		case <-ctx.Done():
			p.logger.Info("poller stopped")
			return
		}
	}
}

// tick performs one poll-ask-filter-deliver cycle, recovering from any
// panic in the underlying calls rather than crashing the worker, matching
// the teacher's per-tick recovery discipline.
func (p *Poller) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("poller tick panicked", "recovered", r)
		}
	}()

	askCtx, cancel := context.WithTimeout(ctx, askTimeout)
	defer cancel()

	answer, err := p.subAgent.Ask(askCtx, "list tasks due today or overdue")
	if err != nil {
		p.logger.Warn("poller: sub-agent ask failed", "error", err)
		return
	}

	if isEmptySentinel(answer) {
		p.logger.Debug("poller: nothing due")
		return
	}

	fp := fingerprint(answer)
	p.mu.Lock()
	_, seen := p.reminded[fp]
	if !seen {
		p.reminded[fp] = struct{}{}
	}
	p.mu.Unlock()
	if seen {
		p.logger.Debug("poller: reminder already delivered this session", "fingerprint", fp)
		return
	}

	if p.dispatcher != nil {
		p.dispatcher.Dispatch(attentionGesture)
	}

	if err := p.voice.Speak(ctx, answer); err != nil {
		p.logger.Error("poller: failed to speak reminder", "error", err)
	}
}

// ClearReminded empties the reminded-set, e.g. at day rollover.
func (p *Poller) ClearReminded() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reminded = make(map[string]struct{})
}

func isEmptySentinel(answer string) bool {
	trimmed := strings.ToLower(strings.TrimSpace(answer))
	for _, s := range emptySentinels {
		if trimmed == s {
			return true
		}
	}
	return trimmed == ""
}

// fingerprint hashes the first ~200 characters of the answer (spec §4.7
// step 3), so near-identical reminders across ticks collapse to one entry.
func fingerprint(answer string) string {
	trimmed := strings.TrimSpace(answer)
	if len(trimmed) > 200 {
		trimmed = trimmed[:200]
	}
	sum := sha256.Sum256([]byte(strings.ToLower(trimmed)))
	return hex.EncodeToString(sum[:])
}
