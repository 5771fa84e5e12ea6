// Package dialogue implements the Dialogue Loop: wake-word → capture →
// route → respond → speak/act, per spec §4.5. Grounded on the teacher's
// main event-loop shape (a blocking wait, a classify step, a bounded
// worker dispatch) translated against the companion's intent/store/
// hardware packages.
package dialogue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/jholhewres/companion/pkg/companion/hardware"
	"github.com/jholhewres/companion/pkg/companion/intent"
	"github.com/jholhewres/companion/pkg/companion/llmclient"
	"github.com/jholhewres/companion/pkg/companion/store"
)

// WakeWord blocks until the wake phrase is detected.
type WakeWord interface {
	Wait(ctx context.Context) error
}

// SpeechToText records a bounded window of speech and transcribes it.
type SpeechToText interface {
	Record(ctx context.Context) (string, error)
}

// Camera captures frames and performs the face-centering sub-routine.
type Camera interface {
	CenterOnFace(ctx context.Context) error
	CaptureFrameJPEGBase64(ctx context.Context) (string, error)
}

// Voice speaks text aloud.
type Voice interface {
	Speak(ctx context.Context, text string) error
}

// RobotState reports the controller's current pose.
type RobotState interface {
	State() hardware.State
}

// SubAgent forwards a scheduling confirmation for persistent tracking,
// without blocking the dialogue turn.
type SubAgent interface {
	Ask(ctx context.Context, instruction string) (string, error)
}

// Dispatcher drains action sequences.
type Dispatcher interface {
	Dispatch(actions []hardware.ActionTuple)
}

// wireRobotResponse mirrors the main LLM call's required schema (spec
// §4.5 step 6).
type wireRobotResponse struct {
	VoiceResponse string      `json:"vr"`
	Actions       [][]float64 `json:"act"`
	FollowUp      string      `json:"fu"`
	FollowUpDelay float64     `json:"fp"`
}

const mainSystemPrompt = "You are a physically embodied voice assistant. Respond only with the required JSON schema."

// Loop is the single logical dialogue thread.
type Loop struct {
	wake       WakeWord
	stt        SpeechToText
	camera     Camera
	voice      Voice
	robotState RobotState
	dispatcher Dispatcher
	router     *intent.Router
	llm        *llmclient.Client
	store      store.Store
	subAgent   SubAgent
	history    *History
	logger     *slog.Logger

	followUpMu     chan struct{}
	cancelFollowUp func()
}

// New constructs a Loop. subAgent may be nil when no external task
// service is configured (the sub-agent layer is optional per spec §4.6).
func New(
	wake WakeWord, stt SpeechToText, camera Camera, voice Voice, robotState RobotState,
	dispatcher Dispatcher, router *intent.Router, llm *llmclient.Client, st store.Store,
	subAgent SubAgent, history *History, logger *slog.Logger,
) *Loop {
	if history == nil {
		history = NewHistory(4)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		wake: wake, stt: stt, camera: camera, voice: voice, robotState: robotState,
		dispatcher: dispatcher, router: router, llm: llm, store: st, subAgent: subAgent,
		history: history, logger: logger.With("component", "dialogue"),
		followUpMu: make(chan struct{}, 1),
	}
}

// ErrExitWord is returned by Run when the user speaks a configured exit
// word; the composition root treats it as the one non-interrupt fatal
// condition, triggering orderly shutdown of all workers (spec §7).
var ErrExitWord = errors.New("exit word received")

// Run blocks, processing turns until ctx is cancelled or the user speaks
// an exit word.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if exit, err := l.runOneTurn(ctx); exit {
			return err
		}
	}
}

func (l *Loop) runOneTurn(ctx context.Context) (exit bool, err error) {
	if err := l.wake.Wait(ctx); err != nil {
		l.logger.Warn("wake-word wait failed", "error", err)
		return false, nil
	}

	l.cancelPendingFollowUp()

	if err := l.camera.CenterOnFace(ctx); err != nil {
		l.logger.Warn("face-centering failed, continuing without it", "error", err)
	}

	transcript, sttErr := l.stt.Record(ctx)
	if sttErr != nil {
		l.logger.Info("speech not recognized, re-arming without consuming a turn", "error", sttErr)
		return false, nil
	}

	if intent.IsExitWord(transcript) {
		l.logger.Info("exit word received, signalling shutdown")
		return true, ErrExitWord
	}

	l.handleTranscript(ctx, transcript)
	return false, nil
}

func (l *Loop) handleTranscript(ctx context.Context, transcript string) {
	result := l.router.Route(ctx, transcript, l.history.Recent())

	switch result.Kind {
	case intent.KindSchedule:
		l.handleSchedule(ctx, transcript, result.Schedule)
	default:
		l.handleAuxiliary(ctx, transcript, result)
	}
}

func (l *Loop) handleSchedule(ctx context.Context, transcript string, sched *intent.ScheduleIntent) {
	action := &store.Action{
		Command:                  sched.Command,
		TriggerTime:              sched.TriggerTime,
		CompletionMode:           sched.CompletionMode,
		RetryUntil:               sched.RetryUntil,
		Context:                  map[string]string{"transcript": transcript},
		Recurring:                sched.Recurring,
		RecurringIntervalSeconds: sched.RecurringIntervalSeconds,
		RecurringCron:            sched.RecurringCron,
		RecurringUntil:           sched.RecurringUntil,
	}

	confirmation := sched.ConfirmationMessage
	if _, err := l.store.Insert(action); err != nil {
		l.logger.Error("failed to persist scheduled action", "error", err)
		confirmation = "Sorry, I couldn't schedule that."
	} else if l.subAgent != nil {
		go func() {
			if _, err := l.subAgent.Ask(context.Background(), "track reminder: "+sched.Command); err != nil {
				l.logger.Debug("sub-agent forward failed, ignoring", "error", err)
			}
		}()
	}

	if err := l.voice.Speak(ctx, confirmation); err != nil {
		l.logger.Warn("failed to speak confirmation", "error", err)
	}
	l.history.Append(Turn{Role: "user", Content: transcript}, Turn{Role: "model", Content: confirmation})
}

func (l *Loop) handleAuxiliary(ctx context.Context, transcript string, result intent.Result) {
	frame, err := l.camera.CaptureFrameJPEGBase64(ctx)
	if err != nil {
		l.logger.Warn("camera capture failed for main turn", "error", err)
	}
	state := l.robotState.State()

	prompt := buildMainPrompt(transcript, result.ContextText, state)
	messages := []llmclient.Message{
		{Role: "system", Content: mainSystemPrompt},
		{Role: "user", Content: prompt, ImageB64: frame},
	}

	var resp *llmclient.Response
	if budget := result.TokenBudget(); budget > 0 {
		resp, err = l.llm.CompleteJSONWithBudget(ctx, messages, budget)
	} else {
		resp, err = l.llm.CompleteJSON(ctx, messages)
	}

	var robotResp wireRobotResponse
	voiceText := ""
	if err != nil {
		l.logger.Warn("main LLM call failed, no voice response available", "error", err)
	} else if jsonErr := json.Unmarshal([]byte(resp.Content), &robotResp); jsonErr != nil {
		// Defensive fallback per spec §7: use the raw text as best-effort response.
		voiceText = resp.Content
	} else {
		voiceText = robotResp.VoiceResponse
	}

	if voiceText != "" {
		if err := l.voice.Speak(ctx, voiceText); err != nil {
			l.logger.Warn("failed to speak response", "error", err)
		}
	}
	if l.dispatcher != nil && len(robotResp.Actions) > 0 {
		l.dispatcher.Dispatch(actionTuplesFromRaw(robotResp.Actions))
	}
	if robotResp.FollowUp != "" {
		l.armFollowUp(robotResp.FollowUp, robotResp.FollowUpDelay)
	}

	l.history.Append(Turn{Role: "user", Content: transcript}, Turn{Role: "model", Content: voiceText})
}

func actionTuplesFromRaw(raw [][]float64) []hardware.ActionTuple {
	out := make([]hardware.ActionTuple, 0, len(raw))
	for _, r := range raw {
		if len(r) == 0 {
			continue
		}
		out = append(out, hardware.ActionTuple{Command: hardware.CommandID(int(r[0])), Args: r[1:]})
	}
	return out
}

func buildMainPrompt(transcript, auxContext string, state hardware.State) string {
	prompt := "User said: " + transcript
	if auxContext != "" {
		prompt += "\n\nAuxiliary context: " + auxContext
	}
	return prompt
}

// armFollowUp schedules a deferred re-utterance, cancellable by the next
// user turn (spec §4.5 "fu/fp"; §5 "Follow-up timers are cancellable").
func (l *Loop) armFollowUp(followUpText string, delaySeconds float64) {
	l.cancelPendingFollowUp()

	ctx, cancel := context.WithCancel(context.Background())
	l.cancelFollowUp = cancel

	delay := time.Duration(delaySeconds * float64(time.Second))
	if delay <= 0 {
		delay = time.Second
	}

	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		if err := l.voice.Speak(ctx, followUpText); err != nil {
			l.logger.Warn("failed to speak follow-up", "error", err)
		}
	}()
}

func (l *Loop) cancelPendingFollowUp() {
	if l.cancelFollowUp != nil {
		l.cancelFollowUp()
		l.cancelFollowUp = nil
	}
}
