// Package oracle implements the Completion Oracle: the multimodal LLM
// call that judges whether a fired ScheduledAction is done. Grounded on
// the original action_executor_v2.ActionExecutor.execute_scheduled_action,
// translated into the companion's llmclient/hardware/store types.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jholhewres/companion/pkg/companion/hardware"
	"github.com/jholhewres/companion/pkg/companion/llmclient"
	"github.com/jholhewres/companion/pkg/companion/store"
)

// Camera captures a single frame for the oracle's multimodal call. Per
// spec §1, capture itself is treated as opaque blocking I/O; only the
// interface and the 224x224 JPEG/base64 contract are specified here.
type Camera interface {
	// CaptureFrameJPEGBase64 returns a 224x224 JPEG-encoded frame,
	// base64-standard-encoded, ready to embed in an LLM message.
	CaptureFrameJPEGBase64(ctx context.Context) (string, error)
}

// RobotState reports the controller's current pose.
type RobotState interface {
	State() hardware.State
}

// Verdict is the oracle's judgement, matching the LLM's required JSON
// schema exactly (see spec §4.4).
type Verdict struct {
	VoiceResponse     string      `json:"vr"`
	Actions           [][]float64 `json:"act"`
	Completed         bool        `json:"completed"`
	ShouldRetry       bool        `json:"should_retry"`
	RetryDelaySeconds int         `json:"retry_delay_seconds"`
	CompletionReason  string      `json:"completion_reason"`
}

// ActionTuples converts the verdict's raw [][]float64 action list to typed
// hardware.ActionTuple values the Action Dispatcher accepts.
func (v *Verdict) ActionTuples() []hardware.ActionTuple {
	out := make([]hardware.ActionTuple, 0, len(v.Actions))
	for _, raw := range v.Actions {
		if len(raw) == 0 {
			continue
		}
		out = append(out, hardware.ActionTuple{
			Command: hardware.CommandID(int(raw[0])),
			Args:    raw[1:],
		})
	}
	return out
}

// surrogateCameraFailure is returned when the camera cannot be acquired or
// capture otherwise fails; per spec §4.3/§7, a 10s retry.
func surrogateCameraFailure() *Verdict {
	return &Verdict{
		ShouldRetry:       true,
		RetryDelaySeconds: 10,
		CompletionReason:  "camera failure",
	}
}

// surrogateOracleFailure is returned on any LLM transport/parse failure;
// per spec §4.3/§7, a 60s retry.
func surrogateOracleFailure() *Verdict {
	return &Verdict{
		ShouldRetry:       true,
		RetryDelaySeconds: 60,
		CompletionReason:  "oracle failure",
	}
}

// Oracle wraps the LLM client with the scheduled-action prompt contract.
type Oracle struct {
	llm            *llmclient.Client
	camera         Camera
	robotState     RobotState
	systemTemplate string
	logger         *slog.Logger
}

// New constructs an Oracle. systemTemplate is the static prompt template
// persisted externally (spec §4.4 step 3); an empty template degrades
// gracefully per the "hard config error" taxonomy rather than failing.
func New(llm *llmclient.Client, camera Camera, robotState RobotState, systemTemplate string, logger *slog.Logger) *Oracle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Oracle{
		llm:            llm,
		camera:         camera,
		robotState:     robotState,
		systemTemplate: systemTemplate,
		logger:         logger.With("component", "oracle"),
	}
}

// Judge evaluates a single due action. The oracle is stateless across
// calls: every invocation is an independent trial (spec §4.4).
func (o *Oracle) Judge(ctx context.Context, a *store.Action, now time.Time) *Verdict {
	frame, err := o.camera.CaptureFrameJPEGBase64(ctx)
	if err != nil {
		o.logger.Warn("camera capture failed", "action_id", a.ID, "error", err)
		return surrogateCameraFailure()
	}

	state := o.robotState.State()
	prompt := o.buildPrompt(a, state)

	resp, err := o.llm.CompleteJSON(ctx, []llmclient.Message{
		{Role: "system", Content: o.systemTemplate},
		{Role: "user", Content: prompt, ImageB64: frame},
	})
	if err != nil {
		o.logger.Warn("oracle LLM call failed", "action_id", a.ID, "error", err)
		return surrogateOracleFailure()
	}

	var v Verdict
	if err := json.Unmarshal([]byte(resp.Content), &v); err != nil {
		o.logger.Warn("oracle verdict malformed", "action_id", a.ID, "error", err, "raw", resp.Content)
		return surrogateOracleFailure()
	}
	return &v
}

func (o *Oracle) buildPrompt(a *store.Action, state hardware.State) string {
	return fmt.Sprintf(
		"SCHEDULED COMMAND: %q\nCOMPLETION MODE: %s\nATTEMPT NUMBER: %d\nROBOT STATE: elevation=%d translation=%d rotation=%d\n\nExecute this scheduled command now.",
		a.Command, a.CompletionMode, a.AttemptCount+1,
		state.ElevationPos, state.TranslationPos, state.RotationDeg,
	)
}
