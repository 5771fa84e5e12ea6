// Package hardware implements the actuator command sink: the servo/stepper
// safety envelope and the ASCII serial wire format described in the
// external interfaces. It is exercised both by the Dialogue Loop's action
// dispatcher and by the Scheduled-Action Engine's verdict motion sequences.
package hardware

// ActionTuple is one entry in a Verdict's or RobotResponse's act list: a
// command id followed by its arguments, exactly as the LLM emits it.
type ActionTuple struct {
	Command CommandID
	Args    []float64
}

// CommandID is the fixed action vocabulary the LLM is allowed to emit.
type CommandID int

const (
	CmdSetTranslation CommandID = 0
	CmdSetElevation   CommandID = 1
	CmdMoveLeft       CommandID = 2
	CmdMoveRight      CommandID = 3
	CmdMoveServo      CommandID = 4
	CmdWait           CommandID = 5
)

// State is the robot's current pose, reported to the Completion Oracle and
// the Dialogue Loop's main LLM call alongside the camera frame.
type State struct {
	ElevationPos   int
	TranslationPos int
	RotationDeg    int
}
