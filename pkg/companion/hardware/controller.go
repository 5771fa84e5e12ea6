package hardware

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
)

const (
	minStepperDeg = -180
	maxStepperDeg = 180

	microsteps       = 8
	fullStepsPerRev  = 200
	stepsPerRevTotal = fullStepsPerRev * microsteps
)

const (
	elevationMotorPort   = 8
	translationMotorPort = 0
)

// Port is the serial transport the Controller writes ASCII commands to. No
// example in the reference corpus imports a serial-port library, so the
// transport is left as a plain io.Writer seam; the caller supplies a real
// tty/serial handle (e.g. an *os.File) or a no-op writer when no hardware
// is attached.
type Port io.Writer

// Controller tracks servo/stepper position and enforces the safety
// envelope from the external interfaces: servo clamp [0,100], rotation
// envelope [-180,180] (a stepper move that would leave it is rejected),
// and a per-call maximum servo delta.
type Controller struct {
	mu     sync.Mutex
	port   Port
	logger *slog.Logger

	maxServoChange int

	elevationPos   int
	translationPos int
	rotationDeg    int
}

// NewController wires a Controller to port. maxServoChange bounds the
// per-call servo delta (defaults to 20 units per the external interfaces,
// used when maxServoChange <= 0).
func NewController(port Port, maxServoChange int, logger *slog.Logger) *Controller {
	if maxServoChange <= 0 {
		maxServoChange = 20
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		port:           port,
		maxServoChange: maxServoChange,
		logger:         logger.With("component", "hardware"),
	}
}

// State returns the controller's current pose.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		ElevationPos:   c.elevationPos,
		TranslationPos: c.translationPos,
		RotationDeg:    c.rotationDeg,
	}
}

func clampServo(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// SetElevation moves the elevation servo to an absolute position,
// clamping the target and capping the delta to maxServoChange.
func (c *Controller) SetElevation(value int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setAbsolute(elevationMotorPort, value, &c.elevationPos)
}

// SetTranslation moves the translation servo to an absolute position,
// clamping the target and capping the delta to maxServoChange.
func (c *Controller) SetTranslation(value int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setAbsolute(translationMotorPort, value, &c.translationPos)
}

func (c *Controller) setAbsolute(channel int, value int, current *int) error {
	target := clampServo(value)
	delta := target - *current
	if delta == 0 {
		return nil
	}
	if delta > c.maxServoChange {
		delta = c.maxServoChange
	}
	if delta < -c.maxServoChange {
		delta = -c.maxServoChange
	}
	newPos := *current + delta
	if err := c.writeServo(channel, newPos); err != nil {
		return err
	}
	*current = newPos
	return nil
}

// MoveServo writes a direct, unaccumulated servo command (command id 4);
// it does not update the elevation/translation position trackers.
func (c *Controller) MoveServo(channel, value int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeServo(channel, clampServo(value))
}

func (c *Controller) writeServo(channel, value int) error {
	if channel < 0 || channel > 15 {
		return fmt.Errorf("servo channel %d out of range 0-15", channel)
	}
	return c.write(fmt.Sprintf("s:%d:%d\n", channel, value))
}

// MoveLeft rotates the stepper left (relative degrees), silently
// no-op-ing when the rotation envelope would be exceeded.
func (c *Controller) MoveLeft(degrees float64) error {
	return c.moveStepper("left", degrees)
}

// MoveRight rotates the stepper right (relative degrees), silently
// no-op-ing when the rotation envelope would be exceeded.
func (c *Controller) MoveRight(degrees float64) error {
	return c.moveStepper("right", degrees)
}

func (c *Controller) moveStepper(direction string, degrees float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	degrees = absFloat(degrees)
	var newRotation int
	if direction == "left" {
		newRotation = c.rotationDeg - int(degrees)
	} else {
		newRotation = c.rotationDeg + int(degrees)
	}

	if newRotation < minStepperDeg || newRotation > maxStepperDeg {
		c.logger.Debug("stepper move exceeds rotation envelope, no-op", "direction", direction, "degrees", degrees)
		return nil
	}

	steps := stepCount(degrees)
	if err := c.write(fmt.Sprintf("step:%s:%d\n", direction, steps)); err != nil {
		return err
	}
	c.rotationDeg = newRotation
	return nil
}

// stepCount converts a rotation in degrees to a microstep count, per the
// external interfaces' default 8-microstep, 200-full-step motor: steps =
// round(|deg| * 1600 / 360), floored to 1 when degrees > 0.01.
func stepCount(degrees float64) int {
	steps := int(degrees*float64(stepsPerRevTotal)/360.0 + 0.5)
	if steps == 0 && degrees > 0.01 {
		steps = 1
	}
	return steps
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func (c *Controller) write(line string) error {
	if c.port == nil {
		c.logger.Warn("no hardware port attached, dropping command", "command", line)
		return nil
	}
	if _, err := c.port.Write([]byte(line)); err != nil {
		c.logger.Error("hardware write failed", "error", err)
		return fmt.Errorf("write hardware command: %w", err)
	}
	return nil
}
