package robothand

import (
	"fmt"

	"github.com/pkg/errors"
)

// Motor is a single positioned actuator. A joint commands it in degrees and
// reads back the last commanded position; there is no encoder feedback at
// this layer.
type Motor interface {
	// SetPosition commands the motor to the given angle in degrees. Angles
	// outside the configured limits are rejected with a RangeError and the
	// motor stays at its prior position.
	SetPosition(angle float64) error

	// Position reports the last successfully commanded angle.
	Position() (float64, error)

	// Enable powers actuation. Disable cuts it; calibration and tracked
	// position are retained across the toggle.
	Enable() error
	Disable() error
	Enabled() bool

	// SetSpeed sets the motion speed in degrees per second where the
	// backend supports it. Implementations without speed control accept
	// and ignore it.
	SetSpeed(degPerSec float64) error

	// Limits reports the inclusive angle bounds.
	Limits() (min, max float64)
}

// MotorController is the channel-level backend motors write through.
// Writes are durable until overwritten.
type MotorController interface {
	WritePWM(channel uint8, value uint16) error
	ReadPWM(channel uint8) (uint16, error)
	WriteData(address uint8, data []byte) error
	ReadData(address uint8, buf []byte) (int, error)
	Close() error
}

// PwmServo drives a hobby servo through a MotorController channel, mapping
// angle linearly onto the configured pulse width range.
type PwmServo struct {
	channel    uint8
	current    float64
	enabled    bool
	minAngle   float64
	maxAngle   float64
	minPulse   uint16
	maxPulse   uint16
	controller MotorController
}

// NewPwmServo creates a servo on the given controller channel. Pulse widths
// are in microseconds; a typical hobby servo takes 500-2500.
func NewPwmServo(channel uint8, minAngle, maxAngle float64, minPulse, maxPulse uint16, controller MotorController) *PwmServo {
	return &PwmServo{
		channel:    channel,
		minAngle:   minAngle,
		maxAngle:   maxAngle,
		minPulse:   minPulse,
		maxPulse:   maxPulse,
		controller: controller,
	}
}

func (s *PwmServo) angleToPulse(angle float64) uint16 {
	normalized := (angle - s.minAngle) / (s.maxAngle - s.minAngle)
	pulseRange := float64(s.maxPulse - s.minPulse)
	return s.minPulse + uint16(normalized*pulseRange)
}

// SetPosition validates the angle, converts it to a pulse width and writes
// it to the controller. The tracked position only advances when the write
// succeeds.
func (s *PwmServo) SetPosition(angle float64) error {
	if angle < s.minAngle || angle > s.maxAngle {
		return &RangeError{
			What:  fmt.Sprintf("servo channel %d angle", s.channel),
			Value: angle,
			Min:   s.minAngle,
			Max:   s.maxAngle,
		}
	}

	if err := s.controller.WritePWM(s.channel, s.angleToPulse(angle)); err != nil {
		return errors.Wrapf(err, "servo channel %d", s.channel)
	}

	s.current = angle
	return nil
}

func (s *PwmServo) Position() (float64, error) { return s.current, nil }

func (s *PwmServo) Enable() error  { s.enabled = true; return nil }
func (s *PwmServo) Disable() error { s.enabled = false; return nil }
func (s *PwmServo) Enabled() bool  { return s.enabled }

// SetSpeed is accepted but ignored; PWM servos slew at their own rate.
func (s *PwmServo) SetSpeed(degPerSec float64) error { return nil }

func (s *PwmServo) Limits() (float64, float64) { return s.minAngle, s.maxAngle }

// StepperMotor models a stepper-driven joint with whole-step resolution
// across its angular range.
type StepperMotor struct {
	id          int
	current     float64
	enabled     bool
	minAngle    float64
	maxAngle    float64
	stepsPerRev int
}

func NewStepperMotor(id int, minAngle, maxAngle float64, stepsPerRev int) *StepperMotor {
	return &StepperMotor{
		id:          id,
		minAngle:    minAngle,
		maxAngle:    maxAngle,
		stepsPerRev: stepsPerRev,
	}
}

func (m *StepperMotor) angleToSteps(angle float64) int {
	normalized := (angle - m.minAngle) / (m.maxAngle - m.minAngle)
	return int(normalized * float64(m.stepsPerRev))
}

func (m *StepperMotor) stepsToAngle(steps int) float64 {
	normalized := float64(steps) / float64(m.stepsPerRev)
	return m.minAngle + normalized*(m.maxAngle-m.minAngle)
}

func (m *StepperMotor) StepsPerRevolution() int { return m.stepsPerRev }

// CurrentSteps reports the tracked position in steps from the low limit.
func (m *StepperMotor) CurrentSteps() int { return m.angleToSteps(m.current) }

// SetSteps commands an absolute step position, subject to the angle limits.
func (m *StepperMotor) SetSteps(steps int) error {
	return m.SetPosition(m.stepsToAngle(steps))
}

func (m *StepperMotor) SetPosition(angle float64) error {
	if angle < m.minAngle || angle > m.maxAngle {
		return &RangeError{
			What:  fmt.Sprintf("stepper %d angle", m.id),
			Value: angle,
			Min:   m.minAngle,
			Max:   m.maxAngle,
		}
	}
	m.current = angle
	return nil
}

func (m *StepperMotor) Position() (float64, error) { return m.current, nil }

func (m *StepperMotor) Enable() error  { m.enabled = true; return nil }
func (m *StepperMotor) Disable() error { m.enabled = false; return nil }
func (m *StepperMotor) Enabled() bool  { return m.enabled }

func (m *StepperMotor) SetSpeed(degPerSec float64) error { return nil }

func (m *StepperMotor) Limits() (float64, float64) { return m.minAngle, m.maxAngle }

// DCMotor models a position-servoed DC motor. Position is commanded state
// only.
type DCMotor struct {
	id       int
	current  float64
	enabled  bool
	minAngle float64
	maxAngle float64
}

func NewDCMotor(id int, minAngle, maxAngle float64) *DCMotor {
	return &DCMotor{id: id, minAngle: minAngle, maxAngle: maxAngle}
}

func (m *DCMotor) SetPosition(angle float64) error {
	if angle < m.minAngle || angle > m.maxAngle {
		return &RangeError{
			What:  fmt.Sprintf("dc motor %d angle", m.id),
			Value: angle,
			Min:   m.minAngle,
			Max:   m.maxAngle,
		}
	}
	m.current = angle
	return nil
}

func (m *DCMotor) Position() (float64, error) { return m.current, nil }

func (m *DCMotor) Enable() error  { m.enabled = true; return nil }
func (m *DCMotor) Disable() error { m.enabled = false; return nil }
func (m *DCMotor) Enabled() bool  { return m.enabled }

func (m *DCMotor) SetSpeed(degPerSec float64) error { return nil }

func (m *DCMotor) Limits() (float64, float64) { return m.minAngle, m.maxAngle }
