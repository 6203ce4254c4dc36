package robothand

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/rdk/logging"
)

// SequenceStep is one phase of a pickup. Steps run strictly in order and
// Complete is terminal.
type SequenceStep int

const (
	StepApproach SequenceStep = iota
	StepOpen
	StepGrasp
	StepLift
	StepMove
	StepRelease
	StepComplete
)

func (s SequenceStep) String() string {
	switch s {
	case StepApproach:
		return "approach"
	case StepOpen:
		return "open"
	case StepGrasp:
		return "grasp"
	case StepLift:
		return "lift"
	case StepMove:
		return "move"
	case StepRelease:
		return "release"
	case StepComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Wrist pitch commanded during the lift step.
const liftWristPitchDeg = 30.0

// Pause between per-finger grasp commands so fingers close one after
// another instead of slamming shut together.
const defaultFingerDelay = 50 * time.Millisecond

func defaultSettleDurations() map[SequenceStep]time.Duration {
	return map[SequenceStep]time.Duration{
		StepApproach: 500 * time.Millisecond,
		StepOpen:     800 * time.Millisecond,
		StepGrasp:    time.Second,
		StepLift:     800 * time.Millisecond,
		StepMove:     600 * time.Millisecond,
		StepRelease:  500 * time.Millisecond,
	}
}

// PickupSequence drives a grip pattern through the fixed
// approach/open/grasp/lift/move/release progression. Every servo write goes
// through the ServoMap; fingers without a map entry are skipped.
type PickupSequence struct {
	current     SequenceStep
	pattern     GripPattern
	logger      logging.Logger
	clk         clock.Clock
	settle      map[SequenceStep]time.Duration
	fingerDelay time.Duration
	transit     func(context.Context) error
}

func NewPickupSequence(pattern GripPattern, logger logging.Logger) *PickupSequence {
	return &PickupSequence{
		current:     StepApproach,
		pattern:     pattern,
		logger:      logger,
		clk:         clock.New(),
		settle:      defaultSettleDurations(),
		fingerDelay: defaultFingerDelay,
	}
}

// SetClock replaces the wall clock, for tests.
func (s *PickupSequence) SetClock(clk clock.Clock) { s.clk = clk }

// SetSettleDurations overrides how long each step settles before the next;
// nil restores the defaults.
func (s *PickupSequence) SetSettleDurations(settle map[SequenceStep]time.Duration) {
	if settle == nil {
		s.settle = defaultSettleDurations()
		return
	}
	s.settle = settle
}

// SetFingerDelay overrides the pause between per-finger grasp commands.
func (s *PickupSequence) SetFingerDelay(d time.Duration) { s.fingerDelay = d }

// SetTransit installs the caller-supplied motion executed during the move
// step. Without one, the move step is settle time only.
func (s *PickupSequence) SetTransit(fn func(context.Context) error) { s.transit = fn }

func (s *PickupSequence) CurrentStep() SequenceStep { return s.current }

// IsComplete is the sequence's only completion signal.
func (s *PickupSequence) IsComplete() bool { return s.current == StepComplete }

// Reset returns the sequence to the approach step.
func (s *PickupSequence) Reset() { s.current = StepApproach }

// Pattern returns the grip pattern the sequence closes with.
func (s *PickupSequence) Pattern() GripPattern { return s.pattern }

// ExecuteStep runs the action for the current step, lets the hardware
// settle, and advances to the next step. A failed action leaves the
// sequence on the same step. Calling this on a completed sequence is a
// no-op.
func (s *PickupSequence) ExecuteStep(ctx context.Context, protocol ServoProtocol, servoMap *ServoMap) error {
	step := s.current
	switch step {
	case StepApproach:
		s.logger.Infof("approaching object, stopping at %.1f cm", s.pattern.ApproachDistanceCM)
	case StepOpen:
		s.logger.Info("opening hand")
		if err := s.openHand(ctx, protocol, servoMap); err != nil {
			return err
		}
	case StepGrasp:
		s.logger.Infof("grasping with %s", s.pattern.Type)
		if err := s.graspObject(ctx, protocol, servoMap); err != nil {
			return err
		}
	case StepLift:
		s.logger.Info("lifting object")
		if err := protocol.SendServoCommand(ctx, WristPitchChannel, liftWristPitchDeg); err != nil {
			return err
		}
	case StepMove:
		s.logger.Info("moving to target position")
		if s.transit != nil {
			if err := s.transit(ctx); err != nil {
				return err
			}
		}
	case StepRelease:
		s.logger.Info("releasing object")
		if err := s.openHand(ctx, protocol, servoMap); err != nil {
			return err
		}
	case StepComplete:
		s.logger.Debug("pickup sequence already complete")
		return nil
	}

	if err := s.wait(ctx, s.settle[step]); err != nil {
		return err
	}
	s.advance()
	return nil
}

// Run executes steps until the sequence completes or ctx is canceled.
func (s *PickupSequence) Run(ctx context.Context, protocol ServoProtocol, servoMap *ServoMap) error {
	for !s.IsComplete() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.ExecuteStep(ctx, protocol, servoMap); err != nil {
			return err
		}
	}
	return nil
}

func (s *PickupSequence) advance() {
	switch s.current {
	case StepApproach:
		s.current = StepOpen
	case StepOpen:
		s.current = StepGrasp
	case StepGrasp:
		s.current = StepLift
	case StepLift:
		s.current = StepMove
	case StepMove:
		s.current = StepRelease
	case StepRelease:
		s.current = StepComplete
	}
}

func (s *PickupSequence) openHand(ctx context.Context, protocol ServoProtocol, servoMap *ServoMap) error {
	for _, finger := range AllFingers() {
		channel, servoAngle, err := servoMap.LogicalToPhysical(finger, 0, 0)
		if err != nil {
			continue
		}
		if err := protocol.SendServoCommand(ctx, channel, servoAngle); err != nil {
			return err
		}
	}
	return nil
}

func (s *PickupSequence) graspObject(ctx context.Context, protocol ServoProtocol, servoMap *ServoMap) error {
	for _, finger := range AllFingers() {
		angles := s.pattern.FingerAngles[finger]
		if len(angles) == 0 {
			continue
		}
		channel, servoAngle, err := servoMap.LogicalToPhysical(finger, 0, angles[0])
		if err != nil {
			continue
		}
		if err := protocol.SendServoCommand(ctx, channel, servoAngle); err != nil {
			return err
		}
		if err := s.wait(ctx, s.fingerDelay); err != nil {
			return err
		}
	}
	return nil
}

func (s *PickupSequence) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.clk.After(d):
		return nil
	}
}
