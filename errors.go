package robothand

import "fmt"

// ConfigError reports an invalid or missing configuration value. These are
// fatal at startup; nothing tries to run with a bad config.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
}

// RangeError reports a commanded value outside its permitted range. The
// command is rejected and the prior state is preserved.
type RangeError struct {
	What  string
	Value float64
	Min   float64
	Max   float64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s %.2f out of range [%.2f, %.2f]", e.What, e.Value, e.Min, e.Max)
}

// HardwareError reports a failure talking to a bus, device or servo.
type HardwareError struct {
	Op  string
	Err error
}

func (e *HardwareError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("hardware: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("hardware: %s", e.Op)
}

func (e *HardwareError) Unwrap() error { return e.Err }

// UnreachableError reports an inverse-kinematics target beyond the
// reachable workspace. It is returned before any solver iteration runs.
type UnreachableError struct {
	Target   Position3D
	Distance float64
	MaxReach float64
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("target (%.1f, %.1f, %.1f) unreachable: distance %.1fcm exceeds max reach %.1fcm",
		e.Target.X, e.Target.Y, e.Target.Z, e.Distance, e.MaxReach)
}

// ConvergenceError reports that the iterative IK solver ran out of
// iterations before meeting tolerance. Best holds the closest joint
// solution found so callers may apply it anyway.
type ConvergenceError struct {
	Iterations int
	Residual   float64
	Best       JointAngles
}

func (e *ConvergenceError) Error() string {
	return fmt.Sprintf("ik did not converge after %d iterations (residual %.2fcm)",
		e.Iterations, e.Residual)
}

// CollaboratorError reports a failure of an external helper: the detector
// or depth subprocess, the pose estimator, or the plan provider.
type CollaboratorError struct {
	Name string
	Err  error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s: %v", e.Name, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

// UnknownChannelError reports a servo-map lookup with no matching entry,
// in either direction.
type UnknownChannelError struct {
	Finger  FingerID
	Joint   int
	Channel uint8
	Reverse bool
}

func (e *UnknownChannelError) Error() string {
	if e.Reverse {
		return fmt.Sprintf("servo map: no entry for channel %d", e.Channel)
	}
	return fmt.Sprintf("servo map: no channel for %s joint %d", e.Finger, e.Joint)
}
