package robothand

import "github.com/pkg/errors"

// Joint couples a motor with a name and a calibration offset. The offset is
// applied at the motor boundary: commands add it, reads subtract it, and the
// reported limits shift by it, so callers work in the logical frame.
type Joint struct {
	motor  Motor
	name   string
	offset float64
}

func NewJoint(motor Motor, name string, offset float64) *Joint {
	return &Joint{motor: motor, name: name, offset: offset}
}

func (j *Joint) SetAngle(angle float64) error {
	return j.motor.SetPosition(angle + j.offset)
}

func (j *Joint) Angle() (float64, error) {
	pos, err := j.motor.Position()
	if err != nil {
		return 0, err
	}
	return pos - j.offset, nil
}

func (j *Joint) Enable() error  { return j.motor.Enable() }
func (j *Joint) Disable() error { return j.motor.Disable() }

func (j *Joint) Name() string { return j.name }

// Limits reports the joint's bounds in the logical frame.
func (j *Joint) Limits() (float64, float64) {
	min, max := j.motor.Limits()
	return min - j.offset, max - j.offset
}

// Finger is an ordered proximal-to-distal chain of joints.
type Finger struct {
	id     FingerID
	name   string
	joints []*Joint
}

func NewFinger(id FingerID, name string, joints []*Joint) *Finger {
	return &Finger{id: id, name: name, joints: joints}
}

// SetPose writes one angle per joint, proximal first. The angle count must
// match the joint count exactly.
func (f *Finger) SetPose(angles []float64) error {
	if len(angles) != len(f.joints) {
		return errors.Errorf("finger %s: got %d angles for %d joints",
			f.name, len(angles), len(f.joints))
	}
	for i, joint := range f.joints {
		if err := joint.SetAngle(angles[i]); err != nil {
			return err
		}
	}
	return nil
}

func (f *Finger) Pose() ([]float64, error) {
	pose := make([]float64, len(f.joints))
	for i, joint := range f.joints {
		a, err := joint.Angle()
		if err != nil {
			return nil, err
		}
		pose[i] = a
	}
	return pose, nil
}

func (f *Finger) Enable() error {
	for _, joint := range f.joints {
		if err := joint.Enable(); err != nil {
			return err
		}
	}
	return nil
}

func (f *Finger) Disable() error {
	for _, joint := range f.joints {
		if err := joint.Disable(); err != nil {
			return err
		}
	}
	return nil
}

func (f *Finger) ID() FingerID { return f.id }
func (f *Finger) Name() string { return f.name }

func (f *Finger) JointCount() int { return len(f.joints) }

func (f *Finger) Joint(index int) (*Joint, bool) {
	if index < 0 || index >= len(f.joints) {
		return nil, false
	}
	return f.joints[index], true
}

// Wrist holds up to three rotational motors. Absent axes are accepted and
// ignored so the same code drives two-axis and three-axis builds.
type Wrist struct {
	pitchMotor Motor
	rollMotor  Motor
	yawMotor   Motor
	pitch      float64
	roll       float64
	yaw        float64
}

func NewWrist(pitchMotor, rollMotor, yawMotor Motor) *Wrist {
	return &Wrist{pitchMotor: pitchMotor, rollMotor: rollMotor, yawMotor: yawMotor}
}

func (w *Wrist) SetOrientation(pitch, roll, yaw float64) error {
	if err := w.SetPitch(pitch); err != nil {
		return err
	}
	if err := w.SetRoll(roll); err != nil {
		return err
	}
	return w.SetYaw(yaw)
}

func (w *Wrist) SetPitch(pitch float64) error {
	if w.pitchMotor == nil {
		return nil
	}
	if err := w.pitchMotor.SetPosition(pitch); err != nil {
		return err
	}
	w.pitch = pitch
	return nil
}

func (w *Wrist) SetRoll(roll float64) error {
	if w.rollMotor == nil {
		return nil
	}
	if err := w.rollMotor.SetPosition(roll); err != nil {
		return err
	}
	w.roll = roll
	return nil
}

func (w *Wrist) SetYaw(yaw float64) error {
	if w.yawMotor == nil {
		return nil
	}
	if err := w.yawMotor.SetPosition(yaw); err != nil {
		return err
	}
	w.yaw = yaw
	return nil
}

func (w *Wrist) Orientation() (pitch, roll, yaw float64) {
	return w.pitch, w.roll, w.yaw
}

func (w *Wrist) Enable() error {
	for _, m := range []Motor{w.pitchMotor, w.rollMotor, w.yawMotor} {
		if m == nil {
			continue
		}
		if err := m.Enable(); err != nil {
			return err
		}
	}
	return nil
}

func (w *Wrist) Disable() error {
	for _, m := range []Motor{w.pitchMotor, w.rollMotor, w.yawMotor} {
		if m == nil {
			continue
		}
		if err := m.Disable(); err != nil {
			return err
		}
	}
	return nil
}

// Hand is the root aggregate: fingers, wrist and the immutable geometric
// profile the kinematics solvers consume.
type Hand struct {
	fingers     []*Finger
	wrist       *Wrist
	geometry    HandGeometry
	initialized bool
}

func NewHand(fingers []*Finger, wrist *Wrist, geometry HandGeometry) *Hand {
	return &Hand{fingers: fingers, wrist: wrist, geometry: geometry}
}

// Initialize enables every joint and the wrist. Calibration offsets are
// unaffected.
func (h *Hand) Initialize() error {
	for _, finger := range h.fingers {
		if err := finger.Enable(); err != nil {
			return err
		}
	}
	if err := h.wrist.Enable(); err != nil {
		return err
	}
	h.initialized = true
	return nil
}

func (h *Hand) Shutdown() error {
	for _, finger := range h.fingers {
		if err := finger.Disable(); err != nil {
			return err
		}
	}
	if err := h.wrist.Disable(); err != nil {
		return err
	}
	h.initialized = false
	return nil
}

func (h *Hand) Initialized() bool { return h.initialized }

func (h *Hand) SetFingerPose(id FingerID, angles []float64) error {
	finger, ok := h.Finger(id)
	if !ok {
		return errors.Errorf("hand has no %s finger", id)
	}
	return finger.SetPose(angles)
}

func (h *Hand) FingerPose(id FingerID) ([]float64, error) {
	finger, ok := h.Finger(id)
	if !ok {
		return nil, errors.Errorf("hand has no %s finger", id)
	}
	return finger.Pose()
}

func (h *Hand) SetWristOrientation(pitch, roll, yaw float64) error {
	return h.wrist.SetOrientation(pitch, roll, yaw)
}

func (h *Hand) WristOrientation() (pitch, roll, yaw float64) {
	return h.wrist.Orientation()
}

func (h *Hand) FingerCount() int { return len(h.fingers) }

func (h *Hand) Finger(id FingerID) (*Finger, bool) {
	for _, f := range h.fingers {
		if f.id == id {
			return f, true
		}
	}
	return nil, false
}

func (h *Hand) Fingers() []*Finger { return h.fingers }

func (h *Hand) Wrist() *Wrist { return h.wrist }

func (h *Hand) Geometry() HandGeometry { return h.geometry }
