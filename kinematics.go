package robothand

import (
	"math"

	"github.com/golang/geo/r3"
	rdkutils "go.viam.com/rdk/utils"
)

// Position3D is a point in the hand's workspace, in centimeters.
type Position3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (p Position3D) Vec() r3.Vector { return r3.Vector{X: p.X, Y: p.Y, Z: p.Z} }

func positionFromVec(v r3.Vector) Position3D { return Position3D{X: v.X, Y: v.Y, Z: v.Z} }

func (p Position3D) DistanceTo(other Position3D) float64 {
	return p.Vec().Sub(other.Vec()).Norm()
}

// Orientation is a wrist attitude in degrees.
type Orientation struct {
	Pitch float64 `json:"pitch"`
	Roll  float64 `json:"roll"`
	Yaw   float64 `json:"yaw"`
}

// JointAngles is one commanded pose of the hand: five finger closure angles
// in degrees (0 fully open, 90 fully closed) and, when the build has wrist
// servos, the wrist pitch and roll.
type JointAngles struct {
	Thumb      float64  `json:"thumb"`
	Index      float64  `json:"index"`
	Middle     float64  `json:"middle"`
	Ring       float64  `json:"ring"`
	Pinky      float64  `json:"pinky"`
	WristPitch *float64 `json:"wrist_pitch,omitempty"`
	WristRoll  *float64 `json:"wrist_roll,omitempty"`
}

func NewJointAngles(thumb, index, middle, ring, pinky float64) JointAngles {
	return JointAngles{Thumb: thumb, Index: index, Middle: middle, Ring: ring, Pinky: pinky}
}

// OpenPose is the fully extended hand.
func OpenPose() JointAngles { return NewJointAngles(0, 0, 0, 0, 0) }

// ClosedPose is the fully closed fist.
func ClosedPose() JointAngles { return NewJointAngles(90, 90, 90, 90, 90) }

// WithWrist returns a copy with wrist pitch and roll set.
func (a JointAngles) WithWrist(pitch, roll float64) JointAngles {
	a.WristPitch = &pitch
	a.WristRoll = &roll
	return a
}

// Clone returns a copy that shares no pointers with the receiver.
func (a JointAngles) Clone() JointAngles {
	if a.WristPitch != nil {
		p := *a.WristPitch
		a.WristPitch = &p
	}
	if a.WristRoll != nil {
		r := *a.WristRoll
		a.WristRoll = &r
	}
	return a
}

func (a JointAngles) FingerAngle(id FingerID) float64 {
	switch id {
	case Thumb:
		return a.Thumb
	case Index:
		return a.Index
	case Middle:
		return a.Middle
	case Ring:
		return a.Ring
	case Pinky:
		return a.Pinky
	}
	return 0
}

func (a *JointAngles) SetFingerAngle(id FingerID, angle float64) {
	switch id {
	case Thumb:
		a.Thumb = angle
	case Index:
		a.Index = angle
	case Middle:
		a.Middle = angle
	case Ring:
		a.Ring = angle
	case Pinky:
		a.Pinky = angle
	}
}

// FingerAngles lists the five finger angles in thumb-to-pinky order.
func (a JointAngles) FingerAngles() [5]float64 {
	return [5]float64{a.Thumb, a.Index, a.Middle, a.Ring, a.Pinky}
}

// HandState couples a tracked workspace position and orientation with the
// joint angles that produced them.
type HandState struct {
	Position    Position3D  `json:"position"`
	Orientation Orientation `json:"orientation"`
	Joints      JointAngles `json:"joints"`
}

// FingerLinkLengths are the three phalanx lengths of a finger in
// centimeters, proximal to distal.
type FingerLinkLengths struct {
	Proximal float64 `json:"proximal"`
	Middle   float64 `json:"middle"`
	Distal   float64 `json:"distal"`
}

func (l FingerLinkLengths) TotalLength() float64 {
	return l.Proximal + l.Middle + l.Distal
}

// HandGeometry is the immutable geometric profile of a hand, in
// centimeters.
type HandGeometry struct {
	PalmWidth     float64           `json:"palm_width"`
	PalmLength    float64           `json:"palm_length"`
	ThumbOffsetX  float64           `json:"thumb_offset_x"`
	ThumbOffsetY  float64           `json:"thumb_offset_y"`
	FingerSpacing float64           `json:"finger_spacing"`
	ThumbLinks    FingerLinkLengths `json:"thumb_links"`
	FingerLinks   FingerLinkLengths `json:"finger_links"`
}

// DefaultHandGeometry matches the reference build.
func DefaultHandGeometry() HandGeometry {
	return HandGeometry{
		PalmWidth:     8.0,
		PalmLength:    10.0,
		ThumbOffsetX:  -2.0,
		ThumbOffsetY:  3.0,
		FingerSpacing: 2.0,
		ThumbLinks:    FingerLinkLengths{Proximal: 3.5, Middle: 2.5, Distal: 2.0},
		FingerLinks:   FingerLinkLengths{Proximal: 4.0, Middle: 3.0, Distal: 2.5},
	}
}

// MaxReach is the farthest distance from the base a grasp can close on.
func (g HandGeometry) MaxReach() float64 {
	return g.FingerLinks.TotalLength() + g.PalmLength
}

// ForwardKinematics maps joint angles to workspace positions. It is pure:
// the same angles against the same geometry and base always produce the
// same positions.
type ForwardKinematics struct {
	geometry HandGeometry
	base     Position3D
}

func NewForwardKinematics(geometry HandGeometry, base Position3D) *ForwardKinematics {
	return &ForwardKinematics{geometry: geometry, base: base}
}

// PalmCenter locates the palm from the wrist orientation alone.
func (fk *ForwardKinematics) PalmCenter(angles JointAngles) Position3D {
	var pitch, roll float64
	if angles.WristPitch != nil {
		pitch = *angles.WristPitch
	}
	if angles.WristRoll != nil {
		roll = *angles.WristRoll
	}

	pitchRad := rdkutils.DegToRad(pitch)
	rollRad := rdkutils.DegToRad(roll)

	offset := r3.Vector{
		X: fk.geometry.PalmLength * math.Cos(pitchRad) * math.Cos(rollRad),
		Y: fk.geometry.PalmLength * math.Sin(rollRad),
		Z: fk.geometry.PalmLength * math.Sin(pitchRad),
	}
	return positionFromVec(fk.base.Vec().Add(offset))
}

// FingertipPosition locates one fingertip given its closure angle. The
// extension shrinks linearly from fully extended at 0 degrees to zero at 90.
func (fk *ForwardKinematics) FingertipPosition(finger FingerID, angle float64, angles JointAngles) Position3D {
	palm := fk.PalmCenter(angles)

	links := fk.geometry.FingerLinks
	var offsetX, offsetY float64
	if finger == Thumb {
		links = fk.geometry.ThumbLinks
		offsetX = fk.geometry.ThumbOffsetX
		offsetY = fk.geometry.ThumbOffsetY
	} else {
		offsetX = (float64(finger) - 2.0) * fk.geometry.FingerSpacing
	}

	extension := links.TotalLength() * (1.0 - angle/90.0)

	return positionFromVec(palm.Vec().Add(r3.Vector{X: offsetX, Y: offsetY, Z: extension}))
}

// Fingertips locates all five fingertips in thumb-to-pinky order.
func (fk *ForwardKinematics) Fingertips(angles JointAngles) []Position3D {
	tips := make([]Position3D, 0, 5)
	for _, f := range AllFingers() {
		tips = append(tips, fk.FingertipPosition(f, angles.FingerAngle(f), angles))
	}
	return tips
}

// GraspCenter is the mean of the five fingertip positions.
func (fk *ForwardKinematics) GraspCenter(angles JointAngles) Position3D {
	var sum r3.Vector
	tips := fk.Fingertips(angles)
	for _, tip := range tips {
		sum = sum.Add(tip.Vec())
	}
	return positionFromVec(sum.Mul(1.0 / float64(len(tips))))
}

func (fk *ForwardKinematics) SetBasePosition(p Position3D) { fk.base = p }
func (fk *ForwardKinematics) BasePosition() Position3D     { return fk.base }
func (fk *ForwardKinematics) Geometry() HandGeometry       { return fk.geometry }

// Targets closer than this collapse to the open pose; there is nothing to
// reach for inside the palm.
const minGraspDistanceCM = 2.0

// InverseKinematics searches for joint angles whose grasp center lands on a
// workspace target, by gradient descent through the forward solver.
type InverseKinematics struct {
	fk *ForwardKinematics

	// MaxIterations and Tolerance bound the search and may be tuned
	// before solving.
	MaxIterations int
	Tolerance     float64
}

func NewInverseKinematics(geometry HandGeometry, base Position3D) *InverseKinematics {
	return &InverseKinematics{
		fk:            NewForwardKinematics(geometry, base),
		MaxIterations: 100,
		Tolerance:     0.5,
	}
}

// SolveGraspPosition finds joint angles that put the grasp center at
// target, starting from guess when given. Targets beyond reach fail with
// UnreachableError before any solver iteration; an exhausted iteration
// budget fails with ConvergenceError carrying the best angles found, which
// callers may still choose to execute.
func (ik *InverseKinematics) SolveGraspPosition(target Position3D, guess *JointAngles) (JointAngles, error) {
	base := ik.fk.BasePosition()
	distance := base.DistanceTo(target)

	if maxReach := ik.fk.Geometry().MaxReach(); distance > maxReach {
		return JointAngles{}, &UnreachableError{Target: target, Distance: distance, MaxReach: maxReach}
	}

	if distance < minGraspDistanceCM {
		return OpenPose(), nil
	}

	current := OpenPose()
	if guess != nil {
		current = guess.Clone()
	}

	for iter := 0; iter < ik.MaxIterations; iter++ {
		center := ik.fk.GraspCenter(current)
		if target.DistanceTo(center) < ik.Tolerance {
			return current, nil
		}

		delta := target.Vec().Sub(center.Vec())
		rate := 0.1 * (1.0 - float64(iter)/float64(ik.MaxIterations))

		// Positive z error means the target is above the grasp center,
		// so the fingers must extend (smaller angles).
		closure := delta.Z * rate * 10.0
		current.Thumb = clamp(current.Thumb-closure, 0, 90)
		current.Index = clamp(current.Index-closure, 0, 90)
		current.Middle = clamp(current.Middle-closure, 0, 90)
		current.Ring = clamp(current.Ring-closure, 0, 90)
		current.Pinky = clamp(current.Pinky-closure, 0, 90)

		if current.WristPitch != nil {
			pitch := clamp(*current.WristPitch+delta.Y*rate*5.0, -45, 45)
			current.WristPitch = &pitch
		}
		if current.WristRoll != nil {
			roll := clamp(*current.WristRoll+delta.X*rate*5.0, -45, 45)
			current.WristRoll = &roll
		}
	}

	residual := target.DistanceTo(ik.fk.GraspCenter(current))
	if residual < ik.Tolerance {
		return current, nil
	}
	return JointAngles{}, &ConvergenceError{
		Iterations: ik.MaxIterations,
		Residual:   residual,
		Best:       current,
	}
}

// SolveObjectGrasp derives a grasp directly from object size and bearing:
// closure scales with size up to an 8 cm span, the thumb and pinky close a
// little less, and the wrist points along the approach vector.
func (ik *InverseKinematics) SolveObjectGrasp(objectPos Position3D, objectSizeCM float64) (JointAngles, error) {
	closure := clamp(objectSizeCM/8.0, 0, 1)
	base := 90.0 * (1.0 - closure)

	joints := NewJointAngles(base*0.8, base, base, base, base*0.9)

	approach := objectPos.Vec().Sub(ik.fk.BasePosition().Vec())
	pitch := rdkutils.RadToDeg(math.Atan2(approach.Z, math.Hypot(approach.X, approach.Y)))
	roll := rdkutils.RadToDeg(math.Atan2(approach.Y, approach.X))

	return joints.WithWrist(clamp(pitch, -30, 30), clamp(roll, -30, 30)), nil
}

// ApproachPose is the open hand oriented toward an out-of-reach target, the
// usual fallback after an UnreachableError.
func (ik *InverseKinematics) ApproachPose(target Position3D) JointAngles {
	d := target.Vec().Sub(ik.fk.BasePosition().Vec())
	pitch := rdkutils.RadToDeg(math.Atan2(d.Z, math.Hypot(d.X, d.Y)))
	roll := rdkutils.RadToDeg(math.Atan2(d.Y, d.X))
	return OpenPose().WithWrist(clamp(pitch, -45, 45), clamp(roll, -45, 45))
}

// SetBasePosition moves the solver's notion of where the hand is mounted.
func (ik *InverseKinematics) SetBasePosition(p Position3D) { ik.fk.SetBasePosition(p) }

// Forward exposes the forward solver the search runs on.
func (ik *InverseKinematics) Forward() *ForwardKinematics { return ik.fk }

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
