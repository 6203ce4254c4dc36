package robothand

import (
	"strings"
	"testing"
)

func testJoint(channel uint8, offset float64) *Joint {
	motor := NewPwmServo(channel, 0, 180, 500, 2500, NewMockController())
	return NewJoint(motor, "base", offset)
}

// TestJointOffset verifies the calibration offset is applied on write,
// removed on read, and shifts the reported limits.
func TestJointOffset(t *testing.T) {
	joint := testJoint(0, 10)

	if err := joint.SetAngle(30); err != nil {
		t.Fatalf("SetAngle failed: %v", err)
	}
	angle, err := joint.Angle()
	if err != nil {
		t.Fatalf("Angle failed: %v", err)
	}
	if angle != 30 {
		t.Fatalf("expected logical angle 30, got %.1f", angle)
	}

	min, max := joint.Limits()
	if min != -10 || max != 170 {
		t.Fatalf("expected shifted limits [-10, 170], got [%.0f, %.0f]", min, max)
	}

	// Offset pushes the motor command past its physical limit.
	if err := joint.SetAngle(175); err == nil {
		t.Fatal("expected range error when offset command exceeds motor limit")
	}
}

func TestFingerSetPoseCountMismatch(t *testing.T) {
	finger := NewFinger(Index, "index", []*Joint{testJoint(4, 0)})

	err := finger.SetPose([]float64{10, 20})
	if err == nil {
		t.Fatal("expected error for mismatched angle count")
	}
	if !strings.Contains(err.Error(), "got 2 angles for 1 joints") {
		t.Fatalf("unexpected error message: %v", err)
	}
}

func TestFingerPoseRoundTrip(t *testing.T) {
	finger := NewFinger(Middle, "middle", []*Joint{
		testJoint(2, 0),
		testJoint(6, 5),
	})

	if err := finger.SetPose([]float64{40, 60}); err != nil {
		t.Fatalf("SetPose failed: %v", err)
	}
	pose, err := finger.Pose()
	if err != nil {
		t.Fatalf("Pose failed: %v", err)
	}
	if len(pose) != 2 || pose[0] != 40 || pose[1] != 60 {
		t.Fatalf("unexpected pose: %v", pose)
	}

	if finger.JointCount() != 2 {
		t.Fatalf("expected 2 joints, got %d", finger.JointCount())
	}
	if _, ok := finger.Joint(1); !ok {
		t.Fatal("joint 1 should exist")
	}
	if _, ok := finger.Joint(2); ok {
		t.Fatal("joint 2 should not exist")
	}
	if finger.ID() != Middle || finger.Name() != "middle" {
		t.Fatalf("unexpected identity: %v %q", finger.ID(), finger.Name())
	}
}

// TestWristAbsentAxes verifies missing wrist motors are accepted and
// ignored rather than failing the whole orientation command.
func TestWristAbsentAxes(t *testing.T) {
	pitchMotor := NewPwmServo(10, -45, 45, 500, 2500, NewMockController())
	wrist := NewWrist(pitchMotor, nil, nil)

	if err := wrist.SetOrientation(10, 20, 30); err != nil {
		t.Fatalf("SetOrientation failed: %v", err)
	}
	pitch, roll, yaw := wrist.Orientation()
	if pitch != 10 {
		t.Fatalf("expected pitch 10, got %.1f", pitch)
	}
	if roll != 0 || yaw != 0 {
		t.Fatalf("absent axes should stay zero, got roll %.1f yaw %.1f", roll, yaw)
	}
}

// TestWristRejectedCommandKeepsOrientation verifies a rejected pitch leaves
// the tracked orientation at its prior value.
func TestWristRejectedCommandKeepsOrientation(t *testing.T) {
	pitchMotor := NewPwmServo(10, -45, 45, 500, 2500, NewMockController())
	wrist := NewWrist(pitchMotor, nil, nil)

	if err := wrist.SetPitch(20); err != nil {
		t.Fatalf("SetPitch failed: %v", err)
	}
	if err := wrist.SetPitch(60); err == nil {
		t.Fatal("expected range error for pitch beyond limit")
	}
	pitch, _, _ := wrist.Orientation()
	if pitch != 20 {
		t.Fatalf("expected pitch to stay 20, got %.1f", pitch)
	}
}

func testHand() *Hand {
	fingers := []*Finger{
		NewFinger(Thumb, "thumb", []*Joint{testJoint(5, 0)}),
		NewFinger(Index, "index", []*Joint{testJoint(4, 0)}),
	}
	wrist := NewWrist(
		NewPwmServo(10, -45, 45, 500, 2500, NewMockController()),
		NewPwmServo(11, -45, 45, 500, 2500, NewMockController()),
		nil,
	)
	return NewHand(fingers, wrist, DefaultHandGeometry())
}

func TestHandInitializeShutdown(t *testing.T) {
	hand := testHand()

	if hand.Initialized() {
		t.Fatal("hand should start uninitialized")
	}
	if err := hand.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if !hand.Initialized() {
		t.Fatal("hand should be initialized")
	}

	finger, _ := hand.Finger(Thumb)
	joint, _ := finger.Joint(0)
	if err := joint.SetAngle(45); err != nil {
		t.Fatalf("SetAngle after init failed: %v", err)
	}

	if err := hand.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if hand.Initialized() {
		t.Fatal("hand should be uninitialized after shutdown")
	}
}

func TestHandFingerPose(t *testing.T) {
	hand := testHand()

	if err := hand.SetFingerPose(Index, []float64{75}); err != nil {
		t.Fatalf("SetFingerPose failed: %v", err)
	}
	pose, err := hand.FingerPose(Index)
	if err != nil {
		t.Fatalf("FingerPose failed: %v", err)
	}
	if len(pose) != 1 || pose[0] != 75 {
		t.Fatalf("unexpected pose: %v", pose)
	}

	if err := hand.SetFingerPose(Ring, []float64{10}); err == nil {
		t.Fatal("expected error for missing finger")
	} else if !strings.Contains(err.Error(), "hand has no ring finger") {
		t.Fatalf("unexpected error message: %v", err)
	}

	if hand.FingerCount() != 2 {
		t.Fatalf("expected 2 fingers, got %d", hand.FingerCount())
	}
	if hand.Geometry().PalmLength != 10 {
		t.Fatalf("unexpected geometry: %+v", hand.Geometry())
	}
}

func TestHandWristOrientation(t *testing.T) {
	hand := testHand()

	if err := hand.SetWristOrientation(15, -20, 0); err != nil {
		t.Fatalf("SetWristOrientation failed: %v", err)
	}
	pitch, roll, yaw := hand.WristOrientation()
	if pitch != 15 || roll != -20 || yaw != 0 {
		t.Fatalf("unexpected orientation: (%.1f, %.1f, %.1f)", pitch, roll, yaw)
	}
}
