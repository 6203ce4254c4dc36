package robothand

import (
	"strings"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

// mockHandController builds a controller from the default config, which
// uses the mock transport.
func mockHandController(t *testing.T) *HandController {
	t.Helper()
	hc, err := NewHandController(DefaultConfig(), logging.NewTestLogger(t))
	if err != nil {
		t.Fatalf("NewHandController: %v", err)
	}
	return hc
}

// controllerPulse reads back the last pulse width written to a channel.
func controllerPulse(t *testing.T, hc *HandController, channel uint8) uint16 {
	t.Helper()
	mock, ok := hc.controller.(*MockController)
	if !ok {
		t.Fatalf("controller is %T, want *MockController", hc.controller)
	}
	pulse, err := mock.ReadPWM(channel)
	if err != nil {
		t.Fatalf("ReadPWM(%d): %v", channel, err)
	}
	return pulse
}

// TestNewHandController tests assembly from the default config.
func TestNewHandController(t *testing.T) {
	hc := mockHandController(t)

	if got := hc.Hand().FingerCount(); got != 5 {
		t.Fatalf("got %d fingers, want 5", got)
	}
	for _, id := range []FingerID{Thumb, Index, Middle, Ring, Pinky} {
		if _, ok := hc.Hand().Finger(id); !ok {
			t.Errorf("hand is missing %s finger", id)
		}
	}
	wrist := hc.Hand().Wrist()
	if wrist.pitchMotor == nil || wrist.rollMotor == nil {
		t.Error("wrist pitch and roll motors should be present")
	}
	if wrist.yawMotor != nil {
		t.Error("default config has no yaw axis")
	}
	if hc.Config() != hc.config {
		t.Error("Config should return the controller's config")
	}
}

// TestNewHandControllerUnknownFinger tests that an unrecognized finger
// name is rejected at build time.
func TestNewHandControllerUnknownFinger(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Fingers[0].Name = "palm"

	_, err := NewHandController(cfg, logging.NewTestLogger(t))
	if err == nil {
		t.Fatal("expected error for unknown finger name")
	}
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("got %T, want *ConfigError", err)
	}
	if cfgErr.Field != "fingers[0].name" {
		t.Errorf("got field %q, want fingers[0].name", cfgErr.Field)
	}
}

// TestNewHandControllerFeetech tests that the feetech protocol is
// refused as a PWM backend.
func TestNewHandControllerFeetech(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Communication.Protocol = ProtocolFeetech

	_, err := NewHandController(cfg, logging.NewTestLogger(t))
	if err == nil {
		t.Fatal("expected error for feetech protocol")
	}
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("got %T, want *ConfigError", err)
	}
	if cfgErr.Field != "communication.protocol" {
		t.Errorf("got field %q, want communication.protocol", cfgErr.Field)
	}
}

// TestHandControllerInitialize tests the enable and disable lifecycle.
func TestHandControllerInitialize(t *testing.T) {
	hc := mockHandController(t)

	finger, _ := hc.Hand().Finger(Index)
	joint, _ := finger.Joint(0)
	if joint.motor.Enabled() {
		t.Fatal("joints should start disabled")
	}

	if err := hc.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if !hc.Hand().Initialized() {
		t.Error("hand should report initialized")
	}
	if !joint.motor.Enabled() {
		t.Error("joints should be enabled after Initialize")
	}

	if err := hc.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if hc.Hand().Initialized() {
		t.Error("hand should report uninitialized after Shutdown")
	}
	if joint.motor.Enabled() {
		t.Error("joints should be disabled after Shutdown")
	}
}

// TestMoveFinger tests the angle to pulse mapping for a finger command.
func TestMoveFinger(t *testing.T) {
	hc := mockHandController(t)

	if err := hc.MoveFinger(Index, []float64{45}); err != nil {
		t.Fatalf("MoveFinger: %v", err)
	}

	// Midpoint of 0-90 maps to the midpoint of 500-2500.
	if got := controllerPulse(t, hc, 4); got != 1500 {
		t.Errorf("got pulse %d on channel 4, want 1500", got)
	}
	pose, err := hc.Hand().FingerPose(Index)
	if err != nil {
		t.Fatalf("FingerPose: %v", err)
	}
	if len(pose) != 1 || pose[0] != 45 {
		t.Errorf("got pose %v, want [45]", pose)
	}
}

// TestMoveFingerAngleCountMismatch tests that the angle count must match
// the joint count.
func TestMoveFingerAngleCountMismatch(t *testing.T) {
	hc := mockHandController(t)

	err := hc.MoveFinger(Index, []float64{45, 50})
	if err == nil {
		t.Fatal("expected error for mismatched angle count")
	}
	if !strings.Contains(err.Error(), "got 2 angles for 1 joints") {
		t.Errorf("unexpected error: %v", err)
	}
	if got := controllerPulse(t, hc, 4); got != 0 {
		t.Errorf("rejected command should not write, got pulse %d", got)
	}
}

// TestMoveFingerMissing tests commanding a finger the build lacks.
func TestMoveFingerMissing(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Fingers = cfg.Fingers[:2]

	hc, err := NewHandController(cfg, logging.NewTestLogger(t))
	if err != nil {
		t.Fatalf("NewHandController: %v", err)
	}
	err = hc.MoveFinger(Ring, []float64{10})
	if err == nil {
		t.Fatal("expected error for missing finger")
	}
	if !strings.Contains(err.Error(), "hand has no ring finger") {
		t.Errorf("unexpected error: %v", err)
	}
}

// TestOpenCloseHand tests the full extension and full closure commands.
func TestOpenCloseHand(t *testing.T) {
	hc := mockHandController(t)
	fingerChannels := []uint8{5, 4, 2, 1, 3}

	if err := hc.CloseHand(); err != nil {
		t.Fatalf("CloseHand: %v", err)
	}
	for _, ch := range fingerChannels {
		if got := controllerPulse(t, hc, ch); got != 2500 {
			t.Errorf("closed: got pulse %d on channel %d, want 2500", got, ch)
		}
	}

	if err := hc.OpenHand(); err != nil {
		t.Fatalf("OpenHand: %v", err)
	}
	for _, ch := range fingerChannels {
		if got := controllerPulse(t, hc, ch); got != 500 {
			t.Errorf("open: got pulse %d on channel %d, want 500", got, ch)
		}
	}
	pose, err := hc.Hand().FingerPose(Thumb)
	if err != nil {
		t.Fatalf("FingerPose: %v", err)
	}
	if pose[0] != 0 {
		t.Errorf("got thumb angle %.1f after open, want 0", pose[0])
	}
}

// TestGrasp tests the object size to closure mapping.
func TestGrasp(t *testing.T) {
	hc := mockHandController(t)

	// Size 40 leaves 60 degrees of closure.
	if err := hc.Grasp(40); err != nil {
		t.Fatalf("Grasp(40): %v", err)
	}
	if got := controllerPulse(t, hc, 5); got != 1833 {
		t.Errorf("got pulse %d, want 1833", got)
	}
	pose, err := hc.Hand().FingerPose(Thumb)
	if err != nil {
		t.Fatalf("FingerPose: %v", err)
	}
	if pose[0] != 60 {
		t.Errorf("got closure %.1f, want 60", pose[0])
	}

	// Oversized objects leave the hand open.
	if err := hc.Grasp(120); err != nil {
		t.Fatalf("Grasp(120): %v", err)
	}
	if got := controllerPulse(t, hc, 5); got != 500 {
		t.Errorf("got pulse %d, want 500", got)
	}

	// Tiny objects clamp at the 90 degree joint limit.
	if err := hc.Grasp(0); err != nil {
		t.Fatalf("Grasp(0): %v", err)
	}
	if got := controllerPulse(t, hc, 5); got != 2500 {
		t.Errorf("got pulse %d, want 2500", got)
	}
}

// TestMoveWrist tests wrist orientation commands and range rejection.
func TestMoveWrist(t *testing.T) {
	hc := mockHandController(t)

	if err := hc.MoveWrist(30, -10, 0); err != nil {
		t.Fatalf("MoveWrist: %v", err)
	}
	if got := controllerPulse(t, hc, WristPitchChannel); got != 2166 {
		t.Errorf("got pitch pulse %d, want 2166", got)
	}
	if got := controllerPulse(t, hc, WristRollChannel); got != 1277 {
		t.Errorf("got roll pulse %d, want 1277", got)
	}
	pitch, roll, yaw := hc.Hand().WristOrientation()
	if pitch != 30 || roll != -10 || yaw != 0 {
		t.Errorf("got orientation (%.1f, %.1f, %.1f), want (30, -10, 0)", pitch, roll, yaw)
	}

	err := hc.MoveWrist(60, 0, 0)
	if err == nil {
		t.Fatal("expected error for pitch beyond limits")
	}
	var rangeErr *RangeError
	if !errors.As(err, &rangeErr) {
		t.Fatalf("got %T, want *RangeError", err)
	}
	if rangeErr.Value != 60 || rangeErr.Min != -45 || rangeErr.Max != 45 {
		t.Errorf("unexpected range error: %v", rangeErr)
	}
	pitch, roll, _ = hc.Hand().WristOrientation()
	if pitch != 30 || roll != -10 {
		t.Errorf("rejected command should keep orientation, got (%.1f, %.1f)", pitch, roll)
	}
}

// TestHandControllerOffset tests that joint offsets shift the commanded
// pulse but not the reported pose.
func TestHandControllerOffset(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Fingers = []FingerConfig{{
		Name: "thumb",
		Joints: []JointConfig{{
			Name:     "base",
			Channel:  5,
			MinAngle: 0,
			MaxAngle: 90,
			MinPulse: 500,
			MaxPulse: 2500,
			Offset:   10,
		}},
	}}
	cfg.Wrist = WristConfig{}

	hc, err := NewHandController(cfg, logging.NewTestLogger(t))
	if err != nil {
		t.Fatalf("NewHandController: %v", err)
	}
	if err := hc.MoveFinger(Thumb, []float64{30}); err != nil {
		t.Fatalf("MoveFinger: %v", err)
	}

	// The motor sees 40 degrees; 40/90 of the pulse range is 888.
	if got := controllerPulse(t, hc, 5); got != 1388 {
		t.Errorf("got pulse %d, want 1388", got)
	}
	pose, err := hc.Hand().FingerPose(Thumb)
	if err != nil {
		t.Fatalf("FingerPose: %v", err)
	}
	if pose[0] != 30 {
		t.Errorf("got angle %.1f, want the logical 30", pose[0])
	}
}

// TestBuildMotor tests motor construction for each configured type.
func TestBuildMotor(t *testing.T) {
	controller := NewMockController()

	servo := buildMotor(&JointConfig{MotorType: MotorPwmServo, Channel: 4, MinAngle: 0, MaxAngle: 90, MinPulse: 500, MaxPulse: 2500}, controller)
	if _, ok := servo.(*PwmServo); !ok {
		t.Errorf("got %T for pwmservo, want *PwmServo", servo)
	}

	stepper := buildMotor(&JointConfig{MotorType: MotorStepper, Channel: 7, MinAngle: 0, MaxAngle: 90}, controller)
	sm, ok := stepper.(*StepperMotor)
	if !ok {
		t.Fatalf("got %T for stepper, want *StepperMotor", stepper)
	}
	if sm.StepsPerRevolution() != stepperStepsPerRev {
		t.Errorf("got %d steps per revolution, want %d", sm.StepsPerRevolution(), stepperStepsPerRev)
	}

	dc := buildMotor(&JointConfig{MotorType: MotorDC, Channel: 8, MinAngle: -45, MaxAngle: 45}, controller)
	if _, ok := dc.(*DCMotor); !ok {
		t.Errorf("got %T for dc, want *DCMotor", dc)
	}

	// An unset type falls back to the PWM servo.
	fallback := buildMotor(&JointConfig{Channel: 9, MinAngle: 0, MaxAngle: 90, MinPulse: 500, MaxPulse: 2500}, controller)
	if _, ok := fallback.(*PwmServo); !ok {
		t.Errorf("got %T for unset type, want *PwmServo", fallback)
	}
}

// TestSerialControllerClosed tests that a closed controller rejects IO
// and tolerates repeated Close calls.
func TestSerialControllerClosed(t *testing.T) {
	c := &SerialController{name: "testport"}

	if err := c.WritePWM(1, 1500); err == nil || !strings.Contains(err.Error(), "is closed") {
		t.Errorf("WritePWM on closed controller: %v", err)
	}
	if _, err := c.ReadPWM(1); err == nil || !strings.Contains(err.Error(), "is closed") {
		t.Errorf("ReadPWM on closed controller: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close on closed controller: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
