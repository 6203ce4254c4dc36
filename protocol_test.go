package robothand

import (
	"context"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

// TestPWMServoProtocolPulseMapping tests the degree-to-pulse conversion
// against the standard 500-2500 microsecond band.
func TestPWMServoProtocolPulseMapping(t *testing.T) {
	controller := NewMockController()
	protocol := NewPWMServoProtocol(controller, logging.NewTestLogger(t))
	ctx := context.Background()

	pulses := map[float64]uint16{
		0:   500,
		45:  1000,
		90:  1500,
		180: 2500,
	}
	for angle, want := range pulses {
		if err := protocol.SendServoCommand(ctx, 3, angle); err != nil {
			t.Fatalf("command at %.0f° failed: %v", angle, err)
		}
		got, err := controller.ReadPWM(3)
		if err != nil {
			t.Fatalf("readback failed: %v", err)
		}
		if got != want {
			t.Errorf("angle %.0f°: pulse %d, want %d", angle, got, want)
		}
	}
}

// TestPWMServoProtocolRange tests that out-of-band angles are rejected
// before any write.
func TestPWMServoProtocolRange(t *testing.T) {
	controller := NewMockController()
	protocol := NewPWMServoProtocol(controller, logging.NewTestLogger(t))
	ctx := context.Background()

	err := protocol.SendServoCommand(ctx, 2, 181)
	var rangeErr *RangeError
	if !errors.As(err, &rangeErr) {
		t.Fatalf("got %v, want RangeError", err)
	}
	if rangeErr.Value != 181 || rangeErr.Min != 0 || rangeErr.Max != 180 {
		t.Errorf("range error %+v, want value 181 in [0, 180]", rangeErr)
	}

	if err := protocol.SendServoCommand(ctx, 2, -1); err == nil {
		t.Fatal("negative angle accepted")
	}

	if pulse, _ := controller.ReadPWM(2); pulse != 0 {
		t.Errorf("rejected command wrote pulse %d", pulse)
	}
}

// TestTextSerialProtocolRange tests the angle guard shared by all serial
// transports.
func TestTextSerialProtocolRange(t *testing.T) {
	p := &TextSerialProtocol{name: "test", logger: logging.NewTestLogger(t)}

	err := p.SendServoCommand(context.Background(), 1, 200)
	var rangeErr *RangeError
	if !errors.As(err, &rangeErr) {
		t.Fatalf("got %v, want RangeError", err)
	}

	// Closing without a port is a no-op.
	if err := p.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
}

// TestNewServoProtocolMock tests the factory's mock path.
func TestNewServoProtocolMock(t *testing.T) {
	cfg := DefaultConfig()
	protocol, err := NewServoProtocol(context.Background(), cfg, logging.NewTestLogger(t))
	if err != nil {
		t.Fatalf("factory failed: %v", err)
	}
	if _, ok := protocol.(*MockProtocol); !ok {
		t.Fatalf("got %T, want *MockProtocol", protocol)
	}
}

// TestNewServoProtocolUnknown tests the factory's rejection of protocols
// that slipped past validation.
func TestNewServoProtocolUnknown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Communication.Protocol = "telepathy"

	_, err := NewServoProtocol(context.Background(), cfg, logging.NewTestLogger(t))
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("got %v, want ConfigError", err)
	}
	if cfgErr.Field != "communication.protocol" {
		t.Errorf("field %q, want communication.protocol", cfgErr.Field)
	}
}

// TestNewMotorControllerMock tests the channel-backend factory's mock path.
func TestNewMotorControllerMock(t *testing.T) {
	controller, err := newMotorController(CommunicationConfig{Protocol: ProtocolMock}, logging.NewTestLogger(t))
	if err != nil {
		t.Fatalf("factory failed: %v", err)
	}
	if _, ok := controller.(*MockController); !ok {
		t.Fatalf("got %T, want *MockController", controller)
	}
}

// TestNewMotorControllerFeetech tests that bus servos cannot be driven as
// PWM channels.
func TestNewMotorControllerFeetech(t *testing.T) {
	_, err := newMotorController(CommunicationConfig{Protocol: ProtocolFeetech}, logging.NewTestLogger(t))
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("got %v, want ConfigError", err)
	}
	if want := "servo protocol, not PWM channels"; !strings.Contains(err.Error(), want) {
		t.Errorf("error %q missing %q", err.Error(), want)
	}
}

// TestServoTicks tests the bus-servo tick mapping: 90 degrees is mechanical
// center.
func TestServoTicks(t *testing.T) {
	ticks := map[float64]int{
		0:   1024,
		45:  1536,
		90:  2048,
		180: 3072,
	}
	for angle, want := range ticks {
		if got := servoTicks(angle); got != want {
			t.Errorf("angle %.0f°: %d ticks, want %d", angle, got, want)
		}
	}
}
