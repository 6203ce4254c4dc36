package robothand

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	serial "go.bug.st/serial"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"
)

const (
	serialControllerTimeout = 100 * time.Millisecond

	// Whole steps per revolution for the stepper driver in use.
	stepperStepsPerRev = 200
)

// SerialController is a MotorController speaking the binary control frame:
// channel byte followed by the 16-bit pulse width, high byte first.
type SerialController struct {
	mu   sync.Mutex
	port serial.Port
	name string
}

func NewSerialController(portName string, baudRate int) (*SerialController, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, &HardwareError{Op: fmt.Sprintf("opening control port %s", portName), Err: err}
	}
	if err := port.SetReadTimeout(serialControllerTimeout); err != nil {
		utils.UncheckedError(port.Close())
		return nil, &HardwareError{Op: "configuring serial read timeout", Err: err}
	}
	return &SerialController{port: port, name: portName}, nil
}

func (c *SerialController) WritePWM(channel uint8, value uint16) error {
	return c.WriteData(0, []byte{channel, byte(value >> 8), byte(value)})
}

func (c *SerialController) ReadPWM(channel uint8) (uint16, error) {
	buf := make([]byte, 2)
	n, err := c.ReadData(channel, buf)
	if err != nil {
		return 0, err
	}
	if n < 2 {
		return 0, errors.Errorf("short pwm read from %s: %d bytes", c.name, n)
	}
	return uint16(buf[0])<<8 | uint16(buf[1]), nil
}

func (c *SerialController) WriteData(address uint8, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.port == nil {
		return errors.Errorf("serial controller %s is closed", c.name)
	}
	n, err := c.port.Write(data)
	if err != nil {
		return &HardwareError{Op: fmt.Sprintf("writing to %s", c.name), Err: err}
	}
	if n != len(data) {
		return errors.Errorf("wrote %d of %d bytes to %s", n, len(data), c.name)
	}
	return nil
}

func (c *SerialController) ReadData(address uint8, buf []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.port == nil {
		return 0, errors.Errorf("serial controller %s is closed", c.name)
	}
	n, err := c.port.Read(buf)
	if err != nil {
		return 0, &HardwareError{Op: fmt.Sprintf("reading from %s", c.name), Err: err}
	}
	return n, nil
}

func (c *SerialController) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.port == nil {
		return nil
	}
	err := c.port.Close()
	c.port = nil
	return errors.Wrapf(err, "closing %s", c.name)
}

// newMotorController builds the channel-level backend for the configured
// transport. Bus servos carry their own protocol and have no PWM channels.
func newMotorController(cfg CommunicationConfig, logger logging.Logger) (MotorController, error) {
	switch cfg.Protocol {
	case ProtocolMock:
		logger.Debug("using mock motor controller")
		return NewMockController(), nil
	case ProtocolSerial:
		return NewSerialController(cfg.SerialPort, cfg.BaudRate)
	case ProtocolI2C:
		return NewI2CController(cfg.I2CAddress, cfg.I2CBus)
	case ProtocolPWM:
		return NewSysfsPWMController(cfg.PWMChip, cfg.PWMLines)
	case ProtocolFeetech:
		return nil, &ConfigError{Field: "communication.protocol", Reason: "feetech bus servos are driven through the servo protocol, not PWM channels"}
	default:
		return nil, &ConfigError{Field: "communication.protocol", Reason: fmt.Sprintf("unknown protocol %q", cfg.Protocol)}
	}
}

func buildMotor(jc *JointConfig, controller MotorController) Motor {
	switch jc.MotorType {
	case MotorStepper:
		return NewStepperMotor(int(jc.Channel), jc.MinAngle, jc.MaxAngle, stepperStepsPerRev)
	case MotorDC:
		return NewDCMotor(int(jc.Channel), jc.MinAngle, jc.MaxAngle)
	default:
		return NewPwmServo(jc.Channel, jc.MinAngle, jc.MaxAngle, uint16(jc.MinPulse), uint16(jc.MaxPulse), controller)
	}
}

// HandController assembles the hand from configuration and exposes the
// manual motion surface. All joints share one MotorController.
type HandController struct {
	hand       *Hand
	controller MotorController
	config     *Config
	logger     logging.Logger
}

func NewHandController(cfg *Config, logger logging.Logger) (*HandController, error) {
	controller, err := newMotorController(cfg.Communication, logger)
	if err != nil {
		return nil, err
	}

	fingers := make([]*Finger, 0, len(cfg.Fingers))
	for i := range cfg.Fingers {
		fc := &cfg.Fingers[i]
		id, ok := ParseFingerName(fc.Name)
		if !ok {
			utils.UncheckedError(controller.Close())
			return nil, &ConfigError{Field: fmt.Sprintf("fingers[%d].name", i), Reason: fmt.Sprintf("unknown finger %q", fc.Name)}
		}
		joints := make([]*Joint, 0, len(fc.Joints))
		for j := range fc.Joints {
			jc := &fc.Joints[j]
			joints = append(joints, NewJoint(buildMotor(jc, controller), jc.Name, jc.Offset))
		}
		fingers = append(fingers, NewFinger(id, fc.Name, joints))
	}

	var pitchMotor, rollMotor, yawMotor Motor
	if jc := cfg.Wrist.Pitch; jc != nil {
		pitchMotor = buildMotor(jc, controller)
	}
	if jc := cfg.Wrist.Roll; jc != nil {
		rollMotor = buildMotor(jc, controller)
	}
	if jc := cfg.Wrist.Yaw; jc != nil {
		yawMotor = buildMotor(jc, controller)
	}

	hand := NewHand(fingers, NewWrist(pitchMotor, rollMotor, yawMotor), DefaultHandGeometry())
	return &HandController{
		hand:       hand,
		controller: controller,
		config:     cfg,
		logger:     logger,
	}, nil
}

// Initialize enables every joint. Must be called before motion commands.
func (hc *HandController) Initialize() error {
	if err := hc.hand.Initialize(); err != nil {
		return err
	}
	hc.logger.Infof("hand initialized: %d fingers, protocol %s",
		hc.hand.FingerCount(), hc.config.Communication.Protocol)
	return nil
}

// Shutdown disables the joints and releases the transport.
func (hc *HandController) Shutdown() error {
	err := hc.hand.Shutdown()
	if cerr := hc.controller.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// MoveFinger writes one angle per joint of the finger, proximal first.
func (hc *HandController) MoveFinger(id FingerID, angles []float64) error {
	return hc.hand.SetFingerPose(id, angles)
}

func (hc *HandController) MoveWrist(pitch, roll, yaw float64) error {
	return hc.hand.SetWristOrientation(pitch, roll, yaw)
}

// OpenHand extends every finger fully.
func (hc *HandController) OpenHand() error {
	for _, finger := range hc.hand.Fingers() {
		pose := make([]float64, finger.JointCount())
		if err := finger.SetPose(pose); err != nil {
			return err
		}
	}
	return nil
}

// CloseHand curls every finger to full closure.
func (hc *HandController) CloseHand() error {
	for _, finger := range hc.hand.Fingers() {
		pose := make([]float64, finger.JointCount())
		for i := range pose {
			pose[i] = 90
		}
		if err := finger.SetPose(pose); err != nil {
			return err
		}
	}
	return nil
}

// Grasp closes around an object. objectSize is a 0-100 scale where larger
// objects leave the fingers more open.
func (hc *HandController) Grasp(objectSize float64) error {
	closure := clamp(100-objectSize, 0, 90)
	hc.logger.Debugf("grasp: object size %.0f, closure %.0f°", objectSize, closure)
	for _, finger := range hc.hand.Fingers() {
		pose := make([]float64, finger.JointCount())
		for i := range pose {
			pose[i] = closure
		}
		if err := finger.SetPose(pose); err != nil {
			return err
		}
	}
	return nil
}

func (hc *HandController) Hand() *Hand { return hc.hand }

func (hc *HandController) Config() *Config { return hc.config }
