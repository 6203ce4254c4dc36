package robothand

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"
)

// ServoProtocol sends angle commands to servo channels over some transport.
type ServoProtocol interface {
	// SendServoCommand moves the servo on the given channel to an angle in degrees.
	SendServoCommand(ctx context.Context, channel uint8, angle float64) error
	Close() error
}

const (
	serialReadTimeout = 500 * time.Millisecond
	// Opening the port resets Arduino-style boards; wait for the bootloader.
	boardResetWait  = 2 * time.Second
	ackInitialWait  = 200 * time.Millisecond
	ackWindow       = 300 * time.Millisecond
	ackPollInterval = 10 * time.Millisecond
)

// TextSerialProtocol speaks the line-oriented "S<channel>:<angle>\n" command
// format understood by the hand's microcontroller firmware.
type TextSerialProtocol struct {
	mu     sync.Mutex
	port   serial.Port
	name   string
	logger logging.Logger
}

// NewTextSerialProtocol opens the named serial port and waits out the board
// reset before returning a ready protocol.
func NewTextSerialProtocol(ctx context.Context, portName string, baudRate int, logger logging.Logger) (*TextSerialProtocol, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, &HardwareError{Op: fmt.Sprintf("open serial port %s", portName), Err: err}
	}
	if err := port.SetReadTimeout(serialReadTimeout); err != nil {
		utils.UncheckedError(port.Close())
		return nil, &HardwareError{Op: "set serial read timeout", Err: err}
	}

	logger.Infof("opened %s at %d baud, waiting for board reset", portName, baudRate)
	if !utils.SelectContextOrWait(ctx, boardResetWait) {
		utils.UncheckedError(port.Close())
		return nil, ctx.Err()
	}

	p := &TextSerialProtocol{
		port:   port,
		name:   portName,
		logger: logger,
	}
	p.drainStartupOutput()
	return p, nil
}

// drainStartupOutput discards whatever the firmware printed while booting.
func (p *TextSerialProtocol) drainStartupOutput() {
	buf := make([]byte, 256)
	n, err := p.port.Read(buf)
	if err != nil || n == 0 {
		return
	}
	p.logger.Debugf("startup output: %q", strings.TrimSpace(string(buf[:n])))
}

// SendServoCommand writes one command line and listens briefly for an
// acknowledgement. A missing ack is not an error; the firmware only replies
// when it has something to say.
func (p *TextSerialProtocol) SendServoCommand(ctx context.Context, channel uint8, angle float64) error {
	if angle < 0 || angle > 180 {
		return &RangeError{What: fmt.Sprintf("channel %d servo angle", channel), Value: angle, Min: 0, Max: 180}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	cmd := fmt.Sprintf("S%d:%d\n", channel, int(angle))
	if _, err := p.port.Write([]byte(cmd)); err != nil {
		return &HardwareError{Op: fmt.Sprintf("write command to %s", p.name), Err: err}
	}
	if err := p.port.Drain(); err != nil {
		return &HardwareError{Op: fmt.Sprintf("drain %s", p.name), Err: err}
	}
	p.logger.Debugf("sent %q", strings.TrimSpace(cmd))

	if !utils.SelectContextOrWait(ctx, ackInitialWait) {
		return ctx.Err()
	}
	p.readAck(ctx, channel)
	return nil
}

// readAck collects response bytes for a short window and logs them.
func (p *TextSerialProtocol) readAck(ctx context.Context, channel uint8) {
	var response []byte
	buf := make([]byte, 256)
	deadline := time.Now().Add(ackWindow)
	for time.Now().Before(deadline) && len(response) < 256 {
		n, err := p.port.Read(buf)
		if err != nil {
			break
		}
		if n > 0 {
			response = append(response, buf[:n]...)
		}
		if !utils.SelectContextOrWait(ctx, ackPollInterval) {
			return
		}
	}
	if len(response) == 0 {
		p.logger.Debugf("no ack for channel %d", channel)
		return
	}
	text := strings.TrimSpace(string(response))
	if strings.Contains(strings.ToUpper(text), "ERR") {
		p.logger.Warnf("channel %d reported error: %s", channel, text)
		return
	}
	p.logger.Debugf("channel %d ack: %s", channel, text)
}

func (p *TextSerialProtocol) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.port == nil {
		return nil
	}
	err := p.port.Close()
	p.port = nil
	if err != nil {
		return errors.Wrapf(err, "closing serial port %s", p.name)
	}
	return nil
}

const (
	pwmProtocolMinPulseUS = 500
	pwmProtocolMaxPulseUS = 2500
)

// PWMServoProtocol drives servos through a channel-level PWM backend,
// mapping the 0-180 degree range onto the standard pulse band.
type PWMServoProtocol struct {
	controller MotorController
	logger     logging.Logger
}

func NewPWMServoProtocol(controller MotorController, logger logging.Logger) *PWMServoProtocol {
	return &PWMServoProtocol{controller: controller, logger: logger}
}

func (p *PWMServoProtocol) SendServoCommand(ctx context.Context, channel uint8, angle float64) error {
	if angle < 0 || angle > 180 {
		return &RangeError{What: fmt.Sprintf("channel %d servo angle", channel), Value: angle, Min: 0, Max: 180}
	}
	pulse := uint16(pwmProtocolMinPulseUS + (angle/180)*(pwmProtocolMaxPulseUS-pwmProtocolMinPulseUS))
	if err := p.controller.WritePWM(channel, pulse); err != nil {
		return errors.Wrapf(err, "servo channel %d", channel)
	}
	p.logger.Debugf("channel %d -> %.0f° (%dµs)", channel, angle, pulse)
	return nil
}

func (p *PWMServoProtocol) Close() error { return p.controller.Close() }

// NewServoProtocol builds the ServoProtocol for the configured transport.
func NewServoProtocol(ctx context.Context, cfg *Config, logger logging.Logger) (ServoProtocol, error) {
	comm := cfg.Communication
	switch comm.Protocol {
	case ProtocolMock:
		logger.Debug("using mock servo protocol")
		return NewMockProtocol(), nil
	case ProtocolSerial:
		return NewTextSerialProtocol(ctx, comm.SerialPort, comm.BaudRate, logger)
	case ProtocolFeetech:
		return NewFeetechProtocol(ctx, comm.SerialPort, comm.BaudRate, cfg.ServoChannels(), logger)
	case ProtocolI2C, ProtocolPWM:
		controller, err := newMotorController(comm, logger)
		if err != nil {
			return nil, err
		}
		return NewPWMServoProtocol(controller, logger), nil
	default:
		return nil, &ConfigError{Field: "communication.protocol", Reason: fmt.Sprintf("unknown protocol %q", comm.Protocol)}
	}
}
