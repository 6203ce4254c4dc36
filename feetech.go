package robothand

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/hipsterbrown/feetech-servo"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"
)

const (
	feetechDefaultBaudRate = 1000000
	feetechServoModel      = "sts3215"
	feetechTicksPerRev     = 4096
)

// FeetechProtocol drives STS3215 bus servos as a ServoProtocol. Channels
// map onto the daisy-chained bus instead of discrete PWM lines.
type FeetechProtocol struct {
	mu     sync.Mutex
	bus    *feetech.Bus
	servos map[uint8]*feetech.Servo
	logger logging.Logger
}

// NewFeetechProtocol opens the servo bus and pings every mapped channel so
// wiring faults surface at startup rather than mid-motion.
func NewFeetechProtocol(ctx context.Context, portName string, baudRate int, channels []uint8, logger logging.Logger) (*FeetechProtocol, error) {
	if baudRate == 0 {
		baudRate = feetechDefaultBaudRate
	}
	busConfig := feetech.BusConfig{
		Port:     portName,
		Baudrate: baudRate,
		Protocol: feetech.ProtocolV0,
		Timeout:  time.Second,
	}
	bus, err := feetech.NewBus(busConfig)
	if err != nil {
		return nil, &HardwareError{Op: fmt.Sprintf("open servo bus on %s", portName), Err: err}
	}

	servos := make(map[uint8]*feetech.Servo, len(channels))
	for _, channel := range channels {
		// Bus servo IDs start at 1; channel n maps to ID n+1.
		servo, err := bus.ServoWithModel(int(channel)+1, feetechServoModel)
		if err != nil {
			utils.UncheckedError(bus.Close())
			return nil, &HardwareError{Op: fmt.Sprintf("create servo for channel %d", channel), Err: err}
		}
		if err := servo.Ping(ctx); err != nil {
			utils.UncheckedError(bus.Close())
			return nil, &HardwareError{Op: fmt.Sprintf("ping servo %d", int(channel)+1), Err: err}
		}
		if err := servo.Enable(ctx); err != nil {
			utils.UncheckedError(bus.Close())
			return nil, &HardwareError{Op: fmt.Sprintf("enable torque on servo %d", int(channel)+1), Err: err}
		}
		servos[channel] = servo
	}
	logger.Infof("servo bus ready on %s with %d servos", portName, len(servos))

	return &FeetechProtocol{
		bus:    bus,
		servos: servos,
		logger: logger,
	}, nil
}

// servoTicks maps a [0,180] command angle onto the middle half of the
// servo's 4096-tick revolution, so 90 degrees sits at mechanical center.
func servoTicks(angle float64) int {
	return int(math.Round((angle + 90) * feetechTicksPerRev / 360))
}

func (p *FeetechProtocol) SendServoCommand(ctx context.Context, channel uint8, angle float64) error {
	if angle < 0 || angle > 180 {
		return &RangeError{What: fmt.Sprintf("channel %d servo angle", channel), Value: angle, Min: 0, Max: 180}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	servo, ok := p.servos[channel]
	if !ok {
		return errors.Errorf("no bus servo for channel %d", channel)
	}
	if err := servo.SetPosition(ctx, servoTicks(angle)); err != nil {
		return &HardwareError{Op: fmt.Sprintf("set position on channel %d", channel), Err: err}
	}
	p.logger.Debugf("channel %d -> %.1f degrees (%d ticks)", channel, angle, servoTicks(angle))
	return nil
}

func (p *FeetechProtocol) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bus == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for channel, servo := range p.servos {
		if err := servo.Disable(ctx); err != nil {
			p.logger.Warnf("disabling servo on channel %d: %v", channel, err)
		}
	}
	err := p.bus.Close()
	p.bus = nil
	if err != nil {
		return errors.Wrap(err, "closing servo bus")
	}
	return nil
}
