package robothand

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/d2r2/go-i2c"
	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// PCA9685 register map.
const (
	pcaRegMode1    = 0x00
	pcaRegPrescale = 0xFE
	pcaRegLed0OnL  = 0x06

	pcaMode1Sleep   = 0x10
	pcaMode1AutoInc = 0x20
	pcaMode1Restart = 0x80

	pcaOscillatorHz = 25000000
	pwmUpdateRateHz = 50
	pwmPeriodMicros = 1000000 / pwmUpdateRateHz
	pwmTickCount    = 4096
)

// I2CController drives a PCA9685-style 16-channel PWM chip over I2C.
// PWM values are pulse widths in microseconds.
type I2CController struct {
	mu   sync.Mutex
	dev  *i2c.I2C
	addr uint8
	bus  int
}

// NewI2CController opens the I2C bus and configures the chip for 50 Hz
// servo output.
func NewI2CController(addr uint8, bus int) (*I2CController, error) {
	dev, err := i2c.NewI2C(addr, bus)
	if err != nil {
		return nil, &HardwareError{Op: fmt.Sprintf("open i2c device 0x%02x on bus %d", addr, bus), Err: err}
	}
	c := &I2CController{dev: dev, addr: addr, bus: bus}
	if err := c.initChip(); err != nil {
		utils.UncheckedError(dev.Close())
		return nil, err
	}
	return c, nil
}

func (c *I2CController) initChip() error {
	// The prescaler can only be written while the chip sleeps.
	if err := c.dev.WriteRegU8(pcaRegMode1, pcaMode1Sleep); err != nil {
		return &HardwareError{Op: "sleep pwm chip", Err: err}
	}
	prescale := uint8(math.Round(pcaOscillatorHz/(pwmTickCount*float64(pwmUpdateRateHz))) - 1)
	if err := c.dev.WriteRegU8(pcaRegPrescale, prescale); err != nil {
		return &HardwareError{Op: "set pwm prescale", Err: err}
	}
	if err := c.dev.WriteRegU8(pcaRegMode1, pcaMode1Restart|pcaMode1AutoInc); err != nil {
		return &HardwareError{Op: "wake pwm chip", Err: err}
	}
	// Oscillator needs 500us after waking before outputs are stable.
	time.Sleep(time.Millisecond)
	return nil
}

func channelBaseRegister(channel uint8) byte {
	return byte(pcaRegLed0OnL + 4*int(channel))
}

// WritePWM sets the pulse width on a channel, in microseconds.
func (c *I2CController) WritePWM(channel uint8, value uint16) error {
	if channel > 15 {
		return &RangeError{What: "pwm channel", Value: float64(channel), Min: 0, Max: 15}
	}
	ticks := uint16(int(value) * pwmTickCount / pwmPeriodMicros)
	if ticks >= pwmTickCount {
		ticks = pwmTickCount - 1
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// With auto-increment set, one write covers ON_L through OFF_H.
	frame := []byte{
		channelBaseRegister(channel),
		0x00, 0x00,
		byte(ticks & 0xFF), byte(ticks >> 8),
	}
	if _, err := c.dev.WriteBytes(frame); err != nil {
		return &HardwareError{Op: fmt.Sprintf("write pwm channel %d", channel), Err: err}
	}
	return nil
}

// ReadPWM reads back the pulse width on a channel, in microseconds.
func (c *I2CController) ReadPWM(channel uint8) (uint16, error) {
	if channel > 15 {
		return 0, &RangeError{What: "pwm channel", Value: float64(channel), Min: 0, Max: 15}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	offReg := channelBaseRegister(channel) + 2
	ticks, err := c.dev.ReadRegU16LE(offReg)
	if err != nil {
		return 0, &HardwareError{Op: fmt.Sprintf("read pwm channel %d", channel), Err: err}
	}
	ticks &= 0x0FFF
	return uint16(int(ticks) * pwmPeriodMicros / pwmTickCount), nil
}

// WriteData writes raw bytes starting at a register address.
func (c *I2CController) WriteData(address uint8, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	frame := make([]byte, len(data)+1)
	frame[0] = address
	copy(frame[1:], data)
	n, err := c.dev.WriteBytes(frame)
	if err != nil {
		return &HardwareError{Op: fmt.Sprintf("write register 0x%02x", address), Err: err}
	}
	if n != len(frame) {
		return &HardwareError{
			Op:  fmt.Sprintf("write register 0x%02x", address),
			Err: errors.Errorf("wrote %d of %d bytes", n, len(frame)),
		}
	}
	return nil
}

// ReadData reads raw bytes starting at a register address.
func (c *I2CController) ReadData(address uint8, buf []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, n, err := c.dev.ReadRegBytes(address, len(buf))
	if err != nil {
		return 0, &HardwareError{Op: fmt.Sprintf("read register 0x%02x", address), Err: err}
	}
	copy(buf, data)
	return n, nil
}

func (c *I2CController) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dev == nil {
		return nil
	}
	err := c.dev.Close()
	c.dev = nil
	return err
}
