package robothand

import (
	"context"
	"sync"
)

// MockController is an in-memory MotorController that remembers the last
// write per channel and per address. Reads return exactly what was written,
// which keeps tests honest about durable-write semantics.
type MockController struct {
	mu        sync.Mutex
	pwmValues map[uint8]uint16
	dataStore map[uint8][]byte
}

func NewMockController() *MockController {
	return &MockController{
		pwmValues: make(map[uint8]uint16),
		dataStore: make(map[uint8][]byte),
	}
}

func (c *MockController) WritePWM(channel uint8, value uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pwmValues[channel] = value
	return nil
}

// ReadPWM returns the last value written to channel, zero if none.
func (c *MockController) ReadPWM(channel uint8) (uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pwmValues[channel], nil
}

func (c *MockController) WriteData(address uint8, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	c.dataStore[address] = buf
	return nil
}

func (c *MockController) ReadData(address uint8, buf []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.dataStore[address]
	if !ok {
		return 0, nil
	}
	return copy(buf, data), nil
}

func (c *MockController) Close() error { return nil }

// ServoCommand is one recorded write to a MockProtocol.
type ServoCommand struct {
	Channel uint8
	Angle   float64
}

// MockProtocol is a ServoProtocol that records every command instead of
// touching hardware.
type MockProtocol struct {
	mu       sync.Mutex
	commands []ServoCommand
	fail     error
	closed   bool
}

func NewMockProtocol() *MockProtocol { return &MockProtocol{} }

// FailWith makes every subsequent command return err until cleared with nil.
func (p *MockProtocol) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail = err
}

func (p *MockProtocol) SendServoCommand(ctx context.Context, channel uint8, angle float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.commands = append(p.commands, ServoCommand{Channel: channel, Angle: angle})
	return nil
}

// Commands returns a copy of everything sent so far.
func (p *MockProtocol) Commands() []ServoCommand {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ServoCommand, len(p.commands))
	copy(out, p.commands)
	return out
}

// LastAngle reports the most recent angle written to channel.
func (p *MockProtocol) LastAngle(channel uint8) (float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.commands) - 1; i >= 0; i-- {
		if p.commands[i].Channel == channel {
			return p.commands[i].Angle, true
		}
	}
	return 0, false
}

func (p *MockProtocol) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Closed reports whether Close was called.
func (p *MockProtocol) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
