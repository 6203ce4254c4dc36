package robothand

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

const (
	sysfsPwmRoot = "/sys/class/pwm"
	// Hobby servos expect a 50 Hz frame.
	servoPeriodNs = 20 * 1000 * 1000
)

type pwmLine struct {
	line     int
	linePath string
	exported bool
	enabled  bool
}

// SysfsPWMController drives servo channels through the Linux sysfs PWM
// interface. Each logical channel maps to one pwm<N> line on a single chip.
// PWM values are pulse widths in microseconds.
type SysfsPWMController struct {
	mu       sync.Mutex
	chipPath string
	lines    map[uint8]*pwmLine
}

// NewSysfsPWMController maps channels onto lines of the named chip, e.g.
// "pwmchip0". Lines are exported lazily on first write.
func NewSysfsPWMController(chipName string, channelLines map[uint8]int) (*SysfsPWMController, error) {
	if len(channelLines) == 0 {
		return nil, &ConfigError{Field: "pwm_channels", Reason: "no channel to line assignments"}
	}
	chipPath := fmt.Sprintf("%s/%s", sysfsPwmRoot, chipName)
	lines := make(map[uint8]*pwmLine, len(channelLines))
	for channel, line := range channelLines {
		lines[channel] = &pwmLine{
			line:     line,
			linePath: fmt.Sprintf("%s/pwm%d", chipPath, line),
		}
	}
	return &SysfsPWMController{chipPath: chipPath, lines: lines}, nil
}

func writeSysfsValue(filepath string, value int) error {
	// If the file needs creating, something has gone wrong with the export.
	return os.WriteFile(filepath, []byte(fmt.Sprintf("%d", value)), 0o660)
}

func readSysfsValue(filepath string) (int, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func (c *SysfsPWMController) lineFor(channel uint8) (*pwmLine, error) {
	l, ok := c.lines[channel]
	if !ok {
		return nil, errors.Errorf("no pwm line for channel %d", channel)
	}
	return l, nil
}

// export makes the line visible in sysfs and fixes the servo period.
func (c *SysfsPWMController) export(l *pwmLine) error {
	if l.exported {
		return nil
	}
	if err := writeSysfsValue(fmt.Sprintf("%s/export", c.chipPath), l.line); err != nil {
		return &HardwareError{Op: fmt.Sprintf("export pwm line %d", l.line), Err: err}
	}
	if err := writeSysfsValue(fmt.Sprintf("%s/period", l.linePath), servoPeriodNs); err != nil {
		return &HardwareError{Op: fmt.Sprintf("set period on pwm line %d", l.line), Err: err}
	}
	l.exported = true
	return nil
}

// WritePWM sets the pulse width on a channel, in microseconds. The sysfs
// duty_cycle pseudofile holds the active duration in nanoseconds; at the
// fixed 50 Hz period a servo pulse is always shorter than the frame, so
// period and duty ordering never conflicts.
func (c *SysfsPWMController) WritePWM(channel uint8, value uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, err := c.lineFor(channel)
	if err != nil {
		return err
	}
	if err := c.export(l); err != nil {
		return err
	}
	activeNs := int(value) * 1000
	if activeNs > servoPeriodNs {
		return &RangeError{What: fmt.Sprintf("channel %d pulse width", channel), Value: float64(value), Min: 0, Max: servoPeriodNs / 1000}
	}
	if err := writeSysfsValue(fmt.Sprintf("%s/duty_cycle", l.linePath), activeNs); err != nil {
		return &HardwareError{Op: fmt.Sprintf("set duty cycle on pwm line %d", l.line), Err: err}
	}
	if !l.enabled {
		if err := writeSysfsValue(fmt.Sprintf("%s/enable", l.linePath), 1); err != nil {
			return &HardwareError{Op: fmt.Sprintf("enable pwm line %d", l.line), Err: err}
		}
		l.enabled = true
	}
	return nil
}

// ReadPWM reads back the pulse width on a channel, in microseconds.
func (c *SysfsPWMController) ReadPWM(channel uint8) (uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, err := c.lineFor(channel)
	if err != nil {
		return 0, err
	}
	if !l.exported {
		return 0, nil
	}
	activeNs, err := readSysfsValue(fmt.Sprintf("%s/duty_cycle", l.linePath))
	if err != nil {
		return 0, &HardwareError{Op: fmt.Sprintf("read duty cycle on pwm line %d", l.line), Err: err}
	}
	return uint16(activeNs / 1000), nil
}

// WriteData is accepted and discarded; the sysfs transport has no register
// space behind the PWM lines.
func (c *SysfsPWMController) WriteData(address uint8, data []byte) error {
	return nil
}

// ReadData reports the full buffer as read without touching it.
func (c *SysfsPWMController) ReadData(address uint8, buf []byte) (int, error) {
	return len(buf), nil
}

// Close disables and unexports every line that was exported.
func (c *SysfsPWMController) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for _, l := range c.lines {
		if !l.exported {
			continue
		}
		if l.enabled {
			if err := writeSysfsValue(fmt.Sprintf("%s/enable", l.linePath), 0); err != nil && firstErr == nil {
				firstErr = errors.Wrapf(err, "disabling pwm line %d", l.line)
			}
			l.enabled = false
		}
		if err := writeSysfsValue(fmt.Sprintf("%s/unexport", c.chipPath), l.line); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "unexporting pwm line %d", l.line)
		}
		l.exported = false
	}
	return firstErr
}
