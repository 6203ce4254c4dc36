package robothand

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	serial "go.bug.st/serial"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"
)

const (
	// emgMaxValue is the top of the 10-bit ADC range the sensor reports.
	emgMaxValue = 1023

	emgDefaultDebounce = 200 * time.Millisecond
	emgReadTimeout     = 10 * time.Millisecond
	emgReadChunkSize   = 32
)

// EmgState tracks where the trigger sits in the activation cycle.
type EmgState int

const (
	// EmgIdle means the reader is watching for an activation.
	EmgIdle EmgState = iota
	// EmgTriggered means an activation fired and has not been consumed yet.
	EmgTriggered
	// EmgExecuting means the consumer is acting on the last activation.
	EmgExecuting
)

func (s EmgState) String() string {
	switch s {
	case EmgIdle:
		return "idle"
	case EmgTriggered:
		return "triggered"
	case EmgExecuting:
		return "executing"
	default:
		return "unknown"
	}
}

// EmgReader turns a stream of muscle-sensor readings into debounced trigger
// events. The sensor prints one decimal value per line; readings at or above
// the threshold fire a trigger, at most once per debounce window.
//
// With port name "mock" (or empty) no serial port is opened and readings
// arrive only through InjectValue.
type EmgReader struct {
	mu          sync.Mutex
	port        serial.Port
	name        string
	buffer      []byte
	threshold   int
	debounce    time.Duration
	lastTrigger time.Time
	state       EmgState
	clk         clock.Clock
	logger      logging.Logger
}

func NewEmgReader(portName string, baudRate, threshold int, logger logging.Logger) (*EmgReader, error) {
	r := &EmgReader{
		name:      portName,
		threshold: threshold,
		debounce:  emgDefaultDebounce,
		state:     EmgIdle,
		clk:       clock.New(),
		logger:    logger,
	}
	if portName == "" || portName == "mock" {
		logger.Debug("emg reader running in mock mode")
		return r, nil
	}

	mode := &serial.Mode{
		BaudRate: baudRate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, &HardwareError{Op: fmt.Sprintf("opening emg port %s", portName), Err: err}
	}
	if err := port.SetReadTimeout(emgReadTimeout); err != nil {
		utils.UncheckedError(port.Close())
		return nil, &HardwareError{Op: "configuring emg read timeout", Err: err}
	}
	r.port = port
	return r, nil
}

// SetClock replaces the wall clock, for tests.
func (r *EmgReader) SetClock(clk clock.Clock) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clk = clk
}

func (r *EmgReader) SetThreshold(threshold int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.threshold = threshold
}

func (r *EmgReader) Threshold() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.threshold
}

func (r *EmgReader) SetDebounce(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.debounce = d
}

func (r *EmgReader) State() EmgState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *EmgReader) SetState(state EmgState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = state
}

// ReadValue performs one bounded port read and returns a complete sample if
// a full line arrived. Timeouts and non-numeric lines yield ok=false.
func (r *EmgReader) ReadValue() (int, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readValueLocked()
}

func (r *EmgReader) readValueLocked() (int, bool, error) {
	if r.port == nil {
		return 0, false, nil
	}

	chunk := make([]byte, emgReadChunkSize)
	n, err := r.port.Read(chunk)
	if err != nil {
		return 0, false, &HardwareError{Op: fmt.Sprintf("reading emg port %s", r.name), Err: err}
	}
	if n == 0 {
		return 0, false, nil
	}
	r.buffer = append(r.buffer, chunk[:n]...)

	idx := bytes.IndexByte(r.buffer, '\n')
	if idx < 0 {
		return 0, false, nil
	}
	line := strings.TrimSpace(string(r.buffer[:idx]))
	r.buffer = append(r.buffer[:0], r.buffer[idx+1:]...)

	value, err := strconv.Atoi(line)
	if err != nil || value < 0 {
		// Sensor firmware mixes debug text into the stream; skip it.
		return 0, false, nil
	}
	if value > emgMaxValue {
		value = emgMaxValue
	}
	return value, true, nil
}

// Poll reads one sample and reports whether it fired a trigger.
func (r *EmgReader) Poll() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	value, ok, err := r.readValueLocked()
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return r.triggerLocked(value), nil
}

// InjectValue feeds a synthetic reading through the same trigger logic as
// Poll. Auto-trigger mode and tests use this path.
func (r *EmgReader) InjectValue(value int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.triggerLocked(value)
}

func (r *EmgReader) triggerLocked(value int) bool {
	if value < r.threshold || r.state != EmgIdle {
		return false
	}
	if !r.lastTrigger.IsZero() && r.clk.Since(r.lastTrigger) < r.debounce {
		return false
	}
	r.state = EmgTriggered
	r.lastTrigger = r.clk.Now()
	return true
}

func (r *EmgReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.port == nil {
		return nil
	}
	err := r.port.Close()
	r.port = nil
	return err
}
