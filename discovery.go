// discovery.go
package robothand

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/hipsterbrown/feetech-servo"
	"go.bug.st/serial/enumerator"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"
)

// Probe IDs on the servo bus: the ring finger is the lowest-numbered
// finger servo and the wrist pitch axis sits past the fingers. Channel n
// maps to bus ID n+1.
const (
	fingerProbeID = 2
	wristProbeID  = 11

	probeTimeout = 500 * time.Millisecond
)

// DiscoveredHand describes a serial port that answered a servo probe.
type DiscoveredHand struct {
	Port       string
	HasFingers bool
	HasWrist   bool
}

// DiscoverHands scans candidate serial ports for hand servos. Ports that
// fail to open or answer are skipped, not errors.
func DiscoverHands(ctx context.Context, baudRate int, logger logging.Logger) ([]DiscoveredHand, error) {
	allPorts := EnumerateSerialPorts()
	logger.Debugf("found %d serial port(s)", len(allPorts))

	candidates := FilterCandidatePorts(allPorts)
	logger.Debugf("filtered to %d candidate port(s)", len(candidates))

	var found []DiscoveredHand
	for _, portPath := range candidates {
		if err := ctx.Err(); err != nil {
			logger.Info("discovery cancelled")
			return found, err
		}

		hasFingers, hasWrist := probeServos(ctx, portPath, baudRate, logger)
		if !hasFingers && !hasWrist {
			logger.Debugf("no hand servos on %s", portPath)
			continue
		}
		logger.Infof("hand detected on %s (fingers: %v, wrist: %v)", portPath, hasFingers, hasWrist)
		found = append(found, DiscoveredHand{Port: portPath, HasFingers: hasFingers, HasWrist: hasWrist})
	}

	if len(found) == 0 {
		logger.Info("no hands discovered")
	}
	return found, nil
}

// probeServos pings one finger servo and one wrist servo on the port.
func probeServos(ctx context.Context, portPath string, baudRate int, logger logging.Logger) (bool, bool) {
	if baudRate == 0 {
		baudRate = feetechDefaultBaudRate
	}
	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     portPath,
		Baudrate: baudRate,
		Protocol: feetech.ProtocolV0,
		Timeout:  probeTimeout,
	})
	if err != nil {
		logger.Debugf("failed to open %s: %v", portPath, err)
		return false, false
	}
	defer func() {
		utils.UncheckedError(bus.Close())
	}()

	hasFingers := false
	if servo, err := bus.ServoWithModel(fingerProbeID, feetechServoModel); err == nil {
		if err := servo.Ping(ctx); err == nil {
			hasFingers = true
		}
	}

	hasWrist := false
	if servo, err := bus.ServoWithModel(wristProbeID, feetechServoModel); err == nil {
		if err := servo.Ping(ctx); err == nil {
			hasWrist = true
		}
	}

	return hasFingers, hasWrist
}

// SuggestedConfig returns a starter configuration for a discovered hand.
// The wrist section stays only when the wrist servos answered the probe.
func SuggestedConfig(hand DiscoveredHand) *Config {
	cfg := DefaultConfig()
	cfg.Communication.Protocol = ProtocolFeetech
	cfg.Communication.SerialPort = hand.Port
	cfg.Communication.BaudRate = feetechDefaultBaudRate
	if !hand.HasWrist {
		cfg.Wrist = WristConfig{}
	}
	return cfg
}

// FilterCandidatePorts keeps ports whose names match USB-serial adapters.
func FilterCandidatePorts(ports []string) []string {
	candidates := []string{}
	for _, port := range ports {
		if isCandidatePort(port) {
			candidates = append(candidates, port)
		}
	}
	return candidates
}

// isCandidatePort checks if a port matches USB-serial naming patterns.
func isCandidatePort(port string) bool {
	// Linux: /dev/ttyUSB*, /dev/ttyACM*
	if strings.HasPrefix(port, "/dev/ttyUSB") || strings.HasPrefix(port, "/dev/ttyACM") {
		return true
	}
	// macOS: /dev/tty.usbmodem*, /dev/tty.usbserial*, /dev/cu.usbmodem*, /dev/cu.usbserial*
	if strings.HasPrefix(port, "/dev/tty.usbmodem") || strings.HasPrefix(port, "/dev/tty.usbserial") ||
		strings.HasPrefix(port, "/dev/cu.usbmodem") || strings.HasPrefix(port, "/dev/cu.usbserial") {
		return true
	}
	// Windows: COM*
	return strings.HasPrefix(port, "COM")
}

// PortSuffix extracts a friendly suffix from a port path for naming:
// /dev/ttyUSB0 -> "ttyUSB0", /dev/tty.usbmodem123 -> "usbmodem123".
func PortSuffix(portPath string) string {
	base := filepath.Base(portPath)
	if strings.HasPrefix(base, "tty.usb") {
		return strings.TrimPrefix(base, "tty.")
	}
	if strings.HasPrefix(base, "cu.usb") {
		return strings.TrimPrefix(base, "cu.")
	}
	return base
}

// EnumerateSerialPorts returns every serial port on the system.
func EnumerateSerialPorts() []string {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return []string{}
	}

	var portPaths []string
	for _, port := range ports {
		portPaths = append(portPaths, port.Name)
	}
	return portPaths
}
