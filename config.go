package robothand

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/pkg/errors"
)

// Protocol selects the hardware transport.
type Protocol string

const (
	ProtocolMock    Protocol = "mock"
	ProtocolSerial  Protocol = "serial"
	ProtocolI2C     Protocol = "i2c"
	ProtocolPWM     Protocol = "pwm"
	ProtocolFeetech Protocol = "feetech"
)

func (p Protocol) Valid() bool {
	switch p {
	case ProtocolMock, ProtocolSerial, ProtocolI2C, ProtocolPWM, ProtocolFeetech:
		return true
	}
	return false
}

// MotorType selects the actuator model for one joint.
type MotorType string

const (
	MotorPwmServo MotorType = "pwmservo"
	MotorStepper  MotorType = "stepper"
	MotorDC       MotorType = "dc"
)

// JointConfig calibrates one joint: where it lives on the bus and how its
// logical angle window maps to hardware.
type JointConfig struct {
	Name      string    `json:"name"`
	MotorType MotorType `json:"motor_type"`
	Channel   uint8     `json:"channel"`
	MinAngle  float64   `json:"min_angle"`
	MaxAngle  float64   `json:"max_angle"`
	Offset    float64   `json:"offset"`
	MinPulse  int       `json:"min_pulse,omitempty"`
	MaxPulse  int       `json:"max_pulse,omitempty"`
	Inverted  bool      `json:"inverted,omitempty"`
}

type FingerConfig struct {
	Name   string        `json:"name"`
	Joints []JointConfig `json:"joints"`
}

// WristConfig lists the wrist axes this build carries. Absent axes are
// simply not driven.
type WristConfig struct {
	Pitch *JointConfig `json:"pitch,omitempty"`
	Roll  *JointConfig `json:"roll,omitempty"`
	Yaw   *JointConfig `json:"yaw,omitempty"`
}

type CommunicationConfig struct {
	Protocol   Protocol      `json:"protocol"`
	SerialPort string        `json:"serial_port,omitempty"`
	BaudRate   int           `json:"baud_rate,omitempty"`
	I2CAddress uint8         `json:"i2c_address,omitempty"`
	I2CBus     int           `json:"i2c_bus,omitempty"`
	PWMChip    string        `json:"pwm_chip,omitempty"`
	PWMLines   map[uint8]int `json:"pwm_lines,omitempty"`
}

type EmgConfig struct {
	Port           string `json:"port,omitempty"`
	BaudRate       int    `json:"baud_rate,omitempty"`
	Threshold      int    `json:"threshold,omitempty"`
	DebounceMS     int    `json:"debounce_ms,omitempty"`
	PollIntervalMS int    `json:"poll_interval_ms,omitempty"`
}

func (c EmgConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMS) * time.Millisecond
}

func (c EmgConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

type VisionConfig struct {
	CameraID             int      `json:"camera_id"`
	DetectorCommand      []string `json:"detector_command,omitempty"`
	DepthCommand         []string `json:"depth_command,omitempty"`
	HandPoseCommand      []string `json:"hand_pose_command,omitempty"`
	EnableHandTracking   bool     `json:"enable_hand_tracking,omitempty"`
	CameraPollIntervalMS int      `json:"camera_poll_interval_ms,omitempty"`
	DepthWaitMS          int      `json:"depth_wait_ms,omitempty"`
	DepthTimeoutMS       int      `json:"depth_timeout_ms,omitempty"`
	FOVHorizontal        float64  `json:"fov_horizontal,omitempty"`
	FOVVertical          float64  `json:"fov_vertical,omitempty"`
}

func (c VisionConfig) CameraPollInterval() time.Duration {
	return time.Duration(c.CameraPollIntervalMS) * time.Millisecond
}

// DepthWait bounds how long one control cycle waits for a depth result.
func (c VisionConfig) DepthWait() time.Duration {
	return time.Duration(c.DepthWaitMS) * time.Millisecond
}

// DepthTimeout bounds a single depth collaborator call.
func (c VisionConfig) DepthTimeout() time.Duration {
	return time.Duration(c.DepthTimeoutMS) * time.Millisecond
}

type PlannerConfig struct {
	Enable    bool   `json:"enable"`
	Model     string `json:"model,omitempty"`
	APIKey    string `json:"api_key,omitempty"`
	TimeoutMS int    `json:"timeout_ms,omitempty"`
}

func (c PlannerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

type ControlConfig struct {
	AutoTrigger        bool       `json:"auto_trigger,omitempty"`
	AutoTriggerDelayMS int        `json:"auto_trigger_delay_ms,omitempty"`
	ApplyBestEffortIK  *bool      `json:"apply_best_effort_ik,omitempty"`
	HandBasePosition   Position3D `json:"hand_base_position"`
}

func (c ControlConfig) AutoTriggerDelay() time.Duration {
	return time.Duration(c.AutoTriggerDelayMS) * time.Millisecond
}

// BestEffortIK reports whether near-miss solver angles may reach hardware.
func (c ControlConfig) BestEffortIK() bool {
	return c.ApplyBestEffortIK == nil || *c.ApplyBestEffortIK
}

// Config is the on-disk configuration artifact. Validate fills defaults and
// must pass before any hardware is touched.
type Config struct {
	Fingers       []FingerConfig      `json:"fingers"`
	Wrist         WristConfig         `json:"wrist"`
	Communication CommunicationConfig `json:"communication"`
	Emg           EmgConfig           `json:"emg"`
	Vision        VisionConfig        `json:"vision"`
	Planner       PlannerConfig       `json:"planner"`
	Control       ControlConfig       `json:"control"`
}

// DefaultConfig matches the reference hand: five single-servo fingers on the
// channels the hand is wired with, a two-axis wrist on the reserved
// channels, mock transport.
func DefaultConfig() *Config {
	finger := func(name string, channel uint8, inverted bool) FingerConfig {
		return FingerConfig{
			Name: name,
			Joints: []JointConfig{{
				Name:      "base",
				MotorType: MotorPwmServo,
				Channel:   channel,
				MinAngle:  0,
				MaxAngle:  90,
				MinPulse:  500,
				MaxPulse:  2500,
				Inverted:  inverted,
			}},
		}
	}
	wristJoint := func(name string, channel uint8) *JointConfig {
		return &JointConfig{
			Name:      name,
			MotorType: MotorPwmServo,
			Channel:   channel,
			MinAngle:  -45,
			MaxAngle:  45,
			MinPulse:  500,
			MaxPulse:  2500,
		}
	}

	cfg := &Config{
		Fingers: []FingerConfig{
			finger("thumb", 5, false),
			finger("index", 4, true),
			finger("middle", 2, false),
			finger("ring", 1, false),
			finger("pinky", 3, false),
		},
		Wrist: WristConfig{
			Pitch: wristJoint("pitch", WristPitchChannel),
			Roll:  wristJoint("roll", WristRollChannel),
		},
		Communication: CommunicationConfig{Protocol: ProtocolMock},
	}
	// Fills the remaining defaults; a config this function builds is valid.
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	return cfg
}

// LoadConfig reads, parses and validates a configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config")
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "parsing config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the configuration as indented JSON.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshaling config")
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrap(err, "writing config")
	}
	return nil
}

// Validate fills defaults, then range-checks. The checks cover everything
// the hardware layers assume: known protocol, consistent angle and pulse
// bounds, and channel assignments unique across fingers and wrist.
func (c *Config) Validate() error {
	if c.Communication.Protocol == "" {
		c.Communication.Protocol = ProtocolMock
	}
	if !c.Communication.Protocol.Valid() {
		return &ConfigError{Field: "communication.protocol", Reason: fmt.Sprintf("unknown protocol %q", c.Communication.Protocol)}
	}
	if c.Communication.BaudRate == 0 {
		if c.Communication.Protocol == ProtocolFeetech {
			c.Communication.BaudRate = feetechDefaultBaudRate
		} else {
			c.Communication.BaudRate = 115200
		}
	}
	if c.Communication.I2CAddress == 0 {
		c.Communication.I2CAddress = 0x40
	}
	if c.Communication.I2CBus == 0 {
		c.Communication.I2CBus = 1
	}
	if c.Communication.PWMChip == "" {
		c.Communication.PWMChip = "pwmchip0"
	}
	switch c.Communication.Protocol {
	case ProtocolSerial, ProtocolFeetech:
		if c.Communication.SerialPort == "" {
			return &ConfigError{Field: "communication.serial_port", Reason: "required for serial transports"}
		}
	}

	if len(c.Fingers) == 0 {
		return &ConfigError{Field: "fingers", Reason: "at least one finger must be configured"}
	}
	channels := make(map[uint8]string)
	for i := range c.Fingers {
		finger := &c.Fingers[i]
		if _, ok := ParseFingerName(finger.Name); !ok {
			return &ConfigError{Field: fmt.Sprintf("fingers[%d].name", i), Reason: fmt.Sprintf("unknown finger %q", finger.Name)}
		}
		if len(finger.Joints) == 0 {
			return &ConfigError{Field: fmt.Sprintf("fingers[%d].joints", i), Reason: "at least one joint required"}
		}
		for j := range finger.Joints {
			field := fmt.Sprintf("fingers[%d].joints[%d]", i, j)
			if err := validateJoint(field, &finger.Joints[j], channels); err != nil {
				return err
			}
		}
	}
	for _, axis := range []struct {
		name  string
		joint *JointConfig
	}{
		{"wrist.pitch", c.Wrist.Pitch},
		{"wrist.roll", c.Wrist.Roll},
		{"wrist.yaw", c.Wrist.Yaw},
	} {
		if axis.joint == nil {
			continue
		}
		if err := validateJoint(axis.name, axis.joint, channels); err != nil {
			return err
		}
	}

	if c.Emg.Port == "" {
		c.Emg.Port = "mock"
	}
	if c.Emg.BaudRate == 0 {
		c.Emg.BaudRate = 115200
	}
	if c.Emg.Threshold == 0 {
		c.Emg.Threshold = 600
	}
	if c.Emg.Threshold < 0 || c.Emg.Threshold > emgMaxValue {
		return &ConfigError{Field: "emg.threshold", Reason: fmt.Sprintf("must be within [0, %d]", emgMaxValue)}
	}
	if c.Emg.DebounceMS == 0 {
		c.Emg.DebounceMS = 200
	}
	if c.Emg.PollIntervalMS == 0 {
		c.Emg.PollIntervalMS = 10
	}

	if c.Vision.CameraID < 0 {
		return &ConfigError{Field: "vision.camera_id", Reason: "must not be negative"}
	}
	if c.Vision.CameraPollIntervalMS == 0 {
		c.Vision.CameraPollIntervalMS = 100
	}
	if c.Vision.DepthWaitMS == 0 {
		c.Vision.DepthWaitMS = 10000
	}
	if c.Vision.DepthTimeoutMS == 0 {
		c.Vision.DepthTimeoutMS = 30000
	}
	if c.Vision.FOVHorizontal == 0 {
		c.Vision.FOVHorizontal = DefaultHorizontalFOV
	}
	if c.Vision.FOVVertical == 0 {
		c.Vision.FOVVertical = DefaultVerticalFOV
	}
	if c.Vision.FOVHorizontal <= 0 || c.Vision.FOVHorizontal >= 180 ||
		c.Vision.FOVVertical <= 0 || c.Vision.FOVVertical >= 180 {
		return &ConfigError{Field: "vision.fov", Reason: "field of view must be within (0, 180) degrees"}
	}

	if c.Planner.TimeoutMS == 0 {
		c.Planner.TimeoutMS = 30000
	}

	if c.Control.AutoTriggerDelayMS == 0 {
		c.Control.AutoTriggerDelayMS = 2000
	}
	if c.Control.ApplyBestEffortIK == nil {
		t := true
		c.Control.ApplyBestEffortIK = &t
	}

	return nil
}

func validateJoint(field string, jc *JointConfig, channels map[uint8]string) error {
	if jc.MotorType == "" {
		jc.MotorType = MotorPwmServo
	}
	switch jc.MotorType {
	case MotorPwmServo, MotorStepper, MotorDC:
	default:
		return &ConfigError{Field: field + ".motor_type", Reason: fmt.Sprintf("unknown motor type %q", jc.MotorType)}
	}
	if jc.MinAngle >= jc.MaxAngle {
		return &ConfigError{Field: field, Reason: fmt.Sprintf("min_angle %.1f must be below max_angle %.1f", jc.MinAngle, jc.MaxAngle)}
	}
	if jc.MotorType == MotorPwmServo {
		if jc.MinPulse == 0 {
			jc.MinPulse = 500
		}
		if jc.MaxPulse == 0 {
			jc.MaxPulse = 2500
		}
		if jc.MinPulse >= jc.MaxPulse {
			return &ConfigError{Field: field, Reason: fmt.Sprintf("min_pulse %d must be below max_pulse %d", jc.MinPulse, jc.MaxPulse)}
		}
	}
	if prev, dup := channels[jc.Channel]; dup {
		return &ConfigError{Field: field, Reason: fmt.Sprintf("channel %d already assigned to %s", jc.Channel, prev)}
	}
	channels[jc.Channel] = field
	return nil
}

// ServoMap derives the finger-to-channel translation table from the finger
// configuration. Joint indexes follow the configured proximal-to-distal
// order.
func (c *Config) ServoMap() (*ServoMap, error) {
	m := NewServoMap()
	for i := range c.Fingers {
		finger := &c.Fingers[i]
		id, ok := ParseFingerName(finger.Name)
		if !ok {
			return nil, &ConfigError{Field: fmt.Sprintf("fingers[%d].name", i), Reason: fmt.Sprintf("unknown finger %q", finger.Name)}
		}
		for j, jc := range finger.Joints {
			entry := NewServoEntry(jc.Channel, jc.Inverted).WithLimits(jc.MinAngle, jc.MaxAngle)
			entry.MinPulse = uint16(jc.MinPulse)
			entry.MaxPulse = uint16(jc.MaxPulse)
			m.Insert(id, j, entry)
		}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// ServoChannels lists every configured channel, fingers then wrist, sorted.
// The bus-servo backend pings each of these on startup.
func (c *Config) ServoChannels() []uint8 {
	var out []uint8
	for _, finger := range c.Fingers {
		for _, jc := range finger.Joints {
			out = append(out, jc.Channel)
		}
	}
	for _, axis := range []*JointConfig{c.Wrist.Pitch, c.Wrist.Roll, c.Wrist.Yaw} {
		if axis != nil {
			out = append(out, axis.Channel)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
