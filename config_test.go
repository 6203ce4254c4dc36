package robothand

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	t.Run("fingers match the reference wiring", func(t *testing.T) {
		if len(cfg.Fingers) != 5 {
			t.Fatalf("got %d fingers, want 5", len(cfg.Fingers))
		}
		channels := map[string]uint8{
			"thumb": 5, "index": 4, "middle": 2, "ring": 1, "pinky": 3,
		}
		for _, finger := range cfg.Fingers {
			if len(finger.Joints) != 1 {
				t.Fatalf("%s: got %d joints, want 1", finger.Name, len(finger.Joints))
			}
			joint := finger.Joints[0]
			if joint.Channel != channels[finger.Name] {
				t.Errorf("%s on channel %d, want %d", finger.Name, joint.Channel, channels[finger.Name])
			}
			if joint.MinAngle != 0 || joint.MaxAngle != 90 {
				t.Errorf("%s window [%.0f, %.0f], want [0, 90]", finger.Name, joint.MinAngle, joint.MaxAngle)
			}
			if inverted := finger.Name == "index"; joint.Inverted != inverted {
				t.Errorf("%s inverted=%t, want %t", finger.Name, joint.Inverted, inverted)
			}
		}
	})

	t.Run("wrist rides the reserved channels", func(t *testing.T) {
		if cfg.Wrist.Pitch == nil || cfg.Wrist.Pitch.Channel != WristPitchChannel {
			t.Error("wrist pitch missing or on wrong channel")
		}
		if cfg.Wrist.Roll == nil || cfg.Wrist.Roll.Channel != WristRollChannel {
			t.Error("wrist roll missing or on wrong channel")
		}
		if cfg.Wrist.Pitch.MinAngle != -45 || cfg.Wrist.Pitch.MaxAngle != 45 {
			t.Errorf("pitch window [%.0f, %.0f], want [-45, 45]", cfg.Wrist.Pitch.MinAngle, cfg.Wrist.Pitch.MaxAngle)
		}
		if cfg.Wrist.Yaw != nil {
			t.Error("default build has no yaw axis")
		}
	})

	t.Run("defaults are filled", func(t *testing.T) {
		if cfg.Communication.Protocol != ProtocolMock {
			t.Errorf("protocol %q, want mock", cfg.Communication.Protocol)
		}
		if cfg.Communication.BaudRate != 115200 {
			t.Errorf("baud rate %d, want 115200", cfg.Communication.BaudRate)
		}
		if cfg.Communication.I2CAddress != 0x40 || cfg.Communication.I2CBus != 1 {
			t.Errorf("i2c %#x on bus %d, want 0x40 on bus 1", cfg.Communication.I2CAddress, cfg.Communication.I2CBus)
		}
		if cfg.Emg.Port != "mock" || cfg.Emg.Threshold != 600 {
			t.Errorf("emg %s/%d, want mock/600", cfg.Emg.Port, cfg.Emg.Threshold)
		}
		if cfg.Emg.Debounce() != 200*time.Millisecond {
			t.Errorf("debounce %v, want 200ms", cfg.Emg.Debounce())
		}
		if cfg.Vision.CameraPollInterval() != 100*time.Millisecond {
			t.Errorf("camera poll %v, want 100ms", cfg.Vision.CameraPollInterval())
		}
		if cfg.Vision.DepthWait() != 10*time.Second || cfg.Vision.DepthTimeout() != 30*time.Second {
			t.Errorf("depth wait %v timeout %v, want 10s and 30s", cfg.Vision.DepthWait(), cfg.Vision.DepthTimeout())
		}
		if cfg.Vision.FOVHorizontal != 60 || cfg.Vision.FOVVertical != 45 {
			t.Errorf("fov %.0fx%.0f, want 60x45", cfg.Vision.FOVHorizontal, cfg.Vision.FOVVertical)
		}
		if cfg.Planner.Timeout() != 30*time.Second {
			t.Errorf("planner timeout %v, want 30s", cfg.Planner.Timeout())
		}
		if cfg.Control.AutoTriggerDelay() != 2*time.Second {
			t.Errorf("auto trigger delay %v, want 2s", cfg.Control.AutoTriggerDelay())
		}
		if !cfg.Control.BestEffortIK() {
			t.Error("best-effort ik should default on")
		}
	})
}

func TestConfigSaveLoad(t *testing.T) {
	t.Run("round trips through disk", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Emg.Threshold = 700
		cfg.Communication.SerialPort = "/dev/ttyUSB0"

		path := filepath.Join(t.TempDir(), "hand.json")
		if err := cfg.Save(path); err != nil {
			t.Fatalf("save failed: %v", err)
		}

		loaded, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("load failed: %v", err)
		}
		if !reflect.DeepEqual(cfg, loaded) {
			t.Error("loaded config differs from saved config")
		}
	})

	t.Run("missing file errors", func(t *testing.T) {
		if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json")); err == nil {
			t.Fatal("loading a missing file should fail")
		}
	})

	t.Run("malformed json errors", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.json")
		if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
			t.Fatalf("writing fixture: %v", err)
		}
		_, err := LoadConfig(path)
		if err == nil || !strings.Contains(err.Error(), "parsing config") {
			t.Fatalf("got %v, want parse error", err)
		}
	})

	t.Run("invalid config is rejected on load", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "invalid.json")
		if err := os.WriteFile(path, []byte(`{"fingers": []}`), 0644); err != nil {
			t.Fatalf("writing fixture: %v", err)
		}
		if _, err := LoadConfig(path); err == nil {
			t.Fatal("config without fingers should fail validation")
		}
	})
}

func minimalFingers() []FingerConfig {
	return []FingerConfig{{
		Name:   "thumb",
		Joints: []JointConfig{{Name: "base", Channel: 1, MinAngle: 0, MaxAngle: 90}},
	}}
}

func TestConfigValidate(t *testing.T) {
	expectError := func(t *testing.T, cfg *Config, fragment string) {
		t.Helper()
		err := cfg.Validate()
		if err == nil {
			t.Fatalf("validation passed, want error containing %q", fragment)
		}
		if !strings.Contains(err.Error(), fragment) {
			t.Fatalf("error %q missing %q", err.Error(), fragment)
		}
	}

	t.Run("unknown protocol", func(t *testing.T) {
		cfg := &Config{Fingers: minimalFingers(), Communication: CommunicationConfig{Protocol: "quantum"}}
		expectError(t, cfg, "unknown protocol")
	})

	t.Run("serial transport needs a port", func(t *testing.T) {
		cfg := &Config{Fingers: minimalFingers(), Communication: CommunicationConfig{Protocol: ProtocolSerial}}
		expectError(t, cfg, "required for serial transports")
	})

	t.Run("feetech transport needs a port", func(t *testing.T) {
		cfg := &Config{Fingers: minimalFingers(), Communication: CommunicationConfig{Protocol: ProtocolFeetech}}
		expectError(t, cfg, "required for serial transports")
	})

	t.Run("feetech default baud rate", func(t *testing.T) {
		cfg := &Config{
			Fingers:       minimalFingers(),
			Communication: CommunicationConfig{Protocol: ProtocolFeetech, SerialPort: "/dev/ttyUSB0"},
		}
		if err := cfg.Validate(); err != nil {
			t.Fatalf("validation failed: %v", err)
		}
		if cfg.Communication.BaudRate != 1000000 {
			t.Errorf("baud rate %d, want 1000000", cfg.Communication.BaudRate)
		}
	})

	t.Run("no fingers", func(t *testing.T) {
		expectError(t, &Config{}, "at least one finger")
	})

	t.Run("unknown finger name", func(t *testing.T) {
		cfg := &Config{Fingers: []FingerConfig{{
			Name:   "palm",
			Joints: []JointConfig{{Channel: 1, MinAngle: 0, MaxAngle: 90}},
		}}}
		expectError(t, cfg, `unknown finger "palm"`)
	})

	t.Run("finger without joints", func(t *testing.T) {
		cfg := &Config{Fingers: []FingerConfig{{Name: "thumb"}}}
		expectError(t, cfg, "at least one joint")
	})

	t.Run("unknown motor type", func(t *testing.T) {
		cfg := &Config{Fingers: []FingerConfig{{
			Name:   "thumb",
			Joints: []JointConfig{{MotorType: "warp", Channel: 1, MinAngle: 0, MaxAngle: 90}},
		}}}
		expectError(t, cfg, "unknown motor type")
	})

	t.Run("inverted angle window", func(t *testing.T) {
		cfg := &Config{Fingers: []FingerConfig{{
			Name:   "thumb",
			Joints: []JointConfig{{Channel: 1, MinAngle: 90, MaxAngle: 0}},
		}}}
		expectError(t, cfg, "min_angle")
	})

	t.Run("inverted pulse window", func(t *testing.T) {
		cfg := &Config{Fingers: []FingerConfig{{
			Name:   "thumb",
			Joints: []JointConfig{{Channel: 1, MinAngle: 0, MaxAngle: 90, MinPulse: 2500, MaxPulse: 500}},
		}}}
		expectError(t, cfg, "min_pulse")
	})

	t.Run("duplicate channel", func(t *testing.T) {
		cfg := &Config{Fingers: []FingerConfig{
			{Name: "thumb", Joints: []JointConfig{{Channel: 5, MinAngle: 0, MaxAngle: 90}}},
			{Name: "index", Joints: []JointConfig{{Channel: 5, MinAngle: 0, MaxAngle: 90}}},
		}}
		expectError(t, cfg, "channel 5 already assigned to")
	})

	t.Run("wrist channel collides with finger", func(t *testing.T) {
		cfg := &Config{
			Fingers: minimalFingers(),
			Wrist: WristConfig{
				Pitch: &JointConfig{Channel: 1, MinAngle: -45, MaxAngle: 45},
			},
		}
		expectError(t, cfg, "channel 1 already assigned to")
	})

	t.Run("emg threshold out of range", func(t *testing.T) {
		cfg := &Config{Fingers: minimalFingers(), Emg: EmgConfig{Threshold: 2000}}
		expectError(t, cfg, "[0, 1023]")
	})

	t.Run("negative camera id", func(t *testing.T) {
		cfg := &Config{Fingers: minimalFingers(), Vision: VisionConfig{CameraID: -1}}
		expectError(t, cfg, "must not be negative")
	})

	t.Run("fov out of range", func(t *testing.T) {
		cfg := &Config{Fingers: minimalFingers(), Vision: VisionConfig{FOVHorizontal: 200}}
		expectError(t, cfg, "(0, 180)")
	})
}

func TestConfigServoMap(t *testing.T) {
	t.Run("derives the hardware map", func(t *testing.T) {
		cfg := DefaultConfig()
		m, err := cfg.ServoMap()
		if err != nil {
			t.Fatalf("servo map failed: %v", err)
		}
		if m.Len() != 5 {
			t.Fatalf("got %d entries, want 5", m.Len())
		}

		// The inverted index fully open lands at the servo's far end.
		channel, angle, err := m.LogicalToPhysical(Index, 0, 0)
		if err != nil {
			t.Fatalf("index lookup failed: %v", err)
		}
		if channel != 4 || angle != 180 {
			t.Errorf("index open -> channel %d angle %.0f, want 4 and 180", channel, angle)
		}

		// Angles beyond the configured window clamp to it.
		channel, angle, err = m.LogicalToPhysical(Ring, 0, 120)
		if err != nil {
			t.Fatalf("ring lookup failed: %v", err)
		}
		if channel != 1 || angle != 90 {
			t.Errorf("ring overdrive -> channel %d angle %.0f, want 1 and 90", channel, angle)
		}

		entry, ok := m.Entry(Thumb, 0)
		if !ok {
			t.Fatal("thumb entry missing")
		}
		if entry.MinPulse != 500 || entry.MaxPulse != 2500 {
			t.Errorf("thumb pulses [%d, %d], want [500, 2500]", entry.MinPulse, entry.MaxPulse)
		}
	})

	t.Run("rejects duplicate channels", func(t *testing.T) {
		cfg := &Config{Fingers: []FingerConfig{
			{Name: "thumb", Joints: []JointConfig{{Channel: 5, MinAngle: 0, MaxAngle: 90}}},
			{Name: "index", Joints: []JointConfig{{Channel: 5, MinAngle: 0, MaxAngle: 90}}},
		}}
		if _, err := cfg.ServoMap(); err == nil {
			t.Fatal("duplicate channels should fail")
		}
	})

	t.Run("rejects unknown finger names", func(t *testing.T) {
		cfg := &Config{Fingers: []FingerConfig{{
			Name:   "palm",
			Joints: []JointConfig{{Channel: 1, MinAngle: 0, MaxAngle: 90}},
		}}}
		if _, err := cfg.ServoMap(); err == nil {
			t.Fatal("unknown finger should fail")
		}
	})
}

func TestServoChannels(t *testing.T) {
	cfg := DefaultConfig()
	got := cfg.ServoChannels()
	want := []uint8{1, 2, 3, 4, 5, 10, 11}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("channels %v, want %v", got, want)
	}
}

func TestControlConfigBestEffortIK(t *testing.T) {
	var c ControlConfig
	if !c.BestEffortIK() {
		t.Error("unset flag should read true")
	}
	off := false
	c.ApplyBestEffortIK = &off
	if c.BestEffortIK() {
		t.Error("explicit false should read false")
	}
}
