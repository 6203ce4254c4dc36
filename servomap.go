package robothand

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// FingerID identifies one finger of the hand.
type FingerID int

const (
	Thumb FingerID = iota
	Index
	Middle
	Ring
	Pinky
)

// AllFingers lists every finger in thumb-to-pinky order.
func AllFingers() [5]FingerID {
	return [5]FingerID{Thumb, Index, Middle, Ring, Pinky}
}

func (f FingerID) String() string {
	switch f {
	case Thumb:
		return "thumb"
	case Index:
		return "index"
	case Middle:
		return "middle"
	case Ring:
		return "ring"
	case Pinky:
		return "pinky"
	default:
		return "unknown"
	}
}

// ParseFingerName resolves a finger name or common alias, case-insensitive.
func ParseFingerName(name string) (FingerID, bool) {
	switch strings.ToLower(name) {
	case "thumb":
		return Thumb, true
	case "index", "pointer":
		return Index, true
	case "middle":
		return Middle, true
	case "ring":
		return Ring, true
	case "pinky", "little", "left":
		return Pinky, true
	}
	return 0, false
}

// Wrist rotations ride dedicated channels outside the finger map.
const (
	WristPitchChannel uint8 = 10
	WristRollChannel  uint8 = 11
)

// ServoEntry describes how one logical joint reaches hardware: the physical
// channel, rotation sense, permitted angle window and, for PWM backends, the
// pulse range.
type ServoEntry struct {
	Channel  uint8
	Inverted bool
	MinAngle float64
	MaxAngle float64
	MinPulse uint16
	MaxPulse uint16
}

// NewServoEntry returns an entry with the full 0-180 window and the common
// 500-2500 microsecond pulse range.
func NewServoEntry(channel uint8, inverted bool) ServoEntry {
	return ServoEntry{
		Channel:  channel,
		Inverted: inverted,
		MinAngle: 0,
		MaxAngle: 180,
		MinPulse: 500,
		MaxPulse: 2500,
	}
}

// WithLimits narrows the permitted angle window.
func (e ServoEntry) WithLimits(minAngle, maxAngle float64) ServoEntry {
	e.MinAngle = minAngle
	e.MaxAngle = maxAngle
	return e
}

// TranslateAngle clamps a logical angle into the entry's window and flips
// it for inverted servos. Rotation sense is applied here and nowhere else.
func (e ServoEntry) TranslateAngle(angle float64) float64 {
	clamped := math.Max(e.MinAngle, math.Min(e.MaxAngle, angle))
	if e.Inverted {
		return 180 - clamped
	}
	return clamped
}

// LogicalAngle undoes TranslateAngle for a servo-frame angle.
func (e ServoEntry) LogicalAngle(servoAngle float64) float64 {
	if e.Inverted {
		return 180 - servoAngle
	}
	return servoAngle
}

type jointKey struct {
	finger FingerID
	joint  int
}

// ServoMap is the single translation layer from logical (finger, joint)
// coordinates to physical servo channels. Nothing else in the system knows
// which channel a joint lives on.
type ServoMap struct {
	entries map[jointKey]ServoEntry
}

func NewServoMap() *ServoMap {
	return &ServoMap{entries: make(map[jointKey]ServoEntry)}
}

// HardwareDefaultServoMap matches the channel order the reference hand is
// wired with. The index finger servo is mounted mirrored.
func HardwareDefaultServoMap() *ServoMap {
	m := NewServoMap()
	m.Insert(Ring, 0, NewServoEntry(1, false))
	m.Insert(Middle, 0, NewServoEntry(2, false))
	m.Insert(Pinky, 0, NewServoEntry(3, false))
	m.Insert(Index, 0, NewServoEntry(4, true))
	m.Insert(Thumb, 0, NewServoEntry(5, false))
	return m
}

// SimpleServoMap maps fingers onto sequential channels starting at zero,
// none inverted. Useful on breadboard rigs.
func SimpleServoMap() *ServoMap {
	m := NewServoMap()
	for i, f := range AllFingers() {
		m.Insert(f, 0, NewServoEntry(uint8(i), false))
	}
	return m
}

func (m *ServoMap) Insert(finger FingerID, joint int, entry ServoEntry) {
	m.entries[jointKey{finger, joint}] = entry
}

func (m *ServoMap) Entry(finger FingerID, joint int) (ServoEntry, bool) {
	e, ok := m.entries[jointKey{finger, joint}]
	return e, ok
}

// EntryByName resolves finger aliases before lookup.
func (m *ServoMap) EntryByName(name string, joint int) (ServoEntry, bool) {
	f, ok := ParseFingerName(name)
	if !ok {
		return ServoEntry{}, false
	}
	return m.Entry(f, joint)
}

// Channel reports the physical channel for a logical joint.
func (m *ServoMap) Channel(finger FingerID, joint int) (uint8, bool) {
	e, ok := m.Entry(finger, joint)
	if !ok {
		return 0, false
	}
	return e.Channel, true
}

// LogicalToPhysical translates a logical joint angle into the servo frame,
// returning the channel to write and the servo-frame angle.
func (m *ServoMap) LogicalToPhysical(finger FingerID, joint int, angle float64) (uint8, float64, error) {
	e, ok := m.Entry(finger, joint)
	if !ok {
		return 0, 0, &UnknownChannelError{Finger: finger, Joint: joint}
	}
	return e.Channel, e.TranslateAngle(angle), nil
}

// PhysicalToLogical recovers the logical joint and angle behind a
// servo-frame command on a channel.
func (m *ServoMap) PhysicalToLogical(channel uint8, servoAngle float64) (FingerID, int, float64, error) {
	for k, e := range m.entries {
		if e.Channel == channel {
			return k.finger, k.joint, e.LogicalAngle(servoAngle), nil
		}
	}
	return 0, 0, 0, &UnknownChannelError{Channel: channel, Reverse: true}
}

// MappedJoint pairs logical joint coordinates with their servo entry.
type MappedJoint struct {
	Finger FingerID
	Joint  int
	Entry  ServoEntry
}

// Entries returns the map contents in finger-then-joint order.
func (m *ServoMap) Entries() []MappedJoint {
	out := make([]MappedJoint, 0, len(m.entries))
	for k, e := range m.entries {
		out = append(out, MappedJoint{Finger: k.finger, Joint: k.joint, Entry: e})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Finger != out[j].Finger {
			return out[i].Finger < out[j].Finger
		}
		return out[i].Joint < out[j].Joint
	})
	return out
}

// Validate rejects duplicate channel assignments.
func (m *ServoMap) Validate() error {
	seen := make(map[uint8]jointKey, len(m.entries))
	for _, mj := range m.Entries() {
		if prev, dup := seen[mj.Entry.Channel]; dup {
			return &ConfigError{
				Field: "servo_map",
				Reason: fmt.Sprintf("channel %d assigned to both %s joint %d and %s joint %d",
					mj.Entry.Channel, prev.finger, prev.joint, mj.Finger, mj.Joint),
			}
		}
		seen[mj.Entry.Channel] = jointKey{mj.Finger, mj.Joint}
	}
	return nil
}

func (m *ServoMap) Len() int { return len(m.entries) }
