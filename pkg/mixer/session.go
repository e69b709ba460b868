package mixer

import (
	"encoding/json"
	"fmt"
	"math"
)

// SessionState mirrors the OS activity state of an audio session
type SessionState int

const (
	SessionActive SessionState = iota
	SessionInactive
	SessionExpired
)

// UnknownProcessID marks a raw session whose owning process couldn't be resolved by the backend
const UnknownProcessID = -1

const (
	// MinVolume and MaxVolume bound every volume that crosses the wire
	MinVolume = 0.0
	MaxVolume = 100.0
)

var sessionStateNames = map[SessionState]string{
	SessionActive:   "active",
	SessionInactive: "inactive",
	SessionExpired:  "expired",
}

func (s SessionState) String() string {
	if name, ok := sessionStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("SessionState(%d)", int(s))
}

// MarshalJSON writes the state as a lowercase string
func (s SessionState) MarshalJSON() ([]byte, error) {
	name, ok := sessionStateNames[s]
	if !ok {
		return nil, fmt.Errorf("marshal session state: unknown state %d", int(s))
	}
	return json.Marshal(name)
}

// UnmarshalJSON accepts the lowercase names produced by MarshalJSON
func (s *SessionState) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("unmarshal session state: %w", err)
	}

	for state, candidate := range sessionStateNames {
		if candidate == name {
			*s = state
			return nil
		}
	}

	return fmt.Errorf("unmarshal session state: unknown state %q", name)
}

// GroupID is the string form of the OS grouping identity shared by cooperating sessions
type GroupID string

func (g GroupID) String() string {
	return string(g)
}

// RawSession is one audio session as reported by the backend for a device.
// it only lives for the duration of a listing call
type RawSession struct {
	ProcessID int
	GroupID   GroupID

	// scalar 0.0..1.0, NaN when the backend couldn't produce a number
	Volume float32
	Muted  bool
	State  SessionState
}

// SessionGroup is the client-visible aggregate of every session sharing a grouping identity
type SessionGroup struct {
	ID          GroupID      `json:"id"`
	DisplayName string       `json:"display_name"`
	VolumeLevel float32      `json:"volume_level"`
	State       SessionState `json:"state"`
	Muted       bool         `json:"muted"`
}

// Volume is a volume level in the closed range [MinVolume, MaxVolume]
type Volume float32

// NewVolume validates v and returns it as a Volume
func NewVolume(v float64) (Volume, error) {
	vol := Volume(v)
	if err := vol.Validate(); err != nil {
		return 0, err
	}
	return vol, nil
}

// Validate reports a validation error when the volume lies outside its range
func (v Volume) Validate() error {
	f := float64(v)
	if math.IsNaN(f) || f < MinVolume || f > MaxVolume {
		return validationError("volume must be between %.1f and %.1f", MinVolume, MaxVolume)
	}
	return nil
}

// Scalar converts the level into the 0.0..1.0 range used by the OS mixers
func (v Volume) Scalar() float32 {
	s := float32(v) / MaxVolume
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// UnmarshalJSON refuses out-of-range values, so a decoded Volume is always valid
func (v *Volume) UnmarshalJSON(data []byte) error {
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}

	vol, err := NewVolume(f)
	if err != nil {
		return err
	}

	*v = vol
	return nil
}
