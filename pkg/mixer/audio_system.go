package mixer

import (
	"fmt"
	"strings"

	ps "github.com/mitchellh/go-ps"
)

// Device is an audio output endpoint exposed by the OS
type Device struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// AudioSystem represents the audio backend the command service drives.
// every call is a single attempt; failures are *Error values of kind ErrorNotFound or ErrorBackend
type AudioSystem interface {
	ListOutputDevices() ([]Device, error)

	// MasterVolume returns the default output device volume, 0..100
	MasterVolume() (float32, error)

	ListSessions(deviceID string) ([]RawSession, error)

	// SetGroupVolume applies volume (0..100) to every session of the group on the device
	SetGroupVolume(deviceID string, groupID GroupID, volume Volume) error

	Release() error
}

// ProcessNamer resolves a friendly process name for a pid
type ProcessNamer interface {
	ProcessName(pid int) (string, error)
}

type psProcessNamer struct{}

// NewProcessNamer returns a ProcessNamer backed by the OS process table
func NewProcessNamer() ProcessNamer {
	return psProcessNamer{}
}

func (psProcessNamer) ProcessName(pid int) (string, error) {
	process, err := ps.FindProcess(pid)
	if err != nil {
		return "", fmt.Errorf("find process name by pid: %w", err)
	}

	// the process may have exited since the backend reported its session
	if process == nil {
		return "", fmt.Errorf("find process name by pid %d: %w", pid, errNoSuchProcess)
	}

	name := process.Executable()
	if strings.HasSuffix(strings.ToLower(name), ".exe") {
		name = name[:len(name)-len(".exe")]
	}

	return name, nil
}
