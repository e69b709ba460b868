package mixer

import (
	"sync"
)

// fakeAudioSystem is an in-memory AudioSystem that counts every call
type fakeAudioSystem struct {
	mu sync.Mutex

	devices  []Device
	master   float32
	sessions map[string][]RawSession

	// returned by every call when set
	err error

	calls    map[string]int
	setCalls []setGroupVolumeCall
}

type setGroupVolumeCall struct {
	deviceID string
	groupID  GroupID
	volume   Volume
}

func newFakeAudioSystem() *fakeAudioSystem {
	return &fakeAudioSystem{
		sessions: map[string][]RawSession{},
		calls:    map[string]int{},
	}
}

func (f *fakeAudioSystem) record(op string) {
	f.calls[op]++
}

func (f *fakeAudioSystem) callCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeAudioSystem) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

func (f *fakeAudioSystem) setDevices(devices ...Device) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices = devices
}

func (f *fakeAudioSystem) ListOutputDevices() ([]Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ListOutputDevices")

	if f.err != nil {
		return nil, f.err
	}

	return append([]Device(nil), f.devices...), nil
}

func (f *fakeAudioSystem) MasterVolume() (float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("MasterVolume")

	if f.err != nil {
		return 0, f.err
	}

	return f.master, nil
}

func (f *fakeAudioSystem) ListSessions(deviceID string) ([]RawSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ListSessions")

	if f.err != nil {
		return nil, f.err
	}

	sessions, ok := f.sessions[deviceID]
	if !ok {
		return nil, deviceNotFoundError(deviceID)
	}

	return sessions, nil
}

func (f *fakeAudioSystem) SetGroupVolume(deviceID string, groupID GroupID, volume Volume) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("SetGroupVolume")

	if f.err != nil {
		return f.err
	}

	sessions, ok := f.sessions[deviceID]
	if !ok {
		return deviceNotFoundError(deviceID)
	}

	found := 0
	for i := range sessions {
		if sessions[i].GroupID == groupID {
			sessions[i].Volume = volume.Scalar()
			found++
		}
	}

	if found == 0 {
		return noSessionsFoundError()
	}

	f.setCalls = append(f.setCalls, setGroupVolumeCall{deviceID, groupID, volume})
	return nil
}

func (f *fakeAudioSystem) Release() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Release")
	return nil
}

// fakeNamer resolves pids from a fixed table
type fakeNamer map[int]string

func (n fakeNamer) ProcessName(pid int) (string, error) {
	if name, ok := n[pid]; ok {
		return name, nil
	}
	return "", errNoSuchProcess
}
