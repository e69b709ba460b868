package mixer

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"unsafe"

	ole "github.com/go-ole/go-ole"
	wca "github.com/moutend/go-wca"
	"go.uber.org/zap"
)

// CoInitializeEx returns S_FALSE when the thread already has a COM apartment. that still needs balancing
const comAlreadyInitialized = 1

// wcaAudioSystem drives the Windows Core Audio APIs. every operation runs in its own
// COM scope on a locked OS thread and releases every interface it acquired
type wcaAudioSystem struct {
	logger *zap.SugaredLogger

	// event context passed along with volume changes so they can be told apart from user changes
	eventCtx *ole.GUID
}

// NewAudioSystem creates the Windows Core Audio backend
func NewAudioSystem(logger *zap.SugaredLogger) (AudioSystem, error) {
	as := &wcaAudioSystem{
		logger:   logger.Named("wca"),
		eventCtx: ole.NewGUID("{5C3A8A6E-2F47-4D3B-9C52-6F1D0E7B4A21}"),
	}

	as.logger.Debug("Created WCA audio system instance")

	return as, nil
}

func (as *wcaAudioSystem) withCOM(f func() error) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := ole.CoInitializeEx(0, ole.COINIT_MULTITHREADED); err != nil {
		oleError := &ole.OleError{}
		if !errors.As(err, &oleError) || oleError.Code() != comAlreadyInitialized {
			as.logger.Warnw("Failed to call CoInitializeEx", "error", err)
			return backendError("Failed to initialize COM", err)
		}
	}
	defer ole.CoUninitialize()

	return f()
}

func (as *wcaAudioSystem) ListOutputDevices() ([]Device, error) {
	devices := []Device{}

	err := as.withCOM(func() error {
		return as.iterateOutputDevices(func(id string, endpoint *wca.IMMDevice) (bool, error) {
			devices = append(devices, Device{
				ID:   id,
				Name: as.friendlyName(endpoint),
			})
			return true, nil
		})
	})
	if err != nil {
		return nil, err
	}

	return devices, nil
}

func (as *wcaAudioSystem) MasterVolume() (float32, error) {
	var level float32

	err := as.withCOM(func() error {
		enumerator, err := newDeviceEnumerator()
		if err != nil {
			return err
		}
		defer enumerator.Release()

		var endpoint *wca.IMMDevice
		if err := enumerator.GetDefaultAudioEndpoint(wca.ERender, wca.EConsole, &endpoint); err != nil {
			return backendError("Failed to get default audio endpoint", err)
		}
		defer endpoint.Release()

		var endpointVolume *wca.IAudioEndpointVolume
		if err := endpoint.Activate(wca.IID_IAudioEndpointVolume, wca.CLSCTX_ALL, nil, &endpointVolume); err != nil {
			return backendError("Failed to activate endpoint volume", err)
		}
		defer endpointVolume.Release()

		var scalar float32
		if err := endpointVolume.GetMasterVolumeLevelScalar(&scalar); err != nil {
			return backendError("Failed to get master volume", err)
		}

		if !math.IsNaN(float64(scalar)) {
			level = scalar * MaxVolume
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return level, nil
}

func (as *wcaAudioSystem) ListSessions(deviceID string) ([]RawSession, error) {
	sessions := []RawSession{}

	err := as.withCOM(func() error {
		return as.iterateSessions(deviceID, func(control *wca.IAudioSessionControl, volume *wca.ISimpleAudioVolume, groupID GroupID, pid int) error {
			sessions = append(sessions, as.rawSession(control, volume, groupID, pid))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	as.logger.Debugw("Listed audio sessions", "deviceID", deviceID, "count", len(sessions))

	return sessions, nil
}

func (as *wcaAudioSystem) SetGroupVolume(deviceID string, groupID GroupID, volume Volume) error {
	return as.withCOM(func() error {
		found := 0

		err := as.iterateSessions(deviceID, func(_ *wca.IAudioSessionControl, simpleVolume *wca.ISimpleAudioVolume, sessionGroupID GroupID, _ int) error {
			if sessionGroupID != groupID {
				return nil
			}

			if err := simpleVolume.SetMasterVolume(volume.Scalar(), as.eventCtx); err != nil {
				return backendError("Failed to set session volume", err)
			}

			found++
			return nil
		})
		if err != nil {
			return err
		}

		if found == 0 {
			return noSessionsFoundError()
		}

		as.logger.Debugw("Adjusted group volume", "groupID", groupID, "sessions", found, "to", fmt.Sprintf("%.2f", float32(volume)))

		return nil
	})
}

func (as *wcaAudioSystem) Release() error {
	as.logger.Debug("Released WCA audio system instance")
	return nil
}

func newDeviceEnumerator() (*wca.IMMDeviceEnumerator, error) {
	var enumerator *wca.IMMDeviceEnumerator

	if err := wca.CoCreateInstance(
		wca.CLSID_MMDeviceEnumerator,
		0,
		wca.CLSCTX_ALL,
		wca.IID_IMMDeviceEnumerator,
		&enumerator,
	); err != nil {
		return nil, backendError("Failed to create device enumerator", err)
	}

	return enumerator, nil
}

// iterateOutputDevices calls f for every active render endpoint until f returns false.
// the endpoint is released after f returns
func (as *wcaAudioSystem) iterateOutputDevices(f func(id string, endpoint *wca.IMMDevice) (bool, error)) error {
	enumerator, err := newDeviceEnumerator()
	if err != nil {
		return err
	}
	defer enumerator.Release()

	var collection *wca.IMMDeviceCollection
	if err := enumerator.EnumAudioEndpoints(wca.ERender, wca.DEVICE_STATE_ACTIVE, &collection); err != nil {
		return backendError("Failed to enumerate audio endpoints", err)
	}
	defer collection.Release()

	var count uint32
	if err := collection.GetCount(&count); err != nil {
		return backendError("Failed to count audio endpoints", err)
	}

	for idx := uint32(0); idx < count; idx++ {
		var endpoint *wca.IMMDevice
		if err := collection.Item(idx, &endpoint); err != nil {
			return backendError("Failed to get audio endpoint", err)
		}

		var id string
		if err := endpoint.GetId(&id); err != nil {
			endpoint.Release()
			return backendError("Failed to get audio endpoint id", err)
		}

		more, err := f(id, endpoint)
		endpoint.Release()

		if err != nil {
			return err
		}
		if !more {
			break
		}
	}

	return nil
}

func (as *wcaAudioSystem) friendlyName(endpoint *wca.IMMDevice) string {
	var propertyStore *wca.IPropertyStore
	if err := endpoint.OpenPropertyStore(wca.STGM_READ, &propertyStore); err != nil {
		as.logger.Warnw("Failed to open endpoint property store", "error", err)
		return ""
	}
	defer propertyStore.Release()

	value := &wca.PROPVARIANT{}
	if err := propertyStore.GetValue(&wca.PKEY_Device_FriendlyName, value); err != nil {
		as.logger.Warnw("Failed to get endpoint friendly name", "error", err)
		return ""
	}

	return value.String()
}

// iterateSessions walks every session of a device. interfaces handed to f are released after it returns
func (as *wcaAudioSystem) iterateSessions(
	deviceID string,
	f func(control *wca.IAudioSessionControl, volume *wca.ISimpleAudioVolume, groupID GroupID, pid int) error,
) error {
	var sessionManager *wca.IAudioSessionManager2

	found := false
	err := as.iterateOutputDevices(func(id string, endpoint *wca.IMMDevice) (bool, error) {
		if id != deviceID {
			return true, nil
		}

		found = true
		if err := endpoint.Activate(wca.IID_IAudioSessionManager2, wca.CLSCTX_ALL, nil, &sessionManager); err != nil {
			return false, backendError("Failed to activate session manager", err)
		}

		return false, nil
	})
	if err != nil {
		return err
	}

	if !found {
		return deviceNotFoundError(deviceID)
	}
	defer sessionManager.Release()

	var sessionEnumerator *wca.IAudioSessionEnumerator
	if err := sessionManager.GetSessionEnumerator(&sessionEnumerator); err != nil {
		return backendError("Failed to get session enumerator", err)
	}
	defer sessionEnumerator.Release()

	var sessionCount int
	if err := sessionEnumerator.GetCount(&sessionCount); err != nil {
		return backendError("Failed to count audio sessions", err)
	}

	for sessionIdx := 0; sessionIdx < sessionCount; sessionIdx++ {
		if err := as.visitSession(sessionEnumerator, sessionIdx, f); err != nil {
			return err
		}
	}

	return nil
}

func (as *wcaAudioSystem) visitSession(
	sessionEnumerator *wca.IAudioSessionEnumerator,
	sessionIdx int,
	f func(control *wca.IAudioSessionControl, volume *wca.ISimpleAudioVolume, groupID GroupID, pid int) error,
) error {
	var control *wca.IAudioSessionControl
	if err := sessionEnumerator.GetSession(sessionIdx, &control); err != nil {
		return backendError("Failed to get audio session", err)
	}
	defer control.Release()

	dispatch, err := control.QueryInterface(wca.IID_IAudioSessionControl2)
	if err != nil {
		return backendError("Failed to query session control", err)
	}
	control2 := (*wca.IAudioSessionControl2)(unsafe.Pointer(dispatch))
	defer control2.Release()

	dispatch, err = control.QueryInterface(wca.IID_ISimpleAudioVolume)
	if err != nil {
		return backendError("Failed to query session volume", err)
	}
	simpleVolume := (*wca.ISimpleAudioVolume)(unsafe.Pointer(dispatch))
	defer simpleVolume.Release()

	var grouping ole.GUID
	if err := control.GetGroupingParam(&grouping); err != nil {
		return backendError("Failed to get session grouping param", err)
	}

	return f(control, simpleVolume, groupIDFromGUID(&grouping), as.processID(control2))
}

func (as *wcaAudioSystem) processID(control2 *wca.IAudioSessionControl2) int {
	var pid uint32

	if err := control2.GetProcessId(&pid); err != nil {
		// the system sounds session reports no single process
		if control2.IsSystemSoundsSession() == nil {
			return 0
		}

		as.logger.Debugw("Failed to get session process id", "error", err)
		return UnknownProcessID
	}

	return int(pid)
}

func (as *wcaAudioSystem) rawSession(control *wca.IAudioSessionControl, volume *wca.ISimpleAudioVolume, groupID GroupID, pid int) RawSession {
	session := RawSession{
		ProcessID: pid,
		GroupID:   groupID,
		Volume:    float32(math.NaN()),
		State:     SessionInactive,
	}

	var level float32
	if err := volume.GetMasterVolume(&level); err != nil {
		as.logger.Debugw("Failed to get session volume", "pid", pid, "error", err)
	} else {
		session.Volume = level
	}

	var muted bool
	if err := volume.GetMute(&muted); err != nil {
		as.logger.Debugw("Failed to get session mute state", "pid", pid, "error", err)
	} else {
		session.Muted = muted
	}

	var state uint32
	if err := control.GetState(&state); err != nil {
		as.logger.Debugw("Failed to get session state", "pid", pid, "error", err)
	} else {
		session.State = sessionStateFromWCA(state)
	}

	return session
}

// AudioSessionState values as declared by the Windows SDK. go-wca's own constants
// list Active before Inactive, which doesn't match what GetState reports
const (
	audioSessionStateInactive = 0
	audioSessionStateActive   = 1
	audioSessionStateExpired  = 2
)

func sessionStateFromWCA(state uint32) SessionState {
	switch state {
	case audioSessionStateActive:
		return SessionActive
	case audioSessionStateInactive:
		return SessionInactive
	case audioSessionStateExpired:
		return SessionExpired
	}

	return SessionExpired
}

// groupIDFromGUID is the canonical grouping GUID string. it must stay stable across versions
func groupIDFromGUID(guid *ole.GUID) GroupID {
	return GroupID(fmt.Sprintf(
		"%08X-%04X-%04X-%02X%02X-%02X%02X%02X%02X%02X%02X",
		guid.Data1,
		guid.Data2,
		guid.Data3,
		guid.Data4[0], guid.Data4[1],
		guid.Data4[2], guid.Data4[3], guid.Data4[4], guid.Data4[5], guid.Data4[6], guid.Data4[7],
	))
}
