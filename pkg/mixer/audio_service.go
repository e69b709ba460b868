package mixer

import (
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
)

const (
	groupVolumeSetMessage = "Group volume set successfully"

	failedGetVolumeMessage      = "Failed to get volume"
	failedListDevicesMessage    = "Failed to get output devices"
	failedListSessionsMessage   = "Failed to get sessions for device"
	failedSetGroupVolumeMessage = "Failed to set group volume"
)

// AudioService validates audio actions, drives the AudioSystem and shapes the outcome.
// it issues at most one backend call per action and never retries
type AudioService struct {
	logger *zap.SugaredLogger
	system AudioSystem
	names  ProcessNamer
	events *Broadcaster

	exposeErrorDetails atomic.Bool
}

// AudioServiceOption tweaks an AudioService at construction time
type AudioServiceOption func(*AudioService)

// WithEvents publishes volume changes to the given broadcaster
func WithEvents(b *Broadcaster) AudioServiceOption {
	return func(s *AudioService) {
		s.events = b
	}
}

// WithErrorDetails echoes backend failure details to clients instead of only logging them
func WithErrorDetails(expose bool) AudioServiceOption {
	return func(s *AudioService) {
		s.exposeErrorDetails.Store(expose)
	}
}

// NewAudioService creates an AudioService on top of the given backend
func NewAudioService(logger *zap.SugaredLogger, system AudioSystem, names ProcessNamer, opts ...AudioServiceOption) *AudioService {
	s := &AudioService{
		logger: logger.Named("audio_service"),
		system: system,
		names:  names,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.logger.Debug("Created audio service instance")

	return s
}

// SetErrorDetails switches backend failure details on or off for subsequent requests
func (s *AudioService) SetErrorDetails(expose bool) {
	s.exposeErrorDetails.Store(expose)
}

// GetVolume returns the master volume of the default output device
func (s *AudioService) GetVolume() Outcome {
	volume, err := s.system.MasterVolume()
	if err != nil {
		return s.failure(failedGetVolumeMessage, err)
	}

	return OK(volume, -1)
}

// ListDevices returns the currently active output devices
func (s *AudioService) ListDevices() Outcome {
	devices, err := s.system.ListOutputDevices()
	if err != nil {
		return s.failure(failedListDevicesMessage, err)
	}

	if devices == nil {
		devices = []Device{}
	}

	return OK(devices, len(devices))
}

// ListSessions returns the session groups of a device
func (s *AudioService) ListSessions(deviceID string) Outcome {
	if err := validateDeviceID(deviceID); err != nil {
		return s.failure(failedListSessionsMessage, err)
	}

	sessions, err := s.system.ListSessions(deviceID)
	if err != nil {
		return s.failure(failedListSessionsMessage, err)
	}

	groups := AggregateSessions(sessions, s.names)

	s.logger.Debugw("Aggregated audio sessions", "deviceID", deviceID, "sessions", len(sessions), "groups", len(groups))

	return OK(groups, len(groups))
}

// SetGroupVolume sets the volume of every session in a group. this is the only mutating action
func (s *AudioService) SetGroupVolume(deviceID string, groupID GroupID, volume Volume) Outcome {
	if err := validateDeviceID(deviceID); err != nil {
		return s.failure(failedSetGroupVolumeMessage, err)
	}

	if strings.TrimSpace(groupID.String()) == "" {
		return s.failure(failedSetGroupVolumeMessage, validationError("group_id must not be empty"))
	}

	if err := volume.Validate(); err != nil {
		return s.failure(failedSetGroupVolumeMessage, err)
	}

	if err := s.system.SetGroupVolume(deviceID, groupID, volume); err != nil {
		return s.failure(failedSetGroupVolumeMessage, err)
	}

	s.logger.Debugw("Set group volume", "deviceID", deviceID, "groupID", groupID, "volume", volume)

	if s.events != nil {
		s.events.Publish(volumeChangedEvent(deviceID, groupID, volume))
	}

	return OK(groupVolumeSetMessage, -1)
}

func validateDeviceID(deviceID string) error {
	if strings.TrimSpace(deviceID) == "" {
		return validationError("device_id must not be empty")
	}
	return nil
}

// failure turns an error into an envelope. validation and not-found messages are echoed,
// backend failures get the operation's fixed message and their cause goes to the log
func (s *AudioService) failure(operation string, err error) *ErrorResponse {
	e := asError(err)

	switch e.Kind {
	case ErrorValidation:
		return Fail(e.Kind.StatusCode(), e.Message, "")
	case ErrorNotFound:
		return Fail(e.Kind.StatusCode(), e.Message, "")
	}

	s.logger.Warnw(operation, "error", err)

	details := ""
	if s.exposeErrorDetails.Load() {
		details = err.Error()
	}

	return Fail(e.Kind.StatusCode(), operation, details)
}
