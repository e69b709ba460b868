package mixer

import (
	"encoding/json"
	"errors"
	"fmt"
)

// AudioModuleName is the module name the audio handler is registered under
const AudioModuleName = "audio"

// AudioAction tags the audio payload
type AudioAction string

const (
	ActionGetVolume      AudioAction = "get_volume"
	ActionDevicesList    AudioAction = "devices_list"
	ActionSessionList    AudioAction = "session_list"
	ActionSetGroupVolume AudioAction = "set_group_volume"
)

var (
	errMissingAction = errors.New("missing field `action`")
	errMissingVolume = errors.New("missing field `volume`")
)

// AudioRequest is the decoded audio payload. only the fields relevant to Action are meaningful
type AudioRequest struct {
	Action   AudioAction `json:"action"`
	DeviceID string      `json:"device_id,omitempty"`
	GroupID  GroupID     `json:"group_id,omitempty"`
	Volume   *Volume     `json:"volume,omitempty"`
}

// DecodeAudioRequest parses and shape-checks an audio payload
func DecodeAudioRequest(payload []byte) (AudioRequest, error) {
	var request AudioRequest
	if err := json.Unmarshal(payload, &request); err != nil {
		return AudioRequest{}, err
	}

	switch request.Action {
	case ActionGetVolume, ActionDevicesList:
	case ActionSessionList:
	case ActionSetGroupVolume:
		if request.Volume == nil {
			return AudioRequest{}, errMissingVolume
		}
	case "":
		return AudioRequest{}, errMissingAction
	default:
		return AudioRequest{}, fmt.Errorf("unknown action `%s`", request.Action)
	}

	return request, nil
}

// AudioModule is the "audio" module handler
type AudioModule struct {
	service *AudioService
}

// NewAudioModule creates the audio module handler around a command service
func NewAudioModule(service *AudioService) *AudioModule {
	return &AudioModule{service: service}
}

// Handle decodes the payload and runs the matching action
func (m *AudioModule) Handle(payload json.RawMessage) Outcome {
	request, err := DecodeAudioRequest(payload)
	if err != nil {
		return Fail(CodeBadRequest, fmt.Sprintf("Failed to parse %s request: %v", AudioModuleName, err), "")
	}

	switch request.Action {
	case ActionGetVolume:
		return m.service.GetVolume()
	case ActionDevicesList:
		return m.service.ListDevices()
	case ActionSessionList:
		return m.service.ListSessions(request.DeviceID)
	case ActionSetGroupVolume:
		return m.service.SetGroupVolume(request.DeviceID, request.GroupID, *request.Volume)
	}

	// DecodeAudioRequest already rejected everything else
	return Fail(CodeBadRequest, fmt.Sprintf("Failed to parse %s request: unknown action `%s`", AudioModuleName, request.Action), "")
}
