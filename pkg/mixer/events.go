package mixer

// EventType names a server-initiated notification
type EventType string

const (
	EventVolumeChanged      EventType = "volume_changed"
	EventDeviceConnected    EventType = "device_connected"
	EventDeviceDisconnected EventType = "device_disconnected"
	EventNotification       EventType = "notification"
)

// ServerEvent is pushed to every listening client independently of request/response traffic
type ServerEvent struct {
	Type EventType `json:"event_type"`

	DeviceID   string  `json:"device_id,omitempty"`
	DeviceName string  `json:"device_name,omitempty"`
	GroupID    GroupID `json:"group_id,omitempty"`
	Volume     *Volume `json:"volume,omitempty"`

	Title   string `json:"title,omitempty"`
	Message string `json:"message,omitempty"`
}

func volumeChangedEvent(deviceID string, groupID GroupID, volume Volume) ServerEvent {
	return ServerEvent{
		Type:     EventVolumeChanged,
		DeviceID: deviceID,
		GroupID:  groupID,
		Volume:   &volume,
	}
}

func deviceConnectedEvent(device Device) ServerEvent {
	return ServerEvent{
		Type:       EventDeviceConnected,
		DeviceID:   device.ID,
		DeviceName: device.Name,
	}
}

func deviceDisconnectedEvent(deviceID string) ServerEvent {
	return ServerEvent{
		Type:     EventDeviceDisconnected,
		DeviceID: deviceID,
	}
}

func notificationEvent(title string, message string) ServerEvent {
	return ServerEvent{
		Type:    EventNotification,
		Title:   title,
		Message: message,
	}
}
