package mixer

import (
	"fmt"
	"strconv"

	"github.com/jfreymuth/pulse/proto"
	"go.uber.org/zap"
)

// normal PulseAudio volume (100%)
const maxPulseVolume = 0x10000

// paAudioSystem drives PulseAudio. every operation opens its own protocol connection
// and closes it before returning, the PulseAudio counterpart of a COM apartment per call
type paAudioSystem struct {
	logger *zap.SugaredLogger
}

// NewAudioSystem creates the PulseAudio backend
func NewAudioSystem(logger *zap.SugaredLogger) (AudioSystem, error) {
	as := &paAudioSystem{
		logger: logger.Named("pulse"),
	}

	// fail fast when there's no server to talk to at all
	if err := as.withPulse(func(*proto.Client) error { return nil }); err != nil {
		as.logger.Warnw("Failed to establish PulseAudio connection", "error", err)
		return nil, fmt.Errorf("establish PulseAudio connection: %w", err)
	}

	as.logger.Debug("Created PA audio system instance")

	return as, nil
}

func (as *paAudioSystem) withPulse(f func(client *proto.Client) error) error {
	client, conn, err := proto.Connect("")
	if err != nil {
		return backendError("Failed to connect to PulseAudio", err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			as.logger.Debugw("Failed to close PulseAudio connection", "error", err)
		}
	}()

	request := proto.SetClientName{
		Props: proto.PropList{
			"application.name": proto.PropListString("mixer-remote"),
		},
	}
	reply := proto.SetClientNameReply{}

	if err := client.Request(&request, &reply); err != nil {
		return backendError("Failed to register PulseAudio client", err)
	}

	return f(client)
}

func (as *paAudioSystem) ListOutputDevices() ([]Device, error) {
	devices := []Device{}

	err := as.withPulse(func(client *proto.Client) error {
		sinks, err := listSinks(client)
		if err != nil {
			return err
		}

		for _, sink := range sinks {
			devices = append(devices, Device{
				ID:   sink.SinkName,
				Name: sinkDisplayName(sink),
			})
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return devices, nil
}

func (as *paAudioSystem) MasterVolume() (float32, error) {
	var level float32

	err := as.withPulse(func(client *proto.Client) error {
		request := proto.GetSinkInfo{
			SinkIndex: proto.Undefined,
		}
		reply := proto.GetSinkInfoReply{}

		if err := client.Request(&request, &reply); err != nil {
			return backendError("Failed to get default sink info", err)
		}

		level = parseChannelVolumes(reply.ChannelVolumes) * MaxVolume
		return nil
	})
	if err != nil {
		return 0, err
	}

	return level, nil
}

func (as *paAudioSystem) ListSessions(deviceID string) ([]RawSession, error) {
	sessions := []RawSession{}

	err := as.withPulse(func(client *proto.Client) error {
		inputs, err := sinkInputsForDevice(client, deviceID)
		if err != nil {
			return err
		}

		for _, info := range inputs {
			sessions = append(sessions, rawSessionFromSinkInput(info))
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	as.logger.Debugw("Listed sink inputs", "deviceID", deviceID, "count", len(sessions))

	return sessions, nil
}

func (as *paAudioSystem) SetGroupVolume(deviceID string, groupID GroupID, volume Volume) error {
	return as.withPulse(func(client *proto.Client) error {
		inputs, err := sinkInputsForDevice(client, deviceID)
		if err != nil {
			return err
		}

		found := 0
		for _, info := range inputs {
			if sinkInputGroupID(info) != groupID {
				continue
			}

			request := proto.SetSinkInputVolume{
				SinkInputIndex: info.SinkInputIndex,
				ChannelVolumes: createChannelVolumes(info.Channels, volume.Scalar()),
			}
			if err := client.Request(&request, nil); err != nil {
				return backendError("Failed to set sink input volume", err)
			}

			found++
		}

		if found == 0 {
			return noSessionsFoundError()
		}

		as.logger.Debugw("Adjusted group volume", "groupID", groupID, "sessions", found, "to", fmt.Sprintf("%.2f", float32(volume)))

		return nil
	})
}

func (as *paAudioSystem) Release() error {
	as.logger.Debug("Released PA audio system instance")
	return nil
}

func listSinks(client *proto.Client) ([]*proto.GetSinkInfoReply, error) {
	request := proto.GetSinkInfoList{}
	reply := proto.GetSinkInfoListReply{}

	if err := client.Request(&request, &reply); err != nil {
		return nil, backendError("Failed to get sink list", err)
	}

	sinks := make([]*proto.GetSinkInfoReply, 0, len(reply))
	for _, sink := range reply {
		if sink != nil {
			sinks = append(sinks, sink)
		}
	}

	return sinks, nil
}

func sinkInputsForDevice(client *proto.Client, deviceID string) ([]*proto.GetSinkInputInfoReply, error) {
	sinks, err := listSinks(client)
	if err != nil {
		return nil, err
	}

	var sink *proto.GetSinkInfoReply
	for _, candidate := range sinks {
		if candidate.SinkName == deviceID {
			sink = candidate
			break
		}
	}

	if sink == nil {
		return nil, deviceNotFoundError(deviceID)
	}

	request := proto.GetSinkInputInfoList{}
	reply := proto.GetSinkInputInfoListReply{}

	if err := client.Request(&request, &reply); err != nil {
		return nil, backendError("Failed to get sink input list", err)
	}

	inputs := []*proto.GetSinkInputInfoReply{}
	for _, info := range reply {
		if info != nil && info.SinkIndex == sink.SinkIndex {
			inputs = append(inputs, info)
		}
	}

	return inputs, nil
}

func sinkDisplayName(sink *proto.GetSinkInfoReply) string {
	if sink.Properties != nil {
		if desc, ok := sink.Properties["device.description"]; ok && desc.String() != "" {
			return desc.String()
		}
	}

	if sink.SinkName != "" {
		return sink.SinkName
	}

	return fmt.Sprintf("Sink %d", sink.SinkIndex)
}

// sinkInputGroupID picks the identity shared by all streams of one application
func sinkInputGroupID(info *proto.GetSinkInputInfoReply) GroupID {
	for _, key := range []string{"application.process.binary", "application.name"} {
		if prop, ok := info.Properties[key]; ok && prop.String() != "" {
			return GroupID(prop.String())
		}
	}

	return GroupID(fmt.Sprintf("sink-input-%d", info.SinkInputIndex))
}

func rawSessionFromSinkInput(info *proto.GetSinkInputInfoReply) RawSession {
	pid := UnknownProcessID
	if prop, ok := info.Properties["application.process.id"]; ok {
		if parsed, err := strconv.Atoi(prop.String()); err == nil {
			pid = parsed
		}
	}

	state := SessionActive
	if info.Corked {
		state = SessionInactive
	}

	return RawSession{
		ProcessID: pid,
		GroupID:   sinkInputGroupID(info),
		Volume:    parseChannelVolumes(info.ChannelVolumes),
		Muted:     info.Muted,
		State:     state,
	}
}

func createChannelVolumes(channels byte, volume float32) []uint32 {
	volumes := make([]uint32, channels)

	for i := range volumes {
		volumes[i] = uint32(volume * maxPulseVolume)
	}

	return volumes
}

// parseChannelVolumes averages the channels into a 0.0..1.0 scalar. boosted volumes above 100% are capped
func parseChannelVolumes(volumes []uint32) float32 {
	if len(volumes) == 0 {
		return 0
	}

	var level uint64

	for _, volume := range volumes {
		level += uint64(volume)
	}

	scalar := float32(level) / float32(len(volumes)) / float32(maxPulseVolume)
	if scalar > 1 {
		return 1
	}

	return scalar
}
