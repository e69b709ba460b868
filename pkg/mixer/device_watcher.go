package mixer

import (
	"sync"
	"time"

	"github.com/thoas/go-funk"
	"go.uber.org/zap"
)

// DeviceWatcher polls the output device list and publishes connect/disconnect events
type DeviceWatcher struct {
	logger *zap.SugaredLogger
	system AudioSystem
	events *Broadcaster

	mu          sync.Mutex
	known       []Device
	primed      bool
	interval    time.Duration
	stopChannel chan bool
	stopped     chan struct{}
}

// NewDeviceWatcher creates a watcher. it does nothing until Start is called
func NewDeviceWatcher(logger *zap.SugaredLogger, system AudioSystem, events *Broadcaster) *DeviceWatcher {
	logger = logger.Named("device_watcher")

	w := &DeviceWatcher{
		logger: logger,
		system: system,
		events: events,
	}

	logger.Debug("Created device watcher instance")

	return w
}

// Start begins polling at the given interval. a non-positive interval leaves the watcher idle
func (w *DeviceWatcher) Start(interval time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopChannel != nil {
		return
	}

	w.interval = interval
	if interval <= 0 {
		w.logger.Debug("Device polling disabled")
		return
	}

	stopChannel := make(chan bool)
	stopped := make(chan struct{})
	w.stopChannel = stopChannel
	w.stopped = stopped

	w.logger.Debugw("Starting device polling", "interval", interval)

	go w.loop(interval, stopChannel, stopped)
}

// Stop ends polling and waits for the poll loop to exit
func (w *DeviceWatcher) Stop() {
	w.mu.Lock()
	stopChannel := w.stopChannel
	stopped := w.stopped
	w.stopChannel = nil
	w.stopped = nil
	w.mu.Unlock()

	if stopChannel == nil {
		return
	}

	close(stopChannel)
	<-stopped

	w.logger.Debug("Stopped device polling")
}

// SetInterval restarts polling when the interval changed
func (w *DeviceWatcher) SetInterval(interval time.Duration) {
	w.mu.Lock()
	unchanged := interval == w.interval
	w.mu.Unlock()

	if unchanged {
		return
	}

	w.logger.Infow("Device poll interval changed", "interval", interval)

	w.Stop()
	w.Start(interval)
}

func (w *DeviceWatcher) loop(interval time.Duration, stopChannel chan bool, stopped chan struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.poll()

	for {
		select {
		case <-stopChannel:
			return
		case <-ticker.C:
			w.poll()
		}
	}
}

// poll fetches the device list once and publishes the differences to the previous one.
// the first successful poll only records the baseline
func (w *DeviceWatcher) poll() {
	devices, err := w.system.ListOutputDevices()
	if err != nil {
		w.logger.Debugw("Failed to poll output devices", "error", err)
		return
	}

	w.mu.Lock()
	previous := w.known
	primed := w.primed
	w.known = devices
	w.primed = true
	w.mu.Unlock()

	if !primed {
		w.logger.Debugw("Recorded initial output devices", "count", len(devices))
		return
	}

	connected, disconnected := diffDevices(previous, devices)

	for _, device := range connected {
		w.logger.Infow("Output device connected", "id", device.ID, "name", device.Name)
		w.events.Publish(deviceConnectedEvent(device))
	}

	for _, device := range disconnected {
		w.logger.Infow("Output device disconnected", "id", device.ID, "name", device.Name)
		w.events.Publish(deviceDisconnectedEvent(device.ID))
	}
}

// diffDevices returns the devices only present in current and the ones only present in previous
func diffDevices(previous []Device, current []Device) ([]Device, []Device) {
	previousIDs := deviceIDs(previous)
	currentIDs := deviceIDs(current)

	connected := funk.Filter(current, func(d Device) bool {
		return !funk.ContainsString(previousIDs, d.ID)
	}).([]Device)

	disconnected := funk.Filter(previous, func(d Device) bool {
		return !funk.ContainsString(currentIDs, d.ID)
	}).([]Device)

	return connected, disconnected
}

func deviceIDs(devices []Device) []string {
	ids := make([]string, 0, len(devices))
	for _, d := range devices {
		ids = append(ids, d.ID)
	}
	return ids
}
