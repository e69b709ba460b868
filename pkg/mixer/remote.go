// Package mixer provides a host-side server that lets remote clients read and
// adjust the local audio mixer: master volume, output devices and per-application sessions
package mixer

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/stalexteam/mixer_remote/pkg/mixer/util"
)

const (

	// when this is set to anything, the remote won't use a tray icon
	envNoTray = "MIXER_NO_TRAY_ICON"

	// Delay between stopping the old serial connection and starting a new one during config reload
	configReloadStopDelay = 50 * time.Millisecond

	// Timeout for waiting for the serial transport to stop
	interfaceStopTimeout = 500 * time.Millisecond
)

// Remote is the main entity managing access to all sub-components
type Remote struct {
	logger   *zap.SugaredLogger
	notifier Notifier
	config   *CanonicalConfig
	system   AudioSystem

	events     *Broadcaster
	service    *AudioService
	dispatcher *Dispatcher
	metrics    *prometheus.Registry
	server     *Server
	serial     *SerialIO
	watcher    *DeviceWatcher

	// settings that only apply at startup
	eventBufferSize int
	disabledModules []string

	stopChannel chan bool
	version     string
	verbose     bool
	noTray      bool
	prepared    bool
	stopping    sync.Once
}

// NewRemote creates a Remote instance
func NewRemote(logger *zap.SugaredLogger, verbose bool) (*Remote, error) {
	logger = logger.Named("remote")

	notifier, err := NewToastNotifier(logger)
	if err != nil {
		logger.Errorw("Failed to create ToastNotifier", "error", err)
		return nil, fmt.Errorf("create new ToastNotifier: %w", err)
	}

	config, err := NewConfig(logger, notifier)
	if err != nil {
		logger.Errorw("Failed to create Config", "error", err)
		return nil, fmt.Errorf("create new Config: %w", err)
	}

	system, err := NewAudioSystem(logger)
	if err != nil {
		logger.Errorw("Failed to create AudioSystem", "error", err)
		notifier.Notify("Can't access the audio system!", "Please check the logs for more details.")
		return nil, fmt.Errorf("create new AudioSystem: %w", err)
	}

	r := &Remote{
		logger:      logger,
		notifier:    notifier,
		config:      config,
		system:      system,
		stopChannel: make(chan bool, 1),
		verbose:     verbose,
	}

	logger.Debug("Created remote instance")

	return r, nil
}

// Prepare loads the config and wires the request path without starting any transport.
// Initialize calls it, one-shot commands call it on its own
func (r *Remote) Prepare() error {
	if r.prepared {
		return nil
	}

	if err := r.config.Load(); err != nil {
		r.logger.Errorw("Failed to load config during initialization", "error", err)
		return fmt.Errorf("load config during init: %w", err)
	}

	settings := r.config.Snapshot()

	r.eventBufferSize = settings.EventBufferSize
	r.disabledModules = settings.DisabledModules

	r.events = NewBroadcaster(settings.EventBufferSize)

	r.service = NewAudioService(r.logger, r.system, NewProcessNamer(),
		WithEvents(r.events),
		WithErrorDetails(settings.ExposeErrorDetails),
	)

	registry, err := buildRegistry(r.logger, settings, r.service)
	if err != nil {
		r.logger.Errorw("Failed to build module registry", "error", err)
		return fmt.Errorf("build module registry: %w", err)
	}

	r.metrics = prometheus.NewRegistry()
	r.metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	dispatcher, err := NewDispatcher(r.logger, registry, r.metrics)
	if err != nil {
		r.logger.Errorw("Failed to create Dispatcher", "error", err)
		return fmt.Errorf("create new Dispatcher: %w", err)
	}
	r.dispatcher = dispatcher

	r.server = NewServer(r.logger, dispatcher, r.events, r.metrics)

	serial, err := NewSerialIO(r.logger, dispatcher, r.verbose)
	if err != nil {
		r.logger.Errorw("Failed to create SerialIO", "error", err)
		return fmt.Errorf("create new SerialIO: %w", err)
	}
	r.serial = serial

	r.watcher = NewDeviceWatcher(r.logger, r.system, r.events)

	r.prepared = true

	return nil
}

// Initialize sets up components and starts to run in the background
func (r *Remote) Initialize() error {
	r.logger.Debug("Initializing")

	if err := r.Prepare(); err != nil {
		return err
	}

	r.setupInterruptHandler()

	// decide whether to run with/without tray
	if _, noTraySet := os.LookupEnv(envNoTray); noTraySet {
		r.noTray = true
	}

	if r.noTray {
		r.logger.Debugw("Running without tray icon", "reason", "disabled by flag or envvar")

		// run in main thread while waiting on ctrl+C
		r.run()
	} else {
		r.initializeTray(r.run)
	}

	return nil
}

// SetVersion causes the remote to add a version string to its tray menu if called before Initialize
func (r *Remote) SetVersion(version string) {
	r.version = version
}

// SetNoTray skips the tray icon even when MIXER_NO_TRAY_ICON is unset
func (r *Remote) SetNoTray(noTray bool) {
	r.noTray = noTray
}

// Verbose returns a boolean indicating whether the remote is running in verbose mode
func (r *Remote) Verbose() bool {
	return r.verbose
}

// Dispatcher returns the request dispatcher. it's nil until Prepare succeeded
func (r *Remote) Dispatcher() *Dispatcher {
	return r.dispatcher
}

// Release frees the audio backend. only needed when Initialize was never called
func (r *Remote) Release() error {
	if err := r.system.Release(); err != nil {
		return fmt.Errorf("release audio system: %w", err)
	}
	return nil
}

func buildRegistry(logger *zap.SugaredLogger, settings ConfigSnapshot, service *AudioService) (*Registry, error) {
	modules := map[string]ModuleHandler{
		AudioModuleName: NewAudioModule(service),
	}

	builder := NewRegistryBuilder()
	for name, handler := range modules {
		if !settings.ModuleEnabled(name) {
			logger.Infow("Module disabled by configuration", "module", name)
			continue
		}
		builder.Register(name, handler)
	}

	return builder.Build()
}

func (r *Remote) setupInterruptHandler() {
	interruptChannel := util.SetupCloseHandler()

	go func() {
		signal := <-interruptChannel
		r.logger.Debugw("Interrupted", "signal", signal)
		r.signalStop()
	}()
}

func (r *Remote) run() {
	r.logger.Info("Run loop starting")

	// watch the config file for changes
	go r.config.WatchConfigFileChanges()

	r.setupOnConfigReload()

	settings := r.config.Snapshot()

	if err := r.server.Start(settings.ListenAddress); err != nil {
		r.logger.Warnw("Failed to start server", "error", err)
		r.notifier.Notify(fmt.Sprintf("Can't listen on %s!", settings.ListenAddress),
			"Make sure no other program uses this address, or change listen_address in the configuration.")
		r.signalStop()
	}

	r.watcher.Start(settings.DevicePollInterval)

	go r.startSerial(settings)

	// wait until stopped (gracefully)
	<-r.stopChannel
	r.logger.Debug("Stop channel signaled, terminating")

	if err := r.stop(); err != nil {
		r.logger.Warnw("Failed to stop remote", "error", err)
		os.Exit(1)
	} else {
		os.Exit(0)
	}
}

func (r *Remote) signalStop() {
	r.stopping.Do(func() {
		r.logger.Debug("Signalling stop channel")
		select {
		case r.stopChannel <- true:
		default:
		}
	})
}

func (r *Remote) stop() error {
	r.logger.Info("Stopping")

	r.config.StopWatchingConfigFile()

	r.server.Stop()

	r.serial.Stop()
	if r.serial.WaitForStop(interfaceStopTimeout) {
		r.logger.Debug("Serial transport stopped successfully")
	} else {
		r.logger.Warn("Serial transport did not stop within timeout, proceeding anyway")
	}

	r.watcher.Stop()

	if err := r.system.Release(); err != nil {
		r.logger.Errorw("Failed to release audio system", "error", err)
		return fmt.Errorf("release audio system: %w", err)
	}

	r.stopTray()

	// attempt to sync on exit - this won't necessarily work but can't harm
	r.logger.Sync()

	return nil
}

// startSerial connects the serial transport when it's configured. it's optional,
// so failures are reported but never stop the remote
func (r *Remote) startSerial(settings ConfigSnapshot) {
	if !settings.SerialConfigured() {
		r.logger.Debug("Serial transport not configured")
		return
	}

	port := settings.ConnectionInfo.SerialPort

	err := r.serial.Start(port, settings.ConnectionInfo.SerialBaudRate)
	switch {
	case err == nil:
		return

	case errors.Is(err, errSerialAlreadyRunning):
		r.logger.Debug("Serial transport already running")

	case errors.Is(err, os.ErrPermission):
		r.logger.Warnw("Serial port seems busy, notifying user", "comPort", port)
		r.notifier.Notify(fmt.Sprintf("Can't connect to %s!", port),
			"This serial port is busy, make sure to close any serial monitor or other program using it.")

	case errors.Is(err, os.ErrNotExist):
		r.logger.Warnw("Provided COM port seems wrong, notifying user", "comPort", port)
		r.notifier.Notify(fmt.Sprintf("Can't connect to %s!", port),
			"This serial port doesn't exist, check your configuration and make sure it's set correctly.")

	default:
		r.logger.Warnw("Failed to start serial transport", "comPort", port, "error", err)
		r.notifier.Notify(fmt.Sprintf("Can't connect to %s!", port), "Please check the logs for more details.")
	}
}

// setupOnConfigReload applies the reloadable settings every time the config changes
func (r *Remote) setupOnConfigReload() {
	configReloadedChannel := r.config.SubscribeToChanges()

	go func() {
		for range configReloadedChannel {
			r.applyConfig()
		}

		r.logger.Debug("Config reload channel closed, exiting handler")
	}()
}

func (r *Remote) applyConfig() {
	settings := r.config.Snapshot()

	r.service.SetErrorDetails(settings.ExposeErrorDetails)

	if r.server.Addr() != settings.ListenAddress {
		if err := r.server.Start(settings.ListenAddress); err != nil {
			r.logger.Warnw("Failed to restart server on new address", "addr", settings.ListenAddress, "error", err)
			r.notifier.Notify(fmt.Sprintf("Can't listen on %s!", settings.ListenAddress),
				"Make sure no other program uses this address.")
		}
	}

	r.applySerialConfig(settings)

	r.watcher.SetInterval(settings.DevicePollInterval)

	if settings.EventBufferSize != r.eventBufferSize {
		r.logger.Infow("Event buffer size changed, restart to apply", "current", r.eventBufferSize, "configured", settings.EventBufferSize)
	}

	if fmt.Sprint(settings.DisabledModules) != fmt.Sprint(r.disabledModules) {
		r.logger.Infow("Disabled modules changed, restart to apply", "current", r.disabledModules, "configured", settings.DisabledModules)
	}

	r.events.Publish(notificationEvent("Configuration reloaded", "Your changes have been applied."))
}

func (r *Remote) applySerialConfig(settings ConfigSnapshot) {
	configured := settings.SerialConfigured()
	running := r.serial.IsRunning()

	switch {
	case !configured && running:
		r.logger.Info("Serial transport removed from config, stopping it")
		r.serial.Stop()

	case configured && running:
		port, baudRate := r.serial.Options()
		if port == settings.ConnectionInfo.SerialPort && baudRate == settings.ConnectionInfo.SerialBaudRate {
			return
		}

		r.logger.Info("Detected change in serial connection parameters, renewing connection")
		r.serial.Stop()
		if !r.serial.WaitForStop(interfaceStopTimeout) {
			r.logger.Warn("Previous serial connection did not stop within timeout, proceeding anyway")
		}
		<-time.After(configReloadStopDelay)
		r.startSerial(settings)

	case configured:
		r.logger.Info("Serial transport configured, connecting")
		r.startSerial(settings)
	}
}
