package mixer

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"github.com/thoas/go-funk"
	"go.uber.org/zap"

	"github.com/stalexteam/mixer_remote/pkg/mixer/util"
)

// ConfigSnapshot is a copy of the configuration fields taken at one point in time
type ConfigSnapshot struct {
	ListenAddress string

	ConnectionInfo struct {
		SerialPort     string
		SerialBaudRate int
	}

	EventBufferSize    int
	DevicePollInterval time.Duration
	ExposeErrorDetails bool
	DisabledModules    []string
}

// SerialConfigured reports whether both serial connection parameters are set
func (s ConfigSnapshot) SerialConfigured() bool {
	return s.ConnectionInfo.SerialPort != "" && s.ConnectionInfo.SerialBaudRate > 0
}

// ModuleEnabled reports whether a module is left out of disabled_modules
func (s ConfigSnapshot) ModuleEnabled(name string) bool {
	return !funk.ContainsString(s.DisabledModules, normalizeModuleName(name))
}

// CanonicalConfig provides application-wide access to configuration fields,
// as well as loading/file watching logic for the configuration file
type CanonicalConfig struct {
	// reloads replace current from the watcher goroutine
	mu      sync.RWMutex
	current ConfigSnapshot

	logger             *zap.SugaredLogger
	notifier           Notifier
	stopWatcherChannel chan bool

	consumersMutex  sync.Mutex
	reloadConsumers []chan bool

	configDir  string
	userConfig *viper.Viper
}

const (
	userConfigFilepath = "config.yaml"

	userConfigName = "config"
	userConfigPath = "."

	configType = "yaml"

	envPrefix = "MIXER"

	configKeyListenAddress      = "listen_address"
	configKeySerialPort         = "serial_port"
	configKeySerialBaudRate     = "serial_baud_rate"
	configKeyEventBufferSize    = "event_buffer_size"
	configKeyDevicePollInterval = "device_poll_interval"
	configKeyExposeErrorDetails = "expose_error_details"
	configKeyDisabledModules    = "disabled_modules"

	defaultListenAddress      = ":3000"
	defaultSerialPort         = ""
	defaultSerialBaudRate     = 0
	defaultDevicePollInterval = 5 * time.Second
)

// NewConfig creates a config instance reading config.yaml from the working directory
func NewConfig(logger *zap.SugaredLogger, notifier Notifier) (*CanonicalConfig, error) {
	return newConfigAt(logger, notifier, userConfigPath)
}

func newConfigAt(logger *zap.SugaredLogger, notifier Notifier, dir string) (*CanonicalConfig, error) {
	logger = logger.Named("config")

	cc := &CanonicalConfig{
		logger:             logger,
		notifier:           notifier,
		reloadConsumers:    []chan bool{},
		stopWatcherChannel: make(chan bool),
		configDir:          dir,
	}

	userConfig := viper.New()
	userConfig.SetConfigName(userConfigName)
	userConfig.SetConfigType(configType)
	userConfig.AddConfigPath(dir)

	// MIXER_LISTEN_ADDRESS and friends win over the file
	userConfig.SetEnvPrefix(envPrefix)
	userConfig.AutomaticEnv()

	userConfig.SetDefault(configKeyListenAddress, defaultListenAddress)
	userConfig.SetDefault(configKeySerialPort, defaultSerialPort)
	userConfig.SetDefault(configKeySerialBaudRate, defaultSerialBaudRate)
	userConfig.SetDefault(configKeyEventBufferSize, DefaultEventBufferSize)
	userConfig.SetDefault(configKeyDevicePollInterval, defaultDevicePollInterval)
	userConfig.SetDefault(configKeyExposeErrorDetails, false)
	userConfig.SetDefault(configKeyDisabledModules, []string{})

	cc.userConfig = userConfig

	logger.Debug("Created config instance")

	return cc, nil
}

// Load reads the config file from disk (when present) and parses it
func (cc *CanonicalConfig) Load() error {
	configFile := cc.configFilepath()

	cc.logger.Debugw("Loading config", "path", configFile)

	if util.FileExists(configFile) {
		if err := cc.userConfig.ReadInConfig(); err != nil {
			cc.logger.Warnw("Viper failed to read user config", "error", err)
			if strings.Contains(err.Error(), "yaml:") {
				cc.notifier.Notify("Invalid configuration!",
					fmt.Sprintf("Please make sure %s is in a valid YAML format.", userConfigFilepath))
			} else {
				cc.notifier.Notify("Error loading configuration!", "Please check the logs for more details.")
			}
			return fmt.Errorf("read user config: %w", err)
		}
	} else {
		cc.logger.Infow("Config file not found, using defaults", "path", configFile)
	}

	if err := cc.populateFromVipers(); err != nil {
		cc.logger.Warnw("Failed to populate config fields", "error", err)
		return fmt.Errorf("populate config fields: %w", err)
	}

	loaded := cc.Snapshot()

	cc.logger.Info("Loaded config successfully")
	cc.logger.Infow("Config values",
		"listenAddress", loaded.ListenAddress,
		"connectionInfo", loaded.ConnectionInfo,
		"eventBufferSize", loaded.EventBufferSize,
		"devicePollInterval", loaded.DevicePollInterval,
		"exposeErrorDetails", loaded.ExposeErrorDetails,
		"disabledModules", loaded.DisabledModules,
	)

	return nil
}

// Snapshot returns a copy of the current configuration fields, safe to use while a reload runs
func (cc *CanonicalConfig) Snapshot() ConfigSnapshot {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	snapshot := cc.current
	snapshot.DisabledModules = append([]string{}, cc.current.DisabledModules...)

	return snapshot
}

// SubscribeToChanges allows external components to receive updates when the config is reloaded
func (cc *CanonicalConfig) SubscribeToChanges() chan bool {
	c := make(chan bool, 1)

	cc.consumersMutex.Lock()
	cc.reloadConsumers = append(cc.reloadConsumers, c)
	cc.consumersMutex.Unlock()

	return c
}

// WatchConfigFileChanges starts watching for configuration file changes
// and attempts reloading the config when they happen
func (cc *CanonicalConfig) WatchConfigFileChanges() {
	configFile := cc.configFilepath()

	// viper can only watch a file it has read
	if !util.FileExists(configFile) {
		cc.logger.Debugw("No config file to watch", "path", configFile)
		<-cc.stopWatcherChannel
		return
	}

	cc.logger.Debugw("Starting to watch user config file for changes", "path", configFile)

	const (
		minTimeBetweenReloadAttempts = time.Millisecond * 500
		delayBetweenEventAndReload   = time.Millisecond * 50
	)

	lastAttemptedReload := time.Now()

	cc.userConfig.WatchConfig()
	cc.userConfig.OnConfigChange(func(event fsnotify.Event) {
		if event.Op&fsnotify.Write != fsnotify.Write {
			return
		}

		now := time.Now()

		// many editors write the file twice
		if !lastAttemptedReload.Add(minTimeBetweenReloadAttempts).Before(now) {
			return
		}

		cc.logger.Debugw("Config file modified, attempting reload", "event", event)

		// let the editor flush the new contents to disk
		<-time.After(delayBetweenEventAndReload)

		if err := cc.Load(); err != nil {
			cc.logger.Warnw("Failed to reload config file", "error", err)
		} else {
			cc.logger.Info("Reloaded config successfully")
			cc.notifier.Notify("Configuration reloaded!", "Your changes have been applied.")

			cc.onConfigReloaded()
		}

		lastAttemptedReload = now
	})

	<-cc.stopWatcherChannel
	cc.logger.Debug("Stopping user config file watcher")
	cc.userConfig.OnConfigChange(func(fsnotify.Event) {})
}

// StopWatchingConfigFile signals our filesystem watcher to stop
func (cc *CanonicalConfig) StopWatchingConfigFile() {
	cc.stopWatcherChannel <- true

	cc.closeReloadChannels()
}

func (cc *CanonicalConfig) closeReloadChannels() {
	cc.consumersMutex.Lock()
	defer cc.consumersMutex.Unlock()

	for _, ch := range cc.reloadConsumers {
		close(ch)
	}
	cc.reloadConsumers = nil

	cc.logger.Debug("Closed all config reload channels")
}

func (cc *CanonicalConfig) configFilepath() string {
	return filepath.Join(cc.configDir, userConfigFilepath)
}

// populateFromVipers replaces the current snapshot. an invalid config leaves the previous one in place
func (cc *CanonicalConfig) populateFromVipers() error {
	var next ConfigSnapshot

	next.ListenAddress = strings.TrimSpace(cc.userConfig.GetString(configKeyListenAddress))
	if next.ListenAddress == "" {
		cc.logger.Warnw("Empty listen address, falling back to default", "default", defaultListenAddress)
		next.ListenAddress = defaultListenAddress
	}

	next.ConnectionInfo.SerialPort = cc.userConfig.GetString(configKeySerialPort)
	next.ConnectionInfo.SerialBaudRate = cc.userConfig.GetInt(configKeySerialBaudRate)

	next.EventBufferSize = cc.userConfig.GetInt(configKeyEventBufferSize)
	if next.EventBufferSize <= 0 {
		cc.logger.Warnw("Invalid event buffer size, falling back to default",
			"value", next.EventBufferSize, "default", DefaultEventBufferSize)
		next.EventBufferSize = DefaultEventBufferSize
	}

	next.DevicePollInterval = cc.userConfig.GetDuration(configKeyDevicePollInterval)
	if next.DevicePollInterval < 0 {
		return fmt.Errorf("negative %s: %s", configKeyDevicePollInterval, next.DevicePollInterval)
	}

	next.ExposeErrorDetails = cc.userConfig.GetBool(configKeyExposeErrorDetails)

	disabled := cc.userConfig.GetStringSlice(configKeyDisabledModules)
	next.DisabledModules = funk.UniqString(funk.FilterString(
		funk.Map(disabled, normalizeModuleName).([]string),
		func(s string) bool { return s != "" },
	))

	cc.mu.Lock()
	cc.current = next
	cc.mu.Unlock()

	cc.logger.Debug("Populated config fields from vipers")

	return nil
}

func (cc *CanonicalConfig) onConfigReloaded() {
	cc.logger.Debug("Notifying consumers about configuration reload")

	cc.consumersMutex.Lock()
	defer cc.consumersMutex.Unlock()

	for _, consumer := range cc.reloadConsumers {
		select {
		case consumer <- true:
		default:
			// a reload is already pending for this consumer
		}
	}
}
