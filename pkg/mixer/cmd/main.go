package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stalexteam/mixer_remote/pkg/mixer"
)

var (
	gitCommit  string
	versionTag string
	buildType  string

	verbose     bool
	noTray      bool
	showVersion bool
)

var rootCmd = &cobra.Command{
	Use:          "mixer-remote",
	Short:        "Control the local audio mixer from remote clients",
	Long:         `mixer-remote serves master volume, output devices and per-application session volumes over HTTP, WebSocket, SSE and serial.`,
	RunE:         runServe,
	SilenceUsage: true,
}

var modulesCmd = &cobra.Command{
	Use:   "modules",
	Short: "List the request modules that are enabled",
	RunE:  runModules,
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List output devices as the audio module reports them",
	RunE:  runDevices,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "show verbose logs (useful for debugging serial)")
	rootCmd.Flags().BoolVar(&noTray, "no-tray", false, "run without a tray icon")
	rootCmd.Flags().BoolVar(&showVersion, "version", false, "print version information and exit")

	rootCmd.AddCommand(modulesCmd)
	rootCmd.AddCommand(devicesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionString() string {
	if buildType == "" || (versionTag == "" && gitCommit == "") {
		return ""
	}

	identifier := gitCommit
	if versionTag != "" {
		identifier = versionTag
	}

	return fmt.Sprintf("Version %s-%s", buildType, identifier)
}

func newLogger() (*zap.SugaredLogger, error) {
	logger, err := mixer.NewLogger(verbose)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	named := logger.Named("main")
	named.Debug("Created logger")
	named.Infow("Version info", "gitCommit", gitCommit, "versionTag", versionTag, "buildType", buildType)

	if verbose {
		named.Debug("Verbose flag provided, all log messages will be shown")
	}

	return logger, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if showVersion {
		if v := versionString(); v != "" {
			fmt.Println(v)
		} else {
			fmt.Println("Version unknown (development build)")
		}
		return nil
	}

	logger, err := newLogger()
	if err != nil {
		return err
	}
	named := logger.Named("main")

	r, err := mixer.NewRemote(logger, verbose)
	if err != nil {
		named.Errorw("Failed to create remote object", "error", err)
		return err
	}

	if v := versionString(); v != "" {
		r.SetVersion(v)
	}
	r.SetNoTray(noTray)

	if err := r.Initialize(); err != nil {
		named.Errorw("Failed to initialize remote", "error", err)
		return err
	}

	return nil
}

// prepareRemote builds a remote that never starts its transports
func prepareRemote() (*mixer.Remote, error) {
	logger, err := newLogger()
	if err != nil {
		return nil, err
	}

	r, err := mixer.NewRemote(logger, verbose)
	if err != nil {
		return nil, err
	}

	if err := r.Prepare(); err != nil {
		r.Release()
		return nil, err
	}

	return r, nil
}

func runModules(cmd *cobra.Command, args []string) error {
	r, err := prepareRemote()
	if err != nil {
		return err
	}
	defer r.Release()

	for _, name := range r.Dispatcher().Registry().Modules() {
		fmt.Fprintln(cmd.OutOrStdout(), name)
	}

	return nil
}

func runDevices(cmd *cobra.Command, args []string) error {
	r, err := prepareRemote()
	if err != nil {
		return err
	}
	defer r.Release()

	payload, err := devicesPayload()
	if err != nil {
		return err
	}

	outcome := r.Dispatcher().Dispatch(mixer.AudioModuleName, payload)

	if outcome.StatusCode() != mixer.CodeOK {
		return fmt.Errorf("list devices: %s", mixer.EncodeOutcome(zap.NewNop().Sugar(), outcome))
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")

	return encoder.Encode(outcome)
}

// devicesPayload is the audio payload the devices command dispatches
func devicesPayload() (json.RawMessage, error) {
	payload, err := json.Marshal(mixer.AudioRequest{Action: mixer.ActionDevicesList})
	if err != nil {
		return nil, fmt.Errorf("marshal devices request: %w", err)
	}

	return payload, nil
}
