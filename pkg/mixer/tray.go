package mixer

import (
	"fmt"

	"github.com/getlantern/systray"

	"github.com/stalexteam/mixer_remote/pkg/mixer/icon"
	"github.com/stalexteam/mixer_remote/pkg/mixer/util"
)

func (r *Remote) initializeTray(onDone func()) {
	logger := r.logger.Named("tray")

	onReady := func() {
		logger.Debug("Tray instance ready")

		systray.SetTemplateIcon(icon.Logo, icon.Logo)
		systray.SetTitle("Mixer Remote")
		systray.SetTooltip(fmt.Sprintf("Mixer Remote (%s)", r.config.Snapshot().ListenAddress))

		editConfig := systray.AddMenuItem("Edit configuration", "Open config file with a text editor")

		// only offered in verbose mode, for chasing deadlocks
		var dumpStack *systray.MenuItem
		if r.verbose {
			dumpStack = systray.AddMenuItem("Dump stack trace", "Output all goroutines stack trace to log")
		}

		if r.version != "" {
			systray.AddSeparator()
			versionInfo := systray.AddMenuItem(r.version, "")
			versionInfo.Disable()
		}

		systray.AddSeparator()
		quit := systray.AddMenuItem("Quit", "Stop the remote and quit")

		go func() {
			for {
				select {

				case <-quit.ClickedCh:
					logger.Info("Quit menu item clicked, stopping")

					r.signalStop()

				case <-editConfig.ClickedCh:
					logger.Info("Edit config menu item clicked, opening config for editing")

					if err := util.OpenExternal(logger, util.TextEditor(), r.config.configFilepath()); err != nil {
						logger.Warnw("Failed to open config file for editing", "error", err)
					}
				}
			}
		}()

		if dumpStack != nil {
			go func() {
				for {
					<-dumpStack.ClickedCh
					logger.Info("Dump stack trace menu item clicked, outputting all goroutines stack trace")
					util.DumpAllGoroutines(logger)
				}
			}()
		}

		// actually start the main runtime
		onDone()
	}

	onExit := func() {
		logger.Debug("Tray exited")
	}

	logger.Debug("Running in tray")
	systray.Run(onReady, onExit)
}

func (r *Remote) stopTray() {
	if r.noTray {
		return
	}

	r.logger.Debug("Quitting tray")
	systray.Quit()
}
