package mixer

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gen2brain/beeep"
	"go.uber.org/zap"

	"github.com/stalexteam/mixer_remote/pkg/mixer/icon"
	"github.com/stalexteam/mixer_remote/pkg/mixer/util"
)

// Notifier provides generic notification sending
type Notifier interface {
	Notify(title string, message string)
}

// ToastNotifier provides toast notifications for Windows and desktop notifications for Linux
type ToastNotifier struct {
	logger *zap.SugaredLogger
}

// NewToastNotifier creates a new ToastNotifier
func NewToastNotifier(logger *zap.SugaredLogger) (*ToastNotifier, error) {
	logger = logger.Named("notifier")
	tn := &ToastNotifier{logger: logger}

	logger.Debug("Created toast notifier instance")

	return tn, nil
}

// Notify sends a toast notification (or falls back to other types of notification for older Windows versions)
func (tn *ToastNotifier) Notify(title string, message string) {
	appIconPath := filepath.Join(os.TempDir(), "mixer-remote.ico")

	// beeep wants a path, so the embedded icon is written out once
	if !util.FileExists(appIconPath) {
		tn.logger.Debugw("Mixer icon file missing, creating", "path", appIconPath)

		if err := os.WriteFile(appIconPath, icon.Logo, 0644); err != nil {
			tn.logger.Errorw("Failed to create toast notification icon", "error", err)
		}
	}

	if err := beeep.Notify(title, message, appIconPath); err != nil {
		tn.logger.Errorw("Failed to send toast notification", "error", fmt.Errorf("send toast: %w", err))
	}
}
