//go:build !windows && !linux

package mixer

import (
	"fmt"
	"runtime"

	"go.uber.org/zap"
)

// NewAudioSystem reports that no backend exists for this platform
func NewAudioSystem(logger *zap.SugaredLogger) (AudioSystem, error) {
	logger.Named("audio_system").Warnw("No audio backend for this platform", "os", runtime.GOOS)
	return nil, fmt.Errorf("create audio system on %s: %w", runtime.GOOS, ErrUnsupportedPlatform)
}
