package main

import (
	"testing"

	"github.com/stalexteam/mixer_remote/pkg/mixer"
)

func TestDevicesPayload(t *testing.T) {
	payload, err := devicesPayload()
	if err != nil {
		t.Fatalf("devicesPayload() error = %v", err)
	}

	request, err := mixer.DecodeAudioRequest(payload)
	if err != nil {
		t.Fatalf("DecodeAudioRequest(%s) error = %v", payload, err)
	}
	if request.Action != mixer.ActionDevicesList {
		t.Errorf("Action = %q, want %q", request.Action, mixer.ActionDevicesList)
	}
}

func TestVersionString(t *testing.T) {
	defer func(commit, tag, build string) {
		gitCommit, versionTag, buildType = commit, tag, build
	}(gitCommit, versionTag, buildType)

	tests := []struct {
		name      string
		commit    string
		tag       string
		buildType string
		want      string
	}{
		{"development", "", "", "", ""},
		{"commit only", "abc123", "", "release", "Version release-abc123"},
		{"tag wins", "abc123", "v1.2.0", "release", "Version release-v1.2.0"},
		{"no build type", "abc123", "v1.2.0", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gitCommit, versionTag, buildType = tt.commit, tt.tag, tt.buildType

			if got := versionString(); got != tt.want {
				t.Errorf("versionString() = %q, want %q", got, tt.want)
			}
		})
	}
}
