package devcontainer

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShouldUpdateRemoteUserUID(t *testing.T) {
	trueVal := true
	falseVal := false

	tests := []struct {
		name       string
		cfg        *DevContainerConfig
		remoteUser string
		hostUID    int
		expected   bool
	}{
		{"explicitly true on supported platform", &DevContainerConfig{UpdateRemoteUserUID: &trueVal}, "vscode", 1000, runtime.GOOS != "windows"},
		{"explicitly false", &DevContainerConfig{UpdateRemoteUserUID: &falseVal}, "vscode", 1000, false},
		{"not set (nil) defaults to true on Linux/macOS", &DevContainerConfig{UpdateRemoteUserUID: nil}, "vscode", 1000, runtime.GOOS != "windows"},
		{"empty config with user", &DevContainerConfig{}, "vscode", 1000, runtime.GOOS != "windows"},
		{"skip root user", &DevContainerConfig{}, "root", 1000, false},
		{"skip root user numeric", &DevContainerConfig{}, "0", 1000, false},
		{"skip when host is root", &DevContainerConfig{}, "vscode", 0, false},
		{"nil config", nil, "vscode", 1000, runtime.GOOS != "windows"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ShouldUpdateRemoteUserUID(tt.cfg, tt.remoteUser, tt.hostUID)
			assert.Equal(t, tt.expected, result)
		})
	}
}
