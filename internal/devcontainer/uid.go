package devcontainer

import "runtime"

// ShouldUpdateRemoteUserUID determines whether the container build should
// add a layer that rewrites remoteUser's UID/GID to match the host user, so
// that bind-mounted files created in the container are owned by the host
// user outside it.
//
// Returns true when the platform benefits from UID alignment (Linux,
// macOS), the host user isn't root, remoteUser isn't root, and the config
// doesn't explicitly disable it.
func ShouldUpdateRemoteUserUID(cfg *DevContainerConfig, remoteUser string, hostUID int) bool {
	if runtime.GOOS == "windows" {
		return false
	}
	if hostUID == 0 {
		return false
	}
	if remoteUser == "root" || remoteUser == "0" {
		return false
	}
	if cfg != nil && cfg.UpdateRemoteUserUID != nil {
		return *cfg.UpdateRemoteUserUID
	}
	return true
}
