package devcontainer

import (
	"crypto/sha256"
	"encoding/base32"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/devcontainers/cli-sub000/internal/util"
)

// DevContainerID is a lightweight identifier for quick lookups.
// Use this when you don't need the full ResolvedDevContainer.
type DevContainerID struct {
	// ID is the stable workspace identifier (hash of workspace path).
	ID string

	// Name is the human-readable name (from config or directory name).
	Name string

	// ProjectName is the sanitized project name (for compose and container naming).
	ProjectName string
}

// ComputeID generates a stable workspace identifier from the workspace path.
// Returns base32(sha256(realpath(workspace_root)))[0:12].
//
// This is the canonical identifier used for container labels, compose project
// names, and all workspace lookups.
func ComputeID(workspacePath string) string {
	realPath, err := util.RealPath(workspacePath)
	if err != nil {
		realPath = workspacePath
	}
	realPath = util.NormalizePath(realPath)

	hash := sha256.Sum256([]byte(realPath))

	encoded := base32.StdEncoding.EncodeToString(hash[:])
	encoded = strings.ToLower(encoded)

	if len(encoded) > 12 {
		encoded = encoded[:12]
	}

	return encoded
}

// ComputeName derives a workspace name from the path or config.
func ComputeName(workspacePath string, cfg *DevContainerConfig) string {
	if cfg != nil && cfg.Name != "" {
		return cfg.Name
	}
	return filepath.Base(workspacePath)
}

// ComputeDevContainerID creates a DevContainerID from workspace path and config.
func ComputeDevContainerID(workspacePath string, cfg *DevContainerConfig) *DevContainerID {
	id := ComputeID(workspacePath)

	name := filepath.Base(workspacePath)
	if cfg != nil && cfg.Name != "" {
		name = cfg.Name
	}

	projectName := ""
	if cfg != nil && cfg.Name != "" {
		projectName = SanitizeProjectName(cfg.Name)
	}

	return &DevContainerID{
		ID:          id,
		Name:        name,
		ProjectName: projectName,
	}
}

var invalidProjectNameChars = regexp.MustCompile(`[^a-z0-9_-]+`)

// SanitizeProjectName ensures the name is valid for Docker container/compose
// project names: lowercase, alphanumeric plus '-'/'_', and starting with an
// alphanumeric character.
func SanitizeProjectName(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = invalidProjectNameChars.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-_")
	if s == "" {
		return "workspace"
	}
	if !(s[0] >= 'a' && s[0] <= 'z' || s[0] >= '0' && s[0] <= '9') {
		s = "w" + s
	}
	return s
}
