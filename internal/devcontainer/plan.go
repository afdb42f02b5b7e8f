package devcontainer

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ExecutionPlan defines what needs to be built/run for a devcontainer.
// This is a sealed interface that enables type-safe plan handling through
// Go's type switch mechanism.
//
// Usage:
//
//	switch p := plan.(type) {
//	case *ImagePlan:
//	    // Handle image pull
//	case *DockerfilePlan:
//	    // Handle dockerfile build
//	case *ComposePlan:
//	    // Handle compose up
//	}
type ExecutionPlan interface {
	// Type returns the plan type identifier.
	Type() PlanType

	// sealed prevents external implementations.
	sealed()
}

// ImagePlan represents a pre-built image configuration.
// Use this when the devcontainer specifies only an image reference.
type ImagePlan struct {
	// Image is the Docker image reference (e.g., "mcr.microsoft.com/devcontainers/go:1")
	Image string
}

// Type returns PlanTypeImage.
func (p *ImagePlan) Type() PlanType { return PlanTypeImage }

// sealed prevents external implementations.
func (p *ImagePlan) sealed() {}

// DockerfilePlan represents a Dockerfile-based build configuration.
// Use this when the devcontainer has a build section.
type DockerfilePlan struct {
	// Dockerfile is the absolute path to the Dockerfile.
	Dockerfile string

	// Context is the absolute path to the build context directory.
	Context string

	// Args are build arguments passed to docker build.
	Args map[string]string

	// Target is the target build stage (optional).
	Target string

	// CacheFrom is a list of images to use as cache sources.
	CacheFrom []string

	// Options are additional build options from devcontainer.json.
	Options []string

	// BaseImage is the base image extracted from the Dockerfile's FROM instruction.
	// This is populated during build resolution.
	BaseImage string
}

// Type returns PlanTypeDockerfile.
func (p *DockerfilePlan) Type() PlanType { return PlanTypeDockerfile }

// sealed prevents external implementations.
func (p *DockerfilePlan) sealed() {}

// ComposePlan represents a Docker Compose configuration.
// Use this when the devcontainer specifies dockerComposeFile.
type ComposePlan struct {
	// Files are the absolute paths to compose files.
	Files []string

	// Service is the primary service name to attach to.
	Service string

	// RunServices are additional services to start alongside the primary service.
	RunServices []string

	// ProjectName is the compose project name (sanitized for Docker).
	ProjectName string

	// WorkDir is the working directory for compose commands.
	WorkDir string
}

// Type returns PlanTypeCompose.
func (p *ComposePlan) Type() PlanType { return PlanTypeCompose }

// sealed prevents external implementations.
func (p *ComposePlan) sealed() {}

// NewImagePlan creates a new ImagePlan.
func NewImagePlan(image string) *ImagePlan {
	return &ImagePlan{Image: image}
}

// NewDockerfilePlan creates a new DockerfilePlan.
func NewDockerfilePlan(dockerfile, context string) *DockerfilePlan {
	return &DockerfilePlan{
		Dockerfile: dockerfile,
		Context:    context,
		Args:       make(map[string]string),
	}
}

// NewComposePlan creates a new ComposePlan.
func NewComposePlan(files []string, service, projectName string) *ComposePlan {
	return &ComposePlan{
		Files:       files,
		Service:     service,
		ProjectName: projectName,
	}
}

// composeFile is the slice of a docker-compose.yml this package cares about:
// just enough to confirm the devcontainer's chosen service actually exists.
// Full compose semantics (networks, env_file interpolation, extends, ...) are
// the container runtime's job at `up` time, not the plan resolver's.
type composeFile struct {
	Services map[string]interface{} `yaml:"services"`
}

// validateComposeService checks that service is defined in at least one of
// the given compose files, so a typo in devcontainer.json's "service" field
// surfaces at resolve time instead of as an opaque runtime failure.
func validateComposeService(files []string, service string) error {
	if service == "" {
		return fmt.Errorf("dockerComposeFile requires a service")
	}

	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("failed to read compose file %s: %w", f, err)
		}

		var cf composeFile
		if err := yaml.Unmarshal(data, &cf); err != nil {
			return fmt.Errorf("failed to parse compose file %s: %w", f, err)
		}

		if _, ok := cf.Services[service]; ok {
			return nil
		}
	}

	return fmt.Errorf("service %q not found in compose file(s) %v", service, files)
}
