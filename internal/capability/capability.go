// Package capability declares the external systems the orchestrator drives
// but does not implement: the container runtime, outbound HTTP, and the
// filesystem. Every other package in this module accepts these as
// interfaces so that the orchestration logic (dependency resolution,
// lockfile handling, lifecycle scheduling, variable substitution) can be
// exercised without a live Docker daemon, network, or disk.
package capability

import (
	"context"
	"io"
	"net/http"

	"github.com/docker/docker/api/types/mount"
)

// ExecSpec is a single command invocation inside a running container.
type ExecSpec struct {
	Cmd        []string
	WorkingDir string
	User       string
	Env        []string
	Stdout     io.Writer
	Stderr     io.Writer
}

// ContainerSpec describes the container to bring up for a workspace.
type ContainerSpec struct {
	Image       string
	Mounts      []mount.Mount
	Env         map[string]string
	Labels      map[string]string
	CapAdd      []string
	SecurityOpt []string
	Privileged  bool
	Init        bool
	RunArgs     []string
}

// ContainerRuntime is the capability that creates, starts, and execs into
// dev containers. dcx never shells out to `docker` directly; every
// runtime-affecting operation goes through this interface so the
// orchestration logic stays runtime-agnostic and testable with a fake.
type ContainerRuntime interface {
	// FindByLabels returns the container ID of a running container matching
	// the given labels, or "" if none exists.
	FindByLabels(ctx context.Context, labels map[string]string) (string, error)

	// Create creates (but does not start) a container from spec, returning
	// its ID.
	Create(ctx context.Context, spec ContainerSpec) (string, error)

	// Start starts a previously created container.
	Start(ctx context.Context, containerID string) error

	// Exec runs a command inside a running container and returns its exit
	// code. A non-nil error indicates the command could not be launched at
	// all (as opposed to exiting non-zero).
	Exec(ctx context.Context, containerID string, spec ExecSpec) (exitCode int, err error)

	// Stop stops a running container. It takes no grace-period argument;
	// when a forceful kill follows is up to the implementation.
	Stop(ctx context.Context, containerID string) error
}

// HTTPDoer is the minimal surface the OCI client and feature fetcher need
// from an HTTP transport. *http.Client satisfies it directly; tests
// substitute a fake or httptest.Server-backed client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// FileSystem abstracts the subset of filesystem operations the lockfile,
// cache, and feature fetcher perform, so they can be exercised against an
// in-memory fake without touching disk.
type FileSystem interface {
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte, perm uint32) error
	MkdirAll(path string, perm uint32) error
	Stat(path string) (exists bool, isDir bool, err error)
	Remove(path string) error
	Rename(oldpath, newpath string) error
}
