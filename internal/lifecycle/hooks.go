// Package lifecycle schedules and executes devcontainer lifecycle hook
// commands (initializeCommand through postAttachCommand) against the host
// and against a running container.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/devcontainers/cli-sub000/internal/capability"
	"github.com/devcontainers/cli-sub000/internal/devcontainer"
)

// WaitFor represents the lifecycle command to wait for before considering
// the container ready. Commands after this point run in the background.
type WaitFor string

const (
	WaitForInitializeCommand    WaitFor = "initializeCommand"
	WaitForOnCreateCommand      WaitFor = "onCreateCommand"
	WaitForUpdateContentCommand WaitFor = "updateContentCommand"
	WaitForPostCreateCommand    WaitFor = "postCreateCommand"
	WaitForPostStartCommand     WaitFor = "postStartCommand"
)

// waitForOrder defines the order of lifecycle commands for comparison.
var waitForOrder = map[WaitFor]int{
	WaitForInitializeCommand:    0,
	WaitForOnCreateCommand:      1,
	WaitForUpdateContentCommand: 2,
	WaitForPostCreateCommand:    3,
	WaitForPostStartCommand:     4,
}

// CommandSpec represents a single parsed command that can be either a
// shell string or an exec-style array of arguments.
type CommandSpec struct {
	// Args contains the command and its arguments. For shell commands this
	// holds a single element, the full command string to pass to sh -c.
	Args []string

	// UseShell indicates whether this command should be run through a shell.
	UseShell bool

	// Name is the map key for a named command (empty for string/array form).
	Name string
}

// FeatureHook is a lifecycle hook command contributed by an installed
// feature. Feature hooks of a given stage always run before the
// devcontainer.json command for that stage.
type FeatureHook struct {
	FeatureID   string
	FeatureName string
	// FeatureRoot is the path, inside the container, where this feature's
	// contents were copied during image build. It backs ${featureRoot}
	// substitution in the command below and is meaningless outside a
	// feature's own lifecycle command.
	FeatureRoot string
	Command     interface{}
}

// HookRunner executes lifecycle hooks for one workspace.
type HookRunner struct {
	runtime       capability.ContainerRuntime
	containerID   string
	workspacePath string
	cfg           *devcontainer.DevContainerConfig
	log           *slog.Logger

	featureOnCreateHooks   []FeatureHook
	featurePostCreateHooks []FeatureHook
	featurePostStartHooks  []FeatureHook

	skipPostCreate          bool
	skipPostAttach          bool
	skipNonBlockingCommands bool
}

// NewHookRunner creates a hook runner bound to a running container.
func NewHookRunner(runtime capability.ContainerRuntime, containerID, workspacePath string, cfg *devcontainer.DevContainerConfig, log *slog.Logger) *HookRunner {
	if log == nil {
		log = slog.Default()
	}
	return &HookRunner{
		runtime:       runtime,
		containerID:   containerID,
		workspacePath: workspacePath,
		cfg:           cfg,
		log:           log,
	}
}

// SetFeatureHooks sets the feature lifecycle hooks to be executed alongside
// the devcontainer.json hooks of the matching stage.
func (r *HookRunner) SetFeatureHooks(onCreate, postCreate, postStart []FeatureHook) {
	r.featureOnCreateHooks = onCreate
	r.featurePostCreateHooks = postCreate
	r.featurePostStartHooks = postStart
}

// SetSkipFlags configures the --skip-post-create, --skip-post-attach, and
// --skip-non-blocking-commands behaviors. skipPostCreate also implies
// skipping postAttach on first creation, per the devcontainer CLI's flag
// semantics; a later run-user-commands invocation can still run them.
func (r *HookRunner) SetSkipFlags(skipPostCreate, skipPostAttach, skipNonBlockingCommands bool) {
	r.skipPostCreate = skipPostCreate
	r.skipPostAttach = skipPostAttach
	r.skipNonBlockingCommands = skipNonBlockingCommands
}

// markerPath returns the path of the idempotence marker file for a lifecycle
// stage, written inside the container after the stage completes
// successfully.
func markerPath(stage string) string {
	return fmt.Sprintf("/tmp/%sCommand.testmarker", stage)
}

// hasMarker reports whether a stage's marker file is already present in the
// container, meaning this container previously completed that stage (a
// restart reusing a stopped container preserves /tmp; a fresh container
// starts without it).
func (r *HookRunner) hasMarker(ctx context.Context, stage string) bool {
	exitCode, err := r.runtime.Exec(ctx, r.containerID, capability.ExecSpec{
		Cmd: []string{"test", "-f", markerPath(stage)},
	})
	return err == nil && exitCode == 0
}

// writeMarker records that a stage completed. Failure to write it is logged
// but not fatal to the stage itself.
func (r *HookRunner) writeMarker(ctx context.Context, stage string) {
	if _, err := r.runtime.Exec(ctx, r.containerID, capability.ExecSpec{
		Cmd: []string{"touch", markerPath(stage)},
	}); err != nil {
		r.log.Warn("failed to write lifecycle marker", "stage", stage, "error", err)
	}
}

// defaultWaitFor is updateContentCommand per the devcontainer spec: a
// container is considered ready once setup up through updateContentCommand
// completes, with postCreateCommand and postStartCommand continuing in the
// background.
const defaultWaitFor = WaitForUpdateContentCommand

func (r *HookRunner) getWaitFor() WaitFor {
	if r.cfg.WaitFor == "" {
		return defaultWaitFor
	}
	wf := WaitFor(r.cfg.WaitFor)
	if _, ok := waitForOrder[wf]; !ok {
		return defaultWaitFor
	}
	return wf
}

func (r *HookRunner) shouldBlock(cmd WaitFor) bool {
	return waitForOrder[cmd] <= waitForOrder[r.getWaitFor()]
}

// RunInitialize runs initializeCommand on the host, before the container
// exists.
func (r *HookRunner) RunInitialize(ctx context.Context) error {
	if r.cfg.InitializeCommand == nil {
		return nil
	}
	r.log.Info("running lifecycle hook", "stage", "initializeCommand")
	return r.runHostCommand(ctx, r.cfg.InitializeCommand)
}

// RunOnCreate runs onCreateCommand, then any feature onCreateCommand hooks,
// inside the container. It is create-only: on a restart that reuses the
// stopped container, the onCreateCommand.testmarker file left behind in
// /tmp from the earlier run makes this a no-op.
func (r *HookRunner) RunOnCreate(ctx context.Context) error {
	const stage = "onCreateCommand"
	if r.hasMarker(ctx, stage) {
		r.log.Debug("skipping lifecycle hook, marker present", "stage", stage)
		return nil
	}
	if r.cfg.OnCreateCommand != nil {
		r.log.Info("running lifecycle hook", "stage", stage)
		if err := r.runContainerCommand(ctx, r.cfg.OnCreateCommand); err != nil {
			return err
		}
	}
	if err := r.runFeatureHooks(ctx, r.featureOnCreateHooks, stage); err != nil {
		return err
	}
	r.writeMarker(ctx, stage)
	return nil
}

// RunUpdateContent runs updateContentCommand inside the container.
// Create-only, gated by the same marker-file idempotence as RunOnCreate.
func (r *HookRunner) RunUpdateContent(ctx context.Context) error {
	const stage = "updateContentCommand"
	if r.hasMarker(ctx, stage) {
		r.log.Debug("skipping lifecycle hook, marker present", "stage", stage)
		return nil
	}
	if r.cfg.UpdateContentCommand != nil {
		r.log.Info("running lifecycle hook", "stage", stage)
		if err := r.runContainerCommand(ctx, r.cfg.UpdateContentCommand); err != nil {
			return err
		}
	}
	r.writeMarker(ctx, stage)
	return nil
}

// RunPostCreate runs postCreateCommand, then feature postCreateCommand
// hooks, inside the container. Create-only, gated by a marker file;
// additionally skipped outright when --skip-post-create was passed, in
// which case postAttach is also suppressed for this creation (see
// RunPostAttach).
func (r *HookRunner) RunPostCreate(ctx context.Context) error {
	const stage = "postCreateCommand"
	if r.skipPostCreate {
		r.log.Debug("skipping lifecycle hook, --skip-post-create", "stage", stage)
		return nil
	}
	if r.hasMarker(ctx, stage) {
		r.log.Debug("skipping lifecycle hook, marker present", "stage", stage)
		return nil
	}
	if r.cfg.PostCreateCommand != nil {
		r.log.Info("running lifecycle hook", "stage", stage)
		if err := r.runContainerCommand(ctx, r.cfg.PostCreateCommand); err != nil {
			return err
		}
	}
	if err := r.runFeatureHooks(ctx, r.featurePostCreateHooks, stage); err != nil {
		return err
	}
	r.writeMarker(ctx, stage)
	return nil
}

// RunPostStart runs postStartCommand, then feature postStartCommand hooks.
// It runs every time the container starts, not just on creation, so it
// carries no skip-on-marker behavior; a marker is still written afterward
// for observability.
func (r *HookRunner) RunPostStart(ctx context.Context) error {
	const stage = "postStartCommand"
	if r.cfg.PostStartCommand != nil {
		r.log.Info("running lifecycle hook", "stage", stage)
		if err := r.runContainerCommand(ctx, r.cfg.PostStartCommand); err != nil {
			return err
		}
	}
	if err := r.runFeatureHooks(ctx, r.featurePostStartHooks, stage); err != nil {
		return err
	}
	r.writeMarker(ctx, stage)
	return nil
}

// RunPostAttach runs postAttachCommand. Per the devcontainer spec this runs
// on every attach, including repeated attaches to an already-running
// container, so it is never gated by its own marker (one is still written
// after success). --skip-post-attach suppresses it directly; --skip-post-create
// also suppresses it on the creation it applies to.
func (r *HookRunner) RunPostAttach(ctx context.Context) error {
	const stage = "postAttachCommand"
	if r.skipPostCreate || r.skipPostAttach {
		r.log.Debug("skipping lifecycle hook", "stage", stage)
		return nil
	}
	if r.cfg.PostAttachCommand != nil {
		r.log.Info("running lifecycle hook", "stage", stage)
		if err := r.runContainerCommand(ctx, r.cfg.PostAttachCommand); err != nil {
			return err
		}
	}
	r.writeMarker(ctx, stage)
	return nil
}

// RunAllCreateHooks runs every create-time hook in order. Stages at or
// before the configured waitFor point block; later stages are kicked off
// in the background so the caller can hand control back to the user sooner.
// It returns once the blocking stages complete; background stage errors are
// logged but not returned, matching the devcontainer spec's fire-and-forget
// semantics for anything past waitFor.
func (r *HookRunner) RunAllCreateHooks(ctx context.Context) error {
	waitFor := r.getWaitFor()
	if r.skipNonBlockingCommands {
		// Return control after postCreate; postStart and postAttach both
		// continue in the background regardless of the configured waitFor.
		waitFor = WaitForPostCreateCommand
	}
	shouldBlock := func(stage WaitFor) bool {
		return waitForOrder[stage] <= waitForOrder[waitFor]
	}

	var bg errgroup.Group
	run := func(stage WaitFor, name string, fn func() error) error {
		if shouldBlock(stage) {
			return fn()
		}
		bg.Go(func() error {
			if err := fn(); err != nil {
				r.log.Warn("background lifecycle hook failed", "stage", name, "error", err)
				return err
			}
			return nil
		})
		return nil
	}

	if waitFor != defaultWaitFor {
		r.log.Info("container ready early; remaining hooks continue in background", "wait_for", string(waitFor))
	}

	if err := run(WaitForInitializeCommand, "initializeCommand", func() error { return r.RunInitialize(ctx) }); err != nil {
		return fmt.Errorf("initializeCommand failed: %w", err)
	}
	if err := run(WaitForOnCreateCommand, "onCreateCommand", func() error { return r.RunOnCreate(ctx) }); err != nil {
		return fmt.Errorf("onCreateCommand failed: %w", err)
	}
	if err := run(WaitForUpdateContentCommand, "updateContentCommand", func() error { return r.RunUpdateContent(ctx) }); err != nil {
		return fmt.Errorf("updateContentCommand failed: %w", err)
	}
	if err := run(WaitForPostCreateCommand, "postCreateCommand", func() error { return r.RunPostCreate(ctx) }); err != nil {
		return fmt.Errorf("postCreateCommand failed: %w", err)
	}
	if err := run(WaitForPostStartCommand, "postStartCommand", func() error { return r.RunPostStart(ctx) }); err != nil {
		return fmt.Errorf("postStartCommand failed: %w", err)
	}

	// postAttachCommand is normally driven by the caller's attach path, not
	// the create scheduler. --skip-non-blocking-commands is the exception:
	// it asks the scheduler itself to background postAttach right after
	// handing control back following postCreate.
	if r.skipNonBlockingCommands {
		bg.Go(func() error {
			if err := r.RunPostAttach(ctx); err != nil {
				r.log.Warn("background lifecycle hook failed", "stage", "postAttachCommand", "error", err)
				return err
			}
			return nil
		})
	}

	if waitFor != defaultWaitFor {
		go func() {
			if err := bg.Wait(); err != nil {
				r.log.Warn("one or more background lifecycle hooks failed", "error", err)
			} else {
				r.log.Info("background lifecycle hooks completed")
			}
		}()
	}

	return nil
}

// RunStartHooks runs the hooks needed on a restart of an existing container
// (postStartCommand and its feature hooks only; onCreate/updateContent are
// create-only and are not re-run).
func (r *HookRunner) RunStartHooks(ctx context.Context) error {
	return r.RunPostStart(ctx)
}

func (r *HookRunner) runFeatureHooks(ctx context.Context, hooks []FeatureHook, stage string) error {
	for _, hook := range hooks {
		r.log.Info("running feature lifecycle hook", "stage", stage, "feature", hook.FeatureName)
		cmd := substituteCommand(hook.Command, &devcontainer.SubstitutionContext{FeatureRoot: hook.FeatureRoot})
		if err := r.runContainerCommand(ctx, cmd); err != nil {
			return fmt.Errorf("feature %q %s failed: %w", hook.FeatureName, stage, err)
		}
	}
	return nil
}

// substituteCommand applies variable substitution to every string found in
// a lifecycle command value, recursing through the String/Array/Map shapes
// parseCommand understands. Non-string leaves are left untouched.
func substituteCommand(command interface{}, ctx *devcontainer.SubstitutionContext) interface{} {
	switch v := command.(type) {
	case string:
		return devcontainer.Substitute(v, ctx)
	case []string:
		out := make([]string, len(v))
		for i, s := range v {
			out[i] = devcontainer.Substitute(s, ctx)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			if s, ok := item.(string); ok {
				out[i] = devcontainer.Substitute(s, ctx)
			} else {
				out[i] = item
			}
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for name, c := range v {
			out[name] = substituteCommand(c, ctx)
		}
		return out
	default:
		return command
	}
}

// runHostCommand executes a command specification on the host. Map-form
// specs name independent tasks with no ordering guarantee between them, so
// they run concurrently; the first failure cancels the rest via errgroup.
func (r *HookRunner) runHostCommand(ctx context.Context, command interface{}) error {
	cmds := parseCommand(command)
	if len(cmds) <= 1 {
		for _, cmd := range cmds {
			if err := r.executeHostCommand(ctx, cmd); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, cmd := range cmds {
		cmd := cmd
		g.Go(func() error { return r.executeHostCommand(gctx, cmd) })
	}
	return g.Wait()
}

// runContainerCommand mirrors runHostCommand for in-container execution.
func (r *HookRunner) runContainerCommand(ctx context.Context, command interface{}) error {
	cmds := parseCommand(command)
	if len(cmds) <= 1 {
		for _, cmd := range cmds {
			if err := r.executeContainerCommand(ctx, cmd); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, cmd := range cmds {
		cmd := cmd
		g.Go(func() error { return r.executeContainerCommand(gctx, cmd) })
	}
	return g.Wait()
}

func formatCommandForDisplay(cmd CommandSpec) string {
	if cmd.Name != "" {
		return fmt.Sprintf("[%s] %s", cmd.Name, strings.Join(cmd.Args, " "))
	}
	return strings.Join(cmd.Args, " ")
}

func (r *HookRunner) executeHostCommand(ctx context.Context, cmdSpec CommandSpec) error {
	r.log.Debug("host command", "cmd", formatCommandForDisplay(cmdSpec))

	var cmd *exec.Cmd
	if cmdSpec.UseShell {
		cmd = exec.CommandContext(ctx, "sh", "-c", cmdSpec.Args[0])
	} else {
		cmd = exec.CommandContext(ctx, cmdSpec.Args[0], cmdSpec.Args[1:]...)
	}
	cmd.Dir = r.workspacePath
	cmd.Env = os.Environ()
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	return cmd.Run()
}

func (r *HookRunner) executeContainerCommand(ctx context.Context, cmdSpec CommandSpec) error {
	r.log.Debug("container command", "cmd", formatCommandForDisplay(cmdSpec))

	workspaceFolder := devcontainer.DetermineContainerWorkspaceFolder(r.cfg, r.workspacePath)

	user := r.cfg.RemoteUser
	if user != "" {
		user = devcontainer.Substitute(user, &devcontainer.SubstitutionContext{
			LocalWorkspaceFolder: r.workspacePath,
		})
	}

	var execCmd []string
	if cmdSpec.UseShell {
		execCmd = []string{"sh", "-c", cmdSpec.Args[0]}
	} else {
		execCmd = cmdSpec.Args
	}

	spec := capability.ExecSpec{
		Cmd:        execCmd,
		WorkingDir: workspaceFolder,
		User:       user,
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
	}
	if user != "" {
		spec.Env = append(spec.Env, fmt.Sprintf("USER=%s", user), fmt.Sprintf("HOME=/home/%s", user))
	}

	exitCode, err := r.runtime.Exec(ctx, r.containerID, spec)
	if err != nil {
		return err
	}
	if exitCode != 0 {
		return fmt.Errorf("command exited with code %d", exitCode)
	}
	return nil
}

// parseCommand parses a devcontainer.json command field into individual
// CommandSpecs.
//
//   - string: a single shell command, run via sh -c.
//   - []string / []interface{}: a single exec-style command.
//   - map[string]interface{}: named commands with no ordering between them;
//     the caller runs these concurrently.
func parseCommand(command interface{}) []CommandSpec {
	if command == nil {
		return nil
	}

	switch v := command.(type) {
	case string:
		return []CommandSpec{{Args: []string{v}, UseShell: true}}

	case []string:
		if len(v) == 0 {
			return nil
		}
		return []CommandSpec{{Args: v}}

	case []interface{}:
		args := stringsFromInterfaces(v)
		if len(args) == 0 {
			return nil
		}
		return []CommandSpec{{Args: args}}

	case map[string]interface{}:
		cmds := make([]CommandSpec, 0, len(v))
		for name, cmd := range v {
			switch c := cmd.(type) {
			case string:
				cmds = append(cmds, CommandSpec{Args: []string{c}, UseShell: true, Name: name})
			case []interface{}:
				if args := stringsFromInterfaces(c); len(args) > 0 {
					cmds = append(cmds, CommandSpec{Args: args, Name: name})
				}
			}
		}
		return cmds

	default:
		return nil
	}
}

func stringsFromInterfaces(items []interface{}) []string {
	args := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			args = append(args, s)
		}
	}
	return args
}
