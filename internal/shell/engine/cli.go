package engine

import (
	"bytes"
	"context"
	"fmt"
	"sort"
)

// =============================================================================
// Image Builds (docker build)
// =============================================================================

// BuildImage builds an image with the docker CLI. Build output goes to the
// given streams so build errors reach the user verbatim.
func (d *DockerEngine) BuildImage(ctx context.Context, spec BuildSpec, streams Streams) error {
	args := []string{"build", "--tag", spec.Ref}
	if spec.Dockerfile != "" {
		args = append(args, "--file", spec.Dockerfile)
	}
	for _, k := range sortedLabelKeys(spec.Labels) {
		args = append(args, "--label", k+"="+spec.Labels[k])
	}
	buildContext := spec.Context
	if buildContext == "" {
		buildContext = "."
	}
	args = append(args, buildContext)

	if err := d.stream(ctx, streams, args...); err != nil {
		return NewEngineError("BuildImage", "image", spec.Ref, err.Error(), ErrBuildFailed)
	}
	return nil
}

// =============================================================================
// Compose Projects (docker compose)
// =============================================================================

// ComposeUp creates or reconciles the project and waits until every service
// with a health check reports healthy. Compose starts services in
// dependency order and honours depends_on conditions.
func (d *DockerEngine) ComposeUp(ctx context.Context, project ComposeProject, streams Streams) error {
	args := composeArgs(project, "up", "--detach", "--build", "--wait", "--remove-orphans")
	if err := d.stream(ctx, streams, args...); err != nil {
		return NewEngineError("ComposeUp", "project", project.Name, err.Error(), ErrCommandFailed)
	}
	return nil
}

// ComposeDown removes the project's containers and networks. Named
// volumes are kept.
func (d *DockerEngine) ComposeDown(ctx context.Context, project ComposeProject, streams Streams) error {
	args := composeArgs(project, "down", "--remove-orphans")
	if err := d.stream(ctx, streams, args...); err != nil {
		return NewEngineError("ComposeDown", "project", project.Name, err.Error(), ErrCommandFailed)
	}
	return nil
}

// ComposeLogs follows a service's logs until ctx is cancelled.
func (d *DockerEngine) ComposeLogs(ctx context.Context, project ComposeProject, service string, streams Streams) error {
	args := composeArgs(project, "logs", "--follow", "--tail", "100", service)
	if err := d.stream(ctx, streams, args...); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return NewEngineError("ComposeLogs", "service", service, err.Error(), ErrCommandFailed)
	}
	return nil
}

// ComposeExec runs cmd in the service container with the streams attached.
func (d *DockerEngine) ComposeExec(ctx context.Context, project ComposeProject, service string, cmd []string, streams Streams) error {
	args := composeArgs(project, "exec")
	if !streams.TTY {
		args = append(args, "--no-TTY")
	}
	args = append(args, service)
	args = append(args, cmd...)
	if err := d.stream(ctx, streams, args...); err != nil {
		return NewEngineError("ComposeExec", "service", service, err.Error(), ErrNonZeroExit)
	}
	return nil
}

func composeArgs(project ComposeProject, verb string, extra ...string) []string {
	args := []string{"compose", "--project-name", project.Name}
	if project.File != "" {
		args = append(args, "--file", project.File)
	}
	if project.EnvFile != "" {
		args = append(args, "--env-file", project.EnvFile)
	}
	args = append(args, verb)
	return append(args, extra...)
}

// =============================================================================
// Stacks (docker stack)
// =============================================================================

// StackDeploy submits a rendered descriptor to the swarm. The descriptor is
// passed on stdin and never written to disk.
func (d *DockerEngine) StackDeploy(ctx context.Context, stack string, descriptor []byte, streams Streams) error {
	streams.In = bytes.NewReader(descriptor)
	err := d.stream(ctx, streams, "stack", "deploy", "--compose-file", "-", "--with-registry-auth", stack)
	if err != nil {
		return NewEngineError("StackDeploy", "stack", stack, err.Error(), ErrCommandFailed)
	}
	return nil
}

// StackRemove removes every service and network of the stack. The swarm
// itself and named volumes are untouched.
func (d *DockerEngine) StackRemove(ctx context.Context, stack string, streams Streams) error {
	if err := d.stream(ctx, streams, "stack", "rm", stack); err != nil {
		return NewEngineError("StackRemove", "stack", stack, err.Error(), ErrCommandFailed)
	}
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

func (d *DockerEngine) stream(ctx context.Context, streams Streams, args ...string) error {
	inv := Invocation{Name: d.binary, Args: args, Streams: streams}
	d.logger.Debug("running engine command", "command", inv.String())
	if err := d.runner.Stream(ctx, inv); err != nil {
		if code := ExitCode(err); code >= 0 {
			return fmt.Errorf("%s exited with status %d", inv.String(), code)
		}
		return err
	}
	return nil
}

func sortedLabelKeys(labels map[string]string) []string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
