package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/swarm"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
)

// =============================================================================
// Docker Engine Implementation
// =============================================================================

// Options configures a DockerEngine.
type Options struct {
	Host         string        // API host, "" for the environment default
	Binary       string        // CLI binary for compose, stack and build
	PollInterval time.Duration // rollout status polling interval
	Runner       Runner
	Logger       *slog.Logger
}

// DockerEngine implements Engine with the Docker SDK and the docker CLI.
type DockerEngine struct {
	cli          *client.Client
	runner       Runner
	binary       string
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewDockerEngine creates a new engine gateway.
// If opts.Host is empty, it uses the default Docker host from environment.
// On macOS with Docker Desktop, it automatically detects the correct socket.
func NewDockerEngine(opts Options) (*DockerEngine, error) {
	if opts.Binary == "" {
		opts.Binary = "docker"
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.Runner == nil {
		opts.Runner = NewExecRunner()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	clientOpts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if opts.Host != "" {
		clientOpts = append(clientOpts, client.WithHost(opts.Host))
	}

	cli, err := client.NewClientWithOpts(clientOpts...)
	if err != nil {
		return nil, NewEngineError("NewDockerEngine", "", "", "failed to create client", ErrConnectionFailed)
	}

	// Try to ping with default settings
	ctx := context.Background()
	if _, pingErr := cli.Ping(ctx); pingErr != nil && opts.Host == "" {
		// If default socket fails, try Docker Desktop socket on macOS
		homeDir, _ := os.UserHomeDir()
		desktopSocket := "unix://" + homeDir + "/.docker/run/docker.sock"

		cli2, err2 := client.NewClientWithOpts(
			client.WithHost(desktopSocket),
			client.WithAPIVersionNegotiation(),
		)
		if err2 == nil {
			if _, pingErr2 := cli2.Ping(ctx); pingErr2 == nil {
				cli.Close()
				cli = cli2
			} else {
				cli2.Close()
			}
		}
	}

	return &DockerEngine{
		cli:          cli,
		runner:       opts.Runner,
		binary:       opts.Binary,
		pollInterval: opts.PollInterval,
		logger:       opts.Logger,
	}, nil
}

// Ping checks if the engine daemon is reachable.
func (d *DockerEngine) Ping(ctx context.Context) error {
	if _, err := d.cli.Ping(ctx); err != nil {
		return NewEngineError("Ping", "", "", fmt.Sprintf("failed to ping engine: %v", err), ErrConnectionFailed)
	}
	return nil
}

// Close closes the engine client connection.
func (d *DockerEngine) Close() error {
	return d.cli.Close()
}

// =============================================================================
// Image Operations
// =============================================================================

// ImageExists checks if an image exists locally.
func (d *DockerEngine) ImageExists(ctx context.Context, ref string) (bool, error) {
	_, _, err := d.cli.ImageInspectWithRaw(ctx, ref)
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, NewEngineError("ImageExists", "image", ref, err.Error(), err)
	}
	return true, nil
}

// =============================================================================
// Container Operations
// =============================================================================

// ListContainers returns containers matching the given options.
func (d *DockerEngine) ListContainers(ctx context.Context, opts ListOptions) ([]ContainerInfo, error) {
	listOpts := container.ListOptions{All: opts.All}

	if len(opts.Labels) > 0 {
		f := filters.NewArgs()
		for k, v := range opts.Labels {
			f.Add("label", k+"="+v)
		}
		listOpts.Filters = f
	}

	containers, err := d.cli.ContainerList(ctx, listOpts)
	if err != nil {
		return nil, NewEngineError("ListContainers", "container", "", err.Error(), err)
	}

	var result []ContainerInfo
	for _, c := range containers {
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}

		var ports []PortBinding
		for _, p := range c.Ports {
			ports = append(ports, PortBinding{
				ContainerPort: int(p.PrivatePort),
				HostPort:      int(p.PublicPort),
				Protocol:      p.Type,
				HostIP:        p.IP,
			})
		}

		result = append(result, ContainerInfo{
			ID:        c.ID,
			Name:      name,
			Image:     c.Image,
			Status:    ContainerStatus(c.State),
			CreatedAt: time.Unix(c.Created, 0),
			Ports:     ports,
			Labels:    c.Labels,
		})
	}

	return result, nil
}

// InspectContainer returns detailed information about a container.
func (d *DockerEngine) InspectContainer(ctx context.Context, containerID string) (*ContainerInfo, error) {
	resp, err := d.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, NewEngineError("InspectContainer", "container", containerID, "container not found", ErrContainerNotFound)
		}
		return nil, NewEngineError("InspectContainer", "container", containerID, err.Error(), err)
	}

	createdAt, _ := time.Parse(time.RFC3339Nano, resp.Created)

	var startedAt *time.Time
	if resp.State.StartedAt != "" && resp.State.StartedAt != "0001-01-01T00:00:00Z" {
		t, _ := time.Parse(time.RFC3339Nano, resp.State.StartedAt)
		startedAt = &t
	}

	var ports []PortBinding
	if resp.NetworkSettings != nil {
		for containerPort, bindings := range resp.NetworkSettings.Ports {
			port, proto := nat.Port(containerPort).Int(), nat.Port(containerPort).Proto()
			for _, binding := range bindings {
				hostPort, _ := nat.ParsePort(binding.HostPort)
				ports = append(ports, PortBinding{
					ContainerPort: port,
					HostPort:      hostPort,
					Protocol:      proto,
					HostIP:        binding.HostIP,
				})
			}
		}
	}

	health := ""
	if resp.State.Health != nil {
		health = resp.State.Health.Status
	}

	return &ContainerInfo{
		ID:        resp.ID,
		Name:      strings.TrimPrefix(resp.Name, "/"),
		Image:     resp.Config.Image,
		Status:    ContainerStatus(resp.State.Status),
		Health:    health,
		CreatedAt: createdAt,
		StartedAt: startedAt,
		Ports:     ports,
		Labels:    resp.Config.Labels,
		ExitCode:  resp.State.ExitCode,
	}, nil
}

// Exec runs a command inside a running container and streams its output.
// A non-zero exit status is reported as ErrNonZeroExit.
func (d *DockerEngine) Exec(ctx context.Context, containerID string, spec ExecSpec) error {
	created, err := d.cli.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          spec.Cmd,
		Env:          spec.Env,
		AttachStdin:  spec.Stdin != nil,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		if client.IsErrNotFound(err) {
			return NewEngineError("Exec", "container", containerID, "container not found", ErrContainerNotFound)
		}
		if strings.Contains(err.Error(), "is not running") {
			return NewEngineError("Exec", "container", containerID, "container is not running", ErrContainerNotRunning)
		}
		return NewEngineError("Exec", "container", containerID, err.Error(), err)
	}

	attach, err := d.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return NewEngineError("Exec", "container", containerID, err.Error(), err)
	}
	defer attach.Close()

	if spec.Stdin != nil {
		go func() {
			_, _ = io.Copy(attach.Conn, spec.Stdin)
			_ = attach.CloseWrite()
		}()
	}

	if _, err := stdcopy.StdCopy(writerOrDiscard(spec.Stdout), writerOrDiscard(spec.Stderr), attach.Reader); err != nil {
		return NewEngineError("Exec", "container", containerID, err.Error(), err)
	}

	inspect, err := d.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return NewEngineError("Exec", "container", containerID, err.Error(), err)
	}
	if inspect.ExitCode != 0 {
		return NewEngineError("Exec", "container", containerID,
			fmt.Sprintf("%s exited with status %d", strings.Join(spec.Cmd, " "), inspect.ExitCode), ErrNonZeroExit)
	}
	return nil
}

// RunOnce creates a helper container, streams its output until it exits
// and removes it. A non-zero exit status is reported as ErrNonZeroExit.
func (d *DockerEngine) RunOnce(ctx context.Context, spec ContainerSpec, streams Streams) error {
	config := &container.Config{
		Image:  spec.Image,
		Cmd:    spec.Command,
		Labels: spec.Labels,
	}
	for k, v := range spec.Env {
		config.Env = append(config.Env, k+"="+v)
	}

	var networkConfig *network.NetworkingConfig
	if len(spec.Networks) > 0 {
		networkConfig = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{},
		}
		for _, n := range spec.Networks {
			networkConfig.EndpointsConfig[n] = &network.EndpointSettings{}
		}
	}

	resp, err := d.cli.ContainerCreate(ctx, config, &container.HostConfig{}, networkConfig, nil, spec.Name)
	if err != nil {
		if strings.Contains(err.Error(), "No such image") {
			return NewEngineError("RunOnce", "image", spec.Image, "image not found", ErrImageNotFound)
		}
		return NewEngineError("RunOnce", "container", spec.Name, err.Error(), err)
	}
	defer func() {
		removeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := d.cli.ContainerRemove(removeCtx, resp.ID, container.RemoveOptions{Force: true}); err != nil {
			d.logger.Warn("failed to remove helper container", "container", spec.Name, "error", err)
		}
	}()

	waitCh, errCh := d.cli.ContainerWait(ctx, resp.ID, container.WaitConditionNextExit)

	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return NewEngineError("RunOnce", "container", spec.Name, err.Error(), err)
	}

	logs, err := d.cli.ContainerLogs(ctx, resp.ID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err == nil {
		_, _ = stdcopy.StdCopy(writerOrDiscard(streams.Out), writerOrDiscard(streams.Err), logs)
		logs.Close()
	}

	select {
	case res := <-waitCh:
		if res.Error != nil {
			return NewEngineError("RunOnce", "container", spec.Name, res.Error.Message, ErrCommandFailed)
		}
		if res.StatusCode != 0 {
			return NewEngineError("RunOnce", "container", spec.Name,
				fmt.Sprintf("exited with status %d", res.StatusCode), ErrNonZeroExit)
		}
		return nil
	case err := <-errCh:
		return NewEngineError("RunOnce", "container", spec.Name, err.Error(), err)
	case <-ctx.Done():
		return NewEngineError("RunOnce", "container", spec.Name, "cancelled", ErrTimeout)
	}
}

// =============================================================================
// Swarm Operations
// =============================================================================

// SwarmStatus reports the local node's swarm membership.
func (d *DockerEngine) SwarmStatus(ctx context.Context) (SwarmInfo, error) {
	info, err := d.cli.Info(ctx)
	if err != nil {
		return SwarmInfo{}, NewEngineError("SwarmStatus", "swarm", "", err.Error(), ErrConnectionFailed)
	}
	return SwarmInfo{
		NodeID:           info.Swarm.NodeID,
		State:            string(info.Swarm.LocalNodeState),
		ControlAvailable: info.Swarm.ControlAvailable,
	}, nil
}

// SwarmInit initializes a single-manager swarm on the local node.
func (d *DockerEngine) SwarmInit(ctx context.Context, advertiseAddr string) error {
	_, err := d.cli.SwarmInit(ctx, swarm.InitRequest{
		ListenAddr:    "0.0.0.0:2377",
		AdvertiseAddr: advertiseAddr,
	})
	if err != nil {
		if strings.Contains(err.Error(), "already part of a swarm") {
			return NewEngineError("SwarmInit", "swarm", "", "node is already part of a swarm", ErrSwarmAlreadyActive)
		}
		return NewEngineError("SwarmInit", "swarm", "", err.Error(), err)
	}
	return nil
}

// ListServices returns the services of a stack with replica counts.
func (d *DockerEngine) ListServices(ctx context.Context, stack string) ([]ServiceInfo, error) {
	services, err := d.cli.ServiceList(ctx, swarm.ServiceListOptions{
		Filters: filters.NewArgs(filters.Arg("label", LabelStackNamespace+"="+stack)),
		Status:  true,
	})
	if err != nil {
		if isSwarmInactive(err) {
			return nil, NewEngineError("ListServices", "stack", stack, "node is not a swarm manager", ErrSwarmInactive)
		}
		return nil, NewEngineError("ListServices", "stack", stack, err.Error(), err)
	}

	result := make([]ServiceInfo, 0, len(services))
	for _, svc := range services {
		result = append(result, convertService(svc))
	}
	return result, nil
}

// ListTasks returns the tasks of every service in a stack.
func (d *DockerEngine) ListTasks(ctx context.Context, stack string) ([]TaskInfo, error) {
	services, err := d.ListServices(ctx, stack)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(services))
	for _, svc := range services {
		names[svc.ID] = svc.Name
	}

	tasks, err := d.cli.TaskList(ctx, swarm.TaskListOptions{
		Filters: filters.NewArgs(filters.Arg("label", LabelStackNamespace+"="+stack)),
	})
	if err != nil {
		return nil, NewEngineError("ListTasks", "stack", stack, err.Error(), err)
	}

	result := make([]TaskInfo, 0, len(tasks))
	for _, t := range tasks {
		info := TaskInfo{
			ID:           t.ID,
			Service:      names[t.ServiceID],
			Slot:         t.Slot,
			NodeID:       t.NodeID,
			DesiredState: string(t.DesiredState),
			State:        string(t.Status.State),
			Message:      t.Status.Message,
			Error:        t.Status.Err,
			UpdatedAt:    t.Meta.UpdatedAt,
		}
		if t.Spec.ContainerSpec != nil {
			info.Image = t.Spec.ContainerSpec.Image
		}
		result = append(result, info)
	}
	return result, nil
}

// ScaleService sets the desired replica count of a replicated service.
// Setting the current count is accepted and changes nothing on the data plane.
func (d *DockerEngine) ScaleService(ctx context.Context, service string, replicas uint64) error {
	svc, err := d.inspectService(ctx, "ScaleService", service)
	if err != nil {
		return err
	}
	if svc.Spec.Mode.Replicated == nil {
		return NewEngineError("ScaleService", "service", service, "service is not replicated", ErrServiceNotReplicated)
	}

	svc.Spec.Mode.Replicated.Replicas = &replicas
	resp, err := d.cli.ServiceUpdate(ctx, svc.ID, svc.Version, svc.Spec, swarm.ServiceUpdateOptions{})
	if err != nil {
		return NewEngineError("ScaleService", "service", service, err.Error(), err)
	}
	for _, w := range resp.Warnings {
		d.logger.Warn("engine warning", "service", service, "warning", w)
	}
	return nil
}

// UpdateServiceImage points a service at a new image and waits until the
// engine has finished the rolling update under the service's declared
// update policy. When the engine rolls the update back the result is
// returned together with ErrRolledBack.
func (d *DockerEngine) UpdateServiceImage(ctx context.Context, service, image string) (*RolloutResult, error) {
	svc, err := d.inspectService(ctx, "UpdateServiceImage", service)
	if err != nil {
		return nil, err
	}
	if svc.Spec.TaskTemplate.ContainerSpec == nil {
		return nil, NewEngineError("UpdateServiceImage", "service", service, "service has no container spec", ErrServiceNotFound)
	}

	result := &RolloutResult{
		Service:       service,
		Image:         image,
		PreviousImage: svc.Spec.TaskTemplate.ContainerSpec.Image,
	}

	// A rebuilt tag keeps the same reference; force a rollout anyway.
	if svc.Spec.TaskTemplate.ContainerSpec.Image == image {
		svc.Spec.TaskTemplate.ForceUpdate++
	}
	svc.Spec.TaskTemplate.ContainerSpec.Image = image

	var previous *time.Time
	if svc.UpdateStatus != nil {
		previous = svc.UpdateStatus.StartedAt
	}
	if _, err := d.cli.ServiceUpdate(ctx, svc.ID, svc.Version, svc.Spec, swarm.ServiceUpdateOptions{}); err != nil {
		return nil, NewEngineError("UpdateServiceImage", "service", service, err.Error(), err)
	}

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		current, err := d.inspectService(ctx, "UpdateServiceImage", service)
		if err != nil {
			if ctx.Err() != nil {
				return result, NewEngineError("UpdateServiceImage", "service", service, "rollout did not finish in time", ErrTimeout)
			}
			return result, err
		}

		if st := current.UpdateStatus; isNewRollout(st, previous) {
			result.State = string(st.State)
			result.Message = st.Message
			d.logger.Debug("rollout status", "service", service, "state", st.State, "message", st.Message)

			switch st.State {
			case swarm.UpdateStateCompleted:
				return result, nil
			case swarm.UpdateStateRollbackCompleted:
				return result, NewEngineError("UpdateServiceImage", "service", service, st.Message, ErrRolledBack)
			case swarm.UpdateStatePaused, swarm.UpdateStateRollbackPaused:
				return result, NewEngineError("UpdateServiceImage", "service", service, st.Message, ErrRolloutPaused)
			}
		}

		select {
		case <-ctx.Done():
			return result, NewEngineError("UpdateServiceImage", "service", service, "rollout did not finish in time", ErrTimeout)
		case <-ticker.C:
		}
	}
}

// ServiceLogs follows a service's logs until ctx is cancelled.
func (d *DockerEngine) ServiceLogs(ctx context.Context, service string, streams Streams) error {
	reader, err := d.cli.ServiceLogs(ctx, service, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
		Tail:       "100",
	})
	if err != nil {
		if client.IsErrNotFound(err) {
			return NewEngineError("ServiceLogs", "service", service, "service not found", ErrServiceNotFound)
		}
		return NewEngineError("ServiceLogs", "service", service, err.Error(), err)
	}
	defer reader.Close()

	_, err = stdcopy.StdCopy(writerOrDiscard(streams.Out), writerOrDiscard(streams.Err), reader)
	if err != nil && ctx.Err() == nil && !errors.Is(err, io.EOF) {
		return NewEngineError("ServiceLogs", "service", service, err.Error(), err)
	}
	return nil
}

// isNewRollout reports whether st belongs to an update that started after
// previous. Both times come from the daemon clock.
func isNewRollout(st *swarm.UpdateStatus, previous *time.Time) bool {
	if st == nil || st.StartedAt == nil {
		return false
	}
	return previous == nil || st.StartedAt.After(*previous)
}

func (d *DockerEngine) inspectService(ctx context.Context, op, service string) (swarm.Service, error) {
	svc, _, err := d.cli.ServiceInspectWithRaw(ctx, service, swarm.ServiceInspectOptions{})
	if err != nil {
		if client.IsErrNotFound(err) {
			return swarm.Service{}, NewEngineError(op, "service", service, "service not found", ErrServiceNotFound)
		}
		if isSwarmInactive(err) {
			return swarm.Service{}, NewEngineError(op, "service", service, "node is not a swarm manager", ErrSwarmInactive)
		}
		return swarm.Service{}, NewEngineError(op, "service", service, err.Error(), err)
	}
	return svc, nil
}

func convertService(svc swarm.Service) ServiceInfo {
	info := ServiceInfo{
		ID:     svc.ID,
		Name:   svc.Spec.Name,
		Labels: svc.Spec.Labels,
	}
	if svc.Spec.TaskTemplate.ContainerSpec != nil {
		info.Image = svc.Spec.TaskTemplate.ContainerSpec.Image
	}
	if svc.Spec.Mode.Replicated != nil && svc.Spec.Mode.Replicated.Replicas != nil {
		info.DesiredReplicas = *svc.Spec.Mode.Replicated.Replicas
	}
	if svc.ServiceStatus != nil {
		info.RunningReplicas = svc.ServiceStatus.RunningTasks
		if info.DesiredReplicas == 0 {
			info.DesiredReplicas = svc.ServiceStatus.DesiredTasks
		}
	}
	if svc.UpdateStatus != nil {
		info.UpdateState = string(svc.UpdateStatus.State)
		info.UpdateMessage = svc.UpdateStatus.Message
	}
	return info
}

func isSwarmInactive(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "This node is not a swarm manager") ||
		strings.Contains(msg, "not part of a swarm")
}
