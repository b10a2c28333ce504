// Package engine is the only way stackctl talks to the container engine.
//
// DockerEngine combines the Docker SDK (images, containers, swarm services
// and tasks, exec, prune) with the docker CLI for the parts the SDK does not
// cover (compose projects, stack deploy/rm, image builds). Everything that
// decides what to do lives in the callers; this package only executes and
// reports.
package engine

import (
	"context"
	"io"
	"time"
)

// =============================================================================
// Engine Interface
// =============================================================================

// Engine defines the operations stackctl issues against the container
// engine. Every call blocks until the engine has answered.
type Engine interface {
	// Health operations
	Ping(ctx context.Context) error
	Close() error

	// Image operations
	ImageExists(ctx context.Context, ref string) (bool, error)
	BuildImage(ctx context.Context, spec BuildSpec, streams Streams) error

	// Compose project operations (dev)
	ComposeUp(ctx context.Context, project ComposeProject, streams Streams) error
	ComposeDown(ctx context.Context, project ComposeProject, streams Streams) error
	ComposeLogs(ctx context.Context, project ComposeProject, service string, streams Streams) error
	ComposeExec(ctx context.Context, project ComposeProject, service string, cmd []string, streams Streams) error

	// Container operations
	ListContainers(ctx context.Context, opts ListOptions) ([]ContainerInfo, error)
	InspectContainer(ctx context.Context, containerID string) (*ContainerInfo, error)
	Exec(ctx context.Context, containerID string, spec ExecSpec) error
	RunOnce(ctx context.Context, spec ContainerSpec, streams Streams) error

	// Swarm operations (prod)
	SwarmStatus(ctx context.Context) (SwarmInfo, error)
	SwarmInit(ctx context.Context, advertiseAddr string) error
	StackDeploy(ctx context.Context, stack string, descriptor []byte, streams Streams) error
	StackRemove(ctx context.Context, stack string, streams Streams) error
	ListServices(ctx context.Context, stack string) ([]ServiceInfo, error)
	ListTasks(ctx context.Context, stack string) ([]TaskInfo, error)
	ScaleService(ctx context.Context, service string, replicas uint64) error
	UpdateServiceImage(ctx context.Context, service, image string) (*RolloutResult, error)
	ServiceLogs(ctx context.Context, service string, streams Streams) error

	// Housekeeping
	Prune(ctx context.Context) (*PruneReport, error)
}

// Streams are the standard streams attached to a long-running or
// interactive engine call. Nil writers discard output.
type Streams struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
	TTY bool // allocate a terminal (interactive exec)
}

// =============================================================================
// Image Types
// =============================================================================

// BuildSpec describes an image build.
type BuildSpec struct {
	Ref        string // name:tag
	Context    string
	Dockerfile string
	Labels     map[string]string
}

// =============================================================================
// Compose Types
// =============================================================================

// ComposeProject addresses a compose project on the local engine.
type ComposeProject struct {
	Name    string
	File    string
	EnvFile string
}

// =============================================================================
// Container Types
// =============================================================================

// ContainerSpec defines a one-shot helper container.
type ContainerSpec struct {
	Name     string
	Image    string
	Command  []string
	Env      map[string]string
	Labels   map[string]string
	Networks []string
}

// ExecSpec defines a command run inside a running container.
type ExecSpec struct {
	Cmd    []string
	Env    []string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// ContainerStatus represents the container status.
type ContainerStatus string

const (
	ContainerStatusCreated    ContainerStatus = "created"
	ContainerStatusRunning    ContainerStatus = "running"
	ContainerStatusPaused     ContainerStatus = "paused"
	ContainerStatusRestarting ContainerStatus = "restarting"
	ContainerStatusRemoving   ContainerStatus = "removing"
	ContainerStatusExited     ContainerStatus = "exited"
	ContainerStatusDead       ContainerStatus = "dead"
)

// ContainerInfo contains information about a container.
type ContainerInfo struct {
	ID        string
	Name      string
	Image     string
	Status    ContainerStatus
	Health    string // "healthy", "unhealthy", "starting", ""
	CreatedAt time.Time
	StartedAt *time.Time
	Ports     []PortBinding
	Labels    map[string]string
	ExitCode  int
}

// PortBinding defines a port mapping.
type PortBinding struct {
	ContainerPort int
	HostPort      int    // 0 when not published
	Protocol      string // "tcp" or "udp"
	HostIP        string
}

// ListOptions defines options for listing containers.
type ListOptions struct {
	All    bool              // Include stopped containers
	Labels map[string]string // label=value filters, all must match
}

// =============================================================================
// Swarm Types
// =============================================================================

// SwarmInfo describes the local node's cluster membership.
type SwarmInfo struct {
	NodeID           string
	State            string // "inactive", "pending", "active", "error", "locked"
	ControlAvailable bool   // node is a manager
}

// Active reports whether the node is part of an initialized cluster.
func (s SwarmInfo) Active() bool {
	return s.State == "active"
}

// Update states reported by the engine for a service rollout.
const (
	UpdateStateUpdating          = "updating"
	UpdateStatePaused            = "paused"
	UpdateStateCompleted         = "completed"
	UpdateStateRollbackStarted   = "rollback_started"
	UpdateStateRollbackPaused    = "rollback_paused"
	UpdateStateRollbackCompleted = "rollback_completed"
)

// ServiceInfo contains information about a swarm service.
type ServiceInfo struct {
	ID              string
	Name            string
	Image           string
	DesiredReplicas uint64
	RunningReplicas uint64
	UpdateState     string
	UpdateMessage   string
	Labels          map[string]string
}

// Updating reports whether the engine is still rolling an update or a
// rollback for the service.
func (s ServiceInfo) Updating() bool {
	return s.UpdateState == UpdateStateUpdating || s.UpdateState == UpdateStateRollbackStarted
}

// TaskInfo contains information about one task (replica slot) of a service.
type TaskInfo struct {
	ID           string
	Service      string
	Slot         int
	Image        string
	NodeID       string
	DesiredState string
	State        string
	Message      string
	Error        string
	UpdatedAt    time.Time
}

// RolloutResult reports how the engine finished an image update.
type RolloutResult struct {
	Service       string
	Image         string
	PreviousImage string
	State         string
	Message       string
}

// =============================================================================
// Housekeeping Types
// =============================================================================

// PruneReport summarizes a cleanup pass.
type PruneReport struct {
	Containers     int
	Images         int
	Networks       int
	Volumes        int
	SpaceReclaimed uint64
	Warnings       []string
}

// =============================================================================
// Label Constants
// =============================================================================

const (
	LabelComposeProject = "com.docker.compose.project"
	LabelComposeService = "com.docker.compose.service"
	LabelStackNamespace = "com.docker.stack.namespace"
	LabelSwarmService   = "com.docker.swarm.service.name"
	LabelManaged        = "com.stackctl.managed"
	LabelVersion        = "com.stackctl.version"
	LabelPurpose        = "com.stackctl.purpose"
)

// ServiceName returns the engine name of a service deployed as part of a
// stack.
//
// Example:
//
//	ServiceName("nutrition-bot", "bot") // "nutrition-bot_bot"
func ServiceName(stack, service string) string {
	return stack + "_" + service
}
