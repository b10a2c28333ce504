// Package enginetest provides an in-memory engine.Engine for tests.
package enginetest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/artpar/stackctl/internal/shell/engine"
)

// Engine is an in-memory container engine. Compose projects, swarm stacks
// and their services are tracked so lifecycle commands can be asserted
// end to end without a daemon.
type Engine struct {
	// DevServices are the services a compose project starts on ComposeUp.
	DevServices []string

	// FailingImages are image references whose rollout the engine rolls
	// back.
	FailingImages map[string]bool

	// Fail injects an error for the named method ("StackDeploy", "Ping", ...).
	Fail map[string]error

	// ExecFunc handles Exec and ComposeExec. The default succeeds silently.
	ExecFunc func(containerID string, spec engine.ExecSpec) error

	// RunOnceFunc handles RunOnce. The default succeeds silently.
	RunOnceFunc func(spec engine.ContainerSpec, streams engine.Streams) error

	// Health holds health check results by container name. InspectContainer
	// reports dev containers missing from it as healthy.
	Health map[string]string

	// LogLines are written to the output stream by log calls.
	LogLines []string

	// PruneReport is returned by Prune.
	PruneReport engine.PruneReport

	mu       sync.Mutex
	calls    []string
	images   map[string]bool
	projects map[string]*project
	stacks   map[string]map[string]*service
	swarm    string
	closed   bool
}

type project struct {
	name     string
	services []string
	starts   int
}

type service struct {
	name        string
	image       string
	replicas    uint64
	updateState string
	message     string
	labels      map[string]string
}

// New creates an empty engine with swarm inactive.
func New() *Engine {
	return &Engine{
		DevServices:   []string{"bot", "postgres", "redis"},
		FailingImages: map[string]bool{},
		Fail:          map[string]error{},
		images:        map[string]bool{},
		projects:      map[string]*project{},
		stacks:        map[string]map[string]*service{},
		swarm:         "inactive",
	}
}

var _ engine.Engine = (*Engine)(nil)

// =============================================================================
// Inspection helpers for tests
// =============================================================================

// Calls returns the recorded method calls in order.
func (e *Engine) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

// Called reports whether method was called at least once.
func (e *Engine) Called(method string) bool {
	for _, c := range e.Calls() {
		if c == method || strings.HasPrefix(c, method+" ") {
			return true
		}
	}
	return false
}

// AddImage registers a local image.
func (e *Engine) AddImage(ref string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.images[ref] = true
}

// HasImage reports whether ref exists locally.
func (e *Engine) HasImage(ref string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.images[ref]
}

// SetSwarmActive marks the node as an active swarm manager.
func (e *Engine) SetSwarmActive(active bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if active {
		e.swarm = "active"
	} else {
		e.swarm = "inactive"
	}
}

// StartProject marks a compose project as running with the given services.
func (e *Engine) StartProject(name string, services ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.projects[name] = &project{name: name, services: services, starts: 1}
}

// ProjectStarts returns how many times ComposeUp reconciled a project.
func (e *Engine) ProjectStarts(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.projects[name]; ok {
		return p.starts
	}
	return 0
}

// SetUpdateState forces a service's reported rollout state.
func (e *Engine) SetUpdateState(stack, svc, state string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.stacks[stack][engine.ServiceName(stack, svc)]; ok {
		s.updateState = state
	}
}

// Closed reports whether Close was called.
func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Engine) record(method string, args ...string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	call := method
	if len(args) > 0 {
		call += " " + strings.Join(args, " ")
	}
	e.calls = append(e.calls, call)
	return e.Fail[method]
}

// =============================================================================
// Health
// =============================================================================

func (e *Engine) Ping(ctx context.Context) error {
	return e.record("Ping")
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// =============================================================================
// Images
// =============================================================================

func (e *Engine) ImageExists(ctx context.Context, ref string) (bool, error) {
	if err := e.record("ImageExists", ref); err != nil {
		return false, err
	}
	return e.HasImage(ref), nil
}

func (e *Engine) BuildImage(ctx context.Context, spec engine.BuildSpec, streams engine.Streams) error {
	if err := e.record("BuildImage", spec.Ref); err != nil {
		return engine.NewEngineError("BuildImage", "image", spec.Ref, err.Error(), engine.ErrBuildFailed)
	}
	e.AddImage(spec.Ref)
	return nil
}

// =============================================================================
// Compose
// =============================================================================

func (e *Engine) ComposeUp(ctx context.Context, p engine.ComposeProject, streams engine.Streams) error {
	if err := e.record("ComposeUp", p.Name); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if existing, ok := e.projects[p.Name]; ok {
		existing.starts++
		return nil
	}
	e.projects[p.Name] = &project{
		name:     p.Name,
		services: append([]string(nil), e.DevServices...),
		starts:   1,
	}
	return nil
}

func (e *Engine) ComposeDown(ctx context.Context, p engine.ComposeProject, streams engine.Streams) error {
	if err := e.record("ComposeDown", p.Name); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.projects, p.Name)
	return nil
}

func (e *Engine) ComposeLogs(ctx context.Context, p engine.ComposeProject, svc string, streams engine.Streams) error {
	if err := e.record("ComposeLogs", p.Name, svc); err != nil {
		return err
	}
	e.writeLogs(streams)
	return nil
}

func (e *Engine) ComposeExec(ctx context.Context, p engine.ComposeProject, svc string, cmd []string, streams engine.Streams) error {
	if err := e.record("ComposeExec", append([]string{p.Name, svc}, cmd...)...); err != nil {
		return err
	}
	if e.ExecFunc != nil {
		return e.ExecFunc(devContainerID(p.Name, svc), engine.ExecSpec{
			Cmd: cmd, Stdin: streams.In, Stdout: streams.Out, Stderr: streams.Err,
		})
	}
	return nil
}

// =============================================================================
// Containers
// =============================================================================

func (e *Engine) ListContainers(ctx context.Context, opts engine.ListOptions) ([]engine.ContainerInfo, error) {
	if err := e.record("ListContainers"); err != nil {
		return nil, err
	}
	var result []engine.ContainerInfo
	for _, c := range e.containers() {
		if matchLabels(c.Labels, opts.Labels) {
			result = append(result, c)
		}
	}
	return result, nil
}

func (e *Engine) InspectContainer(ctx context.Context, containerID string) (*engine.ContainerInfo, error) {
	if err := e.record("InspectContainer", containerID); err != nil {
		return nil, err
	}
	for _, c := range e.containers() {
		if c.ID == containerID || c.Name == containerID {
			if _, dev := c.Labels[engine.LabelComposeProject]; dev {
				c.Health = "healthy"
				if h, ok := e.Health[c.Name]; ok {
					c.Health = h
				}
			}
			return &c, nil
		}
	}
	return nil, engine.NewEngineError("InspectContainer", "container", containerID, "container not found", engine.ErrContainerNotFound)
}

func (e *Engine) Exec(ctx context.Context, containerID string, spec engine.ExecSpec) error {
	if err := e.record("Exec", append([]string{containerID}, spec.Cmd...)...); err != nil {
		return err
	}
	found := false
	for _, c := range e.containers() {
		if c.ID == containerID {
			found = true
		}
	}
	if !found {
		return engine.NewEngineError("Exec", "container", containerID, "container not found", engine.ErrContainerNotFound)
	}
	if e.ExecFunc != nil {
		return e.ExecFunc(containerID, spec)
	}
	return nil
}

func (e *Engine) RunOnce(ctx context.Context, spec engine.ContainerSpec, streams engine.Streams) error {
	if err := e.record("RunOnce", append([]string{spec.Image}, spec.Command...)...); err != nil {
		return err
	}
	if !e.HasImage(spec.Image) {
		return engine.NewEngineError("RunOnce", "image", spec.Image, "image not found", engine.ErrImageNotFound)
	}
	if e.RunOnceFunc != nil {
		return e.RunOnceFunc(spec, streams)
	}
	return nil
}

// containers synthesizes the running containers of every project and stack.
func (e *Engine) containers() []engine.ContainerInfo {
	e.mu.Lock()
	defer e.mu.Unlock()

	var result []engine.ContainerInfo
	for _, name := range sortedKeys(e.projects) {
		p := e.projects[name]
		for _, svc := range p.services {
			result = append(result, engine.ContainerInfo{
				ID:     devContainerID(p.name, svc),
				Name:   devContainerID(p.name, svc),
				Status: engine.ContainerStatusRunning,
				Labels: map[string]string{
					engine.LabelComposeProject: p.name,
					engine.LabelComposeService: svc,
				},
			})
		}
	}
	for _, stack := range sortedKeys(e.stacks) {
		services := e.stacks[stack]
		for _, name := range sortedKeys(services) {
			s := services[name]
			for slot := uint64(1); slot <= s.replicas; slot++ {
				id := fmt.Sprintf("%s.%d", s.name, slot)
				result = append(result, engine.ContainerInfo{
					ID:     id,
					Name:   id,
					Image:  s.image,
					Status: engine.ContainerStatusRunning,
					Labels: map[string]string{
						engine.LabelStackNamespace: stack,
						engine.LabelSwarmService:   s.name,
					},
				})
			}
		}
	}
	return result
}

func devContainerID(project, svc string) string {
	return project + "-" + svc + "-1"
}

// =============================================================================
// Swarm
// =============================================================================

func (e *Engine) SwarmStatus(ctx context.Context) (engine.SwarmInfo, error) {
	if err := e.record("SwarmStatus"); err != nil {
		return engine.SwarmInfo{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return engine.SwarmInfo{NodeID: "node-1", State: e.swarm, ControlAvailable: e.swarm == "active"}, nil
}

func (e *Engine) SwarmInit(ctx context.Context, advertiseAddr string) error {
	if err := e.record("SwarmInit", advertiseAddr); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.swarm == "active" {
		return engine.NewEngineError("SwarmInit", "swarm", "", "node is already part of a swarm", engine.ErrSwarmAlreadyActive)
	}
	e.swarm = "active"
	return nil
}

// stackFile holds the 3.8 shapes the stack loader insists on. Compose-spec
// long forms fail to decode into it.
type stackFile struct {
	Services map[string]struct {
		Image     string   `yaml:"image"`
		DependsOn []string `yaml:"depends_on"`
		EnvFile   []string `yaml:"env_file"`
		Ports     []struct {
			Target    int `yaml:"target"`
			Published int `yaml:"published"`
		} `yaml:"ports"`
		Deploy struct {
			Replicas *uint64 `yaml:"replicas"`
		} `yaml:"deploy"`
	} `yaml:"services"`
}

// StackDeploy parses the descriptor and creates or reconciles its services.
func (e *Engine) StackDeploy(ctx context.Context, stack string, descriptor []byte, streams engine.Streams) error {
	if err := e.record("StackDeploy", stack); err != nil {
		return err
	}

	var f stackFile
	if err := yaml.Unmarshal(descriptor, &f); err != nil {
		return engine.NewEngineError("StackDeploy", "stack", stack, err.Error(), engine.ErrCommandFailed)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.swarm != "active" {
		return engine.NewEngineError("StackDeploy", "stack", stack, "node is not a swarm manager", engine.ErrSwarmInactive)
	}

	services, ok := e.stacks[stack]
	if !ok {
		services = map[string]*service{}
		e.stacks[stack] = services
	}
	for name, def := range f.Services {
		full := engine.ServiceName(stack, name)
		replicas := uint64(1)
		if def.Deploy.Replicas != nil {
			replicas = *def.Deploy.Replicas
		}
		services[full] = &service{
			name:        full,
			image:       def.Image,
			replicas:    replicas,
			updateState: "",
			labels:      map[string]string{engine.LabelStackNamespace: stack},
		}
	}
	return nil
}

func (e *Engine) StackRemove(ctx context.Context, stack string, streams engine.Streams) error {
	if err := e.record("StackRemove", stack); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.stacks, stack)
	return nil
}

func (e *Engine) ListServices(ctx context.Context, stack string) ([]engine.ServiceInfo, error) {
	if err := e.record("ListServices", stack); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.swarm != "active" {
		return nil, engine.NewEngineError("ListServices", "stack", stack, "node is not a swarm manager", engine.ErrSwarmInactive)
	}
	var result []engine.ServiceInfo
	for _, name := range sortedKeys(e.stacks[stack]) {
		s := e.stacks[stack][name]
		result = append(result, engine.ServiceInfo{
			ID:              "id-" + s.name,
			Name:            s.name,
			Image:           s.image,
			DesiredReplicas: s.replicas,
			RunningReplicas: s.replicas,
			UpdateState:     s.updateState,
			UpdateMessage:   s.message,
			Labels:          s.labels,
		})
	}
	return result, nil
}

func (e *Engine) ListTasks(ctx context.Context, stack string) ([]engine.TaskInfo, error) {
	services, err := e.ListServices(ctx, stack)
	if err != nil {
		return nil, err
	}
	var result []engine.TaskInfo
	for _, s := range services {
		for slot := 1; slot <= int(s.DesiredReplicas); slot++ {
			result = append(result, engine.TaskInfo{
				ID:           fmt.Sprintf("task-%s-%d", s.Name, slot),
				Service:      s.Name,
				Slot:         slot,
				Image:        s.Image,
				NodeID:       "node-1",
				DesiredState: "running",
				State:        "running",
			})
		}
	}
	return result, nil
}

func (e *Engine) ScaleService(ctx context.Context, svc string, replicas uint64) error {
	if err := e.record("ScaleService", svc, fmt.Sprint(replicas)); err != nil {
		return err
	}
	s, err := e.lookup("ScaleService", svc)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s.replicas = replicas
	return nil
}

// UpdateServiceImage completes immediately, or rolls back when the image
// is listed in FailingImages.
func (e *Engine) UpdateServiceImage(ctx context.Context, svc, image string) (*engine.RolloutResult, error) {
	if err := e.record("UpdateServiceImage", svc, image); err != nil {
		return nil, err
	}
	s, err := e.lookup("UpdateServiceImage", svc)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	result := &engine.RolloutResult{Service: svc, Image: image, PreviousImage: s.image}
	if e.FailingImages[image] {
		s.updateState = engine.UpdateStateRollbackCompleted
		s.message = "rollback completed"
		result.State, result.Message = s.updateState, s.message
		return result, engine.NewEngineError("UpdateServiceImage", "service", svc, s.message, engine.ErrRolledBack)
	}
	s.image = image
	s.updateState = engine.UpdateStateCompleted
	s.message = "update completed"
	result.State, result.Message = s.updateState, s.message
	return result, nil
}

func (e *Engine) ServiceLogs(ctx context.Context, svc string, streams engine.Streams) error {
	if err := e.record("ServiceLogs", svc); err != nil {
		return err
	}
	if _, err := e.lookup("ServiceLogs", svc); err != nil {
		return err
	}
	e.writeLogs(streams)
	return nil
}

func (e *Engine) lookup(op, svc string) (*service, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, services := range e.stacks {
		if s, ok := services[svc]; ok {
			return s, nil
		}
	}
	return nil, engine.NewEngineError(op, "service", svc, "service not found", engine.ErrServiceNotFound)
}

// =============================================================================
// Housekeeping
// =============================================================================

func (e *Engine) Prune(ctx context.Context) (*engine.PruneReport, error) {
	if err := e.record("Prune"); err != nil {
		return nil, err
	}
	report := e.PruneReport
	return &report, nil
}

// =============================================================================
// Helpers
// =============================================================================

func (e *Engine) writeLogs(streams engine.Streams) {
	if streams.Out == nil {
		return
	}
	for _, line := range e.LogLines {
		fmt.Fprintln(streams.Out, line)
	}
}

func matchLabels(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
