package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/artpar/stackctl/internal/core/domain"
	"github.com/artpar/stackctl/internal/core/topology"
	"github.com/artpar/stackctl/internal/shell/engine"
)

// ProdManager runs the clustered prod stack on the swarm control plane.
type ProdManager struct {
	deps     Deps
	settings Settings
	builder  *Builder
}

// NewProdManager creates a ProdManager.
func NewProdManager(deps Deps, settings Settings, builder *Builder) *ProdManager {
	return &ProdManager{deps: deps, settings: settings, builder: builder}
}

// observation is the engine's view of the prod stack at one point in time.
type observation struct {
	swarm    engine.SwarmInfo
	state    domain.StackState
	services []engine.ServiceInfo
	app      *engine.ServiceInfo
}

func (m *ProdManager) appServiceName() string {
	return engine.ServiceName(m.settings.StackName, m.settings.AppService)
}

func (m *ProdManager) observe(ctx context.Context) (*observation, error) {
	swarm, err := m.deps.Engine.SwarmStatus(ctx)
	if err != nil {
		return nil, err
	}
	obs := &observation{swarm: swarm, state: domain.StateAbsent}
	if !swarm.Active() {
		return obs, nil
	}
	if !swarm.ControlAvailable {
		return nil, fmt.Errorf("%w: this node is a worker, run stackctl on a manager", ErrSwarmNotReady)
	}

	services, err := m.deps.Engine.ListServices(ctx, m.settings.StackName)
	if err != nil {
		return nil, err
	}
	obs.services = services

	for i := range services {
		if services[i].Name == m.appServiceName() {
			obs.app = &services[i]
		}
	}

	so := domain.StackObservation{
		Services:        len(services),
		DefaultReplicas: m.settings.DefaultReplicas,
	}
	if obs.app != nil {
		so.AppUpdating = obs.app.Updating()
		so.AppReplicas = obs.app.DesiredReplicas
	}
	obs.state = domain.ObserveStack(so)

	m.deps.logger().Debug("observed prod stack", "stack", m.settings.StackName, "state", obs.state, "services", len(services))
	return obs, nil
}

// Init makes this node a swarm manager. An already active swarm is a
// warning, not an error.
func (m *ProdManager) Init(ctx context.Context) error {
	swarm, err := m.deps.Engine.SwarmStatus(ctx)
	if err != nil {
		return err
	}
	if swarm.Active() {
		m.deps.Console.Warnf("Swarm is already initialized on this node")
		return nil
	}

	if err := m.deps.Engine.SwarmInit(ctx, m.settings.AdvertiseAddr); err != nil {
		if errors.Is(err, engine.ErrSwarmAlreadyActive) {
			m.deps.Console.Warnf("Swarm is already initialized on this node")
			return nil
		}
		return err
	}

	m.deps.Console.Successf("Swarm initialized")
	return nil
}

// Deploy deploys version (default latest) as the prod stack. The image is
// built when missing. Redeploying the running version reconciles the stack
// and keeps its replica count; a different version must go through Update.
func (m *ProdManager) Deploy(ctx context.Context, version string) error {
	ref, err := domain.NewImageRef(m.settings.ImageName, version)
	if err != nil {
		return err
	}

	obs, err := m.observe(ctx)
	if err != nil {
		return err
	}
	if !obs.swarm.Active() {
		return fmt.Errorf("%w: run prod:init first", ErrSwarmNotReady)
	}
	if _, err := domain.Transition(obs.state, domain.OpDeploy); err != nil {
		return err
	}

	replicas := m.settings.DefaultReplicas
	if obs.state.Running() && obs.app != nil {
		if running := domain.ParseImageRef(obs.app.Image); running != ref {
			return fmt.Errorf("%w: %s is running, use prod:update %s", ErrVersionChange, running, ref.Tag)
		}
		if obs.app.DesiredReplicas > 0 {
			replicas = obs.app.DesiredReplicas
		}
	}

	if _, err := m.builder.Ensure(ctx, ref.Tag, false); err != nil {
		return err
	}

	content, topo, err := loadTopology(m.settings.ProdFile, m.settings.StackName, m.settings.Env)
	if err != nil {
		return err
	}
	if err := topology.ValidateProd(topo, m.settings.AppService, m.settings.DataService); err != nil {
		return fmt.Errorf("%s: %w", m.settings.ProdFile, err)
	}

	descriptor, err := topology.RenderStack(content,
		topology.LoadOptions{ProjectName: m.settings.StackName, Environment: m.settings.Env},
		topology.RenderParams{
			App:      m.settings.AppService,
			Image:    ref.String(),
			Replicas: replicas,
			Policy:   m.settings.Policy,
		})
	if err != nil {
		return fmt.Errorf("%s: %w", m.settings.ProdFile, err)
	}

	m.deps.Console.Infof("Deploying %s as stack %s (%d replicas)", ref, m.settings.StackName, replicas)
	if err := m.deps.Engine.StackDeploy(ctx, m.settings.StackName, descriptor, m.deps.Streams); err != nil {
		return err
	}

	m.deps.Console.Successf("Stack %s deployed with %s", m.settings.StackName, ref)
	return nil
}

// Update rebuilds version and rolls it out to the application service. It
// returns once the engine reports the rollout complete; a rollout the
// engine rolled back is returned as an error wrapping engine.ErrRolledBack.
func (m *ProdManager) Update(ctx context.Context, version string) error {
	obs, err := m.observe(ctx)
	if err != nil {
		return err
	}
	if _, err := domain.Transition(obs.state, domain.OpUpdate); err != nil {
		return err
	}
	if obs.app == nil {
		return fmt.Errorf("%w: %s", domain.ErrStackNotDeployed, m.appServiceName())
	}

	ref, err := m.builder.Ensure(ctx, version, true)
	if err != nil {
		return err
	}

	if m.settings.RolloutTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.settings.RolloutTimeout)
		defer cancel()
	}

	m.deps.Console.Infof("Rolling %s to %s", m.appServiceName(), ref)
	result, err := m.deps.Engine.UpdateServiceImage(ctx, m.appServiceName(), ref.String())
	if err != nil {
		if errors.Is(err, engine.ErrRolledBack) && result != nil {
			m.deps.Console.Warnf("Update to %s failed, %s is still running %s",
				ref, m.appServiceName(), domain.ParseImageRef(result.PreviousImage))
		}
		return err
	}

	m.deps.Console.Successf("Updated %s to %s", m.appServiceName(), ref)
	return nil
}

// Scale sets the application replica count to exactly n.
func (m *ProdManager) Scale(ctx context.Context, n uint64) error {
	if n < 1 {
		return ErrInvalidReplicas
	}

	obs, err := m.observe(ctx)
	if err != nil {
		return err
	}
	if _, err := domain.Transition(obs.state, domain.OpScale); err != nil {
		return err
	}
	if obs.app == nil {
		return fmt.Errorf("%w: %s", domain.ErrStackNotDeployed, m.appServiceName())
	}

	if obs.app.DesiredReplicas == n {
		m.deps.Console.Warnf("%s already runs %d replicas", m.appServiceName(), n)
	}

	if err := m.deps.Engine.ScaleService(ctx, m.appServiceName(), n); err != nil {
		return err
	}
	m.deps.Console.Successf("Scaled %s to %d replicas", m.appServiceName(), n)
	return nil
}

// Status prints the stack's services and tasks.
func (m *ProdManager) Status(ctx context.Context) error {
	obs, err := m.observe(ctx)
	if err != nil {
		return err
	}
	if !obs.swarm.Active() {
		m.deps.Console.Warnf("Swarm is not initialized on this node")
		return nil
	}
	if obs.state == domain.StateAbsent {
		m.deps.Console.Warnf("Stack %s is not deployed", m.settings.StackName)
		return nil
	}

	m.deps.Console.Title(fmt.Sprintf("Stack %s (%s)", m.settings.StackName, obs.state))

	rows := make([][]string, 0, len(obs.services))
	for _, svc := range obs.services {
		rows = append(rows, []string{
			svc.Name,
			svc.Image,
			fmt.Sprintf("%d/%d", svc.RunningReplicas, svc.DesiredReplicas),
			orDash(svc.UpdateState),
		})
	}
	m.deps.Console.Table([]string{"SERVICE", "IMAGE", "REPLICAS", "UPDATE"}, rows)

	tasks, err := m.deps.Engine.ListTasks(ctx, m.settings.StackName)
	if err != nil {
		return err
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Service != tasks[j].Service {
			return tasks[i].Service < tasks[j].Service
		}
		return tasks[i].Slot < tasks[j].Slot
	})

	taskRows := make([][]string, 0, len(tasks))
	for _, t := range tasks {
		taskRows = append(taskRows, []string{
			t.Service + "." + strconv.Itoa(t.Slot),
			t.Image,
			t.DesiredState,
			t.State,
			orDash(t.Error),
		})
	}
	m.deps.Console.Table([]string{"TASK", "IMAGE", "DESIRED", "CURRENT", "ERROR"}, taskRows)
	return nil
}

// Logs follows the application service logs until ctx is cancelled.
func (m *ProdManager) Logs(ctx context.Context) error {
	err := m.deps.Engine.ServiceLogs(ctx, m.appServiceName(), m.deps.Streams)
	if errors.Is(err, engine.ErrServiceNotFound) {
		return fmt.Errorf("%w: %s", domain.ErrStackNotDeployed, m.settings.StackName)
	}
	return err
}

// Remove removes the stack after confirmation. The node stays a swarm
// manager and named volumes are kept.
func (m *ProdManager) Remove(ctx context.Context) error {
	obs, err := m.observe(ctx)
	if err != nil {
		return err
	}
	if obs.state == domain.StateAbsent {
		m.deps.Console.Warnf("Stack %s is not deployed, nothing to remove", m.settings.StackName)
		return nil
	}
	if _, err := domain.Transition(obs.state, domain.OpRemove); err != nil {
		return err
	}

	ok, err := m.deps.Prompter.Confirm(ctx, fmt.Sprintf("Remove stack %s and all its services?", m.settings.StackName))
	if err != nil {
		return err
	}
	if !ok {
		m.deps.Console.Warnf("Removal cancelled")
		return nil
	}

	if err := m.deps.Engine.StackRemove(ctx, m.settings.StackName, m.deps.Streams); err != nil {
		return err
	}
	m.deps.Console.Successf("Stack %s removed", m.settings.StackName)
	return nil
}
