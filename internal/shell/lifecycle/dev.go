package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/artpar/stackctl/internal/core/monitoring"
	"github.com/artpar/stackctl/internal/core/topology"
	"github.com/artpar/stackctl/internal/shell/engine"
)

// DevManager runs the single-host dev stack through compose.
type DevManager struct {
	deps     Deps
	settings Settings
}

// NewDevManager creates a DevManager.
func NewDevManager(deps Deps, settings Settings) *DevManager {
	return &DevManager{deps: deps, settings: settings}
}

func (m *DevManager) project() engine.ComposeProject {
	return engine.ComposeProject{
		Name:    m.settings.ProjectName,
		File:    m.settings.DevFile,
		EnvFile: m.settings.EnvFile,
	}
}

// Start validates the dev descriptor and brings the stack up. Compose
// starts services in dependency order and returns once every health check
// passes. Running it again reconciles the existing stack.
func (m *DevManager) Start(ctx context.Context) error {
	_, topo, err := loadTopology(m.settings.DevFile, m.settings.ProjectName, m.settings.Env)
	if err != nil {
		return err
	}
	if err := topology.ValidateDev(topo, m.settings.AppService, m.settings.DataService); err != nil {
		return fmt.Errorf("%s: %w", m.settings.DevFile, err)
	}

	order := topology.ServiceNames(topology.StartOrder(topo.Services))
	m.deps.Console.Infof("Starting dev stack (%s)", strings.Join(order, " → "))

	if err := m.deps.Engine.ComposeUp(ctx, m.project(), m.deps.Streams); err != nil {
		return err
	}

	m.deps.Console.Successf("Dev stack %s is up and healthy", m.settings.ProjectName)
	return nil
}

// Stop removes the dev containers and networks. Named volumes survive.
func (m *DevManager) Stop(ctx context.Context) error {
	if err := m.deps.Engine.ComposeDown(ctx, m.project(), m.deps.Streams); err != nil {
		return err
	}
	m.deps.Console.Successf("Dev stack %s stopped", m.settings.ProjectName)
	return nil
}

// Logs follows the application logs until ctx is cancelled.
func (m *DevManager) Logs(ctx context.Context) error {
	return m.deps.Engine.ComposeLogs(ctx, m.project(), m.settings.AppService, m.deps.Streams)
}

// Shell opens an interactive shell in the running application container.
func (m *DevManager) Shell(ctx context.Context) error {
	c, err := m.appContainer(ctx)
	if err != nil {
		return err
	}
	m.deps.logger().Debug("opening shell", "container", c.Name)

	return m.deps.Engine.ComposeExec(ctx, m.project(), m.settings.AppService, []string{"/bin/sh"}, m.deps.Streams)
}

// Status lists the dev containers under an overall health verdict.
func (m *DevManager) Status(ctx context.Context) error {
	containers, err := m.deps.Engine.ListContainers(ctx, engine.ListOptions{
		All:    true,
		Labels: map[string]string{engine.LabelComposeProject: m.settings.ProjectName},
	})
	if err != nil {
		return err
	}
	if len(containers) == 0 {
		m.deps.Console.Warnf("Dev stack %s is not running", m.settings.ProjectName)
		return nil
	}

	sort.Slice(containers, func(i, j int) bool { return containers[i].Name < containers[j].Name })

	rows := make([][]string, 0, len(containers))
	healths := make([]monitoring.Health, 0, len(containers))
	for _, c := range containers {
		// The list endpoint carries no health check result.
		if info, err := m.deps.Engine.InspectContainer(ctx, c.ID); err == nil {
			info.Labels = c.Labels
			c = *info
		} else {
			m.deps.logger().Debug("inspect failed, using list state", "container", c.Name, "error", err)
		}
		healths = append(healths, monitoring.ContainerHealth(string(c.Status), c.Health))
		rows = append(rows, []string{
			c.Labels[engine.LabelComposeService],
			c.Name,
			string(c.Status),
			orDash(c.Health),
			formatPorts(c.Ports),
		})
	}
	m.deps.Console.Title(fmt.Sprintf("Dev stack %s (%s)", m.settings.ProjectName, monitoring.Aggregate(healths)))
	m.deps.Console.Table([]string{"SERVICE", "CONTAINER", "STATE", "HEALTH", "PORTS"}, rows)
	return nil
}

// appContainer finds the running dev application container.
func (m *DevManager) appContainer(ctx context.Context) (*engine.ContainerInfo, error) {
	containers, err := m.deps.Engine.ListContainers(ctx, engine.ListOptions{
		Labels: map[string]string{
			engine.LabelComposeProject: m.settings.ProjectName,
			engine.LabelComposeService: m.settings.AppService,
		},
	})
	if err != nil {
		return nil, err
	}
	for _, c := range containers {
		if c.Status == engine.ContainerStatusRunning {
			return &c, nil
		}
	}
	return nil, fmt.Errorf("%w: %s (run dev:start first)", ErrServiceNotRunning, m.settings.AppService)
}

func formatPorts(ports []engine.PortBinding) string {
	var parts []string
	for _, p := range ports {
		if p.HostPort == 0 {
			parts = append(parts, fmt.Sprintf("%d/%s", p.ContainerPort, p.Protocol))
			continue
		}
		parts = append(parts, fmt.Sprintf("%d->%d/%s", p.HostPort, p.ContainerPort, p.Protocol))
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ", ")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
