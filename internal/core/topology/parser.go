package topology

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"
	"gopkg.in/yaml.v3"
)

// LoadOptions controls how a descriptor is loaded.
type LoadOptions struct {
	// ProjectName is the compose project or stack namespace.
	ProjectName string

	// Environment feeds ${VAR} interpolation, usually the .env file.
	Environment map[string]string
}

// =============================================================================
// Parser Functions
// =============================================================================

// Parse parses a compose/stack descriptor into a Topology.
// This is a pure function - no I/O, no side effects.
func Parse(content []byte, opts LoadOptions) (*Topology, error) {
	project, err := loadProject(content, opts)
	if err != nil {
		return nil, err
	}

	topo := &Topology{
		Name:     project.Name,
		Services: make([]Service, 0, len(project.Services)),
		Networks: make([]Network, 0, len(project.Networks)),
	}

	for _, name := range sortedKeys(project.Services) {
		topo.Services = append(topo.Services, convertService(project.Services[name]))
	}

	if err := detectCircularDependencies(topo.Services); err != nil {
		return nil, err
	}

	for _, key := range sortedKeys(project.Networks) {
		topo.Networks = append(topo.Networks, convertNetwork(key, project.Networks[key]))
	}

	topo.Volumes = sortedKeys(project.Volumes)

	return topo, nil
}

// loadProject loads a descriptor using compose-go.
func loadProject(content []byte, opts LoadOptions) (*types.Project, error) {
	if strings.TrimSpace(string(content)) == "" {
		return nil, ErrEmptyInput
	}

	// Parse YAML into a map first
	var dict map[string]interface{}
	if err := yaml.Unmarshal(content, &dict); err != nil {
		return nil, NewParseError("", "invalid YAML syntax", ErrInvalidYAML)
	}
	if dict == nil {
		return nil, NewParseError("", "invalid YAML syntax", ErrInvalidYAML)
	}

	name := opts.ProjectName
	if name == "" {
		name = "stackctl"
	}

	project, err := loader.LoadWithContext(context.Background(), types.ConfigDetails{
		ConfigFiles: []types.ConfigFile{
			{
				Content: content,
				Config:  dict,
			},
		},
		Environment: types.Mapping(opts.Environment),
	}, func(o *loader.Options) {
		o.SetProjectName(name, true)
		o.SkipValidation = false
		o.SkipInterpolation = false
		o.SkipNormalization = true // in-memory, no path resolution
		o.SkipExtends = true
		o.SkipInclude = true
		o.SkipResolveEnvironment = true // env_file is read by the engine, not here
	})
	if err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "dependency cycle detected") {
			return nil, NewParseError("", "circular dependency detected", ErrCircularDependency)
		}
		return nil, NewParseError("", errStr, ErrInvalidYAML)
	}

	if len(project.Services) == 0 {
		return nil, ErrNoServices
	}

	return project, nil
}

// convertService converts a compose-go service to our Service type
func convertService(svc types.ServiceConfig) Service {
	service := Service{
		Name:    svc.Name,
		Image:   svc.Image,
		Build:   svc.Build != nil,
		Restart: svc.Restart,
	}

	for _, dep := range sortedKeys(svc.DependsOn) {
		condition := svc.DependsOn[dep].Condition
		if condition == "" {
			condition = ConditionStarted
		}
		service.DependsOn = append(service.DependsOn, Dependency{Service: dep, Condition: condition})
	}

	service.Networks = sortedKeys(svc.Networks)

	for _, v := range svc.Volumes {
		if v.Type == types.VolumeTypeVolume && v.Source != "" {
			service.Volumes = append(service.Volumes, v.Source)
		}
	}

	if svc.Deploy != nil {
		if svc.Deploy.Replicas != nil {
			service.Replicas = *svc.Deploy.Replicas
		}
		if service.Restart == "" && svc.Deploy.RestartPolicy != nil {
			service.Restart = svc.Deploy.RestartPolicy.Condition
		}
	}

	if svc.HealthCheck != nil && !svc.HealthCheck.Disable && len(svc.HealthCheck.Test) > 0 {
		hc := &HealthCheck{Test: svc.HealthCheck.Test}
		if svc.HealthCheck.Interval != nil {
			hc.Interval = time.Duration(*svc.HealthCheck.Interval)
		}
		if svc.HealthCheck.Timeout != nil {
			hc.Timeout = time.Duration(*svc.HealthCheck.Timeout)
		}
		if svc.HealthCheck.Retries != nil {
			hc.Retries = *svc.HealthCheck.Retries
		}
		if svc.HealthCheck.StartPeriod != nil {
			hc.StartPeriod = time.Duration(*svc.HealthCheck.StartPeriod)
		}
		service.HealthCheck = hc
	}

	return service
}

// convertNetwork converts a compose-go network to our Network type
func convertNetwork(key string, net types.NetworkConfig) Network {
	return Network{
		Key:        key,
		Name:       net.Name,
		Driver:     net.Driver,
		External:   bool(net.External),
		Attachable: net.Attachable,
	}
}

// detectCircularDependencies detects circular dependencies in service dependencies
func detectCircularDependencies(services []Service) error {
	deps := make(map[string][]string)
	for _, svc := range services {
		for _, d := range svc.DependsOn {
			deps[svc.Name] = append(deps[svc.Name], d.Service)
		}
	}

	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	var hasCycle func(node string) bool
	hasCycle = func(node string) bool {
		visited[node] = true
		recStack[node] = true

		for _, dep := range deps[node] {
			if dep == node {
				return true
			}
			if !visited[dep] {
				if hasCycle(dep) {
					return true
				}
			} else if recStack[dep] {
				return true
			}
		}

		recStack[node] = false
		return false
	}

	for _, svc := range services {
		if !visited[svc.Name] {
			if hasCycle(svc.Name) {
				return ErrCircularDependency
			}
		}
	}

	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
