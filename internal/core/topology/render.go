package topology

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/compose-spec/compose-go/v2/types"
	"gopkg.in/yaml.v3"
)

// stackFileVersion is the descriptor version docker stack deploy expects.
const stackFileVersion = "3.8"

// =============================================================================
// Update Policy
// =============================================================================

const (
	OrderStartFirst = "start-first"
	OrderStopFirst  = "stop-first"

	FailureActionRollback = "rollback"
	FailureActionPause    = "pause"
	FailureActionContinue = "continue"
)

// UpdatePolicy is the rolling update contract declared for the application
// service. The engine enforces it for the initial deploy and for every
// later image update of the stack.
type UpdatePolicy struct {
	Parallelism     uint64        // tasks replaced per batch
	Delay           time.Duration // settle delay between batches
	Monitor         time.Duration // health window after each batch
	Order           string        // start-first or stop-first
	FailureAction   string        // rollback, pause or continue
	MaxFailureRatio float32
}

// DefaultUpdatePolicy returns the policy used when the configuration does
// not override it: one task at a time, new task healthy before the old one
// stops, automatic rollback.
func DefaultUpdatePolicy() UpdatePolicy {
	return UpdatePolicy{
		Parallelism:   1,
		Delay:         10 * time.Second,
		Monitor:       30 * time.Second,
		Order:         OrderStartFirst,
		FailureAction: FailureActionRollback,
	}
}

// Validate checks the policy values.
func (p UpdatePolicy) Validate() error {
	if p.Parallelism == 0 {
		return fmt.Errorf("%w: parallelism must be at least 1", ErrInvalidPolicy)
	}
	if p.Delay < 0 || p.Monitor < 0 {
		return fmt.Errorf("%w: delay and monitor must not be negative", ErrInvalidPolicy)
	}
	switch p.Order {
	case OrderStartFirst, OrderStopFirst:
	default:
		return fmt.Errorf("%w: unknown order %q", ErrInvalidPolicy, p.Order)
	}
	switch p.FailureAction {
	case FailureActionRollback, FailureActionPause, FailureActionContinue:
	default:
		return fmt.Errorf("%w: unknown failure action %q", ErrInvalidPolicy, p.FailureAction)
	}
	if p.MaxFailureRatio < 0 || p.MaxFailureRatio > 1 {
		return fmt.Errorf("%w: max failure ratio must be within [0,1]", ErrInvalidPolicy)
	}
	return nil
}

func (p UpdatePolicy) updateConfig() *types.UpdateConfig {
	parallelism := p.Parallelism
	return &types.UpdateConfig{
		Parallelism:     &parallelism,
		Delay:           types.Duration(p.Delay),
		Monitor:         types.Duration(p.Monitor),
		Order:           p.Order,
		FailureAction:   p.FailureAction,
		MaxFailureRatio: p.MaxFailureRatio,
	}
}

func (p UpdatePolicy) rollbackConfig() *types.UpdateConfig {
	parallelism := p.Parallelism
	return &types.UpdateConfig{
		Parallelism:   &parallelism,
		Delay:         types.Duration(p.Delay),
		Monitor:       types.Duration(p.Monitor),
		Order:         p.Order,
		FailureAction: FailureActionPause,
	}
}

// =============================================================================
// Rendering
// =============================================================================

// RenderParams are the values stackctl owns in the prod descriptor.
type RenderParams struct {
	App      string // application service name
	Image    string // image reference for the application service
	Replicas uint64 // desired application replicas
	Policy   UpdatePolicy
}

// RenderStack returns the prod descriptor ready for docker stack deploy.
//
// The application service gets the image reference, replica count and the
// update/rollback policy; build sections are dropped and every stack-owned
// network is made attachable so one-shot helpers can join it.
func RenderStack(content []byte, opts LoadOptions, params RenderParams) ([]byte, error) {
	if params.Replicas == 0 {
		return nil, fmt.Errorf("%w: replicas must be at least 1", ErrInvalidPolicy)
	}
	if err := params.Policy.Validate(); err != nil {
		return nil, err
	}

	project, err := loadProject(content, opts)
	if err != nil {
		return nil, err
	}

	app, ok := project.Services[params.App]
	if !ok {
		return nil, NewParseError("services."+params.App, "service is not declared", ErrMissingService)
	}

	app.Image = params.Image
	app.Build = nil
	if app.Deploy == nil {
		app.Deploy = &types.DeployConfig{}
	}
	replicas := int(params.Replicas)
	app.Deploy.Replicas = &replicas
	app.Deploy.UpdateConfig = params.Policy.updateConfig()
	app.Deploy.RollbackConfig = params.Policy.rollbackConfig()
	project.Services[params.App] = app

	for name, svc := range project.Services {
		if name != params.App && svc.Build != nil {
			svc.Build = nil
			project.Services[name] = svc
		}
	}

	for key, net := range project.Networks {
		if bool(net.External) {
			continue
		}
		if net.Driver == "" {
			net.Driver = "overlay"
		}
		net.Attachable = true
		project.Networks[key] = net
	}

	out, err := project.MarshalYAML()
	if err != nil {
		return nil, fmt.Errorf("marshal stack descriptor: %w", err)
	}

	// The stack loader has no notion of a project name.
	var doc map[string]interface{}
	if err := yaml.Unmarshal(out, &doc); err != nil {
		return nil, fmt.Errorf("reparse stack descriptor: %w", err)
	}
	delete(doc, "name")
	doc["version"] = stackFileVersion

	if err := toStackSchema(doc); err != nil {
		return nil, err
	}

	return yaml.Marshal(doc)
}

// =============================================================================
// Stack Schema
// =============================================================================

// Keys the 3.8 schema accepts inside long-syntax port and volume entries.
var (
	stackPortKeys  = []string{"mode", "target", "published", "protocol"}
	stackBindKeys  = []string{"propagation"}
	stackVolKeys   = []string{"nocopy"}
	stackTmpfsKeys = []string{"size"}
)

// toStackSchema rewrites the compose-spec shapes compose-go emits into the
// shapes the 3.8 stack loader accepts.
func toStackSchema(doc map[string]interface{}) error {
	services, _ := doc["services"].(map[string]interface{})
	for name, raw := range services {
		svc, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		field := "services." + name

		if deps, ok := svc["depends_on"].(map[string]interface{}); ok {
			names := make([]string, 0, len(deps))
			for dep := range deps {
				names = append(names, dep)
			}
			sort.Strings(names)
			svc["depends_on"] = names
		}

		if ports, ok := svc["ports"].([]interface{}); ok {
			for i, p := range ports {
				port, ok := p.(map[string]interface{})
				if !ok {
					continue
				}
				if err := stackPort(port); err != nil {
					return NewParseError(fmt.Sprintf("%s.ports[%d]", field, i), err.Error(), ErrInvalidYAML)
				}
				ports[i] = keep(port, stackPortKeys)
			}
		}

		if files, ok := svc["env_file"].([]interface{}); ok {
			paths := make([]string, 0, len(files))
			for _, f := range files {
				switch v := f.(type) {
				case string:
					paths = append(paths, v)
				case map[string]interface{}:
					if path, ok := v["path"].(string); ok && path != "" {
						paths = append(paths, path)
					}
				}
			}
			svc["env_file"] = paths
		}

		if vols, ok := svc["volumes"].([]interface{}); ok {
			for _, v := range vols {
				vol, ok := v.(map[string]interface{})
				if !ok {
					continue
				}
				trim(vol, "bind", stackBindKeys)
				trim(vol, "volume", stackVolKeys)
				trim(vol, "tmpfs", stackTmpfsKeys)
			}
		}

		if hc, ok := svc["healthcheck"].(map[string]interface{}); ok {
			delete(hc, "start_interval")
		}
	}
	return nil
}

// stackPort turns the published port into the integer the stack schema
// requires. Ranges have no 3.8 long-syntax form.
func stackPort(port map[string]interface{}) error {
	switch v := port["published"].(type) {
	case nil:
	case int:
	case string:
		if v == "" {
			delete(port, "published")
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("published port %q must be a single port number", v)
		}
		port["published"] = n
	default:
		return fmt.Errorf("published port %v must be a single port number", v)
	}
	return nil
}

func keep(m map[string]interface{}, keys []string) map[string]interface{} {
	out := make(map[string]interface{}, len(keys))
	for _, k := range keys {
		if v, ok := m[k]; ok {
			out[k] = v
		}
	}
	return out
}

// trim filters a nested option block down to keys and drops it when
// nothing is left.
func trim(vol map[string]interface{}, block string, keys []string) {
	opts, ok := vol[block].(map[string]interface{})
	if !ok {
		return
	}
	opts = keep(opts, keys)
	if len(opts) == 0 {
		delete(vol, block)
		return
	}
	vol[block] = opts
}
