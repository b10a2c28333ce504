package topology

import "time"

// =============================================================================
// Topology - Main Output Type
// =============================================================================

// Topology is the stackctl view of one environment's descriptor,
// decoupled from compose-go types.
type Topology struct {
	Name     string
	Services []Service
	Networks []Network
	Volumes  []string
}

// Service returns the named service.
func (t *Topology) Service(name string) (Service, bool) {
	for _, svc := range t.Services {
		if svc.Name == name {
			return svc, true
		}
	}
	return Service{}, false
}

// Dependents returns the names of services that depend on name.
func (t *Topology) Dependents(name string) []string {
	var out []string
	for _, svc := range t.Services {
		for _, dep := range svc.DependsOn {
			if dep.Service == name {
				out = append(out, svc.Name)
				break
			}
		}
	}
	return out
}

// =============================================================================
// Service Types
// =============================================================================

// Service is a named unit of the stack.
type Service struct {
	Name        string
	Image       string
	Build       bool // descriptor declares a build context
	Replicas    int  // 0 when the descriptor leaves it to the engine
	Restart     string
	DependsOn   []Dependency
	HealthCheck *HealthCheck
	Networks    []string
	Volumes     []string // named volumes mounted by the service
}

// Dependency is an edge to another service together with the condition
// the dependent waits for.
type Dependency struct {
	Service   string
	Condition string
}

const (
	ConditionStarted   = "service_started"
	ConditionHealthy   = "service_healthy"
	ConditionCompleted = "service_completed_successfully"
)

// HealthCheck is the check the engine runs against a service.
type HealthCheck struct {
	Test        []string
	Interval    time.Duration
	Timeout     time.Duration
	Retries     uint64
	StartPeriod time.Duration
}

// =============================================================================
// Network Types
// =============================================================================

// Network is a network declared by the descriptor.
type Network struct {
	Key        string // key in the descriptor
	Name       string // explicit engine name, "" when derived from the stack
	Driver     string
	External   bool
	Attachable bool
}

// EngineName returns the name the engine gives the network when the
// descriptor is deployed as stack.
//
// Example:
//
//	Network{Key: "backend"}.EngineName("bot") // "bot_backend"
func (n Network) EngineName(stack string) string {
	if n.Name != "" {
		return n.Name
	}
	return stack + "_" + n.Key
}
