// Package monitoring turns observed container states into a health verdict.
// This package contains NO I/O.
package monitoring

// Health is the health of one container or of a whole stack.
type Health string

const (
	Healthy   Health = "healthy"
	Degraded  Health = "degraded"
	Unhealthy Health = "unhealthy"
	Unknown   Health = "unknown"
)

// =============================================================================
// Health Aggregation (Pure Functions)
// =============================================================================

// Aggregate determines the stack health from its container healths.
//
// No containers is unknown, all unhealthy is unhealthy, and anything other
// than all healthy is degraded.
func Aggregate(containers []Health) Health {
	if len(containers) == 0 {
		return Unknown
	}

	unhealthy := 0
	degraded := 0

	for _, h := range containers {
		switch h {
		case Unhealthy:
			unhealthy++
		case Degraded, Unknown:
			degraded++
		}
	}

	if unhealthy == len(containers) {
		return Unhealthy
	}
	if unhealthy > 0 || degraded > 0 {
		return Degraded
	}
	return Healthy
}

// ContainerHealth maps an engine container state and health check result
// to a Health.
//
// Parameters:
// - state: running, created, paused, restarting, exited or dead
// - check: the health check result (healthy, unhealthy, starting) or "" when
//   the container declares no check
func ContainerHealth(state, check string) Health {
	switch state {
	case "running":
	case "restarting", "created":
		return Degraded
	default:
		return Unhealthy
	}

	switch check {
	case "unhealthy":
		return Unhealthy
	case "starting":
		return Degraded
	default:
		return Healthy
	}
}
