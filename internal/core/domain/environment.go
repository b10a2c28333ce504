package domain

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Environment Errors
// =============================================================================

var (
	ErrUnknownEnvironment   = errors.New("unknown environment")
	ErrAmbiguousEnvironment = errors.New("both dev and prod stacks are running")
	ErrNoActiveEnvironment  = errors.New("no running dev or prod stack found")
)

// =============================================================================
// Environment
// =============================================================================

// Environment selects which stack an invocation operates on.
type Environment string

const (
	EnvironmentDev  Environment = "dev"
	EnvironmentProd Environment = "prod"
)

// ParseEnvironment parses an explicit environment selector.
// An empty selector returns "" and no error; callers fall back to detection.
func ParseEnvironment(s string) (Environment, error) {
	switch Environment(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return "", nil
	case EnvironmentDev:
		return EnvironmentDev, nil
	case EnvironmentProd:
		return EnvironmentProd, nil
	default:
		return "", fmt.Errorf("%w: %q (want dev or prod)", ErrUnknownEnvironment, s)
	}
}

// ResolveEnvironment picks the environment for a command that has to run
// against whichever stack is active.
//
// An explicit selector always wins. Without one, exactly one of the two
// stacks must be running; when both are, the caller has to disambiguate.
//
// Example:
//
//	ResolveEnvironment("", false, true)  // EnvironmentProd, nil
//	ResolveEnvironment("", true, true)   // "", ErrAmbiguousEnvironment
//	ResolveEnvironment("dev", true, true) // EnvironmentDev, nil
func ResolveEnvironment(selected Environment, devRunning, prodRunning bool) (Environment, error) {
	if selected != "" {
		return selected, nil
	}
	switch {
	case devRunning && prodRunning:
		return "", fmt.Errorf("%w: pass --env dev or --env prod", ErrAmbiguousEnvironment)
	case prodRunning:
		return EnvironmentProd, nil
	case devRunning:
		return EnvironmentDev, nil
	default:
		return "", ErrNoActiveEnvironment
	}
}
