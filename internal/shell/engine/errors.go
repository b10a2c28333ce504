package engine

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Container errors
	ErrContainerNotFound   = errors.New("container not found")
	ErrContainerNotRunning = errors.New("container is not running")
	ErrNonZeroExit         = errors.New("command exited with non-zero status")

	// Service errors
	ErrServiceNotFound      = errors.New("service not found")
	ErrServiceNotReplicated = errors.New("service is not in replicated mode")

	// Swarm errors
	ErrSwarmAlreadyActive = errors.New("node is already part of a swarm")
	ErrSwarmInactive      = errors.New("node is not part of a swarm")

	// Rollout errors
	ErrRolledBack    = errors.New("update failed and was rolled back")
	ErrRolloutPaused = errors.New("update paused by the engine")

	// Image errors
	ErrImageNotFound = errors.New("image not found")
	ErrBuildFailed   = errors.New("image build failed")

	// Connection errors
	ErrConnectionFailed = errors.New("engine connection failed")
	ErrCommandFailed    = errors.New("engine command failed")
	ErrTimeout          = errors.New("operation timed out")
)

// EngineError wraps errors with additional context.
type EngineError struct {
	Op      string // Operation that failed
	Entity  string // Entity type (container, service, image, stack, swarm)
	ID      string // Entity ID if applicable
	Message string
	Err     error
}

func (e *EngineError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s %s: %s", e.Op, e.Entity, e.ID, e.Message)
	}
	if e.Entity != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Entity, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// NewEngineError creates a new EngineError.
func NewEngineError(op, entity, id, message string, err error) *EngineError {
	return &EngineError{
		Op:      op,
		Entity:  entity,
		ID:      id,
		Message: message,
		Err:     err,
	}
}
