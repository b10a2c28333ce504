package domain

import (
	"errors"
	"fmt"
)

// =============================================================================
// Stack Errors
// =============================================================================

var (
	ErrInvalidTransition = errors.New("invalid stack transition")
	ErrStackNotDeployed  = errors.New("stack is not deployed")
	ErrUpdateInProgress  = errors.New("a rolling update is in progress")
)

// =============================================================================
// Stack State
// =============================================================================

// StackState is the lifecycle state of the prod stack.
type StackState string

const (
	StateAbsent       StackState = "absent"
	StateInitializing StackState = "initializing"
	StateDeployed     StackState = "deployed"
	StateScaled       StackState = "scaled" // deployed, replica count changed
	StateUpdating     StackState = "updating"
	StateRemoved      StackState = "removed"
)

// Operation is a prod lifecycle verb that may move the stack between states.
type Operation string

const (
	OpInit   Operation = "init"
	OpDeploy Operation = "deploy"
	OpUpdate Operation = "update"
	OpScale  Operation = "scale"
	OpRemove Operation = "remove"
)

// =============================================================================
// State Machine
// =============================================================================

// validTransitions defines the allowed state transitions per operation.
var validTransitions = map[StackState]map[Operation]StackState{
	StateAbsent: {
		OpInit:   StateInitializing,
		OpDeploy: StateDeployed,
	},
	StateInitializing: {
		OpInit:   StateInitializing,
		OpDeploy: StateDeployed,
	},
	StateDeployed: {
		OpInit:   StateDeployed,
		OpDeploy: StateDeployed,
		OpUpdate: StateUpdating,
		OpScale:  StateScaled,
		OpRemove: StateRemoved,
	},
	StateScaled: {
		OpInit:   StateScaled,
		OpDeploy: StateScaled,
		OpUpdate: StateUpdating,
		OpScale:  StateScaled,
		OpRemove: StateRemoved,
	},
	StateUpdating: {
		OpInit:   StateUpdating,
		OpRemove: StateRemoved,
	},
	StateRemoved: {
		OpInit:   StateInitializing,
		OpDeploy: StateDeployed,
	},
}

// Transition returns the state reached by applying op in state from.
//
// Operations that need a running stack fail with ErrStackNotDeployed when
// there is none, and anything but remove fails with ErrUpdateInProgress
// while the engine is still rolling an update.
func Transition(from StackState, op Operation) (StackState, error) {
	ops, ok := validTransitions[from]
	if !ok {
		return from, fmt.Errorf("%w: unknown state %q", ErrInvalidTransition, from)
	}
	if to, ok := ops[op]; ok {
		return to, nil
	}

	switch {
	case from == StateUpdating:
		return from, ErrUpdateInProgress
	case !from.Running():
		return from, ErrStackNotDeployed
	default:
		return from, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, op, from)
	}
}

// Settle returns the state the stack converges to once the engine has
// finished the operation that led to s.
func Settle(s StackState) StackState {
	switch s {
	case StateUpdating:
		return StateDeployed
	case StateRemoved, StateInitializing:
		return StateAbsent
	default:
		return s
	}
}

// Running reports whether the state has live services.
func (s StackState) Running() bool {
	switch s {
	case StateDeployed, StateScaled, StateUpdating:
		return true
	default:
		return false
	}
}

// =============================================================================
// Observation
// =============================================================================

// StackObservation is what the engine reports about the prod stack.
type StackObservation struct {
	Services        int    // services carrying the stack namespace
	AppUpdating     bool   // application service has an update or rollback in flight
	AppReplicas     uint64 // desired replicas of the application service
	DefaultReplicas uint64 // replicas the stack is deployed with
}

// ObserveStack derives the lifecycle state from an engine observation.
func ObserveStack(obs StackObservation) StackState {
	switch {
	case obs.Services == 0:
		return StateAbsent
	case obs.AppUpdating:
		return StateUpdating
	case obs.DefaultReplicas > 0 && obs.AppReplicas != obs.DefaultReplicas:
		return StateScaled
	default:
		return StateDeployed
	}
}
