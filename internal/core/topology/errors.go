package topology

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Input errors
	ErrEmptyInput  = errors.New("descriptor is empty")
	ErrInvalidYAML = errors.New("invalid YAML syntax")

	// Structure errors
	ErrNoServices         = errors.New("descriptor must define at least one service")
	ErrMissingService     = errors.New("required service is not declared")
	ErrCircularDependency = errors.New("circular dependency detected")

	// Health gating errors
	ErrNoHealthCheck  = errors.New("service has no health check")
	ErrUngatedStartup = errors.New("dependent does not wait for a healthy dependency")

	// Policy errors
	ErrInvalidPolicy = errors.New("invalid update policy")
)

// ParseError wraps errors with the descriptor field they concern.
type ParseError struct {
	Field   string // e.g., "services.bot.depends_on.postgres"
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// NewParseError creates a new ParseError.
func NewParseError(field, message string, err error) *ParseError {
	return &ParseError{
		Field:   field,
		Message: message,
		Err:     err,
	}
}
