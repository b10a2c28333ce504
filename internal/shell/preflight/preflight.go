// Package preflight verifies the host can run mutating commands: the
// engine CLI is installed and reachable, the compose plugin is present,
// and the configuration file exists and is complete.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/artpar/stackctl/internal/shell/engine"
)

var (
	ErrEngineMissing    = errors.New("container engine is not installed or not reachable")
	ErrComposeMissing   = errors.New("compose plugin is not installed")
	ErrConfigMissing    = errors.New("configuration file not found")
	ErrConfigIncomplete = errors.New("configuration is missing required values")
)

// Setting is one required configuration value.
type Setting struct {
	Key   string
	Value string
}

// Pinger reaches the engine API the lifecycle operations talk to.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker runs the preflight checks. It has no side effects.
type Checker struct {
	runner     engine.Runner
	pinger     Pinger
	binary     string
	configFile string
	required   []Setting
}

// NewChecker creates a Checker for the given engine binary and config file.
func NewChecker(runner engine.Runner, binary, configFile string, required []Setting) *Checker {
	if binary == "" {
		binary = "docker"
	}
	return &Checker{
		runner:     runner,
		binary:     binary,
		configFile: configFile,
		required:   required,
	}
}

// WithEngine makes Check also ping the engine API. The CLI and the API
// client can resolve different hosts.
func (c *Checker) WithEngine(p Pinger) *Checker {
	c.pinger = p
	return c
}

// Check runs every check in order and returns the first failure.
func (c *Checker) Check(ctx context.Context) error {
	if _, err := c.runner.LookPath(c.binary); err != nil {
		return fmt.Errorf("%w: %s not found on PATH", ErrEngineMissing, c.binary)
	}
	if _, err := c.runner.Output(ctx, c.binary, "version", "--format", "{{.Server.Version}}"); err != nil {
		return fmt.Errorf("%w: %v", ErrEngineMissing, err)
	}
	if c.pinger != nil {
		if err := c.pinger.Ping(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrEngineMissing, err)
		}
	}

	if _, err := c.runner.Output(ctx, c.binary, "compose", "version", "--short"); err != nil {
		return fmt.Errorf("%w: %v", ErrComposeMissing, err)
	}

	info, err := os.Stat(c.configFile)
	if err != nil || info.IsDir() {
		return fmt.Errorf("%w: %s", ErrConfigMissing, c.configFile)
	}

	if missing := c.Missing(); len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrConfigIncomplete, strings.Join(missing, ", "))
	}
	return nil
}

// Missing returns the keys of required settings that are empty.
func (c *Checker) Missing() []string {
	var missing []string
	for _, s := range c.required {
		if strings.TrimSpace(s.Value) == "" {
			missing = append(missing, s.Key)
		}
	}
	return missing
}
