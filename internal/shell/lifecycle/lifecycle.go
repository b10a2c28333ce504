// Package lifecycle drives the dev and prod stacks of the application.
//
// Each manager observes the engine first, decides through the pure domain
// and topology packages, and only then issues engine calls. Nothing is
// cached between invocations.
package lifecycle

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/artpar/stackctl/internal/core/topology"
	"github.com/artpar/stackctl/internal/shell/confirm"
	"github.com/artpar/stackctl/internal/shell/console"
	"github.com/artpar/stackctl/internal/shell/engine"
)

var (
	ErrServiceNotRunning = errors.New("service is not running")
	ErrVersionChange     = errors.New("a different version is already deployed")
	ErrInvalidReplicas   = errors.New("replica count must be at least 1")
	ErrSwarmNotReady     = errors.New("swarm is not initialized")
)

// Settings are the deployment values shared by the managers.
type Settings struct {
	AppService   string // application service name in both descriptors
	DataService  string // data-store service name
	CacheService string

	ImageName    string
	BuildContext string
	Dockerfile   string

	ProjectName string // dev compose project
	StackName   string // prod stack namespace
	DevFile     string
	ProdFile    string
	EnvFile     string

	// Env is the configuration file content, used to interpolate
	// descriptors the same way the engine does.
	Env map[string]string

	DefaultReplicas uint64
	AdvertiseAddr   string
	Policy          topology.UpdatePolicy
	RolloutTimeout  time.Duration
}

// Deps are the collaborators shared by the managers.
type Deps struct {
	Engine   engine.Engine
	Console  *console.Console
	Prompter confirm.Prompter
	Streams  engine.Streams
	Logger   *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

// loadTopology reads and parses a descriptor.
func loadTopology(path, project string, env map[string]string) ([]byte, *topology.Topology, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading %s: %w", path, err)
	}
	topo, err := topology.Parse(content, topology.LoadOptions{ProjectName: project, Environment: env})
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return content, topo, nil
}
