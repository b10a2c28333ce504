package lifecycle

import (
	"context"

	units "github.com/docker/go-units"
)

// Cleaner reclaims space from unused engine resources.
type Cleaner struct {
	deps Deps
}

// NewCleaner creates a Cleaner.
func NewCleaner(deps Deps) *Cleaner {
	return &Cleaner{deps: deps}
}

// Run prunes stopped containers, dangling images, unused networks,
// anonymous volumes and the build cache. Steps that fail are reported as
// warnings.
func (c *Cleaner) Run(ctx context.Context) error {
	c.deps.Console.Infof("Pruning unused resources")

	report, err := c.deps.Engine.Prune(ctx)
	if err != nil && report == nil {
		return err
	}
	for _, w := range report.Warnings {
		c.deps.Console.Warnf("%s", w)
	}

	c.deps.Console.Successf("Removed %d containers, %d images, %d networks, %d volumes; reclaimed %s",
		report.Containers, report.Images, report.Networks, report.Volumes,
		units.HumanSize(float64(report.SpaceReclaimed)))
	return err
}
