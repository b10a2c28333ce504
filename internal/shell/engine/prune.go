package engine

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types/filters"
	units "github.com/docker/go-units"
)

// =============================================================================
// Housekeeping
// =============================================================================

// Prune removes stopped containers, dangling images, unused networks,
// anonymous volumes and the build cache. Named volumes are never touched.
// Each step is best effort: a failing step is recorded as a warning and the
// remaining steps still run.
func (d *DockerEngine) Prune(ctx context.Context) (*PruneReport, error) {
	report := &PruneReport{}
	none := filters.NewArgs()

	if resp, err := d.cli.ContainersPrune(ctx, none); err != nil {
		report.warn("containers", err)
	} else {
		report.Containers = len(resp.ContainersDeleted)
		report.SpaceReclaimed += resp.SpaceReclaimed
	}

	if resp, err := d.cli.ImagesPrune(ctx, filters.NewArgs(filters.Arg("dangling", "true"))); err != nil {
		report.warn("images", err)
	} else {
		report.Images = len(resp.ImagesDeleted)
		report.SpaceReclaimed += resp.SpaceReclaimed
	}

	if resp, err := d.cli.NetworksPrune(ctx, none); err != nil {
		report.warn("networks", err)
	} else {
		report.Networks = len(resp.NetworksDeleted)
	}

	// Without all=true the engine only prunes anonymous volumes.
	if resp, err := d.cli.VolumesPrune(ctx, none); err != nil {
		report.warn("volumes", err)
	} else {
		report.Volumes = len(resp.VolumesDeleted)
		report.SpaceReclaimed += resp.SpaceReclaimed
	}

	out, err := d.runner.Output(ctx, d.binary, "builder", "prune", "--force")
	if err != nil {
		report.warn("build cache", err)
	} else if n, ok := parseReclaimed(out); ok {
		report.SpaceReclaimed += n
	}

	d.logger.Debug("prune finished",
		"containers", report.Containers,
		"images", report.Images,
		"networks", report.Networks,
		"volumes", report.Volumes,
		"reclaimed", units.HumanSize(float64(report.SpaceReclaimed)),
		"warnings", len(report.Warnings))

	if ctx.Err() != nil {
		return report, NewEngineError("Prune", "", "", "cancelled", ErrTimeout)
	}
	return report, nil
}

func (r *PruneReport) warn(step string, err error) {
	r.Warnings = append(r.Warnings, fmt.Sprintf("pruning %s: %v", step, err))
}

// parseReclaimed reads the "Total reclaimed space: 1.2GB" trailer printed
// by docker builder prune.
func parseReclaimed(out []byte) (uint64, bool) {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		value, found := strings.CutPrefix(line, "Total reclaimed space:")
		if !found {
			continue
		}
		n, err := units.FromHumanSize(strings.TrimSpace(value))
		if err != nil || n < 0 {
			return 0, false
		}
		return uint64(n), true
	}
	return 0, false
}
