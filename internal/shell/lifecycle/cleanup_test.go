package lifecycle

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/stackctl/internal/shell/engine"
)

func TestCleanerRun(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.PruneReport = engine.PruneReport{
		Containers:     3,
		Images:         2,
		Volumes:        1,
		SpaceReclaimed: 1500000,
		Warnings:       []string{"pruning build cache: buildkit not available"},
	}

	require.NoError(t, NewCleaner(h.deps).Run(context.Background()))
	assert.Contains(t, h.out.String(), "Removed 3 containers, 2 images, 0 networks, 1 volumes")
	assert.Contains(t, h.out.String(), "1.5MB")
	assert.Contains(t, h.errOut.String(), "buildkit not available")
}

func TestCleanerRun_EngineDown(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.Fail["Prune"] = errors.New("cannot connect")

	err := NewCleaner(h.deps).Run(context.Background())
	assert.ErrorContains(t, err, "cannot connect")
}
