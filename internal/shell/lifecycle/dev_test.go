package lifecycle

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/stackctl/internal/core/topology"
	"github.com/artpar/stackctl/internal/shell/engine"
)

func TestDevStart_Idempotent(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	m := h.dev()

	require.NoError(t, m.Start(ctx))
	require.NoError(t, m.Start(ctx))

	containers, err := h.engine.ListContainers(ctx, engine.ListOptions{
		Labels: map[string]string{engine.LabelComposeProject: "nutrition-bot-dev"},
	})
	require.NoError(t, err)

	perService := map[string]int{}
	for _, c := range containers {
		perService[c.Labels[engine.LabelComposeService]]++
	}
	assert.Equal(t, map[string]int{"bot": 1, "postgres": 1, "redis": 1}, perService)
	assert.Equal(t, 2, h.engine.ProjectStarts("nutrition-bot-dev"))
}

func TestDevStart_ReportsDependencyOrder(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.dev().Start(context.Background()))
	assert.Contains(t, h.out.String(), "postgres → redis → bot")
}

func TestDevStart_RejectsUngatedDescriptor(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, os.WriteFile(h.settings.DevFile, []byte(ungatedDevDescriptor), 0o644))

	err := h.dev().Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, topology.ErrNoHealthCheck)
	assert.False(t, h.engine.Called("ComposeUp"))
}

func TestDevStart_MissingDescriptor(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, os.Remove(h.settings.DevFile))

	err := h.dev().Start(context.Background())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDevStart_EngineFailurePropagates(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.Fail["ComposeUp"] = errors.New("postgres is unhealthy")

	err := h.dev().Start(context.Background())
	assert.ErrorContains(t, err, "unhealthy")
}

func TestDevStop(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	require.NoError(t, h.dev().Start(ctx))
	require.NoError(t, h.dev().Stop(ctx))
	assert.Equal(t, 0, h.engine.ProjectStarts("nutrition-bot-dev"))
}

func TestDevShell(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	err := h.dev().Shell(ctx)
	assert.ErrorIs(t, err, ErrServiceNotRunning)
	assert.False(t, h.engine.Called("ComposeExec"))

	require.NoError(t, h.dev().Start(ctx))
	require.NoError(t, h.dev().Shell(ctx))
	assert.True(t, h.engine.Called("ComposeExec nutrition-bot-dev bot /bin/sh"))
}

func TestDevLogs(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.dev().Logs(context.Background()))
	assert.True(t, h.engine.Called("ComposeLogs nutrition-bot-dev bot"))
}

func TestDevStatus(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	require.NoError(t, h.dev().Status(ctx))
	assert.Contains(t, h.errOut.String(), "is not running")

	require.NoError(t, h.dev().Start(ctx))
	h.out.Reset()
	require.NoError(t, h.dev().Status(ctx))
	assert.Contains(t, h.out.String(), "Dev stack nutrition-bot-dev (healthy)")
	assert.Contains(t, h.out.String(), "nutrition-bot-dev-bot-1")
}

func TestDevStatus_UnhealthyDataStore(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.dev().Start(ctx))
	h.engine.Health = map[string]string{"nutrition-bot-dev-postgres-1": "unhealthy"}

	h.out.Reset()
	require.NoError(t, h.dev().Status(ctx))
	assert.Contains(t, h.out.String(), "Dev stack nutrition-bot-dev (degraded)")
	assert.Contains(t, h.out.String(), "unhealthy")
	assert.True(t, h.engine.Called("InspectContainer nutrition-bot-dev-postgres-1"))
}

func TestDevStatus_InspectFailureFallsBackToList(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.dev().Start(ctx))
	h.engine.Fail = map[string]error{"InspectContainer": errors.New("daemon hiccup")}

	h.out.Reset()
	require.NoError(t, h.dev().Status(ctx))
	assert.Contains(t, h.out.String(), "Dev stack nutrition-bot-dev (healthy)")
}

func TestFormatPorts(t *testing.T) {
	assert.Equal(t, "-", formatPorts(nil))
	assert.Equal(t, "8080->80/tcp, 5432/tcp", formatPorts([]engine.PortBinding{
		{ContainerPort: 80, HostPort: 8080, Protocol: "tcp"},
		{ContainerPort: 5432, Protocol: "tcp"},
	}))
}
