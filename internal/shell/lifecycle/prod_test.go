package lifecycle

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/stackctl/internal/core/domain"
	"github.com/artpar/stackctl/internal/core/topology"
	"github.com/artpar/stackctl/internal/shell/confirm"
	"github.com/artpar/stackctl/internal/shell/engine"
)

func appService(t *testing.T, h *harness) engine.ServiceInfo {
	t.Helper()
	services, err := h.engine.ListServices(context.Background(), h.settings.StackName)
	require.NoError(t, err)
	for _, s := range services {
		if s.Name == "nutrition-bot_bot" {
			return s
		}
	}
	t.Fatalf("application service not deployed")
	return engine.ServiceInfo{}
}

// =============================================================================
// Init
// =============================================================================

func TestProdInit(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	require.NoError(t, h.prod().Init(ctx))
	assert.True(t, h.engine.Called("SwarmInit"))
	assert.Contains(t, h.out.String(), "Swarm initialized")

	// Second init warns and succeeds.
	require.NoError(t, h.prod().Init(ctx))
	assert.Contains(t, h.errOut.String(), "already initialized")

	calls := 0
	for _, c := range h.engine.Calls() {
		if c == "SwarmInit " || c == "SwarmInit" {
			calls++
		}
	}
	assert.Equal(t, 1, calls)
}

func TestProdInit_RaceWithOtherManager(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.Fail["SwarmInit"] = engine.NewEngineError("SwarmInit", "swarm", "", "already", engine.ErrSwarmAlreadyActive)

	require.NoError(t, h.prod().Init(context.Background()))
	assert.Contains(t, h.errOut.String(), "already initialized")
}

// =============================================================================
// Deploy
// =============================================================================

func TestProdDeploy_RequiresSwarm(t *testing.T) {
	h := newHarness(t, nil)

	err := h.prod().Deploy(context.Background(), "1.0.0")
	assert.ErrorIs(t, err, ErrSwarmNotReady)
	assert.False(t, h.engine.Called("StackDeploy"))
}

func TestProdDeploy_DefaultsToLatest(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.SetSwarmActive(true)

	require.NoError(t, h.prod().Deploy(context.Background(), ""))

	app := appService(t, h)
	assert.Equal(t, "nutrition-bot:latest", app.Image)
	assert.Equal(t, uint64(2), app.DesiredReplicas)
	assert.True(t, h.engine.HasImage("nutrition-bot:latest"))
}

func TestProdDeploy_BuildsOnlyWhenMissing(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.SetSwarmActive(true)
	h.engine.AddImage("nutrition-bot:1.0.0")

	require.NoError(t, h.prod().Deploy(context.Background(), "1.0.0"))
	assert.False(t, h.engine.Called("BuildImage"))
	assert.True(t, h.engine.Called("StackDeploy"))
}

func TestProdDeploy_InvalidVersion(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.SetSwarmActive(true)

	err := h.prod().Deploy(context.Background(), "bad tag!")
	assert.ErrorIs(t, err, domain.ErrInvalidVersion)
	assert.False(t, h.engine.Called("StackDeploy"))
}

func TestProdDeploy_RedeployKeepsReplicas(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.SetSwarmActive(true)
	ctx := context.Background()
	m := h.prod()

	require.NoError(t, m.Deploy(ctx, "1.0.0"))
	require.NoError(t, m.Scale(ctx, 4))
	require.NoError(t, m.Deploy(ctx, "1.0.0"))

	assert.Equal(t, uint64(4), appService(t, h).DesiredReplicas)
}

func TestProdDeploy_DifferentVersionRejected(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.SetSwarmActive(true)
	ctx := context.Background()
	m := h.prod()

	require.NoError(t, m.Deploy(ctx, "1.0.0"))
	err := m.Deploy(ctx, "2.0.0")
	assert.ErrorIs(t, err, ErrVersionChange)
	assert.Contains(t, err.Error(), "prod:update 2.0.0")
	assert.Equal(t, "nutrition-bot:1.0.0", appService(t, h).Image)
}

func TestProdDeploy_DescriptorWithoutHealthCheck(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.SetSwarmActive(true)
	require.NoError(t, os.WriteFile(h.settings.ProdFile, []byte(`
services:
  bot:
    image: nutrition-bot:latest
  postgres:
    image: postgres:16-alpine
`), 0o644))

	err := h.prod().Deploy(context.Background(), "1.0.0")
	assert.ErrorIs(t, err, topology.ErrNoHealthCheck)
	assert.False(t, h.engine.Called("StackDeploy"))
}

func TestProdDeploy_RefusedDuringUpdate(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.SetSwarmActive(true)
	ctx := context.Background()
	m := h.prod()

	require.NoError(t, m.Deploy(ctx, "1.0.0"))
	h.engine.SetUpdateState("nutrition-bot", "bot", engine.UpdateStateUpdating)

	assert.ErrorIs(t, m.Deploy(ctx, "1.0.0"), domain.ErrUpdateInProgress)
	assert.ErrorIs(t, m.Scale(ctx, 3), domain.ErrUpdateInProgress)
}

// =============================================================================
// Scale
// =============================================================================

func TestProdScale_ThenStatus(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.SetSwarmActive(true)
	ctx := context.Background()
	m := h.prod()

	require.NoError(t, m.Deploy(ctx, "1.0.0"))
	require.NoError(t, m.Scale(ctx, 3))

	app := appService(t, h)
	assert.Equal(t, uint64(3), app.DesiredReplicas)
	assert.Equal(t, "nutrition-bot:1.0.0", app.Image)

	h.out.Reset()
	require.NoError(t, m.Status(ctx))
	out := h.out.String()
	assert.Contains(t, out, "nutrition-bot_bot")
	assert.Contains(t, out, "3/3")
	assert.Contains(t, out, "nutrition-bot:1.0.0")
	assert.Contains(t, out, "scaled")
}

func TestProdScale_SameCountWarns(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.SetSwarmActive(true)
	ctx := context.Background()
	m := h.prod()

	require.NoError(t, m.Deploy(ctx, "1.0.0"))
	require.NoError(t, m.Scale(ctx, 2))

	assert.Contains(t, h.errOut.String(), "already runs 2 replicas")
	assert.True(t, h.engine.Called("ScaleService nutrition-bot_bot 2"))
}

func TestProdScale_Preconditions(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.SetSwarmActive(true)
	ctx := context.Background()

	assert.ErrorIs(t, h.prod().Scale(ctx, 0), ErrInvalidReplicas)
	assert.ErrorIs(t, h.prod().Scale(ctx, 3), domain.ErrStackNotDeployed)
	assert.False(t, h.engine.Called("ScaleService"))
}

// =============================================================================
// Update
// =============================================================================

func TestProdUpdate_Completes(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.SetSwarmActive(true)
	ctx := context.Background()
	m := h.prod()

	require.NoError(t, m.Deploy(ctx, "1.0.0"))
	require.NoError(t, m.Update(ctx, "1.1.0"))

	app := appService(t, h)
	assert.Equal(t, "nutrition-bot:1.1.0", app.Image)
	assert.Equal(t, uint64(2), app.DesiredReplicas)
	assert.True(t, h.engine.Called("BuildImage nutrition-bot:1.1.0"))
}

func TestProdUpdate_AlwaysRebuilds(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.SetSwarmActive(true)
	h.engine.AddImage("nutrition-bot:1.0.0")
	ctx := context.Background()
	m := h.prod()

	require.NoError(t, m.Deploy(ctx, "1.0.0"))
	assert.False(t, h.engine.Called("BuildImage"))

	require.NoError(t, m.Update(ctx, "1.0.0"))
	assert.True(t, h.engine.Called("BuildImage nutrition-bot:1.0.0"))
}

func TestProdUpdate_RollbackKeepsPreviousVersion(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.SetSwarmActive(true)
	h.engine.FailingImages["nutrition-bot:2.0.0"] = true
	ctx := context.Background()
	m := h.prod()

	require.NoError(t, m.Deploy(ctx, "1.0.0"))
	err := m.Update(ctx, "2.0.0")
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrRolledBack)

	app := appService(t, h)
	assert.Equal(t, "nutrition-bot:1.0.0", app.Image)
	assert.Equal(t, uint64(2), app.DesiredReplicas)
	assert.Contains(t, h.errOut.String(), "still running nutrition-bot:1.0.0")

	// The stack is usable again afterwards.
	require.NoError(t, m.Scale(ctx, 3))
}

func TestProdUpdate_RequiresDeployedStack(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.SetSwarmActive(true)

	err := h.prod().Update(context.Background(), "1.0.0")
	assert.ErrorIs(t, err, domain.ErrStackNotDeployed)
	assert.False(t, h.engine.Called("BuildImage"))
}

func TestProdUpdate_BuildFailureStopsRollout(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.SetSwarmActive(true)
	ctx := context.Background()
	m := h.prod()

	require.NoError(t, m.Deploy(ctx, "1.0.0"))
	h.engine.Fail["BuildImage"] = errors.New("COPY failed")

	err := m.Update(ctx, "1.1.0")
	assert.ErrorIs(t, err, engine.ErrBuildFailed)
	assert.False(t, h.engine.Called("UpdateServiceImage"))
}

// =============================================================================
// Status, Logs, Remove
// =============================================================================

func TestProdStatus_NotDeployed(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.prod().Status(context.Background()))
	assert.Contains(t, h.errOut.String(), "Swarm is not initialized")

	h.engine.SetSwarmActive(true)
	require.NoError(t, h.prod().Status(context.Background()))
	assert.Contains(t, h.errOut.String(), "is not deployed")
}

func TestProdLogs(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.SetSwarmActive(true)
	ctx := context.Background()

	assert.ErrorIs(t, h.prod().Logs(ctx), domain.ErrStackNotDeployed)

	require.NoError(t, h.prod().Deploy(ctx, "1.0.0"))
	require.NoError(t, h.prod().Logs(ctx))
	assert.True(t, h.engine.Called("ServiceLogs nutrition-bot_bot"))
}

func TestProdRemove_DenyKeepsStack(t *testing.T) {
	h := newHarness(t, confirm.Deny)
	h.engine.SetSwarmActive(true)
	ctx := context.Background()
	m := h.prod()

	require.NoError(t, m.Deploy(ctx, "1.0.0"))
	require.NoError(t, m.Remove(ctx))

	assert.False(t, h.engine.Called("StackRemove"))
	assert.Equal(t, "nutrition-bot:1.0.0", appService(t, h).Image)
	assert.Contains(t, h.errOut.String(), "Removal cancelled")
}

func TestProdRemove_Confirmed(t *testing.T) {
	h := newHarness(t, confirm.AutoApprove)
	h.engine.SetSwarmActive(true)
	ctx := context.Background()
	m := h.prod()

	require.NoError(t, m.Deploy(ctx, "1.0.0"))
	require.NoError(t, m.Remove(ctx))

	services, err := h.engine.ListServices(ctx, h.settings.StackName)
	require.NoError(t, err)
	assert.Empty(t, services)

	// The node stays a manager.
	status, err := h.engine.SwarmStatus(ctx)
	require.NoError(t, err)
	assert.True(t, status.Active())
}

func TestProdRemove_AbsentIsNoop(t *testing.T) {
	h := newHarness(t, confirm.AutoApprove)
	h.engine.SetSwarmActive(true)

	require.NoError(t, h.prod().Remove(context.Background()))
	assert.False(t, h.engine.Called("StackRemove"))
	assert.Contains(t, h.errOut.String(), "nothing to remove")
}
