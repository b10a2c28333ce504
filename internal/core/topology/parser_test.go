package topology

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Input Validation Tests
// =============================================================================

func TestParse_EmptyInput(t *testing.T) {
	_, err := Parse([]byte("   \n"), LoadOptions{})
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("services: [unclosed"), LoadOptions{})
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestParse_NoServices(t *testing.T) {
	_, err := Parse([]byte("volumes:\n  data: {}\n"), LoadOptions{})
	assert.Error(t, err)
}

// =============================================================================
// Conversion Tests
// =============================================================================

func TestParse_DevDescriptor(t *testing.T) {
	topo, err := Parse([]byte(devDescriptor), LoadOptions{ProjectName: "nutrition-bot", Environment: testEnv})
	require.NoError(t, err)

	assert.Equal(t, "nutrition-bot", topo.Name)
	assert.Equal(t, []string{"bot", "postgres", "redis"}, ServiceNames(topo.Services))
	assert.Equal(t, []string{"postgres_data", "redis_data"}, topo.Volumes)

	bot, ok := topo.Service("bot")
	require.True(t, ok)
	assert.True(t, bot.Build)
	assert.Equal(t, "unless-stopped", bot.Restart)
	assert.Equal(t, []Dependency{
		{Service: "postgres", Condition: ConditionHealthy},
		{Service: "redis", Condition: ConditionHealthy},
	}, bot.DependsOn)
	assert.Nil(t, bot.HealthCheck)

	pg, ok := topo.Service("postgres")
	require.True(t, ok)
	require.NotNil(t, pg.HealthCheck)
	assert.Equal(t, 5*time.Second, pg.HealthCheck.Interval)
	assert.Equal(t, uint64(5), pg.HealthCheck.Retries)
	assert.Equal(t, []string{"postgres_data"}, pg.Volumes)
}

func TestParse_ProdDescriptor(t *testing.T) {
	topo, err := Parse([]byte(prodDescriptor), LoadOptions{ProjectName: "nutrition-bot", Environment: testEnv})
	require.NoError(t, err)

	bot, ok := topo.Service("bot")
	require.True(t, ok)
	assert.Equal(t, 2, bot.Replicas)
	require.NotNil(t, bot.HealthCheck)
	assert.Equal(t, 20*time.Second, bot.HealthCheck.StartPeriod)

	require.Len(t, topo.Networks, 1)
	assert.Equal(t, "backend", topo.Networks[0].Key)
	assert.Equal(t, "overlay", topo.Networks[0].Driver)
	assert.Equal(t, "nutrition-bot_backend", topo.Networks[0].EngineName("nutrition-bot"))
}

func TestParse_CircularDependency(t *testing.T) {
	yaml := `
services:
  a:
    image: a
    depends_on: [b]
  b:
    image: b
    depends_on: [a]
`
	_, err := Parse([]byte(yaml), LoadOptions{})
	assert.ErrorIs(t, err, ErrCircularDependency)
}

func TestTopology_Dependents(t *testing.T) {
	topo, err := Parse([]byte(devDescriptor), LoadOptions{Environment: testEnv})
	require.NoError(t, err)

	assert.Equal(t, []string{"bot"}, topo.Dependents("postgres"))
	assert.Empty(t, topo.Dependents("bot"))
}

func TestNetwork_EngineName_Explicit(t *testing.T) {
	n := Network{Key: "backend", Name: "shared_net"}
	assert.Equal(t, "shared_net", n.EngineName("bot"))
}

func TestParse_EmptyServices(t *testing.T) {
	_, err := Parse([]byte("services: {}"), LoadOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoServices)
}
