package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/stackctl/internal/shell/confirm"
	"github.com/artpar/stackctl/internal/shell/console"
	"github.com/artpar/stackctl/internal/shell/dispatch"
	"github.com/artpar/stackctl/internal/shell/engine"
	"github.com/artpar/stackctl/internal/shell/engine/enginetest"
	"github.com/artpar/stackctl/internal/shell/lifecycle"
)

const stackDescriptor = `
services:
  bot:
    image: nutrition-bot:latest
    depends_on:
      postgres:
        condition: service_started
    ports:
      - "8080:8080"
    healthcheck:
      test: ["CMD", "true"]
    networks: [backend]
  postgres:
    image: postgres:16-alpine
    networks: [backend]
networks:
  backend: {}
`

type cli struct {
	engine *enginetest.Engine
	d      *dispatch.Dispatcher
	out    *bytes.Buffer
	errOut *bytes.Buffer
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	clearEnv(t)

	dir := t.TempDir()
	prodFile := filepath.Join(dir, "docker-stack.yml")
	require.NoError(t, os.WriteFile(prodFile, []byte(stackDescriptor), 0o644))

	cfg, err := LoadConfig(filepath.Join(dir, ".env"))
	require.NoError(t, err)
	cfg.Stack.ProdFile = prodFile

	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cons := console.New(out, errOut, true)
	eng := enginetest.New()
	eng.SetSwarmActive(true)

	deps := lifecycle.Deps{
		Engine:   eng,
		Console:  cons,
		Prompter: confirm.NewNonInteractive(errOut),
		Streams:  engine.Streams{Out: io.Discard, Err: io.Discard},
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	d, err := dispatch.New("stackctl", cons, nil, newApp(cfg, deps, map[string]string{}, "").commands())
	require.NoError(t, err)

	return &cli{engine: eng, d: d, out: out, errOut: errOut}
}

func (c *cli) run(args ...string) int {
	return c.d.Run(context.Background(), args)
}

func TestCommands_UnknownVerbExitsOne(t *testing.T) {
	c := newCLI(t)

	assert.Equal(t, dispatch.ExitFailure, c.run("deploy"))
	assert.Contains(t, c.errOut.String(), "unknown command")
	assert.Contains(t, c.errOut.String(), "prod:deploy")
}

func TestCommands_HelpListsEveryVerb(t *testing.T) {
	c := newCLI(t)

	assert.Equal(t, dispatch.ExitOK, c.run("help"))
	for _, verb := range []string{
		"dev:start", "dev:stop", "dev:logs", "dev:shell", "dev:status",
		"prod:init", "prod:deploy", "prod:update", "prod:scale", "prod:logs", "prod:status", "prod:remove",
		"db:migrate", "db:backup", "db:status", "db:rollback", "db:restore",
		"build", "cleanup",
	} {
		assert.Contains(t, c.out.String(), verb)
	}
}

func TestCommands_DeployDefaultsToLatest(t *testing.T) {
	c := newCLI(t)

	require.Equal(t, dispatch.ExitOK, c.run("prod:deploy"), c.errOut.String())
	assert.True(t, c.engine.Called("BuildImage nutrition-bot:latest"))
	assert.True(t, c.engine.Called("StackDeploy nutrition-bot"))
}

func TestCommands_DeployScaleStatus(t *testing.T) {
	c := newCLI(t)

	require.Equal(t, dispatch.ExitOK, c.run("prod:deploy", "1.0.0"), c.errOut.String())
	require.Equal(t, dispatch.ExitOK, c.run("prod:scale", "3"), c.errOut.String())

	c.out.Reset()
	require.Equal(t, dispatch.ExitOK, c.run("prod:status"))
	assert.Contains(t, c.out.String(), "3/3")
	assert.Contains(t, c.out.String(), "nutrition-bot:1.0.0")
}

func TestCommands_ScaleDefaultAndValidation(t *testing.T) {
	c := newCLI(t)
	require.Equal(t, dispatch.ExitOK, c.run("prod:deploy", "1.0.0"))

	assert.Equal(t, dispatch.ExitOK, c.run("prod:scale"))
	assert.True(t, c.engine.Called("ScaleService nutrition-bot_bot 2"))

	assert.Equal(t, dispatch.ExitFailure, c.run("prod:scale", "zero"))
	assert.Equal(t, dispatch.ExitFailure, c.run("prod:scale", "0"))
	assert.Equal(t, dispatch.ExitFailure, c.run("prod:scale", "1", "2"))
}

func TestCommands_RemoveDeniedByDefault(t *testing.T) {
	c := newCLI(t)
	require.Equal(t, dispatch.ExitOK, c.run("prod:deploy", "1.0.0"))

	assert.Equal(t, dispatch.ExitOK, c.run("prod:remove"))
	assert.False(t, c.engine.Called("StackRemove"))
	assert.Contains(t, c.errOut.String(), "pass --yes to approve")
	assert.Contains(t, c.errOut.String(), "Removal cancelled")
}

func TestCommands_RestoreNeedsFile(t *testing.T) {
	c := newCLI(t)

	assert.Equal(t, dispatch.ExitFailure, c.run("db:restore"))
	assert.Contains(t, c.errOut.String(), "needs a backup file")
}

func TestCommands_BuildForces(t *testing.T) {
	c := newCLI(t)
	c.engine.AddImage("nutrition-bot:2.0.0")

	require.Equal(t, dispatch.ExitOK, c.run("build", "2.0.0"))
	assert.True(t, c.engine.Called("BuildImage nutrition-bot:2.0.0"))
}

func TestCommands_DbMigrateWithoutStack(t *testing.T) {
	c := newCLI(t)

	assert.Equal(t, dispatch.ExitFailure, c.run("db:migrate"))
	assert.Contains(t, c.errOut.String(), "no running dev or prod stack")
}

func TestParseFlags(t *testing.T) {
	g, rest, err := parseFlags([]string{"--env", "prod", "-y", "--env-file", "deploy.env", "prod:scale", "3"}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "prod", g.environment)
	assert.True(t, g.assumeYes)
	assert.Equal(t, "deploy.env", g.envFile)
	assert.Equal(t, []string{"prod:scale", "3"}, rest)

	g, rest, err = parseFlags([]string{"db:backup"}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, ".env", g.envFile)
	assert.Equal(t, []string{"db:backup"}, rest)

	_, _, err = parseFlags([]string{"--bogus"}, io.Discard)
	assert.Error(t, err)
}
