package lifecycle

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/artpar/stackctl/internal/core/topology"
	"github.com/artpar/stackctl/internal/shell/confirm"
	"github.com/artpar/stackctl/internal/shell/console"
	"github.com/artpar/stackctl/internal/shell/engine"
	"github.com/artpar/stackctl/internal/shell/engine/enginetest"
)

const devDescriptor = `
services:
  bot:
    build: .
    image: nutrition-bot:dev
    depends_on:
      postgres:
        condition: service_healthy
      redis:
        condition: service_healthy
    networks: [botnet]
  postgres:
    image: postgres:16-alpine
    environment:
      POSTGRES_PASSWORD: ${POSTGRES_PASSWORD}
    healthcheck:
      test: ["CMD-SHELL", "pg_isready"]
      interval: 5s
      retries: 5
    networks: [botnet]
  redis:
    image: redis:7-alpine
    healthcheck:
      test: ["CMD", "redis-cli", "ping"]
    networks: [botnet]
networks:
  botnet: {}
`

const ungatedDevDescriptor = `
services:
  bot:
    image: nutrition-bot:dev
    depends_on: [postgres]
  postgres:
    image: postgres:16-alpine
`

const prodDescriptor = `
services:
  bot:
    image: nutrition-bot:latest
    build: .
    environment:
      BOT_TOKEN: ${BOT_TOKEN}
    healthcheck:
      test: ["CMD", "python", "-c", "import os; os.kill(1, 0)"]
      interval: 10s
      retries: 3
    networks: [backend]
  postgres:
    image: postgres:16-alpine
    environment:
      POSTGRES_PASSWORD: ${POSTGRES_PASSWORD}
    volumes:
      - postgres_data:/var/lib/postgresql/data
    networks: [backend]
  redis:
    image: redis:7-alpine
    networks: [backend]
networks:
  backend:
    driver: overlay
volumes:
  postgres_data: {}
`

type harness struct {
	engine   *enginetest.Engine
	settings Settings
	deps     Deps
	out      *bytes.Buffer
	errOut   *bytes.Buffer
}

func newHarness(t *testing.T, answer confirm.Prompter) *harness {
	t.Helper()

	dir := t.TempDir()
	devFile := filepath.Join(dir, "docker-compose.yml")
	prodFile := filepath.Join(dir, "docker-stack.yml")
	require.NoError(t, os.WriteFile(devFile, []byte(devDescriptor), 0o644))
	require.NoError(t, os.WriteFile(prodFile, []byte(prodDescriptor), 0o644))

	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	eng := enginetest.New()

	if answer == nil {
		answer = confirm.Deny
	}

	return &harness{
		engine: eng,
		settings: Settings{
			AppService:      "bot",
			DataService:     "postgres",
			CacheService:    "redis",
			ImageName:       "nutrition-bot",
			BuildContext:    dir,
			Dockerfile:      "Dockerfile",
			ProjectName:     "nutrition-bot-dev",
			StackName:       "nutrition-bot",
			DevFile:         devFile,
			ProdFile:        prodFile,
			EnvFile:         filepath.Join(dir, ".env"),
			Env:             map[string]string{"BOT_TOKEN": "123:abc", "POSTGRES_PASSWORD": "pw"},
			DefaultReplicas: 2,
			Policy:          topology.DefaultUpdatePolicy(),
			RolloutTimeout:  time.Minute,
		},
		deps: Deps{
			Engine:   eng,
			Console:  console.New(out, errOut, true),
			Prompter: answer,
			Streams:  engine.Streams{Out: io.Discard, Err: io.Discard},
			Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		},
		out:    out,
		errOut: errOut,
	}
}

func (h *harness) prod() *ProdManager {
	return NewProdManager(h.deps, h.settings, NewBuilder(h.deps, h.settings))
}

func (h *harness) dev() *DevManager {
	return NewDevManager(h.deps, h.settings)
}
