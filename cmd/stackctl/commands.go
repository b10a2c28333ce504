package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/artpar/stackctl/internal/core/domain"
	"github.com/artpar/stackctl/internal/shell/database"
	"github.com/artpar/stackctl/internal/shell/dispatch"
	"github.com/artpar/stackctl/internal/shell/lifecycle"
)

// defaultScale is the replica count prod:scale uses without an argument.
const defaultScale = 2

// app holds the managers the command table dispatches to.
type app struct {
	builder *lifecycle.Builder
	dev     *lifecycle.DevManager
	prod    *lifecycle.ProdManager
	cleaner *lifecycle.Cleaner
	db      *database.Manager
}

func newApp(cfg *Config, deps lifecycle.Deps, env map[string]string, selected domain.Environment) *app {
	settings := cfg.LifecycleSettings(env)
	builder := lifecycle.NewBuilder(deps, settings)
	return &app{
		builder: builder,
		dev:     lifecycle.NewDevManager(deps, settings),
		prod:    lifecycle.NewProdManager(deps, settings, builder),
		cleaner: lifecycle.NewCleaner(deps),
		db:      database.NewManager(deps, cfg.DatabaseSettings(), selected),
	}
}

// noArgs adapts a method without arguments to a dispatch handler.
func noArgs(fn func(context.Context) error) dispatch.Handler {
	return dispatch.HandlerFunc(func(ctx context.Context, _ []string) error {
		return fn(ctx)
	})
}

// optionalArg returns args[0] or "".
func optionalArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return ""
}

// commands is the dispatch table.
func (a *app) commands() []dispatch.Command {
	return []dispatch.Command{
		// Development
		{Name: "dev:start", Summary: "Start the dev stack and wait until it is healthy", Group: "Development", Mutating: true, Handler: noArgs(a.dev.Start)},
		{Name: "dev:stop", Summary: "Stop the dev stack (data volumes are kept)", Group: "Development", Mutating: true, Handler: noArgs(a.dev.Stop)},
		{Name: "dev:logs", Summary: "Follow the application logs", Group: "Development", Handler: noArgs(a.dev.Logs)},
		{Name: "dev:shell", Summary: "Open a shell in the application container", Group: "Development", Handler: noArgs(a.dev.Shell)},
		{Name: "dev:status", Summary: "List dev containers", Group: "Development", Handler: noArgs(a.dev.Status)},

		// Production
		{Name: "prod:init", Summary: "Initialize the swarm on this node", Group: "Production", Mutating: true, Handler: noArgs(a.prod.Init)},
		{Name: "prod:deploy", Args: "[version]", Summary: "Deploy the prod stack (default: latest)", Group: "Production", MaxArgs: 1, Mutating: true,
			Handler: dispatch.HandlerFunc(func(ctx context.Context, args []string) error {
				return a.prod.Deploy(ctx, optionalArg(args))
			})},
		{Name: "prod:update", Args: "[version]", Summary: "Rebuild and roll out a version", Group: "Production", MaxArgs: 1, Mutating: true,
			Handler: dispatch.HandlerFunc(func(ctx context.Context, args []string) error {
				return a.prod.Update(ctx, optionalArg(args))
			})},
		{Name: "prod:scale", Args: "[n]", Summary: fmt.Sprintf("Set application replicas (default: %d)", defaultScale), Group: "Production", MaxArgs: 1, Mutating: true,
			Handler: dispatch.HandlerFunc(a.scale)},
		{Name: "prod:logs", Summary: "Follow the application service logs", Group: "Production", Handler: noArgs(a.prod.Logs)},
		{Name: "prod:status", Summary: "Show services, replicas and tasks", Group: "Production", Handler: noArgs(a.prod.Status)},
		{Name: "prod:remove", Summary: "Remove the prod stack (asks first)", Group: "Production", Mutating: true, Handler: noArgs(a.prod.Remove)},

		// Database
		{Name: "db:migrate", Summary: "Apply schema migrations", Group: "Database", Mutating: true, Handler: noArgs(a.db.Migrate)},
		{Name: "db:backup", Summary: "Dump the database to a timestamped file", Group: "Database", Mutating: true,
			Handler: dispatch.HandlerFunc(func(ctx context.Context, _ []string) error {
				_, err := a.db.Backup(ctx)
				return err
			})},
		{Name: "db:status", Summary: "Show the current schema revision", Group: "Database", Handler: noArgs(a.db.Status)},
		{Name: "db:rollback", Summary: "Revert the last migration (asks first)", Group: "Database", Mutating: true, Handler: noArgs(a.db.Rollback)},
		{Name: "db:restore", Args: "<file>", Summary: "Load a backup into the database (asks first)", Group: "Database", MaxArgs: 1, Mutating: true,
			Handler: dispatch.HandlerFunc(func(ctx context.Context, args []string) error {
				if len(args) == 0 {
					return fmt.Errorf("%w: db:restore needs a backup file", dispatch.ErrUsage)
				}
				return a.db.Restore(ctx, args[0])
			})},

		// Maintenance
		{Name: "build", Args: "[version]", Summary: "Build the application image (default: latest)", Group: "Maintenance", MaxArgs: 1, Mutating: true,
			Handler: dispatch.HandlerFunc(func(ctx context.Context, args []string) error {
				_, err := a.builder.Ensure(ctx, optionalArg(args), true)
				return err
			})},
		{Name: "cleanup", Summary: "Prune unused containers, images, networks and build cache", Group: "Maintenance", Mutating: true, Handler: noArgs(a.cleaner.Run)},
	}
}

func (a *app) scale(ctx context.Context, args []string) error {
	n := uint64(defaultScale)
	if len(args) > 0 {
		parsed, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil || parsed == 0 {
			return fmt.Errorf("%w: replica count must be a positive integer, got %q", dispatch.ErrUsage, args[0])
		}
		n = parsed
	}
	return a.prod.Scale(ctx, n)
}
