// Package main provides the stackctl binary.
//
// stackctl drives the application's dev stack (compose, one host) and prod
// stack (swarm, rolling updates), plus database maintenance and cleanup.
//
// Usage:
//
//	stackctl [flags] <command> [args]
//
// Run "stackctl help" for the command list.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/artpar/stackctl/internal/core/domain"
	"github.com/artpar/stackctl/internal/shell/confirm"
	"github.com/artpar/stackctl/internal/shell/console"
	"github.com/artpar/stackctl/internal/shell/dispatch"
	"github.com/artpar/stackctl/internal/shell/engine"
	"github.com/artpar/stackctl/internal/shell/lifecycle"
	"github.com/artpar/stackctl/internal/shell/preflight"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// globalFlags are the flags accepted before the command verb.
type globalFlags struct {
	envFile     string
	environment string
	logLevel    string
	assumeYes   bool
	version     bool
}

func parseFlags(args []string, stderr io.Writer) (*globalFlags, []string, error) {
	g := &globalFlags{}
	fs := pflag.NewFlagSet("stackctl", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.SetInterspersed(false)

	fs.StringVar(&g.envFile, "env-file", ".env", "configuration file")
	fs.StringVar(&g.environment, "env", "", "target environment for db commands: dev or prod")
	fs.StringVar(&g.logLevel, "log-level", "", "diagnostic log level: debug, info, warn, error")
	fs.BoolVarP(&g.assumeYes, "yes", "y", false, "answer yes to confirmations")
	fs.BoolVar(&g.version, "version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	return g, fs.Args(), nil
}

func run(args []string, stdin *os.File, stdout, stderr io.Writer) int {
	flags, rest, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return dispatch.ExitOK
		}
		return dispatch.ExitFailure
	}

	if flags.version {
		fmt.Fprintf(stdout, "stackctl %s (built %s)\n", Version, BuildTime)
		return dispatch.ExitOK
	}

	cons := console.New(stdout, stderr, !isTerminal(stdout))

	cfg, err := LoadConfig(flags.envFile)
	if err != nil {
		cons.Errorf("configuration error: %v", err)
		return dispatch.ExitFailure
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	logger := SetupLogger(cfg, stderr)

	selected, err := domain.ParseEnvironment(flags.environment)
	if err != nil {
		cons.Errorf("%v", err)
		return dispatch.ExitFailure
	}

	env, err := cfg.Interpolation()
	if err != nil {
		cons.Errorf("configuration error: %v", err)
		return dispatch.ExitFailure
	}

	runner := engine.NewExecRunner()
	eng, err := engine.NewDockerEngine(engine.Options{
		Host:         cfg.Docker.Host,
		Binary:       cfg.Docker.Binary,
		PollInterval: cfg.Rollout.PollInterval,
		Runner:       runner,
		Logger:       logger,
	})
	if err != nil {
		cons.Errorf("%v", err)
		return dispatch.ExitFailure
	}
	defer eng.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := lifecycle.Deps{
		Engine:   eng,
		Console:  cons,
		Prompter: confirm.ForTerminal(stdin, stderr, flags.assumeYes),
		Streams: engine.Streams{
			In:  stdin,
			Out: stdout,
			Err: stderr,
			TTY: isTerminal(stdin),
		},
		Logger: logger,
	}

	checker := preflight.NewChecker(runner, cfg.Docker.Binary, cfg.EnvFile, cfg.Required()).WithEngine(eng)

	d, err := dispatch.New("stackctl", cons, checker, newApp(cfg, deps, env, selected).commands())
	if err != nil {
		cons.Errorf("%v", err)
		return dispatch.ExitFailure
	}

	logger.Debug("dispatching", "version", Version, "args", rest, "env_file", cfg.EnvFile, "env", selected)
	return d.Run(ctx, rest)
}

func isTerminal(w any) bool {
	f, ok := w.(*os.File)
	return ok && f != nil && term.IsTerminal(int(f.Fd()))
}
