// Package database sequences schema migrations, backups and restores
// against whichever stack is active.
//
// The schema itself belongs to the application: migrations run the
// application's own migration tool inside its image. Backups stream
// pg_dump out of the running data-store container.
package database

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/artpar/stackctl/internal/core/domain"
	"github.com/artpar/stackctl/internal/shell/engine"
	"github.com/artpar/stackctl/internal/shell/lifecycle"
)

var (
	ErrAppNotRunning       = errors.New("application is not running")
	ErrDataStoreNotRunning = errors.New("data store is not running")
	ErrMigrationFailed     = errors.New("migration command failed")
	ErrEmptyBackup         = errors.New("backup is empty")
	ErrBackupExists        = errors.New("backup file already exists")
	ErrNotABackup          = errors.New("not a backup artifact")
)

// Settings configure the database module.
type Settings struct {
	AppService  string
	DataService string
	ProjectName string // dev compose project
	StackName   string // prod stack namespace
	Network     string // prod network helpers attach to
	EnvFile     string
	BackupDir   string

	DBUser string
	DBName string

	MigrateCommand  []string
	StatusCommand   []string
	RollbackCommand []string
}

// Manager runs database maintenance against the active environment.
type Manager struct {
	deps     lifecycle.Deps
	settings Settings
	selected domain.Environment
	now      func() time.Time
}

// NewManager creates a Manager. selected is the --env selector; empty
// means detect.
func NewManager(deps lifecycle.Deps, settings Settings, selected domain.Environment) *Manager {
	return &Manager{deps: deps, settings: settings, selected: selected, now: time.Now}
}

func (m *Manager) logger() *slog.Logger {
	if m.deps.Logger == nil {
		return slog.Default()
	}
	return m.deps.Logger
}

// =============================================================================
// Environment Resolution
// =============================================================================

// Environment returns the environment commands run against.
func (m *Manager) Environment(ctx context.Context) (domain.Environment, error) {
	if m.selected != "" {
		return m.selected, nil
	}

	dev, err := m.devRunning(ctx)
	if err != nil {
		return "", err
	}
	prod, err := m.prodRunning(ctx)
	if err != nil {
		return "", err
	}
	return domain.ResolveEnvironment("", dev, prod)
}

func (m *Manager) devRunning(ctx context.Context) (bool, error) {
	containers, err := m.deps.Engine.ListContainers(ctx, engine.ListOptions{
		Labels: map[string]string{engine.LabelComposeProject: m.settings.ProjectName},
	})
	if err != nil {
		return false, err
	}
	for _, c := range containers {
		if c.Status == engine.ContainerStatusRunning {
			return true, nil
		}
	}
	return false, nil
}

func (m *Manager) prodRunning(ctx context.Context) (bool, error) {
	swarm, err := m.deps.Engine.SwarmStatus(ctx)
	if err != nil {
		return false, err
	}
	if !swarm.Active() || !swarm.ControlAvailable {
		return false, nil
	}
	services, err := m.deps.Engine.ListServices(ctx, m.settings.StackName)
	if err != nil {
		return false, err
	}
	return len(services) > 0, nil
}

// =============================================================================
// Migrations
// =============================================================================

// Migrate applies pending schema migrations.
func (m *Manager) Migrate(ctx context.Context) error {
	env, err := m.Environment(ctx)
	if err != nil {
		return err
	}
	m.deps.Console.Infof("Applying migrations (%s)", env)
	if err := m.runInApp(ctx, env, "migrate", m.settings.MigrateCommand); err != nil {
		return err
	}
	m.deps.Console.Successf("Migrations applied")
	return nil
}

// Status prints the current schema revision. It changes nothing.
func (m *Manager) Status(ctx context.Context) error {
	env, err := m.Environment(ctx)
	if err != nil {
		return err
	}
	m.deps.Console.Infof("Migration status (%s)", env)
	return m.runInApp(ctx, env, "status", m.settings.StatusCommand)
}

// Rollback reverts the last migration after confirmation.
func (m *Manager) Rollback(ctx context.Context) error {
	env, err := m.Environment(ctx)
	if err != nil {
		return err
	}

	ok, err := m.deps.Prompter.Confirm(ctx, fmt.Sprintf("Roll back the last migration in %s?", env))
	if err != nil {
		return err
	}
	if !ok {
		m.deps.Console.Warnf("Rollback cancelled")
		return nil
	}

	if err := m.runInApp(ctx, env, "rollback", m.settings.RollbackCommand); err != nil {
		return err
	}
	m.deps.Console.Successf("Rolled back one migration")
	return nil
}

// runInApp runs cmd with the application's code and configuration: inside
// the running dev container, or in a one-shot helper from the running prod
// image attached to the stack network.
func (m *Manager) runInApp(ctx context.Context, env domain.Environment, purpose string, cmd []string) error {
	if len(cmd) == 0 {
		return fmt.Errorf("%w: no %s command configured", ErrMigrationFailed, purpose)
	}

	var err error
	switch env {
	case domain.EnvironmentDev:
		var c *engine.ContainerInfo
		c, err = m.findContainer(ctx, map[string]string{
			engine.LabelComposeProject: m.settings.ProjectName,
			engine.LabelComposeService: m.settings.AppService,
		})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrAppNotRunning, err)
		}
		err = m.deps.Engine.Exec(ctx, c.ID, engine.ExecSpec{
			Cmd:    cmd,
			Stdout: m.deps.Streams.Out,
			Stderr: m.deps.Streams.Err,
		})

	case domain.EnvironmentProd:
		var spec engine.ContainerSpec
		spec, err = m.helperSpec(ctx, purpose, cmd)
		if err != nil {
			return err
		}
		m.logger().Debug("starting helper container", "name", spec.Name, "image", spec.Image)
		err = m.deps.Engine.RunOnce(ctx, spec, engine.Streams{Out: m.deps.Streams.Out, Err: m.deps.Streams.Err})

	default:
		return fmt.Errorf("%w: %q", domain.ErrUnknownEnvironment, env)
	}

	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrMigrationFailed, strings.Join(cmd, " "), err)
	}
	return nil
}

func (m *Manager) helperSpec(ctx context.Context, purpose string, cmd []string) (engine.ContainerSpec, error) {
	services, err := m.deps.Engine.ListServices(ctx, m.settings.StackName)
	if err != nil {
		return engine.ContainerSpec{}, err
	}
	appName := engine.ServiceName(m.settings.StackName, m.settings.AppService)

	var image string
	for _, svc := range services {
		if svc.Name == appName {
			image = svc.Image
		}
	}
	if image == "" {
		return engine.ContainerSpec{}, fmt.Errorf("%w: %s", ErrAppNotRunning, appName)
	}

	vars, err := godotenv.Read(m.settings.EnvFile)
	if err != nil {
		return engine.ContainerSpec{}, fmt.Errorf("reading %s: %w", m.settings.EnvFile, err)
	}

	spec := engine.ContainerSpec{
		Name:    fmt.Sprintf("%s-%s-%s", m.settings.StackName, purpose, uuid.NewString()[:8]),
		Image:   image,
		Command: cmd,
		Env:     vars,
		Labels: map[string]string{
			engine.LabelManaged: "true",
			engine.LabelPurpose: purpose,
		},
	}
	if m.settings.Network != "" {
		spec.Networks = []string{m.settings.Network}
	}
	return spec, nil
}

// =============================================================================
// Backup and Restore
// =============================================================================

// Backup dumps the database into a new backup_YYYYMMDD_HHMMSS.sql file in
// the backup directory and returns its path. Existing files are never
// overwritten and nothing is left behind on failure.
func (m *Manager) Backup(ctx context.Context) (string, error) {
	env, err := m.Environment(ctx)
	if err != nil {
		return "", err
	}
	c, err := m.dataContainer(ctx, env)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(m.settings.BackupDir, 0o750); err != nil {
		return "", fmt.Errorf("creating backup directory: %w", err)
	}

	tmp, err := os.CreateTemp(m.settings.BackupDir, ".backup-*.tmp")
	if err != nil {
		return "", fmt.Errorf("creating backup file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	m.deps.Console.Infof("Backing up %s (%s)", m.settings.DBName, env)

	var stderr bytes.Buffer
	err = m.deps.Engine.Exec(ctx, c.ID, engine.ExecSpec{
		Cmd:    []string{"pg_dump", "--username", m.settings.DBUser, "--dbname", m.settings.DBName, "--no-owner"},
		Stdout: tmp,
		Stderr: &stderr,
	})
	closeErr := tmp.Close()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("pg_dump: %s: %w", msg, err)
		}
		return "", fmt.Errorf("pg_dump: %w", err)
	}
	if closeErr != nil {
		return "", fmt.Errorf("writing backup: %w", closeErr)
	}

	info, err := os.Stat(tmpPath)
	if err != nil {
		return "", err
	}
	if info.Size() == 0 {
		return "", ErrEmptyBackup
	}

	final := filepath.Join(m.settings.BackupDir, domain.BackupFileName(m.now()))
	if err := os.Link(tmpPath, final); err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("%w: %s", ErrBackupExists, final)
		}
		return "", fmt.Errorf("saving backup: %w", err)
	}

	m.deps.Console.Successf("Backup written to %s", final)
	return final, nil
}

// Restore loads a backup file into the database after confirmation.
func (m *Manager) Restore(ctx context.Context, path string) error {
	if !domain.IsBackupFileName(filepath.Base(path)) {
		return fmt.Errorf("%w: %s (want backup_YYYYMMDD_HHMMSS.sql)", ErrNotABackup, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening backup: %w", err)
	}
	defer f.Close()

	env, err := m.Environment(ctx)
	if err != nil {
		return err
	}
	c, err := m.dataContainer(ctx, env)
	if err != nil {
		return err
	}

	ok, err := m.deps.Prompter.Confirm(ctx, fmt.Sprintf("Restore %s into %s (%s)? Existing data may be overwritten", filepath.Base(path), m.settings.DBName, env))
	if err != nil {
		return err
	}
	if !ok {
		m.deps.Console.Warnf("Restore cancelled")
		return nil
	}

	err = m.deps.Engine.Exec(ctx, c.ID, engine.ExecSpec{
		Cmd:    []string{"psql", "--username", m.settings.DBUser, "--dbname", m.settings.DBName, "--set", "ON_ERROR_STOP=1", "--quiet"},
		Stdin:  f,
		Stdout: m.deps.Streams.Out,
		Stderr: m.deps.Streams.Err,
	})
	if err != nil {
		return fmt.Errorf("psql: %w", err)
	}

	m.deps.Console.Successf("Restored %s", filepath.Base(path))
	return nil
}

func (m *Manager) dataContainer(ctx context.Context, env domain.Environment) (*engine.ContainerInfo, error) {
	labels := map[string]string{
		engine.LabelComposeProject: m.settings.ProjectName,
		engine.LabelComposeService: m.settings.DataService,
	}
	if env == domain.EnvironmentProd {
		labels = map[string]string{
			engine.LabelStackNamespace: m.settings.StackName,
			engine.LabelSwarmService:   engine.ServiceName(m.settings.StackName, m.settings.DataService),
		}
	}

	c, err := m.findContainer(ctx, labels)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDataStoreNotRunning, err)
	}
	return c, nil
}

func (m *Manager) findContainer(ctx context.Context, labels map[string]string) (*engine.ContainerInfo, error) {
	containers, err := m.deps.Engine.ListContainers(ctx, engine.ListOptions{Labels: labels})
	if err != nil {
		return nil, err
	}
	for _, c := range containers {
		if c.Status == engine.ContainerStatusRunning {
			return &c, nil
		}
	}
	return nil, engine.ErrContainerNotRunning
}
