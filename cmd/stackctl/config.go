package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/artpar/stackctl/internal/core/topology"
	"github.com/artpar/stackctl/internal/shell/database"
	"github.com/artpar/stackctl/internal/shell/lifecycle"
	"github.com/artpar/stackctl/internal/shell/preflight"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all configuration. Every key is flat so the same names work
// in the .env file and as environment variables.
type Config struct {
	App      AppConfig      `mapstructure:",squash"`
	Database DatabaseConfig `mapstructure:",squash"`
	Stack    StackConfig    `mapstructure:",squash"`
	Rollout  RolloutConfig  `mapstructure:",squash"`
	Docker   DockerConfig   `mapstructure:",squash"`
	Log      LogConfig      `mapstructure:",squash"`

	// EnvFile is the configuration file the values were read from.
	EnvFile string `mapstructure:"-"`
}

// AppConfig holds the application's own settings. stackctl only checks
// that they are present; the application reads them itself.
type AppConfig struct {
	BotToken      string `mapstructure:"bot_token"`
	OpenAIAPIKey  string `mapstructure:"openai_api_key"`
	DatabaseURL   string `mapstructure:"database_url"`
	RedisURL      string `mapstructure:"redis_url"`
	RedisPassword string `mapstructure:"redis_password"`
}

// DatabaseConfig holds data-store credentials and maintenance commands.
type DatabaseConfig struct {
	User            string `mapstructure:"postgres_user"`
	Password        string `mapstructure:"postgres_password"`
	Name            string `mapstructure:"postgres_db"`
	BackupDir       string `mapstructure:"stackctl_backup_dir"`
	MigrateCommand  string `mapstructure:"stackctl_migrate_command"`
	StatusCommand   string `mapstructure:"stackctl_migrate_status_command"`
	RollbackCommand string `mapstructure:"stackctl_migrate_rollback_command"`
}

// StackConfig describes the application stack in both environments.
type StackConfig struct {
	ImageName     string `mapstructure:"stackctl_image"`
	BuildContext  string `mapstructure:"stackctl_build_context"`
	Dockerfile    string `mapstructure:"stackctl_dockerfile"`
	ProjectName   string `mapstructure:"stackctl_dev_project"`
	StackName     string `mapstructure:"stackctl_stack"`
	DevFile       string `mapstructure:"stackctl_dev_file"`
	ProdFile      string `mapstructure:"stackctl_prod_file"`
	ProdNetwork   string `mapstructure:"stackctl_prod_network"`
	AppService    string `mapstructure:"stackctl_app_service"`
	DataService   string `mapstructure:"stackctl_data_service"`
	CacheService  string `mapstructure:"stackctl_cache_service"`
	Replicas      uint64 `mapstructure:"stackctl_replicas"`
	AdvertiseAddr string `mapstructure:"stackctl_advertise_addr"`
}

// RolloutConfig holds the rolling update policy of the application service.
type RolloutConfig struct {
	Parallelism     uint64        `mapstructure:"stackctl_update_parallelism"`
	Delay           time.Duration `mapstructure:"stackctl_update_delay"`
	Monitor         time.Duration `mapstructure:"stackctl_update_monitor"`
	Order           string        `mapstructure:"stackctl_update_order"`
	FailureAction   string        `mapstructure:"stackctl_update_failure_action"`
	MaxFailureRatio float32       `mapstructure:"stackctl_update_max_failure_ratio"`
	Timeout         time.Duration `mapstructure:"stackctl_rollout_timeout"`
	PollInterval    time.Duration `mapstructure:"stackctl_rollout_poll_interval"`
}

// Policy returns the update policy for rendering.
func (c RolloutConfig) Policy() topology.UpdatePolicy {
	return topology.UpdatePolicy{
		Parallelism:     c.Parallelism,
		Delay:           c.Delay,
		Monitor:         c.Monitor,
		Order:           c.Order,
		FailureAction:   c.FailureAction,
		MaxFailureRatio: c.MaxFailureRatio,
	}
}

// DockerConfig holds engine client configuration.
type DockerConfig struct {
	Host   string `mapstructure:"stackctl_docker_host"`
	Binary string `mapstructure:"stackctl_docker_binary"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"stackctl_log_level"`
	Format string `mapstructure:"stackctl_log_format"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from the .env file and the environment.
// A missing file is not an error here; preflight reports it for commands
// that need it.
func LoadConfig(envFile string) (*Config, error) {
	v := viper.New()

	// Application settings
	v.SetDefault("bot_token", "")
	v.SetDefault("openai_api_key", "")
	v.SetDefault("database_url", "")
	v.SetDefault("redis_url", "")
	v.SetDefault("redis_password", "")

	// Database defaults
	v.SetDefault("postgres_user", "")
	v.SetDefault("postgres_password", "")
	v.SetDefault("postgres_db", "")
	v.SetDefault("stackctl_backup_dir", "./backups")
	v.SetDefault("stackctl_migrate_command", "alembic upgrade head")
	v.SetDefault("stackctl_migrate_status_command", "alembic current")
	v.SetDefault("stackctl_migrate_rollback_command", "alembic downgrade -1")

	// Stack defaults
	v.SetDefault("stackctl_image", "nutrition-bot")
	v.SetDefault("stackctl_build_context", ".")
	v.SetDefault("stackctl_dockerfile", "Dockerfile")
	v.SetDefault("stackctl_dev_project", "nutrition-bot-dev")
	v.SetDefault("stackctl_stack", "nutrition-bot")
	v.SetDefault("stackctl_dev_file", "docker-compose.yml")
	v.SetDefault("stackctl_prod_file", "docker-stack.yml")
	v.SetDefault("stackctl_prod_network", "backend")
	v.SetDefault("stackctl_app_service", "bot")
	v.SetDefault("stackctl_data_service", "postgres")
	v.SetDefault("stackctl_cache_service", "redis")
	v.SetDefault("stackctl_replicas", 2)
	v.SetDefault("stackctl_advertise_addr", "")

	// Rollout defaults
	v.SetDefault("stackctl_update_parallelism", 1)
	v.SetDefault("stackctl_update_delay", "10s")
	v.SetDefault("stackctl_update_monitor", "30s")
	v.SetDefault("stackctl_update_order", topology.OrderStartFirst)
	v.SetDefault("stackctl_update_failure_action", topology.FailureActionRollback)
	v.SetDefault("stackctl_update_max_failure_ratio", 0)
	v.SetDefault("stackctl_rollout_timeout", "10m")
	v.SetDefault("stackctl_rollout_poll_interval", "2s")

	// Engine and logging defaults
	v.SetDefault("stackctl_docker_host", "")
	v.SetDefault("stackctl_docker_binary", "docker")
	v.SetDefault("stackctl_log_level", "warn")
	v.SetDefault("stackctl_log_format", "text")

	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Process environment wins over the file, the way compose resolves it.
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.EnvFile = envFile

	if cfg.Stack.Replicas == 0 {
		return nil, fmt.Errorf("stackctl_replicas must be at least 1")
	}
	if err := cfg.Rollout.Policy().Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Required returns the settings preflight insists on.
func (c *Config) Required() []preflight.Setting {
	return []preflight.Setting{
		{Key: "BOT_TOKEN", Value: c.App.BotToken},
		{Key: "OPENAI_API_KEY", Value: c.App.OpenAIAPIKey},
		{Key: "DATABASE_URL", Value: c.App.DatabaseURL},
		{Key: "POSTGRES_USER", Value: c.Database.User},
		{Key: "POSTGRES_PASSWORD", Value: c.Database.Password},
		{Key: "POSTGRES_DB", Value: c.Database.Name},
		{Key: "REDIS_URL", Value: c.App.RedisURL},
		{Key: "REDIS_PASSWORD", Value: c.App.RedisPassword},
	}
}

// Interpolation returns the variables ${VAR} references in descriptors
// resolve to: the .env file verbatim, overridden by the process
// environment.
func (c *Config) Interpolation() (map[string]string, error) {
	vars := map[string]string{}
	if c.EnvFile != "" {
		fileVars, err := godotenv.Read(c.EnvFile)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reading %s: %w", c.EnvFile, err)
		}
		for k, val := range fileVars {
			vars[k] = val
		}
	}
	for _, kv := range os.Environ() {
		if k, val, ok := strings.Cut(kv, "="); ok {
			vars[k] = val
		}
	}
	return vars, nil
}

// LifecycleSettings maps the configuration onto the lifecycle managers.
func (c *Config) LifecycleSettings(env map[string]string) lifecycle.Settings {
	return lifecycle.Settings{
		AppService:      c.Stack.AppService,
		DataService:     c.Stack.DataService,
		CacheService:    c.Stack.CacheService,
		ImageName:       c.Stack.ImageName,
		BuildContext:    c.Stack.BuildContext,
		Dockerfile:      c.Stack.Dockerfile,
		ProjectName:     c.Stack.ProjectName,
		StackName:       c.Stack.StackName,
		DevFile:         c.Stack.DevFile,
		ProdFile:        c.Stack.ProdFile,
		EnvFile:         c.EnvFile,
		Env:             env,
		DefaultReplicas: c.Stack.Replicas,
		AdvertiseAddr:   c.Stack.AdvertiseAddr,
		Policy:          c.Rollout.Policy(),
		RolloutTimeout:  c.Rollout.Timeout,
	}
}

// DatabaseSettings maps the configuration onto the database module.
func (c *Config) DatabaseSettings() database.Settings {
	return database.Settings{
		AppService:      c.Stack.AppService,
		DataService:     c.Stack.DataService,
		ProjectName:     c.Stack.ProjectName,
		StackName:       c.Stack.StackName,
		Network:         topology.Network{Key: c.Stack.ProdNetwork}.EngineName(c.Stack.StackName),
		EnvFile:         c.EnvFile,
		BackupDir:       c.Database.BackupDir,
		DBUser:          c.Database.User,
		DBName:          c.Database.Name,
		MigrateCommand:  strings.Fields(c.Database.MigrateCommand),
		StatusCommand:   strings.Fields(c.Database.StatusCommand),
		RollbackCommand: strings.Fields(c.Database.RollbackCommand),
	}
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
// Diagnostics go to w (stderr) so they never mix with command output.
func SetupLogger(cfg *Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelWarn
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}
