package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete speki configuration
type Config struct {
	Intelligence IntelligenceConfig `mapstructure:"intelligence"`
	Stages       StagesConfig       `mapstructure:"stages"`
	State        StateConfig        `mapstructure:"state"`
	Server       ServerConfig       `mapstructure:"server"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Queue        QueueConfig        `mapstructure:"queue"`
	Paths        PathsConfig        `mapstructure:"paths"`
}

// IntelligenceConfig controls how the external intelligence CLI is invoked
type IntelligenceConfig struct {
	// Command is the executable name or path (default: "claude")
	Command string `mapstructure:"command"`
	// SkipPermissions passes --dangerously-skip-permissions so the CLI can
	// read the source document and write the draft without prompting
	SkipPermissions bool `mapstructure:"skip_permissions"`
	// Model is passed as --model when non-empty
	Model string `mapstructure:"model"`
}

// StagesConfig controls the generation and review stages
type StagesConfig struct {
	// GenerationTimeoutMinutes bounds a single generation invocation (0 = no limit)
	GenerationTimeoutMinutes int `mapstructure:"generation_timeout_minutes"`
	// ReviewTimeoutMinutes bounds a single review invocation (0 = no limit)
	ReviewTimeoutMinutes int `mapstructure:"review_timeout_minutes"`
	// SkipReview completes runs after generation with a SKIPPED verdict
	SkipReview bool `mapstructure:"skip_review"`
}

// StateConfig selects the state store backend
type StateConfig struct {
	// Backend is "file" (one JSON file per artifact) or "sqlite"
	Backend string `mapstructure:"backend"`
	// SQLitePath is the database file, relative to the workspace data dir when not absolute
	SQLitePath string `mapstructure:"sqlite_path"`
}

// ServerConfig controls `speki serve`
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	// ShutdownTimeoutSeconds bounds graceful shutdown, including waiting for in-flight runs
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// LoggingConfig controls debug logging
type LoggingConfig struct {
	// Enabled writes JSON logs to <workspace>/.speki/logs/debug.log
	Enabled bool `mapstructure:"enabled"`
	// Level is one of debug, info, warn, error
	Level string `mapstructure:"level"`
	// MaxSizeMB is the rotation threshold
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of rotated files kept
	MaxBackups int `mapstructure:"max_backups"`
	// Compress gzips rotated files
	Compress bool `mapstructure:"compress"`
}

// QueueConfig controls the hand-off of approved tasks
type QueueConfig struct {
	// AutoEnqueue adds tasks to the execution queue when a draft is approved
	AutoEnqueue bool `mapstructure:"auto_enqueue"`
}

// PathsConfig controls where speki looks for and stores files
type PathsConfig struct {
	// DataDir is the per-workspace directory name (default: ".speki")
	DataDir string `mapstructure:"data_dir"`
	// SpecPatterns are glob patterns, relative to the workspace, used to list
	// candidate source documents
	SpecPatterns []string `mapstructure:"spec_patterns"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Intelligence: IntelligenceConfig{
			Command:         "claude",
			SkipPermissions: true,
		},
		Stages: StagesConfig{
			GenerationTimeoutMinutes: 30,
			ReviewTimeoutMinutes:     15,
		},
		State: StateConfig{
			Backend:    "file",
			SQLitePath: "state.db",
		},
		Server: ServerConfig{
			Addr:                   "127.0.0.1:3005",
			ShutdownTimeoutSeconds: 30,
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Queue: QueueConfig{
			AutoEnqueue: true,
		},
		Paths: PathsConfig{
			DataDir:      ".speki",
			SpecPatterns: []string{"specs/**.md", "docs/**.md", "*.md"},
		},
	}
}

// GenerationTimeout returns the generation timeout as a time.Duration
func (c *StagesConfig) GenerationTimeout() time.Duration {
	return time.Duration(c.GenerationTimeoutMinutes) * time.Minute
}

// ReviewTimeout returns the review timeout as a time.Duration
func (c *StagesConfig) ReviewTimeout() time.Duration {
	return time.Duration(c.ReviewTimeoutMinutes) * time.Minute
}

// ShutdownTimeout returns the shutdown timeout as a time.Duration
func (c *ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// ResolveSQLitePath returns the database path for a workspace data dir
func (c *StateConfig) ResolveSQLitePath(dataDir string) string {
	if filepath.IsAbs(c.SQLitePath) {
		return c.SQLitePath
	}
	return filepath.Join(dataDir, c.SQLitePath)
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Intelligence defaults
	viper.SetDefault("intelligence.command", defaults.Intelligence.Command)
	viper.SetDefault("intelligence.skip_permissions", defaults.Intelligence.SkipPermissions)
	viper.SetDefault("intelligence.model", defaults.Intelligence.Model)

	// Stage defaults
	viper.SetDefault("stages.generation_timeout_minutes", defaults.Stages.GenerationTimeoutMinutes)
	viper.SetDefault("stages.review_timeout_minutes", defaults.Stages.ReviewTimeoutMinutes)
	viper.SetDefault("stages.skip_review", defaults.Stages.SkipReview)

	// State defaults
	viper.SetDefault("state.backend", defaults.State.Backend)
	viper.SetDefault("state.sqlite_path", defaults.State.SQLitePath)

	// Server defaults
	viper.SetDefault("server.addr", defaults.Server.Addr)
	viper.SetDefault("server.shutdown_timeout_seconds", defaults.Server.ShutdownTimeoutSeconds)

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)

	// Queue defaults
	viper.SetDefault("queue.auto_enqueue", defaults.Queue.AutoEnqueue)

	// Paths defaults
	viper.SetDefault("paths.data_dir", defaults.Paths.DataDir)
	viper.SetDefault("paths.spec_patterns", defaults.Paths.SpecPatterns)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "speki")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".speki"
	}
	return filepath.Join(home, ".config", "speki")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
