package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/QalaTech/speki-sub001/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify speki configuration",
	Long: `View or modify speki configuration.

Without arguments, displays the current configuration.
Use subcommands to modify settings or create a config file.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the user's config file.

Keys use dot notation, e.g.:
  speki config set state.backend sqlite
  speki config set stages.review_timeout_minutes 20

Valid keys:
  intelligence.command                - Intelligence CLI executable
  intelligence.model                  - Model passed to the CLI (empty for its default)
  intelligence.skip_permissions       - Let the CLI read and write files without prompting (true/false)
  stages.generation_timeout_minutes   - Generation time limit (0 = none)
  stages.review_timeout_minutes       - Review time limit (0 = none)
  stages.skip_review                  - Complete runs without review (true/false)
  state.backend                       - State store: file or sqlite
  state.sqlite_path                   - SQLite database, relative to the data dir
  server.addr                         - Listen address for 'speki serve'
  server.shutdown_timeout_seconds     - Time to wait for in-flight runs on shutdown
  logging.enabled                     - Write the debug log (true/false)
  logging.level                       - debug, info, warn or error
  queue.auto_enqueue                  - Queue tasks on approval (true/false)`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/speki/config.yaml with all available options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

var configOutput string

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)

	for _, c := range []*cobra.Command{configCmd, configShowCmd} {
		c.Flags().StringVarP(&configOutput, "output", "o", "yaml", "output format (yaml, json)")
	}
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	if _, err := config.Load(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	out := cmd.OutOrStdout()

	if configOutput == "yaml" {
		// Show where config is being read from
		if viper.ConfigFileUsed() != "" {
			fmt.Fprintf(out, "# Config file: %s\n", viper.ConfigFileUsed())
		} else {
			fmt.Fprintf(out, "# Config file: (none - using defaults)\n")
		}
	}

	settings := viper.AllSettings()
	delete(settings, "config")
	return writeStructured(out, configOutput, settings)
}

// settableKeys maps each key accepted by 'config set' to its value type.
var settableKeys = map[string]string{
	"intelligence.command":              "string",
	"intelligence.model":                "string",
	"intelligence.skip_permissions":     "bool",
	"stages.generation_timeout_minutes": "int",
	"stages.review_timeout_minutes":     "int",
	"stages.skip_review":                "bool",
	"state.backend":                     "string",
	"state.sqlite_path":                 "string",
	"server.addr":                       "string",
	"server.shutdown_timeout_seconds":   "int",
	"logging.enabled":                   "bool",
	"logging.level":                     "string",
	"queue.auto_enqueue":                "bool",
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	value := args[1]

	keyType, ok := settableKeys[key]
	if !ok {
		return fmt.Errorf("unknown configuration key: %s\nRun 'speki config set --help' to see valid keys", key)
	}

	// Validate the value based on type
	var typedValue any
	switch keyType {
	case "string":
		typedValue = value
	case "bool":
		if value != "true" && value != "false" {
			return fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		typedValue = value == "true"
	case "int":
		intVal, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for %s: expected integer", key)
		}
		if intVal < 0 {
			return fmt.Errorf("invalid value for %s: must be non-negative", key)
		}
		typedValue = intVal
	}

	// Reject values the loaded config would refuse
	previous := viper.Get(key)
	viper.Set(key, typedValue)
	if _, err := config.Load(); err != nil {
		viper.Set(key, previous)
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}

	// Ensure config directory exists
	configDir := config.ConfigDir()
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Write to config file
	configFile := config.ConfigFile()
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Set %s = %v\n", key, typedValue)
	fmt.Fprintf(out, "Config saved to %s\n", configFile)

	return nil
}

const defaultConfigContent = `# speki configuration

# External intelligence CLI used for generation and review
intelligence:
  command: claude
  # Allow the CLI to read the document and write the draft without prompting
  skip_permissions: true
  # model: ""

# Stage time limits in minutes (0 = no limit)
stages:
  generation_timeout_minutes: 30
  review_timeout_minutes: 15
  skip_review: false

# Where decomposition state is kept: file or sqlite
state:
  backend: file
  sqlite_path: state.db

# 'speki serve'
server:
  addr: 127.0.0.1:3005
  shutdown_timeout_seconds: 30

# Debug log at <workspace>/.speki/logs/debug.log
logging:
  enabled: true
  level: info
  max_size_mb: 10
  max_backups: 3
  compress: false

# Queue approved tasks for the task loop
queue:
  auto_enqueue: true

paths:
  data_dir: .speki
  # Documents listed by 'speki decompose list'
  spec_patterns:
    - "specs/**.md"
    - "docs/**.md"
    - "*.md"
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := config.ConfigDir()
	configFile := config.ConfigFile()

	// Check if config file already exists
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'speki config set' to modify values", configFile)
	}

	// Create config directory
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(configFile, []byte(defaultConfigContent), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created config file at %s\n", configFile)
	fmt.Fprintln(out, "Edit this file to customize speki's behavior.")

	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	configFile := config.ConfigFile()
	out := cmd.OutOrStdout()

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", configFile)
	}

	// Also show config search paths
	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", filepath.Join(config.ConfigDir(), "config.yaml"))
	fmt.Fprintf(out, "  2. ./config.yaml (current directory)\n")
	fmt.Fprintf(out, "\nEnvironment variables: SPEKI_* (e.g., %s)\n", envName("state.backend"))

	return nil
}

// envName returns the environment variable that overrides key.
func envName(key string) string {
	return "SPEKI_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}
