package cmd

import (
	"strings"

	"github.com/QalaTech/speki-sub001/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "speki",
	Short: "Turn specification documents into reviewed task lists",
	Long: `Speki decomposes a specification document into a structured task list
using an external intelligence CLI, has the draft peer-reviewed, and merges
approved tasks into the workspace's active task list and execution queue.

Runs can be driven from this CLI or over HTTP with 'speki serve'.`,
	SilenceUsage: true,
}

// workspaceFlag is the project directory every command operates on.
var workspaceFlag string

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/speki/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	rootCmd.PersistentFlags().StringVarP(&workspaceFlag, "workspace", "w", ".", "workspace directory")
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("SPEKI")
	// SPEKI_STATE_BACKEND for state.backend
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
