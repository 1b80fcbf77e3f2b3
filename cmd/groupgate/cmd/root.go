// Package cmd provides the CLI commands for groupgate.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/groupgate/groupgate/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "groupgate",
	Short: "groupgate - just-in-time group access",
	Long: `groupgate grants time-bounded membership in security groups that
confer privileges, gated by declarative per-environment policies.

Quick start:
  1. Write a policy file and register it:
     export GROUPGATE_RESOURCE_ENVIRONMENT_DEV=/path/to/dev.yaml
  2. Run: groupgate serve --dev

Configuration:
  Config is loaded from groupgate.yaml in the current directory,
  $HOME/.groupgate/, or /etc/groupgate/.

  Environment variables override config values with the GROUPGATE_
  prefix. Example: GROUPGATE_SERVER_ADDR=:9090

Commands:
  serve       Start the API server
  lint        Validate a policy document
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./groupgate.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
