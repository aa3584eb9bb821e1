// Package cmd contains all the commands included in the binary file.
package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// NewRootCommand enables all children commands to read flags from CLI flags, environment variables prefixed with FNHARNESS, or config.yaml (in that order).
func NewRootCommand() *cobra.Command {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix("FNHARNESS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	configPaths := []string{"/etc/fnharness", "$HOME/.fnharness", "."}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	return &cobra.Command{
		Use:   "fnharness",
		Short: "A data-plane harness that feeds decoded elements and timers to bundle endpoints",
		Long: `A data-plane harness that feeds decoded elements and timers to bundle endpoints.

fnharness serves the Fn API data service: batches arriving on a stream are routed by instruction id,
decoded with each endpoint's coder and handed to the endpoint's receiver until every endpoint saw its last element.`,
	}
}
