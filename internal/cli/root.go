// Package cli implements the scholia command line interface.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/scholia/scholia/internal/config"
	"github.com/scholia/scholia/internal/logging"
)

// Execute runs the root command.
func Execute(version string) error {
	return newRootCmd(version).Execute()
}

func newRootCmd(version string) *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:           "scholia",
		Short:         "Annotation resolution over a replicated room log",
		Long:          "scholia resolves annotation markers from a replicated room log into a filtered, navigable index.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file path")

	cmd.AddCommand(
		newReplayCmd(&configFile),
	)
	return cmd
}

func loadConfig(configFile string) (*config.Config, error) {
	loader := config.NewLoader()
	if configFile != "" {
		loader.SetConfigFile(configFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	return cfg, nil
}
