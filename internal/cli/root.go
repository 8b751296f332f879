package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	port       string
	configPath string
)

// Execute runs the CLI.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	envConfig := os.Getenv("CONFIG_PATH")
	if envConfig == "" {
		envConfig = "config/config.yaml"
	}

	cmd := &cobra.Command{
		Use:          "mcq-bot",
		Short:        "Chat bot that posts rotating multiple-choice questions and keeps score",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&port, "port", "", "port to listen on (overrides config and PORT)")
	cmd.PersistentFlags().StringVar(&configPath, "config", envConfig, "path to YAML config")
	cmd.AddCommand(NewStartCmd(&configPath, &port))
	cmd.AddCommand(NewMigrateCmd(&configPath))
	cmd.AddCommand(NewDispenseCmd(&configPath))
	cmd.AddCommand(NewResetRotationCmd(&configPath))
	cmd.AddCommand(NewDedupeCmd(&configPath))
	cmd.AddCommand(NewIntegrityCmd(&configPath))
	cmd.AddCommand(NewIngestCmd(&configPath))
	return cmd
}
