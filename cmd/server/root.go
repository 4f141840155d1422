package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"chainrelay/internal/platform/config"
	"chainrelay/internal/platform/logger"
)

var (
	configPath string
	cfg        *config.Config
	baseLogger *slog.Logger
)

func rootCmd() *cobra.Command {
	serve := serveCmd()
	root := &cobra.Command{
		Use:          "chainrelay",
		Short:        "End-to-end encrypted chat relay with blockchain notarization",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			cfg = loaded
			baseLogger = logger.New(cfg.LogLevel)
			return nil
		},
		// Running the binary without a subcommand serves.
		RunE: serve.RunE,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (env CHAINRELAY_* overrides)")
	root.Flags().AddFlagSet(serve.Flags())

	root.AddCommand(serve, migrateCmd(), sweepCmd(), usersCmd(), tokenCmd())
	return root
}
