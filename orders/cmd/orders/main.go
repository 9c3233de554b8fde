package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"policypay/internal/logging"
	"policypay/orders/internal/config"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "orders",
		Short:         "Orders service: policy orders that activate when their payment completes",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd, configPath)
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "optional config file; environment variables take precedence")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(migrateCmd(&configPath))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the payment events consumer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd, *configPath)
		},
	}
}

func setup(configPath string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("error loading configuration: %w", err)
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create zap logger: %w", err)
	}
	return cfg, logger, nil
}
