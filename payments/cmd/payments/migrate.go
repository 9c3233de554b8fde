package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"policypay/internal/dbmigrate"
	"policypay/payments/internal/config"
	"policypay/payments/internal/infrastructure/database"
	"policypay/payments/migrations"
)

func migrateCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the payments schema",
	}
	for _, dir := range []dbmigrate.Direction{dbmigrate.Up, dbmigrate.Down} {
		cmd.AddCommand(&cobra.Command{
			Use:   string(dir),
			Short: fmt.Sprintf("Migrate the payments database %s", dir),
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, logger, err := setup(*configPath)
				if err != nil {
					return err
				}
				defer logger.Sync()
				return migrate(cfg, dir, logger)
			},
		})
	}
	return cmd
}

func dbConfig(cfg *config.Config) database.DBConfig {
	return database.DBConfig{
		Host:     cfg.DBConfig.Host,
		Port:     cfg.DBConfig.Port,
		User:     cfg.DBConfig.User,
		Password: cfg.DBConfig.Password,
		DBName:   cfg.DBConfig.Name,
		SSLMode:  cfg.DBConfig.SSLMode,
	}
}

func migrate(cfg *config.Config, dir dbmigrate.Direction, logger *zap.Logger) error {
	logger.Info("Running database migrations...", zap.String("direction", string(dir)))
	if err := dbmigrate.Run(migrations.FS, dbConfig(cfg).URL(), dir, logger); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}
	return nil
}
