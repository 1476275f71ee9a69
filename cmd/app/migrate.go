package main

import (
	"fmt"

	"defect-inspection/internal/config"
	pg "defect-inspection/internal/infra/db/postgres"
	"defect-inspection/internal/infra/logging"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(configFile, devMode)
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		logger := logging.New(cfg.Log, cfg.Runtime.Dev)

		pool, err := pg.NewPgxPool(cmd.Context(), &cfg.Database)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := pg.Migrate(cmd.Context(), pool); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logger.Info().Msg("database schema applied")
		return nil
	},
}
