package main

import (
	"fmt"

	"github.com/joshu-sajeev/docqueue/internal/config"
	"github.com/joshu-sajeev/docqueue/internal/storage/postgres"
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations to PostgreSQL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := config.Load(ctx)
			if err != nil {
				return err
			}
			logger := cfg.NewLogger()

			dbCfg, err := postgres.LoadConfigFromEnv(ctx)
			if err != nil {
				return err
			}
			db, err := postgres.ConnectDB(ctx, dbCfg, logger)
			if err != nil {
				return err
			}
			sqlDB, err := db.DB()
			if err != nil {
				return fmt.Errorf("get sql handle: %w", err)
			}
			defer sqlDB.Close()

			if err := postgres.RunMigrations(ctx, db); err != nil {
				return err
			}
			logger.Info("migrations applied")
			return nil
		},
	}
}
