package main

import (
	"context"
	"fmt"

	"crisisflow/internal/config"
	"crisisflow/internal/db"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the database schema and exit",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		log := newLogger(cfg.Debug)

		database, err := db.NewDatabase(cfg.Database.Driver, cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("❌ failed to connect to database: %w", err)
		}
		defer database.Close()

		if err := database.AutoMigrate(context.Background()); err != nil {
			return fmt.Errorf("❌ %w", err)
		}
		log.Info("✅ Database schema initialized", "driver", cfg.Database.Driver)
		return nil
	},
}
