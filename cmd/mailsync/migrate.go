package main

import (
	"log/slog"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/vipul43/mailsync/internal/config"
	"github.com/vipul43/mailsync/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(func(db *gorm.DB) error {
			if err := database.RunMigrations(db); err != nil {
				return err
			}
			slog.Info("migrations applied successfully")
			return nil
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(func(db *gorm.DB) error {
			if err := database.RollbackMigration(db); err != nil {
				return err
			}
			slog.Info("rolled back one migration")
			return nil
		})
	},
}

func init() {
	migrateCmd.AddCommand(migrateDownCmd)
}

// withDB runs fn against a bare connection, without wiring the services.
func withDB(fn func(db *gorm.DB) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer func() { _ = database.Close(db) }()
	return fn(db)
}
