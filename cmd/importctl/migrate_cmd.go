package main

import (
	"errors"
	"fmt"

	"github.com/mohammadpnp/roster-import/internal/config"
	"github.com/mohammadpnp/roster-import/internal/infrastructure/db/migrations"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newMigrateCmd(load func() (*config.Configuration, error)) *cobra.Command {
	var status bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL is required")
			}

			db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			defer sqlDB.Close()

			if status {
				return migrations.Status(cmd.Context(), sqlDB)
			}
			if err := migrations.Up(cmd.Context(), sqlDB); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
	cmd.Flags().BoolVar(&status, "status", false, "print migration status instead of applying")
	return cmd
}
