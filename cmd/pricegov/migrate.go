package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"pricegov/internal/db"
	"pricegov/internal/logger"
	gormrepository "pricegov/internal/repository/gorm"
	"pricegov/internal/service"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update tables and seed default guardrails",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			conn, err := db.Open(cfg.DB)
			if err != nil {
				return fmt.Errorf("db open: %w", err)
			}
			defer db.Close(conn)
			if err := db.AutoMigrate(conn); err != nil {
				return fmt.Errorf("auto-migrate: %w", err)
			}
			log, err := logger.New(cfg.Log)
			if err != nil {
				return err
			}
			settings := &service.SettingsService{Repo: gormrepository.New(conn.Gorm), Logger: log}
			if err := settings.EnsureDefaults(context.Background()); err != nil {
				return fmt.Errorf("seed guardrails: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrated %s (%s)\n", cfg.DB.DSN, conn.Dialect)
			return nil
		},
	}
}
