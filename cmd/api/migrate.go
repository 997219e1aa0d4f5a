package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"itinera/api/internal/store"
)

func migrateCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runMigrate(cmd.Context(), *configPath, store.ApplyMigrations)
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back all migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runMigrate(cmd.Context(), *configPath, store.RollbackMigrations)
			},
		},
	)
	return cmd
}

func runMigrate(ctx context.Context, configPath string, apply func(context.Context, *store.DB) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, log, err := setup(configPath)
	if err != nil {
		return err
	}
	defer log.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := apply(ctx, db); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	log.Logger.Info().Msg("migrations complete")
	return nil
}
