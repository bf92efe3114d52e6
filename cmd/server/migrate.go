package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hongminglow/savedu/internal/config"
	"github.com/hongminglow/savedu/internal/storage/postgres"
)

func migrateCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the database tables if they do not exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger := newLogger(cfg)

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			store, err := postgres.Open(ctx, cfg.DatabaseURL, true)
			if err != nil {
				return fmt.Errorf("migrate database: %w", err)
			}
			store.Close()
			logger.Info("database schema is up to date")
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Time allowed for connecting and migrating")
	return cmd
}
