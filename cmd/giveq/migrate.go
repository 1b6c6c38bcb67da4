package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/giveq/giveq/internal/config"
	"github.com/giveq/giveq/internal/debug"
	"github.com/giveq/giveq/internal/storage/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	Long: `Applies the giveq schema to the configured database. Every statement
is idempotent (CREATE IF NOT EXISTS), so migrate is safe to re-run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Resolve the URL directly so migrate works before a full
		// giveq.yaml exists.
		url := config.DatabaseURLFor(configDir)
		if url == "" {
			cfg, _, err := config.Load(configDir)
			if err != nil {
				return err
			}
			url = cfg.DatabaseURL
		}
		if url == "" {
			return fmt.Errorf("no database configured: set database-url in giveq.yaml or GIVEQ_DATABASE_URL")
		}

		store, err := postgres.Open(rootCtx, url)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer store.Close()

		if err := store.Migrate(rootCtx); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		debug.PrintNormal("Schema is up to date\n")
		return nil
	},
}
