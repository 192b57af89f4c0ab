package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/rollcall/internal/database/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.Database.URL == "" {
			return errors.New("DATABASE_URL environment variable is required")
		}

		pool, err := postgres.Initialize(cmd.Context(), &cfg.Database, log)
		if err != nil {
			return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
		}
		defer pool.Close()

		applied, err := pool.MigrationsApplied(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Database is up to date (%d migrations applied)\n", len(applied))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
