package db

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zenGate-Global/palmyra-campus/platform/go/persistence"
)

// Command groups database maintenance helpers.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database maintenance",
	}

	cmd.PersistentFlags().String("database-url", "", "PostgreSQL connection string")
	_ = cmd.MarkPersistentFlagRequired("database-url")

	cmd.AddCommand(migrateCommand())
	return cmd
}

func migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded schema (idempotent)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			databaseURL, err := cmd.Flags().GetString("database-url")
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: databaseURL, ApplicationName: "campus-cli"})
			if err != nil {
				return fmt.Errorf("init pool: %w", err)
			}
			defer persistence.ClosePool(pool)

			if err := persistence.ApplySchema(ctx, pool); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Schema applied.")
			return nil
		},
	}
}
