/*
Package main provides the CLI commands for managing database migrations.
This includes commands for applying and rolling back migrations.
*/

package main

import (
	"database/sql"
	"fmt"

	migrate "github.com/rubenv/sql-migrate"
	"github.com/spf13/cobra"

	"github.com/jerry-enebeli/swapflow"
	"github.com/jerry-enebeli/swapflow/database"
)

const migrationSchema = "swapflow"

var migrations = migrate.EmbedFileSystemMigrationSource{
	FileSystem: swapflow.SQLFiles,
	Root:       "sql",
}

// migrateCommands creates the root command for migration-related operations.
func migrateCommands(s *swapflowInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "run swapflow database migrations",
	}

	cmd.AddCommand(migrateDirectionCommand(s, "up", migrate.Up))
	cmd.AddCommand(migrateDirectionCommand(s, "down", migrate.Down))

	return cmd
}

func migrateDirectionCommand(s *swapflowInstance, use string, direction migrate.MigrationDirection) *cobra.Command {
	return &cobra.Command{
		Use: use,
		RunE: func(cmd *cobra.Command, args []string) error {
			if s.cnf.DataSource.Dns == "" {
				return fmt.Errorf("no data source configured, nothing to migrate")
			}

			db, err := database.ConnectDB(s.cnf.DataSource.Dns)
			if err != nil {
				return fmt.Errorf("error connecting to database: %w", err)
			}
			defer db.Close()

			n, err := runMigrations(db, direction)
			if err != nil {
				return fmt.Errorf("error migrating %s: %w", use, err)
			}
			fmt.Printf("Applied %d migrations %s!\n", n, use)
			return nil
		},
	}
}

func runMigrations(db *sql.DB, direction migrate.MigrationDirection) (int, error) {
	if _, err := db.Exec("CREATE SCHEMA IF NOT EXISTS " + migrationSchema); err != nil {
		return 0, err
	}
	migrate.SetSchema(migrationSchema)
	return migrate.Exec(db, "postgres", migrations, direction)
}
