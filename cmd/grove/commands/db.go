package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teranos/grove/db"
	"github.com/teranos/grove/errors"
	"github.com/teranos/grove/sym"
)

// statTables are reported by "db stats" in this order.
var statTables = []string{
	"users",
	"tasks",
	"focus_sessions",
	"daily_rollups",
	"scheduled_jobs",
	"job_executions",
	"notifications",
}

func newDbCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: sym.DB + " Manage the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			database, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer database.Close()

			version, err := db.SchemaVersion(database)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s at schema version %s\n", sym.DB, cfg.GetDatabasePath(), version)
			return nil
		},
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show row counts per table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			database, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer database.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s Database Statistics\n", sym.DB)
			fmt.Fprintf(out, "Database Path: %s\n\n", cfg.GetDatabasePath())

			rows := [][]string{{"TABLE", "ROWS"}}
			for _, table := range statTables {
				var n int
				// table names come from statTables, never from input
				if err := database.QueryRowContext(cmd.Context(), "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
					return errors.Wrapf(err, "failed to count %s", table)
				}
				rows = append(rows, []string{table, fmt.Sprint(n)})
			}
			return renderTable(out, rows)
		},
	}

	cmd.AddCommand(migrate, stats)
	return cmd
}
