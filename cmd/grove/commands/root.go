// Package commands implements the grove CLI.
package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/grove/am"
	"github.com/teranos/grove/errors"
	"github.com/teranos/grove/logger"
	"github.com/teranos/grove/sym"
)

// NewRootCmd builds the grove command tree. A fresh tree per call keeps
// flag state from leaking between invocations in tests.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "grove",
		Short: sym.Tree + " grove - focus sessions, streaks and recurring tasks",
		Long: sym.Tree + ` grove runs the background core of the focus app: recurring task
regeneration, points and streak accounting, session anti-cheat validation and
the job scheduler that drives them.

Available commands:
  scheduler  - Run the job scheduler daemon
  jobs       - Inspect, toggle and trigger scheduled jobs
  executions - Show job execution history
  score      - Preview points, streaks and milestones
  recur      - Preview recurrence rules
  am         - Show and validate configuration
  db         - Manage the database

Examples:
  grove scheduler start --metrics-addr :9100
  grove jobs ls
  grove jobs trigger daily.rollup
  grove recur expand "FREQ=WEEKLY;BYDAY=MO,WE;DTSTART=2026-03-02" --count 5`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			verbosity, _ := cmd.Flags().GetCount("verbose")
			jsonLogs, _ := cmd.Flags().GetBool("json-logs")
			var err error
			if verbosity == 0 && os.Getenv("GROVE_LOG_LEVEL") != "" {
				err = logger.Initialize(jsonLogs)
			} else {
				err = logger.InitializeWithLevel(jsonLogs, logger.VerbosityToLevel(verbosity))
			}
			if err != nil {
				return errors.Wrap(err, "failed to initialize logger")
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logger.Cleanup()
		},
	}

	root.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv); GROVE_LOG_LEVEL applies when unset")
	root.PersistentFlags().Bool("json-logs", false, "Emit structured JSON logs")
	root.PersistentFlags().String("config", "", "Config file (default: merged /etc/grove, ~/.grove and project am.toml)")
	root.PersistentFlags().String("db", "", "Database path (overrides database.path)")

	root.AddCommand(
		newSchedulerCmd(),
		newJobsCmd(),
		newExecutionsCmd(),
		newScoreCmd(),
		newRecurCmd(),
		newAmCmd(),
		newDbCmd(),
		newVersionCmd(),
	)
	return root
}

// loadConfig honours --config and --db.
func loadConfig(cmd *cobra.Command) (*am.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	var (
		cfg *am.Config
		err error
	)
	if path != "" {
		cfg, err = am.LoadFromFile(path)
	} else {
		cfg, err = am.Load()
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}

	if dbPath, _ := cmd.Flags().GetString("db"); dbPath != "" {
		copied := *cfg
		copied.Database.Path = dbPath
		cfg = &copied
	}
	return cfg, nil
}
