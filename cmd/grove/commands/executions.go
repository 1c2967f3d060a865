package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/teranos/grove/pulse/schedule"
	"github.com/teranos/grove/sym"
)

func newExecutionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "executions",
		Aliases: []string{"exec"},
		Short:   sym.Pulse + " Show job execution history",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	ls := &cobra.Command{
		Use:   "ls",
		Short: "List recent executions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			jobID, _ := cmd.Flags().GetString("job")
			limit, _ := cmd.Flags().GetInt("limit")
			execs, err := a.scheduler.ListExecutions(cmd.Context(), jobID, limit)
			if err != nil {
				return err
			}
			if len(execs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No executions recorded")
				return nil
			}
			return renderTable(cmd.OutOrStdout(), executionRows(execs))
		},
	}
	ls.Flags().String("job", "", "Only show executions of this job")
	ls.Flags().Int("limit", 20, "Maximum number of executions")

	cmd.AddCommand(ls)
	return cmd
}

func executionRows(execs []*schedule.Execution) [][]string {
	rows := [][]string{{"STARTED", "JOB", "TRIGGER", "STATUS", "MS", "RESULT"}}
	for _, e := range execs {
		result := e.Result
		if e.Status == schedule.ExecutionStatusFailed {
			result = e.ErrorMessage
		}
		started := e.StartedAt
		rows = append(rows, []string{
			formatWhen(&started),
			e.JobID,
			string(e.Trigger),
			e.Status,
			strconv.FormatInt(e.DurationMs(), 10),
			truncate(result, 60),
		})
	}
	return rows
}
