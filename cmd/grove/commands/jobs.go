package commands

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/teranos/grove/am"
	"github.com/teranos/grove/errors"
	"github.com/teranos/grove/pulse/schedule"
	"github.com/teranos/grove/sym"
)

func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: sym.Pulse + " Inspect, toggle and trigger scheduled jobs",
		Long: sym.Pulse + ` Inspect, toggle and trigger scheduled jobs.

Examples:
  grove jobs ls
  grove jobs show daily.rollup
  grove jobs toggle daily.archive off --persist
  grove jobs trigger hourly.process_due_tasks`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	ls := &cobra.Command{
		Use:   "ls",
		Short: "List jobs with their state and next run",
		Args:  cobra.NoArgs,
		RunE:  runJobsList,
	}

	show := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job and its recent executions",
		Args:  cobra.ExactArgs(1),
		RunE:  runJobsShow,
	}
	show.Flags().Int("limit", 5, "Number of recent executions to show")

	toggle := &cobra.Command{
		Use:   "toggle <job-id> <on|off>",
		Short: "Enable or disable a job",
		Long: `Enable or disable a job. Enabling resets its failure count.

With --persist the choice is written to ~/.grove/am_overrides.toml so it
survives restarts and is applied by a running scheduler.`,
		Args: cobra.ExactArgs(2),
		RunE: runJobsToggle,
	}
	toggle.Flags().Bool("persist", false, "Save the choice to the user overrides file")

	trigger := &cobra.Command{
		Use:   "trigger <job-id>",
		Short: "Run a job now, outside its cadence",
		Args:  cobra.ExactArgs(1),
		RunE:  runJobsTrigger,
	}

	cmd.AddCommand(ls, show, toggle, trigger)
	return cmd
}

func runJobsList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	jobs, err := a.scheduler.ListJobs(cmd.Context())
	if err != nil {
		return err
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })

	rows := [][]string{{"ID", "CADENCE", "STATE", "STATUS", "LAST RUN", "NEXT RUN"}}
	for _, j := range jobs {
		rows = append(rows, []string{
			j.ID,
			string(j.Cadence),
			jobState(j),
			string(j.Status),
			formatWhen(j.LastRunAt),
			formatWhen(j.NextRunAt),
		})
	}
	return renderTable(cmd.OutOrStdout(), rows)
}

func runJobsShow(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	job, err := a.scheduler.GetJob(ctx, args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s\n", sym.Pulse, job.Name)
	fmt.Fprintf(out, "ID:          %s\n", job.ID)
	if job.Description != "" {
		fmt.Fprintf(out, "Description: %s\n", job.Description)
	}
	fmt.Fprintf(out, "Cadence:     %s\n", job.Cadence)
	if job.Schedule != "" {
		fmt.Fprintf(out, "Schedule:    %s\n", job.Schedule)
	}
	fmt.Fprintf(out, "State:       %s\n", jobState(job))
	fmt.Fprintf(out, "Status:      %s\n", job.Status)
	fmt.Fprintf(out, "Failures:    %d of %d\n", job.ErrorCount, job.MaxRetries)
	fmt.Fprintf(out, "Last run:    %s\n", formatWhen(job.LastRunAt))
	fmt.Fprintf(out, "Next run:    %s\n", formatWhen(job.NextRunAt))
	if len(job.Metadata) > 0 {
		keys := make([]string, 0, len(job.Metadata))
		for k := range job.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(out, "  %s = %s\n", k, job.Metadata[k])
		}
	}

	limit, _ := cmd.Flags().GetInt("limit")
	execs, err := a.scheduler.ListExecutions(ctx, job.ID, limit)
	if err != nil {
		return err
	}
	if len(execs) == 0 {
		fmt.Fprintln(out, "\nNo executions yet")
		return nil
	}
	fmt.Fprintln(out)
	return renderTable(out, executionRows(execs))
}

func runJobsToggle(cmd *cobra.Command, args []string) error {
	jobID := args[0]
	enabled, err := parseOnOff(args[1])
	if err != nil {
		return err
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	job, err := a.scheduler.ToggleJob(cmd.Context(), jobID, enabled)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s is now %s\n", sym.Pulse, job.ID, jobState(job))

	if persist, _ := cmd.Flags().GetBool("persist"); persist {
		path := am.OverridesPath()
		if path == "" {
			return errors.New("cannot determine home directory for overrides file")
		}
		if err := am.SaveJobOverride(path, jobID, enabled); err != nil {
			return err
		}
		fmt.Fprintf(out, "Saved to %s\n", path)
	}
	return nil
}

func runJobsTrigger(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	exec, err := a.scheduler.TriggerJob(cmd.Context(), args[0])
	if err != nil {
		if errors.Is(err, schedule.ErrJobDisabled) {
			return errors.WithHintf(err, "enable it with: grove jobs toggle %s on", args[0])
		}
		return err
	}

	out := cmd.OutOrStdout()
	if exec.Status == schedule.ExecutionStatusFailed {
		fmt.Fprintf(out, "%s %s failed after %dms: %s\n", sym.Pulse, exec.JobID, exec.DurationMs(), exec.ErrorMessage)
		return errors.Newf("job %s failed", exec.JobID)
	}
	fmt.Fprintf(out, "%s %s completed in %dms\n", sym.Pulse, exec.JobID, exec.DurationMs())
	if exec.Result != "" {
		fmt.Fprintf(out, "Result: %s\n", exec.Result)
	}
	return nil
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "enable", "enabled", "true":
		return true, nil
	case "off", "disable", "disabled", "false":
		return false, nil
	}
	return false, errors.NewInvalidRequestError("expected on or off, got %q", s)
}
