package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/teranos/grove/db"
	"github.com/teranos/grove/errors"
	"github.com/teranos/grove/recur"
	"github.com/teranos/grove/sym"
)

func newRecurCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recur",
		Short: sym.Recur + " Preview recurrence rules",
		Long: sym.Recur + ` Preview how a task's repeat rule expands into due dates.

Rules are KEY=VALUE pairs separated by semicolons. FREQ and DTSTART are required:
  FREQ=DAILY|WEEKLY|MONTHLY|YEARLY  INTERVAL=n  BYDAY=MO,WE
  BYMONTHDAY=1,15  BYMONTH=1,6  UNTIL=YYYY-MM-DD  COUNT=n  DTSTART=YYYY-MM-DD

Examples:
  grove recur expand "FREQ=WEEKLY;INTERVAL=2;BYDAY=MO,WE;DTSTART=2026-01-05" --count 6
  grove recur next "FREQ=MONTHLY;BYMONTHDAY=31;DTSTART=2026-01-31" --from 2026-02-01`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	next := &cobra.Command{
		Use:   "next <rule>",
		Short: "First occurrence strictly after a date",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rule, err := parseRule(args[0])
			if err != nil {
				return err
			}
			from := time.Now()
			if s, _ := cmd.Flags().GetString("from"); s != "" {
				if from, err = parseDay(s); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", sym.Recur, recur.Describe(rule))
			occ, ok := recur.NextOccurrence(rule, from)
			if !ok {
				fmt.Fprintf(out, "No occurrence after %s\n", db.FormatDate(from))
				return nil
			}
			fmt.Fprintln(out, db.FormatDate(occ))
			return nil
		},
	}
	next.Flags().String("from", "", "Search after this date (YYYY-MM-DD), default now")

	expand := &cobra.Command{
		Use:   "expand <rule>",
		Short: "List occurrences from the rule's start",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rule, err := parseRule(args[0])
			if err != nil {
				return err
			}
			count, _ := cmd.Flags().GetInt("count")

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", sym.Recur, recur.Describe(rule))
			for _, occ := range recur.GenerateOccurrences(rule, count) {
				fmt.Fprintf(out, "%s  %s\n", db.FormatDate(occ), occ.Weekday().String()[:3])
			}
			return nil
		},
	}
	expand.Flags().Int("count", 10, "Maximum number of occurrences")

	cmd.AddCommand(next, expand)
	return cmd
}

func parseRule(spec string) (recur.Rule, error) {
	rule, ok := recur.Parse(spec)
	if !ok {
		return recur.Rule{}, errors.WithHint(
			errors.NewInvalidRequestError("not a recurrence rule: %q", spec),
			"FREQ and DTSTART are required, e.g. FREQ=DAILY;DTSTART=2026-01-05")
	}
	return rule, nil
}
