package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/teranos/grove/db"
	"github.com/teranos/grove/errors"
	"github.com/teranos/grove/internal/clock"
	"github.com/teranos/grove/score"
	"github.com/teranos/grove/sym"
)

func newScoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score",
		Short: sym.Tree + " Preview points, streaks and milestones",
		Long: sym.Tree + ` Preview the scoring rules with the configured policy.

Examples:
  grove score points 45 --streak 7
  grove score streak 5 --last 2026-03-08 --today 2026-03-10
  grove score milestones --points 420 --streak 12`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	points := &cobra.Command{
		Use:   "points <minutes>",
		Short: "Points and trees for a focus session",
		Args:  cobra.ExactArgs(1),
		RunE:  runScorePoints,
	}
	points.Flags().Int("streak", 0, "Streak days before the session")

	streak := &cobra.Command{
		Use:   "streak <current>",
		Short: "Evaluate a streak on a given day",
		Args:  cobra.ExactArgs(1),
		RunE:  runScoreStreak,
	}
	streak.Flags().String("last", "", "Last focus date (YYYY-MM-DD), empty for never")
	streak.Flags().String("today", "", "Evaluation date (YYYY-MM-DD), default today")

	milestones := &cobra.Command{
		Use:   "milestones",
		Short: "Next points and streak milestones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, _ := cmd.Flags().GetInt("points")
			s, _ := cmd.Flags().GetInt("streak")
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Points milestones: %v\n", score.PointsMilestones())
			fmt.Fprintf(out, "Streak milestones: %v\n", score.StreakMilestones())
			fmt.Fprintf(out, "Next points milestone after %d: %s\n", p, milestoneText(score.NextPointsMilestone(p), p))
			fmt.Fprintf(out, "Next streak milestone after %d: %s\n", s, milestoneText(score.NextStreakMilestone(s), s))
			return nil
		},
	}
	milestones.Flags().Int("points", 0, "Total points")
	milestones.Flags().Int("streak", 0, "Current streak")

	cmd.AddCommand(points, streak, milestones)
	return cmd
}

func milestoneText(next, current int) string {
	if next <= current {
		return "none (all reached)"
	}
	return fmt.Sprint(next)
}

func runScorePoints(cmd *cobra.Command, args []string) error {
	minutes, err := parseIntArg(args[0], "minutes")
	if err != nil {
		return err
	}
	streak, _ := cmd.Flags().GetInt("streak")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	engine := score.New(cfg.ScorePolicy(), clock.Real{}, cfg.Hasher())

	calc := engine.CalculatePoints(minutes, streak)
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %d points\n", sym.Tree, calc.FinalPoints)
	fmt.Fprintf(out, "  %s\n", calc.Breakdown)
	fmt.Fprintf(out, "  Trees grown: %d\n", engine.TreeGrowth(minutes))
	return nil
}

func runScoreStreak(cmd *cobra.Command, args []string) error {
	current, err := parseIntArg(args[0], "current streak")
	if err != nil {
		return err
	}

	today := clock.Real{}.Now()
	if s, _ := cmd.Flags().GetString("today"); s != "" {
		if today, err = parseDay(s); err != nil {
			return err
		}
	}
	var last *time.Time
	if s, _ := cmd.Flags().GetString("last"); s != "" {
		d, err := parseDay(s)
		if err != nil {
			return err
		}
		last = &d
	}

	res := score.CalculateStreak(current, last, today)
	state := "unchanged"
	switch {
	case res.IsExtended:
		state = "extended"
	case res.IsMaintained:
		state = "maintained"
	case res.IsReset:
		state = "reset"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %d -> %d (%s) on %s\n", sym.Streak, current, res.NewStreak, state, db.FormatDate(today))
	return nil
}

func parseIntArg(s, name string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, errors.NewInvalidRequestError("%s must be a non-negative integer, got %q", name, s)
	}
	return n, nil
}

// parseDay reads a YYYY-MM-DD date in local time.
func parseDay(s string) (time.Time, error) {
	t, err := time.ParseInLocation(db.DateLayout, s, time.Local)
	if err != nil {
		return time.Time{}, errors.NewInvalidRequestError("invalid date %q, expected YYYY-MM-DD", s)
	}
	return t, nil
}
