package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/pterm/pterm"

	"github.com/teranos/grove/pulse/schedule"
)

// renderTable writes rows as a pterm table with the first row as header.
func renderTable(w io.Writer, rows [][]string) error {
	out, err := pterm.DefaultTable.WithHasHeader().WithData(rows).Srender()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, out)
	return err
}

func formatWhen(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func jobState(j *schedule.Job) string {
	switch {
	case j.NeedsAttention():
		return fmt.Sprintf("disabled (%d failures)", j.ErrorCount)
	case !j.Enabled:
		return "disabled"
	default:
		return "enabled"
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
