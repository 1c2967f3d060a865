package score

// DayStats are one user's totals for a single day.
type DayStats struct {
	FocusMinutes   int
	FocusSessions  int
	CompletedTasks int
	Streak         int
}

// ProductivityScore folds a day into 0..100: up to 60 for focus time (full
// marks at four hours), up to 30 for completed tasks (6 each), and up to 10
// for the streak (1 per day).
func ProductivityScore(s DayStats) int {
	focus := min(60, max(0, s.FocusMinutes)*60/240)
	tasks := min(30, max(0, s.CompletedTasks)*6)
	streak := min(10, max(0, s.Streak))
	return focus + tasks + streak
}
