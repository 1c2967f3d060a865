package score

var (
	pointsMilestones = []int{10, 25, 50, 100, 250, 500, 1000, 2500, 5000}
	streakMilestones = []int{3, 7, 14, 30, 60, 100, 365}
)

// NextPointsMilestone returns the first points milestone above points, or
// the largest milestone once all are passed.
func NextPointsMilestone(points int) int {
	return nextMilestone(pointsMilestones, points)
}

// NextStreakMilestone returns the first streak milestone above days, or the
// largest milestone once all are passed.
func NextStreakMilestone(days int) int {
	return nextMilestone(streakMilestones, days)
}

// PointsMilestones returns a copy of the points table.
func PointsMilestones() []int { return append([]int(nil), pointsMilestones...) }

// StreakMilestones returns a copy of the streak table.
func StreakMilestones() []int { return append([]int(nil), streakMilestones...) }

func nextMilestone(table []int, current int) int {
	for _, m := range table {
		if m > current {
			return m
		}
	}
	return table[len(table)-1]
}
