// Package sym defines the glyphs grove attaches to log lines and CLI output.
// They are stable across the CLI, logs and documentation so output can be
// filtered by component.
package sym

// Component glyphs.
const (
	Pulse      = "꩜" // scheduler ticks and job executions
	PulseOpen  = "✿" // scheduler startup
	PulseClose = "❀" // scheduler shutdown
	DB         = "⊔" // database/storage layer
	Tree       = "⸙" // scoring, points and tree growth
	Streak     = "≋" // streak transitions
	Recur      = "↻" // recurrence rules and task regeneration
	Notify     = "⌁" // notification outbox
)

// entry binds a glyph to its component name.
type entry struct {
	glyph       string
	component   string
	description string
}

var registry = []entry{
	{Pulse, "pulse", "Scheduler ticks and job executions"},
	{PulseOpen, "pulse.open", "Scheduler startup"},
	{PulseClose, "pulse.close", "Scheduler shutdown"},
	{DB, "db", "Database/storage layer"},
	{Tree, "score", "Points and tree growth"},
	{Streak, "streak", "Streak transitions"},
	{Recur, "recur", "Recurrence rules and task regeneration"},
	{Notify, "notify", "Notification outbox"},
}

var glyphToComponent map[string]string

func init() {
	glyphToComponent = make(map[string]string, len(registry))
	for _, e := range registry {
		glyphToComponent[e.glyph] = e.component
	}
}

// Component returns the component name for a glyph, or "" if unknown.
func Component(glyph string) string {
	return glyphToComponent[glyph]
}

// Describe returns the description for a glyph, or "" if unknown.
func Describe(glyph string) string {
	for _, e := range registry {
		if e.glyph == glyph {
			return e.description
		}
	}
	return ""
}
