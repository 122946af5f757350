package repl

import (
	"fmt"

	"github.com/fatih/color"

	"github.com/steveyegge/vigil/internal/events"
)

// FormatEvent renders one event as a single colored line.
func FormatEvent(e *events.Event) string {
	c := color.New(color.FgHiBlack)
	switch e.Severity {
	case events.SeverityCritical:
		c = color.New(color.FgRed, color.Bold)
	case events.SeverityError:
		c = color.New(color.FgRed)
	case events.SeverityWarning:
		c = color.New(color.FgYellow)
	}
	gray := color.New(color.FgHiBlack).SprintFunc()
	return fmt.Sprintf("%s %s %s", gray(e.Timestamp.Format("15:04:05")), c.Sprintf("%-17s", e.Type), e.Message)
}
