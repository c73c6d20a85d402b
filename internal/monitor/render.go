// Package monitor renders project status for the terminal, both as a one-shot
// view and as a live bubbletea dashboard.
package monitor

import (
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/nocbroker/internal/metadata"
	"github.com/fyrsmithlabs/nocbroker/internal/project"
	"github.com/fyrsmithlabs/nocbroker/internal/stage"
)

// Render draws the human-readable status view. The database password is
// never included.
func Render(p project.Project, m *metadata.Metadata) string {
	var b strings.Builder

	b.WriteString(headerStyle.Render("NoC project " + m.Name))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(p.Location))
	b.WriteString("\n\n")

	for i := 0; i < stage.NumFlags; i++ {
		f := stage.Flag(i)
		if m.Completed(f) {
			b.WriteString(doneStyle.Render("✓ "))
			b.WriteString(valueStyle.Render(f.String()))
		} else {
			b.WriteString(dimStyle.Render("· " + f.String()))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	writeField(&b, "device", m.Device)
	writeField(&b, "database", DatabaseSummary(m.Database))
	return strings.TrimRight(b.String(), "\n")
}

// RenderError draws a one-line error.
func RenderError(err error) string {
	return errorStyle.Render("✗ " + err.Error())
}

func writeField(b *strings.Builder, label, value string) {
	if value == "" {
		value = dimStyle.Render("(not set)")
	} else {
		value = valueStyle.Render(value)
	}
	fmt.Fprintf(b, "%s %s\n", labelStyle.Render(fmt.Sprintf("%-9s", label+":")), value)
}

// DatabaseSummary renders user@host:port/name.
func DatabaseSummary(db metadata.DatabaseSettings) string {
	if db.Host == "" && db.Name == "" {
		return ""
	}
	var s strings.Builder
	if db.User != "" {
		s.WriteString(db.User + "@")
	}
	s.WriteString(db.Host)
	if db.Port != metadata.UnsetPort {
		fmt.Fprintf(&s, ":%d", db.Port)
	}
	if db.Name != "" {
		s.WriteString("/" + db.Name)
	}
	return s.String()
}

// FormatAge formats the time since an update as "Xs", "Xm Ys" or "Xh Ym".
func FormatAge(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	seconds := int64(d / time.Second)
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	seconds %= 60

	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
