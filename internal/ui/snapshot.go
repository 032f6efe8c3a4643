package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muurk/acond/internal/device"
	"github.com/muurk/acond/internal/registers"
)

// SnapshotView renders the register catalog for one snapshot
type SnapshotView struct {
	Snapshot device.Snapshot
	Present  bool   // false renders "no data" instead of the table
	Status   string // coordinator status, optional
	Error    string // last refresh error, optional
	Width    int
}

var sections = []struct {
	title string
	class registers.Class
}{
	{"Temperatures and energy", registers.ClassSensor},
	{"Setpoints", registers.ClassSetpoint},
	{"Modes", registers.ClassSelect},
	{"Components", registers.ClassBinary},
}

// Render returns the styled view
func (v SnapshotView) Render() string {
	width := clampWidth(v.Width)
	var lines []string

	if status := v.statusLine(); status != "" {
		lines = append(lines, status, "")
	}

	if !v.Present {
		lines = append(lines, StepPendingStyle.PaddingLeft(2).Render("No data from the controller yet"))
		return strings.Join(lines, "\n")
	}

	for _, sec := range sections {
		lines = append(lines, SectionTitleStyle.Render(sec.title))
		for _, reg := range registers.All() {
			if reg.Class != sec.class {
				continue
			}
			lines = append(lines, v.registerLine(reg))
		}
		lines = append(lines, "")
	}

	lines = append(lines, StepNoteStyle.PaddingLeft(2).Render(WritableMarker+" writable"))

	return lipgloss.NewStyle().MaxWidth(width).Render(strings.Join(lines, "\n"))
}

func (v SnapshotView) statusLine() string {
	var parts []string
	if v.Status != "" {
		parts = append(parts, StatusStyle(v.Status).Render(strings.ToUpper(v.Status)))
	}
	if at := v.Snapshot.FetchedAt(); v.Present && !at.IsZero() {
		parts = append(parts, StepNoteStyle.Render("read "+at.Format("2006-01-02 15:04:05")))
	}
	if v.Error != "" {
		parts = append(parts, ErrorMessageStyle.Render(v.Error))
	}
	if len(parts) == 0 {
		return ""
	}
	return "  " + strings.Join(parts, "  ")
}

func (v SnapshotView) registerLine(reg registers.Register) string {
	text := v.Snapshot.RegisterText(reg)

	valueStyle := RegisterValueStyle
	switch text {
	case "n/a":
		valueStyle = StepPendingStyle
	case "invalid":
		valueStyle = ErrorMessageStyle
	case "on":
		valueStyle = StepCompleteStyle
	}

	line := RegisterLabelStyle.Render(reg.Description) + valueStyle.Render(text)
	if reg.Writable() {
		line += " " + WritableMarkerStyle.Render(WritableMarker)
	}
	return line
}

// String implements fmt.Stringer
func (v SnapshotView) String() string {
	return v.Render()
}

// RenderRaw lists every key of the snapshot with its raw value, sorted by key
func RenderRaw(snap device.Snapshot) string {
	var b strings.Builder
	for _, key := range snap.Keys() {
		value, _ := snap.Get(key)
		name := ""
		if reg, ok := registers.LookupKey(key); ok {
			name = reg.Name
		}
		b.WriteString(fmt.Sprintf("%-34s %-28s %s\n", key, name, value))
	}
	return b.String()
}

// Age renders how long ago t was, e.g. "12s ago"
func Age(t time.Time, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t).Round(time.Second)
	if d < 0 {
		d = 0
	}
	return d.String() + " ago"
}
