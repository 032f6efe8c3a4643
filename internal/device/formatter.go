package device

import (
	"fmt"
	"strings"

	"github.com/muurk/acond/internal/registers"
)

// RegisterText renders a catalog register from the snapshot for display:
// option labels for selects, on/off for flags, value plus unit otherwise.
// Missing registers render as "n/a" and undecodable ones as "invalid".
func (s Snapshot) RegisterText(reg registers.Register) string {
	v, err := s.Register(reg)
	if err != nil {
		if registers.IsValueFormatError(err) {
			return "invalid"
		}
		return "n/a"
	}
	if len(reg.Options) > 0 {
		if label, ok := reg.OptionLabel(v.Int); ok {
			return label
		}
	}
	if reg.Unit != "" {
		return v.String() + " " + reg.Unit
	}
	return v.String()
}

// Summary returns a one-line summary of the main readings
func (s Snapshot) Summary() string {
	parts := make([]string, 0, 4)
	for _, name := range []string{"indoor_temperature", "boiler_temperature", "operating_mode", "compressor"} {
		reg, ok := registers.Lookup(name)
		if !ok {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s %s", reg.Description, s.RegisterText(reg)))
	}
	return strings.Join(parts, " | ")
}

// FormatCompact returns one "name: value" line per catalog register
func (s Snapshot) FormatCompact() string {
	var b strings.Builder

	for _, reg := range registers.All() {
		b.WriteString(fmt.Sprintf("%-28s %s\n", reg.Name+":", s.RegisterText(reg)))
	}

	return b.String()
}

// FormatDetailed returns the catalog grouped by class, followed by the
// number of keys the catalog does not describe
func (s Snapshot) FormatDetailed() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString("╔════════════════════════════════════════════════════════════════╗\n")
	b.WriteString("║                   ACOND HEAT PUMP STATUS                       ║\n")
	b.WriteString("╚════════════════════════════════════════════════════════════════╝\n")
	if !s.fetchedAt.IsZero() {
		b.WriteString(fmt.Sprintf("Read at: %s\n", s.fetchedAt.Format("2006-01-02 15:04:05")))
	}

	sections := []struct {
		title string
		class registers.Class
	}{
		{"Temperatures and energy", registers.ClassSensor},
		{"Setpoints", registers.ClassSetpoint},
		{"Modes", registers.ClassSelect},
		{"Components", registers.ClassBinary},
	}

	known := make(map[string]bool)
	for _, sec := range sections {
		b.WriteString("\n=== " + sec.title + " ===\n")
		for _, reg := range registers.All() {
			known[reg.Key] = true
			if reg.Class != sec.class {
				continue
			}
			marker := ""
			if reg.Writable() {
				marker = " *"
			}
			b.WriteString(fmt.Sprintf("%-30s %s%s\n", reg.Description+":", s.RegisterText(reg), marker))
		}
	}

	extra := 0
	for k := range s.values {
		if !known[k] {
			extra++
		}
	}
	b.WriteString(fmt.Sprintf("\n* writable   %d other keys on the pages (see --raw)\n", extra))

	return b.String()
}
