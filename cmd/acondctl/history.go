package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/muurk/acond/internal/device"
	"github.com/muurk/acond/internal/history"
	"github.com/muurk/acond/internal/registers"
)

var (
	historyDB    string
	historySince time.Duration
	historyLimit int
)

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().StringVar(&historyDB, "db", "", "History database (default history.path from the config)")
	historyCmd.Flags().DurationVar(&historySince, "since", 24*time.Hour, "How far back to look (0 = everything)")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 0, "Show only the newest N readings")
}

// historyCmd prints recorded readings
var historyCmd = &cobra.Command{
	Use:   "history <register>",
	Short: "Show recorded values of a register",
	Long: `Print the readings acond-server recorded for a register.

Only changes are recorded, so each line is the value from that time until
the next line. Raw keys are accepted as well as register names.`,
	Example: `  acondctl history indoor_temperature
  acondctl history compressor --since 168h --limit 50
  acondctl history __T46AA2571_REAL_.1f --db /var/lib/acond/history.db`,
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeRegisters(false),
	RunE:              runHistory,
}

func runHistory(cmd *cobra.Command, args []string) error {
	if err := validateFormat(); err != nil {
		return err
	}

	path := historyDB
	if path == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path = cfg.History.Path
	}
	if path == "" {
		return errors.New("no history database (set history.path or use --db)")
	}

	key := args[0]
	reg, known := registers.Lookup(args[0])
	if known {
		key = reg.Key
	}

	ctx := cmd.Context()
	store, err := history.Open(ctx, path)
	if err != nil {
		return err
	}
	defer store.Close()

	var since time.Time
	if historySince > 0 {
		since = time.Now().Add(-historySince)
	}
	readings, err := store.Range(ctx, key, since, historyLimit)
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}

	out := cmd.OutOrStdout()
	if outputFormat == "json" {
		type entry struct {
			Time  time.Time `json:"time"`
			Raw   string    `json:"raw"`
			Value *float64  `json:"value,omitempty"`
			Text  string    `json:"text,omitempty"`
		}
		entries := make([]entry, 0, len(readings))
		for _, r := range readings {
			e := entry{Time: r.Time, Raw: r.Value}
			if known {
				if v, err := reg.Decode(r.Value); err == nil {
					if f, ok := v.Float(); ok {
						e.Value = &f
					}
				}
				e.Text = readingText(reg, r.Time, r.Value)
			}
			entries = append(entries, e)
		}
		return writeJSON(out, entries)
	}

	if len(readings) == 0 {
		fmt.Fprintf(out, "No readings for %s\n", args[0])
		return nil
	}
	for _, r := range readings {
		text := r.Value
		if known {
			text = readingText(reg, r.Time, r.Value)
		}
		fmt.Fprintf(out, "%s  %s\n", r.Time.Local().Format("2006-01-02 15:04:05"), text)
	}
	return nil
}

// readingText renders a recorded raw value the way show does
func readingText(reg registers.Register, at time.Time, raw string) string {
	return device.NewSnapshot(map[string]string{reg.Key: raw}, at).RegisterText(reg)
}
