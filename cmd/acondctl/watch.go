package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/muurk/acond/internal/coordinator"
	"github.com/muurk/acond/internal/device"
	"github.com/muurk/acond/internal/ui"
)

// minWatchInterval is lower than the daemon's minimum; watch runs only
// while someone looks at it
const minWatchInterval = 10 * time.Second

var watchInterval time.Duration

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 0, "Refresh interval (default polling.interval from the config)")
}

// watchCmd shows the controller live
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the heat pump live",
	Long: `Poll the controller and show the register catalog as it changes.

In a terminal this opens a live screen: r refreshes now, + and - move the
indoor setpoint, q quits. When the output is not a terminal one summary
line is printed per refresh.`,
	Example: `  acondctl watch
  acondctl watch --interval 1m
  acondctl watch | tee heatpump.log`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, client, err := newClient()
	if err != nil {
		return err
	}

	interval := cfg.Polling.Interval
	if watchInterval != 0 {
		interval = watchInterval
	}
	if interval < minWatchInterval {
		return fmt.Errorf("--interval must be at least %v", minWatchInterval)
	}

	// one session for the whole watch
	client.Sessions = &device.PersistentSession{}

	coord := coordinator.New(client, coordinator.Options{
		Interval:         interval,
		FailureThreshold: cfg.Polling.FailureThreshold,
	})

	ctx := cmd.Context()
	if err := coord.Start(ctx); err != nil {
		if device.IsAuthError(err) {
			return fmt.Errorf("login failed: %w", err)
		}
		go keepStarting(ctx, coord, interval)
	}
	defer coord.Stop()

	if ui.IsTerminal() {
		return ui.RunWatch(ctx, "Heat pump "+client.Address(), coord)
	}

	out := cmd.OutOrStdout()
	printLine := func(u coordinator.Update) {
		line := fmt.Sprintf("%s %-11s", time.Now().Format(time.RFC3339), u.State.Status)
		if u.Present {
			line += " " + u.Snapshot.Summary()
		}
		if msg := device.ShortMessage(u.State.LastError); msg != "" {
			line += " (" + msg + ")"
		}
		fmt.Fprintln(out, line)
	}

	snap, present := coord.Current()
	printLine(coordinator.Update{Snapshot: snap, Present: present, State: coord.State()})
	unsubscribe := coord.Subscribe(printLine)
	defer unsubscribe()

	<-ctx.Done()
	return nil
}

// keepStarting retries the first refresh until polling runs, the login is
// rejected or ctx is done
func keepStarting(ctx context.Context, coord *coordinator.Coordinator, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		err := coord.Start(ctx)
		if err == nil || errors.Is(err, coordinator.ErrAlreadyStarted) || device.IsAuthError(err) {
			return
		}
	}
}
