package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/muurk/acond/internal/config"
	"github.com/muurk/acond/internal/device"
	"github.com/muurk/acond/internal/discovery"
	"github.com/muurk/acond/internal/ui"
)

var (
	scanTimeout  time.Duration
	scanAll      bool
	scanProbe    bool
	scanRemember bool
)

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().DurationVar(&scanTimeout, "timeout", 0, "How long to listen (default discovery.timeout, 5s)")
	scanCmd.Flags().BoolVar(&scanAll, "all", false, "List every HTTP service, not only likely controllers")
	scanCmd.Flags().BoolVar(&scanProbe, "probe", false, "Request the login page of every device found")
	scanCmd.Flags().BoolVar(&scanRemember, "remember", false, "Save matched devices to the config file")
}

// scanCmd discovers controllers on the network
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Find controllers on the local network",
	Long: `Browse mDNS for HTTP services whose name looks like an Acond controller.

The match uses discovery.pattern from the config file. --remember stores
matched devices so they can be used by name with --device.`,
	Example: `  acondctl scan
  acondctl scan --timeout 10s --probe
  acondctl scan --all --format json`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

func runScan(cmd *cobra.Command, args []string) error {
	if err := validateFormat(); err != nil {
		return err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	timeout := cfg.Discovery.Timeout
	if scanTimeout > 0 {
		timeout = scanTimeout
	}
	scanner, err := discovery.NewScannerWithPattern(timeout, cfg.Discovery.Pattern)
	if err != nil {
		return err
	}
	scanner.All = scanAll

	out := cmd.OutOrStdout()
	if outputFormat == "detailed" {
		fmt.Fprintf(out, "Scanning for controllers (timeout: %v)...\n\n", timeout)
	}

	ctx := cmd.Context()
	devices, err := scanner.Scan(ctx)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	if scanProbe {
		discovery.ProbeAll(ctx, devices, cfg.Device.Timeout)
	}

	if scanRemember {
		remembered := 0
		for _, d := range devices {
			if d.Matched {
				cfg.RememberDevice(d.Name, d.IP, d.Port)
				remembered++
			}
		}
		if remembered > 0 {
			if err := cfg.Save(configPath); err != nil {
				return err
			}
		}
	}

	switch outputFormat {
	case "json":
		return writeJSON(out, scanOutput(devices, scanProbe))
	case "compact":
		for _, d := range devices {
			fmt.Fprintf(out, "%s\t%s\t%s\n", d.Name, d.IP, d.BaseURL())
		}
		return nil
	}

	if len(devices) == 0 {
		ui.NewPrinter(out).PrintWarning("No controllers found", map[string]string{
			"Hint": "Use --all to list every HTTP service, or --device with the address",
		})
		return nil
	}

	fmt.Fprintf(out, "Found %d device(s):\n\n", len(devices))
	for i, d := range devices {
		fmt.Fprintf(out, "%d. %s\n", i+1, d.Name)
		fmt.Fprintf(out, "   Host:    %s\n", d.Host)
		fmt.Fprintf(out, "   URL:     %s\n", d.BaseURL())
		if !d.Matched {
			fmt.Fprintln(out, "   (name does not match the discovery pattern)")
		}
		if scanProbe {
			if d.Reachable {
				fmt.Fprintln(out, "   Probe:   login page found")
			} else {
				fmt.Fprintf(out, "   Probe:   %s\n", device.ShortMessage(d.ProbeErr))
			}
		}
		if len(d.Metadata) > 0 {
			fmt.Fprintf(out, "   TXT:     %v\n", d.Metadata)
		}
		fmt.Fprintln(out)
	}
	fmt.Fprintln(out, "Use 'acondctl login --device <address>' to check the credentials")

	return nil
}

type scanJSON struct {
	Name      string            `json:"name"`
	Host      string            `json:"host"`
	IP        string            `json:"ip"`
	Port      int               `json:"port"`
	URL       string            `json:"url"`
	Matched   bool              `json:"matched"`
	Reachable *bool             `json:"reachable,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func scanOutput(devices []*discovery.Device, probed bool) []scanJSON {
	out := make([]scanJSON, 0, len(devices))
	for _, d := range devices {
		entry := scanJSON{
			Name:     d.Name,
			Host:     d.Host,
			IP:       d.IP,
			Port:     d.Port,
			URL:      d.BaseURL(),
			Matched:  d.Matched,
			Metadata: d.Metadata,
		}
		if probed {
			reachable := d.Reachable
			entry.Reachable = &reachable
		}
		out = append(out, entry)
	}
	return out
}
