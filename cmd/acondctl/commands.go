package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/muurk/acond/internal/coordinator"
	"github.com/muurk/acond/internal/device"
	"github.com/muurk/acond/internal/registers"
	"github.com/muurk/acond/internal/ui"
)

var (
	showRaw   bool
	assumeYes bool
)

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(registersCmd)

	showCmd.Flags().BoolVar(&showRaw, "raw", false, "List every key on the data pages with its raw value")
	writeCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Do not ask before writing a key outside the catalog")
}

// loginCmd checks the credentials
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Check that the controller accepts the credentials",
	Long: `Log in to the controller web interface and read the data pages once.

Use this to verify the address, user and password before configuring
acond-server.`,
	Example: `  acondctl login --device 192.168.1.50
  ACOND_PASSWORD=secret acondctl login --device heatpump.lan --user acond`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

func runLogin(cmd *cobra.Command, args []string) error {
	cfg, client, err := newClient()
	if err != nil {
		return err
	}

	runner := ui.NewRunner(ui.RunnerConfig{
		Title:     "Login check",
		Command:   "acondctl login",
		Params:    deviceParams(cfg),
		StepNames: []string{"Log in", "Read data pages"},
		Output:    cmd.OutOrStdout(),
	})

	_, err = runner.Run(cmd.Context(), func(ctx context.Context, onStep ui.StepCallback) (map[string]string, error) {
		onStep(1, "", ui.StepRunning, "")
		if err := client.Login(ctx); err != nil {
			onStep(1, "", ui.StepFailed, device.ShortMessage(err))
			return nil, err
		}
		onStep(1, "", ui.StepComplete, "")

		onStep(2, "", ui.StepRunning, "")
		snap, err := client.FetchSnapshot(ctx)
		if err != nil {
			onStep(2, "", ui.StepFailed, device.ShortMessage(err))
			return nil, err
		}
		onStep(2, "", ui.StepComplete, fmt.Sprintf("%d keys", snap.Len()))

		return map[string]string{
			"Keys":    strconv.Itoa(snap.Len()),
			"Summary": snap.Summary(),
		}, nil
	})
	return err
}

// showCmd prints every catalog register
var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current heat pump values",
	Long: `Read the data pages and display the register catalog.

Writable registers are marked. --raw lists every key found on the pages,
including the ones the catalog does not describe.`,
	Example: `  acondctl show --device 192.168.1.50
  acondctl show --format compact
  acondctl show --format json --raw`,
	Args: cobra.NoArgs,
	RunE: runShow,
}

func runShow(cmd *cobra.Command, args []string) error {
	if err := validateFormat(); err != nil {
		return err
	}
	cfg, client, err := newClient()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	printer := ui.NewPrinter(out)

	snap, err := client.FetchSnapshot(cmd.Context())
	if err != nil {
		if outputFormat == "detailed" {
			printer.PrintError("Read failed", err)
		}
		return fmt.Errorf("failed to read controller: %w", err)
	}

	switch {
	case outputFormat == "json":
		return writeJSON(out, snapshotOutput(snap, showRaw))
	case showRaw:
		printer.Print(ui.RenderRaw(snap))
	case outputFormat == "compact":
		printer.Print(snap.FormatCompact())
	default:
		printer.PrintHeader("Heat pump status", "acondctl show", deviceParams(cfg))
		printer.PrintSnapshot(ui.SnapshotView{Snapshot: snap, Present: true})
	}
	return nil
}

// getCmd prints one register
var getCmd = &cobra.Command{
	Use:   "get <register>",
	Short: "Print one register",
	Long: `Read the data pages and print one catalog register.

Compact output prints only the value, for use in scripts.`,
	Example: `  acondctl get indoor_temperature
  acondctl get operating_mode --format compact
  acondctl get boiler_setpoint --format json`,
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeRegisters(false),
	RunE:              runGet,
}

func runGet(cmd *cobra.Command, args []string) error {
	if err := validateFormat(); err != nil {
		return err
	}
	reg, err := lookupRegister(args[0])
	if err != nil {
		return err
	}
	_, client, err := newClient()
	if err != nil {
		return err
	}

	snap, err := client.FetchSnapshot(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read controller: %w", err)
	}
	if _, ok := snap.Get(reg.Key); !ok {
		return fmt.Errorf("%s: %w", reg.Name, device.ErrKeyMissing)
	}

	out := cmd.OutOrStdout()
	switch outputFormat {
	case "json":
		return writeJSON(out, registerOutput(reg, snap))
	case "compact":
		fmt.Fprintln(out, snap.RegisterText(reg))
	default:
		fmt.Fprintf(out, "%s: %s\n", reg.Description, snap.RegisterText(reg))
	}
	return nil
}

// setCmd writes a catalog register
var setCmd = &cobra.Command{
	Use:   "set <register> <value>",
	Short: "Write a setpoint or mode",
	Long: `Write a catalog register. The value is checked against the register's
range before anything is sent; modes accept their option label or number.
The pages are read again after the write and the new value is shown.`,
	Example: `  acondctl set indoor_setpoint 21.5
  acondctl set operating_mode heating_only
  acondctl set boiler_mode "heat pump"`,
	Args:              cobra.ExactArgs(2),
	ValidArgsFunction: completeRegisters(true),
	RunE:              runSet,
}

func runSet(cmd *cobra.Command, args []string) error {
	reg, err := lookupRegister(args[0])
	if err != nil {
		return err
	}
	if !reg.Writable() {
		return fmt.Errorf("%s is read-only", reg.Name)
	}
	value, err := reg.ParseInput(args[1])
	if err != nil {
		return err
	}
	if err := reg.Validate(value); err != nil {
		return err
	}

	cfg, client, err := newClient()
	if err != nil {
		return err
	}

	coord := coordinator.New(client, coordinator.Options{})
	if err := coord.WriteRegister(cmd.Context(), reg.Name, value); err != nil {
		if outputFormat == "detailed" {
			ui.NewPrinter(cmd.OutOrStdout()).PrintError("Write failed", err)
		}
		return fmt.Errorf("failed to write %s: %w", reg.Name, err)
	}

	return printWriteResult(cmd, cfg.Device.BaseURL(), coord, reg.Description, reg.EncodeWrite(value), &reg)
}

// writeCmd writes a raw key
var writeCmd = &cobra.Command{
	Use:   "write <key> <value>",
	Short: "Write a raw key on the first data page",
	Long: `Submit one raw key=value pair to the first data page.

Keys outside the register catalog are sent without range checks and need
confirmation unless --yes is given.`,
	Example: `  acondctl write __TBEC2C30E_REAL_.1f 21.5
  acondctl write __T47138CF2_INT_.1f 1 --yes`,
	Args: cobra.ExactArgs(2),
	RunE: runWrite,
}

func runWrite(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]

	var reg *registers.Register
	for _, r := range registers.All() {
		if r.WriteKey == key {
			reg = &r
			break
		}
	}
	if reg == nil && !assumeYes {
		if !ui.ConfirmRawWrite(os.Stdin, cmd.OutOrStdout(), key, value) {
			return nil
		}
	}

	cfg, client, err := newClient()
	if err != nil {
		return err
	}

	coord := coordinator.New(client, coordinator.Options{})
	if err := coord.Write(cmd.Context(), key, value); err != nil {
		if outputFormat == "detailed" {
			ui.NewPrinter(cmd.OutOrStdout()).PrintError("Write failed", err)
		}
		return fmt.Errorf("failed to write %s: %w", key, err)
	}

	return printWriteResult(cmd, cfg.Device.BaseURL(), coord, key, value, reg)
}

func printWriteResult(cmd *cobra.Command, target string, coord *coordinator.Coordinator, what, sent string, reg *registers.Register) error {
	out := cmd.OutOrStdout()
	snap, present := coord.Current()

	current := ""
	if present && reg != nil {
		current = snap.RegisterText(*reg)
	}

	switch outputFormat {
	case "json":
		result := map[string]any{"written": what, "sent": sent}
		if present && reg != nil {
			result["register"] = registerOutput(*reg, snap)
		}
		return writeJSON(out, result)
	case "compact":
		fmt.Fprintln(out, sent)
	default:
		details := map[string]string{"Device": target, "Sent": sent}
		if current != "" {
			details["Now"] = current
		}
		ui.NewPrinter(out).PrintSuccess(what+" written", details)
	}
	return nil
}

// registersCmd lists the catalog
var registersCmd = &cobra.Command{
	Use:   "registers",
	Short: "List the known registers",
	Long: `List the register catalog: name, class, unit, write range or options.

No controller access is needed.`,
	Args: cobra.NoArgs,
	RunE: runRegisters,
}

func runRegisters(cmd *cobra.Command, args []string) error {
	if err := validateFormat(); err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if outputFormat == "json" {
		type entry struct {
			Name        string           `json:"name"`
			Description string           `json:"description"`
			Key         string           `json:"key"`
			WriteKey    string           `json:"write_key,omitempty"`
			Class       registers.Class  `json:"class"`
			Unit        string           `json:"unit,omitempty"`
			Min         *float64         `json:"min,omitempty"`
			Max         *float64         `json:"max,omitempty"`
			Options     map[string]int64 `json:"options,omitempty"`
		}
		var entries []entry
		for _, reg := range registers.All() {
			e := entry{
				Name:        reg.Name,
				Description: reg.Description,
				Key:         reg.Key,
				WriteKey:    reg.WriteKey,
				Class:       reg.Class,
				Unit:        reg.Unit,
			}
			if reg.Class == registers.ClassSetpoint {
				lo, hi := reg.Min, reg.Max
				e.Min, e.Max = &lo, &hi
			}
			if len(reg.Options) > 0 {
				e.Options = make(map[string]int64, len(reg.Options))
				for _, opt := range reg.Options {
					e.Options[opt.Label] = opt.Value
				}
			}
			entries = append(entries, e)
		}
		return writeJSON(out, entries)
	}

	for _, reg := range registers.All() {
		fmt.Fprintf(out, "%-28s %-9s %-5s %s\n", reg.Name, reg.Class, reg.Unit, registerLimits(reg))
	}
	return nil
}

// registerLimits describes what a register accepts
func registerLimits(reg registers.Register) string {
	switch {
	case !reg.Writable():
		return "read-only"
	case len(reg.Options) > 0:
		labels := make([]string, 0, len(reg.Options))
		for _, opt := range reg.Options {
			labels = append(labels, fmt.Sprintf("%s=%d", opt.Label, opt.Value))
		}
		return strings.Join(labels, " ")
	default:
		return fmt.Sprintf("%g..%g", reg.Min, reg.Max)
	}
}

func lookupRegister(name string) (registers.Register, error) {
	reg, ok := registers.Lookup(name)
	if !ok {
		return registers.Register{}, fmt.Errorf("%w: %s (see 'acondctl registers')", coordinator.ErrUnknownRegister, name)
	}
	return reg, nil
}

// completeRegisters completes the first argument with register names
func completeRegisters(writableOnly bool) func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	return func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		if len(args) > 0 {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		var names []string
		for _, reg := range registers.All() {
			if writableOnly && !reg.Writable() {
				continue
			}
			if strings.HasPrefix(reg.Name, toComplete) {
				names = append(names, reg.Name)
			}
		}
		return names, cobra.ShellCompDirectiveNoFileComp
	}
}
