// Acondctl reads and controls an Acond heat pump through the web interface
// of its controller.
//
// It logs in with the web interface credentials, reads the data pages and
// shows the decoded registers, writes setpoints and modes, watches the
// controller live, finds controllers on the LAN and queries the reading
// history recorded by acond-server.
//
// Usage:
//
//	acondctl [command] [flags]
//
// See 'acondctl --help' for available commands.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/muurk/acond/internal/logging"
	"github.com/muurk/acond/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	logging.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "acondctl",
	Short: "Acond heat pump controller utility",
	Long: `A command line client for Acond heat pump controllers.

Reads the values shown on the controller's web pages, writes setpoints and
operating modes, and watches the heat pump live. The controller address and
user come from --device/--user, ACOND_DEVICE/ACOND_USER or the config file;
the password from --password, ACOND_PASSWORD or device.password_file.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Initialize(logLevel)
	},
}

func init() {
	// Disable automatic completion command generation
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "acondctl %s\n", version.Full())
	},
}
