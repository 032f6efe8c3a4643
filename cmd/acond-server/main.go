// Acond-server polls an Acond heat pump controller and serves its values.
//
// It keeps one session with the controller, refreshes the data pages at the
// configured interval and exposes the decoded registers over a JSON API, a
// WebSocket stream and Prometheus metrics. Optionally it mirrors the values
// to an MQTT broker and records changes to a SQLite history.
//
// Usage:
//
//	acond-server serve [flags]
//
// See 'acond-server serve --help' for available options.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muurk/acond/internal/config"
	"github.com/muurk/acond/internal/coordinator"
	"github.com/muurk/acond/internal/device"
	"github.com/muurk/acond/internal/history"
	"github.com/muurk/acond/internal/logging"
	"github.com/muurk/acond/internal/mqttbridge"
	"github.com/muurk/acond/internal/server"
	"github.com/muurk/acond/internal/version"
)

// pruneInterval is how often old history rows are removed
const pruneInterval = time.Hour

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
	Use:   "acond-server",
	Short: "Acond heat pump polling daemon",
	Long: `A daemon that polls an Acond heat pump controller and serves its values.

The API answers from the last snapshot; writes are validated against the
register catalog and followed by a refresh. MQTT and history are enabled in
the config file.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

var (
	configPath string
	listenAddr string
	logLevel   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Poll the controller and start the API server",
	Long: `Log in to the controller, start polling and serve the API.

A rejected login stops the daemon at startup. Any other failure of the first
read is logged and polling keeps trying; the API answers 503 until a
snapshot is available.

A login rejected later pauses polling. After fixing device.password_file
send SIGHUP: the password is read again and polling resumes.`,
	Example: `  # Start with the default config file
  ACOND_PASSWORD=secret acond-server serve

  # Custom config and listen address
  acond-server serve --config /etc/acond/config.yaml --listen 127.0.0.1:9090

  # Verbose logging
  acond-server serve --log-level debug`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "", "Config file (default $XDG_CONFIG_HOME/acond/config.yaml or ACOND_CONFIG)")
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address (default server.listen from the config)")
	serveCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := logging.Initialize(logLevel); err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg.ApplyEnv()
	if listenAddr != "" {
		cfg.Server.Listen = listenAddr
	}
	if err := cfg.ValidateDevice(); err != nil {
		return err
	}
	pw, err := cfg.ResolvePassword("")
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	client := cfg.Device.NewClient(pw)
	coord := coordinator.New(client, coordinator.Options{
		Interval:         cfg.Polling.Interval,
		FailureThreshold: cfg.Polling.FailureThreshold,
	})
	defer coord.Stop()

	logging.Info("Starting acond-server",
		zap.String("version", version.Version),
		zap.String("device", cfg.Device.BaseURL()),
		zap.Duration("interval", coord.Options().Interval),
	)

	if err := startPolling(ctx, coord); err != nil {
		return err
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				reloadCredentials(ctx, func() (string, error) {
					fresh, err := config.Load(configPath)
					if err != nil {
						return "", err
					}
					fresh.ApplyEnv()
					return fresh.ResolvePassword("")
				}, client, coord)
			}
		}
	}()

	if cfg.History.Path != "" {
		store, err := history.Open(ctx, cfg.History.Path)
		if err != nil {
			return err
		}
		defer store.Close()
		unsubscribe := coord.Subscribe(store.Observer())
		defer unsubscribe()
		if snap, ok := coord.Current(); ok {
			if _, err := store.Record(ctx, snap); err != nil {
				logging.Warn("Failed to record history", zap.Error(err))
			}
		}
		go store.PruneLoop(ctx, cfg.History.Retention, pruneInterval)
		logging.Info("History enabled",
			zap.String("path", cfg.History.Path),
			zap.Duration("retention", cfg.History.Retention),
		)
	}

	if cfg.MQTT.Broker != "" {
		mqttPassword, err := cfg.ResolveMQTTPassword()
		if err != nil {
			return err
		}
		bridge, err := mqttbridge.Connect(mqttbridge.ClientConfig{
			Broker:   cfg.MQTT.Broker,
			Username: cfg.MQTT.Username,
			Password: mqttPassword,
			ClientID: cfg.MQTT.ClientID,
		}, coord, cfg.MQTT.Prefix, cfg.MQTT.Retain)
		if err != nil {
			return fmt.Errorf("failed to connect to MQTT broker: %w", err)
		}
		defer bridge.Stop()
		logging.Info("MQTT bridge enabled",
			zap.String("broker", cfg.MQTT.Broker),
			zap.String("prefix", cfg.MQTT.Prefix),
		)
	}

	srv, err := server.New(server.Config{
		Listen:   cfg.Server.Listen,
		CertFile: cfg.Server.CertFile,
		KeyFile:  cfg.Server.KeyFile,
	}, coord)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	return srv.Start(ctx)
}

// startPolling runs the first refresh. A rejected login is returned; other
// failures are retried in the background at the polling interval.
func startPolling(ctx context.Context, coord *coordinator.Coordinator) error {
	err := coord.Start(ctx)
	switch {
	case err == nil:
		return nil
	case device.IsAuthError(err):
		return fmt.Errorf("controller rejected the login: %w", err)
	case errors.Is(err, context.Canceled):
		return err
	}

	logging.Warn("First read failed, retrying in the background",
		zap.String("error", device.ShortMessage(err)),
	)
	go retryStart(ctx, coord, coord.Options().Interval)
	return nil
}

func retryStart(ctx context.Context, coord *coordinator.Coordinator, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		err := coord.Start(ctx)
		switch {
		case err == nil, errors.Is(err, coordinator.ErrAlreadyStarted):
			return
		case device.IsAuthError(err):
			logging.Error("Controller rejected the login, polling stopped",
				zap.String("error", device.ShortMessage(err)),
			)
			return
		default:
			logging.Warn("Controller still unavailable",
				zap.String("error", device.ShortMessage(err)),
			)
		}
	}
}

type passwordSetter interface {
	SetPassword(password string)
}

// reloadCredentials installs a freshly resolved password, clears an
// authentication failure and reads the controller again
func reloadCredentials(ctx context.Context, resolve func() (string, error), client passwordSetter, coord *coordinator.Coordinator) {
	pw, err := resolve()
	if err != nil {
		logging.Error("Failed to reload the password", zap.Error(err))
		return
	}
	client.SetPassword(pw)
	coord.ResetAuth()
	logging.Info("Password reloaded")

	err = coord.Start(ctx)
	if errors.Is(err, coordinator.ErrAlreadyStarted) {
		_, err = coord.RefreshNow(ctx)
	}
	if err != nil {
		logging.Warn("Refresh after password reload failed",
			zap.String("error", device.ShortMessage(err)),
		)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "acond-server %s\n", version.Full())
	},
}
