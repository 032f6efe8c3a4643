package main

import (
	"fmt"

	"github.com/muurk/acond/internal/config"
	"github.com/muurk/acond/internal/device"
	"github.com/muurk/acond/internal/logging"
	"go.uber.org/zap"
)

// Global flags
var (
	deviceAddr   string
	username     string
	password     string
	configPath   string
	outputFormat string
	insecureHTTP bool
	logLevel     string
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&deviceAddr, "device", "", "Controller address, URL or remembered device name")
	flags.StringVar(&username, "user", "", "Web interface user (default from config, \"acond\")")
	flags.StringVar(&password, "password", "", "Web interface password (prefer "+config.PasswordEnvVar+")")
	flags.StringVar(&configPath, "config", "", "Config file (default "+defaultConfigHint()+")")
	flags.StringVar(&outputFormat, "format", "detailed", "Output format (detailed, compact, json)")
	flags.BoolVar(&insecureHTTP, "insecure-http", false, "Talk plain HTTP instead of HTTPS")
	flags.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); silent when unset")
}

func defaultConfigHint() string {
	if p, err := config.GetConfigPath(); err == nil {
		return p
	}
	return "$XDG_CONFIG_HOME/acond/config.yaml"
}

// loadConfig reads the config file and applies environment and flag
// overrides
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	applyFlags(cfg)
	return cfg, nil
}

func applyFlags(cfg *config.Config) {
	if deviceAddr != "" {
		cfg.Device.Address = deviceAddr
	}
	if username != "" {
		cfg.Device.Username = username
	}
	if insecureHTTP {
		cfg.Device.Scheme = "http"
	}

	if instance, known, ok := cfg.LookupKnown(cfg.Device.Address); ok && known.LastIP != "" {
		logging.Debug("Using remembered device",
			zap.String("name", instance),
			zap.String("ip", known.LastIP),
		)
		cfg.Device.Address = known.Address()
		if known.Port == 80 {
			cfg.Device.Scheme = "http"
		}
	}
}

// newClient loads the config and builds a client for the controller
func newClient() (*config.Config, *device.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.ValidateDevice(); err != nil {
		return nil, nil, err
	}
	pw, err := cfg.ResolvePassword(password)
	if err != nil {
		return nil, nil, err
	}
	return cfg, cfg.Device.NewClient(pw), nil
}

func validateFormat() error {
	switch outputFormat {
	case "detailed", "compact", "json":
		return nil
	default:
		return fmt.Errorf("invalid --format %q (detailed, compact, json)", outputFormat)
	}
}

// deviceParams is the header parameter block for controller commands
func deviceParams(cfg *config.Config) map[string]string {
	return map[string]string{
		"Device": cfg.Device.BaseURL(),
		"User":   cfg.Device.Username,
	}
}
