package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/muurk/acond/internal/coordinator"
	"github.com/muurk/acond/internal/device"
)

// PasswordEnvVar and MQTTPasswordEnvVar hold secrets outside the file
const (
	PasswordEnvVar     = "ACOND_PASSWORD"
	MQTTPasswordEnvVar = "ACOND_MQTT_PASSWORD"
)

// ErrNoPassword is returned when no password source is configured
var ErrNoPassword = errors.New("no password configured (use --password, " + PasswordEnvVar + " or device.password_file)")

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() error {
	var errs []error

	if c.Device.Scheme != "https" && c.Device.Scheme != "http" {
		errs = append(errs, fmt.Errorf("device.scheme must be https or http, got %q", c.Device.Scheme))
	}
	if c.Device.Timeout < device.MinTimeout || c.Device.Timeout > device.MaxTimeout {
		errs = append(errs, fmt.Errorf("device.timeout must be between %v and %v, got %v",
			device.MinTimeout, device.MaxTimeout, c.Device.Timeout))
	}
	if c.Device.Session != "disposable" && c.Device.Session != "persistent" {
		errs = append(errs, fmt.Errorf("device.session must be disposable or persistent, got %q", c.Device.Session))
	}
	if !strings.HasPrefix(c.Device.LoginPath, "/") {
		errs = append(errs, fmt.Errorf("device.login_path must start with /, got %q", c.Device.LoginPath))
	}
	for _, p := range c.Device.Pages {
		if !strings.HasPrefix(p, "/") {
			errs = append(errs, fmt.Errorf("device.pages entry must start with /, got %q", p))
		}
	}

	if c.Polling.Interval < coordinator.MinInterval || c.Polling.Interval > coordinator.MaxInterval {
		errs = append(errs, fmt.Errorf("polling.interval must be between %v and %v, got %v",
			coordinator.MinInterval, coordinator.MaxInterval, c.Polling.Interval))
	}
	if c.Polling.FailureThreshold < 1 {
		errs = append(errs, fmt.Errorf("polling.failure_threshold must be at least 1, got %d", c.Polling.FailureThreshold))
	}

	if (c.Server.CertFile == "") != (c.Server.KeyFile == "") {
		errs = append(errs, errors.New("server.cert_file and server.key_file must be set together"))
	}

	if c.MQTT.Broker != "" && strings.ContainsAny(c.MQTT.Prefix, "#+") {
		errs = append(errs, fmt.Errorf("mqtt.prefix must not contain wildcards, got %q", c.MQTT.Prefix))
	}

	if _, err := regexp.Compile(c.Discovery.Pattern); err != nil {
		errs = append(errs, fmt.Errorf("discovery.pattern: %w", err))
	}

	return errors.Join(errs...)
}

// ValidateDevice additionally requires a controller address
func (c *Config) ValidateDevice() error {
	if strings.TrimSpace(c.Device.Address) == "" {
		return errors.Join(errors.New("device.address is not set (use --device or ACOND_DEVICE)"), c.Validate())
	}
	return c.Validate()
}

// ResolvePassword returns the controller password from, in order: the flag
// value, ACOND_PASSWORD, device.password_file.
func (c *Config) ResolvePassword(flagValue string) (string, error) {
	return resolveSecret(flagValue, PasswordEnvVar, c.Device.PasswordFile, ErrNoPassword)
}

// ResolveMQTTPassword returns the broker password, or "" when none is set.
func (c *Config) ResolveMQTTPassword() (string, error) {
	return resolveSecret("", MQTTPasswordEnvVar, c.MQTT.PasswordFile, nil)
}

func resolveSecret(flagValue, envVar, file string, missing error) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if v := os.Getenv(envVar); v != "" {
		return v, nil
	}
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("failed to read password file: %w", err)
		}
		return strings.TrimRight(string(data), "\r\n"), nil
	}
	if missing != nil {
		return "", missing
	}
	return "", nil
}
