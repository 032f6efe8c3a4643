package config

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/muurk/acond/internal/coordinator"
	"github.com/muurk/acond/internal/device"
)

// CurrentVersion is the config file format version
const CurrentVersion = 1

// Config represents the entire configuration file.
type Config struct {
	Version   int                     `yaml:"version"`
	Device    DeviceConfig            `yaml:"device"`
	Polling   PollingConfig           `yaml:"polling"`
	Server    ServerConfig            `yaml:"server"`
	MQTT      MQTTConfig              `yaml:"mqtt"`
	History   HistoryConfig           `yaml:"history"`
	Discovery DiscoveryConfig         `yaml:"discovery"`
	Known     map[string]*KnownDevice `yaml:"known_devices,omitempty"` // Keyed by mDNS instance name
}

// DeviceConfig describes how to reach the controller.
// Note: the password is NEVER stored here, only the path of a file holding it.
type DeviceConfig struct {
	Address      string        `yaml:"address"`                 // Host or host:port
	Scheme       string        `yaml:"scheme"`                  // "https" (default) or "http"
	Username     string        `yaml:"username"`                // Web interface user
	PasswordFile string        `yaml:"password_file,omitempty"` // File containing the password
	LoginPath    string        `yaml:"login_path"`              // Login form path
	Pages        []string      `yaml:"pages"`                   // Data pages, first one accepts writes
	Timeout      time.Duration `yaml:"timeout"`                 // Per-operation timeout
	Session      string        `yaml:"session"`                 // "disposable" or "persistent"
}

// PollingConfig controls the background refresh
type PollingConfig struct {
	Interval         time.Duration `yaml:"interval"`
	FailureThreshold int           `yaml:"failure_threshold"` // Failed refreshes before data is unavailable
}

// ServerConfig controls the API server
type ServerConfig struct {
	Listen   string `yaml:"listen"`
	CertFile string `yaml:"cert_file,omitempty"` // TLS is enabled when both are set
	KeyFile  string `yaml:"key_file,omitempty"`
}

// MQTTConfig controls the MQTT bridge. The bridge is off while Broker is empty.
type MQTTConfig struct {
	Broker       string `yaml:"broker,omitempty"` // e.g. tcp://localhost:1883
	Username     string `yaml:"username,omitempty"`
	PasswordFile string `yaml:"password_file,omitempty"`
	Prefix       string `yaml:"prefix"`
	ClientID     string `yaml:"client_id"`
	Retain       bool   `yaml:"retain"`
}

// HistoryConfig controls the reading history. History is off while Path is empty.
type HistoryConfig struct {
	Path      string        `yaml:"path,omitempty"`
	Retention time.Duration `yaml:"retention"`
}

// DiscoveryConfig controls mDNS scanning
type DiscoveryConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	Pattern string        `yaml:"pattern"` // Regular expression matched against instance and host names
}

// KnownDevice remembers a controller found by a scan.
type KnownDevice struct {
	Nickname string    `yaml:"nickname,omitempty"`
	LastIP   string    `yaml:"last_ip,omitempty"`
	Port     int       `yaml:"port,omitempty"`
	LastSeen time.Time `yaml:"last_seen,omitempty"`
}

// Default returns a configuration with every default filled in.
func Default() *Config {
	return &Config{
		Version: CurrentVersion,
		Device: DeviceConfig{
			Scheme:    "https",
			Username:  device.DefaultUsername,
			LoginPath: device.DefaultLoginPath,
			Pages:     append([]string(nil), device.DefaultPages...),
			Timeout:   device.DefaultTimeout,
			Session:   "disposable",
		},
		Polling: PollingConfig{
			Interval:         coordinator.DefaultInterval,
			FailureThreshold: coordinator.DefaultFailureThreshold,
		},
		Server: ServerConfig{
			Listen: ":8080",
		},
		MQTT: MQTTConfig{
			Prefix:   "acond",
			ClientID: "acond-server",
			Retain:   true,
		},
		History: HistoryConfig{
			Retention: 30 * 24 * time.Hour,
		},
		Discovery: DiscoveryConfig{
			Timeout: 5 * time.Second,
			Pattern: "(?i)acond|tcm|heat",
		},
		Known: make(map[string]*KnownDevice),
	}
}

// applyDefaults fills zero fields from Default
func (c *Config) applyDefaults() {
	def := Default()

	if c.Device.Scheme == "" {
		c.Device.Scheme = def.Device.Scheme
	}
	if c.Device.Username == "" {
		c.Device.Username = def.Device.Username
	}
	if c.Device.LoginPath == "" {
		c.Device.LoginPath = def.Device.LoginPath
	}
	if len(c.Device.Pages) == 0 {
		c.Device.Pages = def.Device.Pages
	}
	if c.Device.Timeout == 0 {
		c.Device.Timeout = def.Device.Timeout
	}
	if c.Device.Session == "" {
		c.Device.Session = def.Device.Session
	}
	if c.Polling.Interval == 0 {
		c.Polling.Interval = def.Polling.Interval
	}
	if c.Polling.FailureThreshold == 0 {
		c.Polling.FailureThreshold = def.Polling.FailureThreshold
	}
	if c.Server.Listen == "" {
		c.Server.Listen = def.Server.Listen
	}
	if c.MQTT.Prefix == "" {
		c.MQTT.Prefix = def.MQTT.Prefix
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = def.MQTT.ClientID
	}
	if c.History.Retention == 0 {
		c.History.Retention = def.History.Retention
	}
	if c.Discovery.Timeout == 0 {
		c.Discovery.Timeout = def.Discovery.Timeout
	}
	if c.Discovery.Pattern == "" {
		c.Discovery.Pattern = def.Discovery.Pattern
	}
	if c.Known == nil {
		c.Known = make(map[string]*KnownDevice)
	}
}

// BaseURL returns the controller URL built from Address and Scheme. An
// address that already carries a scheme is used as is.
func (d DeviceConfig) BaseURL() string {
	if strings.Contains(d.Address, "://") {
		return strings.TrimRight(d.Address, "/")
	}
	scheme := d.Scheme
	if scheme == "" {
		scheme = "https"
	}
	return scheme + "://" + d.Address
}

// NewClient builds a device client from the section
func (d DeviceConfig) NewClient(password string) *device.Client {
	c := device.NewClientWithURL(d.BaseURL(), d.Username, password)
	if d.LoginPath != "" {
		c.LoginPath = d.LoginPath
	}
	if len(d.Pages) > 0 {
		c.Pages = append([]string(nil), d.Pages...)
	}
	if d.Timeout > 0 {
		c.Timeout = d.Timeout
	}
	c.Sessions = device.NewSessionStore(d.Session)
	return c
}

// LookupKnown finds a remembered controller by instance name or nickname
// (case-insensitive).
func (c *Config) LookupKnown(name string) (string, *KnownDevice, bool) {
	for instance, known := range c.Known {
		if known == nil {
			continue
		}
		if strings.EqualFold(instance, name) || (known.Nickname != "" && strings.EqualFold(known.Nickname, name)) {
			return instance, known, true
		}
	}
	return "", nil, false
}

// Address returns host or host:port of a remembered controller
func (k *KnownDevice) Address() string {
	if k.Port == 0 || k.Port == 443 || k.Port == 80 {
		return k.LastIP
	}
	return net.JoinHostPort(k.LastIP, strconv.Itoa(k.Port))
}

// RememberDevice records a controller seen by a scan.
func (c *Config) RememberDevice(name, ip string, port int) *KnownDevice {
	if c.Known == nil {
		c.Known = make(map[string]*KnownDevice)
	}
	known, ok := c.Known[name]
	if !ok {
		known = &KnownDevice{}
		c.Known[name] = known
	}
	known.LastIP = ip
	known.Port = port
	known.LastSeen = time.Now()
	return known
}
