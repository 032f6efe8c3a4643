package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/muurk/acond/internal/device"
)

func TestGetConfigDir(t *testing.T) {
	configDir, err := GetConfigDir()
	if err != nil {
		t.Fatalf("GetConfigDir() error = %v", err)
	}

	if !strings.Contains(configDir, "acond") {
		t.Errorf("GetConfigDir() = %v, should contain 'acond'", configDir)
	}

	if runtime.GOOS == "linux" {
		t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
		dir, _ := GetConfigDir()
		if dir != "/tmp/xdg/acond" {
			t.Errorf("GetConfigDir() with XDG_CONFIG_HOME = %v, want /tmp/xdg/acond", dir)
		}
	}
}

func TestGetConfigPath_EnvOverride(t *testing.T) {
	t.Setenv(PathEnvVar, "/etc/acond.yaml")

	configPath, err := GetConfigPath()
	if err != nil {
		t.Fatalf("GetConfigPath() error = %v", err)
	}
	if configPath != "/etc/acond.yaml" {
		t.Errorf("GetConfigPath() = %v, want /etc/acond.yaml", configPath)
	}
}

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Version != 1 {
		t.Errorf("Version = %v, want 1", cfg.Version)
	}
	if cfg.Polling.Interval != 30*time.Second {
		t.Errorf("Polling.Interval = %v, want 30s", cfg.Polling.Interval)
	}
	if cfg.Polling.FailureThreshold != 3 {
		t.Errorf("Polling.FailureThreshold = %v, want 3", cfg.Polling.FailureThreshold)
	}
	if cfg.Device.Timeout != 30*time.Second {
		t.Errorf("Device.Timeout = %v, want 30s", cfg.Device.Timeout)
	}
	if len(cfg.Device.Pages) != 2 {
		t.Errorf("Device.Pages = %v, want the two default pages", cfg.Device.Pages)
	}
}

func TestParse_PartialFileKeepsDefaults(t *testing.T) {
	doc := `
version: 1
device:
  address: 192.168.1.50
  timeout: 15s
polling:
  interval: 2m
`
	cfg, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Device.Address != "192.168.1.50" {
		t.Errorf("Device.Address = %v, want 192.168.1.50", cfg.Device.Address)
	}
	if cfg.Device.Timeout != 15*time.Second {
		t.Errorf("Device.Timeout = %v, want 15s", cfg.Device.Timeout)
	}
	if cfg.Polling.Interval != 2*time.Minute {
		t.Errorf("Polling.Interval = %v, want 2m", cfg.Polling.Interval)
	}
	if cfg.Device.Scheme != "https" || cfg.Server.Listen != ":8080" {
		t.Errorf("defaults not applied: scheme=%q listen=%q", cfg.Device.Scheme, cfg.Server.Listen)
	}
	if cfg.Device.BaseURL() != "https://192.168.1.50" {
		t.Errorf("BaseURL() = %v, want https://192.168.1.50", cfg.Device.BaseURL())
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unsupported version", "version: 2\n"},
		{"inline password", "device:\n  password: hunter2\n"},
		{"bad duration", "polling:\n  interval: soon\n"},
		{"not yaml", "device: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.doc)); err == nil {
				t.Errorf("Parse(%q) error = nil, want error", tt.doc)
			}
		})
	}
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse(nil) error = %v", err)
	}
	if cfg.Server.Listen != ":8080" {
		t.Errorf("Server.Listen = %v, want :8080", cfg.Server.Listen)
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")

	cfg := Default()
	cfg.Device.Address = "heatpump.lan"
	cfg.Device.PasswordFile = "/run/secrets/acond"
	cfg.Polling.Interval = 5 * time.Minute
	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.RememberDevice("Acond TCM", "192.168.1.50", 443)

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm() != 0600 {
		t.Errorf("file mode = %v, want 0600", info.Mode().Perm())
	}
	if _, err := os.Stat(path + ".tmp"); !errors.Is(err, os.ErrNotExist) {
		t.Error("temporary file left behind")
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Device.Address != "heatpump.lan" {
		t.Errorf("Device.Address = %v, want heatpump.lan", loaded.Device.Address)
	}
	if loaded.Polling.Interval != 5*time.Minute {
		t.Errorf("Polling.Interval = %v, want 5m", loaded.Polling.Interval)
	}
	if loaded.MQTT.Broker != "tcp://localhost:1883" {
		t.Errorf("MQTT.Broker = %v, want tcp://localhost:1883", loaded.MQTT.Broker)
	}
	known := loaded.Known["Acond TCM"]
	if known == nil || known.LastIP != "192.168.1.50" || known.Port != 443 {
		t.Errorf("Known[Acond TCM] = %+v, want the remembered device", known)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("ACOND_DEVICE", "10.0.0.9")
	t.Setenv("ACOND_USER", "service")

	cfg := Default()
	cfg.ApplyEnv()
	if cfg.Device.Address != "10.0.0.9" || cfg.Device.Username != "service" {
		t.Errorf("ApplyEnv() device = %+v", cfg.Device)
	}
}

func TestDeviceConfig_NewClient(t *testing.T) {
	cfg := Default()
	cfg.Device.Address = "heatpump.lan:8443"
	cfg.Device.Timeout = 15 * time.Second
	cfg.Device.Pages = []string{"/PAGE200.XML"}
	cfg.Device.Session = "persistent"

	c := cfg.Device.NewClient("secret")
	if c.BaseURL != "https://heatpump.lan:8443" {
		t.Errorf("BaseURL = %v, want https://heatpump.lan:8443", c.BaseURL)
	}
	if c.Timeout != 15*time.Second || c.Password != "secret" || c.Username != "acond" {
		t.Errorf("client = %+v", c)
	}
	if len(c.Pages) != 1 || c.Pages[0] != "/PAGE200.XML" {
		t.Errorf("Pages = %v, want [/PAGE200.XML]", c.Pages)
	}
	if _, ok := c.Sessions.(*device.PersistentSession); !ok {
		t.Errorf("Sessions = %T, want *device.PersistentSession", c.Sessions)
	}

	cfg.Device.Address = "http://10.0.0.5/"
	if got := cfg.Device.BaseURL(); got != "http://10.0.0.5" {
		t.Errorf("BaseURL() = %v, want http://10.0.0.5", got)
	}
}

func TestLookupKnown(t *testing.T) {
	cfg := Default()
	cfg.RememberDevice("Acond TCM", "192.168.1.50", 8443).Nickname = "basement"
	cfg.RememberDevice("Other", "192.168.1.51", 443)

	tests := []struct {
		name     string
		wantOK   bool
		wantAddr string
	}{
		{"acond tcm", true, "192.168.1.50:8443"},
		{"Basement", true, "192.168.1.50:8443"},
		{"other", true, "192.168.1.51"},
		{"nope", false, ""},
	}
	for _, tt := range tests {
		_, known, ok := cfg.LookupKnown(tt.name)
		if ok != tt.wantOK {
			t.Errorf("LookupKnown(%q) ok = %v, want %v", tt.name, ok, tt.wantOK)
			continue
		}
		if ok && known.Address() != tt.wantAddr {
			t.Errorf("LookupKnown(%q).Address() = %v, want %v", tt.name, known.Address(), tt.wantAddr)
		}
	}
}
