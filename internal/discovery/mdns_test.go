package discovery

import (
	"net"
	"regexp"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
)

func entry(instance, host string, port int, ipv4 ...string) *zeroconf.ServiceEntry {
	e := zeroconf.NewServiceEntry(instance, ServiceType, ServiceDomain)
	e.HostName = host
	e.Port = port
	for _, ip := range ipv4 {
		e.AddrIPv4 = append(e.AddrIPv4, net.ParseIP(ip))
	}
	return e
}

func TestScanner_parseServiceEntry(t *testing.T) {
	scanner := NewScanner()

	tests := []struct {
		name     string
		entry    *zeroconf.ServiceEntry
		wantNil  bool
		wantName string
		wantIP   string
		wantPort int
	}{
		{
			name:     "instance name matches",
			entry:    entry("Acond TCM", "controller.local.", 443, "192.168.1.50"),
			wantName: "Acond TCM",
			wantIP:   "192.168.1.50",
			wantPort: 443,
		},
		{
			name:     "host name matches, instance empty",
			entry:    entry("", "tcm-0a1b2c.local.", 80, "10.0.0.5"),
			wantName: "tcm-0a1b2c.local",
			wantIP:   "10.0.0.5",
			wantPort: 80,
		},
		{
			name:     "case insensitive",
			entry:    entry("HEATPUMP", "x.local.", 443, "10.0.0.6"),
			wantName: "HEATPUMP",
			wantIP:   "10.0.0.6",
			wantPort: 443,
		},
		{
			name:    "unrelated service",
			entry:   entry("Living room printer", "printer.local.", 80, "192.168.1.9"),
			wantNil: true,
		},
		{
			name:    "no address",
			entry:   entry("Acond TCM", "tcm.local.", 443),
			wantNil: true,
		},
		{
			name:    "nil entry",
			entry:   nil,
			wantNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := scanner.parseServiceEntry(tt.entry)
			if tt.wantNil {
				if d != nil {
					t.Errorf("parseServiceEntry() = %v, want nil", d)
				}
				return
			}
			if d == nil {
				t.Fatal("parseServiceEntry() = nil, want a device")
			}
			if d.Name != tt.wantName {
				t.Errorf("Name = %v, want %v", d.Name, tt.wantName)
			}
			if d.IP != tt.wantIP {
				t.Errorf("IP = %v, want %v", d.IP, tt.wantIP)
			}
			if d.Port != tt.wantPort {
				t.Errorf("Port = %v, want %v", d.Port, tt.wantPort)
			}
			if !d.Matched {
				t.Error("Matched = false for a matching entry")
			}
			if time.Since(d.DiscoveredAt) > time.Minute {
				t.Errorf("DiscoveredAt = %v, want now", d.DiscoveredAt)
			}
		})
	}
}

func TestScanner_parseServiceEntry_All(t *testing.T) {
	scanner := NewScanner()
	scanner.All = true

	d := scanner.parseServiceEntry(entry("Living room printer", "printer.local.", 80, "192.168.1.9"))
	if d == nil {
		t.Fatal("parseServiceEntry() = nil with All set")
	}
	if d.Matched {
		t.Error("Matched = true for an unrelated service")
	}
}

func TestScanner_parseServiceEntry_IPv6Fallback(t *testing.T) {
	e := entry("Acond TCM", "tcm.local.", 443)
	e.AddrIPv6 = []net.IP{net.ParseIP("fe80::1")}

	d := NewScanner().parseServiceEntry(e)
	if d == nil || d.IP != "fe80::1" {
		t.Errorf("parseServiceEntry() = %v, want IP fe80::1", d)
	}
}

func TestScanner_parseServiceEntry_Metadata(t *testing.T) {
	e := entry("Acond TCM", "tcm.local.", 443, "192.168.1.50")
	e.Text = []string{"path=/SYSWWW/", "model=TCM 2", "flag"}

	d := NewScanner().parseServiceEntry(e)
	if d == nil {
		t.Fatal("parseServiceEntry() = nil")
	}
	if got := d.GetMetadata("path"); got != "/SYSWWW/" {
		t.Errorf("metadata path = %q, want /SYSWWW/", got)
	}
	if got := d.GetMetadata("model"); got != "TCM 2" {
		t.Errorf("metadata model = %q, want TCM 2", got)
	}
	if _, ok := d.Metadata["flag"]; !ok {
		t.Error("metadata key without value missing")
	}
}

func TestNewScannerWithPattern(t *testing.T) {
	s, err := NewScannerWithPattern(2*time.Second, `^boiler`)
	if err != nil {
		t.Fatalf("NewScannerWithPattern() error = %v", err)
	}
	if s.Timeout != 2*time.Second {
		t.Errorf("Timeout = %v, want 2s", s.Timeout)
	}
	if s.parseServiceEntry(entry("boiler room", "b.local.", 443, "10.0.0.7")) == nil {
		t.Error("custom pattern did not match")
	}
	if s.parseServiceEntry(entry("Acond TCM", "tcm.local.", 443, "10.0.0.8")) != nil {
		t.Error("default pattern still applied with a custom one")
	}

	if _, err := NewScannerWithPattern(0, "("); err == nil {
		t.Error("NewScannerWithPattern(\"(\") error = nil")
	}

	s, _ = NewScannerWithPattern(0, "")
	if s.Timeout != DefaultScanTimeout || s.pattern() != defaultPattern {
		t.Errorf("defaults not applied: timeout %v", s.Timeout)
	}
}

func TestSortDevices(t *testing.T) {
	devices := []*Device{
		{Name: "printer", IP: "10.0.0.3"},
		{Name: "tcm-b", IP: "10.0.0.2", Matched: true},
		{Name: "tcm-a", IP: "10.0.0.9", Matched: true},
	}
	sortDevices(devices)

	want := []string{"tcm-a", "tcm-b", "printer"}
	for i, name := range want {
		if devices[i].Name != name {
			t.Errorf("devices[%d] = %v, want %v", i, devices[i].Name, name)
		}
	}
}

func TestDefaultPatternCompiles(t *testing.T) {
	if _, err := regexp.Compile(DefaultPattern); err != nil {
		t.Errorf("DefaultPattern does not compile: %v", err)
	}
}
