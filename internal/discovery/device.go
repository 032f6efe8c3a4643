package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/muurk/acond/internal/device"
)

// Device is an HTTP service found on the local network that may be an Acond
// controller
type Device struct {
	// Name is the advertised mDNS instance name (e.g. "Acond TCM")
	Name string

	// Host is the mDNS host name (e.g. "tcm-0a1b2c.local.")
	Host string

	// IP is the address to connect to, IPv4 when advertised
	IP string

	// Port is the advertised port
	Port int

	// Metadata holds the TXT record as key/value pairs
	Metadata map[string]string

	// Matched is false for services listed only because every service was
	// requested
	Matched bool

	// Reachable is set by Probe
	Reachable bool
	ProbeErr  error

	DiscoveredAt time.Time
}

func (d *Device) String() string {
	return fmt.Sprintf("%s (%s) at %s", d.Name, d.Host, d.Address())
}

// Address returns host:port, or just the IP for the scheme's default port
func (d *Device) Address() string {
	if d.Port == 0 || d.Port == 80 || d.Port == 443 {
		return d.IP
	}
	return net.JoinHostPort(d.IP, strconv.Itoa(d.Port))
}

// BaseURL returns the URL a device.Client should use. Controllers
// advertised on port 80 are reached over plain HTTP, everything else over
// HTTPS.
func (d *Device) BaseURL() string {
	scheme := "https"
	if d.Port == 80 {
		scheme = "http"
	}
	host := d.IP
	if d.Port != 0 && d.Port != 80 && d.Port != 443 {
		host = net.JoinHostPort(d.IP, strconv.Itoa(d.Port))
	} else if ip := net.ParseIP(d.IP); ip != nil && ip.To4() == nil {
		host = "[" + d.IP + "]"
	}
	return scheme + "://" + host
}

// GetMetadata returns a TXT value, or "" when absent
func (d *Device) GetMetadata(key string) string {
	if d.Metadata == nil {
		return ""
	}
	return d.Metadata[key]
}

// Probe checks that the device answers like a controller by requesting its
// login page. The result is stored in Reachable and ProbeErr.
func (d *Device) Probe(ctx context.Context, timeout time.Duration) error {
	client := device.NewClientWithURL(d.BaseURL(), "", "")
	if timeout > 0 {
		client.Timeout = timeout
	}
	err := client.Ping(ctx)
	d.Reachable = err == nil
	d.ProbeErr = err
	return err
}
