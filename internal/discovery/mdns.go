package discovery

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/muurk/acond/internal/logging"
	"go.uber.org/zap"
)

const (
	// ServiceType is the mDNS service type the controller's web server
	// advertises
	ServiceType = "_http._tcp"

	// ServiceDomain is the mDNS domain
	ServiceDomain = "local."

	// DefaultScanTimeout is how long a scan listens for answers
	DefaultScanTimeout = 5 * time.Second

	// DefaultPattern matches instance or host names of Acond controllers
	DefaultPattern = `(?i)acond|tcm|heat`
)

var defaultPattern = regexp.MustCompile(DefaultPattern)

// Scanner browses the local network for controllers
type Scanner struct {
	// Timeout is the maximum time to wait for answers
	Timeout time.Duration

	// Pattern selects entries by instance or host name (nil = DefaultPattern)
	Pattern *regexp.Regexp

	// All keeps every HTTP service, marking matches with Device.Matched
	All bool
}

// NewScanner creates a scanner with default settings
func NewScanner() *Scanner {
	return &Scanner{Timeout: DefaultScanTimeout}
}

// NewScannerWithPattern creates a scanner matching names against pattern
func NewScannerWithPattern(timeout time.Duration, pattern string) (*Scanner, error) {
	s := NewScanner()
	if timeout > 0 {
		s.Timeout = timeout
	}
	if pattern != "" {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid discovery pattern: %w", err)
		}
		s.Pattern = re
	}
	return s, nil
}

// Scan browses until the timeout and returns the devices found, sorted by
// name and de-duplicated by instance.
func (s *Scanner) Scan(ctx context.Context) ([]*Device, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout())
	defer cancel()

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	var (
		mu      sync.Mutex
		found   = make(map[string]*Device)
		entries = make(chan *zeroconf.ServiceEntry)
	)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-entries:
				if !ok {
					return
				}
				d := s.parseServiceEntry(entry)
				if d == nil {
					continue
				}
				logging.Debug("mDNS service found",
					zap.String("name", d.Name),
					zap.String("ip", d.IP),
					zap.Int("port", d.Port),
					zap.Bool("matched", d.Matched),
				)
				mu.Lock()
				found[d.Name+"|"+d.IP] = d
				mu.Unlock()
			}
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	<-ctx.Done()

	mu.Lock()
	defer mu.Unlock()
	devices := make([]*Device, 0, len(found))
	for _, d := range found {
		devices = append(devices, d)
	}
	sortDevices(devices)
	return devices, nil
}

// ProbeAll probes every device concurrently and waits for all of them
func ProbeAll(ctx context.Context, devices []*Device, timeout time.Duration) {
	var wg sync.WaitGroup
	for _, d := range devices {
		wg.Add(1)
		go func(d *Device) {
			defer wg.Done()
			if err := d.Probe(ctx, timeout); err != nil {
				logging.Debug("Probe failed", zap.String("address", d.Address()), zap.Error(err))
			}
		}(d)
	}
	wg.Wait()
}

func (s *Scanner) timeout() time.Duration {
	if s.Timeout <= 0 {
		return DefaultScanTimeout
	}
	return s.Timeout
}

func (s *Scanner) pattern() *regexp.Regexp {
	if s.Pattern == nil {
		return defaultPattern
	}
	return s.Pattern
}

// parseServiceEntry converts an entry to a Device. It returns nil for
// entries without an address and, unless All is set, for entries whose
// names do not match.
func (s *Scanner) parseServiceEntry(entry *zeroconf.ServiceEntry) *Device {
	if entry == nil {
		return nil
	}

	matched := s.pattern().MatchString(entry.Instance) || s.pattern().MatchString(entry.HostName)
	if !matched && !s.All {
		return nil
	}

	var ip string
	if len(entry.AddrIPv4) > 0 {
		ip = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}
	if ip == "" {
		return nil
	}

	metadata := make(map[string]string, len(entry.Text))
	for _, txt := range entry.Text {
		key, value, _ := strings.Cut(txt, "=")
		metadata[key] = value
	}

	name := entry.Instance
	if name == "" {
		name = strings.TrimSuffix(entry.HostName, ".")
	}

	return &Device{
		Name:         name,
		Host:         entry.HostName,
		IP:           ip,
		Port:         entry.Port,
		Metadata:     metadata,
		Matched:      matched,
		DiscoveredAt: time.Now(),
	}
}

func sortDevices(devices []*Device) {
	sort.Slice(devices, func(i, j int) bool {
		if devices[i].Matched != devices[j].Matched {
			return devices[i].Matched
		}
		if devices[i].Name != devices[j].Name {
			return devices[i].Name < devices[j].Name
		}
		return devices[i].IP < devices[j].IP
	})
}
