package device

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"github.com/muurk/acond/internal/logging"
	"go.uber.org/zap"
)

// legacyCipherSuites are RSA key exchange suites spoken by older controller
// firmware. Go no longer offers them unless listed explicitly.
var legacyCipherSuites = []uint16{
	0x003C, // TLS_RSA_WITH_AES_128_CBC_SHA256
	0x002F, // TLS_RSA_WITH_AES_128_CBC_SHA
	0x0035, // TLS_RSA_WITH_AES_256_CBC_SHA
	0x000A, // TLS_RSA_WITH_3DES_EDE_CBC_SHA
}

// NewTLSConfig returns the client TLS settings for the controller web server.
// The controller presents a self-signed certificate, so verification is off.
func NewTLSConfig() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true, //nolint:gosec // self-signed controller certificate
		MinVersion:         tls.VersionTLS10,
		CipherSuites:       cipherSuites(),
		VerifyConnection: func(cs tls.ConnectionState) error {
			logging.LogTLSHandshake(cs.ServerName, cs.Version, cs.CipherSuite)
			return nil
		},
	}
}

// cipherSuites lists Go's secure TLS 1.0-1.2 suites followed by the legacy
// ones. TLS 1.3 suites are not configurable and are left out.
func cipherSuites() []uint16 {
	seen := make(map[uint16]bool)
	var suites []uint16
	add := func(id uint16) {
		if !seen[id] {
			seen[id] = true
			suites = append(suites, id)
		}
	}
	for _, cs := range tls.CipherSuites() {
		if len(cs.SupportedVersions) == 1 && cs.SupportedVersions[0] == tls.VersionTLS13 {
			continue
		}
		add(cs.ID)
	}
	for _, id := range legacyCipherSuites {
		add(id)
	}
	return suites
}

// NewTransport returns the HTTP transport shared by all sessions of a client.
func NewTransport() *http.Transport {
	logging.Debug("Creating device transport",
		zap.Int("cipher_suites", len(cipherSuites())),
	)
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig:     NewTLSConfig(),
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConnsPerHost: 1,
		IdleConnTimeout:     30 * time.Second,
	}
}
