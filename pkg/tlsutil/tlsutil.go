// Package tlsutil builds tls.Config values for the device link and the
// subscriber API.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/Suhridx/pump-dashboard/errors"
)

// ClientConfig describes how to dial a TLS broker or device.
type ClientConfig struct {
	// CAFiles are trusted in addition to the system pool.
	CAFiles []string `json:"ca_files,omitempty"`
	// CertFile and KeyFile present a client certificate when both are set.
	CertFile           string `json:"cert_file,omitempty"`
	KeyFile            string `json:"key_file,omitempty"`
	InsecureSkipVerify bool   `json:"insecure_skip_verify,omitempty"`
	MinVersion         string `json:"min_version,omitempty"`
}

// Enabled reports whether any setting differs from the Go defaults.
func (c ClientConfig) Enabled() bool {
	return len(c.CAFiles) > 0 || c.CertFile != "" || c.KeyFile != "" || c.InsecureSkipVerify || c.MinVersion != ""
}

// ServerConfig holds the API listener certificate.
type ServerConfig struct {
	CertFile   string `json:"cert_file,omitempty"`
	KeyFile    string `json:"key_file,omitempty"`
	MinVersion string `json:"min_version,omitempty"`
}

// Enabled reports whether a certificate is configured.
func (c ServerConfig) Enabled() bool {
	return c.CertFile != "" || c.KeyFile != ""
}

// LoadClient returns nil when cfg is not enabled, so callers keep their
// library's default TLS behaviour.
func LoadClient(cfg ClientConfig) (*tls.Config, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	minVersion, err := parseTLSVersion(cfg.MinVersion)
	if err != nil {
		return nil, errors.WrapFatal(err, "tlsutil", "LoadClient", "parse min version")
	}

	tlsConfig := &tls.Config{MinVersion: minVersion}

	if len(cfg.CAFiles) > 0 {
		rootCAs, err := x509.SystemCertPool()
		if err != nil {
			rootCAs = x509.NewCertPool()
		}
		for _, caFile := range cfg.CAFiles {
			if err := appendPEM(rootCAs, caFile); err != nil {
				return nil, errors.WrapFatal(err, "tlsutil", "LoadClient", fmt.Sprintf("load CA %s", caFile))
			}
		}
		tlsConfig.RootCAs = rootCAs
	}

	if cfg.CertFile != "" || cfg.KeyFile != "" {
		if cfg.CertFile == "" || cfg.KeyFile == "" {
			return nil, errors.WrapFatal(
				fmt.Errorf("%w: cert_file and key_file must be set together", errors.ErrInvalidConfig),
				"tlsutil", "LoadClient", "check client certificate")
		}
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, errors.WrapFatal(err, "tlsutil", "LoadClient", "load client certificate")
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	// operator opt-in, typically for a device with a self-signed certificate
	tlsConfig.InsecureSkipVerify = cfg.InsecureSkipVerify

	return tlsConfig, nil
}

// LoadServer returns nil when no certificate is configured.
func LoadServer(cfg ServerConfig) (*tls.Config, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	if cfg.CertFile == "" || cfg.KeyFile == "" {
		return nil, errors.WrapFatal(
			fmt.Errorf("%w: cert_file and key_file must be set together", errors.ErrInvalidConfig),
			"tlsutil", "LoadServer", "check certificate")
	}
	minVersion, err := parseTLSVersion(cfg.MinVersion)
	if err != nil {
		return nil, errors.WrapFatal(err, "tlsutil", "LoadServer", "parse min version")
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, errors.WrapFatal(err, "tlsutil", "LoadServer", "load certificate")
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   minVersion,
	}, nil
}

func appendPEM(pool *x509.CertPool, path string) error {
	caPEM, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if !pool.AppendCertsFromPEM(caPEM) {
		return fmt.Errorf("%w: no certificates in %s", errors.ErrInvalidConfig, path)
	}
	return nil
}

// parseTLSVersion defaults to TLS 1.2.
func parseTLSVersion(version string) (uint16, error) {
	switch version {
	case "", "1.2":
		return tls.VersionTLS12, nil
	case "1.3":
		return tls.VersionTLS13, nil
	default:
		return 0, fmt.Errorf("%w: unsupported TLS version %q", errors.ErrInvalidConfig, version)
	}
}
