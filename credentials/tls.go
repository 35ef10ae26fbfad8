package credentials

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	grpccreds "google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/c360/grpchost/errors"
)

// TLSConfig holds TLS configuration for the listener and outbound clients
type TLSConfig struct {
	Server ServerTLSConfig `json:"server,omitempty"`
	Client ClientTLSConfig `json:"client,omitempty"`
}

// ServerTLSConfig holds TLS configuration for the native listener
type ServerTLSConfig struct {
	Enabled    bool   `json:"enabled"`
	CertFile   string `json:"cert_file,omitempty"`
	KeyFile    string `json:"key_file,omitempty"`
	MinVersion string `json:"min_version,omitempty"` // "1.2" or "1.3"

	// mTLS support
	MTLS ServerMTLSConfig `json:"mtls,omitempty"`
}

// ServerMTLSConfig holds mTLS configuration for the listener (client certificate validation)
type ServerMTLSConfig struct {
	Enabled           bool     `json:"enabled"`
	ClientCAFiles     []string `json:"client_ca_files,omitempty"`     // CA certs to trust for client validation
	RequireClientCert bool     `json:"require_client_cert,omitempty"` // true = require, false = optional
}

// ClientTLSConfig holds TLS configuration for outbound connections.
// Always uses the system CA bundle first, CAFiles are ADDITIONAL trusted CAs.
type ClientTLSConfig struct {
	CAFiles            []string `json:"ca_files,omitempty"`
	CertFile           string   `json:"cert_file,omitempty"` // Client certificate for mTLS
	KeyFile            string   `json:"key_file,omitempty"`
	InsecureSkipVerify bool     `json:"insecure_skip_verify,omitempty"` // DEV/TEST ONLY
	MinVersion         string   `json:"min_version,omitempty"`
}

// TLSProvider loads TLS credentials from configured certificate files.
// Certificate material is re-read on every ServerCredentials call, so
// rotated files take effect at the next listener rebuild.
type TLSProvider struct {
	config TLSConfig
}

// NewTLSProvider creates a provider from TLS configuration. Certificate
// material is loaded once up front to surface configuration errors at
// initialization; an error here is fatal for manager creation.
func NewTLSProvider(cfg TLSConfig) (*TLSProvider, error) {
	p := &TLSProvider{config: cfg}

	if cfg.Server.Enabled {
		if cfg.Server.CertFile == "" || cfg.Server.KeyFile == "" {
			return nil, errors.WrapFatal(errors.ErrInvalidCredentials,
				"TLSProvider", "NewTLSProvider", "server TLS enabled without cert or key file")
		}
		if _, err := p.buildServerConfig(); err != nil {
			return nil, err
		}
	}
	if _, err := p.buildClientConfig(); err != nil {
		return nil, err
	}

	return p, nil
}

// ServerCredentials loads and returns listener credentials
func (p *TLSProvider) ServerCredentials() (grpccreds.TransportCredentials, error) {
	if !p.config.Server.Enabled {
		return insecure.NewCredentials(), nil
	}

	tlsConfig, err := p.buildServerConfig()
	if err != nil {
		return nil, err
	}
	return grpccreds.NewTLS(tlsConfig), nil
}

// ClientCredentials loads and returns outbound connection credentials
func (p *TLSProvider) ClientCredentials() (grpccreds.TransportCredentials, error) {
	if !p.config.Server.Enabled && len(p.config.Client.CAFiles) == 0 && p.config.Client.CertFile == "" {
		return insecure.NewCredentials(), nil
	}

	tlsConfig, err := p.buildClientConfig()
	if err != nil {
		return nil, err
	}
	return grpccreds.NewTLS(tlsConfig), nil
}

// IsTLSEnabled reports whether the listener side uses TLS
func (p *TLSProvider) IsTLSEnabled() bool {
	return p.config.Server.Enabled
}

// buildServerConfig creates a tls.Config for the listener from config files
func (p *TLSProvider) buildServerConfig() (*tls.Config, error) {
	cfg := p.config.Server

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, errors.WrapFatal(err, "TLSProvider", "buildServerConfig", "load certificate")
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   parseTLSVersion(cfg.MinVersion),
	}

	if cfg.MTLS.Enabled {
		clientCAs := x509.NewCertPool()
		for _, caFile := range cfg.MTLS.ClientCAFiles {
			caPEM, err := os.ReadFile(caFile)
			if err != nil {
				return nil, errors.WrapFatal(err, "TLSProvider", "buildServerConfig",
					fmt.Sprintf("read client CA file %s", caFile))
			}
			if !clientCAs.AppendCertsFromPEM(caPEM) {
				return nil, errors.WrapFatal(
					fmt.Errorf("invalid PEM data"),
					"TLSProvider", "buildServerConfig",
					fmt.Sprintf("parse client CA certificate from %s", caFile))
			}
		}

		tlsConfig.ClientCAs = clientCAs
		if cfg.MTLS.RequireClientCert {
			tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
		} else {
			tlsConfig.ClientAuth = tls.VerifyClientCertIfGiven
		}
	}

	return tlsConfig, nil
}

// buildClientConfig creates a tls.Config for outbound connections.
// Always starts from the system CA pool; CAFiles are additional trusted CAs.
func (p *TLSProvider) buildClientConfig() (*tls.Config, error) {
	cfg := p.config.Client

	tlsConfig := &tls.Config{
		MinVersion: parseTLSVersion(cfg.MinVersion),
	}

	rootCAs, err := x509.SystemCertPool()
	if err != nil {
		// If system pool unavailable, create empty pool
		rootCAs = x509.NewCertPool()
	}

	for _, caFile := range cfg.CAFiles {
		caPEM, err := os.ReadFile(caFile)
		if err != nil {
			return nil, errors.WrapFatal(err, "TLSProvider", "buildClientConfig",
				fmt.Sprintf("read CA file %s", caFile))
		}
		if !rootCAs.AppendCertsFromPEM(caPEM) {
			return nil, errors.WrapFatal(
				fmt.Errorf("invalid PEM data"),
				"TLSProvider", "buildClientConfig",
				fmt.Sprintf("parse CA certificate from %s", caFile))
		}
	}
	tlsConfig.RootCAs = rootCAs

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		clientCert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, errors.WrapFatal(err, "TLSProvider", "buildClientConfig", "load client certificate")
		}
		tlsConfig.Certificates = []tls.Certificate{clientCert}
	}

	// Setting this is intentional via config - operators know the security implications
	if cfg.InsecureSkipVerify {
		tlsConfig.InsecureSkipVerify = true
	}

	return tlsConfig, nil
}

// parseTLSVersion converts version string to crypto/tls constant
// Returns tls.VersionTLS12 if empty or invalid
func parseTLSVersion(version string) uint16 {
	switch version {
	case "1.3":
		return tls.VersionTLS13
	case "1.2":
		return tls.VersionTLS12
	default:
		return tls.VersionTLS12 // Safe default
	}
}
