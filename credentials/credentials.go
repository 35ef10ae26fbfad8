// Package credentials supplies transport credentials for the grpchost
// listener and for clients connecting out. Providers are queried at every
// listener (re)build; rotation of the underlying material is the owner's
// responsibility and takes effect at the next rebuild.
package credentials

import (
	"crypto/tls"

	grpccreds "google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// Provider supplies server- and client-side transport credentials.
//
// ServerCredentials is called once per listener (re)build. Implementations
// that read certificate material from disk should reload it on each call so
// that rotated certificates are picked up by the next restart.
type Provider interface {
	// ServerCredentials returns credentials used to configure the native listener
	ServerCredentials() (grpccreds.TransportCredentials, error)

	// ClientCredentials returns credentials for outbound connections to peers
	ClientCredentials() (grpccreds.TransportCredentials, error)

	// IsTLSEnabled reports whether the provider supplies TLS credentials
	IsTLSEnabled() bool
}

// InsecureProvider supplies plaintext transport credentials. Used when TLS
// is disabled in configuration.
type InsecureProvider struct{}

// NewInsecureProvider creates a provider with no transport security
func NewInsecureProvider() *InsecureProvider {
	return &InsecureProvider{}
}

// ServerCredentials returns plaintext server credentials
func (p *InsecureProvider) ServerCredentials() (grpccreds.TransportCredentials, error) {
	return insecure.NewCredentials(), nil
}

// ClientCredentials returns plaintext client credentials
func (p *InsecureProvider) ClientCredentials() (grpccreds.TransportCredentials, error) {
	return insecure.NewCredentials(), nil
}

// IsTLSEnabled always returns false
func (p *InsecureProvider) IsTLSEnabled() bool {
	return false
}

// StaticProvider wraps fixed tls.Config values. Intended for tests and for
// callers that manage certificate material themselves.
type StaticProvider struct {
	server *tls.Config
	client *tls.Config
}

// NewStaticProvider creates a provider around pre-built TLS configs. Either
// config may be nil, in which case the corresponding side is plaintext.
func NewStaticProvider(server, client *tls.Config) *StaticProvider {
	return &StaticProvider{server: server, client: client}
}

// ServerCredentials returns credentials for the wrapped server config
func (p *StaticProvider) ServerCredentials() (grpccreds.TransportCredentials, error) {
	if p.server == nil {
		return insecure.NewCredentials(), nil
	}
	return grpccreds.NewTLS(p.server), nil
}

// ClientCredentials returns credentials for the wrapped client config
func (p *StaticProvider) ClientCredentials() (grpccreds.TransportCredentials, error) {
	if p.client == nil {
		return insecure.NewCredentials(), nil
	}
	return grpccreds.NewTLS(p.client), nil
}

// IsTLSEnabled reports whether a server TLS config is present
func (p *StaticProvider) IsTLSEnabled() bool {
	return p.server != nil
}
