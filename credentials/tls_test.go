package credentials

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/grpchost/errors"
)

// generateTestCert creates a self-signed certificate for testing
func generateTestCert(t *testing.T) (certPEM, keyPEM []byte) {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"Test Org"},
			CommonName:   "localhost",
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	require.NoError(t, err)

	certPEM = pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: certDER,
	})

	keyPEM = pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	})

	return certPEM, keyPEM
}

// setupTestFiles creates temporary cert/key files for testing
func setupTestFiles(t *testing.T) (certFile, keyFile, caFile string) {
	t.Helper()

	tmpDir := t.TempDir()

	certPEM, keyPEM := generateTestCert(t)

	certFile = filepath.Join(tmpDir, "cert.pem")
	keyFile = filepath.Join(tmpDir, "key.pem")
	caFile = filepath.Join(tmpDir, "ca.pem")

	require.NoError(t, os.WriteFile(certFile, certPEM, 0644))
	require.NoError(t, os.WriteFile(keyFile, keyPEM, 0600))
	require.NoError(t, os.WriteFile(caFile, certPEM, 0644)) // Use same cert as CA for testing

	return certFile, keyFile, caFile
}

func TestInsecureProvider(t *testing.T) {
	p := NewInsecureProvider()

	assert.False(t, p.IsTLSEnabled())

	server, err := p.ServerCredentials()
	require.NoError(t, err)
	assert.Equal(t, "insecure", server.Info().SecurityProtocol)

	client, err := p.ClientCredentials()
	require.NoError(t, err)
	assert.Equal(t, "insecure", client.Info().SecurityProtocol)
}

func TestStaticProvider(t *testing.T) {
	serverCfg := &tls.Config{MinVersion: tls.VersionTLS12}

	p := NewStaticProvider(serverCfg, nil)
	assert.True(t, p.IsTLSEnabled())

	server, err := p.ServerCredentials()
	require.NoError(t, err)
	assert.Equal(t, "tls", server.Info().SecurityProtocol)

	// Nil client config falls back to plaintext
	client, err := p.ClientCredentials()
	require.NoError(t, err)
	assert.Equal(t, "insecure", client.Info().SecurityProtocol)

	assert.False(t, NewStaticProvider(nil, nil).IsTLSEnabled())
}

func TestNewTLSProviderDisabled(t *testing.T) {
	p, err := NewTLSProvider(TLSConfig{})
	require.NoError(t, err)
	assert.False(t, p.IsTLSEnabled())

	server, err := p.ServerCredentials()
	require.NoError(t, err)
	assert.Equal(t, "insecure", server.Info().SecurityProtocol)
}

func TestNewTLSProviderValidCert(t *testing.T) {
	certFile, keyFile, _ := setupTestFiles(t)

	p, err := NewTLSProvider(TLSConfig{
		Server: ServerTLSConfig{
			Enabled:    true,
			CertFile:   certFile,
			KeyFile:    keyFile,
			MinVersion: "1.3",
		},
	})
	require.NoError(t, err)
	assert.True(t, p.IsTLSEnabled())

	server, err := p.ServerCredentials()
	require.NoError(t, err)
	assert.Equal(t, "tls", server.Info().SecurityProtocol)
}

func TestNewTLSProviderMissingFiles(t *testing.T) {
	_, err := NewTLSProvider(TLSConfig{
		Server: ServerTLSConfig{Enabled: true},
	})
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err), "missing cert/key should be fatal")

	_, err = NewTLSProvider(TLSConfig{
		Server: ServerTLSConfig{
			Enabled:  true,
			CertFile: "/nonexistent/cert.pem",
			KeyFile:  "/nonexistent/key.pem",
		},
	})
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err), "unreadable cert should be fatal")
}

func TestTLSProviderMTLS(t *testing.T) {
	certFile, keyFile, caFile := setupTestFiles(t)

	p, err := NewTLSProvider(TLSConfig{
		Server: ServerTLSConfig{
			Enabled:  true,
			CertFile: certFile,
			KeyFile:  keyFile,
			MTLS: ServerMTLSConfig{
				Enabled:           true,
				ClientCAFiles:     []string{caFile},
				RequireClientCert: true,
			},
		},
	})
	require.NoError(t, err)

	tlsConfig, err := p.buildServerConfig()
	require.NoError(t, err)
	assert.Equal(t, tls.RequireAndVerifyClientCert, tlsConfig.ClientAuth)
	require.NotNil(t, tlsConfig.ClientCAs)
}

func TestTLSProviderMTLSOptionalClientCert(t *testing.T) {
	certFile, keyFile, caFile := setupTestFiles(t)

	p, err := NewTLSProvider(TLSConfig{
		Server: ServerTLSConfig{
			Enabled:  true,
			CertFile: certFile,
			KeyFile:  keyFile,
			MTLS: ServerMTLSConfig{
				Enabled:       true,
				ClientCAFiles: []string{caFile},
			},
		},
	})
	require.NoError(t, err)

	tlsConfig, err := p.buildServerConfig()
	require.NoError(t, err)
	assert.Equal(t, tls.VerifyClientCertIfGiven, tlsConfig.ClientAuth)
}

func TestTLSProviderClientAdditionalCA(t *testing.T) {
	certFile, keyFile, caFile := setupTestFiles(t)

	p, err := NewTLSProvider(TLSConfig{
		Server: ServerTLSConfig{
			Enabled:  true,
			CertFile: certFile,
			KeyFile:  keyFile,
		},
		Client: ClientTLSConfig{
			CAFiles: []string{caFile},
		},
	})
	require.NoError(t, err)

	client, err := p.ClientCredentials()
	require.NoError(t, err)
	assert.Equal(t, "tls", client.Info().SecurityProtocol)
}

func TestTLSProviderPicksUpRotatedCert(t *testing.T) {
	certFile, keyFile, _ := setupTestFiles(t)

	p, err := NewTLSProvider(TLSConfig{
		Server: ServerTLSConfig{
			Enabled:  true,
			CertFile: certFile,
			KeyFile:  keyFile,
		},
	})
	require.NoError(t, err)

	_, err = p.ServerCredentials()
	require.NoError(t, err)

	// Rotate the certificate in place; the next query should load the new material
	newCertPEM, newKeyPEM := generateTestCert(t)
	require.NoError(t, os.WriteFile(certFile, newCertPEM, 0644))
	require.NoError(t, os.WriteFile(keyFile, newKeyPEM, 0600))

	_, err = p.ServerCredentials()
	require.NoError(t, err)

	// Corrupt the key; reload should now fail
	require.NoError(t, os.WriteFile(keyFile, []byte("not a key"), 0600))
	_, err = p.ServerCredentials()
	require.Error(t, err)
}

func TestParseTLSVersion(t *testing.T) {
	assert.Equal(t, uint16(tls.VersionTLS13), parseTLSVersion("1.3"))
	assert.Equal(t, uint16(tls.VersionTLS12), parseTLSVersion("1.2"))
	assert.Equal(t, uint16(tls.VersionTLS12), parseTLSVersion(""))
	assert.Equal(t, uint16(tls.VersionTLS12), parseTLSVersion("bogus"))
}
