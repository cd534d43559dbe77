package tlsconfig

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSelfSigned(t *testing.T) {
	certPEM, keyPEM, err := GenerateSelfSigned("server", []string{"localhost", "127.0.0.1"}, time.Hour)
	require.NoError(t, err)

	block, _ := pem.Decode(certPEM)
	require.NotNil(t, block)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)

	assert.Equal(t, "server", cert.Subject.CommonName)
	assert.Contains(t, cert.DNSNames, "localhost")
	require.Len(t, cert.IPAddresses, 1)
	assert.Equal(t, "127.0.0.1", cert.IPAddresses[0].String())
	assert.WithinDuration(t, time.Now().Add(time.Hour), cert.NotAfter, time.Minute)

	_, err = tls.X509KeyPair(certPEM, keyPEM)
	assert.NoError(t, err)
}

func TestWriteSelfSignedAndServerConfig(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath, err := WriteSelfSigned(dir, "server", []string{"localhost"}, 0)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "server.cert"), certPath)

	info, err := os.Stat(keyPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	cfg, err := ServerConfig(certPath, keyPath)
	require.NoError(t, err)
	assert.Len(t, cfg.Certificates, 1)
}

func TestLoadCertificateErrors(t *testing.T) {
	dir := t.TempDir()
	garbage := filepath.Join(dir, "garbage.pem")
	require.NoError(t, os.WriteFile(garbage, []byte("not pem"), 0600))

	tests := []struct {
		name     string
		cert     string
		key      string
		expected error
	}{
		{"empty cert", "", "k", ErrEmptyCertificate},
		{"empty key", "c", "", ErrEmptyKey},
		{"missing cert", filepath.Join(dir, "nope.cert"), garbage, ErrCertificateNotFound},
		{"missing key", garbage, filepath.Join(dir, "nope.key"), ErrKeyNotFound},
		{"invalid pair", garbage, garbage, ErrInvalidCertificate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadCertificate(tt.cert, tt.key)
			assert.ErrorIs(t, err, tt.expected)
		})
	}

	_, err := ServerConfig("", "")
	assert.ErrorIs(t, err, ErrEmptyCertificate)
}

func TestClientConfig(t *testing.T) {
	cfg := ClientConfig(true, "example.org")
	assert.True(t, cfg.InsecureSkipVerify)
	assert.Equal(t, "example.org", cfg.ServerName)
	assert.False(t, ClientConfig(false, "").InsecureSkipVerify)
}
