// Package tlsconfig builds the TLS settings of the stream transport and
// generates self-signed certificates for development servers.
package tlsconfig

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

var (
	ErrEmptyCertificate    = errors.New("tlsconfig: certificate path is empty")
	ErrEmptyKey            = errors.New("tlsconfig: key path is empty")
	ErrCertificateNotFound = errors.New("tlsconfig: certificate file not found")
	ErrKeyNotFound         = errors.New("tlsconfig: key file not found")
	ErrInvalidCertificate  = errors.New("tlsconfig: invalid certificate or key")
)

// ServerConfig loads the key pair and returns a server configuration.
func ServerConfig(certFile, keyFile string) (*tls.Config, error) {
	cert, err := LoadCertificate(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load server certificate: %w", err)
	}
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}, nil
}

// ClientConfig returns a client configuration. With insecure set the
// server certificate is not verified: traffic is encrypted but the server
// is not authenticated.
func ClientConfig(insecure bool, serverName string) *tls.Config {
	return &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         serverName,
		InsecureSkipVerify: insecure, //#nosec G402 -- configurable, see client.tls.insecure_skip_verify
	}
}

// LoadCertificate loads a PEM certificate and key from files.
func LoadCertificate(certFile, keyFile string) (tls.Certificate, error) {
	if certFile == "" {
		return tls.Certificate{}, ErrEmptyCertificate
	}
	if keyFile == "" {
		return tls.Certificate{}, ErrEmptyKey
	}
	if _, err := os.Stat(certFile); os.IsNotExist(err) {
		return tls.Certificate{}, fmt.Errorf("%w: %s", ErrCertificateNotFound, certFile)
	}
	if _, err := os.Stat(keyFile); os.IsNotExist(err) {
		return tls.Certificate{}, fmt.Errorf("%w: %s", ErrKeyNotFound, keyFile)
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
	}
	return cert, nil
}

// GenerateSelfSigned creates an ECDSA P-256 certificate valid for hosts.
// Returns certPEM, keyPEM.
func GenerateSelfSigned(commonName string, hosts []string, validFor time.Duration) ([]byte, []byte, error) {
	if validFor <= 0 {
		validFor = 365 * 24 * time.Hour
	}

	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate private key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	notBefore := time.Now()
	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"chathub"},
			CommonName:   commonName,
		},
		NotBefore:             notBefore,
		NotAfter:              notBefore.Add(validFor),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create certificate: %w", err)
	}
	keyBytes, err := x509.MarshalECPrivateKey(privateKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyBytes})
	return certPEM, keyPEM, nil
}

// WriteSelfSigned generates a certificate and writes <name>.cert and
// <name>.key into dir. Returns both paths.
func WriteSelfSigned(dir, name string, hosts []string, validFor time.Duration) (string, string, error) {
	certPEM, keyPEM, err := GenerateSelfSigned(name, hosts, validFor)
	if err != nil {
		return "", "", err
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", "", fmt.Errorf("failed to create output directory: %w", err)
	}

	certPath := filepath.Join(dir, name+".cert")
	keyPath := filepath.Join(dir, name+".key")
	if err := os.WriteFile(certPath, certPEM, 0644); err != nil { //#nosec G306 -- public certificate
		return "", "", fmt.Errorf("failed to write certificate: %w", err)
	}
	if err := os.WriteFile(keyPath, keyPEM, 0600); err != nil {
		return "", "", fmt.Errorf("failed to write key: %w", err)
	}
	return certPath, keyPath, nil
}
