package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 2*time.Second, cfg.Reliability.AckTimeout)
	assert.Equal(t, 5, cfg.Reliability.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.Reliability.SweepInterval)
	assert.Equal(t, 0.0, cfg.Reliability.LossRate)
	assert.Equal(t, 2048, cfg.Transport.BufferSize)
	assert.True(t, cfg.Client.TLS.InsecureSkipVerify)
	assert.Equal(t, "ChatHub_UDP_Secret_2024", cfg.Encryption.Passphrase)
	assert.Equal(t, "chathub_udp_salt_2024", cfg.Encryption.Salt)
}

func TestValidate_RateLimitingDisabled_AllowsZeroValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.Peer.MessagesPerSecond = 0
	cfg.RateLimiting.Peer.Burst = 0
	cfg.RateLimiting.HTTP.RequestsPerSecond = 0
	cfg.RateLimiting.HTTP.Burst = 0

	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected config to be valid when rate limiting disabled, got error: %v", err)
	}
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty server address", func(c *Config) { c.Server.Address = "" }},
		{"unknown server protocol", func(c *Config) { c.Server.Protocol = "sctp" }},
		{"tls without cert", func(c *Config) { c.Server.TLS.Enabled = true }},
		{"zero handshake timeout", func(c *Config) { c.Server.HandshakeTimeout = 0 }},
		{"unknown client protocol", func(c *Config) { c.Client.Protocol = "quic" }},
		{"negative connect retries", func(c *Config) { c.Client.ConnectRetries = -1 }},
		{"retries without backoff", func(c *Config) { c.Client.ConnectBackoff = 0 }},
		{"zero ack timeout", func(c *Config) { c.Reliability.AckTimeout = 0 }},
		{"negative retries", func(c *Config) { c.Reliability.MaxRetries = -1 }},
		{"zero sweep interval", func(c *Config) { c.Reliability.SweepInterval = 0 }},
		{"loss rate above one", func(c *Config) { c.Reliability.LossRate = 1.5 }},
		{"negative loss rate", func(c *Config) { c.Reliability.LossRate = -0.1 }},
		{"unknown cipher", func(c *Config) { c.Encryption.Cipher = "rot13" }},
		{"empty passphrase", func(c *Config) { c.Encryption.Passphrase = "" }},
		{"zero iterations", func(c *Config) { c.Encryption.Iterations = 0 }},
		{"tiny buffer", func(c *Config) { c.Transport.BufferSize = 16 }},
		{"peer rate zero", func(c *Config) {
			c.RateLimiting.Enabled = true
			c.RateLimiting.Peer.MessagesPerSecond = 0
		}},
		{"http burst zero", func(c *Config) {
			c.RateLimiting.Enabled = true
			c.RateLimiting.HTTP.Burst = 0
		}},
		{"admin without address", func(c *Config) {
			c.Admin.Enabled = true
			c.Admin.Address = ""
		}},
		{"tracing without url", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.JaegerURL = ""
		}},
		{"empty log level", func(c *Config) { c.Logging.Level = "" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)

			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for case %q, got nil", tc.name)
			}
		})
	}
}

func TestValidate_EncryptionDisabledIgnoresCipher(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Encryption.Enabled = false
	cfg.Encryption.Cipher = ""
	cfg.Encryption.Passphrase = ""

	assert.NoError(t, cfg.Validate())
}

func TestLoad_UsesDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":12345", cfg.Server.Address)
	assert.Equal(t, ProtocolTCP, cfg.Server.Protocol)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_LoadsFromYAMLAndAppliesEnvOverrides(t *testing.T) {
	path := writeTempConfig(t, `
server:
  address: ":9000"
  protocol: "udp"
  handshake_timeout: 5s

client:
  address: "127.0.0.1:9000"
  nickname: "alice"
  protocol: "udp"

reliability:
  ack_timeout: 500ms
  max_retries: 3
  sweep_interval: 50ms
  loss_rate: 0.3

encryption:
  enabled: true
  cipher: "chacha20-poly1305"

logging:
  level: "debug"
  format: "console"
`)

	t.Setenv("CHATHUB_SERVER_ADDRESS", ":9100")
	t.Setenv("CHATHUB_NICKNAME", "bob")
	t.Setenv("CHATHUB_LOSS_RATE", "0.5")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9100", cfg.Server.Address)
	assert.Equal(t, ProtocolUDP, cfg.Server.Protocol)
	assert.Equal(t, 5*time.Second, cfg.Server.HandshakeTimeout)
	assert.Equal(t, "bob", cfg.Client.Nickname)
	assert.Equal(t, 500*time.Millisecond, cfg.Reliability.AckTimeout)
	assert.Equal(t, 3, cfg.Reliability.MaxRetries)
	assert.Equal(t, 50*time.Millisecond, cfg.Reliability.SweepInterval)
	assert.Equal(t, 0.5, cfg.Reliability.LossRate)
	assert.Equal(t, CipherChaCha20, cfg.Encryption.Cipher)
	// Unset keys keep their defaults.
	assert.Equal(t, "ChatHub_UDP_Secret_2024", cfg.Encryption.Passphrase)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
}

func TestLoad_ProtocolEnvOverrideAppliesToBothSides(t *testing.T) {
	t.Setenv("CHATHUB_PROTOCOL", "UDP")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ProtocolUDP, cfg.Server.Protocol)
	assert.Equal(t, ProtocolUDP, cfg.Client.Protocol)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeTempConfig(t, "server: [not, a, map")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_InvalidValuesRejected(t *testing.T) {
	path := writeTempConfig(t, `
reliability:
  loss_rate: 2
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loss_rate")
}
