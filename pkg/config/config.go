package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	ProtocolTCP = "tcp"
	ProtocolUDP = "udp"

	CipherAESGCM   = "aes-256-gcm"
	CipherChaCha20 = "chacha20-poly1305"
)

type TLSServer struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type TLSClient struct {
	Enabled bool `yaml:"enabled"`
	// Encrypted but not authenticated when true.
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	ServerName         string `yaml:"server_name"`
}

type Config struct {
	Server struct {
		Address          string        `yaml:"address"`
		Protocol         string        `yaml:"protocol"`
		TLS              TLSServer     `yaml:"tls"`
		HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	} `yaml:"server"`

	Client struct {
		Address  string    `yaml:"address"`
		Nickname string    `yaml:"nickname"`
		Protocol string    `yaml:"protocol"`
		TLS      TLSClient `yaml:"tls"`

		ConnectRetries int           `yaml:"connect_retries"`
		ConnectBackoff time.Duration `yaml:"connect_backoff"`
	} `yaml:"client"`

	Reliability struct {
		AckTimeout    time.Duration `yaml:"ack_timeout"`
		MaxRetries    int           `yaml:"max_retries"`
		SweepInterval time.Duration `yaml:"sweep_interval"`
		LossRate      float64       `yaml:"loss_rate"`
	} `yaml:"reliability"`

	Encryption struct {
		Enabled    bool   `yaml:"enabled"`
		Cipher     string `yaml:"cipher"`
		Passphrase string `yaml:"passphrase"`
		Salt       string `yaml:"salt"`
		Iterations int    `yaml:"iterations"`
	} `yaml:"encryption"`

	Transport struct {
		ReadTimeout time.Duration `yaml:"read_timeout"`
		BufferSize  int           `yaml:"buffer_size"`
	} `yaml:"transport"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		// Inbound chat frames, per peer.
		Peer struct {
			MessagesPerSecond float64 `yaml:"messages_per_second"`
			Burst             int     `yaml:"burst"`
		} `yaml:"peer"`

		// Admin API requests, per client IP.
		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
		} `yaml:"http"`
	} `yaml:"rate_limiting"`

	Admin struct {
		Enabled        bool          `yaml:"enabled"`
		Address        string        `yaml:"address"`
		EventsInterval time.Duration `yaml:"events_interval"`
	} `yaml:"admin"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		JaegerURL   string  `yaml:"jaeger_url"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

func validProtocol(p string) bool {
	return p == ProtocolTCP || p == ProtocolUDP
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if !validProtocol(c.Server.Protocol) {
		return fmt.Errorf("server.protocol must be %q or %q, got %q", ProtocolTCP, ProtocolUDP, c.Server.Protocol)
	}
	if c.Server.TLS.Enabled && (c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "") {
		return fmt.Errorf("server.tls.cert_file and key_file must be set when server.tls.enabled=true")
	}
	if c.Server.HandshakeTimeout <= 0 {
		return fmt.Errorf("server.handshake_timeout must be > 0")
	}

	// Client
	if c.Client.Address == "" {
		return fmt.Errorf("client.address must not be empty")
	}
	if !validProtocol(c.Client.Protocol) {
		return fmt.Errorf("client.protocol must be %q or %q, got %q", ProtocolTCP, ProtocolUDP, c.Client.Protocol)
	}
	if c.Client.ConnectRetries < 0 {
		return fmt.Errorf("client.connect_retries must be >= 0")
	}
	if c.Client.ConnectRetries > 0 && c.Client.ConnectBackoff <= 0 {
		return fmt.Errorf("client.connect_backoff must be > 0 when client.connect_retries > 0")
	}

	// Reliability
	if c.Reliability.AckTimeout <= 0 {
		return fmt.Errorf("reliability.ack_timeout must be > 0")
	}
	if c.Reliability.MaxRetries < 0 {
		return fmt.Errorf("reliability.max_retries must be >= 0")
	}
	if c.Reliability.SweepInterval <= 0 {
		return fmt.Errorf("reliability.sweep_interval must be > 0")
	}
	if c.Reliability.LossRate < 0 || c.Reliability.LossRate > 1 {
		return fmt.Errorf("reliability.loss_rate must be within [0, 1]")
	}

	// Encryption
	if c.Encryption.Enabled {
		if c.Encryption.Cipher != CipherAESGCM && c.Encryption.Cipher != CipherChaCha20 {
			return fmt.Errorf("encryption.cipher must be %q or %q", CipherAESGCM, CipherChaCha20)
		}
		if c.Encryption.Passphrase == "" || c.Encryption.Salt == "" {
			return fmt.Errorf("encryption.passphrase and salt must not be empty when encryption.enabled=true")
		}
		if c.Encryption.Iterations <= 0 {
			return fmt.Errorf("encryption.iterations must be > 0")
		}
	}

	// Transport
	if c.Transport.ReadTimeout <= 0 {
		return fmt.Errorf("transport.read_timeout must be > 0")
	}
	if c.Transport.BufferSize < 64 {
		return fmt.Errorf("transport.buffer_size must be >= 64")
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.Peer.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.peer.messages_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Peer.Burst <= 0 {
			return fmt.Errorf("rate_limiting.peer.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
	}

	// Admin
	if c.Admin.Enabled {
		if c.Admin.Address == "" {
			return fmt.Errorf("admin.address must not be empty when admin.enabled=true")
		}
		if c.Admin.EventsInterval <= 0 {
			return fmt.Errorf("admin.events_interval must be > 0 when admin.enabled=true")
		}
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
		}
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":12345"
	cfg.Server.Protocol = ProtocolTCP
	cfg.Server.HandshakeTimeout = 10 * time.Second

	cfg.Client.Address = "localhost:12345"
	cfg.Client.Protocol = ProtocolTCP
	cfg.Client.TLS.InsecureSkipVerify = true
	cfg.Client.ConnectRetries = 2
	cfg.Client.ConnectBackoff = 200 * time.Millisecond

	cfg.Reliability.AckTimeout = 2 * time.Second
	cfg.Reliability.MaxRetries = 5
	cfg.Reliability.SweepInterval = 100 * time.Millisecond
	cfg.Reliability.LossRate = 0

	// Known limitation: a shared fixed secret, not a key exchange.
	cfg.Encryption.Enabled = true
	cfg.Encryption.Cipher = CipherAESGCM
	cfg.Encryption.Passphrase = "ChatHub_UDP_Secret_2024"
	cfg.Encryption.Salt = "chathub_udp_salt_2024"
	cfg.Encryption.Iterations = 100000

	cfg.Transport.ReadTimeout = time.Second
	cfg.Transport.BufferSize = 2048

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.Peer.MessagesPerSecond = 50
	cfg.RateLimiting.Peer.Burst = 100
	cfg.RateLimiting.HTTP.RequestsPerSecond = 20
	cfg.RateLimiting.HTTP.Burst = 40

	cfg.Admin.Enabled = false
	cfg.Admin.Address = ":8080"
	cfg.Admin.EventsInterval = 250 * time.Millisecond

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Tracing.Enabled = false
	cfg.Tracing.ServiceName = "chathub"
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("CHATHUB_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if addr := os.Getenv("CHATHUB_CLIENT_ADDRESS"); addr != "" {
		c.Client.Address = addr
	}
	if nick := os.Getenv("CHATHUB_NICKNAME"); nick != "" {
		c.Client.Nickname = nick
	}
	if proto := os.Getenv("CHATHUB_PROTOCOL"); proto != "" {
		proto = strings.ToLower(proto)
		c.Server.Protocol = proto
		c.Client.Protocol = proto
	}
	if level := os.Getenv("CHATHUB_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if pass := os.Getenv("CHATHUB_PASSPHRASE"); pass != "" {
		c.Encryption.Passphrase = pass
	}
	if rate := os.Getenv("CHATHUB_LOSS_RATE"); rate != "" {
		if v, err := strconv.ParseFloat(rate, 64); err == nil {
			c.Reliability.LossRate = v
		}
	}
}
