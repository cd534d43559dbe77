// Package crypto implements the datagram payload codec: PBKDF2-derived key,
// AEAD sealing and the "ENC:" text envelope.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// Marker prefixes every encrypted datagram payload.
	Marker = "ENC:"

	KeySize   = 32
	NonceSize = 12
	TagSize   = 16

	DefaultPassphrase = "ChatHub_UDP_Secret_2024"
	DefaultSalt       = "chathub_udp_salt_2024"
	DefaultIterations = 100000

	CipherAESGCM   = "aes-256-gcm"
	CipherChaCha20 = "chacha20-poly1305"
)

// ErrUnknownCipher is returned by NewCodec for an unsupported cipher name.
var ErrUnknownCipher = errors.New("crypto: unknown cipher")

// DecryptionError is returned for every payload that cannot be opened.
// No partial plaintext is ever returned alongside it.
type DecryptionError struct {
	Reason string
	Err    error
}

func (e *DecryptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decryption failed: %s: %v", e.Reason, e.Err)
	}
	return "decryption failed: " + e.Reason
}

func (e *DecryptionError) Unwrap() error { return e.Err }

// Config selects the AEAD and the key derivation inputs.
type Config struct {
	Cipher     string
	Passphrase string
	Salt       string
	Iterations int
}

// DefaultConfig returns the settings interoperable with existing peers.
func DefaultConfig() Config {
	return Config{
		Cipher:     CipherAESGCM,
		Passphrase: DefaultPassphrase,
		Salt:       DefaultSalt,
		Iterations: DefaultIterations,
	}
}

// Codec seals and opens chat payloads. It is safe for concurrent use.
type Codec struct {
	aead   cipher.AEAD
	cipher string
}

// NewCodec derives the key once and builds the AEAD.
func NewCodec(cfg Config) (*Codec, error) {
	if cfg.Iterations <= 0 {
		cfg.Iterations = DefaultIterations
	}
	if cfg.Cipher == "" {
		cfg.Cipher = CipherAESGCM
	}

	key := DeriveKey(cfg.Passphrase, cfg.Salt, cfg.Iterations)

	var (
		aead cipher.AEAD
		err  error
	)
	switch cfg.Cipher {
	case CipherAESGCM:
		var block cipher.Block
		block, err = aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("failed to create AES cipher: %w", err)
		}
		aead, err = cipher.NewGCM(block)
	case CipherChaCha20:
		aead, err = chacha20poly1305.New(key)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCipher, cfg.Cipher)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create AEAD: %w", err)
	}

	return &Codec{aead: aead, cipher: cfg.Cipher}, nil
}

// DeriveKey runs PBKDF2-HMAC-SHA256 and returns a 32-byte key.
func DeriveKey(passphrase, salt string, iterations int) []byte {
	return pbkdf2.Key([]byte(passphrase), []byte(salt), iterations, KeySize, sha256.New)
}

// Cipher returns the configured AEAD name.
func (c *Codec) Cipher() string {
	return c.cipher
}

// Encrypt seals plaintext under a fresh random nonce and returns
// base64(nonce || ciphertext || tag).
func (c *Codec) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt.
func (c *Codec) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", &DecryptionError{Reason: "malformed base64", Err: err}
	}
	if len(raw) < NonceSize+TagSize {
		return "", &DecryptionError{Reason: fmt.Sprintf("payload too short (%d bytes)", len(raw))}
	}

	nonce, sealed := raw[:NonceSize], raw[NonceSize:]
	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", &DecryptionError{Reason: "authentication failed", Err: err}
	}
	if !utf8.Valid(plain) {
		return "", &DecryptionError{Reason: "plaintext is not valid UTF-8"}
	}
	return string(plain), nil
}

// EncryptMessage returns "ENC:" + Encrypt(text).
func (c *Codec) EncryptMessage(text string) (string, error) {
	sealed, err := c.Encrypt(text)
	if err != nil {
		return "", err
	}
	return Marker + sealed, nil
}

// DecryptMessage requires the marker and opens the remainder.
func (c *Codec) DecryptMessage(payload string) (string, error) {
	if !IsEncrypted(payload) {
		return "", &DecryptionError{Reason: "missing " + Marker + " marker"}
	}
	return c.Decrypt(payload[len(Marker):])
}

// IsEncrypted reports whether payload carries the marker.
func IsEncrypted(payload string) bool {
	return strings.HasPrefix(payload, Marker)
}

// IsDecryptionError reports whether err is a *DecryptionError.
func IsDecryptionError(err error) bool {
	var de *DecryptionError
	return errors.As(err, &de)
}
