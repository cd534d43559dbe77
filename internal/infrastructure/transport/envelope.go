package transport

import (
	"strings"

	"chathub/pkg/crypto"
	apperrors "chathub/pkg/errors"
)

// Envelope applies the optional "ENC:" wrapping to datagram payloads.
type Envelope struct {
	codec *crypto.Codec
}

func NewEnvelope(codec *crypto.Codec) Envelope {
	return Envelope{codec: codec}
}

func (e Envelope) Enabled() bool {
	return e.codec != nil
}

// Describe names the payload protection for log lines.
func (e Envelope) Describe() string {
	if e.codec == nil {
		return "no encryption"
	}
	return strings.ToUpper(e.codec.Cipher()) + " encryption"
}

// Seal encrypts plain when a codec is configured.
func (e Envelope) Seal(plain string) ([]byte, error) {
	if e.codec == nil {
		return []byte(plain), nil
	}
	sealed, err := e.codec.EncryptMessage(plain)
	if err != nil {
		return nil, err
	}
	return []byte(sealed), nil
}

// Open returns the plaintext of payload and whether it arrived encrypted.
// Plaintext payloads pass through so unencrypted peers still work. Failures
// carry the DECRYPTION_FAILED code.
func (e Envelope) Open(payload string) (string, bool, error) {
	if !crypto.IsEncrypted(payload) {
		return payload, false, nil
	}
	if e.codec == nil {
		return "", true, apperrors.NewDecryptionError(&crypto.DecryptionError{Reason: "no key configured"}, "failed to open payload")
	}
	plain, err := e.codec.DecryptMessage(payload)
	if err != nil {
		return "", true, apperrors.NewDecryptionError(err, "failed to open payload")
	}
	return plain, true, nil
}
