package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidKey indicates a misconfigured encryption key.
var ErrInvalidKey = errors.New("encryption key must decode to 16, 24, or 32 bytes")

// Cipher encrypts worker credentials at rest with AES-GCM. The stored form
// is urlsafe-base64(nonce || ciphertext), which keeps ciphertexts readable
// as opaque text columns.
type Cipher struct {
	key []byte
}

// NewCipher parses the configured key. The raw value may be urlsafe base64,
// hex, or the literal bytes; whichever decodes to a valid AES key length wins.
func NewCipher(raw string) (*Cipher, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: key is empty", ErrInvalidKey)
	}

	var candidates [][]byte
	if decoded, err := base64.URLEncoding.DecodeString(raw); err == nil {
		candidates = append(candidates, decoded)
	}
	if decoded, err := hex.DecodeString(raw); err == nil {
		candidates = append(candidates, decoded)
	}
	candidates = append(candidates, []byte(raw))

	for _, key := range candidates {
		switch len(key) {
		case 16, 24, 32:
			return &Cipher{key: key}, nil
		}
	}
	return nil, ErrInvalidKey
}

// EncryptSecret seals a plaintext secret for storage.
func (c *Cipher) EncryptSecret(plaintext string) (string, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("new gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// DecryptSecret opens a stored ciphertext.
func (c *Cipher) DecryptSecret(ciphertextB64 string) (string, error) {
	data, err := base64.URLEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("new gcm: %w", err)
	}

	if len(data) < gcm.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := data[:gcm.NonceSize()], data[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("open ciphertext: %w", err)
	}
	return string(plaintext), nil
}

// MaskToken hides everything but the leading characters of a secret for
// display and logging.
func MaskToken(token string) string {
	if len(token) <= 4 {
		return token
	}
	return token[:4] + strings.Repeat("•", len(token)-4)
}
