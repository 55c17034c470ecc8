package security

import (
	"encoding/base64"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCipherKeyFormats(t *testing.T) {
	rawKey := []byte("0123456789abcdef0123456789abcdef") // 32 bytes

	t.Run("raw bytes", func(t *testing.T) {
		_, err := NewCipher(string(rawKey))
		require.NoError(t, err)
	})

	t.Run("urlsafe base64", func(t *testing.T) {
		_, err := NewCipher(base64.URLEncoding.EncodeToString(rawKey[:16]))
		require.NoError(t, err)
	})

	t.Run("hex", func(t *testing.T) {
		_, err := NewCipher(hex.EncodeToString(rawKey[:24]))
		require.NoError(t, err)
	})

	t.Run("bad length", func(t *testing.T) {
		_, err := NewCipher("short")
		assert.ErrorIs(t, err, ErrInvalidKey)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := NewCipher("   ")
		assert.ErrorIs(t, err, ErrInvalidKey)
	})
}

func TestEncryptDecryptSecret(t *testing.T) {
	cipher, err := NewCipher("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)

	sealed, err := cipher.EncryptSecret("wk-token-super-secret")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "wk-token")

	opened, err := cipher.DecryptSecret(sealed)
	require.NoError(t, err)
	assert.Equal(t, "wk-token-super-secret", opened)

	// Nonce is random, so two encryptions never collide.
	sealed2, err := cipher.EncryptSecret("wk-token-super-secret")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, sealed2)
}

func TestDecryptSecretRejectsGarbage(t *testing.T) {
	cipher, err := NewCipher("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)

	_, err = cipher.DecryptSecret("not-base64!!!")
	assert.Error(t, err)

	_, err = cipher.DecryptSecret(base64.URLEncoding.EncodeToString([]byte("tiny")))
	assert.Error(t, err)

	// Valid encoding, wrong key material
	other, err := NewCipher("fedcba9876543210fedcba9876543210")
	require.NoError(t, err)
	sealed, err := other.EncryptSecret("secret")
	require.NoError(t, err)
	_, err = cipher.DecryptSecret(sealed)
	assert.Error(t, err)
}

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "abc", MaskToken("abc"))
	masked := MaskToken("abcdefgh")
	assert.True(t, strings.HasPrefix(masked, "abcd"))
	assert.NotContains(t, masked, "efgh")
}

func TestSignatureRoundTrip(t *testing.T) {
	body := []byte(`{"session_id":"s-1","status":"ready"}`)
	sig := ComputeSignature("secret", body, "1700000000")

	assert.True(t, VerifySignature("secret", body, "1700000000", sig))
	assert.False(t, VerifySignature("secret", body, "1700000001", sig), "timestamp is part of the signed message")
	assert.False(t, VerifySignature("secret", []byte(`{"tampered":true}`), "1700000000", sig))
	assert.False(t, VerifySignature("other", body, "1700000000", sig))
}
