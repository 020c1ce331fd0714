package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenVaultRoundTrip(t *testing.T) {
	vault, err := NewTokenVault("test-secret-key")
	require.NoError(t, err)

	encrypted, err := vault.Encrypt("access-token-abc123")
	require.NoError(t, err)
	assert.NotEqual(t, "access-token-abc123", encrypted)

	decrypted, err := vault.Decrypt(encrypted)
	require.NoError(t, err)
	assert.Equal(t, "access-token-abc123", decrypted)
}

func TestTokenVaultUniqueCiphertexts(t *testing.T) {
	vault, err := NewTokenVault("test-secret-key")
	require.NoError(t, err)

	first, err := vault.Encrypt("same-token")
	require.NoError(t, err)
	second, err := vault.Encrypt("same-token")
	require.NoError(t, err)

	// Random salt and nonce mean identical plaintexts never share ciphertext
	assert.NotEqual(t, first, second)
}

func TestTokenVaultWrongSecret(t *testing.T) {
	vault, err := NewTokenVault("correct-secret")
	require.NoError(t, err)

	encrypted, err := vault.Encrypt("access-token")
	require.NoError(t, err)

	other, err := NewTokenVault("wrong-secret")
	require.NoError(t, err)

	_, err = other.Decrypt(encrypted)
	assert.Error(t, err)
}

func TestTokenVaultInvalidInput(t *testing.T) {
	vault, err := NewTokenVault("test-secret-key")
	require.NoError(t, err)

	t.Run("not base64", func(t *testing.T) {
		_, err := vault.Decrypt("not-base64!!!")
		assert.Error(t, err)
	})

	t.Run("too short", func(t *testing.T) {
		_, err := vault.Decrypt("c2hvcnQ=")
		assert.ErrorIs(t, err, ErrInvalidCiphertext)
	})
}

func TestNewTokenVaultRequiresSecret(t *testing.T) {
	_, err := NewTokenVault("")
	assert.ErrorIs(t, err, ErrNoEncryptionKey)
}
