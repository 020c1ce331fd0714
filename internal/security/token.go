// Package security provides encryption for stored provider credentials.
// Access tokens are encrypted at rest with AES-256-GCM using a key
// derived from the configured encryption secret.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize   = 16
	keySize    = 32
	iterations = 100000
)

var (
	// ErrNoEncryptionKey is returned when the vault is constructed without a secret.
	ErrNoEncryptionKey = errors.New("token encryption key is not configured")
	// ErrInvalidCiphertext is returned when stored data is too short or malformed.
	ErrInvalidCiphertext = errors.New("invalid encrypted token")
)

// TokenVault encrypts and decrypts provider access tokens.
type TokenVault struct {
	secret string
}

// NewTokenVault creates a vault backed by the given secret
func NewTokenVault(secret string) (*TokenVault, error) {
	if secret == "" {
		return nil, ErrNoEncryptionKey
	}
	return &TokenVault{secret: secret}, nil
}

// Encrypt encrypts a plaintext token.
// Output layout: base64(salt || nonce || ciphertext || tag).
func (v *TokenVault) Encrypt(token string) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	gcm, err := v.newGCM(salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(token), nil)
	return base64.StdEncoding.EncodeToString(append(salt, sealed...)), nil
}

// Decrypt decrypts a token previously produced by Encrypt
func (v *TokenVault) Decrypt(encrypted string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return "", fmt.Errorf("failed to decode encrypted token: %w", err)
	}

	if len(data) < saltSize {
		return "", ErrInvalidCiphertext
	}

	salt := data[:saltSize]
	sealed := data[saltSize:]

	gcm, err := v.newGCM(salt)
	if err != nil {
		return "", err
	}

	if len(sealed) < gcm.NonceSize() {
		return "", ErrInvalidCiphertext
	}

	nonce := sealed[:gcm.NonceSize()]
	ciphertext := sealed[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt token: %w", err)
	}

	return string(plaintext), nil
}

func (v *TokenVault) newGCM(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(v.secret), salt, iterations, keySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return gcm, nil
}
