package storage

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
)

// EncryptSecret encrypts a secret using AES-256-GCM.
// The encryptionKey must be exactly 32 bytes.
// Returns hex-encoded nonce+ciphertext concatenated.
func EncryptSecret(plaintext []byte, encryptionKey []byte) ([]byte, error) {
	if len(encryptionKey) != 32 {
		return nil, ErrInvalidKey
	}

	// Safe because key size is already validated
	block, _ := aes.NewCipher(encryptionKey) //nolint:errcheck
	gcm, _ := cipher.NewGCM(block)           //nolint:errcheck

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return []byte(hex.EncodeToString(ciphertext)), nil
}

// DecryptSecret decrypts data produced by EncryptSecret with the same key.
func DecryptSecret(encrypted []byte, encryptionKey []byte) ([]byte, error) {
	if len(encryptionKey) != 32 {
		return nil, ErrInvalidKey
	}

	ciphertext := make([]byte, hex.DecodedLen(len(encrypted)))
	n, err := hex.Decode(ciphertext, encrypted)
	if err != nil {
		return nil, ErrDecryption
	}
	ciphertext = ciphertext[:n]

	block, _ := aes.NewCipher(encryptionKey) //nolint:errcheck
	gcm, _ := cipher.NewGCM(block)           //nolint:errcheck

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, ErrDecryption
	}

	plaintext, err := gcm.Open(nil, ciphertext[:nonceSize], ciphertext[nonceSize:], nil)
	if err != nil {
		return nil, ErrDecryption
	}
	return plaintext, nil
}

// EncryptSettings serializes and encrypts a backend connection config.
func EncryptSettings(settings map[string]string, encryptionKey []byte) ([]byte, error) {
	if settings == nil {
		settings = map[string]string{}
	}
	plaintext, err := json.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal settings: %w", err)
	}
	return EncryptSecret(plaintext, encryptionKey)
}

// DecryptSettings reverses EncryptSettings.
func DecryptSettings(encrypted []byte, encryptionKey []byte) (map[string]string, error) {
	plaintext, err := DecryptSecret(encrypted, encryptionKey)
	if err != nil {
		return nil, err
	}
	var settings map[string]string
	if err := json.Unmarshal(plaintext, &settings); err != nil {
		return nil, ErrDecryption
	}
	return settings, nil
}
