package utils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
)

var encryptionKey []byte

// ConfigureEncryption derives the AES-256 key used for secrets at rest from the
// configured application secret. An empty secret leaves encryption unconfigured
// and values are stored as plaintext (useful for local development only).
func ConfigureEncryption(secret string) {
	if secret == "" {
		encryptionKey = nil
		return
	}
	key := sha256.Sum256([]byte(secret))
	encryptionKey = key[:]
}

func EncryptAESGCM(plaintext string) (string, error) {
	if encryptionKey == nil {
		return plaintext, nil
	}

	block, err := aes.NewCipher(encryptionKey)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func DecryptAESGCM(value string) (string, error) {
	if encryptionKey == nil {
		return "", errors.New("encryption key not configured")
	}

	raw, err := base64.StdEncoding.Strict().DecodeString(value)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(encryptionKey)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	if len(raw) < gcm.NonceSize() {
		return "", errors.New("ciphertext too short")
	}

	nonce, ciphertext := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}

	return string(plaintext), nil
}

// DecryptOrPlaintext decrypts a stored value, falling back to the raw value if
// it does not decrypt. The fallback keeps rows written before encryption was
// enabled readable.
func DecryptOrPlaintext(value string) string {
	if value == "" {
		return ""
	}
	plaintext, err := DecryptAESGCM(value)
	if err != nil {
		return value
	}
	return plaintext
}
