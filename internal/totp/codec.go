package totp

import (
	"crypto/rand"
	"encoding/base32"
	"errors"
	"regexp"
	"strings"
)

// Secrets are RFC 4648 base32 without padding, the alphabet authenticator apps
// expect. A 20-byte secret always renders as exactly 32 characters.
const secretLength = 20

var (
	secretEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

	validSecret = regexp.MustCompile(`^[A-Z2-7]+$`)
)

// GenerateSecretKey returns a fresh 160-bit secret in base32 form.
func GenerateSecretKey() (string, error) {
	raw := make([]byte, secretLength)
	if _, err := rand.Read(raw); err != nil {
		return "", errors.Join(ErrSecretGeneration, err)
	}
	return EncodeSecret(raw), nil
}

func EncodeSecret(raw []byte) string {
	return secretEncoding.EncodeToString(raw)
}

func DecodeSecret(secret string) ([]byte, error) {
	secret = strings.TrimSpace(strings.ToUpper(secret))
	if !validSecret.MatchString(secret) {
		return nil, ErrInvalidSecret
	}
	raw, err := secretEncoding.DecodeString(secret)
	if err != nil {
		return nil, errors.Join(ErrInvalidSecret, err)
	}
	return raw, nil
}
