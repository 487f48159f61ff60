package totp

import (
	"crypto/rand"
	"encoding/hex"

	"golang.org/x/crypto/bcrypt"
)

const recoveryCodeCount = 10

// generateRecoveryCodes returns plaintext codes for one-time display plus the
// bcrypt hashes that get persisted.
func generateRecoveryCodes(count int) (plaintext []string, hashed []string, err error) {
	for i := 0; i < count; i++ {
		raw := make([]byte, 8)
		if _, err := rand.Read(raw); err != nil {
			return nil, nil, err
		}
		code := hex.EncodeToString(raw)

		hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
		if err != nil {
			return nil, nil, err
		}

		plaintext = append(plaintext, code)
		hashed = append(hashed, string(hash))
	}
	return plaintext, hashed, nil
}

func matchRecoveryCode(hashes []string, code string) int {
	for i, hash := range hashes {
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) == nil {
			return i
		}
	}
	return -1
}
