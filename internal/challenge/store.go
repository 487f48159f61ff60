// Package challenge implements the single-use nonce store shared by WebAuthn
// registration and authentication ceremonies. Challenges are keyed by owner
// (a user ID, or a login-ceremony key for callers that are not yet
// authenticated), carry at least 256 bits of entropy, live for a bounded TTL,
// and are destroyed the moment they are successfully matched.
package challenge

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"github.com/keyfort/backend/internal/models"
)

const (
	// DefaultTTL bounds how long a ceremony may stay open.
	DefaultTTL = 5 * time.Minute

	valueBytes = 32
)

var (
	ErrNotFound = errors.New("challenge not found")
	ErrExpired  = errors.New("challenge expired")
	ErrMismatch = errors.New("challenge mismatch")
)

// Challenge is one outstanding ceremony nonce. SessionData carries the
// serialized ceremony state that must survive between begin and finish.
type Challenge struct {
	OwnerKey    string
	Value       string
	Kind        models.ChallengeKind
	SessionData []byte
	ExpiresAt   time.Time
}

// Store is the keyed nonce store. Implementations guarantee that a consumed
// or expired challenge can never be matched again, and that each owner has at
// most one outstanding challenge (Issue replaces). An empty value asks the
// store to mint one; ceremony code passes the value its protocol library
// generated so both sides agree on the nonce.
type Store interface {
	Issue(ownerKey string, kind models.ChallengeKind, value string, sessionData []byte) (Challenge, error)
	Consume(ownerKey, presentedValue string) (Challenge, error)
	DeleteExpired() error
}

// NewValue mints a transport-encoded nonce with 256 bits of entropy.
func NewValue() (string, error) {
	raw := make([]byte, valueBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// StartSweep purges expired challenges on a timer. Lazy purging at lookup
// already keeps the contract; the sweep just bounds storage growth for owners
// that never come back.
func StartSweep(store Store, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for range ticker.C {
			_ = store.DeleteExpired()
		}
	}()
}
