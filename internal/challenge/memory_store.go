package challenge

import (
	"crypto/subtle"
	"sync"
	"time"

	"github.com/keyfort/backend/internal/models"
)

// MemoryStore keeps challenges in process memory. Suitable for single-instance
// deployments and tests; clustered deployments use GormStore.
type MemoryStore struct {
	mu         sync.Mutex
	challenges map[string]Challenge
	ttl        time.Duration
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		challenges: make(map[string]Challenge),
		ttl:        ttl,
	}
}

func (s *MemoryStore) Issue(ownerKey string, kind models.ChallengeKind, value string, sessionData []byte) (Challenge, error) {
	if value == "" {
		minted, err := NewValue()
		if err != nil {
			return Challenge{}, err
		}
		value = minted
	}

	ch := Challenge{
		OwnerKey:    ownerKey,
		Value:       value,
		Kind:        kind,
		SessionData: sessionData,
		ExpiresAt:   time.Now().UTC().Add(s.ttl),
	}

	s.mu.Lock()
	s.challenges[ownerKey] = ch
	s.mu.Unlock()

	return ch, nil
}

func (s *MemoryStore) Consume(ownerKey, presentedValue string) (Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.challenges[ownerKey]
	if !ok {
		return Challenge{}, ErrNotFound
	}

	if time.Now().After(ch.ExpiresAt) {
		delete(s.challenges, ownerKey)
		return Challenge{}, ErrExpired
	}

	if subtle.ConstantTimeCompare([]byte(ch.Value), []byte(presentedValue)) != 1 {
		return Challenge{}, ErrMismatch
	}

	delete(s.challenges, ownerKey)
	return ch, nil
}

func (s *MemoryStore) DeleteExpired() error {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, ch := range s.challenges {
		if now.After(ch.ExpiresAt) {
			delete(s.challenges, key)
		}
	}
	return nil
}
