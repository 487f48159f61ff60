package challenge

import (
	"crypto/subtle"
	"errors"
	"time"

	"github.com/keyfort/backend/internal/models"
	"gorm.io/gorm"
)

// GormStore persists challenges in the metadata database so a clustered
// deployment can share one outstanding-challenge view across instances.
type GormStore struct {
	db  *gorm.DB
	ttl time.Duration
}

func NewGormStore(db *gorm.DB, ttl time.Duration) *GormStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &GormStore{db: db, ttl: ttl}
}

func (s *GormStore) Issue(ownerKey string, kind models.ChallengeKind, value string, sessionData []byte) (Challenge, error) {
	if value == "" {
		minted, err := NewValue()
		if err != nil {
			return Challenge{}, err
		}
		value = minted
	}

	row := models.WebAuthnChallenge{
		OwnerKey:    ownerKey,
		Value:       value,
		Kind:        kind,
		SessionData: string(sessionData),
		ExpiresAt:   time.Now().UTC().Add(s.ttl),
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("owner_key = ?", ownerKey).Delete(&models.WebAuthnChallenge{}).Error; err != nil {
			return err
		}
		return tx.Create(&row).Error
	})
	if err != nil {
		return Challenge{}, err
	}

	return Challenge{
		OwnerKey:    ownerKey,
		Value:       value,
		Kind:        kind,
		SessionData: sessionData,
		ExpiresAt:   row.ExpiresAt,
	}, nil
}

func (s *GormStore) Consume(ownerKey, presentedValue string) (Challenge, error) {
	var row models.WebAuthnChallenge
	if err := s.db.First(&row, "owner_key = ?", ownerKey).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Challenge{}, ErrNotFound
		}
		return Challenge{}, err
	}

	if time.Now().After(row.ExpiresAt) {
		_ = s.db.Delete(&row).Error
		return Challenge{}, ErrExpired
	}

	if subtle.ConstantTimeCompare([]byte(row.Value), []byte(presentedValue)) != 1 {
		return Challenge{}, ErrMismatch
	}

	// Two callers can both read the row before either deletes it. The delete
	// serializes them: whoever loses the row sees zero rows affected and the
	// challenge stays single-use.
	result := s.db.Delete(&row)
	if result.Error != nil {
		return Challenge{}, result.Error
	}
	if result.RowsAffected == 0 {
		return Challenge{}, ErrNotFound
	}

	return Challenge{
		OwnerKey:    row.OwnerKey,
		Value:       row.Value,
		Kind:        row.Kind,
		SessionData: []byte(row.SessionData),
		ExpiresAt:   row.ExpiresAt,
	}, nil
}

func (s *GormStore) DeleteExpired() error {
	return s.db.Where("expires_at < ?", time.Now().UTC()).Delete(&models.WebAuthnChallenge{}).Error
}
