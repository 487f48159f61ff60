package totp

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/keyfort/backend/internal/keylock"
	"github.com/keyfort/backend/internal/models"
	"github.com/keyfort/backend/pkg/utils"
	"gorm.io/gorm"
)

// Engine owns the TOTP factor lifecycle: enroll (pending secret), confirm
// (pending -> active), check, and disable. It is the only component that
// mutates TOTPFactor rows. Mutations for a single user are serialized with a
// per-user lock; concurrent setup and confirm calls cannot clobber each other.
//
// A store mutation that commits while the caller's request times out stays
// committed. There is no rollback; operations are at-least-once from the
// caller's point of view.
type Engine struct {
	db     *gorm.DB
	issuer string
	locks  *keylock.KeyLock
}

func NewEngine(db *gorm.DB, issuer string) *Engine {
	return &Engine{
		db:     db,
		issuer: issuer,
		locks:  keylock.New(),
	}
}

// Enrollment is handed back from GenerateSecret for one-time display.
type Enrollment struct {
	Secret          string
	ProvisioningURI string
}

// Activation is handed back from ConfirmSetup. Recovery codes appear exactly
// once, in plaintext; only their bcrypt hashes are stored.
type Activation struct {
	EnabledAt     time.Time
	RecoveryCodes []string
}

type Status struct {
	Enabled           bool
	EnabledAt         *time.Time
	PendingSetup      bool
	RecoveryCodesLeft int
}

// GenerateSecret starts (or restarts) TOTP setup. Any previous pending secret
// is overwritten without error so a user can always re-scan a fresh QR code.
// An already-active factor is untouched until ConfirmSetup succeeds.
func (e *Engine) GenerateSecret(userID uuid.UUID, accountName string) (*Enrollment, error) {
	secret, err := GenerateSecretKey()
	if err != nil {
		return nil, err
	}

	encrypted, err := utils.EncryptAESGCM(secret)
	if err != nil {
		return nil, err
	}

	unlock := e.locks.Lock(userID.String())
	defer unlock()

	var factor models.TOTPFactor
	err = e.db.First(&factor, "user_id = ?", userID).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		factor = models.TOTPFactor{UserID: userID, PendingSecret: encrypted}
		if err := e.db.Create(&factor).Error; err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		if err := e.db.Model(&factor).Update("pending_secret", encrypted).Error; err != nil {
			return nil, err
		}
	}

	return &Enrollment{
		Secret:          secret,
		ProvisioningURI: ProvisioningURI(secret, e.issuer, accountName),
	}, nil
}

// ConfirmSetup activates the pending secret if the submitted code verifies
// against it. On a wrong code the pending secret stays in place so the user
// can retry without re-scanning.
func (e *Engine) ConfirmSetup(userID uuid.UUID, code string) (*Activation, error) {
	unlock := e.locks.Lock(userID.String())
	defer unlock()

	var factor models.TOTPFactor
	if err := e.db.First(&factor, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoPendingSetup
		}
		return nil, err
	}
	if factor.PendingSecret == "" {
		return nil, ErrNoPendingSetup
	}

	secret := utils.DecryptOrPlaintext(factor.PendingSecret)
	ok, err := VerifyCode(secret, code)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidCode
	}

	plaintext, hashed, err := generateRecoveryCodes(recoveryCodeCount)
	if err != nil {
		return nil, err
	}
	hashedJSON, err := json.Marshal(hashed)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	updates := map[string]interface{}{
		"secret":         factor.PendingSecret,
		"pending_secret": "",
		"enabled":        true,
		"enabled_at":     now,
		"recovery_codes": string(hashedJSON),
		"recovery_count": len(plaintext),
	}
	if err := e.db.Model(&factor).Updates(updates).Error; err != nil {
		return nil, err
	}

	return &Activation{EnabledAt: now, RecoveryCodes: plaintext}, nil
}

// CheckCode verifies a login step-up code against the active secret. It never
// mutates state.
func (e *Engine) CheckCode(userID uuid.UUID, code string) error {
	var factor models.TOTPFactor
	if err := e.db.First(&factor, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotEnabled
		}
		return err
	}
	if !factor.Enabled {
		return ErrNotEnabled
	}

	secret := utils.DecryptOrPlaintext(factor.Secret)
	ok, err := VerifyCode(secret, code)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidCode
	}
	return nil
}

// Disable clears the factor after proving possession of the active secret.
// Disabling is a privileged mutation, not a toggle.
func (e *Engine) Disable(userID uuid.UUID, code string) error {
	unlock := e.locks.Lock(userID.String())
	defer unlock()

	var factor models.TOTPFactor
	if err := e.db.First(&factor, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotEnabled
		}
		return err
	}
	if !factor.Enabled {
		return ErrNotEnabled
	}

	secret := utils.DecryptOrPlaintext(factor.Secret)
	ok, err := VerifyCode(secret, code)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidCode
	}

	updates := map[string]interface{}{
		"secret":         "",
		"pending_secret": "",
		"enabled":        false,
		"enabled_at":     nil,
		"recovery_codes": "",
		"recovery_count": 0,
	}
	return e.db.Model(&factor).Updates(updates).Error
}

// UseRecoveryCode consumes a single-use recovery code and returns how many
// remain. Each code works exactly once.
func (e *Engine) UseRecoveryCode(userID uuid.UUID, code string) (int, error) {
	unlock := e.locks.Lock(userID.String())
	defer unlock()

	var factor models.TOTPFactor
	if err := e.db.First(&factor, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrNotEnabled
		}
		return 0, err
	}
	if !factor.Enabled || factor.RecoveryCodes == "" {
		return 0, ErrNotEnabled
	}

	var hashes []string
	if err := json.Unmarshal([]byte(factor.RecoveryCodes), &hashes); err != nil {
		return 0, err
	}

	idx := matchRecoveryCode(hashes, code)
	if idx < 0 {
		return 0, ErrInvalidCode
	}

	hashes = append(hashes[:idx], hashes[idx+1:]...)
	updatedJSON, err := json.Marshal(hashes)
	if err != nil {
		return 0, err
	}

	updates := map[string]interface{}{
		"recovery_codes": string(updatedJSON),
		"recovery_count": len(hashes),
	}
	if err := e.db.Model(&factor).Updates(updates).Error; err != nil {
		return 0, err
	}
	return len(hashes), nil
}

// Status reports the factor state without exposing secret material.
func (e *Engine) Status(userID uuid.UUID) (Status, error) {
	var factor models.TOTPFactor
	if err := e.db.First(&factor, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Status{}, nil
		}
		return Status{}, err
	}
	return Status{
		Enabled:           factor.Enabled,
		EnabledAt:         factor.EnabledAt,
		PendingSetup:      factor.PendingSecret != "",
		RecoveryCodesLeft: factor.RecoveryCount,
	}, nil
}
