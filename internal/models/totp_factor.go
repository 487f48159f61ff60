package models

import (
	"time"

	"github.com/google/uuid"
)

// TOTPFactor holds a user's time-based one-time-password state. Exactly one row
// exists per user. Secret and PendingSecret are AES-GCM encrypted at rest.
//
// State machine: disabled (no secrets) -> pending (PendingSecret set) -> active
// (Enabled, Secret set). Pending may be overwritten at any time to restart
// setup; the active secret changes only through verified transitions.
type TOTPFactor struct {
	BaseModel
	UserID        uuid.UUID  `json:"userID" gorm:"type:uuid;uniqueIndex;not null"`
	Secret        string     `json:"-" gorm:"type:text"`
	PendingSecret string     `json:"-" gorm:"type:text"`
	Enabled       bool       `json:"enabled" gorm:"not null;default:false"`
	EnabledAt     *time.Time `json:"enabledAt,omitempty"`
	RecoveryCodes string     `json:"-" gorm:"type:text"`
	RecoveryCount int        `json:"recoveryCodesRemaining" gorm:"not null;default:0"`

	User User `json:"-" gorm:"foreignKey:UserID"`
}
