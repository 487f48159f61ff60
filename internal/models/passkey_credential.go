package models

import (
	"time"

	"github.com/google/uuid"
)

// PasskeyCredential is one WebAuthn public-key credential owned by a user.
// CredentialID is unique across all users; collisions are rejected at
// registration time. SignCount only ever increases.
type PasskeyCredential struct {
	BaseModel
	UserID          uuid.UUID  `json:"-" gorm:"type:uuid;not null;index"`
	CredentialID    []byte     `json:"-" gorm:"type:bytea;uniqueIndex;not null"`
	PublicKey       []byte     `json:"-" gorm:"type:bytea;not null"`
	AttestationType string     `json:"-" gorm:"type:varchar(32)"`
	AAGUID          []byte     `json:"-" gorm:"type:bytea"`
	SignCount       uint32     `json:"-" gorm:"not null;default:0"`
	Name            string     `json:"name" gorm:"type:varchar(100);not null"`
	Transports      string     `json:"-" gorm:"type:text"`
	BackupEligible  bool       `json:"-" gorm:"not null;default:false"`
	BackupState     bool       `json:"-" gorm:"not null;default:false"`
	LastUsedAt      *time.Time `json:"lastUsedAt,omitempty"`

	User User `json:"-" gorm:"foreignKey:UserID"`
}

func (PasskeyCredential) TableName() string {
	return "passkey_credentials"
}
