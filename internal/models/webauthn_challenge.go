package models

import "time"

type ChallengeKind string

const (
	ChallengeRegistration   ChallengeKind = "registration"
	ChallengeAuthentication ChallengeKind = "authentication"
)

// WebAuthnChallenge is one outstanding ceremony nonce. OwnerKey is the user ID
// for registration ceremonies and "login:{email}" for authentication, since the
// caller is not yet authenticated at that point. Rows are single-use: deleted
// on successful consumption and purged after the TTL elapses.
type WebAuthnChallenge struct {
	BaseModel
	OwnerKey    string        `json:"-" gorm:"type:varchar(300);uniqueIndex;not null"`
	Value       string        `json:"-" gorm:"type:varchar(64);not null"`
	Kind        ChallengeKind `json:"-" gorm:"type:varchar(20);not null"`
	SessionData string        `json:"-" gorm:"type:text;not null"`
	ExpiresAt   time.Time     `json:"-" gorm:"not null;index"`
}
