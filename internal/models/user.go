package models

// User is a local projection of an account owned by the external session and
// identity provider. Rows are provisioned just-in-time from validated token
// claims; this service never manages passwords or primary credentials.
type User struct {
	BaseModel
	Email       string `json:"email" gorm:"type:varchar(255);uniqueIndex;not null"`
	DisplayName string `json:"displayName" gorm:"type:varchar(100)"`
}
