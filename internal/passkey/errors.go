package passkey

import "errors"

// Ceremony integrity failures are distinct internally for logging and audit,
// but the handler layer collapses them into one generic authentication-failure
// message so a caller cannot probe which gate rejected them.
var (
	ErrChallengeExpired    = errors.New("ceremony challenge expired")
	ErrChallengeMismatch   = errors.New("ceremony challenge mismatch")
	ErrWrongCeremonyType   = errors.New("wrong ceremony type")
	ErrDuplicateCredential = errors.New("credential already registered")
	ErrCredentialNotFound  = errors.New("credential not found")
	ErrAccountNotFound     = errors.New("account not found")
	ErrNoCredentials       = errors.New("no passkeys registered")
	ErrVerificationFailed  = errors.New("credential verification failed")
	ErrInvalidResponse     = errors.New("invalid credential response")
)
