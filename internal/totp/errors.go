package totp

import "errors"

var (
	ErrSecretGeneration = errors.New("failed to generate TOTP secret")
	ErrInvalidSecret    = errors.New("invalid TOTP secret")
	ErrMalformedCode    = errors.New("code must be 6 digits")
	ErrInvalidCode      = errors.New("invalid code")
	ErrNoPendingSetup   = errors.New("no pending TOTP setup")
	ErrNotEnabled       = errors.New("TOTP is not enabled")
)
