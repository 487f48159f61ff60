package passkey

import (
	"encoding/json"
	"strings"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/keyfort/backend/internal/models"
)

// ceremonyUser adapts a user row plus stored credentials to the webauthn.User
// contract. The user handle is the raw UUID bytes, so handles stay stable
// across email changes.
type ceremonyUser struct {
	user  models.User
	creds []webauthn.Credential
}

func (u *ceremonyUser) WebAuthnID() []byte {
	b, _ := u.user.ID.MarshalBinary()
	return b
}

func (u *ceremonyUser) WebAuthnName() string {
	return u.user.Email
}

func (u *ceremonyUser) WebAuthnDisplayName() string {
	if u.user.DisplayName != "" {
		return u.user.DisplayName
	}
	local, _, _ := strings.Cut(u.user.Email, "@")
	return local
}

func (u *ceremonyUser) WebAuthnCredentials() []webauthn.Credential {
	return u.creds
}

func credentialFromRow(row models.PasskeyCredential) webauthn.Credential {
	var transports []protocol.AuthenticatorTransport
	if row.Transports != "" {
		var names []string
		if err := json.Unmarshal([]byte(row.Transports), &names); err == nil {
			for _, name := range names {
				transports = append(transports, protocol.AuthenticatorTransport(name))
			}
		}
	}

	return webauthn.Credential{
		ID:              row.CredentialID,
		PublicKey:       row.PublicKey,
		AttestationType: row.AttestationType,
		Authenticator: webauthn.Authenticator{
			AAGUID:    row.AAGUID,
			SignCount: row.SignCount,
		},
		Transport: transports,
		Flags: webauthn.CredentialFlags{
			BackupEligible: row.BackupEligible,
			BackupState:    row.BackupState,
		},
	}
}

func transportsJSON(transports []protocol.AuthenticatorTransport) string {
	if len(transports) == 0 {
		return ""
	}
	names := make([]string, len(transports))
	for i, t := range transports {
		names[i] = string(t)
	}
	encoded, _ := json.Marshal(names)
	return string(encoded)
}
