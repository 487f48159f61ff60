package passkey

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
	"github.com/keyfort/backend/internal/challenge"
	"github.com/keyfort/backend/internal/keylock"
	"github.com/keyfort/backend/internal/models"
	"gorm.io/gorm"
)

// ceremonyProvider is the slice of go-webauthn the manager uses. Tests swap in
// a fake so ceremonies can run without a real authenticator.
type ceremonyProvider interface {
	BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error)
	CreateCredential(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error)
	BeginLogin(user webauthn.User, opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	ValidateLogin(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error)
}

type responseParser interface {
	ParseCredentialCreationResponseBody(body io.Reader) (*protocol.ParsedCredentialCreationData, error)
	ParseCredentialRequestResponseBody(body io.Reader) (*protocol.ParsedCredentialAssertionData, error)
}

type defaultParser struct{}

func (defaultParser) ParseCredentialCreationResponseBody(body io.Reader) (*protocol.ParsedCredentialCreationData, error) {
	return protocol.ParseCredentialCreationResponseBody(body)
}

func (defaultParser) ParseCredentialRequestResponseBody(body io.Reader) (*protocol.ParsedCredentialAssertionData, error) {
	return protocol.ParseCredentialRequestResponseBody(body)
}

// Manager runs WebAuthn registration and authentication ceremonies and owns
// the PasskeyCredential rows. Challenge state lives in the injected challenge
// store; assertion signatures and sign counters are verified by go-webauthn
// before any credential row is touched.
type Manager struct {
	db         *gorm.DB
	provider   ceremonyProvider
	parser     responseParser
	challenges challenge.Store
	locks      *keylock.KeyLock
}

func NewManager(db *gorm.DB, wa *webauthn.WebAuthn, challenges challenge.Store) *Manager {
	return &Manager{
		db:         db,
		provider:   wa,
		parser:     defaultParser{},
		challenges: challenges,
		locks:      keylock.New(),
	}
}

// CredentialView is the public shape of a stored credential. Key material is
// never exposed.
type CredentialView struct {
	ID           uuid.UUID  `json:"id"`
	CredentialID string     `json:"credentialId"`
	Name         string     `json:"name"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastUsedAt   *time.Time `json:"lastUsedAt,omitempty"`
}

func (m *Manager) loadCeremonyUser(user models.User) (*ceremonyUser, error) {
	var rows []models.PasskeyCredential
	if err := m.db.Where("user_id = ?", user.ID).Find(&rows).Error; err != nil {
		return nil, err
	}

	creds := make([]webauthn.Credential, len(rows))
	for i, row := range rows {
		creds[i] = credentialFromRow(row)
	}
	return &ceremonyUser{user: user, creds: creds}, nil
}

// BeginRegistration issues a registration challenge for an authenticated user
// and returns the credential creation options. Already-registered credential
// IDs go into the exclusion set so the same authenticator cannot re-enroll.
func (m *Manager) BeginRegistration(user models.User) (*protocol.CredentialCreation, error) {
	waUser, err := m.loadCeremonyUser(user)
	if err != nil {
		return nil, err
	}

	var opts []webauthn.RegistrationOption
	if len(waUser.creds) > 0 {
		opts = append(opts, webauthn.WithExclusions(webauthn.Credentials(waUser.creds).CredentialDescriptors()))
	}

	creation, session, err := m.provider.BeginRegistration(waUser, opts...)
	if err != nil {
		return nil, err
	}

	sessionJSON, err := json.Marshal(session)
	if err != nil {
		return nil, err
	}
	if _, err := m.challenges.Issue(user.ID.String(), models.ChallengeRegistration, session.Challenge, sessionJSON); err != nil {
		return nil, err
	}

	return creation, nil
}

// FinishRegistration validates the authenticator's attestation response and
// persists the new credential. Every gate is hard: any failure aborts with no
// partial write.
func (m *Manager) FinishRegistration(user models.User, response []byte, name string) (*models.PasskeyCredential, error) {
	parsed, err := m.parser.ParseCredentialCreationResponseBody(bytes.NewReader(response))
	if err != nil {
		return nil, errors.Join(ErrInvalidResponse, err)
	}

	ch, err := m.consume(user.ID.String(), parsed.Response.CollectedClientData.Challenge)
	if err != nil {
		return nil, err
	}
	if ch.Kind != models.ChallengeRegistration {
		return nil, ErrWrongCeremonyType
	}
	if parsed.Response.CollectedClientData.Type != protocol.CreateCeremony {
		return nil, ErrWrongCeremonyType
	}

	var session webauthn.SessionData
	if err := json.Unmarshal(ch.SessionData, &session); err != nil {
		return nil, err
	}
	// The store already matched the value; this guards against a session row
	// that was written for a different nonce.
	if session.Challenge != ch.Value {
		return nil, ErrChallengeMismatch
	}

	waUser, err := m.loadCeremonyUser(user)
	if err != nil {
		return nil, err
	}

	credential, err := m.provider.CreateCredential(waUser, session, parsed)
	if err != nil {
		return nil, errors.Join(ErrVerificationFailed, err)
	}

	unlock := m.locks.Lock(user.ID.String())
	defer unlock()

	var existing int64
	if err := m.db.Model(&models.PasskeyCredential{}).
		Where("credential_id = ?", credential.ID).
		Count(&existing).Error; err != nil {
		return nil, err
	}
	if existing > 0 {
		return nil, ErrDuplicateCredential
	}

	if name == "" {
		var owned int64
		if err := m.db.Model(&models.PasskeyCredential{}).
			Where("user_id = ?", user.ID).
			Count(&owned).Error; err != nil {
			return nil, err
		}
		name = fmt.Sprintf("Passkey %d", owned+1)
	}

	row := models.PasskeyCredential{
		UserID:          user.ID,
		CredentialID:    credential.ID,
		PublicKey:       credential.PublicKey,
		AttestationType: credential.AttestationType,
		AAGUID:          credential.Authenticator.AAGUID,
		SignCount:       credential.Authenticator.SignCount,
		Name:            name,
		Transports:      transportsJSON(credential.Transport),
		BackupEligible:  credential.Flags.BackupEligible,
		BackupState:     credential.Flags.BackupState,
	}
	if err := m.db.Create(&row).Error; err != nil {
		// The count check above only serializes registrations for the same
		// user; a racing registration by another user can still land first.
		// The unique index on credential_id settles it.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateCredential
		}
		return nil, err
	}

	return &row, nil
}

// BeginAuthentication starts a login ceremony for an account identified by
// email. The challenge is keyed by a login-ceremony key rather than the user
// ID because the caller is not authenticated yet.
func (m *Manager) BeginAuthentication(email string) (*protocol.CredentialAssertion, error) {
	user, err := m.findAccount(email)
	if err != nil {
		return nil, err
	}

	waUser, err := m.loadCeremonyUser(*user)
	if err != nil {
		return nil, err
	}
	if len(waUser.creds) == 0 {
		return nil, ErrNoCredentials
	}

	assertion, session, err := m.provider.BeginLogin(waUser)
	if err != nil {
		return nil, err
	}

	sessionJSON, err := json.Marshal(session)
	if err != nil {
		return nil, err
	}
	if _, err := m.challenges.Issue(loginOwnerKey(email), models.ChallengeAuthentication, session.Challenge, sessionJSON); err != nil {
		return nil, err
	}

	return assertion, nil
}

// FinishAuthentication validates the assertion against the stored public key.
// go-webauthn verifies the signature and flags sign-counter regressions; a
// regression is treated as evidence of credential cloning and rejected.
// Returns the owning user so the caller can establish a session for them.
func (m *Manager) FinishAuthentication(email string, response []byte) (*models.User, error) {
	user, err := m.findAccount(email)
	if err != nil {
		return nil, err
	}

	parsed, err := m.parser.ParseCredentialRequestResponseBody(bytes.NewReader(response))
	if err != nil {
		return nil, errors.Join(ErrInvalidResponse, err)
	}

	ch, err := m.consume(loginOwnerKey(email), parsed.Response.CollectedClientData.Challenge)
	if err != nil {
		return nil, err
	}
	if ch.Kind != models.ChallengeAuthentication {
		return nil, ErrWrongCeremonyType
	}
	if parsed.Response.CollectedClientData.Type != protocol.AssertCeremony {
		return nil, ErrWrongCeremonyType
	}

	var session webauthn.SessionData
	if err := json.Unmarshal(ch.SessionData, &session); err != nil {
		return nil, err
	}
	if session.Challenge != ch.Value {
		return nil, ErrChallengeMismatch
	}

	waUser, err := m.loadCeremonyUser(*user)
	if err != nil {
		return nil, err
	}

	owned := false
	for _, cred := range waUser.creds {
		if bytes.Equal(cred.ID, parsed.RawID) {
			owned = true
			break
		}
	}
	if !owned {
		return nil, ErrCredentialNotFound
	}

	validated, err := m.provider.ValidateLogin(waUser, session, parsed)
	if err != nil {
		return nil, errors.Join(ErrVerificationFailed, err)
	}
	if validated.Authenticator.CloneWarning {
		return nil, errors.Join(ErrVerificationFailed, errors.New("sign counter did not increase"))
	}

	now := time.Now().UTC()
	err = m.db.Model(&models.PasskeyCredential{}).
		Where("user_id = ? AND credential_id = ?", user.ID, validated.ID).
		Updates(map[string]interface{}{
			"sign_count":   validated.Authenticator.SignCount,
			"last_used_at": now,
		}).Error
	if err != nil {
		return nil, err
	}

	return user, nil
}

// List returns the public view of a user's credentials.
func (m *Manager) List(userID uuid.UUID) ([]CredentialView, error) {
	var rows []models.PasskeyCredential
	if err := m.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, err
	}

	views := make([]CredentialView, len(rows))
	for i, row := range rows {
		views[i] = CredentialView{
			ID:           row.ID,
			CredentialID: base64.RawURLEncoding.EncodeToString(row.CredentialID),
			Name:         row.Name,
			CreatedAt:    row.CreatedAt,
			LastUsedAt:   row.LastUsedAt,
		}
	}
	return views, nil
}

// Revoke deletes one of the caller's credentials. Lookup is scoped to the
// caller's identity, so revoking another user's credential is impossible by
// construction.
func (m *Manager) Revoke(userID uuid.UUID, credentialID string) error {
	rawID, err := base64.RawURLEncoding.DecodeString(credentialID)
	if err != nil {
		return ErrCredentialNotFound
	}

	unlock := m.locks.Lock(userID.String())
	defer unlock()

	result := m.db.Where("user_id = ? AND credential_id = ?", userID, rawID).
		Delete(&models.PasskeyCredential{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrCredentialNotFound
	}
	return nil
}

// Count reports how many credentials a user has registered.
func (m *Manager) Count(userID uuid.UUID) (int64, error) {
	var count int64
	err := m.db.Model(&models.PasskeyCredential{}).Where("user_id = ?", userID).Count(&count).Error
	return count, err
}

func (m *Manager) findAccount(email string) (*models.User, error) {
	var user models.User
	if err := m.db.First(&user, "email = ?", strings.ToLower(email)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (m *Manager) consume(ownerKey, presented string) (challenge.Challenge, error) {
	ch, err := m.challenges.Consume(ownerKey, presented)
	switch {
	case errors.Is(err, challenge.ErrNotFound), errors.Is(err, challenge.ErrExpired):
		return challenge.Challenge{}, ErrChallengeExpired
	case errors.Is(err, challenge.ErrMismatch):
		return challenge.Challenge{}, ErrChallengeMismatch
	case err != nil:
		return challenge.Challenge{}, err
	}
	return ch, nil
}

func loginOwnerKey(email string) string {
	return "login:" + strings.ToLower(email)
}
