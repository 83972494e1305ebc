package verifier

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/keyward/keyward/core"
	"github.com/keyward/keyward/ports"
)

// Config holds the relying-party identity presented to authenticators.
type Config struct {
	RPDisplayName string
	RPID          string
	RPOrigins     []string
}

// WebAuthn implements the Verifier interface on top of go-webauthn. The
// opaque state blob handed to the orchestrator is the serialized
// webauthn.SessionData for the ceremony.
type WebAuthn struct {
	wa *webauthn.WebAuthn
}

// New builds a WebAuthn verifier for the given relying party.
func New(cfg Config) (*WebAuthn, error) {
	wa, err := webauthn.New(&webauthn.Config{
		RPDisplayName: cfg.RPDisplayName,
		RPID:          cfg.RPID,
		RPOrigins:     cfg.RPOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("configure webauthn: %w", err)
	}
	return &WebAuthn{wa: wa}, nil
}

var _ ports.Verifier = (*WebAuthn)(nil)

// BuildRegistrationChallenge prepares credential-creation options for the
// account. Resident keys are required so later logins can be usernameless.
func (v *WebAuthn) BuildRegistrationChallenge(account core.Account, exclude []core.Credential) (json.RawMessage, []byte, error) {
	user := newCeremonyUser(account, exclude)

	opts := []webauthn.RegistrationOption{
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementRequired),
	}
	if len(user.credentials) > 0 {
		opts = append(opts, webauthn.WithExclusions(webauthn.Credentials(user.credentials).CredentialDescriptors()))
	}

	creation, session, err := v.wa.BeginRegistration(user, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("begin registration: %w", err)
	}
	return encodeChallenge(creation, session)
}

// BuildAssertionChallenge prepares authentication options. A nil account
// selects the discoverable flow with an empty allow-list.
func (v *WebAuthn) BuildAssertionChallenge(account *core.Account, allow []core.Credential) (json.RawMessage, []byte, error) {
	var (
		assertion *protocol.CredentialAssertion
		session   *webauthn.SessionData
		err       error
	)
	if account == nil {
		assertion, session, err = v.wa.BeginDiscoverableLogin()
	} else {
		assertion, session, err = v.wa.BeginLogin(newCeremonyUser(*account, allow))
	}
	if err != nil {
		return nil, nil, fmt.Errorf("begin login: %w", err)
	}
	return encodeChallenge(assertion, session)
}

// AssertedCredentialID parses the assertion response far enough to report
// which credential the client claims to have used.
func (v *WebAuthn) AssertedCredentialID(response []byte) (string, error) {
	parsed, err := protocol.ParseCredentialRequestResponseBytes(response)
	if err != nil {
		return "", fmt.Errorf("parse assertion response: %w", err)
	}
	return encodeCredentialID(parsed.RawID), nil
}

// VerifyRegistrationResponse validates the creation response and returns the
// freshly minted credential.
func (v *WebAuthn) VerifyRegistrationResponse(state []byte, account core.Account, response []byte) (core.Credential, error) {
	session, err := decodeSession(state)
	if err != nil {
		return core.Credential{}, err
	}
	parsed, err := protocol.ParseCredentialCreationResponseBytes(response)
	if err != nil {
		return core.Credential{}, fmt.Errorf("parse creation response: %w", err)
	}

	credential, err := v.wa.CreateCredential(newCeremonyUser(account, nil), session, parsed)
	if err != nil {
		return core.Credential{}, fmt.Errorf("validate creation response: %w", err)
	}

	return core.Credential{
		ID:        encodeCredentialID(credential.ID),
		AccountID: account.ID,
		PublicKey: credential.PublicKey,
		SignCount: credential.Authenticator.SignCount,
	}, nil
}

// VerifyAssertionResponse validates the assertion response. Discoverable
// ceremonies (no user bound at start) resolve the user through the handler;
// allow-list ceremonies validate directly against the bound user.
func (v *WebAuthn) VerifyAssertionResponse(state []byte, account core.Account, allow []core.Credential, response []byte) (core.AssertionResult, error) {
	session, err := decodeSession(state)
	if err != nil {
		return core.AssertionResult{}, err
	}
	parsed, err := protocol.ParseCredentialRequestResponseBytes(response)
	if err != nil {
		return core.AssertionResult{}, fmt.Errorf("parse assertion response: %w", err)
	}

	user := newCeremonyUser(account, allow)

	var credential *webauthn.Credential
	if len(session.UserID) == 0 {
		handler := func(_, _ []byte) (webauthn.User, error) { return user, nil }
		_, credential, err = v.wa.ValidatePasskeyLogin(handler, session, parsed)
	} else {
		credential, err = v.wa.ValidateLogin(user, session, parsed)
	}
	if err != nil {
		return core.AssertionResult{}, fmt.Errorf("validate assertion response: %w", err)
	}

	return core.AssertionResult{
		CredentialID: encodeCredentialID(credential.ID),
		SignCount:    credential.Authenticator.SignCount,
		Proof:        parsed.Response.Signature,
	}, nil
}

func encodeChallenge(options any, session *webauthn.SessionData) (json.RawMessage, []byte, error) {
	optionsJSON, err := json.Marshal(options)
	if err != nil {
		return nil, nil, fmt.Errorf("encode challenge options: %w", err)
	}
	state, err := json.Marshal(session)
	if err != nil {
		return nil, nil, fmt.Errorf("encode session state: %w", err)
	}
	return optionsJSON, state, nil
}

func decodeSession(state []byte) (webauthn.SessionData, error) {
	var session webauthn.SessionData
	if err := json.Unmarshal(state, &session); err != nil {
		return webauthn.SessionData{}, fmt.Errorf("decode session state: %w", err)
	}
	return session, nil
}

func encodeCredentialID(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeCredentialID(id string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(id)
}

// ceremonyUser adapts an account and its credentials to the webauthn.User
// interface for the duration of one ceremony.
type ceremonyUser struct {
	account     core.Account
	credentials []webauthn.Credential
}

func newCeremonyUser(account core.Account, credentials []core.Credential) *ceremonyUser {
	parsed := make([]webauthn.Credential, 0, len(credentials))
	for _, c := range credentials {
		id, err := decodeCredentialID(c.ID)
		if err != nil {
			continue
		}
		parsed = append(parsed, webauthn.Credential{
			ID:        id,
			PublicKey: c.PublicKey,
			Authenticator: webauthn.Authenticator{
				SignCount: c.SignCount,
			},
		})
	}
	return &ceremonyUser{account: account, credentials: parsed}
}

func (u *ceremonyUser) WebAuthnID() []byte {
	return []byte(u.account.ID)
}

func (u *ceremonyUser) WebAuthnName() string {
	return u.account.Username
}

func (u *ceremonyUser) WebAuthnDisplayName() string {
	return u.account.DisplayName
}

func (u *ceremonyUser) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}
