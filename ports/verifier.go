package ports

import (
	"encoding/json"

	"github.com/keyward/keyward/core"
)

// Verifier is the cryptographic capability the orchestrator consumes but does
// not own. Challenge builders return the JSON options payload for the client
// plus an opaque state blob the orchestrator stores inside the pending
// ceremony and hands back at finish time.
type Verifier interface {
	// BuildRegistrationChallenge prepares a credential-creation challenge for
	// the account. Existing credentials are excluded so an authenticator does
	// not register twice.
	BuildRegistrationChallenge(account core.Account, exclude []core.Credential) (json.RawMessage, []byte, error)

	// BuildAssertionChallenge prepares an authentication challenge. A nil
	// account requests the discoverable (usernameless) flow with no
	// allow-list; otherwise the allow-list is restricted to the given
	// credentials.
	BuildAssertionChallenge(account *core.Account, allow []core.Credential) (json.RawMessage, []byte, error)

	// AssertedCredentialID extracts the credential id the client claims to
	// have used, before any verification. The orchestrator resolves the
	// stored credential by this id rather than trusting the start subject.
	AssertedCredentialID(response []byte) (string, error)

	// VerifyRegistrationResponse checks the creation response against the
	// stored state and returns the new credential on success.
	VerifyRegistrationResponse(state []byte, account core.Account, response []byte) (core.Credential, error)

	// VerifyAssertionResponse checks the assertion response against the
	// stored state and the owner's credentials, reporting the asserted
	// credential id and the authenticator's new sign count.
	VerifyAssertionResponse(state []byte, account core.Account, allow []core.Credential, response []byte) (core.AssertionResult, error)
}
