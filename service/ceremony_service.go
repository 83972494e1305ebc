package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/keyward/keyward/core"
	"github.com/keyward/keyward/ports"
)

// CeremonyService orchestrates the passkey challenge-response protocol. It
// issues challenges, correlates finish calls back to their pending ceremony,
// and converts verified ceremonies into sessions or device signatures.
//
// The service holds no per-request state; any number of instances can run
// behind a shared ChallengeStore. The store's atomic take is the only
// mutual-exclusion mechanism: a session id is consumed the moment a finish
// call is accepted, so retries and replays observe "unknown session".
type CeremonyService struct {
	store     ports.ChallengeStore
	registry  ports.Registry
	verifier  ports.Verifier
	tokenizer ports.SessionTokenizer
	events    ports.EventPublisher
	log       *slog.Logger

	ceremonyTTL   time.Duration
	installKeyTTL time.Duration
	now           func() time.Time
}

const (
	defaultCeremonyTTL   = 5 * time.Minute
	defaultInstallKeyTTL = 15 * time.Minute
)

// NewCeremonyService creates a new ceremony orchestrator with default TTLs.
func NewCeremonyService(
	store ports.ChallengeStore,
	registry ports.Registry,
	verifier ports.Verifier,
	tokenizer ports.SessionTokenizer,
	events ports.EventPublisher,
	log *slog.Logger,
) *CeremonyService {
	if log == nil {
		log = slog.Default()
	}
	return &CeremonyService{
		store:         store,
		registry:      registry,
		verifier:      verifier,
		tokenizer:     tokenizer,
		events:        events,
		log:           log,
		ceremonyTTL:   defaultCeremonyTTL,
		installKeyTTL: defaultInstallKeyTTL,
		now:           time.Now,
	}
}

// StartRegistration creates the account and returns a credential-creation
// challenge for it. The account is not considered registered until the
// finish call verifies a credential against this challenge.
func (s *CeremonyService) StartRegistration(ctx context.Context, username, displayName string) (core.StartResult, error) {
	account := core.Account{
		ID:          uuid.New().String(),
		Username:    username,
		DisplayName: displayName,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.registry.CreateAccount(ctx, account); err != nil {
		return core.StartResult{}, fmt.Errorf("create account: %w", err)
	}

	challenge, state, err := s.verifier.BuildRegistrationChallenge(account, nil)
	if err != nil {
		return core.StartResult{}, fmt.Errorf("build registration challenge: %w", err)
	}

	sessionID, err := s.putPending(ctx, core.PendingCeremony{
		Kind:          core.CeremonyRegistration,
		AccountID:     account.ID,
		VerifierState: state,
	})
	if err != nil {
		return core.StartResult{}, err
	}

	s.log.Info("registration ceremony started", "account_id", account.ID)
	return core.StartResult{SessionID: sessionID, Challenge: challenge}, nil
}

// FinishRegistration consumes the pending ceremony, verifies the creation
// response, persists the new credential, and issues a session. On
// verification failure the account row remains usable for a later attempt.
func (s *CeremonyService) FinishRegistration(ctx context.Context, sessionID string, response []byte) (core.Session, error) {
	pending, err := s.takePending(ctx, sessionID, core.CeremonyRegistration)
	if err != nil {
		return core.Session{}, err
	}

	account, err := s.registry.GetAccount(ctx, pending.AccountID)
	if err != nil {
		return core.Session{}, fmt.Errorf("load account: %w", err)
	}

	credential, err := s.verifier.VerifyRegistrationResponse(pending.VerifierState, account, response)
	if err != nil {
		s.log.Warn("registration verification failed", "account_id", account.ID, "err", err)
		return core.Session{}, core.ErrCredentialVerificationFailed
	}
	credential.CreatedAt = s.now().UTC()

	if err := s.registry.SaveCredential(ctx, credential); err != nil {
		return core.Session{}, fmt.Errorf("save credential: %w", err)
	}

	session, err := s.tokenizer.IssueSession(account.ID)
	if err != nil {
		return core.Session{}, fmt.Errorf("issue session: %w", err)
	}

	s.publish(func() error { return s.events.PublishRegistered(ctx, account.ID, credential.ID) })
	s.log.Info("registration ceremony finished", "account_id", account.ID, "credential_id", credential.ID)
	return session, nil
}

// StartAuthentication returns an assertion challenge. With an account hint
// the allow-list is restricted to that account's credentials; without one
// the discoverable (usernameless) flow is used.
func (s *CeremonyService) StartAuthentication(ctx context.Context, accountHint string) (core.StartResult, error) {
	var (
		account *core.Account
		allow   []core.Credential
	)
	if accountHint != "" {
		hinted, err := s.registry.GetAccount(ctx, accountHint)
		if err != nil {
			return core.StartResult{}, fmt.Errorf("load account: %w", err)
		}
		creds, err := s.registry.GetCredentialsByAccount(ctx, hinted.ID)
		if err != nil {
			return core.StartResult{}, fmt.Errorf("load credentials: %w", err)
		}
		account, allow = &hinted, creds
	}

	challenge, state, err := s.verifier.BuildAssertionChallenge(account, allow)
	if err != nil {
		return core.StartResult{}, fmt.Errorf("build assertion challenge: %w", err)
	}

	sessionID, err := s.putPending(ctx, core.PendingCeremony{
		Kind:          core.CeremonyAuthentication,
		AccountID:     accountHint,
		VerifierState: state,
	})
	if err != nil {
		return core.StartResult{}, err
	}

	return core.StartResult{SessionID: sessionID, Challenge: challenge}, nil
}

// FinishAuthentication consumes the pending ceremony, resolves the credential
// the client asserted with, verifies the assertion, and issues a session for
// the credential's owner.
//
// The credential is looked up by the id embedded in the response, never by
// the start subject, so discoverable credentials work without a hint.
func (s *CeremonyService) FinishAuthentication(ctx context.Context, sessionID string, response []byte) (core.Session, error) {
	pending, err := s.takePending(ctx, sessionID, core.CeremonyAuthentication)
	if err != nil {
		return core.Session{}, err
	}

	credential, account, _, err := s.verifyAssertion(ctx, pending, response)
	if err != nil {
		return core.Session{}, err
	}

	session, err := s.tokenizer.IssueSession(account.ID)
	if err != nil {
		return core.Session{}, fmt.Errorf("issue session: %w", err)
	}

	s.publish(func() error { return s.events.PublishLogin(ctx, account.ID, credential.ID) })
	s.log.Info("authentication ceremony finished", "account_id", account.ID, "credential_id", credential.ID)
	return session, nil
}

// verifyAssertion runs the shared finish-side assertion checks: credential
// resolution, cryptographic verification, and the sign-count monotonicity
// rule. The new sign count is persisted before returning.
func (s *CeremonyService) verifyAssertion(ctx context.Context, pending core.PendingCeremony, response []byte) (core.Credential, core.Account, core.AssertionResult, error) {
	var none core.AssertionResult

	credentialID, err := s.verifier.AssertedCredentialID(response)
	if err != nil {
		s.log.Warn("unparseable assertion response", "kind", pending.Kind, "err", err)
		return core.Credential{}, core.Account{}, none, core.ErrCredentialVerificationFailed
	}

	credential, err := s.registry.GetCredentialByID(ctx, credentialID)
	if err != nil {
		if errors.Is(err, core.ErrUnknownCredential) {
			s.log.Info("assertion with unknown credential", "kind", pending.Kind)
			return core.Credential{}, core.Account{}, none, core.ErrUnknownCredential
		}
		return core.Credential{}, core.Account{}, none, fmt.Errorf("load credential: %w", err)
	}

	if pending.Kind == core.CeremonyDeviceSign && credential.AccountID != pending.AccountID {
		s.log.Warn("device sign attempted with foreign credential",
			"device_id", pending.DeviceID, "credential_id", credential.ID)
		return core.Credential{}, core.Account{}, none, core.ErrCredentialAccountMismatch
	}

	account, err := s.registry.GetAccount(ctx, credential.AccountID)
	if err != nil {
		return core.Credential{}, core.Account{}, none, fmt.Errorf("load account: %w", err)
	}
	allow, err := s.registry.GetCredentialsByAccount(ctx, account.ID)
	if err != nil {
		return core.Credential{}, core.Account{}, none, fmt.Errorf("load credentials: %w", err)
	}

	result, err := s.verifier.VerifyAssertionResponse(pending.VerifierState, account, allow, response)
	if err != nil {
		s.log.Warn("assertion verification failed", "kind", pending.Kind,
			"credential_id", credential.ID, "err", err)
		return core.Credential{}, core.Account{}, none, core.ErrCredentialVerificationFailed
	}

	// A counter that does not advance means a second authenticator holds the
	// same key material. Reject without touching stored state.
	if result.SignCount <= credential.SignCount {
		s.log.Warn("sign count regression", "credential_id", credential.ID,
			"stored", credential.SignCount, "asserted", result.SignCount)
		return core.Credential{}, core.Account{}, none, core.ErrPossibleCredentialCloning
	}

	if err := s.registry.UpdateCredentialSignCount(ctx, credential.ID, result.SignCount, s.now().UTC()); err != nil {
		return core.Credential{}, core.Account{}, none, fmt.Errorf("update sign count: %w", err)
	}
	credential.SignCount = result.SignCount

	return credential, account, result, nil
}

// ValidateSession checks a bearer token and returns the session it carries.
func (s *CeremonyService) ValidateSession(token string) (core.Session, error) {
	return s.tokenizer.ValidateSession(token)
}

// putPending assigns a fresh session id and stores the pending ceremony.
func (s *CeremonyService) putPending(ctx context.Context, pending core.PendingCeremony) (string, error) {
	now := s.now().UTC()
	pending.SessionID = uuid.New().String()
	pending.CreatedAt = now
	pending.ExpiresAt = now.Add(s.ceremonyTTL)

	if err := s.store.Put(ctx, pending.SessionID, pending, s.ceremonyTTL); err != nil {
		return "", fmt.Errorf("store pending ceremony: %w", err)
	}
	return pending.SessionID, nil
}

// takePending consumes the pending ceremony for a finish call. A miss, an
// expired entry, or a kind mismatch all present as the same unknown-session
// error; the entry is gone either way, so a retry needs a fresh start.
func (s *CeremonyService) takePending(ctx context.Context, sessionID string, kind core.CeremonyKind) (core.PendingCeremony, error) {
	pending, found, err := s.store.TakeIfValid(ctx, sessionID)
	if err != nil {
		return core.PendingCeremony{}, fmt.Errorf("take pending ceremony: %w", err)
	}
	if !found {
		return core.PendingCeremony{}, core.ErrExpiredOrUnknownSession
	}
	if pending.Kind != kind {
		s.log.Warn("ceremony kind mismatch", "session_id", sessionID,
			"expected", kind, "got", pending.Kind)
		return core.PendingCeremony{}, core.ErrExpiredOrUnknownSession
	}
	if pending.Expired(s.now()) {
		return core.PendingCeremony{}, core.ErrExpiredOrUnknownSession
	}
	return pending, nil
}

// publish delivers a ceremony event, logging instead of failing the request:
// the durable state change has already happened.
func (s *CeremonyService) publish(fn func() error) {
	if s.events == nil {
		return
	}
	if err := fn(); err != nil {
		s.log.Warn("publish ceremony event", "err", err)
	}
}
