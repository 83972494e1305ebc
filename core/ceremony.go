package core

import (
	"encoding/json"
	"time"
)

// CeremonyKind discriminates the three challenge-response flows.
type CeremonyKind string

const (
	CeremonyRegistration   CeremonyKind = "registration"
	CeremonyAuthentication CeremonyKind = "authentication"
	CeremonyDeviceSign     CeremonyKind = "device_sign"
)

// PendingCeremony correlates a ceremony's start and finish calls. At most one
// exists per session id, and the id is consumed the instant a finish call is
// accepted for processing, whether or not verification later succeeds.
//
// VerifierState is the serialized challenge state owned by the verifier; the
// challenge bytes live inside it and the core never parses it. JSON tags keep
// the record portable through the Redis-backed store.
type PendingCeremony struct {
	SessionID     string       `json:"session_id"`
	Kind          CeremonyKind `json:"kind"`
	AccountID     string       `json:"account_id,omitempty"`
	DeviceID      string       `json:"device_id,omitempty"`
	VerifierState []byte       `json:"verifier_state"`
	CreatedAt     time.Time    `json:"created_at"`
	ExpiresAt     time.Time    `json:"expires_at"`
}

// Expired reports whether the ceremony is past its deadline at the given time.
func (p PendingCeremony) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// StartResult is returned by every ceremony start call. Challenge carries the
// JSON options payload the browser feeds to its local WebAuthn ceremony; its
// exact shape belongs to the verification library, not to this core.
type StartResult struct {
	SessionID string          `json:"session_id"`
	Challenge json.RawMessage `json:"challenge"`
}

// DeviceSignStart extends StartResult with the device summary shown to the
// operator before they approve the signature.
type DeviceSignStart struct {
	StartResult
	Device Device `json:"-"`
}

// AssertionResult is what the verifier reports about a cryptographically
// valid assertion. Proof is an opaque evidence blob retained in signature
// records.
type AssertionResult struct {
	CredentialID string
	SignCount    uint32
	Proof        []byte
}

// Session is a stateless bearer credential for an authenticated account.
// Its only persistent footprint is the server's signing key.
type Session struct {
	AccountID string
	Token     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}
