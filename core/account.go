package core

import "time"

// Account is an operator identity. It owns credentials and devices and is
// created once during passkey registration.
type Account struct {
	ID          string
	Username    string
	DisplayName string
	CreatedAt   time.Time
}

// Credential is a passkey bound to an account. The ID is the authenticator's
// credential identifier, base64url-encoded without padding.
type Credential struct {
	ID         string
	AccountID  string
	PublicKey  []byte
	SignCount  uint32
	CreatedAt  time.Time
	LastUsedAt time.Time
}

// Device is an installed endpoint owned by an account. It starts unsigned
// when an install key is issued and becomes signed exactly once through the
// device authorization flow.
type Device struct {
	DeviceID           string
	AccountID          string
	PublicKey          string
	Categories         []string
	Signature          string
	SignedAt           *time.Time
	SignerCredentialID string
	CreatedAt          time.Time
}

// Signed reports whether the device already carries a passkey approval.
func (d Device) Signed() bool {
	return d.Signature != ""
}

// InstallKey is a one-time bootstrap secret for a not-yet-trusted device.
// Only the SHA-256 digest of the secret is ever persisted.
type InstallKey struct {
	ID         string
	AccountID  string
	DeviceID   string
	Digest     string
	Categories []string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	UsedAt     *time.Time
}

// SignatureRecord is the durable outcome of a finished device-sign ceremony.
type SignatureRecord struct {
	DeviceID     string    `json:"device_id"`
	AccountID    string    `json:"account_id"`
	CredentialID string    `json:"credential_id"`
	Payload      string    `json:"payload"`
	SignedAt     time.Time `json:"signed_at"`
}
