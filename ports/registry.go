package ports

import (
	"context"
	"time"

	"github.com/keyward/keyward/core"
)

// Registry is the durable account/credential/device store the ceremony
// orchestrator reads and writes through. Implementations return the typed
// core errors (core.ErrAccountNotFound and friends) on misses.
type Registry interface {
	CreateAccount(ctx context.Context, account core.Account) error
	GetAccount(ctx context.Context, accountID string) (core.Account, error)

	GetCredentialsByAccount(ctx context.Context, accountID string) ([]core.Credential, error)
	GetCredentialByID(ctx context.Context, credentialID string) (core.Credential, error)
	SaveCredential(ctx context.Context, credential core.Credential) error
	UpdateCredentialSignCount(ctx context.Context, credentialID string, signCount uint32, usedAt time.Time) error

	CreateDevice(ctx context.Context, device core.Device) error
	GetDevice(ctx context.Context, deviceID string) (core.Device, error)
	SetDevicePublicKey(ctx context.Context, deviceID, publicKey string) error
	SaveDeviceSignature(ctx context.Context, record core.SignatureRecord) error

	CreateInstallKey(ctx context.Context, key core.InstallKey) error
	GetInstallKeyByDigest(ctx context.Context, digest string) (core.InstallKey, error)
	MarkInstallKeyUsed(ctx context.Context, keyID string, usedAt time.Time) error
}
