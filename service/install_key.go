package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"

	"github.com/keyward/keyward/core"
)

// CreateInstallKey creates an unsigned device row for the account and
// returns a one-time bootstrap secret for it. Only the digest of the secret
// is persisted; losing the returned value means issuing a new key.
func (s *CeremonyService) CreateInstallKey(ctx context.Context, accountID, deviceID string, categories []string) (string, error) {
	if _, err := s.registry.GetAccount(ctx, accountID); err != nil {
		return "", fmt.Errorf("load account: %w", err)
	}

	now := s.now().UTC()
	device := core.Device{
		DeviceID:   deviceID,
		AccountID:  accountID,
		Categories: categories,
		CreatedAt:  now,
	}
	if err := s.registry.CreateDevice(ctx, device); err != nil {
		return "", fmt.Errorf("create device: %w", err)
	}

	secret, err := newInstallSecret()
	if err != nil {
		return "", err
	}

	key := core.InstallKey{
		ID:         uuid.New().String(),
		AccountID:  accountID,
		DeviceID:   deviceID,
		Digest:     digestInstallSecret(secret),
		Categories: categories,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.installKeyTTL),
	}
	if err := s.registry.CreateInstallKey(ctx, key); err != nil {
		return "", fmt.Errorf("store install key: %w", err)
	}

	s.log.Info("install key issued", "device_id", deviceID, "account_id", accountID)
	return secret, nil
}

// RedeemInstallKey exchanges a valid install key for registration of the
// device's public key. A key redeems at most once; expiry and reuse both
// present as the same invalid-key error.
func (s *CeremonyService) RedeemInstallKey(ctx context.Context, secret, publicKey string) (core.Device, error) {
	key, err := s.registry.GetInstallKeyByDigest(ctx, digestInstallSecret(secret))
	if err != nil {
		return core.Device{}, err
	}
	if key.UsedAt != nil || s.now().After(key.ExpiresAt) {
		return core.Device{}, core.ErrInstallKeyInvalid
	}

	// Marking used is conditional on the key still being unused, so of two
	// racing redemptions only one proceeds.
	if err := s.registry.MarkInstallKeyUsed(ctx, key.ID, s.now().UTC()); err != nil {
		return core.Device{}, err
	}
	if err := s.registry.SetDevicePublicKey(ctx, key.DeviceID, publicKey); err != nil {
		return core.Device{}, err
	}

	device, err := s.registry.GetDevice(ctx, key.DeviceID)
	if err != nil {
		return core.Device{}, err
	}

	s.log.Info("install key redeemed", "device_id", device.DeviceID, "account_id", device.AccountID)
	return device, nil
}

func newInstallSecret() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate install secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func digestInstallSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
