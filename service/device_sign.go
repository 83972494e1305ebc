package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/keyward/keyward/core"
)

// StartDeviceSign begins the device authorization ceremony. The allow-list
// is restricted to the device owner's credentials, so no other account's
// passkey can even be offered by the browser.
func (s *CeremonyService) StartDeviceSign(ctx context.Context, deviceID string) (core.DeviceSignStart, error) {
	device, err := s.registry.GetDevice(ctx, deviceID)
	if err != nil {
		return core.DeviceSignStart{}, err
	}
	if device.PublicKey == "" {
		return core.DeviceSignStart{}, core.ErrDeviceKeyMissing
	}
	if device.Signed() {
		return core.DeviceSignStart{}, core.ErrDeviceAlreadySigned
	}

	owner, err := s.registry.GetAccount(ctx, device.AccountID)
	if err != nil {
		return core.DeviceSignStart{}, fmt.Errorf("load device owner: %w", err)
	}
	allow, err := s.registry.GetCredentialsByAccount(ctx, owner.ID)
	if err != nil {
		return core.DeviceSignStart{}, fmt.Errorf("load credentials: %w", err)
	}

	challenge, state, err := s.verifier.BuildAssertionChallenge(&owner, allow)
	if err != nil {
		return core.DeviceSignStart{}, fmt.Errorf("build assertion challenge: %w", err)
	}

	sessionID, err := s.putPending(ctx, core.PendingCeremony{
		Kind:          core.CeremonyDeviceSign,
		AccountID:     owner.ID,
		DeviceID:      device.DeviceID,
		VerifierState: state,
	})
	if err != nil {
		return core.DeviceSignStart{}, err
	}

	s.log.Info("device sign ceremony started", "device_id", device.DeviceID, "account_id", owner.ID)
	return core.DeviceSignStart{
		StartResult: core.StartResult{SessionID: sessionID, Challenge: challenge},
		Device:      device,
	}, nil
}

// signaturePayload is the durable evidence stored on the device row: what was
// approved, by which credential, and the verifier's proof of the assertion.
type signaturePayload struct {
	DeviceID        string `json:"device_id"`
	DevicePublicKey string `json:"device_public_key"`
	CredentialID    string `json:"credential_id"`
	Proof           string `json:"proof"`
	SignedAt        int64  `json:"signed_at"`
}

// FinishDeviceSign consumes the pending ceremony and, when the assertion is
// valid and made by the device owner's own passkey, writes the signature
// onto the device exactly once. A device that is already signed is never
// overwritten.
func (s *CeremonyService) FinishDeviceSign(ctx context.Context, sessionID string, response []byte) (core.SignatureRecord, error) {
	pending, err := s.takePending(ctx, sessionID, core.CeremonyDeviceSign)
	if err != nil {
		return core.SignatureRecord{}, err
	}

	credential, account, result, err := s.verifyAssertion(ctx, pending, response)
	if err != nil {
		return core.SignatureRecord{}, err
	}

	device, err := s.registry.GetDevice(ctx, pending.DeviceID)
	if err != nil {
		return core.SignatureRecord{}, err
	}
	if device.Signed() {
		return core.SignatureRecord{}, core.ErrDeviceAlreadySigned
	}

	signedAt := s.now().UTC()
	payload, err := json.Marshal(signaturePayload{
		DeviceID:        device.DeviceID,
		DevicePublicKey: device.PublicKey,
		CredentialID:    credential.ID,
		Proof:           base64.StdEncoding.EncodeToString(result.Proof),
		SignedAt:        signedAt.Unix(),
	})
	if err != nil {
		return core.SignatureRecord{}, fmt.Errorf("encode signature payload: %w", err)
	}

	record := core.SignatureRecord{
		DeviceID:     device.DeviceID,
		AccountID:    account.ID,
		CredentialID: credential.ID,
		Payload:      string(payload),
		SignedAt:     signedAt,
	}
	if err := s.registry.SaveDeviceSignature(ctx, record); err != nil {
		return core.SignatureRecord{}, err
	}

	s.publish(func() error { return s.events.PublishDeviceSigned(ctx, account.ID, device.DeviceID, credential.ID) })
	s.log.Info("device signed", "device_id", device.DeviceID,
		"account_id", account.ID, "credential_id", credential.ID)
	return record, nil
}
