package core

import "errors"

var (
	// ErrExpiredOrUnknownSession is returned when a finish call carries a
	// session id with no matching pending ceremony. Safe to surface verbatim.
	ErrExpiredOrUnknownSession = errors.New("ceremony session is unknown or expired")

	// ErrCredentialVerificationFailed is returned when the verifier rejects
	// a ceremony response.
	ErrCredentialVerificationFailed = errors.New("credential verification failed")

	// ErrUnknownCredential is returned when an assertion references a
	// credential the registry does not hold.
	ErrUnknownCredential = errors.New("unknown credential")

	// ErrPossibleCredentialCloning is returned when an assertion's sign count
	// does not exceed the stored value.
	ErrPossibleCredentialCloning = errors.New("sign count regression, possible credential cloning")

	// ErrCredentialAccountMismatch is returned when a device-sign assertion
	// is made with a credential owned by a different account than the device.
	ErrCredentialAccountMismatch = errors.New("credential does not belong to the device owner")

	// ErrAccountNotFound is returned when an account lookup misses.
	ErrAccountNotFound = errors.New("account not found")

	// ErrDeviceNotFound is returned when a device lookup misses.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrDeviceKeyMissing is returned when a device-sign ceremony is started
	// for a device that has not registered its public key yet.
	ErrDeviceKeyMissing = errors.New("device has no public key")

	// ErrDeviceAlreadySigned is returned when a device-sign ceremony targets
	// a device that already carries a signature.
	ErrDeviceAlreadySigned = errors.New("device is already signed")

	// ErrInstallKeyInvalid is returned for unknown, used, or expired install
	// keys.
	ErrInstallKeyInvalid = errors.New("install key is invalid or expired")

	// ErrSessionExpired is returned when a bearer token is past its expiry.
	ErrSessionExpired = errors.New("session has expired")

	// ErrSessionInvalid is returned when a bearer token fails validation.
	ErrSessionInvalid = errors.New("session is invalid")
)
