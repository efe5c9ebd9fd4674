// Package common defines shared constants and sentinel errors used across
// client and server layers of clinicvault. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrorForbidden    = errors.New("forbidden")
	ErrorValidation   = errors.New("validation error")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	// Pairing errors.
	ErrScanFailed        = errors.New("could not read pairing code")
	ErrMalformedPayload  = errors.New("malformed pairing payload")
	ErrOwnershipMismatch = errors.New("pairing code was issued for a different clinician")
	ErrDuplicatePairing  = errors.New("an active pairing already exists for this doctor and patient")
	ErrPinRejected       = errors.New("pairing PIN rejected")
	ErrPairingExpired    = errors.New("pairing expired")

	// Key errors.
	ErrKeyAbsent          = errors.New("no session key on this device")
	ErrSessionKeyRequired = errors.New("session key required: rescan the pairing code")
	ErrKeyRevoked         = errors.New("key revoked")
	ErrKeyExhausted       = errors.New("key usage limit reached, rotate the key")

	// ErrDecryptionFailed is security relevant: the ciphertext, tag or key
	// did not authenticate. It must never be retried with the same key.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrNetwork marks recoverable transport failures.
	ErrNetwork = errors.New("network error")

	// Upload errors.
	ErrAlreadyConfirmed = errors.New("file already confirmed")
)

// Kind returns the stable taxonomy name for err, used on the wire and in logs.
// Unknown errors map to "Internal".
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMalformedPayload):
		return "MalformedPayload"
	case errors.Is(err, ErrOwnershipMismatch):
		return "OwnershipMismatch"
	case errors.Is(err, ErrDuplicatePairing):
		return "DuplicatePairing"
	case errors.Is(err, ErrorNotFound):
		return "NotFound"
	case errors.Is(err, ErrDecryptionFailed):
		return "DecryptionFailed"
	case errors.Is(err, ErrNetwork):
		return "NetworkError"
	case errors.Is(err, ErrKeyAbsent):
		return "KeyAbsent"
	case errors.Is(err, ErrSessionKeyRequired):
		return "SessionKeyRequired"
	case errors.Is(err, ErrPinRejected):
		return "PinRejected"
	case errors.Is(err, ErrPairingExpired):
		return "PairingExpired"
	case errors.Is(err, ErrKeyRevoked):
		return "KeyRevoked"
	case errors.Is(err, ErrKeyExhausted):
		return "KeyExhausted"
	case errors.Is(err, ErrAlreadyConfirmed):
		return "AlreadyConfirmed"
	case errors.Is(err, ErrorUnauthorized), errors.Is(err, ErrInvalidToken), errors.Is(err, ErrTokenExpired):
		return "Unauthorized"
	case errors.Is(err, ErrorForbidden):
		return "Forbidden"
	case errors.Is(err, ErrorValidation):
		return "Validation"
	default:
		return "Internal"
	}
}

var kinds = map[string]error{
	"MalformedPayload":   ErrMalformedPayload,
	"OwnershipMismatch":  ErrOwnershipMismatch,
	"DuplicatePairing":   ErrDuplicatePairing,
	"NotFound":           ErrorNotFound,
	"DecryptionFailed":   ErrDecryptionFailed,
	"NetworkError":       ErrNetwork,
	"KeyAbsent":          ErrKeyAbsent,
	"SessionKeyRequired": ErrSessionKeyRequired,
	"PinRejected":        ErrPinRejected,
	"PairingExpired":     ErrPairingExpired,
	"KeyRevoked":         ErrKeyRevoked,
	"KeyExhausted":       ErrKeyExhausted,
	"AlreadyConfirmed":   ErrAlreadyConfirmed,
	"Unauthorized":       ErrorUnauthorized,
	"Forbidden":          ErrorForbidden,
	"Validation":         ErrorValidation,
}

// FromKind is the inverse of Kind. It returns ErrorInternal for unknown names.
func FromKind(kind string) error {
	if err, ok := kinds[kind]; ok {
		return err
	}
	return ErrorInternal
}
