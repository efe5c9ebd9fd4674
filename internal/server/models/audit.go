package models

import "time"

// Audit actions.
const (
	ActionPairingCreate    = "PAIRING_CREATE"
	ActionPairingScan      = "PAIRING_SCAN"
	ActionPairingVerifyPin = "PAIRING_VERIFY_PIN"
	ActionPairingExpire    = "PAIRING_EXPIRE"
	ActionKeyGenerate      = "KEY_GENERATE"
	ActionKeyRevoke        = "KEY_REVOKE"
	ActionKeyRotate        = "KEY_ROTATE"
	ActionKeyDelete        = "KEY_DELETE"
	ActionFileUpload       = "FILE_UPLOAD"
	ActionFileDelete       = "FILE_DELETE"
)

// Audit results.
const (
	ResultOK     = "OK"
	ResultFailed = "FAILED"
)

type AuditEvent struct {
	ID        string
	Action    string
	Actor     string
	Target    string
	Result    string
	Detail    string
	Timestamp time.Time
}
