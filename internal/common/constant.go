// Package common contains shared constants and sentinel errors used across
// clinicvault components.
package common

// AuthorizationHeaderName carries the Bearer access token on REST requests.
const AuthorizationHeaderName = "Authorization"

// Algorithm is the only file cipher suite the system produces or accepts.
const Algorithm = "AES-256-GCM"

// File cipher metadata travels in these headers next to the ciphertext body.
const (
	HeaderIV          = "X-Cipher-IV"
	HeaderAuthTag     = "X-Cipher-Tag"
	HeaderAlgorithm   = "X-Cipher-Algorithm"
	HeaderKeyID       = "X-Key-ID"
	HeaderRecipientID = "X-Recipient-ID"
	HeaderFileName    = "X-File-Name"
)
