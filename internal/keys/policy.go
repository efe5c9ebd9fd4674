// Package keys holds the relationship key lifecycle policy shared by the
// server and the client: stored statuses, the derived expiry view and the
// encrypt/decrypt eligibility rules. Everything here is pure; nothing
// mutates stored state.
package keys

import "time"

// Status is the stored lifecycle status of a relationship key.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusRevoked  Status = "revoked"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusRevoked:
		return true
	}
	return false
}

// ExpiryStatus is the derived, display-only view of a key's lifetime.
type ExpiryStatus string

const (
	ExpiryActive       ExpiryStatus = "active"
	ExpiryExpiringSoon ExpiryStatus = "expiring_soon"
	ExpiryExpired      ExpiryStatus = "expired"
)

// ExpiringSoonWindow is how far ahead of ExpiresAt a key is flagged.
const ExpiringSoonWindow = 7 * 24 * time.Hour

// ComputeExpiryStatus derives the expiry view at now. A nil expiresAt never
// expires. Only Active keys can be Active or ExpiringSoon; inactive and
// revoked keys always read as Expired.
func ComputeExpiryStatus(status Status, expiresAt *time.Time, now time.Time) ExpiryStatus {
	if status != StatusActive {
		return ExpiryExpired
	}
	if expiresAt == nil {
		return ExpiryActive
	}
	if !now.Before(*expiresAt) {
		return ExpiryExpired
	}
	if expiresAt.Sub(now) < ExpiringSoonWindow {
		return ExpiryExpiringSoon
	}
	return ExpiryActive
}

// CanEncrypt reports whether new files may be sealed under a key.
// New encryptions go to the Active key only.
func CanEncrypt(status Status, expiresAt *time.Time, now time.Time) bool {
	return ComputeExpiryStatus(status, expiresAt, now) != ExpiryExpired
}

// IsDecryptable reports whether existing files under a key may still be
// opened: Active keys always, Inactive keys until the rotation grace window
// closes, Revoked keys never.
func IsDecryptable(status Status, graceUntil *time.Time, now time.Time) bool {
	switch status {
	case StatusActive:
		return true
	case StatusInactive:
		return graceUntil == nil || now.Before(*graceUntil)
	default:
		return false
	}
}
