// Package models defines server-side data models persisted in the database.
package models

import (
	"strings"
	"time"

	"github.com/dmitrijs2005/clinicvault/internal/keys"
)

// RelationshipKey is the symmetric key shared by one doctor and one patient.
// The raw material is only ever stored sealed under the server KEK.
type RelationshipKey struct {
	ID         string
	DoctorID   string
	PatientID  string
	Status     keys.Status
	WrappedKey []byte
	CreatedAt  time.Time
	ExpiresAt  *time.Time
	GraceUntil *time.Time

	// Pairing confirmation state. VerifiedAt is set once the doctor's device
	// completed scan and PIN confirmation.
	PairingTokenHash []byte
	PinHash          []byte
	PinSalt          []byte
	PinAttempts      int
	VerifiedAt       *time.Time
}

// IsParty reports whether userID is the doctor or the patient of the pair.
// Ids compare case-insensitively, ignoring surrounding space.
func (k *RelationshipKey) IsParty(userID string) bool {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false
	}
	return strings.EqualFold(userID, k.DoctorID) || strings.EqualFold(userID, k.PatientID)
}
