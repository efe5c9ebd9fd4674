// Package keystore caches relationship keys on the client, scoped per user.
//
// Two implementations share the KeyStore interface: MemoryStore lives for
// one session, SQLiteStore persists across sessions on this device with key
// bytes sealed under a wrapping key derived from a local passphrase. Stores
// are injected where needed; there is no package level instance.
package keystore

import (
	"context"
	"strings"

	"github.com/dmitrijs2005/clinicvault/internal/cryptox"
)

// KeyHandle is a cached relationship key together with the pair it serves.
type KeyHandle struct {
	KeyID     string
	DoctorID  string
	PatientID string
	Key       *cryptox.Key
}

// KeyStore is a per-user cache of relationship keys. A clinician holds one
// handle per patient, so every lookup is keyed by both user and key id.
//
// Get and Lookup return common.ErrKeyAbsent when nothing matches.
// Remove and Clear are idempotent.
type KeyStore interface {
	Store(ctx context.Context, userID string, h *KeyHandle) error
	Has(ctx context.Context, userID string) bool
	Get(ctx context.Context, userID string) ([]*KeyHandle, error)
	Lookup(ctx context.Context, userID, keyID string) (*KeyHandle, error)
	Remove(ctx context.Context, userID, keyID string) error
	Clear(ctx context.Context, userID string) error
}

// normalizeUser folds identities the same way the pairing ownership check
// compares them, so "D2" and " d2" share a cache slot.
func normalizeUser(userID string) string {
	return strings.ToLower(strings.TrimSpace(userID))
}
