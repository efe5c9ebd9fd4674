// Package metadata stores device-local settings of the key store in the
// client database's metadata table.
package metadata

import (
	"context"
)

// Unlock holds what is needed to check a key store passphrase: the argon2id
// salt and a verifier derived from the resulting wrapping key.
type Unlock struct {
	Salt     []byte
	Verifier []byte
}

type Repository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error

	// LoadUnlock returns common.ErrorNotFound on a fresh database.
	LoadUnlock(ctx context.Context) (*Unlock, error)
	// InitUnlock writes both values at once and fails if either is
	// already present.
	InitUnlock(ctx context.Context, u Unlock) error
}
