// Package files persists encrypted file metadata. Ciphertext bodies live in
// object storage.
package files

import (
	"context"
	"time"

	"github.com/dmitrijs2005/clinicvault/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, f *models.EncryptedFile) error
	GetByID(ctx context.Context, id string) (*models.EncryptedFile, error)
	Confirm(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
	ListConfirmed(ctx context.Context, userID, keyID string) ([]*models.EncryptedFile, error)
	ListPendingBefore(ctx context.Context, before time.Time) ([]*models.EncryptedFile, error)
}
