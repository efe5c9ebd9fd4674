// Package keys persists relationship keys and their pairing state.
package keys

import (
	"context"
	"time"

	"github.com/dmitrijs2005/clinicvault/internal/keys"
	"github.com/dmitrijs2005/clinicvault/internal/server/models"
)

// Repository is the storage contract for relationship keys.
//
// Lookups return common.ErrorNotFound when no row matches. Create returns
// common.ErrDuplicatePairing when the pair already has an active key.
type Repository interface {
	Create(ctx context.Context, k *models.RelationshipKey) error
	GetByID(ctx context.Context, id string) (*models.RelationshipKey, error)
	GetByIDForUpdate(ctx context.Context, id string) (*models.RelationshipKey, error)
	FindActive(ctx context.Context, doctorID, patientID string) (*models.RelationshipKey, error)
	ListUnverifiedByDoctor(ctx context.Context, doctorID string) ([]*models.RelationshipKey, error)
	ListConnections(ctx context.Context, userID string) ([]*models.RelationshipKey, error)
	UpdateStatus(ctx context.Context, id string, status keys.Status, graceUntil *time.Time) error
	MarkVerified(ctx context.Context, id string, at time.Time) error
	IncrementPinAttempts(ctx context.Context, id string) (int, error)
	Delete(ctx context.Context, id string) error
	ExpireActive(ctx context.Context, now time.Time, graceUntil time.Time) ([]*models.RelationshipKey, error)
	RevokePastGrace(ctx context.Context, now time.Time) ([]string, error)
}
