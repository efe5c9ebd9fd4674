// Package audit persists audit events.
package audit

import (
	"context"

	"github.com/dmitrijs2005/clinicvault/internal/server/models"
)

type Repository interface {
	Insert(ctx context.Context, e *models.AuditEvent) error
	ListByTarget(ctx context.Context, target string) ([]*models.AuditEvent, error)
}
