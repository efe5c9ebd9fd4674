package audit

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/clinicvault/internal/dbx"
	"github.com/dmitrijs2005/clinicvault/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Insert(ctx context.Context, e *models.AuditEvent) error {
	query :=
		`INSERT INTO audit_events (id, action, actor, target, result, detail, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 `

	if _, err := r.db.ExecContext(ctx, query, e.ID, e.Action, e.Actor, e.Target, e.Result, e.Detail, e.Timestamp); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// ListByTarget returns the events for one key or file id, oldest first.
func (r *PostgresRepository) ListByTarget(ctx context.Context, target string) ([]*models.AuditEvent, error) {
	query := `SELECT id, action, actor, target, result, detail, created_at FROM audit_events
		WHERE target = $1 ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, query, target)
	if err != nil {
		return nil, fmt.Errorf("failed to select audit events: %w", err)
	}
	defer rows.Close()

	var result []*models.AuditEvent
	for rows.Next() {
		var e models.AuditEvent
		if err := rows.Scan(&e.ID, &e.Action, &e.Actor, &e.Target, &e.Result, &e.Detail, &e.Timestamp); err != nil {
			return nil, err
		}
		result = append(result, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
