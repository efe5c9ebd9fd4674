package files

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/clinicvault/internal/common"
	"github.com/dmitrijs2005/clinicvault/internal/dbx"
	"github.com/dmitrijs2005/clinicvault/internal/server/models"
)

const selectColumns = `id, owner_id, recipient_id, key_id, name, storage_key, iv, auth_tag, algorithm, size,
		upload_state, created_at, confirmed_at`

// PostgresRepository implements file storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(row rowScanner) (*models.EncryptedFile, error) {
	var f models.EncryptedFile
	err := row.Scan(&f.ID, &f.OwnerID, &f.RecipientID, &f.KeyID, &f.Name, &f.StorageKey, &f.IV, &f.AuthTag,
		&f.Algorithm, &f.Size, &f.UploadState, &f.CreatedAt, &f.ConfirmedAt)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// Create inserts a new file row, normally in the pending state.
func (r *PostgresRepository) Create(ctx context.Context, f *models.EncryptedFile) error {
	query := `
		INSERT INTO files (id, owner_id, recipient_id, key_id, name, storage_key, iv, auth_tag, algorithm, size,
			upload_state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.db.ExecContext(ctx, query, f.ID, f.OwnerID, f.RecipientID, f.KeyID, f.Name, f.StorageKey,
		f.IV, f.AuthTag, f.Algorithm, f.Size, f.UploadState, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// GetByID returns the file row or common.ErrorNotFound.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.EncryptedFile, error) {
	query := `SELECT ` + selectColumns + ` FROM files WHERE id = $1`

	f, err := scanFile(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("failed to select file: %w", err)
	}
	return f, nil
}

// Confirm moves a pending file to confirmed. It returns common.ErrorNotFound
// when no pending row with that id exists.
func (r *PostgresRepository) Confirm(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE files SET upload_state = 'confirmed', confirmed_at = $2 WHERE id = $1 AND upload_state = 'pending'`
	result, err := r.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("failed to confirm file: %w", err)
	}
	ra, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra != 1 {
		return common.ErrorNotFound
	}
	return nil
}

// Delete removes the row. Exactly one row must be affected.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM files WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	ra, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra != 1 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*models.EncryptedFile, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select files: %w", err)
	}
	defer rows.Close()

	var result []*models.EncryptedFile
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ListConfirmed returns confirmed files visible to userID (as owner or
// recipient), optionally narrowed to one key.
func (r *PostgresRepository) ListConfirmed(ctx context.Context, userID, keyID string) ([]*models.EncryptedFile, error) {
	query := `SELECT ` + selectColumns + ` FROM files
		WHERE (lower(owner_id) = lower($1) OR lower(recipient_id) = lower($1)) AND upload_state = 'confirmed' AND ($2 = '' OR key_id = $2)
		ORDER BY created_at`
	return r.list(ctx, query, userID, keyID)
}

// ListPendingBefore returns pending files created before the cutoff.
func (r *PostgresRepository) ListPendingBefore(ctx context.Context, before time.Time) ([]*models.EncryptedFile, error) {
	query := `SELECT ` + selectColumns + ` FROM files WHERE upload_state = 'pending' AND created_at < $1`
	return r.list(ctx, query, before)
}
