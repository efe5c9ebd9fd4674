package keys

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/clinicvault/internal/common"
	"github.com/dmitrijs2005/clinicvault/internal/dbx"
	"github.com/dmitrijs2005/clinicvault/internal/keys"
	"github.com/dmitrijs2005/clinicvault/internal/server/models"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

const selectColumns = `id, doctor_id, patient_id, status, wrapped_key, created_at, expires_at, grace_until,
		pairing_token_hash, pin_hash, pin_salt, pin_attempts, verified_at`

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKey(row rowScanner) (*models.RelationshipKey, error) {
	var (
		k      models.RelationshipKey
		status string
	)
	err := row.Scan(&k.ID, &k.DoctorID, &k.PatientID, &status, &k.WrappedKey, &k.CreatedAt, &k.ExpiresAt, &k.GraceUntil,
		&k.PairingTokenHash, &k.PinHash, &k.PinSalt, &k.PinAttempts, &k.VerifiedAt)
	if err != nil {
		return nil, err
	}
	k.Status = keys.Status(status)
	return &k, nil
}

func (r *PostgresRepository) Create(ctx context.Context, k *models.RelationshipKey) error {
	query :=
		`INSERT INTO relationship_keys (id, doctor_id, patient_id, status, wrapped_key, created_at, expires_at,
			pairing_token_hash, pin_hash, pin_salt)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 `

	_, err := r.db.ExecContext(ctx, query, k.ID, k.DoctorID, k.PatientID, string(k.Status), k.WrappedKey, k.CreatedAt,
		k.ExpiresAt, k.PairingTokenHash, k.PinHash, k.PinSalt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return common.ErrDuplicatePairing
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, args ...any) (*models.RelationshipKey, error) {
	k, err := scanKey(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return k, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.RelationshipKey, error) {
	return r.getOne(ctx, `SELECT `+selectColumns+` FROM relationship_keys WHERE id = $1`, id)
}

// GetByIDForUpdate locks the row; only meaningful inside a transaction.
func (r *PostgresRepository) GetByIDForUpdate(ctx context.Context, id string) (*models.RelationshipKey, error) {
	return r.getOne(ctx, `SELECT `+selectColumns+` FROM relationship_keys WHERE id = $1 FOR UPDATE`, id)
}

func (r *PostgresRepository) FindActive(ctx context.Context, doctorID, patientID string) (*models.RelationshipKey, error) {
	return r.getOne(ctx, `SELECT `+selectColumns+` FROM relationship_keys
		WHERE lower(doctor_id) = lower($1) AND lower(patient_id) = lower($2) AND status = 'active'`, doctorID, patientID)
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*models.RelationshipKey, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select keys: %w", err)
	}
	defer rows.Close()

	var result []*models.RelationshipKey
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, k)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ListUnverifiedByDoctor returns active pairings the doctor has not yet
// confirmed. Used to resolve payloads that carry no key id.
func (r *PostgresRepository) ListUnverifiedByDoctor(ctx context.Context, doctorID string) ([]*models.RelationshipKey, error) {
	return r.list(ctx, `SELECT `+selectColumns+` FROM relationship_keys
		WHERE lower(doctor_id) = lower($1) AND status = 'active' AND verified_at IS NULL
		ORDER BY created_at`, doctorID)
}

// ListConnections returns verified keys where userID is either party.
func (r *PostgresRepository) ListConnections(ctx context.Context, userID string) ([]*models.RelationshipKey, error) {
	return r.list(ctx, `SELECT `+selectColumns+` FROM relationship_keys
		WHERE (lower(doctor_id) = lower($1) OR lower(patient_id) = lower($1)) AND verified_at IS NOT NULL
		ORDER BY created_at`, userID)
}

func (r *PostgresRepository) execOne(ctx context.Context, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return common.ErrDuplicatePairing
		}
		return fmt.Errorf("db error: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, id string, status keys.Status, graceUntil *time.Time) error {
	return r.execOne(ctx, `UPDATE relationship_keys SET status = $2, grace_until = $3 WHERE id = $1`,
		id, string(status), graceUntil)
}

// MarkVerified records pairing completion and clears the one-time pairing secrets.
func (r *PostgresRepository) MarkVerified(ctx context.Context, id string, at time.Time) error {
	return r.execOne(ctx, `UPDATE relationship_keys
		SET verified_at = $2, pairing_token_hash = NULL, pin_hash = NULL, pin_salt = NULL
		WHERE id = $1`, id, at)
}

func (r *PostgresRepository) IncrementPinAttempts(ctx context.Context, id string) (int, error) {
	query := `UPDATE relationship_keys SET pin_attempts = pin_attempts + 1 WHERE id = $1 RETURNING pin_attempts`

	var attempts int
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&attempts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, common.ErrorNotFound
		}
		return 0, fmt.Errorf("db error: %w", err)
	}
	return attempts, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	return r.execOne(ctx, `DELETE FROM relationship_keys WHERE id = $1`, id)
}

// ExpireActive moves active keys whose expiry has passed to inactive and
// returns the affected rows.
func (r *PostgresRepository) ExpireActive(ctx context.Context, now time.Time, graceUntil time.Time) ([]*models.RelationshipKey, error) {
	return r.list(ctx, `UPDATE relationship_keys SET status = 'inactive', grace_until = $2
		WHERE status = 'active' AND expires_at IS NOT NULL AND expires_at <= $1
		RETURNING `+selectColumns, now, graceUntil)
}

// RevokePastGrace revokes inactive keys whose grace window ended (or never
// had one) and returns their ids.
func (r *PostgresRepository) RevokePastGrace(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `UPDATE relationship_keys SET status = 'revoked'
		WHERE status = 'inactive' AND (grace_until IS NULL OR grace_until <= $1)
		RETURNING id`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to revoke keys: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}
