// Package keyhandles persists sealed relationship keys in the client's
// SQLite database. Rows hold ciphertext only; sealing and opening belong
// to the keystore package.
package keyhandles

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/clinicvault/internal/common"
	"github.com/dmitrijs2005/clinicvault/internal/dbx"
)

// Row is one cached key as stored on disk.
type Row struct {
	UserID    string
	KeyID     string
	DoctorID  string
	PatientID string
	SealedKey []byte
	Nonce     []byte
	StoredAt  time.Time
}

type Repository interface {
	Upsert(ctx context.Context, r *Row) error
	Get(ctx context.Context, userID, keyID string) (*Row, error)
	ListByUser(ctx context.Context, userID string) ([]*Row, error)
	Exists(ctx context.Context, userID string) (bool, error)
	Delete(ctx context.Context, userID, keyID string) error
	DeleteByUser(ctx context.Context, userID string) error
}

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Upsert(ctx context.Context, row *Row) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO key_handles (user_id, key_id, doctor_id, patient_id, sealed_key, nonce, stored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, key_id) DO UPDATE SET
			doctor_id  = excluded.doctor_id,
			patient_id = excluded.patient_id,
			sealed_key = excluded.sealed_key,
			nonce      = excluded.nonce,
			stored_at  = excluded.stored_at
	`, row.UserID, row.KeyID, row.DoctorID, row.PatientID, row.SealedKey, row.Nonce, row.StoredAt)
	if err != nil {
		return fmt.Errorf("upsert key handle %s: %w", row.KeyID, err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, userID, keyID string) (*Row, error) {
	row := &Row{}
	err := r.db.QueryRowContext(ctx, `
		SELECT user_id, key_id, doctor_id, patient_id, sealed_key, nonce, stored_at
		FROM key_handles WHERE user_id = ? AND key_id = ?
	`, userID, keyID).Scan(&row.UserID, &row.KeyID, &row.DoctorID, &row.PatientID, &row.SealedKey, &row.Nonce, &row.StoredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get key handle %s: %w", keyID, err)
	}
	return row, nil
}

func (r *SQLiteRepository) ListByUser(ctx context.Context, userID string) ([]*Row, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id, key_id, doctor_id, patient_id, sealed_key, nonce, stored_at
		FROM key_handles WHERE user_id = ? ORDER BY stored_at, key_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list key handles: %w", err)
	}
	defer rows.Close()

	var out []*Row
	for rows.Next() {
		row := &Row{}
		if err := rows.Scan(&row.UserID, &row.KeyID, &row.DoctorID, &row.PatientID, &row.SealedKey, &row.Nonce, &row.StoredAt); err != nil {
			return nil, fmt.Errorf("scan key handle: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate key handles: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) Exists(ctx context.Context, userID string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM key_handles WHERE user_id = ?`, userID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count key handles: %w", err)
	}
	return n > 0, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, userID, keyID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM key_handles WHERE user_id = ? AND key_id = ?`, userID, keyID); err != nil {
		return fmt.Errorf("delete key handle %s: %w", keyID, err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteByUser(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM key_handles WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete key handles: %w", err)
	}
	return nil
}
