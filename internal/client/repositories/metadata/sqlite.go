package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/clinicvault/internal/common"
	"github.com/dmitrijs2005/clinicvault/internal/dbx"
)

const (
	keySalt     = "keystore_salt"
	keyVerifier = "keystore_verifier"
)

const (
	selectValue = `SELECT value FROM metadata WHERE key = ?`
	upsertValue = `INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	insertValue = `INSERT INTO metadata (key, value) VALUES (?, ?)`
	deleteValue = `DELETE FROM metadata WHERE key = ?`
	selectPair  = `SELECT key, value FROM metadata WHERE key IN (?, ?)`
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Get returns common.ErrorNotFound when the key has never been set.
func (r *SQLiteRepository) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := r.db.QueryRowContext(ctx, selectValue, key).Scan(&value)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, common.ErrorNotFound
	case err != nil:
		return nil, fmt.Errorf("metadata get %q: %w", key, err)
	}
	return value, nil
}

func (r *SQLiteRepository) Set(ctx context.Context, key string, value []byte) error {
	if _, err := r.db.ExecContext(ctx, upsertValue, key, value); err != nil {
		return fmt.Errorf("metadata set %q: %w", key, err)
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, deleteValue, key); err != nil {
		return fmt.Errorf("metadata delete %q: %w", key, err)
	}
	return nil
}

// LoadUnlock reads the salt and verifier in one query. A database holding
// only one of them is reported as corrupt rather than fresh.
func (r *SQLiteRepository) LoadUnlock(ctx context.Context) (*Unlock, error) {
	rows, err := r.db.QueryContext(ctx, selectPair, keySalt, keyVerifier)
	if err != nil {
		return nil, fmt.Errorf("metadata unlock: %w", err)
	}
	defer rows.Close()

	u := &Unlock{}
	for rows.Next() {
		var (
			k string
			v []byte
		)
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("metadata unlock: %w", err)
		}
		switch k {
		case keySalt:
			u.Salt = v
		case keyVerifier:
			u.Verifier = v
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("metadata unlock: %w", err)
	}

	switch {
	case u.Salt == nil && u.Verifier == nil:
		return nil, common.ErrorNotFound
	case u.Salt == nil || u.Verifier == nil:
		return nil, fmt.Errorf("%w: key store unlock data is incomplete", common.ErrorInternal)
	}
	return u, nil
}

func (r *SQLiteRepository) InitUnlock(ctx context.Context, u Unlock) error {
	if len(u.Salt) == 0 || len(u.Verifier) == 0 {
		return fmt.Errorf("%w: empty unlock data", common.ErrorValidation)
	}
	if _, err := r.db.ExecContext(ctx, insertValue, keySalt, u.Salt); err != nil {
		return fmt.Errorf("metadata init salt: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, insertValue, keyVerifier, u.Verifier); err != nil {
		return fmt.Errorf("metadata init verifier: %w", err)
	}
	return nil
}
