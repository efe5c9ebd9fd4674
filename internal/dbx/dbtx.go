// Package dbx holds the transaction plumbing shared by the server key
// repositories and the client key store.
package dbx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sethvargo/go-retry"
)

// DBTX is implemented by both *sql.DB and *sql.Tx, so a repository can be
// bound to either.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx runs fn inside one transaction. It commits when fn returns nil and
// rolls back when fn fails or panics; a panic is re-raised after rollback.
func WithTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if cerr := tx.Commit(); cerr != nil {
			err = fmt.Errorf("commit tx: %w", cerr)
		}
	}()

	return fn(ctx, tx)
}

// Conflict retry defaults. Key rows are locked with SELECT ... FOR UPDATE,
// so two rotations of the same pair can deadlock and one gets aborted.
const (
	DefaultConflictAttempts = 3
	DefaultConflictBackoff  = 20 * time.Millisecond
)

// WithTxRetry is WithTx that replays the whole transaction when the
// database aborted it because of a lock conflict. fn must be safe to run
// more than once; any state it captures should be reset at its start.
func WithTxRetry(ctx context.Context, db *sql.DB, opts *sql.TxOptions, attempts uint64, fn func(ctx context.Context, tx DBTX) error) error {
	if attempts == 0 {
		attempts = DefaultConflictAttempts
	}
	b := retry.WithMaxRetries(attempts-1, retry.NewExponential(DefaultConflictBackoff))

	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := WithTx(ctx, db, opts, fn)
		if IsConflict(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// Postgres SQLSTATE codes for transactions aborted by the server.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// SQLite primary result codes for a locked database file, as reported by
// the Code method of modernc's *sqlite.Error.
const (
	sqliteBusy   = 5
	sqliteLocked = 6
)

// IsConflict reports whether err is a transient lock conflict that a fresh
// transaction may not hit again.
func IsConflict(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
	}

	var liteErr interface{ Code() int }
	if errors.As(err, &liteErr) {
		switch liteErr.Code() & 0xff {
		case sqliteBusy, sqliteLocked:
			return true
		}
	}
	return false
}
