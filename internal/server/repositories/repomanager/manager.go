package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/clinicvault/internal/dbx"
	"github.com/dmitrijs2005/clinicvault/internal/server/repositories/audit"
	"github.com/dmitrijs2005/clinicvault/internal/server/repositories/files"
	"github.com/dmitrijs2005/clinicvault/internal/server/repositories/keys"
)

// RepositoryManager is what the key and file services depend on: each
// accessor binds a repository to the pool or to an open transaction.
type RepositoryManager interface {
	WaitReady(context.Context, *sql.DB) error
	RunMigrations(context.Context, *sql.DB) error
	Keys(db dbx.DBTX) keys.Repository
	Files(db dbx.DBTX) files.Repository
	Audit(db dbx.DBTX) audit.Repository
}
