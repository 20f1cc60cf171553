package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/securedocs/internal/dbx"
	"github.com/dmitrijs2005/securedocs/internal/server/repositories/files"
	"github.com/dmitrijs2005/securedocs/internal/server/repositories/users"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Files(db dbx.DBTX) files.Repository
}
