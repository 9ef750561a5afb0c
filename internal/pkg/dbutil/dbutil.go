package dbutil

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// Finalize rewrites gendry's "?" placeholders for the target dialect.
func Finalize(dialect string, query string, args []interface{}) (string, []interface{}) {
	if dialect == DialectPostgres {
		return sqlx.Rebind(sqlx.DOLLAR, query), args
	}
	return query, args
}

// IsConflict reports a unique or primary key violation from any of the
// supported drivers.
func IsConflict(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY || liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}
