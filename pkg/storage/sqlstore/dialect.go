package sqlstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Dialect selects the SQL driver and its quirks
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite3"
)

// ParseDialect accepts the driver names used in configuration
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "postgres", "postgresql", "pq":
		return DialectPostgres, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	}
	return "", fmt.Errorf("unsupported database driver %q", s)
}

// DriverName is the database/sql driver registered for the dialect
func (d Dialect) DriverName() string {
	return string(d)
}

// gooseDialect is the dialect name understood by goose.SetDialect
func (d Dialect) gooseDialect() string {
	if d == DialectSQLite {
		return "sqlite3"
	}
	return "postgres"
}

// lockSuffix is appended to row reads made inside a transaction
func (d Dialect) lockSuffix(inTx bool) string {
	if inTx && d == DialectPostgres {
		return " FOR UPDATE"
	}
	return ""
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) {
		return sqErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23503"
	}
	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) {
		return sqErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	return false
}
