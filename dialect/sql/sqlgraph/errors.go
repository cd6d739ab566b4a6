package sqlgraph

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"modernc.org/sqlite"

	"github.com/syssam/strata"
)

// IsConstraintError returns true if the error resulted from a database constraint violation.
func IsConstraintError(err error) bool {
	return strata.IsConstraintError(err) ||
		IsUniqueConstraintError(err) ||
		IsForeignKeyConstraintError(err) ||
		IsNotNullConstraintError(err) ||
		IsCheckConstraintError(err)
}

// Classify wraps err in a strata.ConstraintError when it is a constraint
// violation reported by one of the supported drivers. Other errors are
// returned unchanged.
func Classify(err error) error {
	if err == nil || strata.IsConstraintError(err) {
		return err
	}
	switch {
	case IsUniqueConstraintError(err):
		return strata.NewConstraintError("unique constraint violated", err)
	case IsForeignKeyConstraintError(err):
		return strata.NewConstraintError("foreign key constraint violated", err)
	case IsNotNullConstraintError(err):
		return strata.NewConstraintError("not null constraint violated", err)
	case IsCheckConstraintError(err):
		return strata.NewConstraintError("check constraint violated", err)
	}
	return err
}

// errorCoder is an interface for database errors that provide error codes.
type errorCoder interface {
	Code() string
}

// errorNumberer is an interface for database errors that provide numeric error codes.
type errorNumberer interface {
	Number() uint16
}

// sqlStateError is an interface for errors that provide SQLSTATE codes.
// Implemented by: pgconn.PgError and some wrappers.
type sqlStateError interface {
	SQLState() string
}

// PostgreSQL SQLSTATE codes for constraint violations (Class 23).
const (
	pgNotNullViolation    = "23502"
	pgForeignKeyViolation = "23503"
	pgUniqueViolation     = "23505"
	pgCheckViolation      = "23514"
)

// MySQL error numbers for constraint violations.
const (
	mysqlBadNull                = 1048
	mysqlDuplicateEntry         = 1062
	mysqlForeignKeyParent       = 1451 // Cannot delete or update a parent row
	mysqlForeignKeyChild        = 1452 // Cannot add or update a child row
	mysqlCheckConstraintViolate = 3819
)

// SQLite extended result codes (SQLITE_CONSTRAINT_*).
const (
	sqliteCheck      = 275
	sqliteForeignKey = 787
	sqliteNotNull    = 1299
	sqlitePrimaryKey = 1555
	sqliteUnique     = 2067
)

// violation is a driver independent description of a constraint error.
type violation struct {
	state  string // SQLSTATE
	number uint16 // MySQL error number
	sqlite int    // SQLite extended code
}

// inspect extracts the codes of the first known driver error in the chain.
func inspect(err error) (violation, bool) {
	var (
		pgErr  *pgconn.PgError
		pqErr  *pq.Error
		myErr  *mysql.MySQLError
		litErr *sqlite.Error
	)
	switch {
	case errors.As(err, &pgErr):
		return violation{state: pgErr.Code}, true
	case errors.As(err, &pqErr):
		return violation{state: string(pqErr.Code)}, true
	case errors.As(err, &myErr):
		return violation{number: myErr.Number, state: string(myErr.SQLState[:])}, true
	case errors.As(err, &litErr):
		return violation{sqlite: litErr.Code()}, true
	}
	if e, ok := asError[sqlStateError](err); ok {
		return violation{state: e.SQLState()}, true
	}
	if e, ok := asError[errorCoder](err); ok {
		return violation{state: e.Code()}, true
	}
	if e, ok := asError[errorNumberer](err); ok {
		return violation{number: e.Number()}, true
	}
	return violation{}, false
}

// IsUniqueConstraintError reports if the error resulted from a DB uniqueness constraint violation.
// e.g. duplicate value in unique index.
func IsUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if v, ok := inspect(err); ok {
		if v.state == pgUniqueViolation || v.number == mysqlDuplicateEntry ||
			v.sqlite == sqliteUnique || v.sqlite == sqlitePrimaryKey {
			return true
		}
	}
	// Fallback to string matching for drivers that don't expose codes.
	return containsAny(err.Error(),
		"Error 1062",                 // MySQL
		"violates unique constraint", // Postgres
		"UNIQUE constraint failed",   // SQLite
	)
}

// IsForeignKeyConstraintError reports if the error resulted from a database foreign-key constraint violation.
// e.g. parent row does not exist.
func IsForeignKeyConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if v, ok := inspect(err); ok {
		if v.state == pgForeignKeyViolation || v.number == mysqlForeignKeyParent ||
			v.number == mysqlForeignKeyChild || v.sqlite == sqliteForeignKey {
			return true
		}
	}
	return containsAny(err.Error(),
		"Error 1451",                      // MySQL (Cannot delete or update a parent row)
		"Error 1452",                      // MySQL (Cannot add or update a child row)
		"violates foreign key constraint", // Postgres
		"FOREIGN KEY constraint failed",   // SQLite
	)
}

// IsNotNullConstraintError reports if the error resulted from inserting or
// updating NULL into a NOT NULL column.
func IsNotNullConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if v, ok := inspect(err); ok {
		if v.state == pgNotNullViolation || v.number == mysqlBadNull || v.sqlite == sqliteNotNull {
			return true
		}
	}
	return containsAny(err.Error(),
		"Error 1048",                   // MySQL
		"violates not-null constraint", // Postgres
		"NOT NULL constraint failed",   // SQLite
	)
}

// IsCheckConstraintError reports if the error resulted from a database check constraint violation.
// e.g. a value does not satisfy a check condition.
func IsCheckConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if v, ok := inspect(err); ok {
		if v.state == pgCheckViolation || v.number == mysqlCheckConstraintViolate || v.sqlite == sqliteCheck {
			return true
		}
	}
	return containsAny(err.Error(),
		"Error 3819",                // MySQL
		"violates check constraint", // Postgres
		"CHECK constraint failed",   // SQLite
	)
}

// asError attempts to extract an error implementing interface T from the error chain.
func asError[T any](err error) (T, bool) {
	var target T
	for err != nil {
		if e, ok := err.(T); ok {
			return e, true
		}
		err = errors.Unwrap(err)
	}
	return target, false
}

// containsAny returns true if s contains any of the substrings.
func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
