package target

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
)

// Reason classifies a failed target statement.
type Reason string

const (
	ForeignKey    Reason = "foreign_key"
	Unique        Reason = "unique"
	Check         Reason = "check"
	NotNull       Reason = "not_null"
	AlreadyExists Reason = "already_exists"
	Other         Reason = "other"
)

// PostgreSQL SQLSTATE codes.
const (
	pgNotNull         = "23502"
	pgForeignKey      = "23503"
	pgUnique          = "23505"
	pgCheck           = "23514"
	pgDuplicateSchema = "42P06"
	pgDuplicateTable  = "42P07"
	pgDuplicateObject = "42710"
)

// Classify maps a driver error to a Reason. It understands gorm's translated
// errors, PostgreSQL SQLSTATEs and SQLite extended result codes.
func Classify(err error) Reason {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		return ForeignKey
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return Unique
	case errors.Is(err, gorm.ErrCheckConstraintViolated):
		return Check
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgForeignKey:
			return ForeignKey
		case pgUnique:
			return Unique
		case pgCheck:
			return Check
		case pgNotNull:
			return NotNull
		case pgDuplicateTable, pgDuplicateObject, pgDuplicateSchema:
			return AlreadyExists
		}
		return Other
	}

	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) {
		switch sqErr.ExtendedCode {
		case sqlite3.ErrConstraintForeignKey:
			return ForeignKey
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return Unique
		case sqlite3.ErrConstraintCheck:
			return Check
		case sqlite3.ErrConstraintNotNull:
			return NotNull
		}
	}

	if strings.Contains(strings.ToLower(err.Error()), "already exists") {
		return AlreadyExists
	}
	return Other
}
