package gormx

import (
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgconn"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/whitekid/goxp/fx"
	"github.com/whitekid/goxp/log"
)

// Constraint kind of integrity constraint
type Constraint int

const (
	UniqueConstraint Constraint = iota + 1
	ForeignKeyConstraint
	CheckConstraint
)

func (c Constraint) String() string {
	switch c {
	case UniqueConstraint:
		return "UNIQUE"
	case ForeignKeyConstraint:
		return "FOREIGN KEY"
	case CheckConstraint:
		return "CHECK"
	}
	return "UNKNOWN"
}

// ConstraintError driver error classified by the constraint it violated.
// errors.Is matches any ConstraintError of the same Constraint.
type ConstraintError struct {
	Constraint Constraint
	Err        error
}

func (e *ConstraintError) Error() string {
	if e.Err == nil {
		return e.Constraint.String() + " constraint failed"
	}
	return e.Constraint.String() + " constraint failed: " + e.Err.Error()
}

func (e *ConstraintError) Unwrap() error { return e.Err }

func (e *ConstraintError) Is(target error) bool {
	t, ok := target.(*ConstraintError)
	return ok && t.Constraint == e.Constraint
}

var (
	ErrUniqueConstraintFailed     error = &ConstraintError{Constraint: UniqueConstraint}
	ErrForeignKeyConstraintFailed error = &ConstraintError{Constraint: ForeignKeyConstraint}
	ErrCheckConstraintFailed      error = &ConstraintError{Constraint: CheckConstraint}
)

type constraintCode struct {
	constraint Constraint
	sqlite     sqlite3.ErrNoExtended
	mysql      uint16
	pg         string
}

// driver codes, https://www.postgresql.org/docs/11/errcodes-appendix.html for postgresql
var constraintCodes = []constraintCode{
	{UniqueConstraint, sqlite3.ErrConstraintUnique, 1062, "23505"},
	{UniqueConstraint, sqlite3.ErrConstraintPrimaryKey, 1062, "23505"},
	{ForeignKeyConstraint, sqlite3.ErrConstraintForeignKey, 1452, "23503"},
	{CheckConstraint, sqlite3.ErrConstraintCheck, 3819, "23514"},
}

func lookupConstraint(match func(constraintCode) bool) (Constraint, bool) {
	code, ok := fx.Find(constraintCodes, match)
	return code.constraint, ok
}

// ConvertSQLError classify constraint violations of the underlying sql driver as *ConstraintError;
// other errors are returned as is
func ConvertSQLError(err error) error {
	if err == nil {
		return nil
	}

	var (
		constraint Constraint
		found      bool
		se         sqlite3.Error
		me         *mysql.MySQLError
		pe         *pgconn.PgError
	)

	switch {
	case errors.As(err, &se):
		constraint, found = lookupConstraint(func(c constraintCode) bool {
			return c.sqlite == se.ExtendedCode
		})
		if !found {
			log.Debugf("unhandled sqlite error: code=%d, extcode=%d", se.Code, se.ExtendedCode)
		}

	case errors.As(err, &me):
		constraint, found = lookupConstraint(func(c constraintCode) bool {
			return c.mysql == me.Number
		})
		if !found {
			log.Debugf("unhandled mysql error: code=%d, message=%s", me.Number, me.Message)
		}

	case errors.As(err, &pe):
		constraint, found = lookupConstraint(func(c constraintCode) bool {
			return c.pg == pe.Code
		})
		if !found {
			log.Debugf("unhandled postgresql error: code=%s, detail=%s", pe.Code, pe.Detail)
		}
	}

	if !found {
		return err
	}

	return &ConstraintError{Constraint: constraint, Err: err}
}
