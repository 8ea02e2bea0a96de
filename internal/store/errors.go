package store

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/lib/pq"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConstraint is returned when a write violates a foreign key or check constraint.
var ErrConstraint = errors.New("constraint violation")

// ErrDuplicate is returned when a write violates a unique constraint.
var ErrDuplicate = errors.New("duplicate record")

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
	pqCheckViolation      = "23514"
	pqNotNullViolation    = "23502"
	pqConnectionClass     = "08"
)

// classify wraps driver errors that callers need to tell apart.
func classify(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case pqUniqueViolation:
		return fmt.Errorf("%w: %s", ErrDuplicate, pqErr.Constraint)
	case pqForeignKeyViolation, pqCheckViolation, pqNotNullViolation:
		return fmt.Errorf("%w: %s: %w", ErrConstraint, pqErr.Constraint, err)
	}
	return err
}

// isTransient reports whether err is a connectivity failure worth one retry.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code.Class() == pqConnectionClass
	}
	var netErr *net.OpError
	return errors.As(err, &netErr)
}
