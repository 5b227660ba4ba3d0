package common

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound    = errors.New("requested resource not found")
	ErrConflict    = errors.New("resource conflict")
	ErrInvariant   = errors.New("unexpected state")
	ErrUnavailable = errors.New("service unavailable")
)

// Postgres error classes we care about.
const (
	pgUniqueViolation       = "23505"
	pgSerializationFailure  = "40001"
	pgDeadlockDetected      = "40P01"
	pgClassConnectionErrors = "08"
)

// Errorf creates a new error with formatting, useful for wrapping.
func Errorf(format string, args ...any) error {
	return fmt.Errorf(format, args...)
}

// MapPgError translates driver errors into the sentinels above where possible.
func MapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("%s: %w", pgErr.ConstraintName, ErrConflict)
	}
	return err
}

// IsTransient reports whether retrying the same operation later may succeed.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgSerializationFailure, pgErr.Code == pgDeadlockDetected:
			return true
		case len(pgErr.Code) >= 2 && pgErr.Code[:2] == pgClassConnectionErrors:
			return true
		}
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
